package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"storypool/internal/store"
)

const chapterColumns = `id, story_id, chapter_number, content, absurdity, surrealism, ridiculousness, insanity,
	content_levels, latency_ms, tokens_used, created_at`

// CreateChapter inserts ch and adds its tokens to the story total in one
// transaction.
func (c *Client) CreateChapter(ctx context.Context, ch *store.Chapter) error {
	if ch.CreatedAt.IsZero() {
		ch.CreatedAt = time.Now().UTC()
	}
	if ch.ContentLevels == nil {
		ch.ContentLevels = map[string]float64{}
	}
	levels, err := encodeJSON(ch.ContentLevels)
	if err != nil {
		return err
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning chapter insert: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
INSERT INTO chapters (story_id, chapter_number, content, absurdity, surrealism, ridiculousness, insanity,
	content_levels, latency_ms, tokens_used, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		ch.StoryID, ch.ChapterNumber, ch.Content,
		ch.Chaos.Absurdity, ch.Chaos.Surrealism, ch.Chaos.Ridiculousness, ch.Chaos.Insanity,
		levels, ch.LatencyMillis, ch.TokensUsed, formatTime(ch.CreatedAt),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("chapter %d of story %d: %w", ch.ChapterNumber, ch.StoryID, store.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("inserting chapter: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading chapter id: %w", err)
	}
	if ch.TokensUsed != 0 {
		if _, err := tx.ExecContext(ctx, `UPDATE stories SET total_tokens = total_tokens + ? WHERE id = ?`,
			ch.TokensUsed, ch.StoryID); err != nil {
			return fmt.Errorf("adding chapter tokens: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing chapter: %w", err)
	}
	ch.ID = id
	return nil
}

// LastChapter returns nil when the story has no chapters yet.
func (c *Client) LastChapter(ctx context.Context, storyID int64) (*store.Chapter, error) {
	row := c.db.QueryRowContext(ctx, `SELECT `+chapterColumns+` FROM chapters
WHERE story_id = ? ORDER BY chapter_number DESC LIMIT 1`, storyID)
	ch, err := scanChapter(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting last chapter: %w", err)
	}
	return ch, nil
}

// RecentChapters returns up to limit of the latest chapters in ascending order.
func (c *Client) RecentChapters(ctx context.Context, storyID int64, limit int) ([]store.Chapter, error) {
	chapters, err := c.queryChapters(ctx, `SELECT `+chapterColumns+` FROM chapters
WHERE story_id = ? ORDER BY chapter_number DESC LIMIT ?`, storyID, limit)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(chapters)-1; i < j; i, j = i+1, j-1 {
		chapters[i], chapters[j] = chapters[j], chapters[i]
	}
	return chapters, nil
}

func (c *Client) ListChapters(ctx context.Context, storyID int64) ([]store.Chapter, error) {
	return c.queryChapters(ctx, `SELECT `+chapterColumns+` FROM chapters
WHERE story_id = ? ORDER BY chapter_number`, storyID)
}

func (c *Client) queryChapters(ctx context.Context, query string, args ...any) ([]store.Chapter, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing chapters: %w", err)
	}
	defer rows.Close()

	chapters := make([]store.Chapter, 0)
	for rows.Next() {
		ch, err := scanChapter(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning chapter: %w", err)
		}
		chapters = append(chapters, *ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chapters: %w", err)
	}
	return chapters, nil
}

func scanChapter(row rowScanner) (*store.Chapter, error) {
	var (
		ch                store.Chapter
		levels, createdAt string
	)
	err := row.Scan(
		&ch.ID, &ch.StoryID, &ch.ChapterNumber, &ch.Content,
		&ch.Chaos.Absurdity, &ch.Chaos.Surrealism, &ch.Chaos.Ridiculousness, &ch.Chaos.Insanity,
		&levels, &ch.LatencyMillis, &ch.TokensUsed, &createdAt,
	)
	if err != nil {
		return nil, err
	}
	ch.ContentLevels = map[string]float64{}
	if err := decodeJSON(levels, &ch.ContentLevels); err != nil {
		return nil, err
	}
	if ch.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &ch, nil
}

const evaluationColumns = `id, story_id, chapter_number, coherence_score, novelty_score, engagement_score,
	pacing_score, overall_score, should_continue, reasoning, issues, created_at`

func (c *Client) CreateEvaluation(ctx context.Context, e *store.Evaluation) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if e.Issues == nil {
		e.Issues = []string{}
	}
	issues, err := encodeJSON(e.Issues)
	if err != nil {
		return err
	}

	res, err := c.db.ExecContext(ctx, `
INSERT INTO evaluations (story_id, chapter_number, coherence_score, novelty_score, engagement_score,
	pacing_score, overall_score, should_continue, reasoning, issues, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		e.StoryID, e.ChapterNumber, e.CoherenceScore, e.NoveltyScore, e.EngagementScore,
		e.PacingScore, e.OverallScore, boolToInt(e.ShouldContinue), e.Reasoning, issues, formatTime(e.CreatedAt),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("evaluation of chapter %d of story %d: %w", e.ChapterNumber, e.StoryID, store.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("inserting evaluation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading evaluation id: %w", err)
	}
	e.ID = id
	return nil
}

// LastEvaluation returns nil when the story has never been evaluated.
func (c *Client) LastEvaluation(ctx context.Context, storyID int64) (*store.Evaluation, error) {
	row := c.db.QueryRowContext(ctx, `SELECT `+evaluationColumns+` FROM evaluations
WHERE story_id = ? ORDER BY chapter_number DESC LIMIT 1`, storyID)
	e, err := scanEvaluation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting last evaluation: %w", err)
	}
	return e, nil
}

func (c *Client) ListEvaluations(ctx context.Context, storyID int64) ([]store.Evaluation, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT `+evaluationColumns+` FROM evaluations
WHERE story_id = ? ORDER BY chapter_number`, storyID)
	if err != nil {
		return nil, fmt.Errorf("listing evaluations: %w", err)
	}
	defer rows.Close()

	evals := make([]store.Evaluation, 0)
	for rows.Next() {
		e, err := scanEvaluation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning evaluation: %w", err)
		}
		evals = append(evals, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating evaluations: %w", err)
	}
	return evals, nil
}

func scanEvaluation(row rowScanner) (*store.Evaluation, error) {
	var (
		e                 store.Evaluation
		shouldContinue    int
		issues, createdAt string
	)
	err := row.Scan(
		&e.ID, &e.StoryID, &e.ChapterNumber, &e.CoherenceScore, &e.NoveltyScore, &e.EngagementScore,
		&e.PacingScore, &e.OverallScore, &shouldContinue, &e.Reasoning, &issues, &createdAt,
	)
	if err != nil {
		return nil, err
	}
	e.ShouldContinue = shouldContinue != 0
	e.Issues = []string{}
	if err := decodeJSON(issues, &e.Issues); err != nil {
		return nil, err
	}
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &e, nil
}

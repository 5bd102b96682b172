package postgres

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"

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

	tx, err := c.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("beginning chapter insert: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
INSERT INTO chapters (story_id, chapter_number, content, absurdity, surrealism, ridiculousness, insanity,
    content_levels, latency_ms, tokens_used, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
RETURNING id
`,
		ch.StoryID, ch.ChapterNumber, ch.Content,
		ch.Chaos.Absurdity, ch.Chaos.Surrealism, ch.Chaos.Ridiculousness, ch.Chaos.Insanity,
		ch.ContentLevels, ch.LatencyMillis, ch.TokensUsed, ch.CreatedAt,
	).Scan(&ch.ID)
	if isUniqueViolation(err) {
		return fmt.Errorf("chapter %d of story %d: %w", ch.ChapterNumber, ch.StoryID, store.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("inserting chapter: %w", err)
	}
	if ch.TokensUsed != 0 {
		if _, err := tx.Exec(ctx, `UPDATE stories SET total_tokens = total_tokens + $1 WHERE id = $2`,
			ch.TokensUsed, ch.StoryID); err != nil {
			return fmt.Errorf("adding chapter tokens: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing chapter: %w", err)
	}
	return nil
}

func (c *Client) LastChapter(ctx context.Context, storyID int64) (*store.Chapter, error) {
	row := c.pool.QueryRow(ctx, `SELECT `+chapterColumns+` FROM chapters
WHERE story_id = $1 ORDER BY chapter_number DESC LIMIT 1`, storyID)
	ch, err := scanChapter(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting last chapter: %w", err)
	}
	return ch, nil
}

func (c *Client) RecentChapters(ctx context.Context, storyID int64, limit int) ([]store.Chapter, error) {
	chapters, err := c.queryChapters(ctx, `SELECT `+chapterColumns+` FROM chapters
WHERE story_id = $1 ORDER BY chapter_number DESC LIMIT $2`, storyID, limit)
	if err != nil {
		return nil, err
	}
	slices.Reverse(chapters)
	return chapters, nil
}

func (c *Client) ListChapters(ctx context.Context, storyID int64) ([]store.Chapter, error) {
	return c.queryChapters(ctx, `SELECT `+chapterColumns+` FROM chapters
WHERE story_id = $1 ORDER BY chapter_number`, storyID)
}

func (c *Client) queryChapters(ctx context.Context, query string, args ...any) ([]store.Chapter, error) {
	rows, err := c.pool.Query(ctx, query, args...)
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

func scanChapter(row pgx.Row) (*store.Chapter, error) {
	var ch store.Chapter
	err := row.Scan(
		&ch.ID, &ch.StoryID, &ch.ChapterNumber, &ch.Content,
		&ch.Chaos.Absurdity, &ch.Chaos.Surrealism, &ch.Chaos.Ridiculousness, &ch.Chaos.Insanity,
		&ch.ContentLevels, &ch.LatencyMillis, &ch.TokensUsed, &ch.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if ch.ContentLevels == nil {
		ch.ContentLevels = map[string]float64{}
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

	err := c.pool.QueryRow(ctx, `
INSERT INTO evaluations (story_id, chapter_number, coherence_score, novelty_score, engagement_score,
    pacing_score, overall_score, should_continue, reasoning, issues, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
RETURNING id
`,
		e.StoryID, e.ChapterNumber, e.CoherenceScore, e.NoveltyScore, e.EngagementScore,
		e.PacingScore, e.OverallScore, e.ShouldContinue, e.Reasoning, e.Issues, e.CreatedAt,
	).Scan(&e.ID)
	if isUniqueViolation(err) {
		return fmt.Errorf("evaluation of chapter %d of story %d: %w", e.ChapterNumber, e.StoryID, store.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("inserting evaluation: %w", err)
	}
	return nil
}

func (c *Client) LastEvaluation(ctx context.Context, storyID int64) (*store.Evaluation, error) {
	row := c.pool.QueryRow(ctx, `SELECT `+evaluationColumns+` FROM evaluations
WHERE story_id = $1 ORDER BY chapter_number DESC LIMIT 1`, storyID)
	e, err := scanEvaluation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting last evaluation: %w", err)
	}
	return e, nil
}

func (c *Client) ListEvaluations(ctx context.Context, storyID int64) ([]store.Evaluation, error) {
	rows, err := c.pool.Query(ctx, `SELECT `+evaluationColumns+` FROM evaluations
WHERE story_id = $1 ORDER BY chapter_number`, storyID)
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

func scanEvaluation(row pgx.Row) (*store.Evaluation, error) {
	var e store.Evaluation
	err := row.Scan(
		&e.ID, &e.StoryID, &e.ChapterNumber, &e.CoherenceScore, &e.NoveltyScore, &e.EngagementScore,
		&e.PacingScore, &e.OverallScore, &e.ShouldContinue, &e.Reasoning, &e.Issues, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if e.Issues == nil {
		e.Issues = []string{}
	}
	return &e, nil
}

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"storypool/internal/chaos"
	"storypool/internal/store"
)

const storyColumns = `id, title, premise, status, created_at, completed_at, completion_reason,
	absurdity_initial, absurdity_increment, surrealism_initial, surrealism_increment,
	ridiculousness_initial, ridiculousness_increment, insanity_initial, insanity_increment,
	content_settings, total_tokens, tone, genre_tags, style_authors, narrative_perspective, cover_image_url`

func (c *Client) CreateStory(ctx context.Context, s *store.Story) error {
	if s.Status == "" {
		s.Status = store.StatusActive
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	if s.ContentSettings == nil {
		s.ContentSettings = map[string]chaos.ContentSetting{}
	}
	if s.GenreTags == nil {
		s.GenreTags = []string{}
	}
	if s.StyleAuthors == nil {
		s.StyleAuthors = []string{}
	}

	settings, err := encodeJSON(s.ContentSettings)
	if err != nil {
		return err
	}
	tags, err := encodeJSON(s.GenreTags)
	if err != nil {
		return err
	}
	authors, err := encodeJSON(s.StyleAuthors)
	if err != nil {
		return err
	}

	query := `
INSERT INTO stories (title, premise, status, created_at, completed_at, completion_reason,
	absurdity_initial, absurdity_increment, surrealism_initial, surrealism_increment,
	ridiculousness_initial, ridiculousness_increment, insanity_initial, insanity_increment,
	content_settings, total_tokens, tone, genre_tags, style_authors, narrative_perspective, cover_image_url)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`
	res, err := c.db.ExecContext(ctx, query,
		s.Title, s.Premise, string(s.Status), formatTime(s.CreatedAt), nullTime(s.CompletedAt), s.CompletionReason,
		s.Seeds.Absurdity.Initial, s.Seeds.Absurdity.Increment,
		s.Seeds.Surrealism.Initial, s.Seeds.Surrealism.Increment,
		s.Seeds.Ridiculousness.Initial, s.Seeds.Ridiculousness.Increment,
		s.Seeds.Insanity.Initial, s.Seeds.Insanity.Increment,
		settings, s.TotalTokens, s.Tone, tags, authors, s.NarrativePerspective, s.CoverImageURL,
	)
	if err != nil {
		return fmt.Errorf("inserting story: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading story id: %w", err)
	}
	s.ID = id
	return nil
}

func (c *Client) GetStory(ctx context.Context, id int64) (*store.Story, error) {
	row := c.db.QueryRowContext(ctx, `SELECT `+storyColumns+` FROM stories WHERE id = ?`, id)
	s, err := scanStory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("story %d: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting story: %w", err)
	}
	return s, nil
}

// ListStories returns stories newest first. An empty status lists all of them.
func (c *Client) ListStories(ctx context.Context, status store.StoryStatus) ([]store.Story, error) {
	query := `SELECT ` + storyColumns + ` FROM stories`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC, id DESC`

	return c.queryStories(ctx, query, args...)
}

func (c *Client) CountStories(ctx context.Context, status store.StoryStatus) (int, error) {
	query := `SELECT COUNT(*) FROM stories`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	var n int
	if err := c.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting stories: %w", err)
	}
	return n, nil
}

func (c *Client) CompleteStory(ctx context.Context, id int64, status store.StoryStatus, reason string, at time.Time) error {
	if !status.Terminal() {
		return fmt.Errorf("completing story with non-terminal status %q", status)
	}

	res, err := c.db.ExecContext(ctx, `
UPDATE stories SET status = ?, completed_at = ?, completion_reason = ?
WHERE id = ? AND status = 'active'
`, string(status), formatTime(at), reason, id)
	if err != nil {
		return fmt.Errorf("completing story: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading affected rows: %w", err)
	}
	if n > 0 {
		return nil
	}

	if _, err := c.GetStory(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("story %d is not active: %w", id, store.ErrConflict)
}

func (c *Client) DeleteStory(ctx context.Context, id int64) error {
	res, err := c.db.ExecContext(ctx, `DELETE FROM stories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting story: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("story %d: %w", id, store.ErrNotFound)
	}
	return nil
}

func (c *Client) DeleteAllStories(ctx context.Context) (int64, error) {
	res, err := c.db.ExecContext(ctx, `DELETE FROM stories`)
	if err != nil {
		return 0, fmt.Errorf("deleting stories: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading affected rows: %w", err)
	}
	return n, nil
}

func (c *Client) AddStoryTokens(ctx context.Context, id int64, tokens int64) error {
	if _, err := c.db.ExecContext(ctx, `UPDATE stories SET total_tokens = total_tokens + ? WHERE id = ?`, tokens, id); err != nil {
		return fmt.Errorf("adding story tokens: %w", err)
	}
	return nil
}

func (c *Client) SetCoverImage(ctx context.Context, id int64, url string) error {
	res, err := c.db.ExecContext(ctx, `UPDATE stories SET cover_image_url = ? WHERE id = ?`, url, id)
	if err != nil {
		return fmt.Errorf("setting cover image: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("story %d: %w", id, store.ErrNotFound)
	}
	return nil
}

// ListStoriesMissingCover returns finished stories without cover art, oldest
// completion first.
func (c *Client) ListStoriesMissingCover(ctx context.Context, limit int) ([]store.Story, error) {
	query := `SELECT ` + storyColumns + ` FROM stories
WHERE status IN ('completed', 'killed') AND cover_image_url = ''
ORDER BY completed_at, id
LIMIT ?`
	return c.queryStories(ctx, query, limit)
}

func (c *Client) queryStories(ctx context.Context, query string, args ...any) ([]store.Story, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing stories: %w", err)
	}
	defer rows.Close()

	stories := make([]store.Story, 0)
	for rows.Next() {
		s, err := scanStory(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning story: %w", err)
		}
		stories = append(stories, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating stories: %w", err)
	}
	return stories, nil
}

func scanStory(row rowScanner) (*store.Story, error) {
	var (
		s                       store.Story
		status, createdAt       string
		completedAt             sql.NullString
		settings, tags, authors string
	)
	err := row.Scan(
		&s.ID, &s.Title, &s.Premise, &status, &createdAt, &completedAt, &s.CompletionReason,
		&s.Seeds.Absurdity.Initial, &s.Seeds.Absurdity.Increment,
		&s.Seeds.Surrealism.Initial, &s.Seeds.Surrealism.Increment,
		&s.Seeds.Ridiculousness.Initial, &s.Seeds.Ridiculousness.Increment,
		&s.Seeds.Insanity.Initial, &s.Seeds.Insanity.Increment,
		&settings, &s.TotalTokens, &s.Tone, &tags, &authors, &s.NarrativePerspective, &s.CoverImageURL,
	)
	if err != nil {
		return nil, err
	}

	s.Status = store.StoryStatus(status)
	if s.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if s.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return nil, err
	}
	s.ContentSettings = map[string]chaos.ContentSetting{}
	if err := decodeJSON(settings, &s.ContentSettings); err != nil {
		return nil, err
	}
	s.GenreTags = []string{}
	if err := decodeJSON(tags, &s.GenreTags); err != nil {
		return nil, err
	}
	s.StyleAuthors = []string{}
	if err := decodeJSON(authors, &s.StyleAuthors); err != nil {
		return nil, err
	}
	return &s, nil
}

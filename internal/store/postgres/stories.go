package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

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

	query := `
INSERT INTO stories (title, premise, status, created_at, completed_at, completion_reason,
    absurdity_initial, absurdity_increment, surrealism_initial, surrealism_increment,
    ridiculousness_initial, ridiculousness_increment, insanity_initial, insanity_increment,
    content_settings, total_tokens, tone, genre_tags, style_authors, narrative_perspective, cover_image_url)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
RETURNING id
`
	err := c.pool.QueryRow(ctx, query,
		s.Title, s.Premise, string(s.Status), s.CreatedAt, s.CompletedAt, s.CompletionReason,
		s.Seeds.Absurdity.Initial, s.Seeds.Absurdity.Increment,
		s.Seeds.Surrealism.Initial, s.Seeds.Surrealism.Increment,
		s.Seeds.Ridiculousness.Initial, s.Seeds.Ridiculousness.Increment,
		s.Seeds.Insanity.Initial, s.Seeds.Insanity.Increment,
		s.ContentSettings, s.TotalTokens, s.Tone, s.GenreTags, s.StyleAuthors, s.NarrativePerspective, s.CoverImageURL,
	).Scan(&s.ID)
	if err != nil {
		return fmt.Errorf("inserting story: %w", err)
	}
	return nil
}

func (c *Client) GetStory(ctx context.Context, id int64) (*store.Story, error) {
	row := c.pool.QueryRow(ctx, `SELECT `+storyColumns+` FROM stories WHERE id = $1`, id)
	s, err := scanStory(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("story %d: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting story: %w", err)
	}
	return s, nil
}

func (c *Client) ListStories(ctx context.Context, status store.StoryStatus) ([]store.Story, error) {
	query := `SELECT ` + storyColumns + ` FROM stories
WHERE ($1 = '' OR status = $1)
ORDER BY created_at DESC, id DESC`
	return c.queryStories(ctx, query, string(status))
}

func (c *Client) CountStories(ctx context.Context, status store.StoryStatus) (int, error) {
	var n int
	err := c.pool.QueryRow(ctx, `SELECT COUNT(*) FROM stories WHERE ($1 = '' OR status = $1)`, string(status)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting stories: %w", err)
	}
	return n, nil
}

func (c *Client) CompleteStory(ctx context.Context, id int64, status store.StoryStatus, reason string, at time.Time) error {
	if !status.Terminal() {
		return fmt.Errorf("completing story with non-terminal status %q", status)
	}

	tag, err := c.pool.Exec(ctx, `
UPDATE stories SET status = $1, completed_at = $2, completion_reason = $3
WHERE id = $4 AND status = 'active'
`, string(status), at, reason, id)
	if err != nil {
		return fmt.Errorf("completing story: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	if _, err := c.GetStory(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("story %d is not active: %w", id, store.ErrConflict)
}

func (c *Client) DeleteStory(ctx context.Context, id int64) error {
	tag, err := c.pool.Exec(ctx, `DELETE FROM stories WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting story: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("story %d: %w", id, store.ErrNotFound)
	}
	return nil
}

func (c *Client) DeleteAllStories(ctx context.Context) (int64, error) {
	tag, err := c.pool.Exec(ctx, `DELETE FROM stories`)
	if err != nil {
		return 0, fmt.Errorf("deleting stories: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (c *Client) AddStoryTokens(ctx context.Context, id int64, tokens int64) error {
	if _, err := c.pool.Exec(ctx, `UPDATE stories SET total_tokens = total_tokens + $1 WHERE id = $2`, tokens, id); err != nil {
		return fmt.Errorf("adding story tokens: %w", err)
	}
	return nil
}

func (c *Client) SetCoverImage(ctx context.Context, id int64, url string) error {
	tag, err := c.pool.Exec(ctx, `UPDATE stories SET cover_image_url = $1 WHERE id = $2`, url, id)
	if err != nil {
		return fmt.Errorf("setting cover image: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("story %d: %w", id, store.ErrNotFound)
	}
	return nil
}

func (c *Client) ListStoriesMissingCover(ctx context.Context, limit int) ([]store.Story, error) {
	query := `SELECT ` + storyColumns + ` FROM stories
WHERE status <> 'active' AND cover_image_url = ''
ORDER BY completed_at, id
LIMIT $1`
	return c.queryStories(ctx, query, limit)
}

func (c *Client) queryStories(ctx context.Context, query string, args ...any) ([]store.Story, error) {
	rows, err := c.pool.Query(ctx, query, args...)
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

func scanStory(row pgx.Row) (*store.Story, error) {
	var (
		s      store.Story
		status string
	)
	err := row.Scan(
		&s.ID, &s.Title, &s.Premise, &status, &s.CreatedAt, &s.CompletedAt, &s.CompletionReason,
		&s.Seeds.Absurdity.Initial, &s.Seeds.Absurdity.Increment,
		&s.Seeds.Surrealism.Initial, &s.Seeds.Surrealism.Increment,
		&s.Seeds.Ridiculousness.Initial, &s.Seeds.Ridiculousness.Increment,
		&s.Seeds.Insanity.Initial, &s.Seeds.Insanity.Increment,
		&s.ContentSettings, &s.TotalTokens, &s.Tone, &s.GenreTags, &s.StyleAuthors, &s.NarrativePerspective, &s.CoverImageURL,
	)
	if err != nil {
		return nil, err
	}
	s.Status = store.StoryStatus(status)
	if s.ContentSettings == nil {
		s.ContentSettings = map[string]chaos.ContentSetting{}
	}
	return &s, nil
}

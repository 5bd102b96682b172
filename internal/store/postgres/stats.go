package postgres

import (
	"context"
	"fmt"

	"storypool/internal/store"
)

func (c *Client) Stats(ctx context.Context) (*store.Stats, error) {
	var stats store.Stats
	err := c.pool.QueryRow(ctx, `
SELECT
    COUNT(*) FILTER (WHERE status = 'active'),
    COUNT(*) FILTER (WHERE status = 'completed'),
    COUNT(*) FILTER (WHERE status = 'killed'),
    COALESCE(SUM(total_tokens), 0)::BIGINT
FROM stories`).Scan(&stats.ActiveStories, &stats.CompletedStories, &stats.KilledStories, &stats.TotalTokens)
	if err != nil {
		return nil, fmt.Errorf("counting stories: %w", err)
	}

	err = c.pool.QueryRow(ctx, `
SELECT COUNT(*),
    COALESCE(AVG(absurdity), 0),
    COALESCE(AVG(surrealism), 0),
    COALESCE(AVG(ridiculousness), 0),
    COALESCE(AVG(insanity), 0)
FROM chapters`).Scan(
		&stats.TotalChapters,
		&stats.AverageChaos.Absurdity,
		&stats.AverageChaos.Surrealism,
		&stats.AverageChaos.Ridiculousness,
		&stats.AverageChaos.Insanity,
	)
	if err != nil {
		return nil, fmt.Errorf("aggregating chapters: %w", err)
	}

	if err := c.pool.QueryRow(ctx, `SELECT COUNT(*) FROM entities`).Scan(&stats.TotalEntities); err != nil {
		return nil, fmt.Errorf("counting entities: %w", err)
	}
	return &stats, nil
}

package sqlite

import (
	"context"
	"fmt"

	"storypool/internal/store"
)

func (c *Client) Stats(ctx context.Context) (*store.Stats, error) {
	var stats store.Stats
	if err := c.countByStatus(ctx, &stats); err != nil {
		return nil, err
	}

	err := c.db.QueryRowContext(ctx, `
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

	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entities`).Scan(&stats.TotalEntities); err != nil {
		return nil, fmt.Errorf("counting entities: %w", err)
	}

	return &stats, nil
}

// countByStatus drains its rows before returning; an in-memory database has a
// single connection.
func (c *Client) countByStatus(ctx context.Context, stats *store.Stats) error {
	rows, err := c.db.QueryContext(ctx, `SELECT status, COUNT(*), COALESCE(SUM(total_tokens), 0) FROM stories GROUP BY status`)
	if err != nil {
		return fmt.Errorf("counting stories by status: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status string
			count  int
			tokens int64
		)
		if err := rows.Scan(&status, &count, &tokens); err != nil {
			return fmt.Errorf("scanning status count: %w", err)
		}
		switch store.StoryStatus(status) {
		case store.StatusActive:
			stats.ActiveStories = count
		case store.StatusCompleted:
			stats.CompletedStories = count
		case store.StatusKilled:
			stats.KilledStories = count
		}
		stats.TotalTokens += tokens
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating status counts: %w", err)
	}
	return nil
}

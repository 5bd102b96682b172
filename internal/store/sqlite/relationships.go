package sqlite

import (
	"context"
	"fmt"
	"time"

	"storypool/internal/store"
)

// Cooccurrences counts, for every unordered entity pair, the distinct stories
// that mention both.
func (c *Client) Cooccurrences(ctx context.Context, minStories int) ([]store.Cooccurrence, error) {
	query := `
	SELECT a.entity_id, b.entity_id, COUNT(DISTINCT a.story_id)
	FROM mentions a
	JOIN mentions b ON a.story_id = b.story_id AND a.entity_id < b.entity_id
	GROUP BY a.entity_id, b.entity_id
	HAVING COUNT(DISTINCT a.story_id) >= ?
	ORDER BY a.entity_id, b.entity_id
	`
	rows, err := c.db.QueryContext(ctx, query, minStories)
	if err != nil {
		return nil, fmt.Errorf("querying cooccurrences: %w", err)
	}
	defer rows.Close()

	pairs := make([]store.Cooccurrence, 0)
	for rows.Next() {
		var p store.Cooccurrence
		if err := rows.Scan(&p.EntityA, &p.EntityB, &p.Stories); err != nil {
			return nil, fmt.Errorf("scanning cooccurrence: %w", err)
		}
		pairs = append(pairs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating cooccurrences: %w", err)
	}
	return pairs, nil
}

func (c *Client) UpsertRelationship(ctx context.Context, r store.Relationship) error {
	if r.EntityA == r.EntityB {
		return fmt.Errorf("relationship needs two distinct entities, got %d twice", r.EntityA)
	}
	if r.EntityA > r.EntityB {
		r.EntityA, r.EntityB = r.EntityB, r.EntityA
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = time.Now()
	}

	_, err := c.db.ExecContext(ctx, `
	INSERT INTO relationships (entity_a, entity_b, cooccurrence_count, strength, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT (entity_a, entity_b) DO UPDATE SET
		cooccurrence_count = excluded.cooccurrence_count,
		strength = excluded.strength,
		updated_at = excluded.updated_at
	`, r.EntityA, r.EntityB, r.CooccurrenceCount, r.Strength, formatTime(r.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upserting relationship: %w", err)
	}
	return nil
}

func (c *Client) ListRelationships(ctx context.Context, entityID int64) ([]store.Relationship, error) {
	return listRelationships(ctx, c.db, entityID)
}

func listRelationships(ctx context.Context, q querier, entityID int64) ([]store.Relationship, error) {
	rows, err := q.QueryContext(ctx, `
	SELECT entity_a, entity_b, cooccurrence_count, strength, updated_at
	FROM relationships
	WHERE entity_a = ? OR entity_b = ?
	ORDER BY strength DESC, entity_a, entity_b
	`, entityID, entityID)
	if err != nil {
		return nil, fmt.Errorf("listing relationships: %w", err)
	}
	defer rows.Close()

	rels := make([]store.Relationship, 0)
	for rows.Next() {
		var (
			r         store.Relationship
			updatedAt string
		)
		if err := rows.Scan(&r.EntityA, &r.EntityB, &r.CooccurrenceCount, &r.Strength, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning relationship: %w", err)
		}
		if r.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		rels = append(rels, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating relationships: %w", err)
	}
	return rels, nil
}

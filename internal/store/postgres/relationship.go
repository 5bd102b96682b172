package postgres

import (
	"context"
	"fmt"
	"time"

	"storypool/internal/store"
)

func (c *Client) Cooccurrences(ctx context.Context, minStories int) ([]store.Cooccurrence, error) {
	query := `
SELECT a.entity_id, b.entity_id, COUNT(DISTINCT a.story_id)
FROM mentions a
JOIN mentions b ON a.story_id = b.story_id AND a.entity_id < b.entity_id
GROUP BY a.entity_id, b.entity_id
HAVING COUNT(DISTINCT a.story_id) >= $1
ORDER BY a.entity_id, b.entity_id
`
	rows, err := c.pool.Query(ctx, query, minStories)
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

	_, err := c.pool.Exec(ctx, `
INSERT INTO relationships (entity_a, entity_b, cooccurrence_count, strength, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (entity_a, entity_b) DO UPDATE SET
    cooccurrence_count = EXCLUDED.cooccurrence_count,
    strength = EXCLUDED.strength,
    updated_at = EXCLUDED.updated_at
`, r.EntityA, r.EntityB, r.CooccurrenceCount, r.Strength, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upserting relationship: %w", err)
	}
	return nil
}

func (c *Client) ListRelationships(ctx context.Context, entityID int64) ([]store.Relationship, error) {
	return listRelationships(ctx, c.pool, entityID)
}

func listRelationships(ctx context.Context, q dbtx, entityID int64) ([]store.Relationship, error) {
	rows, err := q.Query(ctx, `
SELECT entity_a, entity_b, cooccurrence_count, strength, updated_at
FROM relationships
WHERE entity_a = $1 OR entity_b = $1
ORDER BY strength DESC, entity_a, entity_b
`, entityID)
	if err != nil {
		return nil, fmt.Errorf("listing relationships: %w", err)
	}
	defer rows.Close()

	rels := make([]store.Relationship, 0)
	for rows.Next() {
		var r store.Relationship
		if err := rows.Scan(&r.EntityA, &r.EntityB, &r.CooccurrenceCount, &r.Strength, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning relationship: %w", err)
		}
		rels = append(rels, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating relationships: %w", err)
	}
	return rels, nil
}

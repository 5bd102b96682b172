package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"storypool/internal/store"
)

const entityColumns = `id, name, canonical_name, entity_type, mention_count, importance, first_seen_at`

func (c *Client) UpsertEntity(ctx context.Context, e store.EntityUpsert) (*store.Entity, error) {
	query := `
INSERT INTO entities (name, canonical_name, entity_type, mention_count, importance, first_seen_at)
VALUES ($1, $2, $3, 1, $4, now())
ON CONFLICT (canonical_name) DO UPDATE SET
    mention_count = entities.mention_count + 1,
    importance = (entities.importance + EXCLUDED.importance) / 2
RETURNING ` + entityColumns

	entity, err := scanEntity(c.pool.QueryRow(ctx, query, e.Name, e.CanonicalName, string(e.EntityType), e.Importance))
	if err != nil {
		return nil, fmt.Errorf("upserting entity: %w", err)
	}
	return entity, nil
}

func (c *Client) UpsertMention(ctx context.Context, m store.MentionUpsert) error {
	query := `
INSERT INTO mentions (story_id, entity_id, first_chapter, last_chapter, mention_count, importance, sentiment)
VALUES ($1, $2, $3, $3, 1, $4, $5)
ON CONFLICT (story_id, entity_id) DO UPDATE SET
    first_chapter = LEAST(mentions.first_chapter, EXCLUDED.first_chapter),
    last_chapter = GREATEST(mentions.last_chapter, EXCLUDED.last_chapter),
    mention_count = mentions.mention_count + 1,
    importance = (mentions.importance + EXCLUDED.importance) / 2,
    sentiment = (mentions.sentiment + EXCLUDED.sentiment) / 2
`
	if _, err := c.pool.Exec(ctx, query, m.StoryID, m.EntityID, m.ChapterNumber, m.Importance, m.Sentiment); err != nil {
		return fmt.Errorf("upserting mention: %w", err)
	}
	return nil
}

func (c *Client) UpsertFeature(ctx context.Context, f store.FeatureUpsert) error {
	query := `
INSERT INTO features (chapter_id, entity_id, mention_count, importance, sentiment)
VALUES ($1, $2, 1, $3, $4)
ON CONFLICT (chapter_id, entity_id) DO UPDATE SET
    mention_count = features.mention_count + 1,
    importance = (features.importance + EXCLUDED.importance) / 2,
    sentiment = (features.sentiment + EXCLUDED.sentiment) / 2
`
	if _, err := c.pool.Exec(ctx, query, f.ChapterID, f.EntityID, f.Importance, f.Sentiment); err != nil {
		return fmt.Errorf("upserting feature: %w", err)
	}
	return nil
}

func (c *Client) GetEntityByName(ctx context.Context, canonicalName string) (*store.Entity, error) {
	e, err := scanEntity(c.pool.QueryRow(ctx, `SELECT `+entityColumns+` FROM entities WHERE canonical_name = $1`, canonicalName))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("entity %q: %w", canonicalName, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting entity: %w", err)
	}
	return e, nil
}

// getEntity locks the row when q is a transaction.
func getEntity(ctx context.Context, q dbtx, id int64) (*store.Entity, error) {
	e, err := scanEntity(q.QueryRow(ctx, `SELECT `+entityColumns+` FROM entities WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("entity %d: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting entity: %w", err)
	}
	return e, nil
}

func (c *Client) TopEntities(ctx context.Context, limit int) ([]store.Entity, error) {
	rows, err := c.pool.Query(ctx, `SELECT `+entityColumns+` FROM entities
ORDER BY importance DESC, mention_count DESC, id
LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing entities: %w", err)
	}
	defer rows.Close()

	entities := make([]store.Entity, 0)
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning entity: %w", err)
		}
		entities = append(entities, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating entities: %w", err)
	}
	return entities, nil
}

func (c *Client) ListMentions(ctx context.Context, entityID int64) ([]store.Mention, error) {
	return listMentions(ctx, c.pool, entityID)
}

func listMentions(ctx context.Context, q dbtx, entityID int64) ([]store.Mention, error) {
	rows, err := q.Query(ctx, `
SELECT story_id, entity_id, first_chapter, last_chapter, mention_count, importance, sentiment
FROM mentions WHERE entity_id = $1 ORDER BY story_id`, entityID)
	if err != nil {
		return nil, fmt.Errorf("listing mentions: %w", err)
	}
	defer rows.Close()

	mentions := make([]store.Mention, 0)
	for rows.Next() {
		var m store.Mention
		if err := rows.Scan(&m.StoryID, &m.EntityID, &m.FirstChapter, &m.LastChapter,
			&m.MentionCount, &m.Importance, &m.Sentiment); err != nil {
			return nil, fmt.Errorf("scanning mention: %w", err)
		}
		mentions = append(mentions, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating mentions: %w", err)
	}
	return mentions, nil
}

func (c *Client) ListFeatures(ctx context.Context, entityID int64) ([]store.Feature, error) {
	return listFeatures(ctx, c.pool, entityID)
}

func listFeatures(ctx context.Context, q dbtx, entityID int64) ([]store.Feature, error) {
	rows, err := q.Query(ctx, `
SELECT chapter_id, entity_id, mention_count, importance, sentiment
FROM features WHERE entity_id = $1 ORDER BY chapter_id`, entityID)
	if err != nil {
		return nil, fmt.Errorf("listing features: %w", err)
	}
	defer rows.Close()

	features := make([]store.Feature, 0)
	for rows.Next() {
		var f store.Feature
		if err := rows.Scan(&f.ChapterID, &f.EntityID, &f.MentionCount, &f.Importance, &f.Sentiment); err != nil {
			return nil, fmt.Errorf("scanning feature: %w", err)
		}
		features = append(features, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating features: %w", err)
	}
	return features, nil
}

func (c *Client) SaveOverride(ctx context.Context, o store.EntityOverride) error {
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}
	_, err := c.pool.Exec(ctx, `
INSERT INTO entity_overrides (canonical_name, action, target, created_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (canonical_name) DO UPDATE SET
    action = EXCLUDED.action,
    target = EXCLUDED.target,
    created_at = EXCLUDED.created_at
`, o.CanonicalName, string(o.Action), o.Target, o.CreatedAt)
	if err != nil {
		return fmt.Errorf("saving override: %w", err)
	}
	return nil
}

func (c *Client) ListOverrides(ctx context.Context) ([]store.EntityOverride, error) {
	rows, err := c.pool.Query(ctx, `
SELECT canonical_name, action, target, created_at FROM entity_overrides ORDER BY canonical_name`)
	if err != nil {
		return nil, fmt.Errorf("listing overrides: %w", err)
	}
	defer rows.Close()

	overrides := make([]store.EntityOverride, 0)
	for rows.Next() {
		var (
			o      store.EntityOverride
			action string
		)
		if err := rows.Scan(&o.CanonicalName, &action, &o.Target, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning override: %w", err)
		}
		o.Action = store.OverrideAction(action)
		overrides = append(overrides, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating overrides: %w", err)
	}
	return overrides, nil
}

func (c *Client) DeleteOverride(ctx context.Context, canonicalName string) error {
	tag, err := c.pool.Exec(ctx, `DELETE FROM entity_overrides WHERE canonical_name = $1`, canonicalName)
	if err != nil {
		return fmt.Errorf("deleting override: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("override %q: %w", canonicalName, store.ErrNotFound)
	}
	return nil
}

func scanEntity(row pgx.Row) (*store.Entity, error) {
	var (
		e          store.Entity
		entityType string
	)
	if err := row.Scan(&e.ID, &e.Name, &e.CanonicalName, &entityType, &e.MentionCount, &e.Importance, &e.FirstSeenAt); err != nil {
		return nil, err
	}
	e.EntityType = store.EntityType(entityType)
	return &e, nil
}

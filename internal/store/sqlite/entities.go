package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"storypool/internal/store"
)

const entityColumns = `id, name, canonical_name, entity_type, mention_count, importance, first_seen_at`

// UpsertEntity creates the entity on first sighting. Later sightings bump the
// mention count and blend importance; the display name and type stay as first
// recorded.
func (c *Client) UpsertEntity(ctx context.Context, e store.EntityUpsert) (*store.Entity, error) {
	query := `
	INSERT INTO entities (name, canonical_name, entity_type, mention_count, importance, first_seen_at)
	VALUES (?, ?, ?, 1, ?, ?)
	ON CONFLICT (canonical_name) DO UPDATE SET
		mention_count = entities.mention_count + 1,
		importance = (entities.importance + excluded.importance) / 2
	RETURNING ` + entityColumns

	row := c.db.QueryRowContext(ctx, query,
		e.Name,
		e.CanonicalName,
		string(e.EntityType),
		e.Importance,
		formatTime(time.Now()),
	)
	entity, err := scanEntity(row)
	if err != nil {
		return nil, fmt.Errorf("upserting entity: %w", err)
	}
	return entity, nil
}

func (c *Client) UpsertMention(ctx context.Context, m store.MentionUpsert) error {
	query := `
	INSERT INTO mentions (story_id, entity_id, first_chapter, last_chapter, mention_count, importance, sentiment)
	VALUES (?, ?, ?, ?, 1, ?, ?)
	ON CONFLICT (story_id, entity_id) DO UPDATE SET
		first_chapter = MIN(mentions.first_chapter, excluded.first_chapter),
		last_chapter = MAX(mentions.last_chapter, excluded.last_chapter),
		mention_count = mentions.mention_count + 1,
		importance = (mentions.importance + excluded.importance) / 2,
		sentiment = (mentions.sentiment + excluded.sentiment) / 2
	`
	_, err := c.db.ExecContext(ctx, query,
		m.StoryID, m.EntityID, m.ChapterNumber, m.ChapterNumber, m.Importance, m.Sentiment,
	)
	if err != nil {
		return fmt.Errorf("upserting mention: %w", err)
	}
	return nil
}

func (c *Client) UpsertFeature(ctx context.Context, f store.FeatureUpsert) error {
	query := `
	INSERT INTO features (chapter_id, entity_id, mention_count, importance, sentiment)
	VALUES (?, ?, 1, ?, ?)
	ON CONFLICT (chapter_id, entity_id) DO UPDATE SET
		mention_count = features.mention_count + 1,
		importance = (features.importance + excluded.importance) / 2,
		sentiment = (features.sentiment + excluded.sentiment) / 2
	`
	_, err := c.db.ExecContext(ctx, query, f.ChapterID, f.EntityID, f.Importance, f.Sentiment)
	if err != nil {
		return fmt.Errorf("upserting feature: %w", err)
	}
	return nil
}

func (c *Client) GetEntityByName(ctx context.Context, canonicalName string) (*store.Entity, error) {
	return getEntityByName(ctx, c.db, canonicalName)
}

func getEntityByName(ctx context.Context, q querier, canonicalName string) (*store.Entity, error) {
	row := q.QueryRowContext(ctx, `SELECT `+entityColumns+` FROM entities WHERE canonical_name = ?`, canonicalName)
	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("entity %q: %w", canonicalName, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting entity: %w", err)
	}
	return e, nil
}

func getEntity(ctx context.Context, q querier, id int64) (*store.Entity, error) {
	row := q.QueryRowContext(ctx, `SELECT `+entityColumns+` FROM entities WHERE id = ?`, id)
	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("entity %d: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting entity: %w", err)
	}
	return e, nil
}

func (c *Client) TopEntities(ctx context.Context, limit int) ([]store.Entity, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT `+entityColumns+` FROM entities
	ORDER BY importance DESC, mention_count DESC, id
	LIMIT ?`, limit)
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
	return listMentions(ctx, c.db, entityID)
}

func listMentions(ctx context.Context, q querier, entityID int64) ([]store.Mention, error) {
	rows, err := q.QueryContext(ctx, `
	SELECT story_id, entity_id, first_chapter, last_chapter, mention_count, importance, sentiment
	FROM mentions WHERE entity_id = ? ORDER BY story_id`, entityID)
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
	return listFeatures(ctx, c.db, entityID)
}

func listFeatures(ctx context.Context, q querier, entityID int64) ([]store.Feature, error) {
	rows, err := q.QueryContext(ctx, `
	SELECT chapter_id, entity_id, mention_count, importance, sentiment
	FROM features WHERE entity_id = ? ORDER BY chapter_id`, entityID)
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
	_, err := c.db.ExecContext(ctx, `
	INSERT INTO entity_overrides (canonical_name, action, target, created_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT (canonical_name) DO UPDATE SET
		action = excluded.action,
		target = excluded.target,
		created_at = excluded.created_at
	`, o.CanonicalName, string(o.Action), o.Target, formatTime(o.CreatedAt))
	if err != nil {
		return fmt.Errorf("saving override: %w", err)
	}
	return nil
}

func (c *Client) ListOverrides(ctx context.Context) ([]store.EntityOverride, error) {
	rows, err := c.db.QueryContext(ctx, `
	SELECT canonical_name, action, target, created_at FROM entity_overrides ORDER BY canonical_name`)
	if err != nil {
		return nil, fmt.Errorf("listing overrides: %w", err)
	}
	defer rows.Close()

	overrides := make([]store.EntityOverride, 0)
	for rows.Next() {
		var (
			o                    store.EntityOverride
			action, createdAtRaw string
		)
		if err := rows.Scan(&o.CanonicalName, &action, &o.Target, &createdAtRaw); err != nil {
			return nil, fmt.Errorf("scanning override: %w", err)
		}
		o.Action = store.OverrideAction(action)
		if o.CreatedAt, err = parseTime(createdAtRaw); err != nil {
			return nil, err
		}
		overrides = append(overrides, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating overrides: %w", err)
	}
	return overrides, nil
}

func (c *Client) DeleteOverride(ctx context.Context, canonicalName string) error {
	res, err := c.db.ExecContext(ctx, `DELETE FROM entity_overrides WHERE canonical_name = ?`, canonicalName)
	if err != nil {
		return fmt.Errorf("deleting override: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("override %q: %w", canonicalName, store.ErrNotFound)
	}
	return nil
}

func scanEntity(row rowScanner) (*store.Entity, error) {
	var (
		e                   store.Entity
		entityType, firstAt string
	)
	if err := row.Scan(&e.ID, &e.Name, &e.CanonicalName, &entityType, &e.MentionCount, &e.Importance, &firstAt); err != nil {
		return nil, err
	}
	e.EntityType = store.EntityType(entityType)
	t, err := parseTime(firstAt)
	if err != nil {
		return nil, err
	}
	e.FirstSeenAt = t
	return &e, nil
}

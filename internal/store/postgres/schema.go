package postgres

import (
	"context"
	"fmt"
)

func (c *Client) EnsureSchema(ctx context.Context) error {
	// Sent as one simple-protocol batch, which PostgreSQL runs in an implicit
	// transaction.
	ddl := `
CREATE TABLE IF NOT EXISTS stories (
    id                       BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
    title                    TEXT NOT NULL,
    premise                  TEXT NOT NULL,
    status                   TEXT NOT NULL DEFAULT 'active',
    created_at               TIMESTAMPTZ NOT NULL DEFAULT now(),
    completed_at             TIMESTAMPTZ,
    completion_reason        TEXT NOT NULL DEFAULT '',
    absurdity_initial        DOUBLE PRECISION NOT NULL,
    absurdity_increment      DOUBLE PRECISION NOT NULL,
    surrealism_initial       DOUBLE PRECISION NOT NULL,
    surrealism_increment     DOUBLE PRECISION NOT NULL,
    ridiculousness_initial   DOUBLE PRECISION NOT NULL,
    ridiculousness_increment DOUBLE PRECISION NOT NULL,
    insanity_initial         DOUBLE PRECISION NOT NULL,
    insanity_increment       DOUBLE PRECISION NOT NULL,
    content_settings         JSONB NOT NULL DEFAULT '{}',
    total_tokens             BIGINT NOT NULL DEFAULT 0,
    tone                     TEXT NOT NULL DEFAULT '',
    genre_tags               TEXT[] NOT NULL DEFAULT '{}',
    style_authors            TEXT[] NOT NULL DEFAULT '{}',
    narrative_perspective    TEXT NOT NULL DEFAULT '',
    cover_image_url          TEXT NOT NULL DEFAULT '',
    CONSTRAINT ck_story_status CHECK (status IN ('active', 'completed', 'killed'))
);

CREATE TABLE IF NOT EXISTS chapters (
    id             BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
    story_id       BIGINT NOT NULL REFERENCES stories(id) ON DELETE CASCADE,
    chapter_number INTEGER NOT NULL,
    content        TEXT NOT NULL,
    absurdity      DOUBLE PRECISION NOT NULL,
    surrealism     DOUBLE PRECISION NOT NULL,
    ridiculousness DOUBLE PRECISION NOT NULL,
    insanity       DOUBLE PRECISION NOT NULL,
    content_levels JSONB NOT NULL DEFAULT '{}',
    latency_ms     BIGINT NOT NULL DEFAULT 0,
    tokens_used    BIGINT NOT NULL DEFAULT 0,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
    CONSTRAINT uq_chapter_number UNIQUE (story_id, chapter_number)
);

CREATE TABLE IF NOT EXISTS evaluations (
    id               BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
    story_id         BIGINT NOT NULL REFERENCES stories(id) ON DELETE CASCADE,
    chapter_number   INTEGER NOT NULL,
    coherence_score  DOUBLE PRECISION NOT NULL,
    novelty_score    DOUBLE PRECISION NOT NULL,
    engagement_score DOUBLE PRECISION NOT NULL,
    pacing_score     DOUBLE PRECISION NOT NULL,
    overall_score    DOUBLE PRECISION NOT NULL,
    should_continue  BOOLEAN NOT NULL,
    reasoning        TEXT NOT NULL DEFAULT '',
    issues           TEXT[] NOT NULL DEFAULT '{}',
    created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
    CONSTRAINT uq_evaluation_chapter UNIQUE (story_id, chapter_number)
);

CREATE TABLE IF NOT EXISTS entities (
    id             BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
    name           TEXT NOT NULL,
    canonical_name TEXT NOT NULL,
    entity_type    TEXT NOT NULL,
    mention_count  INTEGER NOT NULL DEFAULT 0,
    importance     DOUBLE PRECISION NOT NULL DEFAULT 0,
    first_seen_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    CONSTRAINT uq_entity_canonical UNIQUE (canonical_name)
);

CREATE TABLE IF NOT EXISTS mentions (
    story_id      BIGINT NOT NULL REFERENCES stories(id) ON DELETE CASCADE,
    entity_id     BIGINT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
    first_chapter INTEGER NOT NULL,
    last_chapter  INTEGER NOT NULL,
    mention_count INTEGER NOT NULL DEFAULT 0,
    importance    DOUBLE PRECISION NOT NULL DEFAULT 0,
    sentiment     DOUBLE PRECISION NOT NULL DEFAULT 0,
    PRIMARY KEY (story_id, entity_id)
);

CREATE TABLE IF NOT EXISTS features (
    chapter_id    BIGINT NOT NULL REFERENCES chapters(id) ON DELETE CASCADE,
    entity_id     BIGINT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
    mention_count INTEGER NOT NULL DEFAULT 0,
    importance    DOUBLE PRECISION NOT NULL DEFAULT 0,
    sentiment     DOUBLE PRECISION NOT NULL DEFAULT 0,
    PRIMARY KEY (chapter_id, entity_id)
);

CREATE TABLE IF NOT EXISTS relationships (
    entity_a           BIGINT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
    entity_b           BIGINT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
    cooccurrence_count INTEGER NOT NULL,
    strength           DOUBLE PRECISION NOT NULL,
    updated_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (entity_a, entity_b),
    CONSTRAINT ck_relationship_order CHECK (entity_a < entity_b)
);

CREATE TABLE IF NOT EXISTS entity_overrides (
    canonical_name TEXT PRIMARY KEY,
    action         TEXT NOT NULL,
    target         TEXT NOT NULL DEFAULT '',
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS leases (
    name       TEXT PRIMARY KEY,
    holder     TEXT NOT NULL,
    token      BIGINT NOT NULL,
    expires_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS system_config (
    key        TEXT PRIMARY KEY,
    value      TEXT NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_stories_status ON stories (status);
CREATE INDEX IF NOT EXISTS idx_stories_missing_cover ON stories (completed_at) WHERE status <> 'active' AND cover_image_url = '';
CREATE INDEX IF NOT EXISTS idx_entities_importance ON entities (importance DESC);
CREATE INDEX IF NOT EXISTS idx_mentions_entity ON mentions (entity_id);
CREATE INDEX IF NOT EXISTS idx_features_entity ON features (entity_id);
CREATE INDEX IF NOT EXISTS idx_relationships_b ON relationships (entity_b);
`

	if _, err := c.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensuring schema: %w", err)
	}
	return nil
}

package sqlite

import (
	"context"
	"fmt"
	"strings"
)

func (c *Client) EnsureSchema(ctx context.Context) error {
	ddl := `
	CREATE TABLE IF NOT EXISTS stories (
		id                     INTEGER PRIMARY KEY AUTOINCREMENT,
		title                  TEXT NOT NULL,
		premise                TEXT NOT NULL,
		status                 TEXT NOT NULL DEFAULT 'active',
		created_at             TEXT NOT NULL,
		completed_at           TEXT,
		completion_reason      TEXT NOT NULL DEFAULT '',
		absurdity_initial      REAL NOT NULL,
		absurdity_increment    REAL NOT NULL,
		surrealism_initial     REAL NOT NULL,
		surrealism_increment   REAL NOT NULL,
		ridiculousness_initial REAL NOT NULL,
		ridiculousness_increment REAL NOT NULL,
		insanity_initial       REAL NOT NULL,
		insanity_increment     REAL NOT NULL,
		content_settings       TEXT NOT NULL DEFAULT '{}',
		total_tokens           INTEGER NOT NULL DEFAULT 0,
		tone                   TEXT NOT NULL DEFAULT '',
		genre_tags             TEXT NOT NULL DEFAULT '[]',
		style_authors          TEXT NOT NULL DEFAULT '[]',
		narrative_perspective  TEXT NOT NULL DEFAULT '',
		cover_image_url        TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS chapters (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		story_id       INTEGER NOT NULL REFERENCES stories(id) ON DELETE CASCADE,
		chapter_number INTEGER NOT NULL,
		content        TEXT NOT NULL,
		absurdity      REAL NOT NULL,
		surrealism     REAL NOT NULL,
		ridiculousness REAL NOT NULL,
		insanity       REAL NOT NULL,
		content_levels TEXT NOT NULL DEFAULT '{}',
		latency_ms     INTEGER NOT NULL DEFAULT 0,
		tokens_used    INTEGER NOT NULL DEFAULT 0,
		created_at     TEXT NOT NULL,
		CONSTRAINT uq_chapter_number UNIQUE (story_id, chapter_number)
	);

	CREATE TABLE IF NOT EXISTS evaluations (
		id               INTEGER PRIMARY KEY AUTOINCREMENT,
		story_id         INTEGER NOT NULL REFERENCES stories(id) ON DELETE CASCADE,
		chapter_number   INTEGER NOT NULL,
		coherence_score  REAL NOT NULL,
		novelty_score    REAL NOT NULL,
		engagement_score REAL NOT NULL,
		pacing_score     REAL NOT NULL,
		overall_score    REAL NOT NULL,
		should_continue  INTEGER NOT NULL,
		reasoning        TEXT NOT NULL DEFAULT '',
		issues           TEXT NOT NULL DEFAULT '[]',
		created_at       TEXT NOT NULL,
		CONSTRAINT uq_evaluation_chapter UNIQUE (story_id, chapter_number)
	);

	CREATE TABLE IF NOT EXISTS entities (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		name           TEXT NOT NULL,
		canonical_name TEXT NOT NULL,
		entity_type    TEXT NOT NULL,
		mention_count  INTEGER NOT NULL DEFAULT 0,
		importance     REAL NOT NULL DEFAULT 0,
		first_seen_at  TEXT NOT NULL,
		CONSTRAINT uq_entity_canonical UNIQUE (canonical_name)
	);

	CREATE TABLE IF NOT EXISTS mentions (
		story_id      INTEGER NOT NULL REFERENCES stories(id) ON DELETE CASCADE,
		entity_id     INTEGER NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
		first_chapter INTEGER NOT NULL,
		last_chapter  INTEGER NOT NULL,
		mention_count INTEGER NOT NULL DEFAULT 0,
		importance    REAL NOT NULL DEFAULT 0,
		sentiment     REAL NOT NULL DEFAULT 0,
		PRIMARY KEY (story_id, entity_id)
	);

	CREATE TABLE IF NOT EXISTS features (
		chapter_id    INTEGER NOT NULL REFERENCES chapters(id) ON DELETE CASCADE,
		entity_id     INTEGER NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
		mention_count INTEGER NOT NULL DEFAULT 0,
		importance    REAL NOT NULL DEFAULT 0,
		sentiment     REAL NOT NULL DEFAULT 0,
		PRIMARY KEY (chapter_id, entity_id)
	);

	CREATE TABLE IF NOT EXISTS relationships (
		entity_a           INTEGER NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
		entity_b           INTEGER NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
		cooccurrence_count INTEGER NOT NULL,
		strength           REAL NOT NULL,
		updated_at         TEXT NOT NULL,
		PRIMARY KEY (entity_a, entity_b),
		CHECK (entity_a < entity_b)
	);

	CREATE TABLE IF NOT EXISTS entity_overrides (
		canonical_name TEXT PRIMARY KEY,
		action         TEXT NOT NULL,
		target         TEXT NOT NULL DEFAULT '',
		created_at     TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS leases (
		name       TEXT PRIMARY KEY,
		holder     TEXT NOT NULL,
		token      INTEGER NOT NULL,
		expires_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS system_config (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_stories_status ON stories (status);
	CREATE INDEX IF NOT EXISTS idx_stories_created ON stories (created_at);
	CREATE INDEX IF NOT EXISTS idx_chapters_story ON chapters (story_id, chapter_number);
	CREATE INDEX IF NOT EXISTS idx_evaluations_story ON evaluations (story_id, chapter_number);
	CREATE INDEX IF NOT EXISTS idx_entities_importance ON entities (importance);
	CREATE INDEX IF NOT EXISTS idx_mentions_entity ON mentions (entity_id);
	CREATE INDEX IF NOT EXISTS idx_features_entity ON features (entity_id);
	CREATE INDEX IF NOT EXISTS idx_relationships_b ON relationships (entity_b);
	`

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range splitStatements(ddl) {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("executing DDL: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing schema transaction: %w", err)
	}

	return nil
}

func splitStatements(ddl string) []string {
	var statements []string
	var current strings.Builder

	for _, line := range strings.Split(ddl, "\n") {
		stripped := strings.TrimSpace(line)
		if strings.HasPrefix(stripped, "--") {
			continue
		}
		current.WriteString(line)
		current.WriteString("\n")

		if strings.HasSuffix(stripped, ";") {
			statements = append(statements, current.String())
			current.Reset()
		}
	}

	if strings.TrimSpace(current.String()) != "" {
		statements = append(statements, current.String())
	}

	return statements
}

package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"storypool/internal/store"
)

func (c *Client) MergeEntities(ctx context.Context, sourceID, targetID int64) error {
	if sourceID == targetID {
		return fmt.Errorf("merging entity %d into itself", sourceID)
	}

	tx, err := c.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	source, err := getEntity(ctx, tx, sourceID)
	if err != nil {
		return fmt.Errorf("loading merge source: %w", err)
	}
	target, err := getEntity(ctx, tx, targetID)
	if err != nil {
		return fmt.Errorf("loading merge target: %w", err)
	}

	if err := foldMentions(ctx, tx, sourceID, targetID); err != nil {
		return err
	}
	if err := foldFeatures(ctx, tx, sourceID, targetID); err != nil {
		return err
	}
	if err := repointRelationships(ctx, tx, sourceID, targetID); err != nil {
		return err
	}

	firstSeen := target.FirstSeenAt
	if source.FirstSeenAt.Before(firstSeen) {
		firstSeen = source.FirstSeenAt
	}
	_, err = tx.Exec(ctx, `UPDATE entities SET mention_count = $1, importance = $2, first_seen_at = $3 WHERE id = $4`,
		target.MentionCount+source.MentionCount,
		store.BlendImportance(target.Importance, source.Importance),
		firstSeen,
		targetID,
	)
	if err != nil {
		return fmt.Errorf("updating merge target: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM entities WHERE id = $1`, sourceID); err != nil {
		return fmt.Errorf("deleting merge source: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing merge: %w", err)
	}
	return nil
}

func foldMentions(ctx context.Context, tx dbtx, sourceID, targetID int64) error {
	moved, err := listMentions(ctx, tx, sourceID)
	if err != nil {
		return err
	}
	existing, err := listMentions(ctx, tx, targetID)
	if err != nil {
		return err
	}
	byStory := make(map[int64]store.Mention, len(existing))
	for _, m := range existing {
		byStory[m.StoryID] = m
	}

	for _, m := range moved {
		t, ok := byStory[m.StoryID]
		if !ok {
			if _, err := tx.Exec(ctx, `UPDATE mentions SET entity_id = $1 WHERE story_id = $2 AND entity_id = $3`,
				targetID, m.StoryID, sourceID); err != nil {
				return fmt.Errorf("repointing mention: %w", err)
			}
			continue
		}
		_, err := tx.Exec(ctx, `
UPDATE mentions SET first_chapter = $1, last_chapter = $2, mention_count = $3, importance = $4, sentiment = $5
WHERE story_id = $6 AND entity_id = $7`,
			min(t.FirstChapter, m.FirstChapter),
			max(t.LastChapter, m.LastChapter),
			t.MentionCount+m.MentionCount,
			store.BlendImportance(t.Importance, m.Importance),
			(t.Sentiment+m.Sentiment)/2,
			m.StoryID, targetID,
		)
		if err != nil {
			return fmt.Errorf("folding mention: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM mentions WHERE story_id = $1 AND entity_id = $2`, m.StoryID, sourceID); err != nil {
			return fmt.Errorf("deleting folded mention: %w", err)
		}
	}
	return nil
}

func foldFeatures(ctx context.Context, tx dbtx, sourceID, targetID int64) error {
	moved, err := listFeatures(ctx, tx, sourceID)
	if err != nil {
		return err
	}
	existing, err := listFeatures(ctx, tx, targetID)
	if err != nil {
		return err
	}
	byChapter := make(map[int64]store.Feature, len(existing))
	for _, f := range existing {
		byChapter[f.ChapterID] = f
	}

	for _, f := range moved {
		t, ok := byChapter[f.ChapterID]
		if !ok {
			if _, err := tx.Exec(ctx, `UPDATE features SET entity_id = $1 WHERE chapter_id = $2 AND entity_id = $3`,
				targetID, f.ChapterID, sourceID); err != nil {
				return fmt.Errorf("repointing feature: %w", err)
			}
			continue
		}
		_, err := tx.Exec(ctx, `
UPDATE features SET mention_count = $1, importance = $2, sentiment = $3
WHERE chapter_id = $4 AND entity_id = $5`,
			t.MentionCount+f.MentionCount,
			store.BlendImportance(t.Importance, f.Importance),
			(t.Sentiment+f.Sentiment)/2,
			f.ChapterID, targetID,
		)
		if err != nil {
			return fmt.Errorf("folding feature: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM features WHERE chapter_id = $1 AND entity_id = $2`, f.ChapterID, sourceID); err != nil {
			return fmt.Errorf("deleting folded feature: %w", err)
		}
	}
	return nil
}

func repointRelationships(ctx context.Context, tx dbtx, sourceID, targetID int64) error {
	rels, err := listRelationships(ctx, tx, sourceID)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM relationships WHERE entity_a = $1 OR entity_b = $1`, sourceID); err != nil {
		return fmt.Errorf("deleting source relationships: %w", err)
	}

	for _, r := range rels {
		other := r.EntityA
		if other == sourceID {
			other = r.EntityB
		}
		if other == targetID {
			continue
		}
		a, b := min(targetID, other), max(targetID, other)
		_, err := tx.Exec(ctx, `
INSERT INTO relationships (entity_a, entity_b, cooccurrence_count, strength, updated_at)
VALUES ($1, $2, $3, $4, now())
ON CONFLICT (entity_a, entity_b) DO UPDATE SET
    cooccurrence_count = GREATEST(relationships.cooccurrence_count, EXCLUDED.cooccurrence_count),
    strength = GREATEST(relationships.cooccurrence_count, EXCLUDED.cooccurrence_count) / 10.0,
    updated_at = EXCLUDED.updated_at
`, a, b, r.CooccurrenceCount, r.Strength)
		if err != nil {
			return fmt.Errorf("repointing relationship: %w", err)
		}
	}
	return nil
}

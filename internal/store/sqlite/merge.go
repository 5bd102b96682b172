package sqlite

import (
	"context"
	"fmt"
	"time"

	"storypool/internal/store"
)

func (c *Client) MergeEntities(ctx context.Context, sourceID, targetID int64) error {
	if sourceID == targetID {
		return fmt.Errorf("merging entity %d into itself", sourceID)
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

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
	_, err = tx.ExecContext(ctx, `
	UPDATE entities SET mention_count = ?, importance = ?, first_seen_at = ? WHERE id = ?`,
		target.MentionCount+source.MentionCount,
		store.BlendImportance(target.Importance, source.Importance),
		formatTime(firstSeen),
		targetID,
	)
	if err != nil {
		return fmt.Errorf("updating merge target: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM entities WHERE id = ?`, sourceID); err != nil {
		return fmt.Errorf("deleting merge source: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing merge: %w", err)
	}
	return nil
}

func foldMentions(ctx context.Context, tx querier, sourceID, targetID int64) error {
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
			if _, err := tx.ExecContext(ctx, `UPDATE mentions SET entity_id = ? WHERE story_id = ? AND entity_id = ?`,
				targetID, m.StoryID, sourceID); err != nil {
				return fmt.Errorf("repointing mention: %w", err)
			}
			continue
		}
		_, err := tx.ExecContext(ctx, `
		UPDATE mentions SET first_chapter = ?, last_chapter = ?, mention_count = ?, importance = ?, sentiment = ?
		WHERE story_id = ? AND entity_id = ?`,
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
		if _, err := tx.ExecContext(ctx, `DELETE FROM mentions WHERE story_id = ? AND entity_id = ?`,
			m.StoryID, sourceID); err != nil {
			return fmt.Errorf("deleting folded mention: %w", err)
		}
	}
	return nil
}

func foldFeatures(ctx context.Context, tx querier, sourceID, targetID int64) error {
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
			if _, err := tx.ExecContext(ctx, `UPDATE features SET entity_id = ? WHERE chapter_id = ? AND entity_id = ?`,
				targetID, f.ChapterID, sourceID); err != nil {
				return fmt.Errorf("repointing feature: %w", err)
			}
			continue
		}
		_, err := tx.ExecContext(ctx, `
		UPDATE features SET mention_count = ?, importance = ?, sentiment = ?
		WHERE chapter_id = ? AND entity_id = ?`,
			t.MentionCount+f.MentionCount,
			store.BlendImportance(t.Importance, f.Importance),
			(t.Sentiment+f.Sentiment)/2,
			f.ChapterID, targetID,
		)
		if err != nil {
			return fmt.Errorf("folding feature: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM features WHERE chapter_id = ? AND entity_id = ?`,
			f.ChapterID, sourceID); err != nil {
			return fmt.Errorf("deleting folded feature: %w", err)
		}
	}
	return nil
}

// repointRelationships moves the source's edges onto the target. An edge
// between source and target would become a self-loop and is dropped; an edge
// the target already has keeps the larger count.
func repointRelationships(ctx context.Context, tx querier, sourceID, targetID int64) error {
	rels, err := listRelationships(ctx, tx, sourceID)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM relationships WHERE entity_a = ? OR entity_b = ?`,
		sourceID, sourceID); err != nil {
		return fmt.Errorf("deleting source relationships: %w", err)
	}

	now := formatTime(time.Now())
	for _, r := range rels {
		other := r.EntityA
		if other == sourceID {
			other = r.EntityB
		}
		if other == targetID {
			continue
		}
		a, b := min(targetID, other), max(targetID, other)
		_, err := tx.ExecContext(ctx, `
		INSERT INTO relationships (entity_a, entity_b, cooccurrence_count, strength, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (entity_a, entity_b) DO UPDATE SET
			cooccurrence_count = MAX(relationships.cooccurrence_count, excluded.cooccurrence_count),
			strength = MAX(relationships.cooccurrence_count, excluded.cooccurrence_count) / 10.0,
			updated_at = excluded.updated_at
		`, a, b, r.CooccurrenceCount, r.Strength, now)
		if err != nil {
			return fmt.Errorf("repointing relationship: %w", err)
		}
	}
	return nil
}

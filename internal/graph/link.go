package graph

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"storypool/internal/generation"
	"storypool/internal/store"
)

// Job is the enrichment work queued after a chapter is persisted.
type Job struct {
	StoryID       int64
	ChapterID     int64
	ChapterNumber int
	Content       string
}

type Result struct {
	Extracted  int
	Suppressed int
	Linked     int
	Errors     []error
}

type rules struct {
	suppress map[string]bool
	merges   map[string]string
}

type tuple struct {
	key        string
	name       string
	entityType store.EntityType
	importance float64
	sentiment  float64
	seen       int
}

// ExtractAndLink extracts entities from a chapter and records them against
// the story and chapter. A failing entity is reported in Result.Errors and
// does not stop the rest.
func (s *Service) ExtractAndLink(ctx context.Context, job Job) (*Result, error) {
	entities, err := s.extractor.ExtractEntities(ctx, job.Content)
	if err != nil {
		return nil, fmt.Errorf("extracting entities: %w", err)
	}
	r, err := s.loadRules(ctx)
	if err != nil {
		return nil, err
	}

	result := &Result{Extracted: len(entities)}
	tuples := r.apply(entities, result)

	for _, t := range tuples {
		entity, err := s.store.UpsertEntity(ctx, store.EntityUpsert{
			Name:          t.name,
			CanonicalName: t.key,
			EntityType:    t.entityType,
			Importance:    t.importance,
		})
		if err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("upserting entity %q: %w", t.key, err))
			continue
		}
		err = s.store.UpsertMention(ctx, store.MentionUpsert{
			StoryID:       job.StoryID,
			EntityID:      entity.ID,
			ChapterNumber: job.ChapterNumber,
			Importance:    t.importance,
			Sentiment:     t.sentiment,
		})
		if err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("upserting mention of %q: %w", t.key, err))
			continue
		}
		err = s.store.UpsertFeature(ctx, store.FeatureUpsert{
			ChapterID:  job.ChapterID,
			EntityID:   entity.ID,
			Importance: t.importance,
			Sentiment:  t.sentiment,
		})
		if err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("upserting feature of %q: %w", t.key, err))
			continue
		}
		result.Linked++
	}

	s.logger.Debug("chapter entities linked",
		zap.Int64("story_id", job.StoryID),
		zap.Int("chapter", job.ChapterNumber),
		zap.Int("extracted", result.Extracted),
		zap.Int("suppressed", result.Suppressed),
		zap.Int("linked", result.Linked),
		zap.Int("errors", len(result.Errors)))
	return result, nil
}

func (s *Service) loadRules(ctx context.Context) (*rules, error) {
	overrides, err := s.store.ListOverrides(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading entity overrides: %w", err)
	}
	r := &rules{suppress: map[string]bool{}, merges: map[string]string{}}
	for _, o := range overrides {
		switch o.Action {
		case store.OverrideSuppress:
			r.suppress[o.CanonicalName] = true
		case store.OverrideMerge:
			r.merges[o.CanonicalName] = o.Target
		}
	}
	return r, nil
}

// apply drops suppressed names, rewrites merged ones, and collapses entities
// that resolve to the same key, keeping the highest importance and the mean
// sentiment.
func (r *rules) apply(entities []generation.Entity, result *Result) []*tuple {
	byKey := make(map[string]*tuple, len(entities))
	out := make([]*tuple, 0, len(entities))
	for _, e := range entities {
		key, name := Canonical(e.Name), e.Name
		if key == "" {
			continue
		}
		if target, ok := r.merges[key]; ok {
			key, name = Canonical(target), target
		}
		if r.suppress[key] {
			result.Suppressed++
			continue
		}

		if existing, ok := byKey[key]; ok {
			existing.importance = math.Max(existing.importance, e.Importance)
			existing.sentiment = (existing.sentiment*float64(existing.seen) + e.Sentiment) / float64(existing.seen+1)
			existing.seen++
			continue
		}
		entityType := store.EntityType(e.Type)
		if !entityType.Valid() {
			entityType = store.EntityConcept
		}
		t := &tuple{
			key:        key,
			name:       name,
			entityType: entityType,
			importance: e.Importance,
			sentiment:  e.Sentiment,
			seen:       1,
		}
		byKey[key] = t
		out = append(out, t)
	}
	return out
}

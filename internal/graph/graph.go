package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"storypool/internal/generation"
	"storypool/internal/store"
)

// RelationshipScale normalizes co-occurrence counts into edge strength.
const RelationshipScale = 10.0

type Extractor interface {
	ExtractEntities(ctx context.Context, text string) ([]generation.Entity, error)
}

// Service is the only writer of entities, mentions, features and
// relationships.
type Service struct {
	store     store.Graph
	extractor Extractor
	logger    *zap.Logger
}

func New(s store.Graph, extractor Extractor, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: s, extractor: extractor, logger: logger}
}

// Canonical is the dedup key for an entity name.
func Canonical(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// DiscoverRelationships links every entity pair mentioned together in at
// least minCooccurrences distinct stories and returns the number of edges
// written.
func (s *Service) DiscoverRelationships(ctx context.Context, minCooccurrences int) (int, error) {
	if minCooccurrences < 1 {
		minCooccurrences = 1
	}
	pairs, err := s.store.Cooccurrences(ctx, minCooccurrences)
	if err != nil {
		return 0, fmt.Errorf("finding co-occurrences: %w", err)
	}

	written := 0
	for _, p := range pairs {
		err := s.store.UpsertRelationship(ctx, store.Relationship{
			EntityA:           p.EntityA,
			EntityB:           p.EntityB,
			CooccurrenceCount: p.Stories,
			Strength:          float64(p.Stories) / RelationshipScale,
		})
		if err != nil {
			return written, fmt.Errorf("upserting relationship %d-%d: %w", p.EntityA, p.EntityB, err)
		}
		written++
	}
	return written, nil
}

// MergeEntities folds source into target by name. Both must exist.
func (s *Service) MergeEntities(ctx context.Context, source, target string) error {
	src, dst, err := s.resolvePair(ctx, source, target)
	if err != nil {
		return err
	}
	if err := s.store.MergeEntities(ctx, src.ID, dst.ID); err != nil {
		return fmt.Errorf("merging %q into %q: %w", src.CanonicalName, dst.CanonicalName, err)
	}
	s.logger.Info("entities merged",
		zap.String("source", src.CanonicalName),
		zap.String("target", dst.CanonicalName))
	return nil
}

func (s *Service) resolvePair(ctx context.Context, source, target string) (*store.Entity, *store.Entity, error) {
	srcKey, dstKey := Canonical(source), Canonical(target)
	if srcKey == "" || dstKey == "" {
		return nil, nil, fmt.Errorf("source and target names are required")
	}
	if srcKey == dstKey {
		return nil, nil, fmt.Errorf("cannot merge %q into itself", srcKey)
	}
	src, err := s.store.GetEntityByName(ctx, srcKey)
	if err != nil {
		return nil, nil, fmt.Errorf("source entity: %w", err)
	}
	dst, err := s.store.GetEntityByName(ctx, dstKey)
	if err != nil {
		return nil, nil, fmt.Errorf("target entity: %w", err)
	}
	return src, dst, nil
}

// Suppress stops name from being linked by future extractions.
func (s *Service) Suppress(ctx context.Context, name string) error {
	key := Canonical(name)
	if key == "" {
		return fmt.Errorf("entity name is required")
	}
	if err := s.store.SaveOverride(ctx, store.EntityOverride{CanonicalName: key, Action: store.OverrideSuppress}); err != nil {
		return fmt.Errorf("saving suppression: %w", err)
	}
	return nil
}

// AddMergeRule routes future extractions of name to target and folds an
// existing entity for name into target when both already exist. It reports
// whether a merge happened.
func (s *Service) AddMergeRule(ctx context.Context, name, target string) (bool, error) {
	key, targetName := Canonical(name), strings.TrimSpace(target)
	if key == "" || targetName == "" {
		return false, fmt.Errorf("source and target names are required")
	}
	if key == Canonical(targetName) {
		return false, fmt.Errorf("cannot merge %q into itself", key)
	}
	err := s.store.SaveOverride(ctx, store.EntityOverride{
		CanonicalName: key,
		Action:        store.OverrideMerge,
		Target:        targetName,
	})
	if err != nil {
		return false, fmt.Errorf("saving merge rule: %w", err)
	}

	err = s.MergeEntities(ctx, key, targetName)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) ListOverrides(ctx context.Context) ([]store.EntityOverride, error) {
	return s.store.ListOverrides(ctx)
}

func (s *Service) DeleteOverride(ctx context.Context, name string) error {
	return s.store.DeleteOverride(ctx, Canonical(name))
}

func (s *Service) TopEntities(ctx context.Context, limit int) ([]store.Entity, error) {
	return s.store.TopEntities(ctx, limit)
}

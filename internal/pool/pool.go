package pool

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"

	"storypool/internal/chaos"
	"storypool/internal/config"
	"storypool/internal/generation"
	"storypool/internal/notify"
	"storypool/internal/store"
)

const (
	ReasonCapacity = "pool capacity reached"
	ReasonReplaced = "Replaced by new story"
)

type PremiseGenerator interface {
	Premise(ctx context.Context, req generation.PremiseRequest) (*generation.Premise, error)
}

// Maintainer keeps the number of active stories within the runtime bounds.
// It only ever acts on current counts, so calling it again after a partial
// failure is safe.
type Maintainer struct {
	stories   store.Stories
	premises  PremiseGenerator
	publisher notify.Publisher
	logger    *zap.Logger
	now       func() time.Time

	rngMu sync.Mutex
	rng   *rand.Rand
}

func New(stories store.Stories, premises PremiseGenerator, publisher notify.Publisher, logger *zap.Logger, rng *rand.Rand) *Maintainer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if publisher == nil {
		publisher = notify.Discard{}
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Maintainer{
		stories:   stories,
		premises:  premises,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
		rng:       rng,
	}
}

type Result struct {
	Spawned int
	Retired int
	// Active is the active set left after reconciling, oldest first.
	Active []store.Story
	// SpawnErr is the failure that stopped spawning, if any.
	SpawnErr error
}

// Reconcile retires the oldest stories above the maximum and spawns new
// ones below the minimum. A spawn failure stops further spawns but keeps
// the ones already created and is reported in Result.SpawnErr.
func (m *Maintainer) Reconcile(ctx context.Context, rt config.RuntimeConfig) (*Result, error) {
	active, err := m.activeOldestFirst(ctx)
	if err != nil {
		return nil, err
	}

	result := &Result{}
	for len(active) > rt.MaxActiveStories {
		oldest := active[0]
		active = active[1:]
		retired, err := m.retire(ctx, oldest, ReasonCapacity)
		if err != nil {
			return nil, err
		}
		if retired {
			result.Retired++
		}
	}

	for len(active) < rt.MinActiveStories {
		s, err := m.spawn(ctx, rt)
		if err != nil {
			m.logger.Warn("spawning story failed", zap.Error(err))
			result.SpawnErr = err
			break
		}
		result.Spawned++
		active = append(active, *s)
	}

	result.Active = active
	return result, nil
}

// Spawn creates one story on demand. When the pool is full the oldest active
// story is retired first unless force is set, in which case the pool may
// exceed its maximum until the next reconcile.
func (m *Maintainer) Spawn(ctx context.Context, rt config.RuntimeConfig, force bool) (*store.Story, error) {
	if !force {
		active, err := m.activeOldestFirst(ctx)
		if err != nil {
			return nil, err
		}
		if len(active) >= rt.MaxActiveStories && len(active) > 0 {
			if _, err := m.retire(ctx, active[0], ReasonReplaced); err != nil {
				return nil, err
			}
		}
	}
	return m.spawn(ctx, rt)
}

func (m *Maintainer) activeOldestFirst(ctx context.Context) ([]store.Story, error) {
	stories, err := m.stories.ListStories(ctx, store.StatusActive)
	if err != nil {
		return nil, fmt.Errorf("listing active stories: %w", err)
	}
	// ListStories is newest first.
	for i, j := 0, len(stories)-1; i < j; i, j = i+1, j-1 {
		stories[i], stories[j] = stories[j], stories[i]
	}
	return stories, nil
}

// retire reports false when the story had already left the active state.
func (m *Maintainer) retire(ctx context.Context, s store.Story, reason string) (bool, error) {
	err := m.stories.CompleteStory(ctx, s.ID, store.StatusCompleted, reason, m.now().UTC())
	if errors.Is(err, store.ErrConflict) {
		m.logger.Info("story already retired", zap.Int64("story_id", s.ID))
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("retiring story %d: %w", s.ID, err)
	}

	m.logger.Info("story retired", zap.Int64("story_id", s.ID), zap.String("title", s.Title), zap.String("reason", reason))
	m.publisher.Publish(notify.StoryCompleted, map[string]any{
		"story_id": s.ID,
		"reason":   reason,
		"status":   string(store.StatusCompleted),
	})
	return true, nil
}

func (m *Maintainer) spawn(ctx context.Context, rt config.RuntimeConfig) (*store.Story, error) {
	count, err := m.stories.CountStories(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("counting stories: %w", err)
	}

	m.rngMu.Lock()
	seeds := chaos.Draw(m.rng)
	settings := chaos.JitterContent(m.rng, rt.ContentAxes)
	authors := generation.PickStyleAuthors(m.rng)
	m.rngMu.Unlock()

	premise, err := m.premises.Premise(ctx, generation.PremiseRequest{
		StoryCount:      count,
		StyleAuthors:    authors,
		ContentSettings: settings,
	})
	if err != nil {
		return nil, fmt.Errorf("requesting premise: %w", err)
	}

	s := &store.Story{
		Title:                premise.Title,
		Premise:              premise.Premise,
		Status:               store.StatusActive,
		CreatedAt:            m.now().UTC(),
		Seeds:                seeds,
		ContentSettings:      settings,
		TotalTokens:          premise.TokensUsed,
		Tone:                 premise.Tone,
		GenreTags:            premise.GenreTags,
		StyleAuthors:         premise.StyleAuthors,
		NarrativePerspective: premise.NarrativePerspective,
	}
	if err := m.stories.CreateStory(ctx, s); err != nil {
		return nil, fmt.Errorf("creating story: %w", err)
	}

	m.logger.Info("story spawned", zap.Int64("story_id", s.ID), zap.String("title", s.Title))
	m.publisher.Publish(notify.NewStory, map[string]any{
		"story_id": s.ID,
		"title":    s.Title,
	})
	return s, nil
}

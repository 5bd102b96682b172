package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"storypool/internal/chaos"
	"storypool/internal/config"
	"storypool/internal/generation"
	"storypool/internal/graph"
	"storypool/internal/notify"
	"storypool/internal/store"
)

const ReasonMaxChapters = "maximum chapter count reached"

type ChapterWriter interface {
	Chapter(ctx context.Context, req generation.ChapterRequest) (*generation.Chapter, error)
}

type Repository interface {
	store.Stories
	store.Chapters
}

// Enqueuer accepts enrichment work without blocking. It reports false when
// the job was dropped.
type Enqueuer interface {
	Enqueue(job graph.Job) bool
}

// Scheduler writes the next chapter of a story when its interval has
// elapsed. Only one tick runs per story at a time; the orchestrator lease
// guarantees that, so there is no per-story lock here.
type Scheduler struct {
	repo      Repository
	writer    ChapterWriter
	enqueuer  Enqueuer
	publisher notify.Publisher
	logger    *zap.Logger
	now       func() time.Time
}

func New(repo Repository, writer ChapterWriter, enqueuer Enqueuer, publisher notify.Publisher, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if publisher == nil {
		publisher = notify.Discard{}
	}
	return &Scheduler{
		repo:      repo,
		writer:    writer,
		enqueuer:  enqueuer,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

type Outcome struct {
	// Chapter is set when a chapter was written on this tick.
	Chapter   *store.Chapter
	Completed bool
	// Duplicate reports that another invocation already wrote the chapter.
	Duplicate bool
}

// Due reports whether a story whose latest chapter is last (nil when none)
// should get a new chapter at now.
func Due(last *store.Chapter, now time.Time, interval time.Duration) bool {
	return last == nil || now.Sub(last.CreatedAt) >= interval
}

// Tick retires s if it reached the chapter limit and otherwise writes its
// next chapter when due.
func (s *Scheduler) Tick(ctx context.Context, story store.Story, rt config.RuntimeConfig) (*Outcome, error) {
	last, err := s.repo.LastChapter(ctx, story.ID)
	if err != nil {
		return nil, fmt.Errorf("reading last chapter: %w", err)
	}
	if out, done, err := s.retireIfFull(ctx, story, last, rt); done || err != nil {
		return out, err
	}
	if !Due(last, s.now(), rt.ChapterInterval()) {
		return &Outcome{}, nil
	}
	return s.write(ctx, story, last, rt)
}

// GenerateNow writes the next chapter of an active story regardless of its
// interval. The chapter limit still applies.
func (s *Scheduler) GenerateNow(ctx context.Context, storyID int64, rt config.RuntimeConfig) (*Outcome, error) {
	story, err := s.repo.GetStory(ctx, storyID)
	if err != nil {
		return nil, err
	}
	if story.Status != store.StatusActive {
		return nil, fmt.Errorf("story %d is %s: %w", storyID, story.Status, store.ErrConflict)
	}
	last, err := s.repo.LastChapter(ctx, story.ID)
	if err != nil {
		return nil, fmt.Errorf("reading last chapter: %w", err)
	}
	if out, done, err := s.retireIfFull(ctx, *story, last, rt); done || err != nil {
		return out, err
	}
	return s.write(ctx, *story, last, rt)
}

func (s *Scheduler) retireIfFull(ctx context.Context, story store.Story, last *store.Chapter, rt config.RuntimeConfig) (*Outcome, bool, error) {
	if last == nil || last.ChapterNumber < rt.MaxChaptersPerStory {
		return nil, false, nil
	}
	err := s.repo.CompleteStory(ctx, story.ID, store.StatusCompleted, ReasonMaxChapters, s.now().UTC())
	if errors.Is(err, store.ErrConflict) {
		s.logger.Info("story already left the pool", zap.Int64("story_id", story.ID))
		return &Outcome{}, true, nil
	}
	if err != nil {
		return nil, true, fmt.Errorf("completing story: %w", err)
	}
	s.logger.Info("story retired",
		zap.Int64("story_id", story.ID),
		zap.Int("chapters", last.ChapterNumber),
		zap.String("reason", ReasonMaxChapters))
	s.publisher.Publish(notify.StoryCompleted, map[string]any{
		"story_id": story.ID,
		"reason":   ReasonMaxChapters,
		"status":   string(store.StatusCompleted),
	})
	return &Outcome{Completed: true}, true, nil
}

func (s *Scheduler) write(ctx context.Context, story store.Story, last *store.Chapter, rt config.RuntimeConfig) (*Outcome, error) {
	number := 1
	var previous map[string]float64
	if last != nil {
		number = last.ChapterNumber + 1
		previous = last.ContentLevels
	}

	recent, err := s.repo.RecentChapters(ctx, story.ID, rt.ContextWindowChapters)
	if err != nil {
		return nil, fmt.Errorf("reading recent chapters: %w", err)
	}
	window := make([]generation.PriorChapter, len(recent))
	for i, c := range recent {
		window[i] = generation.PriorChapter{Number: c.ChapterNumber, Content: c.Content}
	}

	written, err := s.writer.Chapter(ctx, generation.ChapterRequest{
		Title:                story.Title,
		Premise:              story.Premise,
		Tone:                 story.Tone,
		NarrativePerspective: story.NarrativePerspective,
		StyleAuthors:         story.StyleAuthors,
		Recent:               window,
		ChapterNumber:        number,
		ChaosTargets:         chaos.Targets(story.Seeds, number),
		ContentTargets:       chaos.ContentTargets(story.ContentSettings, previous),
		ContentSettings:      story.ContentSettings,
	})
	if err != nil {
		return nil, fmt.Errorf("writing chapter %d: %w", number, err)
	}

	ch := &store.Chapter{
		StoryID:       story.ID,
		ChapterNumber: number,
		Content:       written.Content,
		Chaos:         written.Chaos,
		ContentLevels: written.ContentLevels,
		LatencyMillis: written.Latency.Milliseconds(),
		TokensUsed:    written.TokensUsed,
		CreatedAt:     s.now().UTC(),
	}
	err = s.repo.CreateChapter(ctx, ch)
	if errors.Is(err, store.ErrConflict) {
		s.logger.Info("chapter already written, skipping",
			zap.Int64("story_id", story.ID), zap.Int("chapter", number))
		return &Outcome{Duplicate: true}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storing chapter %d: %w", number, err)
	}

	s.logger.Info("chapter written",
		zap.Int64("story_id", story.ID),
		zap.Int("chapter", number),
		zap.Int64("tokens", written.TokensUsed),
		zap.Duration("latency", written.Latency))
	s.publisher.Publish(notify.NewChapter, map[string]any{
		"story_id":       story.ID,
		"chapter_id":     ch.ID,
		"chapter_number": number,
		"tokens_used":    written.TokensUsed,
	})

	if s.enqueuer != nil {
		s.enqueuer.Enqueue(graph.Job{
			StoryID:       story.ID,
			ChapterID:     ch.ID,
			ChapterNumber: number,
			Content:       ch.Content,
		})
	}
	return &Outcome{Chapter: ch}, nil
}

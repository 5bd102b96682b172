// Package admin implements the operator actions shared by the CLI, the HTTP
// API and the MCP server.
package admin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"storypool/internal/config"
	"storypool/internal/notify"
	"storypool/internal/orchestrator"
	"storypool/internal/scheduler"
	"storypool/internal/store"
)

const DefaultKillReason = "Terminated manually"

// ErrInvalid marks a request the caller must fix.
var ErrInvalid = errors.New("invalid request")

type Spawner interface {
	Spawn(ctx context.Context, rt config.RuntimeConfig, force bool) (*store.Story, error)
}

type ChapterGenerator interface {
	GenerateNow(ctx context.Context, storyID int64, rt config.RuntimeConfig) (*scheduler.Outcome, error)
}

type Covers interface {
	Enabled() bool
	Ensure(ctx context.Context, s store.Story) (string, error)
}

type Entities interface {
	TopEntities(ctx context.Context, limit int) ([]store.Entity, error)
	AddMergeRule(ctx context.Context, name, target string) (bool, error)
	Suppress(ctx context.Context, name string) error
	ListOverrides(ctx context.Context) ([]store.EntityOverride, error)
}

type Runtime interface {
	Effective(ctx context.Context) (config.RuntimeConfig, error)
	Patch(ctx context.Context, update []byte) (config.RuntimeConfig, error)
	Reset(ctx context.Context) error
}

type Deps struct {
	Store     store.Store
	Pool      Spawner
	Chapters  ChapterGenerator
	Covers    Covers
	Entities  Entities
	Runtime   Runtime
	Publisher notify.Publisher
	Logger    *zap.Logger
	// LeaseTTL bounds the tick lease held while a chapter is written on
	// demand. Zero means the loop's default.
	LeaseTTL  time.Duration
}

type Service struct {
	store     store.Store
	pool      Spawner
	chapters  ChapterGenerator
	covers    Covers
	entities  Entities
	runtime   Runtime
	publisher notify.Publisher
	logger    *zap.Logger
	leaseTTL  time.Duration
	now       func() time.Time
}

func New(deps Deps) *Service {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Publisher == nil {
		deps.Publisher = notify.Discard{}
	}
	if deps.LeaseTTL <= 0 {
		deps.LeaseTTL = config.Default().Loop.LeaseTTL
	}
	return &Service{
		store:     deps.Store,
		pool:      deps.Pool,
		chapters:  deps.Chapters,
		covers:    deps.Covers,
		entities:  deps.Entities,
		runtime:   deps.Runtime,
		publisher: deps.Publisher,
		logger:    deps.Logger,
		leaseTTL:  deps.LeaseTTL,
		now:       time.Now,
	}
}

// StoryDetail is a story with its full chapter and evaluation history.
type StoryDetail struct {
	Story       store.Story        `json:"story"`
	Chapters    []store.Chapter    `json:"chapters"`
	Evaluations []store.Evaluation `json:"evaluations"`
}

func (s *Service) ListStories(ctx context.Context, status store.StoryStatus) ([]store.Story, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("unknown status %q: %w", status, ErrInvalid)
	}
	return s.store.ListStories(ctx, status)
}

func (s *Service) GetStory(ctx context.Context, id int64) (*StoryDetail, error) {
	story, err := s.store.GetStory(ctx, id)
	if err != nil {
		return nil, err
	}
	chapters, err := s.store.ListChapters(ctx, id)
	if err != nil {
		return nil, err
	}
	evaluations, err := s.store.ListEvaluations(ctx, id)
	if err != nil {
		return nil, err
	}
	return &StoryDetail{Story: *story, Chapters: chapters, Evaluations: evaluations}, nil
}

// Spawn creates a story now. Unless force is set a full pool gives up its
// oldest story first.
func (s *Service) Spawn(ctx context.Context, force bool) (*store.Story, error) {
	rt, err := s.runtime.Effective(ctx)
	if err != nil {
		return nil, err
	}
	return s.pool.Spawn(ctx, rt, force)
}

// Kill terminates an active story, attempts its cover art, and announces the
// completion with the cover URL when one was produced.
func (s *Service) Kill(ctx context.Context, id int64, reason string) (*store.Story, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = DefaultKillReason
	}
	if err := s.store.CompleteStory(ctx, id, store.StatusKilled, reason, s.now().UTC()); err != nil {
		return nil, err
	}
	story, err := s.store.GetStory(ctx, id)
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"story_id": id,
		"reason":   reason,
		"status":   string(store.StatusKilled),
	}
	if s.covers != nil && s.covers.Enabled() {
		url, err := s.covers.Ensure(ctx, *story)
		if err != nil {
			s.logger.Warn("cover art failed, leaving it to backfill", zap.Int64("story_id", id), zap.Error(err))
		} else {
			story.CoverImageURL = url
			payload["cover_image_url"] = url
		}
	}

	s.logger.Info("story killed", zap.Int64("story_id", id), zap.String("reason", reason))
	s.publisher.Publish(notify.StoryCompleted, payload)
	return story, nil
}

func (s *Service) Delete(ctx context.Context, id int64) error {
	if err := s.store.DeleteStory(ctx, id); err != nil {
		return err
	}
	s.logger.Info("story deleted", zap.Int64("story_id", id))
	return nil
}

// Reset deletes every story and the stored runtime overrides.
func (s *Service) Reset(ctx context.Context) (int64, error) {
	deleted, err := s.store.DeleteAllStories(ctx)
	if err != nil {
		return 0, err
	}
	if err := s.runtime.Reset(ctx); err != nil {
		return deleted, err
	}
	s.logger.Warn("pool reset", zap.Int64("deleted_stories", deleted))
	s.publisher.Publish(notify.SystemReset, map[string]any{"deleted_stories": deleted})
	return deleted, nil
}

func (s *Service) Config(ctx context.Context) (config.RuntimeConfig, error) {
	return s.runtime.Effective(ctx)
}

// PatchConfig stores a partial runtime override given as a JSON object.
func (s *Service) PatchConfig(ctx context.Context, update []byte) (config.RuntimeConfig, error) {
	rt, err := s.runtime.Patch(ctx, update)
	if err != nil {
		if errors.Is(err, config.ErrInvalidOverride) {
			return rt, fmt.Errorf("%w: %w", ErrInvalid, err)
		}
		return rt, err
	}
	s.logger.Info("runtime overrides updated")
	return rt, nil
}

func (s *Service) Stats(ctx context.Context) (*store.Stats, error) {
	return s.store.Stats(ctx)
}

// GenerateChapter writes the next chapter of a story immediately. It holds
// the tick lease while writing, so it never runs alongside a tick; while a
// tick is in progress it fails with store.ErrConflict.
func (s *Service) GenerateChapter(ctx context.Context, id int64) (*scheduler.Outcome, error) {
	rt, err := s.runtime.Effective(ctx)
	if err != nil {
		return nil, err
	}

	guard := orchestrator.NewGuard(s.store, orchestrator.TickLease, uuid.NewString(), s.leaseTTL)
	lease, err := guard.Acquire(ctx)
	if errors.Is(err, orchestrator.ErrTickInProgress) {
		return nil, fmt.Errorf("story %d: %w: %w", id, store.ErrConflict, err)
	}
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := guard.Release(context.WithoutCancel(ctx), lease); err != nil {
			s.logger.Warn("releasing tick lease failed", zap.Error(err))
		}
	}()
	return s.chapters.GenerateNow(ctx, id, rt)
}

func (s *Service) Entities(ctx context.Context, limit int) ([]store.Entity, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.entities.TopEntities(ctx, limit)
}

// MergeEntities records a merge rule from source to target and folds an
// existing source entity into target. It reports whether a fold happened.
func (s *Service) MergeEntities(ctx context.Context, source, target string) (bool, error) {
	if strings.TrimSpace(source) == "" || strings.TrimSpace(target) == "" {
		return false, fmt.Errorf("source and target are required: %w", ErrInvalid)
	}
	return s.entities.AddMergeRule(ctx, source, target)
}

func (s *Service) SuppressEntity(ctx context.Context, name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("entity name is required: %w", ErrInvalid)
	}
	return s.entities.Suppress(ctx, name)
}

func (s *Service) Overrides(ctx context.Context) ([]store.EntityOverride, error) {
	return s.entities.ListOverrides(ctx)
}

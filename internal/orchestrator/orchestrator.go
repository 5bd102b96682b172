package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"storypool/internal/config"
	"storypool/internal/evaluation"
	"storypool/internal/generation"
	"storypool/internal/pool"
	"storypool/internal/scheduler"
	"storypool/internal/store"
)

type RuntimeSource interface {
	Effective(ctx context.Context) (config.RuntimeConfig, error)
}

type Reconciler interface {
	Reconcile(ctx context.Context, rt config.RuntimeConfig) (*pool.Result, error)
}

type ChapterTicker interface {
	Tick(ctx context.Context, s store.Story, rt config.RuntimeConfig) (*scheduler.Outcome, error)
}

type EvaluationTicker interface {
	Tick(ctx context.Context, s store.Story, rt config.RuntimeConfig) (*evaluation.Outcome, error)
}

type CoverBackfiller interface {
	Backfill(ctx context.Context, limit int) (int, error)
}

type RelationshipDiscoverer interface {
	DiscoverRelationships(ctx context.Context, minCooccurrences int) (int, error)
}

// Observer receives every tick outcome, including skipped and failed ones.
type Observer interface {
	ObserveTick(r *Report, err error)
	ObserveRelationships(written int, err error)
}

type Deps struct {
	Store         store.Store
	Runtime       RuntimeSource
	Pool          Reconciler
	Scheduler     ChapterTicker
	Evaluation    EvaluationTicker
	Covers        CoverBackfiller
	Relationships RelationshipDiscoverer
	Observer      Observer
	Logger        *zap.Logger
}

// Report summarizes one tick.
type Report struct {
	LeaseToken   int64
	Spawned      int
	Retired      int
	Active       int
	Chapters     int
	Evaluations  int
	Completed    int
	Skipped      int
	Failed       int
	CoversAdded  int
	StoppedEarly bool
	Duration     time.Duration
}

type Runner struct {
	deps     Deps
	cfg      config.LoopConfig
	holder   string
	tick     *Guard
	discover *Guard
	logger   *zap.Logger
	now      func() time.Time
}

func New(deps Deps, cfg config.LoopConfig) *Runner {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	holder := uuid.NewString()
	return &Runner{
		deps:     deps,
		cfg:      cfg,
		holder:   holder,
		tick:     NewGuard(deps.Store, TickLease, holder, cfg.LeaseTTL),
		discover: NewGuard(deps.Store, RelationshipLease, holder, cfg.LeaseTTL),
		logger:   logger.With(zap.String("holder", holder)),
		now:      time.Now,
	}
}

// Guard is the tick guard owned by this runner's loop.
func (r *Runner) Guard() *Guard {
	return r.tick
}

// ManualGuard returns a tick guard under a fresh holder, so a manual tick
// never re-enters the loop's own lease.
func (r *Runner) ManualGuard() *Guard {
	return NewGuard(r.deps.Store, TickLease, uuid.NewString(), r.cfg.LeaseTTL)
}

// Tick runs one invocation of the loop under guard: reconcile the pool, then
// advance every remaining active story with bounded concurrency, then
// backfill cover art. It returns ErrTickInProgress when guard is held.
func (r *Runner) Tick(ctx context.Context, guard *Guard) (*Report, error) {
	start := r.now()
	report, err := r.runTick(ctx, guard, start)
	if report != nil {
		report.Duration = r.now().Sub(start)
	}
	if r.deps.Observer != nil {
		r.deps.Observer.ObserveTick(report, err)
	}

	switch {
	case errors.Is(err, ErrTickInProgress):
		r.logger.Info("tick skipped, another invocation holds the lease")
	case err != nil:
		r.logger.Error("tick failed", zap.Error(err))
	default:
		r.logger.Info("tick finished",
			zap.Int64("lease_token", report.LeaseToken),
			zap.Int("spawned", report.Spawned),
			zap.Int("retired", report.Retired),
			zap.Int("active", report.Active),
			zap.Int("chapters", report.Chapters),
			zap.Int("evaluations", report.Evaluations),
			zap.Int("completed", report.Completed),
			zap.Int("skipped", report.Skipped),
			zap.Int("failed", report.Failed),
			zap.Int("covers_added", report.CoversAdded),
			zap.Bool("stopped_early", report.StoppedEarly),
			zap.Duration("duration", report.Duration))
	}
	return report, err
}

func (r *Runner) runTick(ctx context.Context, guard *Guard, start time.Time) (*Report, error) {
	lease, err := guard.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := guard.Release(context.WithoutCancel(ctx), lease); err != nil {
			r.logger.Warn("releasing tick lease failed", zap.Error(err))
		}
	}()

	deadline := start.Add(r.cfg.Budget)
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	report := &Report{LeaseToken: lease.Token}

	rt, err := r.deps.Runtime.Effective(ctx)
	if err != nil {
		return report, err
	}

	reconciled, err := r.deps.Pool.Reconcile(ctx, rt)
	if err != nil {
		return report, fmt.Errorf("reconciling pool: %w", err)
	}
	report.Spawned = reconciled.Spawned
	report.Retired = reconciled.Retired
	report.Active = len(reconciled.Active)

	r.advanceStories(ctx, reconciled.Active, rt, deadline, report)

	if r.deps.Covers != nil && r.cfg.BackfillBatch > 0 && r.hasBudget(deadline) {
		added, err := r.deps.Covers.Backfill(ctx, r.cfg.BackfillBatch)
		if err != nil {
			r.logger.Warn("cover backfill failed", zap.Error(err))
		}
		report.CoversAdded = added
	}
	return report, nil
}

func (r *Runner) hasBudget(deadline time.Time) bool {
	return deadline.Sub(r.now()) >= r.cfg.SafetyMargin
}

func (r *Runner) advanceStories(ctx context.Context, stories []store.Story, rt config.RuntimeConfig, deadline time.Time, report *Report) {
	var mu sync.Mutex
	record := func(f func(*Report)) {
		mu.Lock()
		f(report)
		mu.Unlock()
	}

	workers := r.cfg.Workers
	if workers < 1 {
		workers = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, s := range stories {
		if !r.hasBudget(deadline) {
			record(func(rep *Report) { rep.StoppedEarly = true })
			break
		}
		g.Go(func() error {
			r.advanceStory(gctx, s, rt, record)
			return nil
		})
	}
	_ = g.Wait()
}

// advanceStory runs the chapter step then the evaluation step for one story.
// Failures are counted and logged; they never stop other stories.
func (r *Runner) advanceStory(ctx context.Context, s store.Story, rt config.RuntimeConfig, record func(func(*Report))) {
	logger := r.logger.With(zap.Int64("story_id", s.ID))

	current, err := r.deps.Store.GetStory(ctx, s.ID)
	if err != nil {
		logger.Warn("re-reading story failed", zap.Error(err))
		record(func(rep *Report) { rep.Failed++ })
		return
	}
	if current.Status != store.StatusActive {
		record(func(rep *Report) { rep.Skipped++ })
		return
	}

	chapter, err := r.deps.Scheduler.Tick(ctx, *current, rt)
	if err != nil {
		r.recordFailure(logger, "chapter step failed", err, record)
		return
	}
	if chapter.Chapter != nil {
		record(func(rep *Report) { rep.Chapters++ })
	}
	if chapter.Completed {
		record(func(rep *Report) { rep.Completed++ })
		return
	}

	verdict, err := r.deps.Evaluation.Tick(ctx, *current, rt)
	if err != nil {
		r.recordFailure(logger, "evaluation step failed", err, record)
		return
	}
	if verdict.Evaluated {
		record(func(rep *Report) { rep.Evaluations++ })
	}
	if verdict.Completed {
		record(func(rep *Report) { rep.Completed++ })
	}
}

// recordFailure counts an unavailable collaborator or an expired budget as a
// skip, since the next tick retries it, and anything else as a failure.
func (r *Runner) recordFailure(logger *zap.Logger, msg string, err error, record func(func(*Report))) {
	if errors.Is(err, generation.ErrUnavailable) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		logger.Warn(msg, zap.Error(err))
		record(func(rep *Report) { rep.Skipped++ })
		return
	}
	logger.Error(msg, zap.Error(err))
	record(func(rep *Report) { rep.Failed++ })
}

// DiscoverRelationships runs relationship discovery under its own lease.
func (r *Runner) DiscoverRelationships(ctx context.Context) (int, error) {
	if r.deps.Relationships == nil {
		return 0, nil
	}
	written, err := r.discoverRelationships(ctx)
	if r.deps.Observer != nil {
		r.deps.Observer.ObserveRelationships(written, err)
	}
	switch {
	case errors.Is(err, ErrTickInProgress):
		r.logger.Info("relationship discovery skipped, lease held elsewhere")
	case err != nil:
		r.logger.Error("relationship discovery failed", zap.Error(err))
	default:
		r.logger.Info("relationships discovered", zap.Int("written", written))
	}
	return written, err
}

func (r *Runner) discoverRelationships(ctx context.Context) (int, error) {
	lease, err := r.discover.Acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err := r.discover.Release(context.WithoutCancel(ctx), lease); err != nil {
			r.logger.Warn("releasing relationship lease failed", zap.Error(err))
		}
	}()
	return r.deps.Relationships.DiscoverRelationships(ctx, r.cfg.MinCooccurrences)
}

// Run ticks immediately and then every TickInterval, and discovers
// relationships every RelationshipInterval, until ctx is done.
func (r *Runner) Run(ctx context.Context) error {
	ticks := time.NewTicker(r.cfg.TickInterval)
	defer ticks.Stop()

	var discover <-chan time.Time
	if r.cfg.RelationshipInterval > 0 && r.deps.Relationships != nil {
		t := time.NewTicker(r.cfg.RelationshipInterval)
		defer t.Stop()
		discover = t.C
	}

	r.Tick(ctx, r.tick)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticks.C:
			r.Tick(ctx, r.tick)
		case <-discover:
			r.DiscoverRelationships(ctx)
		}
	}
}

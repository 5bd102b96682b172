package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"storypool/internal/config"
	"storypool/internal/evaluation"
	"storypool/internal/generation"
	"storypool/internal/pool"
	"storypool/internal/scheduler"
	"storypool/internal/store"
	"storypool/internal/store/sqlite"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type staticRuntime struct{}

func (staticRuntime) Effective(ctx context.Context) (config.RuntimeConfig, error) {
	return config.DefaultRuntime(), nil
}

type fakePool struct {
	db *sqlite.Client
}

func (f *fakePool) Reconcile(ctx context.Context, rt config.RuntimeConfig) (*pool.Result, error) {
	active, err := f.db.ListStories(ctx, store.StatusActive)
	if err != nil {
		return nil, err
	}
	return &pool.Result{Spawned: 1, Active: active}, nil
}

type fakeChapters struct {
	mu    sync.Mutex
	errs  map[string]error
	calls int
}

func (f *fakeChapters) Tick(ctx context.Context, s store.Story, rt config.RuntimeConfig) (*scheduler.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.errs[s.Title]; err != nil {
		return nil, err
	}
	return &scheduler.Outcome{Chapter: &store.Chapter{StoryID: s.ID, ChapterNumber: 1}}, nil
}

type fakeGate struct {
	completes string
}

func (f *fakeGate) Tick(ctx context.Context, s store.Story, rt config.RuntimeConfig) (*evaluation.Outcome, error) {
	if s.Title == f.completes {
		return &evaluation.Outcome{Evaluated: true, Completed: true}, nil
	}
	return &evaluation.Outcome{}, nil
}

type fakeBackfill struct {
	calls int
}

func (f *fakeBackfill) Backfill(ctx context.Context, limit int) (int, error) {
	f.calls++
	return 2, nil
}

type fakeDiscoverer struct {
	minimum int
}

func (f *fakeDiscoverer) DiscoverRelationships(ctx context.Context, minCooccurrences int) (int, error) {
	f.minimum = minCooccurrences
	return 3, nil
}

type observed struct {
	ticks []error
	rels  []int
}

func (o *observed) ObserveTick(r *Report, err error) { o.ticks = append(o.ticks, err) }

func (o *observed) ObserveRelationships(written int, err error) { o.rels = append(o.rels, written) }

type fixture struct {
	db       *sqlite.Client
	chapters *fakeChapters
	gate     *fakeGate
	covers   *fakeBackfill
	observer *observed
	runner   *Runner
}

func newFixture(t *testing.T, titles ...string) *fixture {
	t.Helper()
	ctx := context.Background()
	db, err := sqlite.New(ctx, "sqlite://:memory:")
	if err != nil {
		t.Fatalf("opening sqlite: %v", err)
	}
	if err := db.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	t.Cleanup(func() { _ = db.Close(ctx) })

	for _, title := range titles {
		if err := db.CreateStory(ctx, &store.Story{Title: title, Premise: "premise"}); err != nil {
			t.Fatalf("create story: %v", err)
		}
	}

	f := &fixture{
		db:       db,
		chapters: &fakeChapters{errs: map[string]error{}},
		gate:     &fakeGate{},
		covers:   &fakeBackfill{},
		observer: &observed{},
	}
	f.runner = New(Deps{
		Store:         db,
		Runtime:       staticRuntime{},
		Pool:          &fakePool{db: db},
		Scheduler:     f.chapters,
		Evaluation:    f.gate,
		Covers:        f.covers,
		Relationships: &fakeDiscoverer{},
		Observer:      f.observer,
	}, config.Default().Loop)
	return f
}

func TestTick(t *testing.T) {
	ctx := context.Background()

	t.Run("advances every active story", func(t *testing.T) {
		f := newFixture(t, "one", "two", "three")
		f.gate.completes = "two"

		report, err := f.runner.Tick(ctx, f.runner.Guard())
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if report.Spawned != 1 || report.Active != 3 || report.Chapters != 3 {
			t.Fatalf("unexpected report %+v", report)
		}
		if report.Evaluations != 1 || report.Completed != 1 || report.CoversAdded != 2 {
			t.Fatalf("unexpected report %+v", report)
		}
		if report.LeaseToken != 1 || report.StoppedEarly {
			t.Fatalf("unexpected report %+v", report)
		}
		if len(f.observer.ticks) != 1 || f.observer.ticks[0] != nil {
			t.Fatalf("expected one observed tick, got %v", f.observer.ticks)
		}
	})

	t.Run("held lease skips the invocation", func(t *testing.T) {
		f := newFixture(t, "one")
		other := NewGuard(f.db, TickLease, "someone-else", time.Minute)
		if _, err := other.Acquire(ctx); err != nil {
			t.Fatalf("acquire: %v", err)
		}

		_, err := f.runner.Tick(ctx, f.runner.Guard())
		if !errors.Is(err, ErrTickInProgress) {
			t.Fatalf("expected ErrTickInProgress, got %v", err)
		}
		if f.chapters.calls != 0 {
			t.Fatalf("expected no story work, got %d calls", f.chapters.calls)
		}
		if len(f.observer.ticks) != 1 || !errors.Is(f.observer.ticks[0], ErrTickInProgress) {
			t.Fatalf("expected observed skip, got %v", f.observer.ticks)
		}
	})

	t.Run("lease is released after the tick", func(t *testing.T) {
		f := newFixture(t, "one")
		if _, err := f.runner.Tick(ctx, f.runner.Guard()); err != nil {
			t.Fatalf("first tick: %v", err)
		}
		report, err := f.runner.Tick(ctx, f.runner.ManualGuard())
		if err != nil {
			t.Fatalf("expected second holder to acquire, got %v", err)
		}
		if report.LeaseToken != 2 {
			t.Fatalf("expected fencing token 2, got %d", report.LeaseToken)
		}
	})

	t.Run("story failures are isolated", func(t *testing.T) {
		f := newFixture(t, "flaky", "broken", "fine")
		f.chapters.errs["flaky"] = generation.ErrUnavailable
		f.chapters.errs["broken"] = errors.New("disk full")

		report, err := f.runner.Tick(ctx, f.runner.Guard())
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if report.Skipped != 1 || report.Failed != 1 || report.Chapters != 1 {
			t.Fatalf("expected one skip, one failure and one chapter, got %+v", report)
		}
	})

	t.Run("stories retired mid-tick are skipped", func(t *testing.T) {
		f := newFixture(t, "one", "two")
		f.runner.deps.Pool = reconcileThen(f.runner.deps.Pool, func(ctx context.Context, active []store.Story) {
			if err := f.db.CompleteStory(ctx, active[0].ID, store.StatusKilled, "gone", time.Now()); err != nil {
				t.Errorf("complete: %v", err)
			}
		})

		report, err := f.runner.Tick(ctx, f.runner.Guard())
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if report.Skipped != 1 || report.Chapters != 1 {
			t.Fatalf("expected the retired story to be skipped, got %+v", report)
		}
	})

	t.Run("stops dispatching inside the safety margin", func(t *testing.T) {
		f := newFixture(t, "one", "two")
		f.runner.cfg.Budget = time.Minute
		f.runner.cfg.SafetyMargin = 50 * time.Second
		current := time.Now()
		f.runner.now = func() time.Time {
			at := current
			current = current.Add(20 * time.Second)
			return at
		}

		report, err := f.runner.Tick(ctx, f.runner.Guard())
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if !report.StoppedEarly || report.Chapters != 0 || f.covers.calls != 0 {
			t.Fatalf("expected no work inside the margin, got %+v", report)
		}
	})
}

type reconcileHook struct {
	next Reconciler
	hook func(ctx context.Context, active []store.Story)
}

func reconcileThen(next Reconciler, hook func(ctx context.Context, active []store.Story)) Reconciler {
	return &reconcileHook{next: next, hook: hook}
}

func (r *reconcileHook) Reconcile(ctx context.Context, rt config.RuntimeConfig) (*pool.Result, error) {
	res, err := r.next.Reconcile(ctx, rt)
	if err == nil {
		r.hook(ctx, res.Active)
	}
	return res, err
}

func TestDiscoverRelationships(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	discoverer := f.runner.deps.Relationships.(*fakeDiscoverer)

	written, err := f.runner.DiscoverRelationships(ctx)
	if err != nil || written != 3 {
		t.Fatalf("expected 3 relationships, got %d err=%v", written, err)
	}
	if discoverer.minimum != config.Default().Loop.MinCooccurrences {
		t.Fatalf("expected configured minimum, got %d", discoverer.minimum)
	}

	other := NewGuard(f.db, RelationshipLease, "someone-else", time.Minute)
	if _, err := other.Acquire(ctx); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := f.runner.DiscoverRelationships(ctx); !errors.Is(err, ErrTickInProgress) {
		t.Fatalf("expected held lease to skip, got %v", err)
	}
	if len(f.observer.rels) != 2 {
		t.Fatalf("expected both runs observed, got %v", f.observer.rels)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture(t, "one")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.runner.Run(ctx) }()

	deadline := time.After(5 * time.Second)
	for {
		f.chapters.mu.Lock()
		calls := f.chapters.calls
		f.chapters.mu.Unlock()
		if calls > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("expected an immediate tick")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("expected clean stop, got %v", err)
	}
}

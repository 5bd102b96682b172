package scheduler

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"storypool/internal/graph"
)

type Linker interface {
	ExtractAndLink(ctx context.Context, job graph.Job) (*graph.Result, error)
}

// Enricher runs entity extraction for persisted chapters off the tick path.
// Its queue is bounded; a full queue drops the job.
type Enricher struct {
	jobs   chan graph.Job
	linker Linker
	logger *zap.Logger

	processed atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
}

func NewEnricher(linker Linker, size int, logger *zap.Logger) *Enricher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if size < 1 {
		size = 1
	}
	return &Enricher{jobs: make(chan graph.Job, size), linker: linker, logger: logger}
}

func (e *Enricher) Enqueue(job graph.Job) bool {
	select {
	case e.jobs <- job:
		return true
	default:
		e.dropped.Add(1)
		e.logger.Warn("enrichment queue full, dropping job",
			zap.Int64("story_id", job.StoryID),
			zap.Int("chapter", job.ChapterNumber))
		return false
	}
}

// Run consumes jobs until ctx is done.
func (e *Enricher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-e.jobs:
			e.process(ctx, job)
		}
	}
}

// Drain processes whatever is queued and returns the number of jobs run.
func (e *Enricher) Drain(ctx context.Context) int {
	n := 0
	for {
		select {
		case job := <-e.jobs:
			e.process(ctx, job)
			n++
		default:
			return n
		}
	}
}

func (e *Enricher) process(ctx context.Context, job graph.Job) {
	res, err := e.linker.ExtractAndLink(ctx, job)
	if err != nil {
		e.failed.Add(1)
		e.logger.Warn("entity extraction failed",
			zap.Int64("story_id", job.StoryID),
			zap.Int("chapter", job.ChapterNumber),
			zap.Error(err))
		return
	}
	e.processed.Add(1)
	for _, err := range res.Errors {
		e.logger.Warn("linking entity failed",
			zap.Int64("story_id", job.StoryID),
			zap.Int("chapter", job.ChapterNumber),
			zap.Error(err))
	}
}

type EnricherStats struct {
	Queued    int
	Processed uint64
	Failed    uint64
	Dropped   uint64
}

func (e *Enricher) Stats() EnricherStats {
	return EnricherStats{
		Queued:    len(e.jobs),
		Processed: e.processed.Load(),
		Failed:    e.failed.Load(),
		Dropped:   e.dropped.Load(),
	}
}

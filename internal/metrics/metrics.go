// Package metrics exposes loop outcomes as Prometheus collectors.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"storypool/internal/orchestrator"
	"storypool/internal/scheduler"
)

const namespace = "storypool"

// Tick results.
const (
	ResultOK      = "ok"
	ResultSkipped = "skipped"
	ResultError   = "error"
)

type Metrics struct {
	ticks         *prometheus.CounterVec
	tickDuration  prometheus.Histogram
	stories       *prometheus.CounterVec
	active        prometheus.Gauge
	covers        prometheus.Counter
	relationships *prometheus.CounterVec
}

// New registers the loop collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Loop invocations by result.",
		}, []string{"result"}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Wall time of completed loop invocations.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		stories: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "story_events_total",
			Help:      "Per-story loop outcomes.",
		}, []string{"event"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_stories",
			Help:      "Active stories after the last reconciliation.",
		}),
		covers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "covers_added_total",
			Help:      "Cover images attached by backfill.",
		}),
		relationships: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relationship_runs_total",
			Help:      "Relationship discovery runs by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(m.ticks, m.tickDuration, m.stories, m.active, m.covers, m.relationships)
	return m
}

func result(err error) string {
	switch {
	case err == nil:
		return ResultOK
	case errors.Is(err, orchestrator.ErrTickInProgress):
		return ResultSkipped
	default:
		return ResultError
	}
}

func (m *Metrics) ObserveTick(r *orchestrator.Report, err error) {
	m.ticks.WithLabelValues(result(err)).Inc()
	if r == nil {
		return
	}
	if err == nil {
		m.tickDuration.Observe(r.Duration.Seconds())
		m.active.Set(float64(r.Active))
	}
	m.stories.WithLabelValues("spawned").Add(float64(r.Spawned))
	m.stories.WithLabelValues("retired").Add(float64(r.Retired))
	m.stories.WithLabelValues("chapter").Add(float64(r.Chapters))
	m.stories.WithLabelValues("evaluation").Add(float64(r.Evaluations))
	m.stories.WithLabelValues("completed").Add(float64(r.Completed))
	m.stories.WithLabelValues("skipped").Add(float64(r.Skipped))
	m.stories.WithLabelValues("failed").Add(float64(r.Failed))
	m.covers.Add(float64(r.CoversAdded))
}

func (m *Metrics) ObserveRelationships(written int, err error) {
	m.relationships.WithLabelValues(result(err)).Inc()
}

// EnrichmentStats is satisfied by the background enrichment queue.
type EnrichmentStats interface {
	Stats() scheduler.EnricherStats
}

// RegisterEnrichment exposes the enrichment queue counters, read at scrape
// time.
func RegisterEnrichment(reg prometheus.Registerer, e EnrichmentStats) {
	reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "enrichment",
			Name:      "queued",
			Help:      "Chapters waiting for entity extraction.",
		}, func() float64 { return float64(e.Stats().Queued) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "enrichment",
			Name:      "processed_total",
			Help:      "Chapters linked into the entity graph.",
		}, func() float64 { return float64(e.Stats().Processed) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "enrichment",
			Name:      "failed_total",
			Help:      "Chapters whose extraction failed.",
		}, func() float64 { return float64(e.Stats().Failed) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "enrichment",
			Name:      "dropped_total",
			Help:      "Chapters dropped because the queue was full.",
		}, func() float64 { return float64(e.Stats().Dropped) }),
	)
}

type HubStats interface {
	Subscribers() int
	Dropped() uint64
}

// RegisterEvents exposes the event hub's subscriber count and drops.
func RegisterEvents(reg prometheus.Registerer, h HubStats) {
	reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "subscribers",
			Help:      "Connected event stream subscribers.",
		}, func() float64 { return float64(h.Subscribers()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Events dropped for slow subscribers.",
		}, func() float64 { return float64(h.Dropped()) }),
	)
}

package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"storypool/internal/orchestrator"
	"storypool/internal/scheduler"
)

// gathered flattens a registry into "name{label=value}" -> value.
func gathered(t *testing.T, reg *prometheus.Registry) map[string]float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	out := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			key := mf.GetName()
			for _, lp := range m.GetLabel() {
				key += "{" + lp.GetName() + "=" + lp.GetValue() + "}"
			}
			switch {
			case m.GetCounter() != nil:
				out[key] = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				out[key] = m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				out[key] = float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	return out
}

func TestObserveTick(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveTick(&orchestrator.Report{
		Spawned:     2,
		Active:      5,
		Chapters:    4,
		Completed:   1,
		CoversAdded: 1,
		Duration:    3 * time.Second,
	}, nil)
	m.ObserveTick(nil, orchestrator.ErrTickInProgress)
	m.ObserveTick(&orchestrator.Report{Failed: 1}, errors.New("reconcile"))
	m.ObserveRelationships(4, nil)

	got := gathered(t, reg)
	want := map[string]float64{
		"storypool_ticks_total{result=ok}":              1,
		"storypool_ticks_total{result=skipped}":         1,
		"storypool_ticks_total{result=error}":           1,
		"storypool_tick_duration_seconds":               1,
		"storypool_active_stories":                      5,
		"storypool_story_events_total{event=spawned}":   2,
		"storypool_story_events_total{event=chapter}":   4,
		"storypool_story_events_total{event=completed}": 1,
		"storypool_story_events_total{event=failed}":    1,
		"storypool_covers_added_total":                  1,
		"storypool_relationship_runs_total{result=ok}":  1,
	}
	for key, value := range want {
		if got[key] != value {
			t.Errorf("%s: expected %g, got %g", key, value, got[key])
		}
	}
}

type fakeEnricher struct{}

func (fakeEnricher) Stats() scheduler.EnricherStats {
	return scheduler.EnricherStats{Queued: 3, Processed: 10, Failed: 1, Dropped: 2}
}

type fakeHub struct{}

func (fakeHub) Subscribers() int { return 2 }
func (fakeHub) Dropped() uint64 { return 7 }

func TestRegisterFuncs(t *testing.T) {
	reg := prometheus.NewRegistry()
	RegisterEnrichment(reg, fakeEnricher{})
	RegisterEvents(reg, fakeHub{})

	got := gathered(t, reg)
	want := map[string]float64{
		"storypool_enrichment_queued":          3,
		"storypool_enrichment_processed_total": 10,
		"storypool_enrichment_failed_total":    1,
		"storypool_enrichment_dropped_total":   2,
		"storypool_events_subscribers":         2,
		"storypool_events_dropped_total":       7,
	}
	for key, value := range want {
		if got[key] != value {
			t.Errorf("%s: expected %g, got %g", key, value, got[key])
		}
	}
}

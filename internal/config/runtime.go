package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"time"

	"storypool/internal/chaos"
)

// RuntimeConfig holds the operator-tunable values the loop re-reads on every
// tick. JSON tags are the override format accepted by the admin surface.
type RuntimeConfig struct {
	ChapterIntervalSeconds     int                             `yaml:"chapter_interval_seconds" json:"chapter_interval_seconds"`
	EvaluationIntervalChapters int                             `yaml:"evaluation_interval_chapters" json:"evaluation_interval_chapters"`
	MinChaptersBeforeEval      int                             `yaml:"min_chapters_before_eval" json:"min_chapters_before_eval"`
	QualityScoreMin            float64                         `yaml:"quality_score_min" json:"quality_score_min"`
	MaxChaptersPerStory        int                             `yaml:"max_chapters_per_story" json:"max_chapters_per_story"`
	MinActiveStories           int                             `yaml:"min_active_stories" json:"min_active_stories"`
	MaxActiveStories           int                             `yaml:"max_active_stories" json:"max_active_stories"`
	ContextWindowChapters      int                             `yaml:"context_window_chapters" json:"context_window_chapters"`
	Weights                    EvaluationWeights               `yaml:"weights" json:"weights"`
	ContentAxes                map[string]chaos.ContentSetting `yaml:"content_axes" json:"content_axes"`
}

type EvaluationWeights struct {
	Coherence  float64 `yaml:"coherence" json:"coherence"`
	Novelty    float64 `yaml:"novelty" json:"novelty"`
	Engagement float64 `yaml:"engagement" json:"engagement"`
	Pacing     float64 `yaml:"pacing" json:"pacing"`
}

type intRange struct {
	name     string
	value    int
	min, max int
}

func DefaultRuntime() RuntimeConfig {
	return RuntimeConfig{
		ChapterIntervalSeconds:     600,
		EvaluationIntervalChapters: 3,
		MinChaptersBeforeEval:      3,
		QualityScoreMin:            0.6,
		MaxChaptersPerStory:        50,
		MinActiveStories:           3,
		MaxActiveStories:           8,
		ContextWindowChapters:      3,
		Weights: EvaluationWeights{
			Coherence:  0.3,
			Novelty:    0.25,
			Engagement: 0.3,
			Pacing:     0.15,
		},
		ContentAxes: map[string]chaos.ContentSetting{},
	}
}

func (r RuntimeConfig) ChapterInterval() time.Duration {
	return time.Duration(r.ChapterIntervalSeconds) * time.Second
}

func (r RuntimeConfig) Bounds() chaos.Bounds {
	return chaos.Bounds{
		MinActive:       r.MinActiveStories,
		MaxActive:       r.MaxActiveStories,
		ChapterInterval: r.ChapterInterval(),
		QualityScoreMin: r.QualityScoreMin,
	}
}

func (r RuntimeConfig) Validate() error {
	if err := chaos.ValidateBounds(r.Bounds()); err != nil {
		return err
	}

	ranges := []intRange{
		{"chapter_interval_seconds", r.ChapterIntervalSeconds, 10, 3600},
		{"evaluation_interval_chapters", r.EvaluationIntervalChapters, 1, 50},
		{"max_chapters_per_story", r.MaxChaptersPerStory, 1, 500},
		{"min_active_stories", r.MinActiveStories, 1, 100},
		{"max_active_stories", r.MaxActiveStories, 1, 200},
		{"context_window_chapters", r.ContextWindowChapters, 1, 50},
		{"min_chapters_before_eval", r.MinChaptersBeforeEval, 1, 500},
	}
	for _, rg := range ranges {
		if rg.value < rg.min || rg.value > rg.max {
			return fmt.Errorf("%s must be within [%d, %d], got %d", rg.name, rg.min, rg.max, rg.value)
		}
	}

	w := r.Weights
	for name, v := range map[string]float64{
		"coherence":  w.Coherence,
		"novelty":    w.Novelty,
		"engagement": w.Engagement,
		"pacing":     w.Pacing,
	} {
		if v < 0 {
			return fmt.Errorf("%s weight must not be negative, got %g", name, v)
		}
	}
	if sum := w.Coherence + w.Novelty + w.Engagement + w.Pacing; math.Abs(sum-1) > 0.001 {
		return fmt.Errorf("evaluation weights must sum to 1.0, got %g", sum)
	}

	for axis, setting := range r.ContentAxes {
		if setting.AverageLevel < 0 || setting.AverageLevel > chaos.ContentLevelMax {
			return fmt.Errorf("content axis %s average_level must be within [0, %g]", axis, chaos.ContentLevelMax)
		}
		if setting.Momentum < -chaos.MomentumMax || setting.Momentum > chaos.MomentumMax {
			return fmt.Errorf("content axis %s momentum must be within [-1, 1]", axis)
		}
	}
	return nil
}

// decodeStrict decodes one JSON document into v, rejecting keys v has no
// field for.
func decodeStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("unexpected data after the override document")
	}
	return nil
}

// Overlay applies a JSON override document on top of r and validates the
// result. Unknown keys are rejected. r is not modified.
func (r RuntimeConfig) Overlay(overrides []byte) (RuntimeConfig, error) {
	out := r
	out.ContentAxes = maps.Clone(r.ContentAxes)
	if out.ContentAxes == nil {
		out.ContentAxes = map[string]chaos.ContentSetting{}
	}
	if len(overrides) == 0 {
		return out, out.Validate()
	}
	if err := decodeStrict(overrides, &out); err != nil {
		return r, fmt.Errorf("decoding runtime overrides: %w", err)
	}
	if err := out.Validate(); err != nil {
		return r, err
	}
	return out, nil
}

// MergeOverrides folds a partial update into an existing override document so
// successive PATCHes accumulate. An update naming a key RuntimeConfig does not
// have is rejected.
func MergeOverrides(existing, update []byte) ([]byte, error) {
	var shape RuntimeConfig
	if err := decodeStrict(update, &shape); err != nil {
		return nil, fmt.Errorf("decoding override update: %w", err)
	}
	merged := map[string]json.RawMessage{}
	if len(existing) > 0 {
		if err := json.Unmarshal(existing, &merged); err != nil {
			return nil, fmt.Errorf("decoding stored overrides: %w", err)
		}
	}
	var patch map[string]json.RawMessage
	if err := json.Unmarshal(update, &patch); err != nil {
		return nil, fmt.Errorf("decoding override update: %w", err)
	}
	for k, v := range patch {
		merged[k] = v
	}
	return json.Marshal(merged)
}

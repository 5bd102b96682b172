package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"storypool/internal/chaos"
)

func TestLoad(t *testing.T) {
	t.Run("valid config loads", func(t *testing.T) {
		cfg, err := Load(filepath.Join("testdata", "valid_config.yaml"))
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if cfg.Database.Driver != "postgres" {
			t.Fatalf("expected postgres driver, got %q", cfg.Database.Driver)
		}
		if cfg.Generation.Timeout != 30*time.Second {
			t.Fatalf("expected 30s timeout, got %s", cfg.Generation.Timeout)
		}
		if cfg.Generation.Models.Chapter.MaxTokens != 3000 {
			t.Fatalf("expected chapter max tokens 3000, got %d", cfg.Generation.Models.Chapter.MaxTokens)
		}
		if cfg.Runtime.ChapterInterval() != 5*time.Minute {
			t.Fatalf("expected 5m chapter interval, got %s", cfg.Runtime.ChapterInterval())
		}
		if cfg.Runtime.ContentAxes["violence"].AverageLevel != 3 {
			t.Fatalf("expected violence average 3, got %+v", cfg.Runtime.ContentAxes["violence"])
		}
		if cfg.Loop.Workers != 3 {
			t.Fatalf("expected 3 workers, got %d", cfg.Loop.Workers)
		}
		if cfg.Loop.LeaseTTL != 10*time.Minute {
			t.Fatalf("expected default lease ttl, got %s", cfg.Loop.LeaseTTL)
		}
	})

	t.Run("empty file uses defaults", func(t *testing.T) {
		path := writeTempConfig(t, "{}\n")
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if cfg.Database.Driver != "sqlite" {
			t.Fatalf("expected sqlite default, got %q", cfg.Database.Driver)
		}
	})

	t.Run("unsupported driver", func(t *testing.T) {
		path := writeTempConfig(t, "database:\n  driver: mysql\n  dsn: x\n")
		if _, err := Load(path); err == nil {
			t.Fatalf("expected error")
		}
	})

	t.Run("unsupported provider", func(t *testing.T) {
		path := writeTempConfig(t, "generation:\n  provider: llama\n")
		if _, err := Load(path); err == nil {
			t.Fatalf("expected error")
		}
	})

	t.Run("min active zero rejected", func(t *testing.T) {
		path := writeTempConfig(t, "runtime:\n  min_active_stories: 0\n")
		if _, err := Load(path); err == nil {
			t.Fatalf("expected error")
		}
	})

	t.Run("max below min rejected", func(t *testing.T) {
		path := writeTempConfig(t, "runtime:\n  min_active_stories: 5\n  max_active_stories: 4\n")
		if _, err := Load(path); err == nil {
			t.Fatalf("expected error")
		}
	})

	t.Run("weights must sum to one", func(t *testing.T) {
		path := writeTempConfig(t, "runtime:\n  weights:\n    coherence: 0.5\n    novelty: 0.5\n    engagement: 0.5\n    pacing: 0\n")
		if _, err := Load(path); err == nil {
			t.Fatalf("expected error")
		}
	})

	t.Run("budget must exceed safety margin", func(t *testing.T) {
		path := writeTempConfig(t, "loop:\n  budget: 10s\n  safety_margin: 30s\n")
		if _, err := Load(path); err == nil {
			t.Fatalf("expected error")
		}
	})

	t.Run("file not found", func(t *testing.T) {
		if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
			t.Fatalf("expected error")
		}
	})

	t.Run("invalid yaml", func(t *testing.T) {
		path := writeTempConfig(t, "database: [\n")
		if _, err := Load(path); err == nil {
			t.Fatalf("expected error")
		}
	})
}

func TestRuntimeValidateRanges(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *RuntimeConfig)
	}{
		{"interval below ten seconds", func(r *RuntimeConfig) { r.ChapterIntervalSeconds = 5 }},
		{"interval above an hour", func(r *RuntimeConfig) { r.ChapterIntervalSeconds = 3601 }},
		{"evaluation interval zero", func(r *RuntimeConfig) { r.EvaluationIntervalChapters = 0 }},
		{"max chapters above limit", func(r *RuntimeConfig) { r.MaxChaptersPerStory = 501 }},
		{"context window zero", func(r *RuntimeConfig) { r.ContextWindowChapters = 0 }},
		{"threshold above one", func(r *RuntimeConfig) { r.QualityScoreMin = 1.5 }},
		{"negative weight", func(r *RuntimeConfig) {
			r.Weights = EvaluationWeights{Coherence: -0.1, Novelty: 0.5, Engagement: 0.3, Pacing: 0.3}
		}},
		{"content momentum out of range", func(r *RuntimeConfig) {
			r.ContentAxes = map[string]chaos.ContentSetting{"violence": {AverageLevel: 1, Momentum: 2}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := DefaultRuntime()
			tt.mutate(&r)
			if err := r.Validate(); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestRuntimeOverlay(t *testing.T) {
	base := DefaultRuntime()

	t.Run("partial override", func(t *testing.T) {
		got, err := base.Overlay([]byte(`{"quality_score_min": 0.7, "max_active_stories": 12}`))
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if got.QualityScoreMin != 0.7 || got.MaxActiveStories != 12 {
			t.Fatalf("override not applied: %+v", got)
		}
		if got.MinActiveStories != base.MinActiveStories {
			t.Fatalf("expected untouched min active, got %d", got.MinActiveStories)
		}
	})

	t.Run("invalid override keeps base", func(t *testing.T) {
		got, err := base.Overlay([]byte(`{"min_active_stories": 0}`))
		if err == nil {
			t.Fatalf("expected error")
		}
		if got.MinActiveStories != base.MinActiveStories {
			t.Fatalf("expected base returned, got %+v", got)
		}
	})

	t.Run("mistyped key is rejected", func(t *testing.T) {
		got, err := base.Overlay([]byte(`{"max_actve_stories": 1}`))
		if err == nil {
			t.Fatalf("expected unknown key to be rejected")
		}
		if got.MaxActiveStories != base.MaxActiveStories {
			t.Fatalf("expected base returned, got %+v", got)
		}
	})

	t.Run("unknown nested key is rejected", func(t *testing.T) {
		if _, err := base.Overlay([]byte(`{"weights": {"coherance": 0.5}}`)); err == nil {
			t.Fatalf("expected unknown weight key to be rejected")
		}
	})

	t.Run("content axes not shared with base", func(t *testing.T) {
		got, err := base.Overlay([]byte(`{"content_axes": {"violence": {"average_level": 2, "momentum": 0.1}}}`))
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if _, ok := got.ContentAxes["violence"]; !ok {
			t.Fatalf("expected violence axis in overlay")
		}
		if _, ok := base.ContentAxes["violence"]; ok {
			t.Fatalf("overlay leaked into base")
		}
	})
}

func TestMergeOverrides(t *testing.T) {
	merged, err := MergeOverrides([]byte(`{"quality_score_min":0.7}`), []byte(`{"max_active_stories":9}`))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	got, err := DefaultRuntime().Overlay(merged)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got.QualityScoreMin != 0.7 || got.MaxActiveStories != 9 {
		t.Fatalf("expected both overrides, got %+v", got)
	}

	if _, err := MergeOverrides(merged, []byte(`{"max_actve_stories":1}`)); err == nil {
		t.Fatalf("expected mistyped key to be rejected")
	}
}

func TestWatchReloadsRuntime(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "storypool.yaml")
	if err := os.WriteFile(path, []byte("runtime:\n  quality_score_min: 0.5\n"), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	live := NewLive(cfg.Runtime)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Watch(ctx, path, live, zap.NewNop()) }()
	defer func() {
		cancel()
		<-done
	}()

	// The watcher registers asynchronously; keep rewriting until it notices.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if err := os.WriteFile(path, []byte("runtime:\n  quality_score_min: 0.8\n"), 0o600); err != nil {
			t.Fatalf("writing config: %v", err)
		}
		if live.Get().QualityScoreMin == 0.8 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("expected reloaded threshold 0.8, got %v", live.Get().QualityScoreMin)
}

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("writing temp config: %v", err)
	}
	return path
}

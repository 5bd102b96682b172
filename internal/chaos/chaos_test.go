package chaos

import (
	"math"
	"math/rand/v2"
	"testing"
	"time"
)

func TestProject(t *testing.T) {
	t.Run("linear growth from initial", func(t *testing.T) {
		seeds := Seeds{Absurdity: Seed{Initial: 0.1, Increment: 0.05}}
		got, err := ProjectAxis(seeds, Absurdity, 4)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if math.Abs(got-0.25) > 1e-9 {
			t.Fatalf("expected 0.25, got %v", got)
		}
	})

	t.Run("first chapter is the initial value", func(t *testing.T) {
		if got := Project(Seed{Initial: 0.2, Increment: 0.1}, 1); got != 0.2 {
			t.Fatalf("expected 0.2, got %v", got)
		}
	})

	t.Run("clamped at upper bound", func(t *testing.T) {
		if got := Project(Seed{Initial: 0.25, Increment: 0.15}, 100); got != UpperBound {
			t.Fatalf("expected %v, got %v", UpperBound, got)
		}
	})

	t.Run("unknown axis", func(t *testing.T) {
		if _, err := ProjectAxis(Seeds{}, Axis("whimsy"), 1); err == nil {
			t.Fatalf("expected error")
		}
	})
}

func TestProjectMonotonicWithinBounds(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	for i := 0; i < 200; i++ {
		seed := Seed{Initial: rng.Float64(), Increment: rng.Float64() * 0.3}
		prev := -1.0
		for n := 1; n <= 60; n++ {
			v := Project(seed, n)
			if v < 0 || v > UpperBound {
				t.Fatalf("seed %+v chapter %d: %v out of bounds", seed, n, v)
			}
			if v < prev {
				t.Fatalf("seed %+v chapter %d: %v decreased from %v", seed, n, v, prev)
			}
			prev = v
		}
	}
}

func TestDrawWithinBands(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 500; i++ {
		seeds := Draw(rng)
		for _, axis := range Axes {
			seed, err := seeds.Get(axis)
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if seed.Initial < InitialMin || seed.Initial > InitialMax {
				t.Fatalf("initial %v outside [%v, %v]", seed.Initial, InitialMin, InitialMax)
			}
			if seed.Increment < IncrementMin || seed.Increment > IncrementMax {
				t.Fatalf("increment %v outside [%v, %v]", seed.Increment, IncrementMin, IncrementMax)
			}
		}
	}
}

func TestSanitize(t *testing.T) {
	fallback := Readings{Absurdity: 0.1, Surrealism: 0.2, Ridiculousness: 0.3, Insanity: 0.4}
	got := Sanitize(Readings{Absurdity: 0.5, Surrealism: -1, Ridiculousness: math.NaN(), Insanity: 3}, fallback)
	want := Readings{Absurdity: 0.5, Surrealism: 0.2, Ridiculousness: 0.3, Insanity: 0.4}
	if got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
}

func TestContentTargets(t *testing.T) {
	settings := map[string]ContentSetting{
		"violence":      {AverageLevel: 4, Momentum: 0.5},
		"romance_focus": {AverageLevel: 2, Momentum: -1},
	}

	t.Run("no previous chapter uses average", func(t *testing.T) {
		got := ContentTargets(settings, nil)
		if got["violence"] != 4 || got["romance_focus"] != 2 {
			t.Fatalf("unexpected targets: %v", got)
		}
	})

	t.Run("previous plus momentum clamped", func(t *testing.T) {
		got := ContentTargets(settings, map[string]float64{"violence": 9.8, "romance_focus": 0.5})
		if got["violence"] != 10 {
			t.Fatalf("expected violence clamped to 10, got %v", got["violence"])
		}
		if got["romance_focus"] != 0 {
			t.Fatalf("expected romance clamped to 0, got %v", got["romance_focus"])
		}
	})
}

func TestJitterContent(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	defaults := map[string]ContentSetting{"violence": {AverageLevel: 9.9, Momentum: 0.95}}
	for i := 0; i < 100; i++ {
		got := JitterContent(rng, defaults)
		if len(got) != len(ContentAxes) {
			t.Fatalf("expected %d axes, got %d", len(ContentAxes), len(got))
		}
		v := got["violence"]
		if v.AverageLevel < 8.9 || v.AverageLevel > ContentLevelMax {
			t.Fatalf("average out of range: %v", v.AverageLevel)
		}
		if v.Momentum < 0.8 || v.Momentum > MomentumMax {
			t.Fatalf("momentum out of range: %v", v.Momentum)
		}
		if got["drug_use"] != (ContentSetting{}) {
			t.Fatalf("expected zero setting for undefined axis, got %+v", got["drug_use"])
		}
	}
}

func TestValidateBounds(t *testing.T) {
	valid := Bounds{MinActive: 1, MaxActive: 3, ChapterInterval: time.Minute, QualityScoreMin: 0.6}
	if err := ValidateBounds(valid); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(b *Bounds)
	}{
		{"min active zero", func(b *Bounds) { b.MinActive = 0 }},
		{"max below min", func(b *Bounds) { b.MaxActive = 0 }},
		{"zero interval", func(b *Bounds) { b.ChapterInterval = 0 }},
		{"threshold above one", func(b *Bounds) { b.QualityScoreMin = 1.01 }},
		{"negative threshold", func(b *Bounds) { b.QualityScoreMin = -0.1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := valid
			tt.mutate(&b)
			if err := ValidateBounds(b); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

package chaos

import (
	"fmt"
	"math"
	"math/rand/v2"
)

type Axis string

const (
	Absurdity      Axis = "absurdity"
	Surrealism     Axis = "surrealism"
	Ridiculousness Axis = "ridiculousness"
	Insanity       Axis = "insanity"
)

var Axes = []Axis{Absurdity, Surrealism, Ridiculousness, Insanity}

const (
	UpperBound = 1.0

	InitialMin   = 0.05
	InitialMax   = 0.25
	IncrementMin = 0.02
	IncrementMax = 0.15
)

// Seed is the per-axis linear trajectory drawn once at spawn.
type Seed struct {
	Initial   float64 `json:"initial"`
	Increment float64 `json:"increment"`
}

type Seeds struct {
	Absurdity      Seed `json:"absurdity"`
	Surrealism     Seed `json:"surrealism"`
	Ridiculousness Seed `json:"ridiculousness"`
	Insanity       Seed `json:"insanity"`
}

// Readings holds one value per axis, either projected targets or what a
// chapter actually reported.
type Readings struct {
	Absurdity      float64 `json:"absurdity"`
	Surrealism     float64 `json:"surrealism"`
	Ridiculousness float64 `json:"ridiculousness"`
	Insanity       float64 `json:"insanity"`
}

func (s Seeds) Get(axis Axis) (Seed, error) {
	switch axis {
	case Absurdity:
		return s.Absurdity, nil
	case Surrealism:
		return s.Surrealism, nil
	case Ridiculousness:
		return s.Ridiculousness, nil
	case Insanity:
		return s.Insanity, nil
	}
	return Seed{}, fmt.Errorf("unknown chaos axis: %q", axis)
}

func (r Readings) Get(axis Axis) float64 {
	switch axis {
	case Absurdity:
		return r.Absurdity
	case Surrealism:
		return r.Surrealism
	case Ridiculousness:
		return r.Ridiculousness
	case Insanity:
		return r.Insanity
	}
	return 0
}

func (r *Readings) Set(axis Axis, v float64) {
	switch axis {
	case Absurdity:
		r.Absurdity = v
	case Surrealism:
		r.Surrealism = v
	case Ridiculousness:
		r.Ridiculousness = v
	case Insanity:
		r.Insanity = v
	}
}

// Project returns the chaos value for chapterNumber (1-based).
func Project(seed Seed, chapterNumber int) float64 {
	if chapterNumber < 1 {
		chapterNumber = 1
	}
	return Clamp(seed.Initial+seed.Increment*float64(chapterNumber-1), 0, UpperBound)
}

// ProjectAxis is Project for a named axis of a story's seeds.
func ProjectAxis(seeds Seeds, axis Axis, chapterNumber int) (float64, error) {
	seed, err := seeds.Get(axis)
	if err != nil {
		return 0, err
	}
	return Project(seed, chapterNumber), nil
}

func Targets(seeds Seeds, chapterNumber int) Readings {
	return Readings{
		Absurdity:      Project(seeds.Absurdity, chapterNumber),
		Surrealism:     Project(seeds.Surrealism, chapterNumber),
		Ridiculousness: Project(seeds.Ridiculousness, chapterNumber),
		Insanity:       Project(seeds.Insanity, chapterNumber),
	}
}

// Draw samples fresh seeds. Each axis is drawn independently.
func Draw(rng *rand.Rand) Seeds {
	draw := func() Seed {
		return Seed{
			Initial:   uniform(rng, InitialMin, InitialMax),
			Increment: uniform(rng, IncrementMin, IncrementMax),
		}
	}
	return Seeds{
		Absurdity:      draw(),
		Surrealism:     draw(),
		Ridiculousness: draw(),
		Insanity:       draw(),
	}
}

// Sanitize replaces readings outside [0, UpperBound] with the fallback's
// value for the same axis.
func Sanitize(actual, fallback Readings) Readings {
	out := actual
	for _, axis := range Axes {
		v := actual.Get(axis)
		if math.IsNaN(v) || v < 0 || v > UpperBound {
			out.Set(axis, fallback.Get(axis))
		}
	}
	return out
}

func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	return lo + rng.Float64()*(hi-lo)
}

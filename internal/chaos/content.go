package chaos

import (
	"math"
	"math/rand/v2"
)

const (
	ContentLevelMax = 10.0
	MomentumMax     = 1.0
)

var ContentAxes = []string{
	"sexual_content",
	"violence",
	"strong_language",
	"drug_use",
	"horror_suspense",
	"gore_graphic_imagery",
	"romance_focus",
	"crime_illicit_activity",
	"political_ideology",
	"supernatural_occult",
}

// ContentSetting steers one content-intensity axis for a story.
type ContentSetting struct {
	AverageLevel float64 `json:"average_level" yaml:"average_level"`
	Momentum     float64 `json:"momentum" yaml:"momentum"`
}

// JitterContent derives per-story settings from the operator defaults.
// Axes without a default get a zero setting.
func JitterContent(rng *rand.Rand, defaults map[string]ContentSetting) map[string]ContentSetting {
	out := make(map[string]ContentSetting, len(ContentAxes))
	for _, axis := range ContentAxes {
		base, ok := defaults[axis]
		if !ok {
			out[axis] = ContentSetting{}
			continue
		}
		avg := Clamp(base.AverageLevel, 0, ContentLevelMax)
		mom := Clamp(base.Momentum, -MomentumMax, MomentumMax)
		out[axis] = ContentSetting{
			AverageLevel: round3(Clamp(avg+uniform(rng, -1.0, 1.0), 0, ContentLevelMax)),
			Momentum:     round3(Clamp(mom+uniform(rng, -0.15, 0.15), -MomentumMax, MomentumMax)),
		}
	}
	return out
}

// ContentTargets computes the intensity each axis should reach in the next
// chapter: previous reading plus momentum, or the average level when there is
// no previous reading.
func ContentTargets(settings map[string]ContentSetting, previous map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(settings))
	for axis, setting := range settings {
		prev, ok := previous[axis]
		if !ok {
			out[axis] = Clamp(setting.AverageLevel, 0, ContentLevelMax)
			continue
		}
		out[axis] = round3(Clamp(prev+setting.Momentum, 0, ContentLevelMax))
	}
	return out
}

// SanitizeContent keeps reported levels within [0, ContentLevelMax] and fills
// missing axes from targets.
func SanitizeContent(reported, targets map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(targets))
	for axis, target := range targets {
		v, ok := reported[axis]
		if !ok || math.IsNaN(v) {
			out[axis] = target
			continue
		}
		out[axis] = Clamp(v, 0, ContentLevelMax)
	}
	return out
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

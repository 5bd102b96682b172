package evaluation

import (
	"math"

	"storypool/internal/chaos"
	"storypool/internal/config"
	"storypool/internal/generation"
)

const (
	healthyBand      = 0.85
	excellenceBand   = 0.92
	issueCost        = 0.03
	issuePenaltyCap  = 0.15
	consistencyScale = 0.2
	weakScale        = 1.2
	weakExponent     = 1.2
	excellenceScale  = 0.1
)

// Breakdown is how an overall score in [0, 1] was reached from the four
// sub-scores.
type Breakdown struct {
	Weighted           float64
	WeakPenalty        float64
	ConsistencyPenalty float64
	IssuePenalty       float64
	ExcellenceBonus    float64
	Overall            float64
}

// Score combines a verdict's sub-scores with the configured weights. The
// weakest dimension below the healthy band, uneven dimensions, and reported
// issues pull the score down; a story strong on every dimension gets a small
// bonus.
func Score(v *generation.Verdict, w config.EvaluationWeights) Breakdown {
	dims := [4]float64{
		normalize(v.Coherence),
		normalize(v.Novelty),
		normalize(v.Engagement),
		normalize(v.Pacing),
	}

	var b Breakdown
	b.Weighted = dims[0]*w.Coherence + dims[1]*w.Novelty + dims[2]*w.Engagement + dims[3]*w.Pacing

	lowest := dims[0]
	for _, d := range dims[1:] {
		lowest = math.Min(lowest, d)
	}
	if lowest < healthyBand {
		b.WeakPenalty = math.Pow(healthyBand-lowest, weakExponent) * weakScale
	}
	b.ConsistencyPenalty = populationStddev(dims[:]) * consistencyScale
	b.IssuePenalty = math.Min(float64(len(v.Issues))*issueCost, issuePenaltyCap)
	b.ExcellenceBonus = math.Max(0, lowest-excellenceBand) * excellenceScale

	b.Overall = chaos.Clamp(b.Weighted-b.WeakPenalty-b.ConsistencyPenalty-b.IssuePenalty+b.ExcellenceBonus, 0, 1)
	return b
}

// normalize maps a 0-10 sub-score onto [0, 1].
func normalize(score float64) float64 {
	if math.IsNaN(score) {
		return 0
	}
	return chaos.Clamp(score, 0, 10) / 10
}

func populationStddev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var mean float64
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	return math.Sqrt(sq / float64(len(values)))
}

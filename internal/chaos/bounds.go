package chaos

import (
	"fmt"
	"time"
)

// Bounds are the operator-set values every tick depends on.
type Bounds struct {
	MinActive       int
	MaxActive       int
	ChapterInterval time.Duration
	QualityScoreMin float64
}

func ValidateBounds(b Bounds) error {
	if b.MinActive < 1 {
		return fmt.Errorf("min active stories must be at least 1, got %d", b.MinActive)
	}
	if b.MaxActive < b.MinActive {
		return fmt.Errorf("max active stories (%d) must be >= min active stories (%d)", b.MaxActive, b.MinActive)
	}
	if b.ChapterInterval <= 0 {
		return fmt.Errorf("chapter interval must be positive, got %s", b.ChapterInterval)
	}
	if b.QualityScoreMin < 0 || b.QualityScoreMin > 1 {
		return fmt.Errorf("quality score minimum must be within [0, 1], got %g", b.QualityScoreMin)
	}
	return nil
}

// Package scoring holds the pure risk and compliance calculations shared by
// the resource handlers and background jobs.
package scoring

import (
	"errors"
	"fmt"
	"math"
)

// Level is the qualitative band of a risk score.
type Level string

const (
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

const (
	// MinRating is the lowest likelihood or impact rating.
	MinRating = 1
	// MaxRating is the highest likelihood or impact rating.
	MaxRating = 5
)

// ErrRatingOutOfRange is returned for likelihood or impact outside [1,5].
var ErrRatingOutOfRange = errors.New("rating out of range")

// RiskScore multiplies likelihood by impact.
func RiskScore(likelihood, impact int) int {
	return likelihood * impact
}

// RiskLevel maps a score onto its band: <=5 low, <=10 medium, <=15 high, else critical.
func RiskLevel(score int) Level {
	switch {
	case score <= 5:
		return LevelLow
	case score <= 10:
		return LevelMedium
	case score <= 15:
		return LevelHigh
	default:
		return LevelCritical
	}
}

// Assessment is a likelihood and impact pair.
type Assessment struct {
	Likelihood int `json:"likelihood"`
	Impact     int `json:"impact"`
}

// Validate checks both ratings fall in [1,5].
func (a Assessment) Validate() error {
	if a.Likelihood < MinRating || a.Likelihood > MaxRating {
		return fmt.Errorf("%w: likelihood %d", ErrRatingOutOfRange, a.Likelihood)
	}
	if a.Impact < MinRating || a.Impact > MaxRating {
		return fmt.Errorf("%w: impact %d", ErrRatingOutOfRange, a.Impact)
	}
	return nil
}

// Score returns likelihood × impact.
func (a Assessment) Score() int {
	return RiskScore(a.Likelihood, a.Impact)
}

// Level returns the band for the assessment score.
func (a Assessment) Level() Level {
	return RiskLevel(a.Score())
}

// roundHalfUp rounds ties towards positive infinity.
func roundHalfUp(x float64) int {
	return int(math.Floor(x + 0.5))
}

package scoring

// Effectiveness ratings stored on controls.
const (
	RatingEffective          = "effective"
	RatingPartiallyEffective = "partially_effective"
	RatingIneffective        = "ineffective"
	RatingNotTested          = "not_tested"
)

// TestResult is the outcome of a single weighted control test step.
type TestResult struct {
	Passed bool    `json:"passed"`
	Weight float64 `json:"weight"`
}

// CompliancePercentage returns round(100*compliant/total), or 0 when total is 0.
func CompliancePercentage(total, compliant int) int {
	if total <= 0 {
		return 0
	}
	return roundHalfUp(float64(compliant) * 100 / float64(total))
}

// ControlEffectiveness returns the weighted pass rate as a percentage.
// An empty result set scores 0.
func ControlEffectiveness(results []TestResult) int {
	if len(results) == 0 {
		return 0
	}
	var total, passed float64
	for _, r := range results {
		total += r.Weight
		if r.Passed {
			passed += r.Weight
		}
	}
	if total <= 0 {
		return 0
	}
	return roundHalfUp(passed * 100 / total)
}

// EffectivenessRating maps a percentage onto the stored control rating.
func EffectivenessRating(score int, tested bool) string {
	switch {
	case !tested:
		return RatingNotTested
	case score >= 80:
		return RatingEffective
	case score >= 50:
		return RatingPartiallyEffective
	default:
		return RatingIneffective
	}
}

package conjunction

// Risk is the closest-approach classification.
type Risk string

const (
	RiskLow      Risk = "LOW"
	RiskModerate Risk = "MODERATE"
	RiskHigh     Risk = "HIGH"
)

// Classify buckets a minimum distance against thresholdKm: HIGH at or below
// half the threshold, MODERATE at or below the threshold, LOW otherwise.
func Classify(distanceKm, thresholdKm float64) Risk {
	switch {
	case distanceKm <= thresholdKm*0.5:
		return RiskHigh
	case distanceKm <= thresholdKm:
		return RiskModerate
	default:
		return RiskLow
	}
}

// Rank orders risks so that LOW < MODERATE < HIGH.
func (r Risk) Rank() int {
	switch r {
	case RiskHigh:
		return 2
	case RiskModerate:
		return 1
	default:
		return 0
	}
}

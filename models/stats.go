package models

// DailyStats counts classified readings per level for the session.
type DailyStats struct {
	Safe    int `json:"safe"`
	Warning int `json:"warning"`
	Danger  int `json:"danger"`
}

// Increment adds one to the counter for level. Unknown levels count as safe.
func (s *DailyStats) Increment(level RiskLevel) {
	switch level {
	case RiskWarning:
		s.Warning++
	case RiskDanger:
		s.Danger++
	default:
		s.Safe++
	}
}

// Count returns the counter for level.
func (s DailyStats) Count(level RiskLevel) int {
	switch level {
	case RiskWarning:
		return s.Warning
	case RiskDanger:
		return s.Danger
	default:
		return s.Safe
	}
}

func (s DailyStats) Total() int {
	return s.Safe + s.Warning + s.Danger
}

// TimelinePoint is one entry of the risk-score timeline.
type TimelinePoint struct {
	Label     string `json:"time"`
	RiskScore int    `json:"risk_score"`
}

// HeartRatePoint is one entry of the heart-rate history.
type HeartRatePoint struct {
	Label string `json:"time"`
	BPM   int    `json:"bpm"`
}

// HeartRateBand buckets a bpm value for display.
type HeartRateBand string

const (
	HeartRateLow      HeartRateBand = "low"
	HeartRateNormal   HeartRateBand = "normal"
	HeartRateHigh     HeartRateBand = "high"
	HeartRateVeryHigh HeartRateBand = "very_high"
)

// BandForBPM maps a bpm value to its display band.
func BandForBPM(bpm int) HeartRateBand {
	switch {
	case bpm < 60:
		return HeartRateLow
	case bpm < 100:
		return HeartRateNormal
	case bpm < 150:
		return HeartRateHigh
	default:
		return HeartRateVeryHigh
	}
}

// HeartRateSummary describes the retained heart-rate history.
type HeartRateSummary struct {
	Average float64       `json:"average"`
	Max     int           `json:"max"`
	Min     int           `json:"min"`
	Latest  int           `json:"latest"`
	Band    HeartRateBand `json:"band"`
}

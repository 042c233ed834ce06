package models

import "time"

// RiskLevel is the discrete classification of a reading. Levels are totally
// ordered safe < warning < danger.
type RiskLevel string

const (
	RiskSafe    RiskLevel = "safe"
	RiskWarning RiskLevel = "warning"
	RiskDanger  RiskLevel = "danger"
)

// ParseRiskLevel returns the level named by s and whether it was recognised.
func ParseRiskLevel(s string) (RiskLevel, bool) {
	switch RiskLevel(s) {
	case RiskSafe, RiskWarning, RiskDanger:
		return RiskLevel(s), true
	}
	return "", false
}

// Rank gives the position of the level in the total order. Unknown levels
// rank with safe.
func (l RiskLevel) Rank() int {
	switch l {
	case RiskWarning:
		return 1
	case RiskDanger:
		return 2
	default:
		return 0
	}
}

// Score is the coarse chart encoding of a level. It leaves headroom above
// danger and is not a measured value.
func (l RiskLevel) Score() int {
	switch l {
	case RiskWarning:
		return 60
	case RiskDanger:
		return 90
	default:
		return 30
	}
}

// GetRiskEmoji returns the indicator used in alert messages
func (l RiskLevel) GetRiskEmoji() string {
	switch l {
	case RiskDanger:
		return "🔴"
	case RiskWarning:
		return "🟡"
	default:
		return "🟢"
	}
}

// RiskAlert is raised when the classified level escalates to or above the
// configured alert level.
type RiskAlert struct {
	SessionID     string         `json:"session_id"`
	Source        string         `json:"source"`
	Level         RiskLevel      `json:"risk_level"`
	PreviousLevel RiskLevel      `json:"previous_level"`
	Activity      ActivityState  `json:"activity_state,omitempty"`
	Pattern       PosturePattern `json:"posture_pattern,omitempty"`
	HeartRate     *int           `json:"heart_rate,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
	Description   string         `json:"description"`
}

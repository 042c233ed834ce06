package services

import (
	"posturewatch/config"
	"posturewatch/models"
)

// RiskClassifier maps a reading to a risk level. Implementations are pure:
// the same reading always yields the same level.
type RiskClassifier interface {
	Name() string
	Classify(reading *models.Reading) models.RiskLevel
}

// ActivityRiskClassifier classifies wearable readings from the activity
// state and heart rate.
type ActivityRiskClassifier struct {
	walkingDangerBPM  int
	runningWarningBPM int
}

func NewActivityRiskClassifier(cfg *config.Config) *ActivityRiskClassifier {
	return &ActivityRiskClassifier{
		walkingDangerBPM:  cfg.WalkingDangerBPM,
		runningWarningBPM: cfg.RunningWarningBPM,
	}
}

func (c *ActivityRiskClassifier) Name() string { return "activity" }

// Classify returns safe for stopped or missing activity. Walking is danger
// above the walking threshold and warning otherwise; running is warning
// below the running threshold and danger otherwise. A missing heart rate
// never raises the level.
func (c *ActivityRiskClassifier) Classify(reading *models.Reading) models.RiskLevel {
	if reading == nil {
		return models.RiskSafe
	}

	switch reading.ActivityState {
	case models.ActivityWalking:
		if reading.HasHeartRate() && *reading.HeartRate > c.walkingDangerBPM {
			return models.RiskDanger
		}
		return models.RiskWarning

	case models.ActivityRunning:
		if reading.HasHeartRate() && *reading.HeartRate < c.runningWarningBPM {
			return models.RiskWarning
		}
		return models.RiskDanger

	case models.ActivityStopped:
		return models.RiskSafe

	default:
		return models.RiskSafe
	}
}

// PatternRiskClassifier trusts the level reported by the socket feed.
type PatternRiskClassifier struct{}

func NewPatternRiskClassifier() *PatternRiskClassifier {
	return &PatternRiskClassifier{}
}

func (c *PatternRiskClassifier) Name() string { return "pattern" }

// Classify returns the upstream level, or safe when it is absent.
func (c *PatternRiskClassifier) Classify(reading *models.Reading) models.RiskLevel {
	if reading == nil {
		return models.RiskSafe
	}
	if level, ok := models.ParseRiskLevel(string(reading.ReportedRisk)); ok {
		return level
	}
	return models.RiskSafe
}

// NewRiskClassifier picks the strategy for a deployment. Socket sessions use
// the upstream label; wearable and relay sessions derive it locally.
func NewRiskClassifier(cfg *config.Config) RiskClassifier {
	if cfg.SourceMode == config.SourceSocket {
		return NewPatternRiskClassifier()
	}
	return NewActivityRiskClassifier(cfg)
}

package models

import (
	"time"
)

// ActivityState is the wearable's coarse movement classification.
type ActivityState string

const (
	ActivityStopped ActivityState = "stopped"
	ActivityWalking ActivityState = "walking"
	ActivityRunning ActivityState = "running"
)

// PosturePattern is the posture class reported by the socket feed.
type PosturePattern string

const (
	PatternClass1 PosturePattern = "Class 1"
	PatternClass2 PosturePattern = "Class 2"
	PatternClass3 PosturePattern = "Class 3"
	PatternClass4 PosturePattern = "Class 4"
	PatternClass5 PosturePattern = "Class 5"
)

// Valid reports whether p is one of the five known classes.
func (p PosturePattern) Valid() bool {
	switch p {
	case PatternClass1, PatternClass2, PatternClass3, PatternClass4, PatternClass5:
		return true
	}
	return false
}

// JointAngles carries the optional rig angles sent with socket readings.
type JointAngles struct {
	Neck          float64 `json:"neck"`
	Spine         float64 `json:"spine"`
	LeftShoulder  float64 `json:"leftShoulder"`
	RightShoulder float64 `json:"rightShoulder"`
	LeftElbow     float64 `json:"leftElbow"`
	RightElbow    float64 `json:"rightElbow"`
}

// Reading is one decoded telemetry sample. Wearable readings fill
// ActivityState and usually HeartRate; socket readings fill PosturePattern
// and ReportedRisk.
type Reading struct {
	ActivityState  ActivityState  `json:"activity_state,omitempty"`
	PosturePattern PosturePattern `json:"posture_pattern,omitempty"`
	ReportedRisk   RiskLevel      `json:"reported_risk,omitempty"`
	HeartRate      *int           `json:"heart_rate,omitempty"`
	Accuracy       int            `json:"accuracy"`
	Angles         *JointAngles   `json:"angles,omitempty"`

	// Timestamp is assigned on receipt. SenderTimestamp is informational
	// only and never used for ordering.
	Timestamp       time.Time `json:"timestamp"`
	SenderTimestamp int64     `json:"sender_timestamp,omitempty"`
}

// HasHeartRate returns true if the reading carries a bpm value
func (r *Reading) HasHeartRate() bool {
	return r.HeartRate != nil
}

// ClassifiedReading pairs a reading with the level derived from it.
type ClassifiedReading struct {
	Reading   Reading   `json:"reading"`
	RiskLevel RiskLevel `json:"risk_level"`
}

package models

import (
	"time"
)

// ConnectionState is the lifecycle state of a session's upstream source.
type ConnectionState string

const (
	StateIdle                 ConnectionState = "idle"
	StateConnecting           ConnectionState = "connecting"
	StateConnected            ConnectionState = "connected"
	StateDisconnectedRetrying ConnectionState = "disconnected-retrying"
	StateDisconnectedFinal    ConnectionState = "disconnected-final"
)

// ConnectionStatus is what the presentation layer sees of a connection:
// the state plus a single current error string.
type ConnectionStatus struct {
	Source string          `json:"source"`
	State  ConnectionState `json:"state"`
	Error  string          `json:"error,omitempty"`
}

// FeedHealthStatus represents whether payloads are still flowing
type FeedHealthStatus string

const (
	FeedIdle      FeedHealthStatus = "idle"
	FeedHealthy   FeedHealthStatus = "healthy"
	FeedStalled   FeedHealthStatus = "stalled"
	FeedRecovered FeedHealthStatus = "recovered"
)

// FeedHealth tracks payload liveness for a connected source
type FeedHealth struct {
	Status        FeedHealthStatus `json:"status"`
	LastPayloadAt time.Time        `json:"last_payload_at,omitempty"`
	StalledAt     time.Time        `json:"stalled_at,omitempty"`
}

// FeedEvent is emitted when the feed stalls or recovers.
type FeedEvent struct {
	SessionID    string           `json:"session_id"`
	Source       string           `json:"source"`
	Status       FeedHealthStatus `json:"status"`
	LastPayload  time.Time        `json:"last_payload_at"`
	DownDuration time.Duration    `json:"down_duration,omitempty"`
	Timestamp    time.Time        `json:"timestamp"`
}

// DashboardSnapshot is the read-only view handed to the presentation layer.
type DashboardSnapshot struct {
	SessionID        string             `json:"session_id"`
	Connection       ConnectionStatus   `json:"connection"`
	DailyStats       DailyStats         `json:"daily_stats"`
	TotalReadings    int                `json:"total_readings"`
	Timeline         []TimelinePoint    `json:"timeline"`
	HeartRate        []HeartRatePoint   `json:"heart_rate"`
	HeartRateSummary *HeartRateSummary  `json:"heart_rate_summary,omitempty"`
	Latest           *ClassifiedReading `json:"latest,omitempty"`
	Feed             FeedHealth         `json:"feed"`
}

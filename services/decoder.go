package services

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"posturewatch/models"
)

// PayloadFormat tells the decoder how to interpret a raw payload.
type PayloadFormat int

const (
	// FormatJSON is a socket feed message.
	FormatJSON PayloadFormat = iota
	// FormatNotification is a fixed-layout wearable characteristic value.
	FormatNotification
)

func (f PayloadFormat) String() string {
	if f == FormatNotification {
		return "notification"
	}
	return "json"
}

// Notification layout. Bytes past notificationMinLength are ignored.
const (
	notificationHeartRate = 0
	notificationAccuracy  = 1
	notificationStatus    = 2
	notificationMinLength = 3
)

// socketAccuracy is used for socket readings, whose classification comes
// from upstream rather than from a local decode.
const socketAccuracy = 100

// socketMessage mirrors the socket feed schema. Pointer fields let the
// decoder tell a missing field from a zero value.
type socketMessage struct {
	Pattern   *string             `json:"pattern"`
	RiskLevel *string             `json:"riskLevel"`
	Timestamp *float64            `json:"timestamp"`
	Angles    *models.JointAngles `json:"angles"`
}

// SignalDecoder turns raw payloads into Readings. It stamps each reading with
// the receipt time and keeps stamps non-decreasing even if the wall clock
// steps backwards.
type SignalDecoder struct {
	format PayloadFormat
	now    func() time.Time

	mu   sync.Mutex
	last time.Time
}

// NewSignalDecoder creates a decoder for the given payload format
func NewSignalDecoder(format PayloadFormat) *SignalDecoder {
	return &SignalDecoder{format: format, now: time.Now}
}

// WithClock overrides the receipt clock, mainly for tests.
func (d *SignalDecoder) WithClock(now func() time.Time) *SignalDecoder {
	d.now = now
	return d
}

func (d *SignalDecoder) Format() PayloadFormat {
	return d.format
}

// Decode parses raw according to the decoder's format. Any failure is a
// *DecodeError matching ErrMalformed.
func (d *SignalDecoder) Decode(raw []byte) (*models.Reading, error) {
	var (
		reading *models.Reading
		err     error
	)
	if d.format == FormatNotification {
		reading, err = DecodeNotification(raw)
	} else {
		reading, err = DecodeSocketMessage(raw)
	}
	if err != nil {
		return nil, err
	}

	reading.Timestamp = d.stamp()
	return reading, nil
}

func (d *SignalDecoder) stamp() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()

	ts := d.now()
	if ts.Before(d.last) {
		ts = d.last
	}
	d.last = ts
	return ts
}

// DecodeSocketMessage parses a socket feed JSON object. pattern, riskLevel
// and timestamp are required; riskLevel and pattern must be known values.
// The returned reading has no receipt timestamp.
func DecodeSocketMessage(raw []byte) (*models.Reading, error) {
	trimmed := strings.TrimSpace(string(raw))
	if !strings.HasPrefix(trimmed, "{") {
		return nil, malformed("expected JSON object", nil)
	}

	var msg socketMessage
	if err := json.Unmarshal([]byte(trimmed), &msg); err != nil {
		return nil, malformed("invalid JSON", err)
	}

	if msg.Pattern == nil {
		return nil, malformed("missing field pattern", nil)
	}
	if msg.RiskLevel == nil {
		return nil, malformed("missing field riskLevel", nil)
	}
	if msg.Timestamp == nil {
		return nil, malformed("missing field timestamp", nil)
	}

	pattern := models.PosturePattern(*msg.Pattern)
	if !pattern.Valid() {
		return nil, malformed(fmt.Sprintf("unknown pattern %q", *msg.Pattern), nil)
	}
	level, ok := models.ParseRiskLevel(*msg.RiskLevel)
	if !ok {
		return nil, malformed(fmt.Sprintf("unknown riskLevel %q", *msg.RiskLevel), nil)
	}

	return &models.Reading{
		PosturePattern:  pattern,
		ReportedRisk:    level,
		Accuracy:        socketAccuracy,
		Angles:          msg.Angles,
		SenderTimestamp: int64(*msg.Timestamp),
	}, nil
}

// DecodeNotification parses a wearable characteristic notification:
// byte 0 heart rate, byte 1 accuracy score, byte 2 status code.
// The returned reading has no receipt timestamp.
func DecodeNotification(raw []byte) (*models.Reading, error) {
	if len(raw) < notificationMinLength {
		return nil, malformed(fmt.Sprintf("notification too short: %d bytes", len(raw)), nil)
	}

	heartRate := int(raw[notificationHeartRate])
	accuracy := int(raw[notificationAccuracy])
	if accuracy > 100 {
		accuracy = 100
	}

	return &models.Reading{
		ActivityState: ActivityFromStatus(raw[notificationStatus]),
		HeartRate:     &heartRate,
		Accuracy:      accuracy,
	}, nil
}

// ActivityFromStatus maps a notification status code to an activity.
// Unknown codes map to stopped.
func ActivityFromStatus(code byte) models.ActivityState {
	switch code {
	case 0:
		return models.ActivityWalking
	case 1:
		return models.ActivityRunning
	case 2:
		return models.ActivityStopped
	default:
		return models.ActivityStopped
	}
}

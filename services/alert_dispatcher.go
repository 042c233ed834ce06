package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"posturewatch/models"

	"go.uber.org/zap"
)

// Notifier delivers alerts to one external channel.
type Notifier interface {
	Name() string
	SendRiskAlert(ctx context.Context, alert *models.RiskAlert) error
	SendFeedEvent(ctx context.Context, event *models.FeedEvent) error
}

const dispatchQueueSize = 32

// dispatchJob is one alert or feed event waiting for delivery.
type dispatchJob struct {
	alert *models.RiskAlert
	event *models.FeedEvent
}

// AlertDispatcher raises a RiskAlert when the classified level escalates to
// or above the configured minimum, and fans alerts out to every notifier.
// Risk alerts are throttled per level. Delivery happens on the Run goroutine
// so a slow notifier never stalls the reading pipeline.
type AlertDispatcher struct {
	sessionID string
	source    string
	minLevel  models.RiskLevel
	throttle  time.Duration
	notifiers []Notifier
	logger    *zap.Logger
	now       func() time.Time
	queue     chan dispatchJob

	mu            sync.Mutex
	previousLevel models.RiskLevel
	lastAlert     map[models.RiskLevel]time.Time
}

func NewAlertDispatcher(sessionID, source string, minLevel models.RiskLevel, throttle time.Duration, notifiers []Notifier, logger *zap.Logger) *AlertDispatcher {
	return &AlertDispatcher{
		sessionID:     sessionID,
		source:        source,
		minLevel:      minLevel,
		throttle:      throttle,
		notifiers:     notifiers,
		logger:        logger,
		now:           time.Now,
		queue:         make(chan dispatchJob, dispatchQueueSize),
		previousLevel: models.RiskSafe,
		lastAlert:     make(map[models.RiskLevel]time.Time),
	}
}

// WithClock overrides the throttle clock, mainly for tests.
func (d *AlertDispatcher) WithClock(now func() time.Time) *AlertDispatcher {
	d.now = now
	return d
}

// Run delivers queued alerts and feed events until ctx is cancelled.
// Notifier failures are logged, not returned.
func (d *AlertDispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			if n := len(d.queue); n > 0 {
				d.logger.Warn("Dropping undelivered alerts on shutdown", zap.Int("pending", n))
			}
			return
		case job := <-d.queue:
			d.deliver(ctx, job)
		}
	}
}

func (d *AlertDispatcher) deliver(ctx context.Context, job dispatchJob) {
	for _, n := range d.notifiers {
		if job.alert != nil {
			if err := n.SendRiskAlert(ctx, job.alert); err != nil {
				d.logger.Error("Failed to send risk alert",
					zap.String("notifier", n.Name()),
					zap.Error(err))
			} else {
				d.logger.Info("Risk alert sent", zap.String("notifier", n.Name()))
			}
		}
		if job.event != nil {
			if err := n.SendFeedEvent(ctx, job.event); err != nil {
				d.logger.Error("Failed to send feed event",
					zap.String("notifier", n.Name()),
					zap.String("status", string(job.event.Status)),
					zap.Error(err))
			}
		}
	}
}

// enqueue never blocks. A full queue drops the job.
func (d *AlertDispatcher) enqueue(job dispatchJob) {
	if len(d.notifiers) == 0 {
		return
	}
	select {
	case d.queue <- job:
	default:
		d.logger.Warn("Alert queue full, dropping notification",
			zap.Int("queue_size", cap(d.queue)))
	}
}

// Observe checks one classified reading and returns the alert it raised, if
// any. The alert is queued for Run to deliver.
func (d *AlertDispatcher) Observe(reading *models.Reading, level models.RiskLevel) *models.RiskAlert {
	alert := d.evaluate(reading, level)
	if alert == nil {
		return nil
	}

	d.logger.Warn("Risk level escalated",
		zap.String("session_id", d.sessionID),
		zap.String("risk_level", string(alert.Level)),
		zap.String("previous_level", string(alert.PreviousLevel)))

	d.enqueue(dispatchJob{alert: alert})
	return alert
}

func (d *AlertDispatcher) evaluate(reading *models.Reading, level models.RiskLevel) *models.RiskAlert {
	d.mu.Lock()
	defer d.mu.Unlock()

	previous := d.previousLevel
	d.previousLevel = level

	if level.Rank() < d.minLevel.Rank() || level.Rank() <= previous.Rank() {
		return nil
	}

	now := d.now()
	if last, ok := d.lastAlert[level]; ok && now.Sub(last) < d.throttle {
		d.logger.Debug("Throttling risk alert", zap.String("risk_level", string(level)))
		return nil
	}
	d.lastAlert[level] = now

	alert := &models.RiskAlert{
		SessionID:     d.sessionID,
		Source:        d.source,
		Level:         level,
		PreviousLevel: previous,
		Activity:      reading.ActivityState,
		Pattern:       reading.PosturePattern,
		Timestamp:     reading.Timestamp,
		Description:   describeEscalation(reading, previous, level),
	}
	if reading.HeartRate != nil {
		hr := *reading.HeartRate
		alert.HeartRate = &hr
	}
	return alert
}

func describeEscalation(reading *models.Reading, previous, level models.RiskLevel) string {
	switch {
	case reading.ActivityState != "" && reading.HasHeartRate():
		return fmt.Sprintf("Risk rose from %s to %s while %s at %d bpm", previous, level, reading.ActivityState, *reading.HeartRate)
	case reading.ActivityState != "":
		return fmt.Sprintf("Risk rose from %s to %s while %s", previous, level, reading.ActivityState)
	case reading.PosturePattern != "":
		return fmt.Sprintf("Risk rose from %s to %s with posture %s", previous, level, reading.PosturePattern)
	default:
		return fmt.Sprintf("Risk rose from %s to %s", previous, level)
	}
}

// PublishFeedEvent queues a feed stall or recovery for every notifier.
func (d *AlertDispatcher) PublishFeedEvent(event *models.FeedEvent) {
	d.enqueue(dispatchJob{event: event})
}

// Reset forgets the previous level, so the first reading after a reconnect
// is compared against safe.
func (d *AlertDispatcher) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.previousLevel = models.RiskSafe
}

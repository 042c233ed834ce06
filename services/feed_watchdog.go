package services

import (
	"context"
	"sync"
	"time"

	"posturewatch/models"

	"go.uber.org/zap"
)

const defaultWatchdogInterval = 5 * time.Second

// FeedEventPublisher receives stall and recovery events.
type FeedEventPublisher interface {
	PublishFeedEvent(event *models.FeedEvent)
}

// FeedWatchdog flags a connected feed that has gone quiet for longer than
// the timeout, and reports when payloads start flowing again.
type FeedWatchdog struct {
	sessionID string
	source    string
	timeout   time.Duration
	publisher FeedEventPublisher
	logger    *zap.Logger
	now       func() time.Time

	mu        sync.RWMutex
	connected bool
	health    models.FeedHealth
}

func NewFeedWatchdog(sessionID, source string, timeout time.Duration, publisher FeedEventPublisher, logger *zap.Logger) *FeedWatchdog {
	return &FeedWatchdog{
		sessionID: sessionID,
		source:    source,
		timeout:   timeout,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
		health:    models.FeedHealth{Status: models.FeedIdle},
	}
}

// WithClock overrides the clock used for connection transitions.
func (w *FeedWatchdog) WithClock(now func() time.Time) *FeedWatchdog {
	w.now = now
	return w
}

// Start runs the timeout checker until ctx is cancelled.
func (w *FeedWatchdog) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = defaultWatchdogInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.logger.Info("Feed watchdog started",
		zap.Duration("timeout", w.timeout),
		zap.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Feed watchdog stopped")
			return
		case now := <-ticker.C:
			w.Check(now)
		}
	}
}

// OnConnectionState tracks the manager's state. The stall clock starts when
// the source connects; any other state parks the watchdog. It is called with
// the connection manager locked, so it only touches watchdog state.
func (w *FeedWatchdog) OnConnectionState(status models.ConnectionStatus) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if status.State == models.StateConnected {
		w.connected = true
		w.health = models.FeedHealth{
			Status:        models.FeedHealthy,
			LastPayloadAt: w.now(),
		}
		return
	}

	w.connected = false
	w.health.Status = models.FeedIdle
	w.health.StalledAt = time.Time{}
}

// Touch records a payload arrival.
func (w *FeedWatchdog) Touch(now time.Time) {
	w.mu.Lock()
	previous := w.health
	w.health.LastPayloadAt = now

	var event *models.FeedEvent
	switch previous.Status {
	case models.FeedStalled:
		down := now.Sub(previous.StalledAt)
		w.health.Status = models.FeedRecovered
		w.health.StalledAt = time.Time{}
		event = &models.FeedEvent{
			SessionID:    w.sessionID,
			Source:       w.source,
			Status:       models.FeedRecovered,
			LastPayload:  now,
			DownDuration: down,
			Timestamp:    now,
		}
	case models.FeedRecovered, models.FeedIdle:
		w.health.Status = models.FeedHealthy
	}
	w.mu.Unlock()

	if event != nil {
		w.logger.Info("Feed recovered",
			zap.String("source", w.source),
			zap.Duration("down_duration", event.DownDuration))
		w.publisher.PublishFeedEvent(event)
	}
}

// Check marks the feed stalled once the timeout has elapsed without a
// payload. It emits one event per stall.
func (w *FeedWatchdog) Check(now time.Time) {
	w.mu.Lock()
	if !w.connected || w.health.Status == models.FeedStalled {
		w.mu.Unlock()
		return
	}

	silence := now.Sub(w.health.LastPayloadAt)
	if silence <= w.timeout {
		w.mu.Unlock()
		return
	}

	w.health.Status = models.FeedStalled
	w.health.StalledAt = now
	event := &models.FeedEvent{
		SessionID:   w.sessionID,
		Source:      w.source,
		Status:      models.FeedStalled,
		LastPayload: w.health.LastPayloadAt,
		Timestamp:   now,
	}
	w.mu.Unlock()

	w.logger.Warn("Feed stalled",
		zap.String("source", w.source),
		zap.Time("last_payload_at", event.LastPayload),
		zap.Duration("time_since_last_payload", silence))
	w.publisher.PublishFeedEvent(event)
}

// Health returns the current feed status.
func (w *FeedWatchdog) Health() models.FeedHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.health
}

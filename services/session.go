package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"posturewatch/config"
	"posturewatch/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DashboardSession wires one upstream source through decode, classify and
// aggregate. A session owns its aggregates; nothing is shared between
// sessions.
type DashboardSession struct {
	id         string
	source     string
	manager    *ConnectionManager
	decoder    *SignalDecoder
	classifier RiskClassifier
	aggregator *RollingAggregator
	dispatcher *AlertDispatcher
	watchdog   *FeedWatchdog
	logger     *zap.Logger
	interval   time.Duration

	// mu orders payload handling against Disconnect.
	mu sync.Mutex
}

// NewDashboardSession builds an idle session for transport. The decoder and
// classifier follow cfg.SourceMode.
func NewDashboardSession(cfg *config.Config, transport Transport, notifiers []Notifier, logger *zap.Logger) *DashboardSession {
	id := uuid.NewString()
	source := transport.Name()
	logger = logger.With(zap.String("session_id", id))

	format := FormatNotification
	if cfg.SourceMode == config.SourceSocket {
		format = FormatJSON
	}

	minLevel, ok := models.ParseRiskLevel(cfg.AlertMinLevel)
	if !ok {
		minLevel = models.RiskDanger
	}

	dispatcher := NewAlertDispatcher(id, source, minLevel, cfg.AlertThrottle, notifiers, logger)
	watchdog := NewFeedWatchdog(id, source, cfg.FeedTimeout, dispatcher, logger)

	manager := NewConnectionManager(transport, cfg.ReconnectDelay, logger)
	manager.OnStateChange(watchdog.OnConnectionState)

	interval := cfg.FeedTimeout / 3
	if interval <= 0 || interval > defaultWatchdogInterval {
		interval = defaultWatchdogInterval
	}

	return &DashboardSession{
		id:         id,
		source:     source,
		manager:    manager,
		decoder:    NewSignalDecoder(format),
		classifier: NewRiskClassifier(cfg),
		aggregator: NewRollingAggregator(cfg.SeriesCapacity, logger),
		dispatcher: dispatcher,
		watchdog:   watchdog,
		logger:     logger,
		interval:   interval,
	}
}

// NewTransport picks the upstream transport for cfg.SourceMode. prompt is
// only used by the wearable source.
func NewTransport(cfg *config.Config, prompt DevicePrompt, logger *zap.Logger) (Transport, error) {
	switch cfg.SourceMode {
	case config.SourceSocket:
		return NewWebSocketTransport(cfg.SocketURL, logger), nil
	case config.SourceWearable:
		return NewSerialTransport(cfg.WearableDeviceName, cfg.WearableBaudRate, prompt, logger), nil
	case config.SourceRelay:
		return NewMQTTRelayTransport(MQTTRelayOptions{
			Broker:   cfg.MQTTBroker,
			ClientID: "posturewatch-" + uuid.NewString()[:8],
			Username: cfg.MQTTUsername,
			Password: cfg.MQTTPassword,
			Topic:    cfg.WearableTopic(),
		}, logger), nil
	default:
		return nil, fmt.Errorf("unsupported source mode %q", cfg.SourceMode)
	}
}

func (s *DashboardSession) ID() string     { return s.id }
func (s *DashboardSession) Source() string { return s.source }

// Manager exposes the connection manager, e.g. to swap the retry scheduler.
func (s *DashboardSession) Manager() *ConnectionManager { return s.manager }

// Run consumes inbound payloads in arrival order until ctx is cancelled.
func (s *DashboardSession) Run(ctx context.Context) {
	s.logger.Info("Starting dashboard session",
		zap.String("source", s.source),
		zap.String("format", s.decoder.Format().String()),
		zap.String("classifier", s.classifier.Name()))

	go s.dispatcher.Run(ctx)
	go s.watchdog.Start(ctx, s.interval)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Dashboard session stopped")
			return
		case payload := <-s.manager.Inbound():
			s.handlePayload(payload)
		}
	}
}

func (s *DashboardSession) handlePayload(payload InboundPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.manager.IsCurrent(payload.Generation) {
		s.logger.Debug("Dropping payload from a closed connection",
			zap.Uint64("generation", payload.Generation))
		return
	}

	raw := payload.Data
	reading, err := s.decoder.Decode(raw)
	if err != nil {
		s.logger.Warn("Dropping malformed payload",
			zap.String("source", s.source),
			zap.Int("payload_bytes", len(raw)),
			zap.String("decode_error", err.Error()))
		return
	}

	level := s.classifier.Classify(reading)
	s.aggregator.Record(reading, level)
	s.watchdog.Touch(reading.Timestamp)

	s.logger.Debug("Reading classified",
		zap.String("activity_state", string(reading.ActivityState)),
		zap.String("posture_pattern", string(reading.PosturePattern)),
		zap.String("risk_level", string(level)))

	s.dispatcher.Observe(reading, level)
}

// Connect opens the upstream source. See ConnectionManager.Connect.
func (s *DashboardSession) Connect(ctx context.Context) error {
	return s.manager.Connect(ctx)
}

// Disconnect closes the source and clears the latest reading. Counters and
// series are kept for the rest of the session.
func (s *DashboardSession) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.manager.Disconnect()
	s.aggregator.ClearLatest()
	s.dispatcher.Reset()
}

// Snapshot returns a read-only copy of everything the dashboard shows.
func (s *DashboardSession) Snapshot() models.DashboardSnapshot {
	snap := models.DashboardSnapshot{
		SessionID:  s.id,
		Connection: s.manager.Status(),
		Feed:       s.watchdog.Health(),
	}
	s.aggregator.Fill(&snap)
	return snap
}

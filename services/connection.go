package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"posturewatch/models"

	"go.uber.org/zap"
)

// Subscription is one live upstream stream of raw payloads.
type Subscription interface {
	// Next blocks until the next payload arrives, the stream ends, or ctx
	// is cancelled.
	Next(ctx context.Context) ([]byte, error)
	// Unsubscribe detaches payload listeners. It runs before Close.
	Unsubscribe() error
	// Close releases the transport handle. Closing an already closed
	// handle must not fail loudly.
	Close() error
}

// Transport opens subscriptions to one kind of upstream source.
type Transport interface {
	Name() string
	// AutoRetry reports whether transient failures schedule a reconnect
	// on their own. Sources that need a user gesture return false.
	AutoRetry() bool
	Dial(ctx context.Context) (Subscription, error)
}

// RetryTimer is the handle of a scheduled reconnect.
type RetryTimer interface {
	Stop() bool
}

// RetryScheduler arms f to run once after d.
type RetryScheduler func(d time.Duration, f func()) RetryTimer

func defaultRetryScheduler(d time.Duration, f func()) RetryTimer {
	return time.AfterFunc(d, f)
}

const inboundBuffer = 64

// InboundPayload is one raw payload tagged with the generation of the
// subscription that produced it.
type InboundPayload struct {
	Generation uint64
	Data       []byte
}

// ConnectionManager owns the lifecycle of a single upstream subscription.
// It forwards raw payloads, in arrival order, onto one inbound channel.
type ConnectionManager struct {
	transport  Transport
	retryDelay time.Duration
	logger     *zap.Logger
	schedule   RetryScheduler
	inbound    chan InboundPayload

	mu         sync.Mutex
	state      models.ConnectionState
	lastErr    string
	generation uint64
	sub        Subscription
	cancelPump context.CancelFunc
	retryTimer RetryTimer
	listeners  []func(models.ConnectionStatus)
}

// NewConnectionManager creates an idle manager for transport.
func NewConnectionManager(transport Transport, retryDelay time.Duration, logger *zap.Logger) *ConnectionManager {
	return &ConnectionManager{
		transport:  transport,
		retryDelay: retryDelay,
		logger:     logger.With(zap.String("source", transport.Name())),
		schedule:   defaultRetryScheduler,
		inbound:    make(chan InboundPayload, inboundBuffer),
		state:      models.StateIdle,
	}
}

// WithRetryScheduler replaces the reconnect timer, mainly for tests.
func (m *ConnectionManager) WithRetryScheduler(schedule RetryScheduler) *ConnectionManager {
	m.schedule = schedule
	return m
}

// OnStateChange registers fn to run after every state transition. fn runs
// with the manager locked and must not call back into it.
func (m *ConnectionManager) OnStateChange(fn func(models.ConnectionStatus)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Inbound is the channel of raw payloads from whichever subscription is
// currently attached. Payloads queued before a disconnect or reconnect stay
// in the channel; check them with IsCurrent.
func (m *ConnectionManager) Inbound() <-chan InboundPayload {
	return m.inbound
}

// IsCurrent reports whether a payload tagged with gen came from the live
// connection attempt. Any Connect or Disconnect since makes it stale.
func (m *ConnectionManager) IsCurrent(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen == m.generation
}

func (m *ConnectionManager) Status() models.ConnectionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked()
}

func (m *ConnectionManager) statusLocked() models.ConnectionStatus {
	return models.ConnectionStatus{
		Source: m.transport.Name(),
		State:  m.state,
		Error:  m.lastErr,
	}
}

// Connect opens the upstream subscription. It is a no-op while a connect is
// in flight or a subscription is live. A cancelled device prompt returns nil
// and leaves the manager idle. Other failures are returned and also kept as
// the current error.
func (m *ConnectionManager) Connect(ctx context.Context) error {
	return m.connect(ctx, false, 0)
}

// connect does the work of Connect. A retry passes the generation its timer
// was armed for; the staleness check and the move to connecting happen under
// one lock so a Disconnect cannot slip in between.
func (m *ConnectionManager) connect(ctx context.Context, fromRetry bool, expectGen uint64) error {
	m.mu.Lock()
	if fromRetry && (expectGen != m.generation || m.state != models.StateDisconnectedRetrying) {
		m.mu.Unlock()
		m.logger.Debug("Skipping stale reconnect")
		return nil
	}
	if m.state == models.StateConnecting || m.state == models.StateConnected {
		m.mu.Unlock()
		m.logger.Debug("Connect ignored, already active", zap.String("state", string(m.state)))
		return nil
	}

	m.stopRetryLocked()
	m.generation++
	gen := m.generation
	m.setStateLocked(models.StateConnecting, m.lastErr)
	m.mu.Unlock()

	m.logger.Info("Connecting to upstream source")
	sub, err := m.transport.Dial(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.generation {
		// Disconnected while the handshake was in flight.
		if err == nil && sub != nil {
			m.closeSubscription(sub)
		}
		m.logger.Info("Discarding connection opened after disconnect")
		return nil
	}

	if err != nil {
		return m.handleDialFailureLocked(gen, err)
	}

	m.attachLocked(gen, sub)
	m.logger.Info("Connected to upstream source")
	return nil
}

func (m *ConnectionManager) handleDialFailureLocked(gen uint64, err error) error {
	kind := ClassifyConnectionError(err)

	switch kind {
	case UserCancelled:
		m.logger.Info("Device selection cancelled by user")
		m.setStateLocked(models.StateIdle, "")
		return nil

	case Transient:
		m.setStateLocked(models.StateDisconnectedRetrying, err.Error())
		if m.transport.AutoRetry() {
			m.logger.Warn("Connection attempt failed, scheduling retry",
				zap.Duration("retry_delay", m.retryDelay),
				zap.Error(err))
			m.scheduleRetryLocked(gen)
		} else {
			m.logger.Warn("Connection attempt failed, manual reconnect required", zap.Error(err))
		}

	default:
		m.logger.Error("Connection attempt failed",
			zap.String("error_kind", kind.String()),
			zap.Error(err))
		m.setStateLocked(models.StateIdle, err.Error())
	}

	return fmt.Errorf("failed to connect to %s: %w", m.transport.Name(), err)
}

// attachLocked makes sub the live subscription, detaching any previous one
// first.
func (m *ConnectionManager) attachLocked(gen uint64, sub Subscription) {
	if m.sub != nil {
		m.teardownLocked()
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	m.sub = sub
	m.cancelPump = cancel
	m.setStateLocked(models.StateConnected, "")

	go m.pump(pumpCtx, gen, sub)
}

func (m *ConnectionManager) pump(ctx context.Context, gen uint64, sub Subscription) {
	for {
		payload, err := sub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.handleClosure(gen, err)
			return
		}

		select {
		case m.inbound <- InboundPayload{Generation: gen, Data: payload}:
		case <-ctx.Done():
			return
		}
	}
}

// handleClosure reacts to the upstream ending on its own.
func (m *ConnectionManager) handleClosure(gen uint64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.generation || m.state != models.StateConnected {
		return
	}

	m.logger.Warn("Upstream connection lost", zap.Error(err))
	m.teardownLocked()
	m.setStateLocked(models.StateDisconnectedRetrying, err.Error())

	if m.transport.AutoRetry() {
		m.scheduleRetryLocked(gen)
	}
}

func (m *ConnectionManager) scheduleRetryLocked(gen uint64) {
	m.stopRetryLocked()
	m.retryTimer = m.schedule(m.retryDelay, func() { m.retry(gen) })
}

func (m *ConnectionManager) stopRetryLocked() {
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
}

// retry runs when a reconnect timer fires. connect re-checks the state since
// a disconnect may have happened after the timer was armed.
func (m *ConnectionManager) retry(gen uint64) {
	m.logger.Info("Attempting to reconnect")
	if err := m.connect(context.Background(), true, gen); err != nil {
		m.logger.Debug("Reconnect attempt failed", zap.Error(err))
	}
}

// Disconnect tears down the live subscription, cancels any pending retry and
// moves to disconnected-final. It never fails and may be called repeatedly.
func (m *ConnectionManager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.generation++
	m.stopRetryLocked()
	m.teardownLocked()
	m.setStateLocked(models.StateDisconnectedFinal, "")
	m.logger.Info("Disconnected from upstream source")
}

// teardownLocked stops the pump, detaches listeners and then releases the
// handle. Teardown errors are logged and ignored.
func (m *ConnectionManager) teardownLocked() {
	if m.cancelPump != nil {
		m.cancelPump()
		m.cancelPump = nil
	}

	sub := m.sub
	m.sub = nil
	if sub != nil {
		m.closeSubscription(sub)
	}
}

func (m *ConnectionManager) closeSubscription(sub Subscription) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Warn("Recovered from panic during teardown", zap.Any("panic", r))
		}
	}()

	if err := sub.Unsubscribe(); err != nil {
		m.logger.Debug("Error detaching listeners (ignored)", zap.Error(err))
	}
	if err := sub.Close(); err != nil {
		m.logger.Debug("Error closing transport (ignored)", zap.Error(err))
	}
}

func (m *ConnectionManager) setStateLocked(state models.ConnectionState, errMsg string) {
	m.state = state
	m.lastErr = errMsg

	status := m.statusLocked()
	for _, fn := range m.listeners {
		fn(status)
	}
}

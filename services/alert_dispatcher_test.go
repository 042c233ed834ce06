package services_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"posturewatch/models"
	"posturewatch/services"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// recordingNotifier keeps everything it is asked to send.
type recordingNotifier struct {
	name string
	err  error

	mu     sync.Mutex
	alerts []*models.RiskAlert
	events []*models.FeedEvent
}

func (n *recordingNotifier) Name() string { return n.name }

func (n *recordingNotifier) SendRiskAlert(_ context.Context, alert *models.RiskAlert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, alert)
	return n.err
}

func (n *recordingNotifier) SendFeedEvent(_ context.Context, event *models.FeedEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return n.err
}

func (n *recordingNotifier) Alerts() []*models.RiskAlert {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*models.RiskAlert(nil), n.alerts...)
}

func (n *recordingNotifier) Events() []*models.FeedEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*models.FeedEvent(nil), n.events...)
}

// manualClock only moves when the test advances it.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestDispatcher(t *testing.T, minLevel models.RiskLevel, notifiers ...services.Notifier) (*services.AlertDispatcher, *manualClock) {
	clock := &manualClock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	d := services.NewAlertDispatcher("session-1", "wearable", minLevel, 15*time.Second, notifiers, zap.NewNop()).
		WithClock(clock.Now)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return d, clock
}

// blockingNotifier holds every delivery until released or cancelled.
type blockingNotifier struct {
	recordingNotifier
	release chan struct{}
}

func newBlockingNotifier() *blockingNotifier {
	return &blockingNotifier{
		recordingNotifier: recordingNotifier{name: "blocking"},
		release:           make(chan struct{}),
	}
}

func (n *blockingNotifier) SendRiskAlert(ctx context.Context, alert *models.RiskAlert) error {
	select {
	case <-n.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return n.recordingNotifier.SendRiskAlert(ctx, alert)
}

func (n *blockingNotifier) SendFeedEvent(ctx context.Context, event *models.FeedEvent) error {
	select {
	case <-n.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return n.recordingNotifier.SendFeedEvent(ctx, event)
}

func alertCount(n *recordingNotifier, want int) func() bool {
	return func() bool { return len(n.Alerts()) == want }
}

func walking(hr int) *models.Reading {
	return &models.Reading{ActivityState: models.ActivityWalking, HeartRate: bpm(hr)}
}

func TestAlertDispatcher_AlertsOnEscalationToMinLevel(t *testing.T) {
	notifier := &recordingNotifier{name: "rec"}
	d, _ := newTestDispatcher(t, models.RiskDanger, notifier)

	require.Nil(t, d.Observe(walking(90), models.RiskWarning))
	alert := d.Observe(walking(130), models.RiskDanger)
	require.NotNil(t, alert)

	require.Equal(t, models.RiskDanger, alert.Level)
	require.Equal(t, models.RiskWarning, alert.PreviousLevel)
	require.Equal(t, "session-1", alert.SessionID)
	require.Equal(t, "wearable", alert.Source)
	require.Equal(t, 130, *alert.HeartRate)
	require.Contains(t, alert.Description, "walking at 130 bpm")
	require.Eventually(t, alertCount(notifier, 1), time.Second, time.Millisecond)
}

func TestAlertDispatcher_NoAlertWhileLevelHolds(t *testing.T) {
	notifier := &recordingNotifier{name: "rec"}
	d, clock := newTestDispatcher(t, models.RiskWarning, notifier)

	require.NotNil(t, d.Observe(walking(130), models.RiskDanger))
	clock.Advance(time.Minute)
	require.Nil(t, d.Observe(walking(135), models.RiskDanger))
	require.Nil(t, d.Observe(walking(90), models.RiskWarning))
	require.Eventually(t, alertCount(notifier, 1), time.Second, time.Millisecond)
	require.Never(t, alertCount(notifier, 2), 50*time.Millisecond, 5*time.Millisecond)
}

func TestAlertDispatcher_ThrottlesRepeatedEscalations(t *testing.T) {
	notifier := &recordingNotifier{name: "rec"}
	d, clock := newTestDispatcher(t, models.RiskDanger, notifier)

	require.NotNil(t, d.Observe(walking(130), models.RiskDanger))
	require.Nil(t, d.Observe(walking(90), models.RiskWarning))

	clock.Advance(5 * time.Second)
	require.Nil(t, d.Observe(walking(130), models.RiskDanger), "inside throttle window")

	require.Nil(t, d.Observe(walking(90), models.RiskWarning))
	clock.Advance(15 * time.Second)
	require.NotNil(t, d.Observe(walking(130), models.RiskDanger))
	require.Eventually(t, alertCount(notifier, 2), time.Second, time.Millisecond)
}

func TestAlertDispatcher_ResetComparesAgainstSafe(t *testing.T) {
	d, clock := newTestDispatcher(t, models.RiskWarning)

	require.NotNil(t, d.Observe(walking(90), models.RiskWarning))
	d.Reset()
	clock.Advance(time.Minute)
	alert := d.Observe(walking(90), models.RiskWarning)
	require.NotNil(t, alert)
	require.Equal(t, models.RiskSafe, alert.PreviousLevel)
}

func TestAlertDispatcher_NotifierFailureDoesNotStopFanOut(t *testing.T) {
	failing := &recordingNotifier{name: "failing", err: errors.New("unreachable")}
	ok := &recordingNotifier{name: "ok"}
	d, _ := newTestDispatcher(t, models.RiskDanger, failing, ok)

	require.NotNil(t, d.Observe(walking(150), models.RiskDanger))
	require.Eventually(t, alertCount(failing, 1), time.Second, time.Millisecond)
	require.Eventually(t, alertCount(ok, 1), time.Second, time.Millisecond)

	d.PublishFeedEvent(&models.FeedEvent{Status: models.FeedStalled})
	require.Eventually(t, func() bool {
		return len(failing.Events()) == 1 && len(ok.Events()) == 1
	}, time.Second, time.Millisecond)
}

func TestAlertDispatcher_SlowNotifierDoesNotBlockObserve(t *testing.T) {
	slow := newBlockingNotifier()
	d, clock := newTestDispatcher(t, models.RiskWarning, slow)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			d.Observe(walking(130), models.RiskDanger)
			d.Observe(walking(70), models.RiskSafe)
			clock.Advance(time.Minute)
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Observe blocked behind a stalled notifier")
	}
	require.Empty(t, slow.Alerts())

	close(slow.release)
	require.Eventually(t, func() bool { return len(slow.Alerts()) > 0 }, time.Second, time.Millisecond)
}

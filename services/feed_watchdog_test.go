package services_test

import (
	"sync"
	"testing"
	"time"

	"posturewatch/models"
	"posturewatch/services"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type eventSink struct {
	mu     sync.Mutex
	events []*models.FeedEvent
}

func (s *eventSink) PublishFeedEvent(event *models.FeedEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *eventSink) Events() []*models.FeedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.FeedEvent(nil), s.events...)
}

func TestFeedWatchdog_StallsOnceThenRecovers(t *testing.T) {
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	sink := &eventSink{}
	w := services.NewFeedWatchdog("session-1", "socket", 30*time.Second, sink, zap.NewNop()).
		WithClock(func() time.Time { return start })

	require.Equal(t, models.FeedIdle, w.Health().Status)

	w.OnConnectionState(models.ConnectionStatus{State: models.StateConnected})
	require.Equal(t, models.FeedHealthy, w.Health().Status)

	w.Check(start.Add(20*time.Second))
	require.Empty(t, sink.Events())

	w.Check(start.Add(31*time.Second))
	w.Check(start.Add(45*time.Second))
	events := sink.Events()
	require.Len(t, events, 1)
	require.Equal(t, models.FeedStalled, events[0].Status)
	require.Equal(t, start, events[0].LastPayload)
	require.Equal(t, models.FeedStalled, w.Health().Status)

	w.Touch(start.Add(91*time.Second))
	events = sink.Events()
	require.Len(t, events, 2)
	require.Equal(t, models.FeedRecovered, events[1].Status)
	require.Equal(t, time.Minute, events[1].DownDuration)
	require.Equal(t, models.FeedRecovered, w.Health().Status)

	w.Touch(start.Add(92*time.Second))
	require.Equal(t, models.FeedHealthy, w.Health().Status)
	require.Len(t, sink.Events(), 2)
}

func TestFeedWatchdog_IgnoresSilenceWhileNotConnected(t *testing.T) {
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	sink := &eventSink{}
	w := services.NewFeedWatchdog("session-1", "relay", 10*time.Second, sink, zap.NewNop()).
		WithClock(func() time.Time { return start })

	w.Check(start.Add(time.Hour))
	require.Empty(t, sink.Events())

	w.OnConnectionState(models.ConnectionStatus{State: models.StateConnected})
	w.OnConnectionState(models.ConnectionStatus{State: models.StateDisconnectedRetrying})
	w.Check(start.Add(time.Hour))
	require.Empty(t, sink.Events())
	require.Equal(t, models.FeedIdle, w.Health().Status)
}

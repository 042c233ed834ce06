package services

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	websocketHandshakeTimeout = 10 * time.Second
	websocketCloseGrace       = time.Second
)

// WebSocketTransport subscribes to the JSON socket feed.
type WebSocketTransport struct {
	url    string
	dialer *websocket.Dialer
	logger *zap.Logger
}

// NewWebSocketTransport creates a transport for the feed at rawURL
func NewWebSocketTransport(rawURL string, logger *zap.Logger) *WebSocketTransport {
	return &WebSocketTransport{
		url: rawURL,
		dialer: &websocket.Dialer{
			HandshakeTimeout: websocketHandshakeTimeout,
		},
		logger: logger,
	}
}

func (t *WebSocketTransport) Name() string    { return "socket" }
func (t *WebSocketTransport) AutoRetry() bool { return true }

func (t *WebSocketTransport) Dial(ctx context.Context) (Subscription, error) {
	u, err := url.Parse(t.url)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		if err == nil {
			err = fmt.Errorf("unsupported scheme %q", u.Scheme)
		}
		return nil, connectionError(Fatal, t.Name(), fmt.Errorf("invalid socket url %q: %w", t.url, err))
	}

	conn, resp, err := t.dialer.DialContext(ctx, t.url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, connectionError(Transient, t.Name(), err)
	}

	t.logger.Info("WebSocket connected", zap.String("url", t.url))
	return &websocketSubscription{conn: conn, logger: t.logger}, nil
}

type websocketSubscription struct {
	conn   *websocket.Conn
	logger *zap.Logger

	closeOnce sync.Once
	closeErr  error
}

// Next returns the next text or binary message. Close unblocks a pending
// read, as does ctx cancellation.
func (s *websocketSubscription) Next(ctx context.Context) ([]byte, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = s.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
		if messageType == websocket.TextMessage || messageType == websocket.BinaryMessage {
			return data, nil
		}
	}
}

// Unsubscribe sends a close frame so the server stops writing.
func (s *websocketSubscription) Unsubscribe() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect")
	return s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(websocketCloseGrace))
}

func (s *websocketSubscription) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.conn.Close()
		s.logger.Info("WebSocket disconnected")
	})
	return s.closeErr
}

package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// doneToken is an already completed paho token.
type doneToken struct {
	err error
}

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Error() error                   { return t.err }

func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// pendingToken never completes.
type pendingToken struct{ doneToken }

func (pendingToken) Done() <-chan struct{} { return make(chan struct{}) }

type relayMessage struct {
	mqtt.Message
	payload []byte
}

func (m relayMessage) Payload() []byte { return m.payload }

// fakeMQTTClient records what the transport asks of the broker. Methods the
// transport never calls fall through to the nil embedded client.
type fakeMQTTClient struct {
	mqtt.Client

	opts         *mqtt.ClientOptions
	connectToken mqtt.Token
	subErr       error

	mu           sync.Mutex
	connected    bool
	handler      mqtt.MessageHandler
	subscribed   []string
	unsubscribed []string
	disconnects  int
}

func (c *fakeMQTTClient) Connect() mqtt.Token {
	if c.connectToken != nil {
		return c.connectToken
	}
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	return doneToken{}
}

func (c *fakeMQTTClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeMQTTClient) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribed = append(c.subscribed, topic)
	c.handler = handler
	return doneToken{err: c.subErr}
}

func (c *fakeMQTTClient) Unsubscribe(topics ...string) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unsubscribed = append(c.unsubscribed, topics...)
	return doneToken{}
}

func (c *fakeMQTTClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	c.disconnects++
}

func (c *fakeMQTTClient) publish(payload []byte) {
	c.mu.Lock()
	handler := c.handler
	c.mu.Unlock()
	handler(c, relayMessage{payload: payload})
}

func (c *fakeMQTTClient) Disconnects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnects
}

func newRelayTransport(client *fakeMQTTClient) *MQTTRelayTransport {
	t := NewMQTTRelayTransport(MQTTRelayOptions{
		Broker:   "tcp://localhost:1883",
		ClientID: "posturewatch-test",
		Username: "relay",
		Topic:    "posturewatch/wearable/bpm",
	}, zap.NewNop())
	t.newClient = func(opts *mqtt.ClientOptions) mqtt.Client {
		client.opts = opts
		return client
	}
	return t
}

func TestMQTTRelayTransport_DialSubscribesAndDelivers(t *testing.T) {
	client := &fakeMQTTClient{}
	transport := newRelayTransport(client)

	sub, err := transport.Dial(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"posturewatch/wearable/bpm"}, client.subscribed)
	require.False(t, client.opts.AutoReconnect)
	require.True(t, client.opts.CleanSession)
	require.Equal(t, "relay", client.opts.Username)

	raw := []byte{72, 95, 2}
	client.publish(raw)
	raw[0] = 0

	got, err := sub.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, []byte{72, 95, 2}, got)
}

func TestMQTTRelayTransport_ConnectionLostIsTransient(t *testing.T) {
	client := &fakeMQTTClient{}
	sub, err := newRelayTransport(client).Dial(context.Background())
	require.NoError(t, err)

	lost := errors.New("pingresp not received")
	client.opts.OnConnectionLost(client, lost)
	client.opts.OnConnectionLost(client, lost)

	_, err = sub.Next(context.Background())
	require.ErrorIs(t, err, lost)
	require.Equal(t, Transient, ClassifyConnectionError(err))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = sub.Next(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMQTTRelayTransport_ConnectFailure(t *testing.T) {
	refused := errors.New("connection refused")
	client := &fakeMQTTClient{connectToken: doneToken{err: refused}}

	_, err := newRelayTransport(client).Dial(context.Background())
	require.ErrorIs(t, err, refused)
	require.Equal(t, Transient, ClassifyConnectionError(err))
	require.Empty(t, client.subscribed)
}

func TestMQTTRelayTransport_DialHonoursContext(t *testing.T) {
	client := &fakeMQTTClient{connectToken: pendingToken{}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newRelayTransport(client).Dial(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestMQTTRelayTransport_SubscribeFailureDisconnects(t *testing.T) {
	client := &fakeMQTTClient{subErr: errors.New("not authorized")}

	_, err := newRelayTransport(client).Dial(context.Background())
	require.ErrorContains(t, err, "posturewatch/wearable/bpm")
	require.Equal(t, Transient, ClassifyConnectionError(err))
	require.Equal(t, 1, client.Disconnects())
}

func TestMQTTRelayTransport_UnsubscribeThenClose(t *testing.T) {
	client := &fakeMQTTClient{}
	sub, err := newRelayTransport(client).Dial(context.Background())
	require.NoError(t, err)

	require.NoError(t, sub.Unsubscribe())
	require.Equal(t, []string{"posturewatch/wearable/bpm"}, client.unsubscribed)

	client.publish([]byte{130, 90, 0})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = sub.Next(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, sub.Close())
	require.Equal(t, 1, client.Disconnects())

	require.NoError(t, sub.Close())
	require.Equal(t, 1, client.Disconnects(), "closing a disconnected client is a no-op")
}

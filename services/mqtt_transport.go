package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

const (
	mqttConnectTimeout  = 10 * time.Second
	mqttDisconnectQuiet = 250
)

// MQTTRelayOptions configures the broker an ESP32 relay publishes
// characteristic notifications to.
type MQTTRelayOptions struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string
}

// MQTTRelayTransport subscribes to wearable notifications relayed over MQTT.
// The manager owns reconnects, so paho's own auto-reconnect is off.
type MQTTRelayTransport struct {
	opts      MQTTRelayOptions
	logger    *zap.Logger
	newClient func(*mqtt.ClientOptions) mqtt.Client
}

func NewMQTTRelayTransport(opts MQTTRelayOptions, logger *zap.Logger) *MQTTRelayTransport {
	return &MQTTRelayTransport{opts: opts, logger: logger, newClient: mqtt.NewClient}
}

func (t *MQTTRelayTransport) Name() string    { return "relay" }
func (t *MQTTRelayTransport) AutoRetry() bool { return true }

func (t *MQTTRelayTransport) Dial(ctx context.Context) (Subscription, error) {
	sub := &mqttSubscription{
		topic:    t.opts.Topic,
		logger:   t.logger,
		payloads: make(chan []byte, inboundBuffer),
		lost:     make(chan error, 1),
	}

	clientOpts := mqtt.NewClientOptions()
	clientOpts.AddBroker(t.opts.Broker)
	clientOpts.SetClientID(t.opts.ClientID)
	if t.opts.Username != "" {
		clientOpts.SetUsername(t.opts.Username)
	}
	if t.opts.Password != "" {
		clientOpts.SetPassword(t.opts.Password)
	}
	clientOpts.SetKeepAlive(60 * time.Second)
	clientOpts.SetPingTimeout(10 * time.Second)
	clientOpts.SetConnectTimeout(mqttConnectTimeout)
	clientOpts.SetAutoReconnect(false)
	clientOpts.SetCleanSession(true)
	clientOpts.OnConnectionLost = func(client mqtt.Client, err error) {
		t.logger.Error("MQTT connection lost", zap.Error(err))
		sub.signalLost(err)
	}

	client := t.newClient(clientOpts)
	sub.client = client

	token := client.Connect()
	if err := waitToken(ctx, token, mqttConnectTimeout); err != nil {
		return nil, connectionError(Transient, t.Name(), fmt.Errorf("failed to connect to MQTT broker: %w", err))
	}

	subToken := client.Subscribe(t.opts.Topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		sub.deliver(msg.Payload())
	})
	if err := waitToken(ctx, subToken, mqttConnectTimeout); err != nil {
		client.Disconnect(mqttDisconnectQuiet)
		return nil, connectionError(Transient, t.Name(), fmt.Errorf("failed to subscribe to topic %s: %w", t.opts.Topic, err))
	}

	t.logger.Info("Subscribed to wearable relay",
		zap.String("broker", t.opts.Broker),
		zap.String("topic", t.opts.Topic))

	return sub, nil
}

// waitToken waits for a paho token, giving up on ctx or timeout.
func waitToken(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("timed out after %s", timeout)
	}
}

type mqttSubscription struct {
	client   mqtt.Client
	topic    string
	logger   *zap.Logger
	payloads chan []byte
	lost     chan error

	mu       sync.Mutex
	detached bool
	lostOnce sync.Once
}

func (s *mqttSubscription) deliver(payload []byte) {
	s.mu.Lock()
	detached := s.detached
	s.mu.Unlock()
	if detached {
		return
	}

	data := make([]byte, len(payload))
	copy(data, payload)
	s.payloads <- data
}

func (s *mqttSubscription) signalLost(err error) {
	s.lostOnce.Do(func() {
		s.lost <- connectionError(Transient, "relay", err)
	})
}

func (s *mqttSubscription) Next(ctx context.Context) ([]byte, error) {
	select {
	case p := <-s.payloads:
		return p, nil
	case err := <-s.lost:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *mqttSubscription) Unsubscribe() error {
	s.mu.Lock()
	s.detached = true
	s.mu.Unlock()

	if !s.client.IsConnected() {
		return nil
	}
	token := s.client.Unsubscribe(s.topic)
	token.WaitTimeout(time.Second)
	if token.Error() != nil {
		return fmt.Errorf("failed to unsubscribe: %w", token.Error())
	}
	return nil
}

// Close disconnects the client. Calling it on a disconnected client is a
// no-op.
func (s *mqttSubscription) Close() error {
	if s.client.IsConnected() {
		s.client.Disconnect(mqttDisconnectQuiet)
		s.logger.Info("Disconnected from MQTT broker")
	}
	// Release a paho callback blocked on a full queue.
	for {
		select {
		case <-s.payloads:
		default:
			return nil
		}
	}
}

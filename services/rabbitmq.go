package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"posturewatch/models"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	RoutingKeyRiskAlert = "risk_alert"
	RoutingKeyFeedEvent = "feed_event"
)

// AMQPPublisher is the part of an amqp channel the notifier publishes through.
type AMQPPublisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// RabbitMQNotifier publishes alerts and feed events as JSON to a direct
// exchange so downstream consumers can bind queues per routing key.
type RabbitMQNotifier struct {
	url      string
	exchange string
	logger   *zap.Logger

	mu        sync.Mutex
	conn      *amqp.Connection
	channel   AMQPPublisher
	isClosing bool
}

// NewRabbitMQNotifier connects to RabbitMQ and declares the exchange.
func NewRabbitMQNotifier(url, exchange string, logger *zap.Logger) (*RabbitMQNotifier, error) {
	r := &RabbitMQNotifier{
		url:      url,
		exchange: exchange,
		logger:   logger,
	}

	if err := r.connect(); err != nil {
		return nil, err
	}

	return r, nil
}

// NewRabbitMQNotifierWithPublisher wires a notifier to an existing publisher.
func NewRabbitMQNotifierWithPublisher(publisher AMQPPublisher, exchange string, logger *zap.Logger) *RabbitMQNotifier {
	return &RabbitMQNotifier{exchange: exchange, channel: publisher, logger: logger}
}

// connect establishes connection to RabbitMQ and declares the exchange
func (r *RabbitMQNotifier) connect() error {
	r.logger.Info("Connecting to RabbitMQ", zap.String("exchange", r.exchange))

	var (
		conn *amqp.Connection
		err  error
	)

	// Connect to RabbitMQ with retry
	maxRetries := 5
	for attempt := 1; attempt <= maxRetries; attempt++ {
		conn, err = amqp.Dial(r.url)
		if err == nil {
			break
		}

		r.logger.Warn("Failed to connect to RabbitMQ",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(err))

		if attempt < maxRetries {
			time.Sleep(time.Duration(attempt) * 2 * time.Second)
		}
	}

	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", maxRetries, err)
	}

	r.logger.Info("Connected to RabbitMQ successfully")

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	err = channel.ExchangeDeclare(
		r.exchange, // name
		"direct",   // type
		true,       // durable
		false,      // auto-deleted
		false,      // internal
		false,      // no-wait
		nil,        // arguments
	)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	r.logger.Info("Exchange declared", zap.String("exchange", r.exchange))

	r.mu.Lock()
	r.conn = conn
	r.channel = channel
	r.mu.Unlock()

	go r.handleReconnect(conn)

	return nil
}

// handleReconnect redials when the broker drops the connection
func (r *RabbitMQNotifier) handleReconnect(conn *amqp.Connection) {
	closeErr, ok := <-conn.NotifyClose(make(chan *amqp.Error, 1))

	r.mu.Lock()
	closing := r.isClosing
	r.mu.Unlock()
	if closing || !ok {
		r.logger.Info("RabbitMQ connection closed gracefully")
		return
	}

	r.logger.Error("RabbitMQ connection lost", zap.Error(closeErr))

	for {
		r.mu.Lock()
		closing := r.isClosing
		r.mu.Unlock()
		if closing {
			return
		}

		r.logger.Info("Attempting to reconnect to RabbitMQ...")
		err := r.connect()
		if err == nil {
			r.logger.Info("Successfully reconnected to RabbitMQ")
			return
		}

		r.logger.Error("Failed to reconnect", zap.Error(err))
		time.Sleep(5 * time.Second)
	}
}

func (r *RabbitMQNotifier) Name() string { return "rabbitmq" }

func (r *RabbitMQNotifier) SendRiskAlert(ctx context.Context, alert *models.RiskAlert) error {
	return r.publish(ctx, RoutingKeyRiskAlert, alert)
}

func (r *RabbitMQNotifier) SendFeedEvent(ctx context.Context, event *models.FeedEvent) error {
	return r.publish(ctx, RoutingKeyFeedEvent, event)
}

func (r *RabbitMQNotifier) publish(ctx context.Context, routingKey string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", routingKey, err)
	}

	r.mu.Lock()
	channel := r.channel
	r.mu.Unlock()
	if channel == nil {
		return fmt.Errorf("rabbitmq channel not open")
	}

	err = channel.PublishWithContext(ctx,
		r.exchange, // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	r.logger.Debug("Published to RabbitMQ",
		zap.String("exchange", r.exchange),
		zap.String("routing_key", routingKey))

	return nil
}

// Close gracefully closes RabbitMQ connection
func (r *RabbitMQNotifier) Close() error {
	r.mu.Lock()
	r.isClosing = true
	conn := r.conn
	r.mu.Unlock()

	if conn == nil {
		return nil
	}

	r.logger.Info("Closing RabbitMQ connection")
	if err := conn.Close(); err != nil {
		r.logger.Error("Error closing connection", zap.Error(err))
		return err
	}

	r.logger.Info("RabbitMQ connection closed")
	return nil
}

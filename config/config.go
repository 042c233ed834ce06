package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// SourceMode selects which upstream feeds a dashboard session.
type SourceMode string

const (
	SourceSocket   SourceMode = "socket"
	SourceWearable SourceMode = "wearable"
	SourceRelay    SourceMode = "relay"
)

type Config struct {
	SourceMode SourceMode

	// Socket feed
	SocketURL      string
	ReconnectDelay time.Duration

	// Wireless wearable
	WearableDeviceName         string
	WearableServiceUUID        string
	WearableCharacteristicUUID string
	WearableBaudRate           int

	// MQTT relay for wearable notifications
	MQTTBroker   string
	MQTTUsername string
	MQTTPassword string

	// Classification thresholds
	WalkingDangerBPM  int
	RunningWarningBPM int

	SeriesCapacity int
	HTTPAddr       string
	FeedTimeout    time.Duration

	// Alerting
	AlertMinLevel    string
	AlertThrottle    time.Duration
	TelegramBotToken string
	TelegramChatID   string
	RabbitMQURL      string
	RabbitMQExchange string
	AlertWebhookURL  string

	LogLevel  string
	LogFormat string
}

func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	config := &Config{
		SourceMode:     SourceMode(strings.ToLower(getEnv("SOURCE_MODE", string(SourceSocket)))),
		SocketURL:      getEnv("SOCKET_URL", "ws://localhost:8080"),
		ReconnectDelay: time.Duration(getEnvInt("RECONNECT_DELAY_SECONDS", 5)) * time.Second,

		WearableDeviceName:         getEnv("WEARABLE_DEVICE_NAME", "ESP32_BPM_Relay"),
		WearableServiceUUID:        getEnv("WEARABLE_SERVICE_UUID", "12345678-1234-5678-1234-56789abcdef0"),
		WearableCharacteristicUUID: getEnv("WEARABLE_CHARACTERISTIC_UUID", "abcdefab-cdef-1234-5678-1234567890ab"),
		WearableBaudRate:           getEnvInt("WEARABLE_BAUD_RATE", 115200),

		MQTTBroker:   getEnv("MQTT_BROKER", "tcp://localhost:1883"),
		MQTTUsername: getEnv("MQTT_USERNAME", ""),
		MQTTPassword: getEnv("MQTT_PASSWORD", ""),

		// Default thresholds - can be overridden by env vars
		WalkingDangerBPM:  getEnvInt("WALKING_DANGER_BPM", 120),
		RunningWarningBPM: getEnvInt("RUNNING_WARNING_BPM", 100),

		SeriesCapacity: getEnvInt("SERIES_CAPACITY", 20),
		HTTPAddr:       getEnv("HTTP_ADDR", ":8090"),
		FeedTimeout:    time.Duration(getEnvInt("FEED_TIMEOUT_SECONDS", 30)) * time.Second,

		AlertMinLevel:    strings.ToLower(getEnv("ALERT_MIN_LEVEL", "danger")),
		AlertThrottle:    time.Duration(getEnvInt("ALERT_THROTTLE_SECONDS", 15)) * time.Second,
		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
		RabbitMQURL:      getEnv("RABBITMQ_URL", ""),
		RabbitMQExchange: getEnv("RABBITMQ_EXCHANGE", "posture_alerts"),
		AlertWebhookURL:  getEnv("ALERT_WEBHOOK_URL", ""),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	switch c.SourceMode {
	case SourceSocket, SourceWearable, SourceRelay:
	default:
		return fmt.Errorf("invalid SOURCE_MODE %q: expected socket, wearable or relay", c.SourceMode)
	}

	if c.SeriesCapacity <= 0 {
		return fmt.Errorf("invalid SERIES_CAPACITY %d: must be positive", c.SeriesCapacity)
	}
	if c.ReconnectDelay <= 0 {
		return fmt.Errorf("invalid RECONNECT_DELAY_SECONDS: must be positive")
	}

	switch c.AlertMinLevel {
	case "safe", "warning", "danger":
	default:
		return fmt.Errorf("invalid ALERT_MIN_LEVEL %q: expected safe, warning or danger", c.AlertMinLevel)
	}

	return nil
}

// WearableTopic is the MQTT topic an ESP32 relay publishes characteristic
// notifications on.
func (c *Config) WearableTopic() string {
	return fmt.Sprintf("%s/%s/%s", c.WearableDeviceName, c.WearableServiceUUID, c.WearableCharacteristicUUID)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return n
		}
	}
	return defaultValue
}

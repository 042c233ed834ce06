package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"posturewatch/models"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gorilla/websocket"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

type options struct {
	mode     string
	addr     string
	interval time.Duration

	broker   string
	user     string
	pass     string
	device   string
	service  string
	char     string
	dangerPc float64
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var opts options

	flagSet := pflag.NewFlagSet("feedgen", pflag.ContinueOnError)
	flagSet.StringVar(&opts.mode, "mode", "socket", "feed to simulate: socket or relay")
	flagSet.StringVar(&opts.addr, "addr", ":8080", "listen address for socket mode")
	flagSet.DurationVar(&opts.interval, "interval", 2*time.Second, "time between messages")
	flagSet.StringVar(&opts.broker, "broker", "tcp://localhost:1883", "MQTT broker URL for relay mode")
	flagSet.StringVar(&opts.user, "user", "", "MQTT username")
	flagSet.StringVar(&opts.pass, "pass", "", "MQTT password")
	flagSet.StringVar(&opts.device, "device", "ESP32_BPM_Relay", "wearable device name")
	flagSet.StringVar(&opts.service, "service", "12345678-1234-5678-1234-56789abcdef0", "wearable service UUID")
	flagSet.StringVar(&opts.char, "characteristic", "abcdefab-cdef-1234-5678-1234567890ab", "wearable characteristic UUID")
	flagSet.Float64Var(&opts.dangerPc, "danger", 0.2, "probability of a high-effort sample (0.0-1.0)")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if opts.interval <= 0 {
		return fmt.Errorf("--interval must be positive")
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, stopping generator")
		cancel()
	}()

	switch opts.mode {
	case "socket":
		return runSocketFeed(ctx, opts, logger)
	case "relay":
		return runRelayFeed(ctx, opts, logger)
	default:
		return fmt.Errorf("unknown --mode %q: expected socket or relay", opts.mode)
	}
}

var (
	patterns = []models.PosturePattern{
		models.PatternClass1, models.PatternClass2, models.PatternClass3,
		models.PatternClass4, models.PatternClass5,
	}
	risks = []models.RiskLevel{models.RiskSafe, models.RiskWarning, models.RiskDanger}
)

type socketMessage struct {
	Pattern   models.PosturePattern `json:"pattern"`
	RiskLevel models.RiskLevel      `json:"riskLevel"`
	Timestamp int64                 `json:"timestamp"`
}

func randomSocketMessage(now time.Time) socketMessage {
	return socketMessage{
		Pattern:   patterns[rand.Intn(len(patterns))],
		RiskLevel: risks[rand.Intn(len(risks))],
		Timestamp: now.UnixMilli(),
	}
}

// runSocketFeed serves random labelled postures to every connected client.
func runSocketFeed(ctx context.Context, opts options, logger *zap.Logger) error {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("Upgrade failed", zap.Error(err))
			return
		}
		defer conn.Close()

		logger.Info("Client connected", zap.String("remote_addr", r.RemoteAddr))

		// Notice the client going away.
		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ticker := time.NewTicker(opts.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
				return
			case <-closed:
				logger.Info("Client disconnected", zap.String("remote_addr", r.RemoteAddr))
				return
			case now := <-ticker.C:
				msg := randomSocketMessage(now)
				data, err := json.Marshal(msg)
				if err != nil {
					logger.Error("Failed to marshal message", zap.Error(err))
					continue
				}
				if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
					logger.Warn("Write failed", zap.Error(err))
					return
				}
				logger.Debug("Sent", zap.ByteString("data", data))
			}
		}
	})

	server := &http.Server{Addr: opts.addr, Handler: handler, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("Socket test feed started", zap.String("addr", opts.addr), zap.Duration("interval", opts.interval))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// randomNotification builds one [heart rate, accuracy, status] notification.
// Status codes: 0 walking, 1 running, 2 stopped.
func randomNotification(dangerProb float64) []byte {
	status := byte(rand.Intn(3))
	var hr int
	switch status {
	case 0:
		hr = 80 + rand.Intn(35)
	case 1:
		hr = 100 + rand.Intn(40)
	default:
		hr = 60 + rand.Intn(25)
	}
	if rand.Float64() < dangerProb {
		hr = 125 + rand.Intn(55)
	}
	accuracy := byte(70 + rand.Intn(31))
	return []byte{byte(hr), accuracy, status}
}

// runRelayFeed publishes notifications the way an ESP32 relay would.
func runRelayFeed(ctx context.Context, opts options, logger *zap.Logger) error {
	topic := fmt.Sprintf("%s/%s/%s", opts.device, opts.service, opts.char)

	clientOpts := mqtt.NewClientOptions()
	clientOpts.AddBroker(opts.broker)
	clientOpts.SetClientID(fmt.Sprintf("%s-generator", opts.device))
	if opts.user != "" {
		clientOpts.SetUsername(opts.user)
		clientOpts.SetPassword(opts.pass)
	}
	clientOpts.SetKeepAlive(60 * time.Second)
	clientOpts.SetPingTimeout(10 * time.Second)
	clientOpts.SetAutoReconnect(true)
	clientOpts.OnConnect = func(mqtt.Client) {
		logger.Info("Connected to MQTT broker", zap.String("broker", opts.broker))
	}
	clientOpts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Error("MQTT connection lost", zap.Error(err))
	}

	client := mqtt.NewClient(clientOpts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	defer client.Disconnect(250)

	ticker := time.NewTicker(opts.interval)
	defer ticker.Stop()

	logger.Info("Relay test feed started", zap.String("topic", topic), zap.Duration("interval", opts.interval))

	messageCount := 0
	for {
		select {
		case <-ctx.Done():
			logger.Info("Shutting down", zap.Int("total_messages", messageCount))
			return nil
		case <-ticker.C:
			payload := randomNotification(opts.dangerPc)
			token := client.Publish(topic, 0, false, payload)
			if token.Wait() && token.Error() != nil {
				logger.Error("Failed to publish MQTT message",
					zap.Error(token.Error()),
					zap.Int("message_count", messageCount))
				continue
			}
			messageCount++
			logger.Debug("Published notification",
				zap.Int("heart_rate", int(payload[0])),
				zap.Int("accuracy", int(payload[1])),
				zap.Int("status", int(payload[2])))
		}
	}
}

package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"posturewatch/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// TelegramSender is the part of the bot API the notifier uses.
type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type TelegramNotifier struct {
	bot    TelegramSender
	chatID int64
	logger *zap.Logger
}

func NewTelegramNotifier(token, chatID string, logger *zap.Logger) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("error creating telegram bot: %w", err)
	}

	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("error parsing chat ID: %w", err)
	}

	logger.Info("Telegram bot authorized", zap.String("username", bot.Self.UserName))

	tn := NewTelegramNotifierWithSender(bot, id, logger)

	// Test Telegram connection with retry
	if err := testTelegramConnection(bot, logger); err != nil {
		logger.Error("Telegram connection test failed", zap.Error(err))
		return nil, fmt.Errorf("telegram connection test failed: %w", err)
	}

	return tn, nil
}

// NewTelegramNotifierWithSender wires a notifier to an existing sender.
func NewTelegramNotifierWithSender(sender TelegramSender, chatID int64, logger *zap.Logger) *TelegramNotifier {
	return &TelegramNotifier{bot: sender, chatID: chatID, logger: logger}
}

// testTelegramConnection tests Telegram connection with retry logic
func testTelegramConnection(bot *tgbotapi.BotAPI, logger *zap.Logger) error {
	maxRetries := 3

	for attempt := 1; attempt <= maxRetries; attempt++ {
		logger.Info("Testing Telegram connection", zap.Int("attempt", attempt), zap.Int("max_retries", maxRetries))

		_, err := bot.GetMe()
		if err == nil {
			logger.Info("Telegram connection successful")
			return nil
		}

		logger.Warn("Telegram connection failed",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(err))

		if attempt < maxRetries {
			time.Sleep(time.Duration(attempt) * time.Second)
		}
	}

	return fmt.Errorf("failed to connect to Telegram after %d attempts", maxRetries)
}

func (tn *TelegramNotifier) Name() string { return "telegram" }

func (tn *TelegramNotifier) SendRiskAlert(_ context.Context, alert *models.RiskAlert) error {
	if err := tn.sendHTML(FormatRiskAlertMessage(alert)); err != nil {
		return fmt.Errorf("error sending telegram risk alert: %w", err)
	}

	tn.logger.Info("Sent risk alert",
		zap.String("session_id", alert.SessionID),
		zap.String("risk_level", string(alert.Level)))
	return nil
}

func (tn *TelegramNotifier) SendFeedEvent(_ context.Context, event *models.FeedEvent) error {
	if err := tn.sendHTML(FormatFeedEventMessage(event)); err != nil {
		return fmt.Errorf("error sending telegram feed event: %w", err)
	}

	tn.logger.Info("Sent feed event",
		zap.String("session_id", event.SessionID),
		zap.String("status", string(event.Status)))
	return nil
}

// SendStartupMessage sends a message when the service starts
func (tn *TelegramNotifier) SendStartupMessage(source string) error {
	message := "🟢 <b>Posture Risk Monitor Started</b>\n\n" +
		fmt.Sprintf("📡 Source: %s\n", source) +
		"🤖 Telegram notifications active\n" +
		"👀 Watching readings for risk escalation..."

	return tn.sendHTML(message)
}

func (tn *TelegramNotifier) sendHTML(text string) error {
	msg := tgbotapi.NewMessage(tn.chatID, text)
	msg.ParseMode = "HTML"
	msg.DisableWebPagePreview = true

	_, err := tn.bot.Send(msg)
	return err
}

// FormatRiskAlertMessage renders a mobile-friendly HTML alert.
func FormatRiskAlertMessage(alert *models.RiskAlert) string {
	var sb strings.Builder

	sb.WriteString("🚨 <b>POSTURE RISK ALERT</b> 🚨\n\n")

	sb.WriteString(fmt.Sprintf("📡 <b>Source:</b> %s\n", alert.Source))
	sb.WriteString(fmt.Sprintf("🕐 <b>Time:</b> %s\n\n", alert.Timestamp.Format("2006-01-02 15:04:05")))

	sb.WriteString("📊 <b>Current Reading:</b>\n")
	if alert.Activity != "" {
		sb.WriteString(fmt.Sprintf("🏃 Activity: %s\n", alert.Activity))
	}
	if alert.Pattern != "" {
		sb.WriteString(fmt.Sprintf("🧍 Posture: %s\n", alert.Pattern))
	}
	if alert.HeartRate != nil {
		sb.WriteString(fmt.Sprintf("❤️ Heart Rate: %d bpm (%s)\n", *alert.HeartRate, models.BandForBPM(*alert.HeartRate)))
	}

	sb.WriteString(fmt.Sprintf("\n%s <b>Risk:</b> %s → %s\n",
		alert.Level.GetRiskEmoji(),
		strings.ToUpper(string(alert.PreviousLevel)),
		strings.ToUpper(string(alert.Level))))
	sb.WriteString(fmt.Sprintf("   └ %s\n", alert.Description))

	sb.WriteString("\n💡 <b>Recommended Action:</b>\n")
	sb.WriteString("Pause the activity and correct posture before continuing.")

	return sb.String()
}

// FormatFeedEventMessage renders a stall or recovery notice.
func FormatFeedEventMessage(event *models.FeedEvent) string {
	var sb strings.Builder

	if event.Status == models.FeedStalled {
		sb.WriteString("⚠️ <b>TELEMETRY FEED STALLED</b> ⚠️\n\n")
		sb.WriteString(fmt.Sprintf("📡 <b>Source:</b> %s\n", event.Source))
		sb.WriteString(fmt.Sprintf("🕐 <b>Last Payload:</b> %s\n\n", event.LastPayload.Format("2006-01-02 15:04:05")))
		sb.WriteString("🔴 <b>Status:</b> NO DATA")
		return sb.String()
	}

	sb.WriteString("✅ <b>TELEMETRY FEED RECOVERED</b> ✅\n\n")
	sb.WriteString(fmt.Sprintf("📡 <b>Source:</b> %s\n", event.Source))
	sb.WriteString(fmt.Sprintf("⏱️ <b>Downtime:</b> %s\n\n", formatDuration(event.DownDuration)))
	sb.WriteString("🟢 <b>Status:</b> RECEIVING DATA")
	return sb.String()
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0f seconds", d.Seconds())
	} else if d < time.Hour {
		minutes := int(d.Minutes())
		seconds := int(d.Seconds()) % 60
		return fmt.Sprintf("%d min %d sec", minutes, seconds)
	} else if d < 24*time.Hour {
		hours := int(d.Hours())
		minutes := int(d.Minutes()) % 60
		return fmt.Sprintf("%d hr %d min", hours, minutes)
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	return fmt.Sprintf("%d days %d hr", days, hours)
}

package services

import (
	"context"
	"fmt"
	"time"

	"posturewatch/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const (
	riskAlertPath = "/api/v1/posture-alert"
	feedEventPath = "/api/v1/feed-event"
)

// WebhookNotifier forwards alerts to an HTTP endpoint, e.g. a buzzer or
// haptic controller next to the wearer.
type WebhookNotifier struct {
	logger *zap.Logger
	client *resty.Client
}

// WebhookAlertPayload represents the payload sent to the alert API
type WebhookAlertPayload struct {
	Alert     *models.RiskAlert `json:"alert"`
	Severity  string            `json:"severity"`
	AlertType string            `json:"alert_type"`
}

// WebhookFeedPayload represents a feed stall or recovery sent to the API
type WebhookFeedPayload struct {
	Event     *models.FeedEvent `json:"event"`
	AlertType string            `json:"alert_type"`
}

func NewWebhookNotifier(baseURL string, logger *zap.Logger) *WebhookNotifier {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10*time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500*time.Millisecond).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "PostureWatch/1.0")

	return &WebhookNotifier{logger: logger, client: client}
}

func (w *WebhookNotifier) Name() string { return "webhook" }

func (w *WebhookNotifier) SendRiskAlert(ctx context.Context, alert *models.RiskAlert) error {
	severity := SeverityForLevel(alert.Level)
	payload := WebhookAlertPayload{
		Alert:     alert,
		Severity:  severity,
		AlertType: "posture_risk",
	}

	if err := w.post(ctx, riskAlertPath, payload); err != nil {
		return err
	}

	w.logger.Info("Webhook alert sent successfully",
		zap.String("session_id", alert.SessionID),
		zap.String("severity", severity))
	return nil
}

func (w *WebhookNotifier) SendFeedEvent(ctx context.Context, event *models.FeedEvent) error {
	payload := WebhookFeedPayload{
		Event:     event,
		AlertType: "feed_" + string(event.Status),
	}
	return w.post(ctx, feedEventPath, payload)
}

func (w *WebhookNotifier) post(ctx context.Context, path string, body any) error {
	resp, err := w.client.R().
		SetContext(ctx).
		SetBody(body).
		Post(path)
	if err != nil {
		w.logger.Error("Failed to send webhook",
			zap.String("path", path),
			zap.Error(err))
		return fmt.Errorf("failed to send request: %w", err)
	}

	if resp.IsError() {
		w.logger.Error("Webhook API returned error",
			zap.String("path", path),
			zap.Int("status_code", resp.StatusCode()),
			zap.String("status", resp.Status()))
		return fmt.Errorf("webhook API error: %s", resp.Status())
	}
	return nil
}

// SeverityForLevel maps a risk level onto the webhook severity scale.
func SeverityForLevel(level models.RiskLevel) string {
	switch level {
	case models.RiskDanger:
		return "critical"
	case models.RiskWarning:
		return "high"
	default:
		return "low"
	}
}

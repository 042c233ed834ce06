package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"posturewatch/config"
	"posturewatch/log"
	"posturewatch/services"

	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.GetInstance().Fatal("Failed to load config", zap.Error(err))
	}

	// Initialize structured logger
	logger, err := log.Init(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.GetInstance().Fatal("Failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync()

	// Initialize optional notifiers
	var notifiers []services.Notifier
	var telegramNotifier *services.TelegramNotifier

	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		telegramNotifier, err = services.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID, logger)
		if err != nil {
			logger.Warn("Telegram notifications disabled", zap.Error(err))
		} else {
			notifiers = append(notifiers, telegramNotifier)
		}
	}

	var rabbitNotifier *services.RabbitMQNotifier
	if cfg.RabbitMQURL != "" {
		rabbitNotifier, err = services.NewRabbitMQNotifier(cfg.RabbitMQURL, cfg.RabbitMQExchange, logger)
		if err != nil {
			logger.Warn("RabbitMQ notifications disabled", zap.Error(err))
		} else {
			notifiers = append(notifiers, rabbitNotifier)
			defer rabbitNotifier.Close()
		}
	}

	if cfg.AlertWebhookURL != "" {
		notifiers = append(notifiers, services.NewWebhookNotifier(cfg.AlertWebhookURL, logger))
		logger.Info("Webhook notifications enabled", zap.String("url", cfg.AlertWebhookURL))
	}

	// Build the session for the configured source
	transport, err := services.NewTransport(cfg, services.NewConsolePrompt(os.Stdin, os.Stdout), logger)
	if err != nil {
		logger.Fatal("Failed to create transport", zap.Error(err))
	}
	session := services.NewDashboardSession(cfg, transport, notifiers, logger)
	server := services.NewSnapshotServer(cfg.HTTPAddr, session, logger)

	logger.Info("Posture risk monitor started",
		zap.String("session_id", session.ID()),
		zap.String("source", session.Source()),
		zap.Int("notifiers", len(notifiers)),
		zap.Int("walking_danger_bpm", cfg.WalkingDangerBPM),
		zap.Int("running_warning_bpm", cfg.RunningWarningBPM),
		zap.String("alert_min_level", cfg.AlertMinLevel),
	)

	if telegramNotifier != nil {
		if err := telegramNotifier.SendStartupMessage(session.Source()); err != nil {
			logger.Warn("Failed to send startup message", zap.Error(err))
		}
	}

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sessionDone := make(chan struct{})
	go func() {
		session.Run(ctx)
		close(sessionDone)
	}()

	go func() {
		if err := server.Start(); err != nil {
			logger.Error("Snapshot API stopped", zap.Error(err))
			cancel()
		}
	}()

	if err := session.Connect(ctx); err != nil {
		logger.Error("Initial connect failed", zap.Error(err))
	}

	select {
	case <-sigChan:
		logger.Info("Shutdown signal received, stopping services")
	case <-ctx.Done():
	}

	// Perform cleanup
	session.Disconnect()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error shutting down snapshot API", zap.Error(err))
	}

	select {
	case <-sessionDone:
		logger.Info("Cleanup completed successfully")
	case <-shutdownCtx.Done():
		logger.Warn("Cleanup timeout, forcing exit")
	}

	logger.Info("Posture risk monitor stopped")
}

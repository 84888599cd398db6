// Package main runs the user event consumer. It logs every lifecycle event
// published by the API until SIGINT or SIGTERM.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/lilofinance/usermanager/internal/config"
	"github.com/lilofinance/usermanager/internal/logging"
	"github.com/lilofinance/usermanager/internal/messaging"
)

func main() {
	cfg, err := config.LoadEvents()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat).With("service", "usermanager-events")
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	messenger, err := messaging.New(ctx, messaging.Config{
		Brokers: cfg.Brokers(),
		Topic:   cfg.KafkaTopic,
		GroupID: cfg.KafkaGroupID,
		Logger:  logger,
	})
	if err != nil {
		logger.Error("failed to connect to Kafka", "error", err)
		os.Exit(1)
	}

	messages, errs, err := messenger.StartConsumer(ctx)
	if err != nil {
		logger.Error("failed to start consumer", "error", err)
		_ = messenger.Close()
		os.Exit(1)
	}

	logger.Info("consuming user events", "topic", cfg.KafkaTopic, "group_id", cfg.KafkaGroupID)
	consume(ctx, logger, messages, errs)

	logger.Info("shutting down consumer")
	if err := messenger.Close(); err != nil {
		logger.Error("consumer shutdown error", "error", err)
		os.Exit(1)
	}
	logger.Info("consumer stopped")
}

// consume logs events until ctx is done or the message channel closes.
func consume(ctx context.Context, logger *slog.Logger, messages <-chan string, errs <-chan error) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-messages:
			if !ok {
				return
			}
			logEvent(logger, raw)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			logger.Warn("consumer error", "error", err)
		}
	}
}

func logEvent(logger *slog.Logger, raw string) {
	event, err := messaging.DecodeEvent(raw)
	if err != nil {
		logger.Warn("skipping undecodable event", "error", err, "size", len(raw))
		return
	}

	logger.Info("user event",
		slog.String("event_id", event.ID),
		slog.String("type", string(event.Type)),
		slog.String("user_id", event.UserID),
		slog.Time("occurred_at", event.OccurredAt),
	)
}

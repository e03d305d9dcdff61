package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/DmitryDubovikov/grpc-payment-ledger/internal/common/config"
	"github.com/DmitryDubovikov/grpc-payment-ledger/internal/common/logging"
	"github.com/DmitryDubovikov/grpc-payment-ledger/internal/outbox"
	"github.com/DmitryDubovikov/grpc-payment-ledger/internal/payment/infrastructure/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logging.Setup(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := cfg.NewPostgresPool(ctx)
	if err != nil {
		logging.Error("Failed to connect to Postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	publisher := outbox.NewKafkaPublisher(cfg.BrokerList())
	defer publisher.Close()

	dispatcher := outbox.NewDispatcher(postgres.NewUnitOfWork(pool), publisher, outbox.Config{
		BatchSize:    cfg.OutboxBatchSize,
		PollInterval: cfg.OutboxPollInterval,
		MaxRetries:   cfg.OutboxMaxRetries,
		BaseDelay:    cfg.OutboxBaseDelay,
		MaxDelay:     cfg.OutboxMaxDelay,
		TopicPrefix:  cfg.KafkaTopicPrefix,
	}, logging.FromContext(ctx))

	if err := dispatcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error("Dispatcher terminated with error", "error", err)
		os.Exit(1)
	}

	logging.Info("Dispatcher stopped")
}

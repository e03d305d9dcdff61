// Command consumer tails the payment event topics and prints each
// envelope. Intended for local development against the docker-compose
// stack, not for production use.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/segmentio/kafka-go"

	"github.com/DmitryDubovikov/grpc-payment-ledger/internal/common/config"
	"github.com/DmitryDubovikov/grpc-payment-ledger/internal/common/logging"
	"github.com/DmitryDubovikov/grpc-payment-ledger/internal/outbox"
)

func main() {
	var (
		eventType = flag.String("event-type", "PaymentAuthorized", "event type whose topic to consume")
		dlq       = flag.Bool("dlq", false, "consume the dead letter topic instead")
		groupID   = flag.String("group", "payment-consumer-dev", "consumer group id")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logging.Setup(logging.Config{
		Level:  cfg.LogLevel,
		Format: "text",
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	topic := outbox.TopicFor(cfg.KafkaTopicPrefix, *eventType)
	if *dlq {
		topic = outbox.DLQTopic(cfg.KafkaTopicPrefix)
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.BrokerList(),
		Topic:   topic,
		GroupID: *groupID,
	})
	defer reader.Close()

	logging.Info("Consuming", "topic", topic, "group", *groupID)

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				logging.Info("Consumer stopped")
				return
			}
			logging.Error("Read failed", "error", err)
			os.Exit(1)
		}
		fmt.Printf("[%s] partition=%d offset=%d key=%s\n%s\n",
			msg.Time.Format("15:04:05.000"), msg.Partition, msg.Offset, msg.Key, msg.Value)
	}
}

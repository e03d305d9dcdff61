package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/DmitryDubovikov/grpc-payment-ledger/internal/common/metrics"
	"github.com/DmitryDubovikov/grpc-payment-ledger/internal/payment/domain"
)

// ErrCircuitOpen is returned by Run when too many consecutive batches
// failed and the dispatcher stopped itself.
var ErrCircuitOpen = errors.New("outbox dispatcher circuit breaker open")

// maxConsecutiveFailures is the batch-level failure count that trips the
// circuit breaker.
const maxConsecutiveFailures = 10

// Config controls dispatcher batching and retry behavior.
type Config struct {
	BatchSize    int
	PollInterval time.Duration
	MaxRetries   int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	TopicPrefix  string
}

// Dispatcher drains the transactional outbox and publishes events.
// Delivery is at-least-once: an event is marked published only after the
// broker acknowledged it, so a crash between publish and mark replays the
// event on the next run.
type Dispatcher struct {
	uow       domain.UnitOfWork
	publisher Publisher
	cfg       Config
	log       *slog.Logger

	consecutiveFailures int
}

// NewDispatcher creates a dispatcher over the given unit of work and publisher.
func NewDispatcher(uow domain.UnitOfWork, publisher Publisher, cfg Config, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		uow:       uow,
		publisher: publisher,
		cfg:       cfg,
		log:       log,
	}
}

// Run polls for unpublished events until ctx is canceled or the circuit
// breaker trips. A batch that drains events triggers an immediate next
// poll; an empty batch waits out the poll interval.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.log.Info("outbox dispatcher started",
		"batch_size", d.cfg.BatchSize,
		"poll_interval", d.cfg.PollInterval.String(),
	)
	d.consecutiveFailures = 0

	for {
		processed, err := d.ProcessBatch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			d.consecutiveFailures++
			d.log.Error("outbox batch failed",
				"error", err,
				"consecutive_failures", d.consecutiveFailures,
			)
			if d.consecutiveFailures >= maxConsecutiveFailures {
				d.log.Error("circuit breaker tripped, stopping dispatcher",
					"consecutive_failures", d.consecutiveFailures,
				)
				return ErrCircuitOpen
			}
		} else {
			d.consecutiveFailures = 0
			if processed > 0 {
				continue
			}
		}

		select {
		case <-ctx.Done():
			d.log.Info("outbox dispatcher stopped")
			return ctx.Err()
		case <-time.After(d.cfg.PollInterval):
		}
	}
}

// ProcessBatch claims one batch of unpublished events and handles each:
// events past the retry budget go to the DLQ, the rest are published. The
// claim, the publish bookkeeping and the DLQ hand-off commit together.
// Returns the number of events claimed.
func (d *Dispatcher) ProcessBatch(ctx context.Context) (int, error) {
	start := time.Now()

	tx, err := d.uow.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	events, err := tx.Outbox().GetUnpublished(ctx, d.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, tx.Commit(ctx)
	}

	var publishedIDs []string
	var dlqEvents []*domain.OutboxEvent

	for _, event := range events {
		if event.RetryCount >= d.cfg.MaxRetries {
			dlqEvents = append(dlqEvents, event)
			continue
		}

		if err := d.publishEvent(ctx, event); err != nil {
			metrics.OutboxPublishFailuresTotal.Inc()
			if err := tx.Outbox().IncrementRetryCount(ctx, event.ID); err != nil {
				return 0, err
			}
			d.log.Warn("event publish failed, retry scheduled",
				"event_id", event.ID,
				"retry_count", event.RetryCount+1,
				"next_delay", BackoffDelay(d.cfg.BaseDelay, d.cfg.MaxDelay, event.RetryCount).String(),
				"error", err,
			)
			continue
		}
		publishedIDs = append(publishedIDs, event.ID)
	}

	if len(publishedIDs) > 0 {
		if err := tx.Outbox().MarkPublished(ctx, publishedIDs); err != nil {
			return 0, err
		}
		metrics.OutboxPublishedTotal.Add(float64(len(publishedIDs)))
		d.log.Info("batch published", "count", len(publishedIDs))
	}

	for _, event := range dlqEvents {
		if err := d.sendToDLQ(ctx, tx, event); err != nil {
			d.log.Error("dlq publish failed", "event_id", event.ID, "error", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}

	metrics.OutboxBatchDuration.Observe(time.Since(start).Seconds())
	return len(events), nil
}

func (d *Dispatcher) publishEvent(ctx context.Context, event *domain.OutboxEvent) error {
	value, err := json.Marshal(newEnvelope(event))
	if err != nil {
		return err
	}
	topic := TopicFor(d.cfg.TopicPrefix, event.EventType)
	if err := d.publisher.Publish(ctx, topic, event.AggregateID, value); err != nil {
		return err
	}
	d.log.Info("event published",
		"event_id", event.ID,
		"topic", topic,
		"aggregate_id", event.AggregateID,
		"event_type", event.EventType,
	)
	return nil
}

// sendToDLQ publishes an exhausted event to the dead letter topic and
// marks it published so it never re-enters the batch.
func (d *Dispatcher) sendToDLQ(ctx context.Context, tx domain.Tx, event *domain.OutboxEvent) error {
	value, err := json.Marshal(newDLQEnvelope(event, time.Now().UTC()))
	if err != nil {
		return err
	}
	if err := d.publisher.Publish(ctx, DLQTopic(d.cfg.TopicPrefix), event.AggregateID, value); err != nil {
		return err
	}
	if err := tx.Outbox().MarkPublished(ctx, []string{event.ID}); err != nil {
		return err
	}
	metrics.OutboxDLQTotal.Inc()
	d.log.Warn("event sent to dlq",
		"event_id", event.ID,
		"aggregate_id", event.AggregateID,
		"retry_count", event.RetryCount,
	)
	return nil
}

// TopicFor maps an event type to its topic: "<prefix>.<event type lowercased>".
func TopicFor(prefix, eventType string) string {
	return prefix + "." + strings.ToLower(eventType)
}

// DLQTopic is the dead letter topic for a prefix.
func DLQTopic(prefix string) string {
	return prefix + ".dlq"
}

// BackoffDelay computes the exponential backoff for a retry count, capped
// at maxDelay, with up to 10% jitter added on top.
func BackoffDelay(baseDelay, maxDelay time.Duration, retryCount int) time.Duration {
	delay := time.Duration(float64(baseDelay) * math.Pow(2, float64(retryCount)))
	if delay > maxDelay || delay <= 0 {
		delay = maxDelay
	}
	jitter := time.Duration(rand.Float64() * 0.1 * float64(delay))
	return delay + jitter
}

package outbox

import (
	"encoding/json"
	"time"

	"github.com/DmitryDubovikov/grpc-payment-ledger/internal/payment/domain"
)

// Envelope is the wire form of a published domain event.
type Envelope struct {
	EventID       string          `json:"event_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	Timestamp     string          `json:"timestamp"`
}

// DLQEnvelope wraps an envelope with the failure context that pushed the
// event onto the dead letter topic.
type DLQEnvelope struct {
	Envelope
	RetryCount int    `json:"retry_count"`
	FailedAt   string `json:"failed_at"`
	Error      string `json:"error"`
}

func newEnvelope(event *domain.OutboxEvent) Envelope {
	return Envelope{
		EventID:       event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Payload:       event.Payload,
		Timestamp:     event.CreatedAt.Format(time.RFC3339Nano),
	}
}

func newDLQEnvelope(event *domain.OutboxEvent, failedAt time.Time) DLQEnvelope {
	return DLQEnvelope{
		Envelope:   newEnvelope(event),
		RetryCount: event.RetryCount,
		FailedAt:   failedAt.Format(time.RFC3339Nano),
		Error:      "max_retries_exceeded",
	}
}

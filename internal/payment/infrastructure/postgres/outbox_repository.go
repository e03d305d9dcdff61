package postgres

import (
	"context"

	"github.com/DmitryDubovikov/grpc-payment-ledger/internal/payment/domain"
)

// OutboxRepository implements domain.OutboxRepository using PostgreSQL.
type OutboxRepository struct {
	db executor
}

// NewOutboxRepository creates a new PostgreSQL outbox repository.
func NewOutboxRepository(db executor) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// Add stages an event in the same transaction as the state change that
// produced it.
func (r *OutboxRepository) Add(ctx context.Context, event *domain.OutboxEvent) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO outbox
			(id, aggregate_type, aggregate_id, event_type, payload,
			 created_at, published_at, retry_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		event.ID,
		event.AggregateType,
		event.AggregateID,
		event.EventType,
		event.Payload,
		event.CreatedAt,
		event.PublishedAt,
		event.RetryCount,
	)
	return err
}

// GetUnpublished claims up to limit pending events in creation order.
// SKIP LOCKED lets concurrent dispatchers drain disjoint batches without
// blocking on each other.
func (r *OutboxRepository) GetUnpublished(ctx context.Context, limit int) ([]*domain.OutboxEvent, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, aggregate_type, aggregate_id, event_type, payload,
		       created_at, published_at, retry_count
		FROM outbox
		WHERE published_at IS NULL
		ORDER BY created_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*domain.OutboxEvent
	for rows.Next() {
		var event domain.OutboxEvent
		if err := rows.Scan(
			&event.ID,
			&event.AggregateType,
			&event.AggregateID,
			&event.EventType,
			&event.Payload,
			&event.CreatedAt,
			&event.PublishedAt,
			&event.RetryCount,
		); err != nil {
			return nil, err
		}
		events = append(events, &event)
	}
	return events, rows.Err()
}

// MarkPublished stamps delivered events. Events marked here never
// reappear in GetUnpublished.
func (r *OutboxRepository) MarkPublished(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.Exec(ctx, `
		UPDATE outbox
		SET published_at = NOW()
		WHERE id = ANY($1)
	`, ids)
	return err
}

// IncrementRetryCount bumps the delivery attempt counter after a publish
// failure.
func (r *OutboxRepository) IncrementRetryCount(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE outbox
		SET retry_count = retry_count + 1
		WHERE id = $1
	`, id)
	return err
}

// Verify interface implementation.
var _ domain.OutboxRepository = (*OutboxRepository)(nil)

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/DmitryDubovikov/grpc-payment-ledger/internal/payment/domain"
)

// IdempotencyRepository implements domain.IdempotencyRepository using PostgreSQL.
type IdempotencyRepository struct {
	db executor
}

// NewIdempotencyRepository creates a new PostgreSQL idempotency repository.
func NewIdempotencyRepository(db executor) *IdempotencyRepository {
	return &IdempotencyRepository{db: db}
}

// Get retrieves a live idempotency record. Expired records are invisible
// here; DeleteExpired reclaims them asynchronously.
func (r *IdempotencyRepository) Get(ctx context.Context, key string) (*domain.IdempotencyRecord, error) {
	var (
		record    domain.IdempotencyRecord
		status    string
		paymentID *string
	)
	err := r.db.QueryRow(ctx, `
		SELECT key, status, payment_id, response_data, created_at, expires_at
		FROM idempotency_keys
		WHERE key = $1 AND expires_at > NOW()
	`, key).Scan(
		&record.Key,
		&status,
		&paymentID,
		&record.ResponseData,
		&record.CreatedAt,
		&record.ExpiresAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	record.Status = domain.IdempotencyStatus(status)
	record.PaymentID = orEmpty(paymentID)
	return &record, nil
}

// Create claims the key in PENDING state. Racing with another claimant is
// harmless: the loser's insert is a no-op and the winner's transaction owns
// the row lock.
func (r *IdempotencyRepository) Create(ctx context.Context, key string, expiresAt time.Time) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO idempotency_keys (key, status, created_at, expires_at)
		VALUES ($1, 'PENDING', NOW(), $2)
		ON CONFLICT (key) DO NOTHING
	`, key, expiresAt)
	return err
}

// MarkCompleted records the outcome payload so replays can be served
// without re-executing the payment.
func (r *IdempotencyRepository) MarkCompleted(ctx context.Context, key, paymentID string, response json.RawMessage) error {
	_, err := r.db.Exec(ctx, `
		UPDATE idempotency_keys
		SET status = 'COMPLETED', payment_id = $2, response_data = $3
		WHERE key = $1
	`, key, paymentID, response)
	return err
}

// MarkFailed releases the claim after a processing failure. A later retry
// with the same key starts over.
func (r *IdempotencyRepository) MarkFailed(ctx context.Context, key string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE idempotency_keys
		SET status = 'FAILED'
		WHERE key = $1
	`, key)
	return err
}

// DeleteExpired reclaims keys past their TTL and reports how many were removed.
func (r *IdempotencyRepository) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM idempotency_keys
		WHERE expires_at <= NOW()
	`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Verify interface implementation.
var _ domain.IdempotencyRepository = (*IdempotencyRepository)(nil)

package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/DmitryDubovikov/grpc-payment-ledger/internal/payment/domain"
)

// PaymentRepository implements domain.PaymentRepository using PostgreSQL.
type PaymentRepository struct {
	db executor
}

// NewPaymentRepository creates a new PostgreSQL payment repository.
func NewPaymentRepository(db executor) *PaymentRepository {
	return &PaymentRepository{db: db}
}

const paymentColumns = `id, idempotency_key, payer_account_id, payee_account_id,
		       amount_cents, currency, status, description,
		       error_code, error_message, created_at, updated_at`

// Get retrieves a payment by id; (nil, nil) when absent.
func (r *PaymentRepository) Get(ctx context.Context, paymentID string) (*domain.Payment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE id = $1
	`, paymentID)
	return scanPayment(row)
}

// GetByIdempotencyKey retrieves a payment by its idempotency key; (nil, nil) when absent.
func (r *PaymentRepository) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Payment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE idempotency_key = $1
	`, key)
	return scanPayment(row)
}

// Add inserts a payment.
func (r *PaymentRepository) Add(ctx context.Context, payment *domain.Payment) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO payments
			(id, idempotency_key, payer_account_id, payee_account_id,
			 amount_cents, currency, status, description,
			 error_code, error_message, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		payment.ID,
		payment.IdempotencyKey,
		payment.PayerAccountID,
		payment.PayeeAccountID,
		payment.AmountCents,
		payment.Currency,
		string(payment.Status),
		nullIfEmpty(payment.Description),
		nullIfEmpty(payment.ErrorCode),
		nullIfEmpty(payment.ErrorMessage),
		payment.CreatedAt,
		payment.UpdatedAt,
	)
	return err
}

// UpdateStatus records an externally-driven status change.
func (r *PaymentRepository) UpdateStatus(ctx context.Context, paymentID string, status domain.PaymentStatus) error {
	_, err := r.db.Exec(ctx, `
		UPDATE payments
		SET status = $2, updated_at = NOW()
		WHERE id = $1
	`, paymentID, string(status))
	return err
}

func scanPayment(row pgx.Row) (*domain.Payment, error) {
	var (
		payment                      domain.Payment
		status                       string
		description, errCode, errMsg *string
	)
	err := row.Scan(
		&payment.ID,
		&payment.IdempotencyKey,
		&payment.PayerAccountID,
		&payment.PayeeAccountID,
		&payment.AmountCents,
		&payment.Currency,
		&status,
		&description,
		&errCode,
		&errMsg,
		&payment.CreatedAt,
		&payment.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	payment.Status = domain.PaymentStatus(status)
	payment.Description = orEmpty(description)
	payment.ErrorCode = orEmpty(errCode)
	payment.ErrorMessage = orEmpty(errMsg)
	return &payment, nil
}

// Verify interface implementation.
var _ domain.PaymentRepository = (*PaymentRepository)(nil)

package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/DmitryDubovikov/grpc-payment-ledger/internal/payment/domain"
)

// AccountRepository implements domain.AccountRepository using PostgreSQL.
type AccountRepository struct {
	db executor
}

// NewAccountRepository creates a new PostgreSQL account repository.
func NewAccountRepository(db executor) *AccountRepository {
	return &AccountRepository{db: db}
}

// Get retrieves an account by id.
// Returns (nil, nil) when no account exists; absence is not an error.
func (r *AccountRepository) Get(ctx context.Context, accountID string) (*domain.Account, error) {
	var account domain.Account
	err := r.db.QueryRow(ctx, `
		SELECT id, owner_id, currency, status, created_at, updated_at
		FROM accounts
		WHERE id = $1
	`, accountID).Scan(
		&account.ID,
		&account.OwnerID,
		&account.Currency,
		&account.Status,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// Add inserts a new account.
func (r *AccountRepository) Add(ctx context.Context, account *domain.Account) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO accounts (id, owner_id, currency, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`,
		account.ID,
		account.OwnerID,
		account.Currency,
		account.Status,
		account.CreatedAt,
		account.UpdatedAt,
	)
	return err
}

// UpdateStatus changes an account's status.
func (r *AccountRepository) UpdateStatus(ctx context.Context, accountID, status string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE accounts
		SET status = $2, updated_at = NOW()
		WHERE id = $1
	`, accountID, status)
	return err
}

// Verify interface implementation.
var _ domain.AccountRepository = (*AccountRepository)(nil)

package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/DmitryDubovikov/grpc-payment-ledger/internal/common/metrics"
	"github.com/DmitryDubovikov/grpc-payment-ledger/internal/payment/domain"
)

// BalanceRepository implements domain.BalanceRepository using PostgreSQL.
type BalanceRepository struct {
	db executor
}

// NewBalanceRepository creates a new PostgreSQL balance repository.
func NewBalanceRepository(db executor) *BalanceRepository {
	return &BalanceRepository{db: db}
}

const balanceColumns = `account_id, available_balance_cents, pending_balance_cents,
		       currency, version, updated_at`

// Get reads a balance snapshot without locking.
// Returns (nil, nil) when no balance row exists.
func (r *BalanceRepository) Get(ctx context.Context, accountID string) (*domain.AccountBalance, error) {
	return r.get(ctx, accountID, false)
}

// GetForUpdate reads a balance acquiring a row-level exclusive lock that
// is held until the enclosing transaction ends.
func (r *BalanceRepository) GetForUpdate(ctx context.Context, accountID string) (*domain.AccountBalance, error) {
	return r.get(ctx, accountID, true)
}

func (r *BalanceRepository) get(ctx context.Context, accountID string, forUpdate bool) (*domain.AccountBalance, error) {
	query := `
		SELECT ` + balanceColumns + `
		FROM account_balances
		WHERE account_id = $1`
	if forUpdate {
		query += `
		FOR UPDATE`
	}

	var balance domain.AccountBalance
	err := r.db.QueryRow(ctx, query, accountID).Scan(
		&balance.AccountID,
		&balance.AvailableBalanceCents,
		&balance.PendingBalanceCents,
		&balance.Currency,
		&balance.Version,
		&balance.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &balance, nil
}

// Add inserts a balance row at account provisioning time.
func (r *BalanceRepository) Add(ctx context.Context, balance *domain.AccountBalance) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO account_balances
			(account_id, available_balance_cents, pending_balance_cents,
			 currency, version, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`,
		balance.AccountID,
		balance.AvailableBalanceCents,
		balance.PendingBalanceCents,
		balance.Currency,
		balance.Version,
		balance.UpdatedAt,
	)
	return err
}

// Update conditionally sets the available balance and bumps the version
// iff the stored version equals expectedVersion. Zero affected rows means
// a concurrent writer won; that surfaces as an OptimisticLockError.
func (r *BalanceRepository) Update(ctx context.Context, accountID string, newAvailableCents int64, expectedVersion int64) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE account_balances
		SET available_balance_cents = $2,
		    version = version + 1,
		    updated_at = NOW()
		WHERE account_id = $1 AND version = $3
	`, accountID, newAvailableCents, expectedVersion)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		metrics.RecordOptimisticLockConflict("AccountBalance")
		return &domain.OptimisticLockError{Entity: "AccountBalance", EntityID: accountID}
	}
	return nil
}

// Verify interface implementation.
var _ domain.BalanceRepository = (*BalanceRepository)(nil)

package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/DmitryDubovikov/grpc-payment-ledger/internal/payment/domain"
)

// LedgerRepository implements domain.LedgerRepository using PostgreSQL.
// Ledger entries are append-only; there is no update path.
type LedgerRepository struct {
	db executor
}

// NewLedgerRepository creates a new PostgreSQL ledger repository.
func NewLedgerRepository(db executor) *LedgerRepository {
	return &LedgerRepository{db: db}
}

const ledgerColumns = `id, payment_id, account_id, entry_type, amount_cents,
		       currency, balance_after_cents, created_at`

// Add appends a ledger entry.
func (r *LedgerRepository) Add(ctx context.Context, entry *domain.LedgerEntry) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO ledger_entries
			(id, payment_id, account_id, entry_type, amount_cents,
			 currency, balance_after_cents, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		entry.ID,
		entry.PaymentID,
		entry.AccountID,
		string(entry.EntryType),
		entry.AmountCents,
		entry.Currency,
		entry.BalanceAfterCents,
		entry.CreatedAt,
	)
	return err
}

// GetByPaymentID lists a payment's entries ordered by creation.
func (r *LedgerRepository) GetByPaymentID(ctx context.Context, paymentID string) ([]*domain.LedgerEntry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+ledgerColumns+`
		FROM ledger_entries
		WHERE payment_id = $1
		ORDER BY created_at
	`, paymentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanLedgerEntries(rows)
}

// GetByAccountID lists an account's entries, newest first, bounded by limit.
func (r *LedgerRepository) GetByAccountID(ctx context.Context, accountID string, limit int) ([]*domain.LedgerEntry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+ledgerColumns+`
		FROM ledger_entries
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanLedgerEntries(rows)
}

func scanLedgerEntries(rows pgx.Rows) ([]*domain.LedgerEntry, error) {
	var entries []*domain.LedgerEntry
	for rows.Next() {
		var (
			entry     domain.LedgerEntry
			entryType string
		)
		if err := rows.Scan(
			&entry.ID,
			&entry.PaymentID,
			&entry.AccountID,
			&entryType,
			&entry.AmountCents,
			&entry.Currency,
			&entry.BalanceAfterCents,
			&entry.CreatedAt,
		); err != nil {
			return nil, err
		}
		entry.EntryType = domain.EntryType(entryType)
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}

// Verify interface implementation.
var _ domain.LedgerRepository = (*LedgerRepository)(nil)

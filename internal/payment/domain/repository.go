package domain

import (
	"context"
	"encoding/json"
	"time"
)

// Repository contracts. Not-found conditions return (nil, nil), never an
// error; database failures propagate and are fatal to the enclosing
// transaction.

// AccountRepository provides access to accounts.
type AccountRepository interface {
	// Get retrieves an account by id.
	Get(ctx context.Context, accountID string) (*Account, error)
	// Add inserts a new account. Accounts are provisioned outside the
	// authorization pipeline.
	Add(ctx context.Context, account *Account) error
	// UpdateStatus changes an account's status.
	UpdateStatus(ctx context.Context, accountID, status string) error
}

// BalanceRepository provides access to account balances.
type BalanceRepository interface {
	// Get reads a balance snapshot without locking.
	Get(ctx context.Context, accountID string) (*AccountBalance, error)
	// GetForUpdate reads a balance holding a row-level exclusive lock
	// until the enclosing transaction ends. Call order determines
	// lock-acquisition order.
	GetForUpdate(ctx context.Context, accountID string) (*AccountBalance, error)
	// Add inserts a balance row at account provisioning time.
	Add(ctx context.Context, balance *AccountBalance) error
	// Update conditionally sets the available balance and increments the
	// version iff the stored version equals expectedVersion. A zero
	// affected-row count yields an OptimisticLockError.
	Update(ctx context.Context, accountID string, newAvailableCents int64, expectedVersion int64) error
}

// PaymentRepository provides access to payments.
type PaymentRepository interface {
	// Get retrieves a payment by id.
	Get(ctx context.Context, paymentID string) (*Payment, error)
	// GetByIdempotencyKey retrieves a payment by its idempotency key.
	GetByIdempotencyKey(ctx context.Context, key string) (*Payment, error)
	// Add inserts a payment.
	Add(ctx context.Context, payment *Payment) error
	// UpdateStatus records an externally-driven status change.
	UpdateStatus(ctx context.Context, paymentID string, status PaymentStatus) error
}

// LedgerRepository provides access to the append-only ledger.
type LedgerRepository interface {
	// Add appends a ledger entry.
	Add(ctx context.Context, entry *LedgerEntry) error
	// GetByPaymentID lists a payment's entries ordered by creation.
	GetByPaymentID(ctx context.Context, paymentID string) ([]*LedgerEntry, error)
	// GetByAccountID lists an account's entries, newest first, bounded by limit.
	GetByAccountID(ctx context.Context, accountID string, limit int) ([]*LedgerEntry, error)
}

// IdempotencyRepository provides access to idempotency records.
type IdempotencyRepository interface {
	// Get retrieves a record iff it has not expired; (nil, nil) otherwise.
	Get(ctx context.Context, key string) (*IdempotencyRecord, error)
	// Create inserts a PENDING record. An existing key is left untouched.
	Create(ctx context.Context, key string, expiresAt time.Time) error
	// MarkCompleted transitions a record to COMPLETED with its payment id
	// and an optional cached response.
	MarkCompleted(ctx context.Context, key, paymentID string, response json.RawMessage) error
	// MarkFailed transitions a record to FAILED.
	MarkFailed(ctx context.Context, key string) error
	// DeleteExpired prunes expired records and reports how many were removed.
	DeleteExpired(ctx context.Context) (int64, error)
}

// OutboxRepository provides access to the transactional outbox.
type OutboxRepository interface {
	// Add appends an event within the current transaction.
	Add(ctx context.Context, event *OutboxEvent) error
	// GetUnpublished returns up to limit unpublished events ordered by
	// creation, locking each row and skipping rows locked by concurrent
	// readers.
	GetUnpublished(ctx context.Context, limit int) ([]*OutboxEvent, error)
	// MarkPublished sets published_at to now for each id.
	MarkPublished(ctx context.Context, eventIDs []string) error
	// IncrementRetryCount atomically adds one to an event's retry count.
	IncrementRetryCount(ctx context.Context, eventID string) error
}

// Tx scopes one database transaction. It exposes one instance of each
// repository bound to that transaction. Commit and Rollback are explicit;
// there is no implicit commit on clean exit. Rollback after a successful
// Commit is a no-op, so `defer tx.Rollback(ctx)` is the normal pattern.
type Tx interface {
	Accounts() AccountRepository
	Balances() BalanceRepository
	Payments() PaymentRepository
	Ledger() LedgerRepository
	Idempotency() IdempotencyRepository
	Outbox() OutboxRepository

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// UnitOfWork begins transactions. One Tx holds one connection for its
// whole lifetime.
type UnitOfWork interface {
	Begin(ctx context.Context) (Tx, error)
}

package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/DmitryDubovikov/grpc-payment-ledger/internal/payment/domain"
)

// UnitOfWork implements domain.UnitOfWork over a pgx connection pool.
// Each Begin checks out one connection for the transaction's lifetime.
type UnitOfWork struct {
	pool *pgxpool.Pool
}

// NewUnitOfWork creates a new PostgreSQL unit of work.
func NewUnitOfWork(pool *pgxpool.Pool) *UnitOfWork {
	return &UnitOfWork{pool: pool}
}

// Begin starts a transaction and returns repositories bound to it.
func (u *UnitOfWork) Begin(ctx context.Context) (domain.Tx, error) {
	tx, err := u.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return newTx(tx), nil
}

// Tx implements domain.Tx over one pgx transaction. All repositories
// returned from it share the transaction.
type Tx struct {
	tx pgx.Tx

	accounts    *AccountRepository
	balances    *BalanceRepository
	payments    *PaymentRepository
	ledger      *LedgerRepository
	idempotency *IdempotencyRepository
	outbox      *OutboxRepository
}

func newTx(tx pgx.Tx) *Tx {
	return &Tx{
		tx:          tx,
		accounts:    NewAccountRepository(tx),
		balances:    NewBalanceRepository(tx),
		payments:    NewPaymentRepository(tx),
		ledger:      NewLedgerRepository(tx),
		idempotency: NewIdempotencyRepository(tx),
		outbox:      NewOutboxRepository(tx),
	}
}

// Accounts returns the account repository bound to this transaction.
func (t *Tx) Accounts() domain.AccountRepository { return t.accounts }

// Balances returns the balance repository bound to this transaction.
func (t *Tx) Balances() domain.BalanceRepository { return t.balances }

// Payments returns the payment repository bound to this transaction.
func (t *Tx) Payments() domain.PaymentRepository { return t.payments }

// Ledger returns the ledger repository bound to this transaction.
func (t *Tx) Ledger() domain.LedgerRepository { return t.ledger }

// Idempotency returns the idempotency repository bound to this transaction.
func (t *Tx) Idempotency() domain.IdempotencyRepository { return t.idempotency }

// Outbox returns the outbox repository bound to this transaction.
func (t *Tx) Outbox() domain.OutboxRepository { return t.outbox }

// Commit commits the transaction.
func (t *Tx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

// Rollback aborts the transaction. Calling it after Commit is a no-op,
// so it is safe to defer unconditionally.
func (t *Tx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}

// Verify interface implementations.
var (
	_ domain.UnitOfWork = (*UnitOfWork)(nil)
	_ domain.Tx         = (*Tx)(nil)
)

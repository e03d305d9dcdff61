package memory

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/DmitryDubovikov/grpc-payment-ledger/internal/payment/domain"
)

// DataStore implements domain.UnitOfWork for testing.
// Begin takes the store-wide lock and holds it until Commit or Rollback,
// so transactions are fully serialized. Writes are staged on the Tx and
// applied to the parent maps only on Commit.
type DataStore struct {
	mu sync.Mutex

	accounts    map[string]*domain.Account
	balances    map[string]*domain.AccountBalance
	payments    map[string]*domain.Payment
	ledger      []*domain.LedgerEntry
	idempotency map[string]*domain.IdempotencyRecord
	outbox      []*domain.OutboxEvent
}

// NewDataStore creates a new in-memory DataStore.
func NewDataStore() *DataStore {
	return &DataStore{
		accounts:    make(map[string]*domain.Account),
		balances:    make(map[string]*domain.AccountBalance),
		payments:    make(map[string]*domain.Payment),
		idempotency: make(map[string]*domain.IdempotencyRecord),
	}
}

// Seed installs an account and its balance outside any transaction.
func (ds *DataStore) Seed(account *domain.Account, balance *domain.AccountBalance) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.accounts[account.ID] = account
	ds.balances[balance.AccountID] = balance
}

// Balance returns a copy of the committed balance for inspection in tests.
func (ds *DataStore) Balance(accountID string) *domain.AccountBalance {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if b, ok := ds.balances[accountID]; ok {
		copied := *b
		return &copied
	}
	return nil
}

// UnpublishedEvents returns the committed outbox events that have not been
// marked published.
func (ds *DataStore) UnpublishedEvents() []*domain.OutboxEvent {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	var events []*domain.OutboxEvent
	for _, e := range ds.outbox {
		if e.PublishedAt == nil {
			events = append(events, e)
		}
	}
	return events
}

// Begin locks the store and returns a transaction bound to it.
func (ds *DataStore) Begin(ctx context.Context) (domain.Tx, error) {
	ds.mu.Lock()
	return &Tx{
		parent:             ds,
		stagedAccounts:     make(map[string]*domain.Account),
		stagedBalances:     make(map[string]*domain.AccountBalance),
		stagedPayments:     make(map[string]*domain.Payment),
		stagedIdempotency:  make(map[string]*domain.IdempotencyRecord),
		deletedIdempotency: make(map[string]bool),
	}, nil
}

// Tx stages writes against a locked DataStore.
type Tx struct {
	parent *DataStore
	done   bool

	stagedAccounts     map[string]*domain.Account
	stagedBalances     map[string]*domain.AccountBalance
	stagedPayments     map[string]*domain.Payment
	stagedLedger       []*domain.LedgerEntry
	stagedIdempotency  map[string]*domain.IdempotencyRecord
	deletedIdempotency map[string]bool
	stagedOutbox       []*domain.OutboxEvent
	publishedEventIDs  []string
	retriedEventIDs    []string
}

func (tx *Tx) Accounts() domain.AccountRepository        { return &txAccountRepository{tx} }
func (tx *Tx) Balances() domain.BalanceRepository        { return &txBalanceRepository{tx} }
func (tx *Tx) Payments() domain.PaymentRepository        { return &txPaymentRepository{tx} }
func (tx *Tx) Ledger() domain.LedgerRepository           { return &txLedgerRepository{tx} }
func (tx *Tx) Idempotency() domain.IdempotencyRepository { return &txIdempotencyRepository{tx} }
func (tx *Tx) Outbox() domain.OutboxRepository           { return &txOutboxRepository{tx} }

// Commit applies staged writes to the parent store and releases the lock.
func (tx *Tx) Commit(ctx context.Context) error {
	if tx.done {
		return nil
	}
	tx.done = true

	ds := tx.parent
	for k, v := range tx.stagedAccounts {
		ds.accounts[k] = v
	}
	for k, v := range tx.stagedBalances {
		ds.balances[k] = v
	}
	for k, v := range tx.stagedPayments {
		ds.payments[k] = v
	}
	ds.ledger = append(ds.ledger, tx.stagedLedger...)
	for k, v := range tx.stagedIdempotency {
		ds.idempotency[k] = v
	}
	for k := range tx.deletedIdempotency {
		delete(ds.idempotency, k)
	}
	ds.outbox = append(ds.outbox, tx.stagedOutbox...)

	now := time.Now().UTC()
	for _, id := range tx.publishedEventIDs {
		for _, e := range ds.outbox {
			if e.ID == id {
				published := now
				e.PublishedAt = &published
			}
		}
	}
	for _, id := range tx.retriedEventIDs {
		for _, e := range ds.outbox {
			if e.ID == id {
				e.RetryCount++
			}
		}
	}

	ds.mu.Unlock()
	return nil
}

// Rollback discards staged writes and releases the lock. A no-op after Commit.
func (tx *Tx) Rollback(ctx context.Context) error {
	if tx.done {
		return nil
	}
	tx.done = true
	tx.parent.mu.Unlock()
	return nil
}

type txAccountRepository struct{ tx *Tx }

func (r *txAccountRepository) Get(ctx context.Context, accountID string) (*domain.Account, error) {
	if a, ok := r.tx.stagedAccounts[accountID]; ok {
		return a, nil
	}
	if a, ok := r.tx.parent.accounts[accountID]; ok {
		return a, nil
	}
	return nil, nil
}

func (r *txAccountRepository) Add(ctx context.Context, account *domain.Account) error {
	r.tx.stagedAccounts[account.ID] = account
	return nil
}

func (r *txAccountRepository) UpdateStatus(ctx context.Context, accountID, status string) error {
	account, err := r.Get(ctx, accountID)
	if err != nil || account == nil {
		return err
	}
	updated := *account
	updated.Status = status
	updated.UpdatedAt = time.Now().UTC()
	r.tx.stagedAccounts[accountID] = &updated
	return nil
}

type txBalanceRepository struct{ tx *Tx }

func (r *txBalanceRepository) Get(ctx context.Context, accountID string) (*domain.AccountBalance, error) {
	if b, ok := r.tx.stagedBalances[accountID]; ok {
		copied := *b
		return &copied, nil
	}
	if b, ok := r.tx.parent.balances[accountID]; ok {
		copied := *b
		return &copied, nil
	}
	return nil, nil
}

// GetForUpdate is equivalent to Get: the transaction already holds the
// store-wide lock.
func (r *txBalanceRepository) GetForUpdate(ctx context.Context, accountID string) (*domain.AccountBalance, error) {
	return r.Get(ctx, accountID)
}

func (r *txBalanceRepository) Add(ctx context.Context, balance *domain.AccountBalance) error {
	copied := *balance
	r.tx.stagedBalances[balance.AccountID] = &copied
	return nil
}

func (r *txBalanceRepository) Update(ctx context.Context, accountID string, newAvailableCents int64, expectedVersion int64) error {
	current, err := r.Get(ctx, accountID)
	if err != nil {
		return err
	}
	if current == nil || current.Version != expectedVersion {
		return &domain.OptimisticLockError{Entity: "AccountBalance", EntityID: accountID}
	}
	updated := *current
	updated.AvailableBalanceCents = newAvailableCents
	updated.Version++
	updated.UpdatedAt = time.Now().UTC()
	r.tx.stagedBalances[accountID] = &updated
	return nil
}

type txPaymentRepository struct{ tx *Tx }

func (r *txPaymentRepository) Get(ctx context.Context, paymentID string) (*domain.Payment, error) {
	if p, ok := r.tx.stagedPayments[paymentID]; ok {
		return p, nil
	}
	if p, ok := r.tx.parent.payments[paymentID]; ok {
		return p, nil
	}
	return nil, nil
}

func (r *txPaymentRepository) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Payment, error) {
	for _, p := range r.tx.stagedPayments {
		if p.IdempotencyKey == key {
			return p, nil
		}
	}
	for _, p := range r.tx.parent.payments {
		if p.IdempotencyKey == key {
			return p, nil
		}
	}
	return nil, nil
}

func (r *txPaymentRepository) Add(ctx context.Context, payment *domain.Payment) error {
	r.tx.stagedPayments[payment.ID] = payment
	return nil
}

func (r *txPaymentRepository) UpdateStatus(ctx context.Context, paymentID string, status domain.PaymentStatus) error {
	payment, err := r.Get(ctx, paymentID)
	if err != nil || payment == nil {
		return err
	}
	updated := *payment
	updated.Status = status
	updated.UpdatedAt = time.Now().UTC()
	r.tx.stagedPayments[paymentID] = &updated
	return nil
}

type txLedgerRepository struct{ tx *Tx }

func (r *txLedgerRepository) Add(ctx context.Context, entry *domain.LedgerEntry) error {
	r.tx.stagedLedger = append(r.tx.stagedLedger, entry)
	return nil
}

func (r *txLedgerRepository) GetByPaymentID(ctx context.Context, paymentID string) ([]*domain.LedgerEntry, error) {
	var entries []*domain.LedgerEntry
	for _, e := range r.tx.parent.ledger {
		if e.PaymentID == paymentID {
			entries = append(entries, e)
		}
	}
	for _, e := range r.tx.stagedLedger {
		if e.PaymentID == paymentID {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func (r *txLedgerRepository) GetByAccountID(ctx context.Context, accountID string, limit int) ([]*domain.LedgerEntry, error) {
	var entries []*domain.LedgerEntry
	all := append(append([]*domain.LedgerEntry{}, r.tx.parent.ledger...), r.tx.stagedLedger...)
	// Newest first.
	for i := len(all) - 1; i >= 0 && len(entries) < limit; i-- {
		if all[i].AccountID == accountID {
			entries = append(entries, all[i])
		}
	}
	return entries, nil
}

type txIdempotencyRepository struct{ tx *Tx }

func (r *txIdempotencyRepository) Get(ctx context.Context, key string) (*domain.IdempotencyRecord, error) {
	if r.tx.deletedIdempotency[key] {
		return nil, nil
	}
	record, ok := r.tx.stagedIdempotency[key]
	if !ok {
		record, ok = r.tx.parent.idempotency[key]
	}
	if !ok || !record.ExpiresAt.After(time.Now().UTC()) {
		return nil, nil
	}
	return record, nil
}

func (r *txIdempotencyRepository) Create(ctx context.Context, key string, expiresAt time.Time) error {
	if existing, _ := r.Get(ctx, key); existing != nil {
		return nil
	}
	r.tx.stagedIdempotency[key] = &domain.IdempotencyRecord{
		Key:       key,
		Status:    domain.IdempotencyStatusPending,
		CreatedAt: time.Now().UTC(),
		ExpiresAt: expiresAt,
	}
	return nil
}

func (r *txIdempotencyRepository) MarkCompleted(ctx context.Context, key, paymentID string, response json.RawMessage) error {
	record, err := r.Get(ctx, key)
	if err != nil || record == nil {
		return err
	}
	updated := *record
	updated.Status = domain.IdempotencyStatusCompleted
	updated.PaymentID = paymentID
	updated.ResponseData = response
	r.tx.stagedIdempotency[key] = &updated
	return nil
}

func (r *txIdempotencyRepository) MarkFailed(ctx context.Context, key string) error {
	record, err := r.Get(ctx, key)
	if err != nil || record == nil {
		return err
	}
	updated := *record
	updated.Status = domain.IdempotencyStatusFailed
	r.tx.stagedIdempotency[key] = &updated
	return nil
}

func (r *txIdempotencyRepository) DeleteExpired(ctx context.Context) (int64, error) {
	now := time.Now().UTC()
	var removed int64
	for key, record := range r.tx.parent.idempotency {
		if !record.ExpiresAt.After(now) {
			r.tx.deletedIdempotency[key] = true
			removed++
		}
	}
	return removed, nil
}

type txOutboxRepository struct{ tx *Tx }

func (r *txOutboxRepository) Add(ctx context.Context, event *domain.OutboxEvent) error {
	r.tx.stagedOutbox = append(r.tx.stagedOutbox, event)
	return nil
}

func (r *txOutboxRepository) GetUnpublished(ctx context.Context, limit int) ([]*domain.OutboxEvent, error) {
	var events []*domain.OutboxEvent
	for _, e := range r.tx.parent.outbox {
		if e.PublishedAt == nil {
			events = append(events, e)
			if len(events) >= limit {
				break
			}
		}
	}
	return events, nil
}

func (r *txOutboxRepository) MarkPublished(ctx context.Context, eventIDs []string) error {
	r.tx.publishedEventIDs = append(r.tx.publishedEventIDs, eventIDs...)
	return nil
}

func (r *txOutboxRepository) IncrementRetryCount(ctx context.Context, eventID string) error {
	r.tx.retriedEventIDs = append(r.tx.retriedEventIDs, eventID)
	return nil
}

// Verify interface implementations
var (
	_ domain.UnitOfWork = (*DataStore)(nil)
	_ domain.Tx         = (*Tx)(nil)
)

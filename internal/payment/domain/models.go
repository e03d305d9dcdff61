package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// PaymentStatus is the terminal outcome of an authorization attempt.
type PaymentStatus string

const (
	PaymentStatusAuthorized PaymentStatus = "AUTHORIZED"
	PaymentStatusDeclined   PaymentStatus = "DECLINED"
	PaymentStatusDuplicate  PaymentStatus = "DUPLICATE"
)

// EntryType distinguishes the two sides of a double-entry pair.
type EntryType string

const (
	EntryTypeDebit  EntryType = "DEBIT"
	EntryTypeCredit EntryType = "CREDIT"
)

// IdempotencyStatus tracks the lifecycle of an idempotency record.
type IdempotencyStatus string

const (
	IdempotencyStatusPending   IdempotencyStatus = "PENDING"
	IdempotencyStatusCompleted IdempotencyStatus = "COMPLETED"
	IdempotencyStatusFailed    IdempotencyStatus = "FAILED"
)

// AccountStatusActive is the only account status the pipeline acts on.
// Other values are reserved.
const AccountStatusActive = "ACTIVE"

// IdempotencyKeyTTL is how long an idempotency record stays authoritative.
const IdempotencyKeyTTL = 24 * time.Hour

// Money is an amount in integer minor units (cents) with its currency.
type Money struct {
	AmountCents int64
	Currency    string
}

// NewMoney validates and constructs a Money value.
func NewMoney(amountCents int64, currency string) (Money, error) {
	if amountCents < 0 {
		return Money{}, &InvalidAmountError{Amount: amountCents, Reason: "amount cannot be negative"}
	}
	if len(currency) != 3 {
		return Money{}, fmt.Errorf("currency must be an ISO 4217 code (3 characters), got %q", currency)
	}
	return Money{AmountCents: amountCents, Currency: currency}, nil
}

// Account is created externally; the pipeline reads but never inserts it.
type Account struct {
	ID        string
	OwnerID   string
	Currency  string
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AccountBalance is the per-account mutable record.
// Version increases on every update and drives optimistic concurrency.
type AccountBalance struct {
	AccountID             string
	AvailableBalanceCents int64
	PendingBalanceCents   int64
	Currency              string
	Version               int64
	UpdatedAt             time.Time
}

// Payment records one authorization attempt that produced a payment.
type Payment struct {
	ID             string
	IdempotencyKey string
	PayerAccountID string
	PayeeAccountID string
	AmountCents    int64
	Currency       string
	Status         PaymentStatus
	Description    string
	ErrorCode      string
	ErrorMessage   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewPayment constructs an AUTHORIZED payment with a fresh identifier.
func NewPayment(idempotencyKey, payerID, payeeID string, amount Money, description string) *Payment {
	now := time.Now().UTC()
	return &Payment{
		ID:             NewID(),
		IdempotencyKey: idempotencyKey,
		PayerAccountID: payerID,
		PayeeAccountID: payeeID,
		AmountCents:    amount.AmountCents,
		Currency:       amount.Currency,
		Status:         PaymentStatusAuthorized,
		Description:    description,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// LedgerEntry is one side of a double-entry bookkeeping pair. Append-only.
type LedgerEntry struct {
	ID                string
	PaymentID         string
	AccountID         string
	EntryType         EntryType
	AmountCents       int64
	Currency          string
	BalanceAfterCents int64
	CreatedAt         time.Time
}

// NewLedgerEntry constructs a ledger entry with a fresh identifier.
func NewLedgerEntry(paymentID, accountID string, entryType EntryType, amountCents int64, currency string, balanceAfterCents int64) *LedgerEntry {
	return &LedgerEntry{
		ID:                NewID(),
		PaymentID:         paymentID,
		AccountID:         accountID,
		EntryType:         entryType,
		AmountCents:       amountCents,
		Currency:          currency,
		BalanceAfterCents: balanceAfterCents,
		CreatedAt:         time.Now().UTC(),
	}
}

// IdempotencyRecord tracks one caller-supplied key. At most one per key.
type IdempotencyRecord struct {
	Key          string
	Status       IdempotencyStatus
	PaymentID    string
	ResponseData json.RawMessage
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

// OutboxEvent is a durable intent to publish a domain event.
// The payload is an opaque JSON object; a closed schema is deliberately
// not pushed into the storage layer.
type OutboxEvent struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       json.RawMessage
	CreatedAt     time.Time
	PublishedAt   *time.Time
	RetryCount    int
}

// NewOutboxEvent constructs an unpublished outbox event from a structured payload.
func NewOutboxEvent(aggregateType, aggregateID, eventType string, payload map[string]any) (*OutboxEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling outbox payload: %w", err)
	}

	return &OutboxEvent{
		ID:            NewID(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       data,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

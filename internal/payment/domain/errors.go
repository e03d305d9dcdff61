package domain

import "fmt"

// Error codes surfaced on declined authorizations. Validation order is
// fixed: INVALID_AMOUNT, SAME_ACCOUNT, ACCOUNT_NOT_FOUND (payer first),
// INSUFFICIENT_FUNDS. The first failing check wins.
const (
	ErrorCodeInvalidAmount     = "INVALID_AMOUNT"
	ErrorCodeSameAccount       = "SAME_ACCOUNT"
	ErrorCodeAccountNotFound   = "ACCOUNT_NOT_FOUND"
	ErrorCodeInsufficientFunds = "INSUFFICIENT_FUNDS"
	ErrorCodeCurrencyMismatch  = "CURRENCY_MISMATCH"
)

// InsufficientFundsError is returned when an account cannot cover a transfer.
type InsufficientFundsError struct {
	AccountID string
	Required  int64
	Available int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("account %s has insufficient funds: required %d, available %d",
		e.AccountID, e.Required, e.Available)
}

// AccountNotFoundError is returned when an account cannot be found.
type AccountNotFoundError struct {
	AccountID string
}

func (e *AccountNotFoundError) Error() string {
	return fmt.Sprintf("account %s not found", e.AccountID)
}

// InvalidAmountError is returned when a payment amount is invalid.
type InvalidAmountError struct {
	Amount int64
	Reason string
}

func (e *InvalidAmountError) Error() string {
	return fmt.Sprintf("invalid amount %d: %s", e.Amount, e.Reason)
}

// SameAccountError is returned when payer and payee are the same account.
type SameAccountError struct {
	AccountID string
}

func (e *SameAccountError) Error() string {
	return fmt.Sprintf("cannot transfer to the same account: %s", e.AccountID)
}

// CurrencyMismatchError is returned when currencies do not match.
type CurrencyMismatchError struct {
	Expected string
	Actual   string
}

func (e *CurrencyMismatchError) Error() string {
	return fmt.Sprintf("currency mismatch: expected %s, got %s", e.Expected, e.Actual)
}

// OptimisticLockError is returned when a conditional version update
// affected no rows. It names the entity and its identifier.
type OptimisticLockError struct {
	Entity   string
	EntityID string
}

func (e *OptimisticLockError) Error() string {
	return fmt.Sprintf("optimistic lock failed for %s %s", e.Entity, e.EntityID)
}

package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/DmitryDubovikov/grpc-payment-ledger/internal/common/logging"
	"github.com/DmitryDubovikov/grpc-payment-ledger/internal/common/metrics"
	"github.com/DmitryDubovikov/grpc-payment-ledger/internal/payment/domain"
)

// PaymentService implements the payment authorization pipeline.
//
// Every state-changing operation runs inside a single unit of work:
// balance mutation, double-entry ledger append, outbox enqueue and
// idempotency finalization commit together or not at all.
type PaymentService struct {
	uow domain.UnitOfWork
}

// NewPaymentService creates a new PaymentService.
func NewPaymentService(uow domain.UnitOfWork) *PaymentService {
	return &PaymentService{uow: uow}
}

// AuthorizePaymentCommand is a request to transfer between two accounts.
type AuthorizePaymentCommand struct {
	IdempotencyKey string
	PayerAccountID string
	PayeeAccountID string
	AmountCents    int64
	Currency       string
	Description    string
}

// AuthorizePaymentResult is the outcome of one authorization attempt.
// PaymentID is empty on declines that never allocated a payment.
type AuthorizePaymentResult struct {
	PaymentID    string
	Status       domain.PaymentStatus
	ErrorCode    string
	ErrorMessage string
	ProcessedAt  time.Time
}

// Authorize validates a transfer request, mutates both balances under
// row locks, writes the double-entry ledger, enqueues a PaymentAuthorized
// outbox event and finalizes the idempotency record, all in one
// transaction.
//
// A key with a COMPLETED record short-circuits to DUPLICATE without
// mutating anything. PENDING and FAILED records are treated as absent,
// so a retry after a decline or a crash gets a fresh attempt.
func (s *PaymentService) Authorize(ctx context.Context, cmd AuthorizePaymentCommand) (*AuthorizePaymentResult, error) {
	log := logging.FromContext(ctx).With(
		"idempotency_key", cmd.IdempotencyKey,
		"payer", cmd.PayerAccountID,
		"payee", cmd.PayeeAccountID,
		"amount_cents", cmd.AmountCents,
	)

	tx, err := s.uow.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	existing, err := tx.Idempotency().Get(ctx, cmd.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.Status == domain.IdempotencyStatusCompleted {
		log.Info("idempotent_replay", "payment_id", existing.PaymentID)
		metrics.RecordPaymentResult(string(domain.PaymentStatusDuplicate))
		return &AuthorizePaymentResult{
			PaymentID:   existing.PaymentID,
			Status:      domain.PaymentStatusDuplicate,
			ProcessedAt: existing.CreatedAt,
		}, nil
	}

	if existing == nil {
		expiresAt := time.Now().UTC().Add(domain.IdempotencyKeyTTL)
		if err := tx.Idempotency().Create(ctx, cmd.IdempotencyKey, expiresAt); err != nil {
			return nil, err
		}
	}

	if declined, err := s.validate(ctx, tx, cmd); err != nil {
		return nil, err
	} else if declined != nil {
		if err := tx.Idempotency().MarkFailed(ctx, cmd.IdempotencyKey); err != nil {
			return nil, err
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("commit transaction: %w", err)
		}
		log.Info("payment_declined", "error_code", declined.ErrorCode)
		metrics.RecordPaymentResult(string(domain.PaymentStatusDeclined))
		return declined, nil
	}

	amount, err := domain.NewMoney(cmd.AmountCents, cmd.Currency)
	if err != nil {
		return nil, err
	}
	payment := domain.NewPayment(cmd.IdempotencyKey, cmd.PayerAccountID, cmd.PayeeAccountID, amount, cmd.Description)

	if err := tx.Payments().Add(ctx, payment); err != nil {
		return nil, err
	}

	if err := s.executeTransfer(ctx, tx, payment, log); err != nil {
		return nil, err
	}

	payload := map[string]any{
		"payment_id":       payment.ID,
		"payer_account_id": payment.PayerAccountID,
		"payee_account_id": payment.PayeeAccountID,
		"amount_cents":     payment.AmountCents,
		"currency":         payment.Currency,
	}
	if payment.Description != "" {
		payload["description"] = payment.Description
	}

	event, err := domain.NewOutboxEvent("Payment", payment.ID, "PaymentAuthorized", payload)
	if err != nil {
		return nil, err
	}
	if err := tx.Outbox().Add(ctx, event); err != nil {
		return nil, err
	}

	if err := tx.Idempotency().MarkCompleted(ctx, cmd.IdempotencyKey, payment.ID, nil); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	log.Info("payment_authorized", "payment_id", payment.ID)
	metrics.RecordPaymentResult(string(domain.PaymentStatusAuthorized))
	metrics.PaymentAmountCents.Observe(float64(payment.AmountCents))

	return &AuthorizePaymentResult{
		PaymentID:   payment.ID,
		Status:      domain.PaymentStatusAuthorized,
		ProcessedAt: payment.CreatedAt,
	}, nil
}

// validate runs the lock-free checks in their fixed order and returns a
// DECLINED result for the first failing one, or nil if all pass.
func (s *PaymentService) validate(ctx context.Context, tx domain.Tx, cmd AuthorizePaymentCommand) (*AuthorizePaymentResult, error) {
	if cmd.AmountCents <= 0 {
		return declinedResult(domain.ErrorCodeInvalidAmount, "Amount must be positive"), nil
	}

	if cmd.PayerAccountID == cmd.PayeeAccountID {
		return declinedResult(domain.ErrorCodeSameAccount, "Cannot transfer to same account"), nil
	}

	payer, err := tx.Accounts().Get(ctx, cmd.PayerAccountID)
	if err != nil {
		return nil, err
	}
	if payer == nil {
		return declinedResult(domain.ErrorCodeAccountNotFound,
			fmt.Sprintf("Payer account %s not found", cmd.PayerAccountID)), nil
	}

	payee, err := tx.Accounts().Get(ctx, cmd.PayeeAccountID)
	if err != nil {
		return nil, err
	}
	if payee == nil {
		return declinedResult(domain.ErrorCodeAccountNotFound,
			fmt.Sprintf("Payee account %s not found", cmd.PayeeAccountID)), nil
	}

	payerBalance, err := tx.Balances().Get(ctx, cmd.PayerAccountID)
	if err != nil {
		return nil, err
	}
	if payerBalance == nil || payerBalance.AvailableBalanceCents < cmd.AmountCents {
		return declinedResult(domain.ErrorCodeInsufficientFunds, "Insufficient funds"), nil
	}

	return nil, nil
}

// executeTransfer moves the funds under row locks and appends the
// double-entry pair. Lock acquisition is ordered by the lexicographic
// order of the account identifiers, regardless of transfer direction, so
// opposing transfers between the same pair cannot deadlock.
func (s *PaymentService) executeTransfer(ctx context.Context, tx domain.Tx, payment *domain.Payment, log *slog.Logger) error {
	first, second := payment.PayerAccountID, payment.PayeeAccountID
	if second < first {
		first, second = second, first
	}

	firstBalance, err := tx.Balances().GetForUpdate(ctx, first)
	if err != nil {
		return err
	}
	secondBalance, err := tx.Balances().GetForUpdate(ctx, second)
	if err != nil {
		return err
	}

	payerBalance, payeeBalance := firstBalance, secondBalance
	if payment.PayerAccountID == second {
		payerBalance, payeeBalance = secondBalance, firstBalance
	}

	if payerBalance == nil {
		return &domain.AccountNotFoundError{AccountID: payment.PayerAccountID}
	}
	if payeeBalance == nil {
		return &domain.AccountNotFoundError{AccountID: payment.PayeeAccountID}
	}

	// The pre-lock snapshot may be stale by the time the lock is held; a
	// shortfall here is a serialization anomaly, not a decline.
	if payerBalance.AvailableBalanceCents < payment.AmountCents {
		return &domain.InsufficientFundsError{
			AccountID: payment.PayerAccountID,
			Required:  payment.AmountCents,
			Available: payerBalance.AvailableBalanceCents,
		}
	}

	newPayerAvailable := payerBalance.AvailableBalanceCents - payment.AmountCents
	newPayeeAvailable := payeeBalance.AvailableBalanceCents + payment.AmountCents

	debit := domain.NewLedgerEntry(payment.ID, payment.PayerAccountID,
		domain.EntryTypeDebit, payment.AmountCents, payment.Currency, newPayerAvailable)
	credit := domain.NewLedgerEntry(payment.ID, payment.PayeeAccountID,
		domain.EntryTypeCredit, payment.AmountCents, payment.Currency, newPayeeAvailable)

	if err := tx.Ledger().Add(ctx, debit); err != nil {
		return err
	}
	if err := tx.Ledger().Add(ctx, credit); err != nil {
		return err
	}

	if err := tx.Balances().Update(ctx, payment.PayerAccountID, newPayerAvailable, payerBalance.Version); err != nil {
		return err
	}
	if err := tx.Balances().Update(ctx, payment.PayeeAccountID, newPayeeAvailable, payeeBalance.Version); err != nil {
		return err
	}

	log.Info("payment_transferred",
		"payer_balance_after", newPayerAvailable,
		"payee_balance_after", newPayeeAvailable,
	)

	return nil
}

func declinedResult(code, message string) *AuthorizePaymentResult {
	return &AuthorizePaymentResult{
		Status:       domain.PaymentStatusDeclined,
		ErrorCode:    code,
		ErrorMessage: message,
		ProcessedAt:  time.Now().UTC(),
	}
}

// GetPayment retrieves a payment by id; (nil, nil) when absent.
func (s *PaymentService) GetPayment(ctx context.Context, paymentID string) (*domain.Payment, error) {
	tx, err := s.uow.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	return tx.Payments().Get(ctx, paymentID)
}

// GetAccountBalance retrieves a balance snapshot by account id; (nil, nil) when absent.
func (s *PaymentService) GetAccountBalance(ctx context.Context, accountID string) (*domain.AccountBalance, error) {
	tx, err := s.uow.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	return tx.Balances().Get(ctx, accountID)
}

// GetAccountLedger lists an account's most recent ledger entries.
func (s *PaymentService) GetAccountLedger(ctx context.Context, accountID string, limit int) ([]*domain.LedgerEntry, error) {
	tx, err := s.uow.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	return tx.Ledger().GetByAccountID(ctx, accountID, limit)
}

// DeleteExpiredIdempotencyKeys prunes expired idempotency records and
// reports how many were removed. Run periodically as a background task.
func (s *PaymentService) DeleteExpiredIdempotencyKeys(ctx context.Context) (int64, error) {
	tx, err := s.uow.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	pruned, err := tx.Idempotency().DeleteExpired(ctx)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}

	if pruned > 0 {
		logging.InfoContext(ctx, "idempotency_keys_pruned", "count", pruned)
	}
	return pruned, nil
}

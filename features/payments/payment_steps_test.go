package payments

import (
	"context"
	"fmt"
	"time"

	"github.com/cucumber/godog"

	"github.com/DmitryDubovikov/grpc-payment-ledger/internal/payment/application"
	"github.com/DmitryDubovikov/grpc-payment-ledger/internal/payment/domain"
	"github.com/DmitryDubovikov/grpc-payment-ledger/internal/payment/infrastructure/memory"
)

type paymentState struct {
	ctx        context.Context
	store      *memory.DataStore
	service    *application.PaymentService
	lastResult *application.AuthorizePaymentResult
	prevResult *application.AuthorizePaymentResult
	lastError  error
}

func InitializePaymentScenario(ctx *godog.ScenarioContext) {
	state := &paymentState{}

	ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		state.ctx = context.Background()
		state.store = memory.NewDataStore()
		state.service = application.NewPaymentService(state.store)
		state.lastResult = nil
		state.prevResult = nil
		state.lastError = nil
		return ctx, nil
	})

	ctx.Step(`^an account "([^"]*)" with balance (\d+) cents$`, state.anAccountWithBalance)
	ctx.Step(`^the account "([^"]*)" is topped up to (\d+) cents$`, state.theAccountIsToppedUpTo)

	ctx.Step(`^I authorize a transfer of (\d+) cents from "([^"]*)" to "([^"]*)" with key "([^"]*)"$`, state.iAuthorizeATransfer)

	ctx.Step(`^the result status should be "([^"]*)"$`, state.theResultStatusShouldBe)
	ctx.Step(`^the result payment id should match the previous one$`, state.theResultPaymentIDShouldMatchThePreviousOne)
	ctx.Step(`^the decline code should be "([^"]*)"$`, state.theDeclineCodeShouldBe)
	ctx.Step(`^the balance of "([^"]*)" should be (\d+) cents$`, state.theBalanceOfShouldBe)
	ctx.Step(`^one "([^"]*)" event should be enqueued$`, state.oneEventShouldBeEnqueued)
	ctx.Step(`^no events should be enqueued$`, state.noEventsShouldBeEnqueued)
}

func (s *paymentState) anAccountWithBalance(accountID string, balanceCents int64) error {
	now := time.Now().UTC()
	s.store.Seed(
		&domain.Account{
			ID:        accountID,
			OwnerID:   "owner-" + accountID,
			Currency:  "USD",
			Status:    domain.AccountStatusActive,
			CreatedAt: now,
			UpdatedAt: now,
		},
		&domain.AccountBalance{
			AccountID:             accountID,
			AvailableBalanceCents: balanceCents,
			Currency:              "USD",
			Version:               1,
			UpdatedAt:             now,
		},
	)
	return nil
}

func (s *paymentState) theAccountIsToppedUpTo(accountID string, balanceCents int64) error {
	balance := s.store.Balance(accountID)
	if balance == nil {
		return fmt.Errorf("account %s has no balance to top up", accountID)
	}
	balance.AvailableBalanceCents = balanceCents
	balance.UpdatedAt = time.Now().UTC()

	account, err := s.account(accountID)
	if err != nil {
		return err
	}
	s.store.Seed(account, balance)
	return nil
}

func (s *paymentState) account(accountID string) (*domain.Account, error) {
	tx, err := s.store.Begin(s.ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(s.ctx)

	account, err := tx.Accounts().Get(s.ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, fmt.Errorf("account %s not found", accountID)
	}
	return account, nil
}

func (s *paymentState) iAuthorizeATransfer(amountCents int64, payerID, payeeID, key string) error {
	s.prevResult = s.lastResult

	result, err := s.service.Authorize(s.ctx, application.AuthorizePaymentCommand{
		IdempotencyKey: key,
		PayerAccountID: payerID,
		PayeeAccountID: payeeID,
		AmountCents:    amountCents,
		Currency:       "USD",
	})
	s.lastResult = result
	s.lastError = err
	return nil
}

func (s *paymentState) theResultStatusShouldBe(expected string) error {
	if s.lastError != nil {
		return fmt.Errorf("authorization failed: %w", s.lastError)
	}
	if s.lastResult == nil {
		return fmt.Errorf("no authorization result recorded")
	}
	if string(s.lastResult.Status) != expected {
		return fmt.Errorf("expected status %s, got %s", expected, s.lastResult.Status)
	}
	return nil
}

func (s *paymentState) theResultPaymentIDShouldMatchThePreviousOne() error {
	if s.lastResult == nil || s.prevResult == nil {
		return fmt.Errorf("need two authorization results to compare")
	}
	if s.lastResult.PaymentID != s.prevResult.PaymentID {
		return fmt.Errorf("payment id %s does not match previous %s", s.lastResult.PaymentID, s.prevResult.PaymentID)
	}
	return nil
}

func (s *paymentState) theDeclineCodeShouldBe(expected string) error {
	if s.lastResult == nil {
		return fmt.Errorf("no authorization result recorded")
	}
	if s.lastResult.ErrorCode != expected {
		return fmt.Errorf("expected decline code %s, got %s", expected, s.lastResult.ErrorCode)
	}
	return nil
}

func (s *paymentState) theBalanceOfShouldBe(accountID string, expectedCents int64) error {
	balance := s.store.Balance(accountID)
	if balance == nil {
		return fmt.Errorf("account %s has no balance", accountID)
	}
	if balance.AvailableBalanceCents != expectedCents {
		return fmt.Errorf("expected balance %d, got %d", expectedCents, balance.AvailableBalanceCents)
	}
	return nil
}

func (s *paymentState) oneEventShouldBeEnqueued(eventType string) error {
	events := s.store.UnpublishedEvents()
	if len(events) != 1 {
		return fmt.Errorf("expected one event, got %d", len(events))
	}
	if events[0].EventType != eventType {
		return fmt.Errorf("expected event type %s, got %s", eventType, events[0].EventType)
	}
	return nil
}

func (s *paymentState) noEventsShouldBeEnqueued() error {
	if events := s.store.UnpublishedEvents(); len(events) != 0 {
		return fmt.Errorf("expected no events, got %d", len(events))
	}
	return nil
}

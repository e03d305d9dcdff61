package api

// Wire messages for payment.v1.PaymentService, serialized by JSONCodec.

// AuthorizePaymentRequest asks to move funds between two accounts.
type AuthorizePaymentRequest struct {
	IdempotencyKey string `json:"idempotency_key"`
	PayerAccountID string `json:"payer_account_id"`
	PayeeAccountID string `json:"payee_account_id"`
	AmountCents    int64  `json:"amount_cents"`
	Currency       string `json:"currency"`
	Description    string `json:"description,omitempty"`
}

// PaymentError carries a decline code and a human-readable message.
type PaymentError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AuthorizePaymentResponse reports the authorization outcome. Error is
// set only for DECLINED.
type AuthorizePaymentResponse struct {
	PaymentID   string        `json:"payment_id,omitempty"`
	Status      string        `json:"status"`
	Error       *PaymentError `json:"error,omitempty"`
	ProcessedAt string        `json:"processed_at,omitempty"`
}

// GetPaymentRequest looks up a payment by id.
type GetPaymentRequest struct {
	PaymentID string `json:"payment_id"`
}

// Payment is the wire form of a stored payment.
type Payment struct {
	PaymentID      string `json:"payment_id"`
	PayerAccountID string `json:"payer_account_id"`
	PayeeAccountID string `json:"payee_account_id"`
	AmountCents    int64  `json:"amount_cents"`
	Currency       string `json:"currency"`
	Status         string `json:"status"`
	Description    string `json:"description,omitempty"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
}

// GetPaymentResponse wraps a found payment.
type GetPaymentResponse struct {
	Payment *Payment `json:"payment"`
}

// GetAccountBalanceRequest looks up a balance by account id.
type GetAccountBalanceRequest struct {
	AccountID string `json:"account_id"`
}

// GetAccountBalanceResponse is a point-in-time balance snapshot.
type GetAccountBalanceResponse struct {
	AccountID             string `json:"account_id"`
	AvailableBalanceCents int64  `json:"available_balance_cents"`
	PendingBalanceCents   int64  `json:"pending_balance_cents"`
	Currency              string `json:"currency"`
}

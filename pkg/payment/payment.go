package payment

import (
	"context"

	"github.com/spacemonkeygo/monkit/v3"
)

var mon = monkit.Package()

type CustomerRequest struct {
	Name           string
	Email          string
	Phone          string
	ReferenceID    string // our tenant id
	IdempotencyKey string
}

type SaveCardRequest struct {
	CustomerID     string
	SourceID       string // nonce or payment method from the browser SDK
	CardholderName string
	IdempotencyKey string
}

type ChargeRequest struct {
	AmountCents    int64
	Currency       string
	SourceID       string // saved card id / payment method id
	CustomerID     string // optional
	IdempotencyKey string
	Note           string
	ReferenceID    string
	Metadata       map[string]string
}

type ChargeResult struct {
	TransactionID string
	Status        string
}

type RefundRequest struct {
	PaymentRef     string
	AmountCents    int64
	Currency       string
	Reason         string
	IdempotencyKey string
}

type RefundResult struct {
	RefundID string
	Status   string
}

// Gateway is a card processor. Every mutating call carries an idempotency key;
// retrying a call with the same key must not move money twice. Failures are
// apperr.GatewayError values whose text is safe to show to operators.
type Gateway interface {
	Name() string
	// Check reports whether the processor is configured and reachable.
	Check(ctx context.Context) error
	CreateCustomer(ctx context.Context, req CustomerRequest) (string, error)
	SaveCard(ctx context.Context, req SaveCardRequest) (string, error)
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
	Refund(ctx context.Context, req RefundRequest) (*RefundResult, error)
}

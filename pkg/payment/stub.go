package payment

import (
	"context"
	"strings"

	"storagedesk/internal/apperr"

	"github.com/google/uuid"
)

// StubGateway approves everything except tokens starting with "decline" for
// local development. It never moves money.
type StubGateway struct{}

func (StubGateway) Name() string { return "stub" }

func (StubGateway) Check(ctx context.Context) error { return nil }

func (StubGateway) CreateCustomer(ctx context.Context, req CustomerRequest) (string, error) {
	return "stub_cus_" + uuid.NewString()[:8], nil
}

func (StubGateway) SaveCard(ctx context.Context, req SaveCardRequest) (string, error) {
	if req.SourceID == "" {
		return "", apperr.ValidationError.New("source_id is required")
	}
	if strings.HasPrefix(req.SourceID, "decline") {
		return req.SourceID, nil
	}
	return "stub_card_" + uuid.NewString()[:8], nil
}

func (StubGateway) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.GatewayError.Wrap(err)
	}
	if strings.HasPrefix(req.SourceID, "decline") {
		return nil, apperr.GatewayError.New("stub CARD_DECLINED: card declined")
	}
	return &ChargeResult{TransactionID: "stub_pay_" + uuid.NewString(), Status: "COMPLETED"}, nil
}

func (StubGateway) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	if !strings.HasPrefix(req.PaymentRef, "stub_pay_") {
		return nil, apperr.GatewayError.New("stub: unknown payment %q", req.PaymentRef)
	}
	return &RefundResult{RefundID: "stub_ref_" + uuid.NewString(), Status: "COMPLETED"}, nil
}

var _ Gateway = StubGateway{}

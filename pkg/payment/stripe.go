package payment

import (
	"context"
	"errors"
	"strings"

	"storagedesk/internal/apperr"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"go.uber.org/zap"
)

// StripeGateway charges saved payment methods through PaymentIntents.
type StripeGateway struct {
	log *zap.Logger
	sc  *client.API
	key string
}

// NewStripeGateway builds a client for secretKey. A non-empty baseURL points
// the API backend elsewhere (stripe-mock, tests).
func NewStripeGateway(secretKey, baseURL string, log *zap.Logger) *StripeGateway {
	if log == nil {
		log = zap.NewNop()
	}
	var backends *stripe.Backends
	if baseURL != "" {
		cfg := &stripe.BackendConfig{
			URL:               stripe.String(strings.TrimRight(baseURL, "/")),
			MaxNetworkRetries: stripe.Int64(0),
			LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelError},
		}
		api := stripe.GetBackendWithConfig(stripe.APIBackend, cfg)
		backends = &stripe.Backends{API: api, Connect: api, Uploads: api}
	}
	return &StripeGateway{
		log: log.Named("stripe"),
		sc:  client.New(secretKey, backends),
		key: secretKey,
	}
}

func (g *StripeGateway) Name() string { return "stripe" }

func (g *StripeGateway) Check(ctx context.Context) error {
	if g.key == "" {
		return apperr.ConfigError.New("stripe gateway is not configured")
	}
	params := &stripe.BalanceParams{}
	params.Context = ctx
	if _, err := g.sc.Balance.Get(params); err != nil {
		return apperr.ConfigError.Wrap(stripeError(err))
	}
	return nil
}

func (g *StripeGateway) CreateCustomer(ctx context.Context, req CustomerRequest) (_ string, err error) {
	defer mon.Task()(&ctx)(&err)
	params := &stripe.CustomerParams{
		Name:  optional(req.Name),
		Email: optional(req.Email),
		Phone: optional(req.Phone),
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	if req.ReferenceID != "" {
		params.AddMetadata("tenant_id", req.ReferenceID)
	}
	c, err := g.sc.Customers.New(params)
	if err != nil {
		return "", stripeError(err)
	}
	return c.ID, nil
}

// SaveCard attaches a payment method to the customer so it can be charged off session.
func (g *StripeGateway) SaveCard(ctx context.Context, req SaveCardRequest) (_ string, err error) {
	defer mon.Task()(&ctx)(&err)
	if req.CustomerID == "" {
		return "", apperr.ValidationError.New("stripe payment methods need a customer id")
	}
	params := &stripe.PaymentMethodAttachParams{Customer: stripe.String(req.CustomerID)}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	pm, err := g.sc.PaymentMethods.Attach(req.SourceID, params)
	if err != nil {
		return "", stripeError(err)
	}
	return pm.ID, nil
}

func (g *StripeGateway) Charge(ctx context.Context, req ChargeRequest) (_ *ChargeResult, err error) {
	defer mon.Task()(&ctx)(&err)
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(req.AmountCents),
		Currency:      stripe.String(strings.ToLower(req.Currency)),
		PaymentMethod: stripe.String(req.SourceID),
		Confirm:       stripe.Bool(true),
		OffSession:    stripe.Bool(true),
		Description:   optional(req.Note),
	}
	if req.CustomerID != "" {
		params.Customer = stripe.String(req.CustomerID)
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	pi, err := g.sc.PaymentIntents.New(params)
	if err != nil {
		return nil, stripeError(err)
	}
	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded, stripe.PaymentIntentStatusProcessing:
	default:
		return nil, apperr.GatewayError.New("stripe payment intent %s is %s", pi.ID, pi.Status)
	}
	return &ChargeResult{TransactionID: pi.ID, Status: string(pi.Status)}, nil
}

func (g *StripeGateway) Refund(ctx context.Context, req RefundRequest) (_ *RefundResult, err error) {
	defer mon.Task()(&ctx)(&err)
	params := &stripe.RefundParams{PaymentIntent: stripe.String(req.PaymentRef)}
	if req.AmountCents > 0 {
		params.Amount = stripe.Int64(req.AmountCents)
	}
	if req.Reason != "" {
		params.AddMetadata("reason", req.Reason)
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)
	r, err := g.sc.Refunds.New(params)
	if err != nil {
		return nil, stripeError(err)
	}
	if r.Status == stripe.RefundStatusFailed || r.Status == stripe.RefundStatusCanceled {
		return nil, apperr.GatewayError.New("stripe refund %s is %s", r.ID, r.Status)
	}
	return &RefundResult{RefundID: r.ID, Status: string(r.Status)}, nil
}

// stripeError keeps the code and message Stripe returns and drops everything
// else, so request ids and keys never reach API callers.
func stripeError(err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		code := string(se.Code)
		if se.DeclineCode != "" {
			code = string(se.DeclineCode)
		}
		if code == "" {
			code = string(se.Type)
		}
		return apperr.GatewayError.New("stripe %s: %s", code, se.Msg)
	}
	return apperr.GatewayError.Wrap(err)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return stripe.String(s)
}

var _ Gateway = (*StripeGateway)(nil)

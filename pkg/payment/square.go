package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"storagedesk/internal/apperr"

	"go.uber.org/zap"
)

// SquareGateway talks to the Square Connect v2 REST API.
type SquareGateway struct {
	BaseURL     string
	AccessToken string
	LocationID  string
	Version     string
	MaxRetries  int
	log         *zap.Logger
	client      *http.Client
	backoff     time.Duration
}

func NewSquareGateway(baseURL, accessToken, locationID, version string, maxRetries int, log *zap.Logger) *SquareGateway {
	if baseURL == "" {
		baseURL = "https://connect.squareup.com"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &SquareGateway{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		AccessToken: accessToken,
		LocationID:  locationID,
		Version:     version,
		MaxRetries:  maxRetries,
		log:         log.Named("square"),
		client:      &http.Client{Timeout: 30 * time.Second},
		backoff:     250 * time.Millisecond,
	}
}

func (g *SquareGateway) Name() string { return "square" }

type squareMoney struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type squareError struct {
	Category string `json:"category"`
	Code     string `json:"code"`
	Detail   string `json:"detail"`
}

type squareErrors struct {
	Errors []squareError `json:"errors"`
}

func (e squareErrors) message() string {
	parts := make([]string, 0, len(e.Errors))
	for _, se := range e.Errors {
		msg := se.Code
		if se.Detail != "" {
			msg += ": " + se.Detail
		}
		parts = append(parts, msg)
	}
	return strings.Join(parts, "; ")
}

func (g *SquareGateway) Check(ctx context.Context) error {
	if g.AccessToken == "" || g.LocationID == "" {
		return apperr.ConfigError.New("square gateway is not configured")
	}
	var out struct {
		Location struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"location"`
	}
	if err := g.do(ctx, http.MethodGet, "/v2/locations/"+g.LocationID, nil, &out); err != nil {
		return apperr.ConfigError.Wrap(err)
	}
	return nil
}

type squareCustomerReq struct {
	IdempotencyKey string `json:"idempotency_key"`
	GivenName      string `json:"given_name,omitempty"`
	FamilyName     string `json:"family_name,omitempty"`
	EmailAddress   string `json:"email_address,omitempty"`
	PhoneNumber    string `json:"phone_number,omitempty"`
	ReferenceID    string `json:"reference_id,omitempty"`
}

func (g *SquareGateway) CreateCustomer(ctx context.Context, req CustomerRequest) (_ string, err error) {
	defer mon.Task()(&ctx)(&err)
	given, family, _ := strings.Cut(strings.TrimSpace(req.Name), " ")
	var out struct {
		Customer struct {
			ID string `json:"id"`
		} `json:"customer"`
	}
	err = g.do(ctx, http.MethodPost, "/v2/customers", squareCustomerReq{
		IdempotencyKey: req.IdempotencyKey,
		GivenName:      given,
		FamilyName:     family,
		EmailAddress:   req.Email,
		PhoneNumber:    req.Phone,
		ReferenceID:    req.ReferenceID,
	}, &out)
	if err != nil {
		return "", err
	}
	return out.Customer.ID, nil
}

type squareCardReq struct {
	IdempotencyKey string `json:"idempotency_key"`
	SourceID       string `json:"source_id"`
	Card           struct {
		CustomerID     string `json:"customer_id"`
		CardholderName string `json:"cardholder_name,omitempty"`
	} `json:"card"`
}

func (g *SquareGateway) SaveCard(ctx context.Context, req SaveCardRequest) (_ string, err error) {
	defer mon.Task()(&ctx)(&err)
	if req.CustomerID == "" {
		return "", apperr.ValidationError.New("square cards need a customer id")
	}
	body := squareCardReq{IdempotencyKey: req.IdempotencyKey, SourceID: req.SourceID}
	body.Card.CustomerID = req.CustomerID
	body.Card.CardholderName = req.CardholderName
	var out struct {
		Card struct {
			ID string `json:"id"`
		} `json:"card"`
	}
	if err := g.do(ctx, http.MethodPost, "/v2/cards", body, &out); err != nil {
		return "", err
	}
	return out.Card.ID, nil
}

type squarePaymentReq struct {
	IdempotencyKey string      `json:"idempotency_key"`
	SourceID       string      `json:"source_id"`
	AmountMoney    squareMoney `json:"amount_money"`
	CustomerID     string      `json:"customer_id,omitempty"`
	LocationID     string      `json:"location_id"`
	Note           string      `json:"note,omitempty"`
	ReferenceID    string      `json:"reference_id,omitempty"`
	Autocomplete   bool        `json:"autocomplete"`
}

type squarePaymentResp struct {
	Payment struct {
		ID     string `json:"id"`
		Status string `json:"status"` // APPROVED, PENDING, COMPLETED, CANCELED, FAILED
	} `json:"payment"`
}

func (g *SquareGateway) Charge(ctx context.Context, req ChargeRequest) (_ *ChargeResult, err error) {
	defer mon.Task()(&ctx)(&err)
	var out squarePaymentResp
	err = g.do(ctx, http.MethodPost, "/v2/payments", squarePaymentReq{
		IdempotencyKey: req.IdempotencyKey,
		SourceID:       req.SourceID,
		AmountMoney:    squareMoney{Amount: req.AmountCents, Currency: req.Currency},
		CustomerID:     req.CustomerID,
		LocationID:     g.LocationID,
		Note:           truncate(req.Note, 500),
		ReferenceID:    truncate(req.ReferenceID, 40),
		Autocomplete:   true,
	}, &out)
	if err != nil {
		return nil, err
	}
	switch out.Payment.Status {
	case "COMPLETED", "APPROVED", "PENDING":
	default:
		return nil, apperr.GatewayError.New("square payment %s is %s", out.Payment.ID, strings.ToLower(out.Payment.Status))
	}
	return &ChargeResult{TransactionID: out.Payment.ID, Status: out.Payment.Status}, nil
}

type squareRefundReq struct {
	IdempotencyKey string      `json:"idempotency_key"`
	PaymentID      string      `json:"payment_id"`
	AmountMoney    squareMoney `json:"amount_money"`
	Reason         string      `json:"reason,omitempty"`
}

func (g *SquareGateway) Refund(ctx context.Context, req RefundRequest) (_ *RefundResult, err error) {
	defer mon.Task()(&ctx)(&err)
	var out struct {
		Refund struct {
			ID     string `json:"id"`
			Status string `json:"status"` // PENDING, COMPLETED, REJECTED, FAILED
		} `json:"refund"`
	}
	err = g.do(ctx, http.MethodPost, "/v2/refunds", squareRefundReq{
		IdempotencyKey: req.IdempotencyKey,
		PaymentID:      req.PaymentRef,
		AmountMoney:    squareMoney{Amount: req.AmountCents, Currency: req.Currency},
		Reason:         truncate(req.Reason, 192),
	}, &out)
	if err != nil {
		return nil, err
	}
	if out.Refund.Status == "REJECTED" || out.Refund.Status == "FAILED" {
		return nil, apperr.GatewayError.New("square refund %s is %s", out.Refund.ID, strings.ToLower(out.Refund.Status))
	}
	return &RefundResult{RefundID: out.Refund.ID, Status: out.Refund.Status}, nil
}

// do sends one API call, retrying transport failures, 429 and 5xx with the
// same body so the idempotency key is reused.
func (g *SquareGateway) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return apperr.GatewayError.Wrap(err)
		}
	}
	var lastErr error
	for attempt := 0; attempt <= g.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return apperr.GatewayError.New("square %s %s: %v", method, path, ctx.Err())
			case <-time.After(g.backoff * time.Duration(attempt)):
			}
		}
		retry, err := g.once(ctx, method, path, body, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry || ctx.Err() != nil {
			break
		}
		g.log.Warn("retrying square request", zap.String("path", path), zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return lastErr
}

func (g *SquareGateway) once(ctx context.Context, method, path string, body []byte, out interface{}) (retry bool, err error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.BaseURL+path, rdr)
	if err != nil {
		return false, apperr.GatewayError.Wrap(err)
	}
	req.Header.Set("Authorization", "Bearer "+g.AccessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if g.Version != "" {
		req.Header.Set("Square-Version", g.Version)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		// Transport errors can embed the request URL but never the bearer token.
		return true, apperr.GatewayError.New("square %s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return true, apperr.GatewayError.New("square %s %s: read body: %v", method, path, err)
	}
	if resp.StatusCode >= 300 {
		var se squareErrors
		_ = json.Unmarshal(respBody, &se)
		msg := se.message()
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		g.log.Debug("square error", zap.String("path", path), zap.Int("status", resp.StatusCode), zap.String("errors", msg))
		retry = resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return retry, apperr.GatewayError.New("square %d: %s", resp.StatusCode, msg)
	}
	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return false, apperr.GatewayError.New("square %s %s: decode: %v", method, path, err)
		}
	}
	return false, nil
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

var _ Gateway = (*SquareGateway)(nil)

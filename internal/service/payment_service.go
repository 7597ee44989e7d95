package service

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"storagedesk/internal/apperr"
	"storagedesk/internal/domain"
	"storagedesk/internal/events"
	"storagedesk/internal/lock"
	"storagedesk/internal/models"
	"storagedesk/internal/repository"
	"storagedesk/pkg/payment"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// ChargeInput is a one-off charge of a lease's card on file. A zero amount
// charges the oldest open rent invoice, or one month of rent when none is open.
type ChargeInput struct {
	LeaseID     uint   `json:"lease_id"`
	AmountCents int64  `json:"amount_cents"`
	Note        string `json:"note"`
}

type RefundInput struct {
	AmountCents int64  `json:"amount_cents"`
	Reason      string `json:"reason"`
}

type PaymentService struct {
	payments  *repository.PaymentRepository
	leases    *repository.LeaseRepository
	invoices  *repository.InvoiceRepository
	tenants   *repository.TenantRepository
	gateway   payment.Gateway
	publisher events.Publisher
	locker    lock.Locker
	currency  string
	timeout   time.Duration
	log       *zap.Logger
}

func NewPaymentService(
	payments *repository.PaymentRepository,
	leases *repository.LeaseRepository,
	invoices *repository.InvoiceRepository,
	tenants *repository.TenantRepository,
	gateway payment.Gateway,
	publisher events.Publisher,
	locker lock.Locker,
	currency string,
	timeout time.Duration,
	log *zap.Logger,
) *PaymentService {
	if log == nil {
		log = zap.NewNop()
	}
	if publisher == nil {
		publisher = events.Nop{}
	}
	if locker == nil {
		locker = lock.NewLocalLocker()
	}
	if currency == "" {
		currency = "USD"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &PaymentService{
		payments:  payments,
		leases:    leases,
		invoices:  invoices,
		tenants:   tenants,
		gateway:   gateway,
		publisher: publisher,
		locker:    locker,
		currency:  currency,
		timeout:   timeout,
		log:       log.Named("payments"),
	}
}

func (s *PaymentService) List(ctx context.Context, limit int) ([]models.Payment, error) {
	list, err := s.payments.ListRecent(ctx, limit)
	if err != nil {
		return nil, err
	}
	lo.ForEach(list, func(_ models.Payment, i int) {
		list[i].AmountDisplay = Dollars(list[i].AmountCents)
	})
	return list, nil
}

// Charge bills the lease's card once. The attempt is always written to the
// ledger; a declined charge returns the failed entry together with the
// gateway error.
func (s *PaymentService) Charge(ctx context.Context, in ChargeInput) (*models.Payment, error) {
	if s.gateway == nil {
		return nil, apperr.ConfigError.New("payment gateway is not configured")
	}
	if in.AmountCents < 0 {
		return nil, apperr.ValidationError.New("amount_cents must be positive")
	}
	lease, err := s.leases.GetByID(ctx, in.LeaseID)
	if err != nil {
		return nil, err
	}
	gateway := s.gateway.Name()
	switch {
	case !lease.IsActive():
		return nil, apperr.ConflictError.New("lease %d is ended", lease.ID)
	case !lease.HasCard():
		return nil, apperr.ValidationError.New("lease %d has no card on file", lease.ID)
	case lease.CardGateway != "" && lease.CardGateway != gateway:
		return nil, apperr.ConflictError.New("card on file was saved with %s, active gateway is %s", lease.CardGateway, gateway)
	}

	amount := in.AmountCents
	var invoice *models.Invoice
	if amount == 0 {
		open, err := s.invoices.List(ctx, lease.ID, domain.InvoiceOpen)
		if err != nil {
			return nil, err
		}
		if inv, ok := lo.Find(open, func(i models.Invoice) bool { return i.Kind == domain.InvoiceKindRent }); ok {
			invoice = &inv
			amount = inv.AmountCents
		} else {
			amount = lease.RentCents
		}
	}
	if amount <= 0 {
		return nil, apperr.ValidationError.New("nothing to charge")
	}

	note := in.Note
	if note == "" {
		note = fmt.Sprintf("Manual charge lease %d", lease.ID)
	}
	key := uuid.NewString()
	entry := &models.Payment{
		LeaseID:        lease.ID,
		TenantID:       lease.TenantID,
		AmountCents:    amount,
		Currency:       s.currency,
		Provider:       gateway,
		Kind:           domain.PaymentKindManual,
		Note:           note,
		IdempotencyKey: key,
		Metadata:       datatypes.JSONMap{},
	}
	if invoice != nil {
		entry.Metadata["invoice_id"] = invoice.ID
	}

	customerID := ""
	if lease.Tenant != nil {
		customerID = lease.Tenant.CustomerID(gateway)
	}
	// A client disconnect must not turn an in-flight charge into a recorded failure.
	chargeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	res, chargeErr := s.gateway.Charge(chargeCtx, payment.ChargeRequest{
		AmountCents:    amount,
		Currency:       s.currency,
		SourceID:       *lease.CardOnFile,
		CustomerID:     customerID,
		IdempotencyKey: key,
		Note:           note,
		ReferenceID:    "lease-" + strconv.FormatUint(uint64(lease.ID), 10),
	})
	if chargeErr != nil && errors.Is(chargeCtx.Err(), context.DeadlineExceeded) {
		chargeErr = apperr.GatewayError.New("charge timed out after %s", s.timeout)
	}
	cancel()

	recordCtx := context.WithoutCancel(ctx)
	if chargeErr != nil {
		entry.Status = domain.PaymentFailed
		entry.Note = note + ": " + apperr.Message(chargeErr)
		if err := s.payments.Append(recordCtx, entry); err != nil {
			s.log.Error("recording failed charge", zap.Uint("lease_id", lease.ID), zap.Error(err))
			return nil, chargeErr
		}
		s.publish(recordCtx, events.Event{
			Type: events.TypeChargeFailed, LeaseID: lease.ID, PaymentID: entry.ID,
			AmountCents: amount, Provider: gateway, Error: apperr.Message(chargeErr),
		})
		return entry, chargeErr
	}

	txn := res.TransactionID
	entry.Status = domain.PaymentPaid
	entry.ProviderRef = &txn
	if err := s.payments.Append(recordCtx, entry); err != nil {
		s.log.Error("charged but failed to record", zap.Uint("lease_id", lease.ID), zap.String("transaction_id", txn), zap.Error(err))
		return nil, err
	}
	if invoice != nil {
		if _, err := s.invoices.MarkPaid(recordCtx, invoice.ID, txn, entry.CreatedAt); err != nil {
			s.log.Warn("settling invoice", zap.Uint("invoice_id", invoice.ID), zap.Error(err))
		}
	}
	s.log.Info("manual charge", zap.Uint("lease_id", lease.ID), zap.Int64("amount_cents", amount), zap.String("transaction_id", txn))
	s.publish(recordCtx, events.Event{
		Type: events.TypeChargeSucceeded, LeaseID: lease.ID, PaymentID: entry.ID, AmountCents: amount, Provider: gateway,
	})
	return entry, nil
}

// Refund returns money for a paid charge. The original entry is left as is; a
// new refund entry with a negative amount is appended. A zero amount refunds
// whatever has not been refunded yet.
func (s *PaymentService) Refund(ctx context.Context, paymentID uint, in RefundInput) (*models.Payment, error) {
	if s.gateway == nil {
		return nil, apperr.ConfigError.New("payment gateway is not configured")
	}
	if in.AmountCents < 0 {
		return nil, apperr.ValidationError.New("amount_cents must be positive")
	}
	release, ok, err := s.locker.Acquire(ctx, "refund:"+strconv.FormatUint(uint64(paymentID), 10), time.Minute)
	if err != nil {
		return nil, apperr.ConfigError.Wrap(err)
	}
	if !ok {
		return nil, apperr.ConflictError.New("a refund for payment %d is in progress", paymentID)
	}
	defer func() { _ = release(context.WithoutCancel(ctx)) }()

	orig, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	switch {
	case orig.Kind == domain.PaymentKindRefund:
		return nil, apperr.ValidationError.New("payment %d is a refund", orig.ID)
	case orig.Status != domain.PaymentPaid || orig.ProviderRef == nil:
		return nil, apperr.ConflictError.New("payment %d was not collected", orig.ID)
	case orig.Provider != s.gateway.Name():
		return nil, apperr.ConflictError.New("payment %d was taken with %s, active gateway is %s", orig.ID, orig.Provider, s.gateway.Name())
	}
	refunded, err := s.payments.RefundedCents(ctx, orig.ID)
	if err != nil {
		return nil, err
	}
	remaining := orig.AmountCents - refunded
	if remaining <= 0 {
		return nil, apperr.ConflictError.New("payment %d is fully refunded", orig.ID)
	}
	amount := in.AmountCents
	if amount == 0 {
		amount = remaining
	}
	if amount > remaining {
		return nil, apperr.ValidationError.New("refund of %d exceeds the refundable %d", amount, remaining)
	}

	key := uuid.NewString()
	entry := &models.Payment{
		LeaseID:        orig.LeaseID,
		TenantID:       orig.TenantID,
		AmountCents:    -amount,
		Currency:       orig.Currency,
		Provider:       orig.Provider,
		Kind:           domain.PaymentKindRefund,
		Note:           fmt.Sprintf("Refund of payment %d", orig.ID),
		IdempotencyKey: key,
		RefundOf:       &orig.ID,
	}
	if in.Reason != "" {
		entry.Note += ": " + in.Reason
	}
	refundCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	res, refundErr := s.gateway.Refund(refundCtx, payment.RefundRequest{
		PaymentRef:     *orig.ProviderRef,
		AmountCents:    amount,
		Currency:       orig.Currency,
		Reason:         in.Reason,
		IdempotencyKey: key,
	})
	cancel()

	recordCtx := context.WithoutCancel(ctx)
	if refundErr != nil {
		entry.Status = domain.PaymentFailed
		entry.Note += " failed: " + apperr.Message(refundErr)
		if err := s.payments.Append(recordCtx, entry); err != nil {
			s.log.Error("recording failed refund", zap.Uint("payment_id", orig.ID), zap.Error(err))
		}
		return nil, refundErr
	}
	ref := res.RefundID
	entry.Status = domain.PaymentPaid
	entry.ProviderRef = &ref
	if err := s.payments.Append(recordCtx, entry); err != nil {
		s.log.Error("refunded but failed to record", zap.Uint("payment_id", orig.ID), zap.String("refund_id", ref), zap.Error(err))
		return nil, err
	}
	s.publish(recordCtx, events.Event{
		Type: events.TypeRefunded, LeaseID: orig.LeaseID, PaymentID: entry.ID, AmountCents: -amount, Provider: orig.Provider,
	})
	return entry, nil
}

// Dollars renders cents as a fixed two-decimal amount, e.g. -1250 as "-12.50".
func Dollars(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}

var exportHeader = []string{
	"id", "created_at", "lease_id", "tenant_id", "kind", "status", "amount", "currency",
	"provider", "provider_ref", "run_date", "refund_of", "note",
}

// ExportCSV writes the whole ledger in id order.
func (s *PaymentService) ExportCSV(ctx context.Context, w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return err
	}
	err := s.payments.Each(ctx, func(p *models.Payment) error {
		var runDate, refundOf string
		if p.RunDate != nil {
			runDate = p.RunDate.String()
		}
		if p.RefundOf != nil {
			refundOf = strconv.FormatUint(uint64(*p.RefundOf), 10)
		}
		return cw.Write([]string{
			strconv.FormatUint(uint64(p.ID), 10),
			p.CreatedAt.UTC().Format(time.RFC3339),
			strconv.FormatUint(uint64(p.LeaseID), 10),
			strconv.FormatUint(uint64(p.TenantID), 10),
			p.Kind,
			p.Status,
			Dollars(p.AmountCents),
			p.Currency,
			p.Provider,
			lo.FromPtr(p.ProviderRef),
			runDate,
			refundOf,
			p.Note,
		})
	})
	if err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

func (s *PaymentService) publish(ctx context.Context, e events.Event) {
	if err := s.publisher.Publish(ctx, e); err != nil {
		s.log.Warn("publishing event", zap.String("type", e.Type), zap.Error(err))
	}
}

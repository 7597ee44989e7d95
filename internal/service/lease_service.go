package service

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"storagedesk/internal/apperr"
	"storagedesk/internal/billing"
	"storagedesk/internal/domain"
	"storagedesk/internal/models"
	"storagedesk/internal/repository"
	"storagedesk/pkg/cloudinary"
	"storagedesk/pkg/payment"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// LeaseInput is a new rental as submitted by the front desk.
type LeaseInput struct {
	UnitID          uint        `json:"unit_id"`
	TenantID        uint        `json:"tenant_id"`
	StartDate       models.Date `json:"start_date"`
	RentCents       int64       `json:"rent_cents"`
	DepositCents    int64       `json:"deposit_cents"`
	Autopay         bool        `json:"autopay"`
	SquareCardID    *string     `json:"square_card_id"`
	PaymentMethodID *string     `json:"payment_method_id"`
}

type LeaseService struct {
	leases  *repository.LeaseRepository
	units   *repository.UnitRepository
	tenants *repository.TenantRepository
	gateway payment.Gateway
	cloud   cloudinary.Client
	folder  string
	log     *zap.Logger
	now     func() time.Time
}

func NewLeaseService(
	leases *repository.LeaseRepository,
	units *repository.UnitRepository,
	tenants *repository.TenantRepository,
	gateway payment.Gateway,
	cloud cloudinary.Client,
	folder string,
	log *zap.Logger,
) *LeaseService {
	if log == nil {
		log = zap.NewNop()
	}
	return &LeaseService{
		leases:  leases,
		units:   units,
		tenants: tenants,
		gateway: gateway,
		cloud:   cloud,
		folder:  folder,
		log:     log.Named("leases"),
		now:     time.Now,
	}
}

// Preview quotes a lease on unit starting at start, at the unit's rate.
func (s *LeaseService) Preview(ctx context.Context, unitID uint, start models.Date) (billing.Quote, error) {
	if unitID == 0 || start.IsZero() {
		return billing.Quote{}, apperr.ValidationError.New("unit_id and start_date are required")
	}
	unit, err := s.units.GetByID(ctx, unitID)
	if err != nil {
		return billing.Quote{}, err
	}
	return billing.Preview(start.Time, unit.RateCents), nil
}

// Create opens a lease: the unit becomes occupied, the first (prorated) month
// and the deposit are invoiced and the first recurring due date is set to the
// next anchor after the start date.
func (s *LeaseService) Create(ctx context.Context, in LeaseInput) (*models.Lease, []models.Invoice, error) {
	if in.UnitID == 0 || in.TenantID == 0 || in.StartDate.IsZero() {
		return nil, nil, apperr.ValidationError.New("unit_id, tenant_id and start_date are required")
	}
	if in.RentCents < 0 || in.DepositCents < 0 {
		return nil, nil, apperr.ValidationError.New("amounts must not be negative")
	}
	if in.SquareCardID != nil && in.PaymentMethodID != nil {
		return nil, nil, apperr.ValidationError.New("send square_card_id or payment_method_id, not both")
	}

	start := in.StartDate
	next := models.NewDate(billing.NextAnchor(start.Time))
	lease := &models.Lease{
		UnitID:           in.UnitID,
		TenantID:         in.TenantID,
		StartDate:        start,
		RentCents:        in.RentCents,
		DepositCents:     in.DepositCents,
		FirstMonthCents:  billing.Prorate(start.Time, in.RentCents),
		Status:           domain.LeaseActive,
		Autopay:          in.Autopay,
		BillingAnchorDay: billing.AnchorDay,
		NextDueDate:      next,
	}
	switch {
	case lo.FromPtr(in.SquareCardID) != "":
		lease.CardOnFile = in.SquareCardID
		lease.CardGateway = domain.GatewaySquare
	case lo.FromPtr(in.PaymentMethodID) != "":
		lease.CardOnFile = in.PaymentMethodID
		lease.CardGateway = domain.GatewayStripe
	}

	periodEnd := models.NewDate(next.AddDate(0, 0, -1))
	var invoices []models.Invoice
	if lease.FirstMonthCents > 0 {
		invoices = append(invoices, models.Invoice{
			Kind:        domain.InvoiceKindRent,
			AmountCents: lease.FirstMonthCents,
			DueDate:     start,
			PeriodStart: &start,
			PeriodEnd:   &periodEnd,
			Status:      domain.InvoiceOpen,
			Description: fmt.Sprintf("Rent %s to %s", start, periodEnd),
		})
	}
	if in.DepositCents > 0 {
		invoices = append(invoices, models.Invoice{
			Kind:        domain.InvoiceKindDeposit,
			AmountCents: in.DepositCents,
			DueDate:     start,
			Status:      domain.InvoiceOpen,
			Description: "Security deposit",
		})
	}

	if err := s.leases.Open(ctx, lease, invoices); err != nil {
		return nil, nil, err
	}
	lease.Invoices = invoices
	s.log.Info("lease opened",
		zap.Uint("lease_id", lease.ID), zap.Uint("unit_id", lease.UnitID),
		zap.Int64("first_month_cents", lease.FirstMonthCents), zap.Stringer("next_due_date", next))
	return lease, invoices, nil
}

// EnsureCustomer returns the tenant's customer id at the active gateway,
// registering the tenant there first if needed.
func (s *LeaseService) EnsureCustomer(ctx context.Context, tenantID uint) (string, error) {
	if s.gateway == nil {
		return "", apperr.ConfigError.New("payment gateway is not configured")
	}
	tenant, err := s.tenants.GetByID(ctx, tenantID)
	if err != nil {
		return "", err
	}
	if id := tenant.CustomerID(s.gateway.Name()); id != "" {
		return id, nil
	}
	id, err := s.gateway.CreateCustomer(ctx, payment.CustomerRequest{
		Name:           tenant.Name,
		Email:          tenant.Email,
		Phone:          tenant.Phone,
		ReferenceID:    "tenant-" + strconv.FormatUint(uint64(tenant.ID), 10),
		IdempotencyKey: uuid.NewString(),
	})
	if err != nil {
		return "", err
	}
	if err := s.tenants.SetCustomerID(ctx, tenant.ID, s.gateway.Name(), id); err != nil {
		return "", err
	}
	return id, nil
}

// SaveCard stores a card for the lease at the active gateway. sourceID is the
// single-use token produced by the gateway's browser SDK.
func (s *LeaseService) SaveCard(ctx context.Context, leaseID uint, sourceID, cardholder string, autopay bool) (*models.Lease, error) {
	if sourceID == "" {
		return nil, apperr.ValidationError.New("source_id is required")
	}
	lease, err := s.leases.GetByID(ctx, leaseID)
	if err != nil {
		return nil, err
	}
	if !lease.IsActive() {
		return nil, apperr.ConflictError.New("lease %d is ended", leaseID)
	}
	customerID, err := s.EnsureCustomer(ctx, lease.TenantID)
	if err != nil {
		return nil, err
	}
	token, err := s.gateway.SaveCard(ctx, payment.SaveCardRequest{
		CustomerID:     customerID,
		SourceID:       sourceID,
		CardholderName: cardholder,
		IdempotencyKey: uuid.NewString(),
	})
	if err != nil {
		return nil, err
	}
	if err := s.leases.SetCard(ctx, leaseID, s.gateway.Name(), token, autopay); err != nil {
		return nil, err
	}
	return s.leases.GetByID(ctx, leaseID)
}

func (s *LeaseService) End(ctx context.Context, leaseID uint) (*models.Lease, error) {
	lease, err := s.leases.End(ctx, leaseID, s.now())
	if err != nil {
		return nil, err
	}
	s.log.Info("lease ended", zap.Uint("lease_id", leaseID), zap.Uint("unit_id", lease.UnitID))
	return lease, nil
}

// AttachAgreement uploads the signed agreement and stores its URL.
func (s *LeaseService) AttachAgreement(ctx context.Context, leaseID uint, file io.Reader) (*models.Lease, error) {
	if s.cloud == nil {
		return nil, apperr.ConfigError.New("document storage is not configured")
	}
	if _, err := s.leases.GetByID(ctx, leaseID); err != nil {
		return nil, err
	}
	publicID := "lease-" + strconv.FormatUint(uint64(leaseID), 10)
	url, err := s.cloud.UploadDocument(ctx, file, s.folder, publicID)
	if err != nil {
		return nil, err
	}
	if err := s.leases.SetAgreementURL(ctx, leaseID, url); err != nil {
		return nil, err
	}
	return s.leases.GetByID(ctx, leaseID)
}

package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"strings"
	"testing"
	"time"

	"storagedesk/config"
	"storagedesk/internal/apperr"
	"storagedesk/internal/domain"
	"storagedesk/internal/models"
	"storagedesk/internal/repository"
	"storagedesk/internal/testutil"
	"storagedesk/pkg/payment"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type repos struct {
	db       *gorm.DB
	units    *repository.UnitRepository
	tenants  *repository.TenantRepository
	leases   *repository.LeaseRepository
	invoices *repository.InvoiceRepository
	payments *repository.PaymentRepository
	staff    *repository.StaffRepository
}

func newRepos(t *testing.T) repos {
	db := testutil.NewDB(t)
	return repos{
		db:       db,
		units:    repository.NewUnitRepository(db),
		tenants:  repository.NewTenantRepository(db),
		leases:   repository.NewLeaseRepository(db),
		invoices: repository.NewInvoiceRepository(db),
		payments: repository.NewPaymentRepository(db),
		staff:    repository.NewStaffRepository(db),
	}
}

func date(t *testing.T, s string) models.Date {
	d, err := models.ParseDate(s)
	require.NoError(t, err)
	return d
}

type fakeCloud struct {
	folder, publicID string
	body             string
}

func (f *fakeCloud) UploadDocument(_ context.Context, file io.Reader, folder, publicID string) (string, error) {
	b, _ := io.ReadAll(file)
	f.folder, f.publicID, f.body = folder, publicID, string(b)
	return "https://res.cloudinary.com/demo/raw/upload/" + folder + "/" + publicID, nil
}

func TestAuthService(t *testing.T) {
	r := newRepos(t)
	cfg := &config.Config{JWT: config.JWTConfig{
		AccessSecret: "a", RefreshSecret: "r", AccessExpiry: time.Minute, RefreshExpiry: time.Hour,
	}}
	svc := NewAuthService(cfg, r.staff)
	ctx := context.Background()

	st, err := svc.CreateStaff(ctx, " Desk@Example.com ", "Desk", "correct-horse", "owner")
	require.NoError(t, err)
	assert.Equal(t, "desk@example.com", st.Email)
	assert.Equal(t, domain.RoleClerk, st.Role)

	_, err = svc.CreateStaff(ctx, "desk@example.com", "Again", "correct-horse", domain.RoleAdmin)
	assert.True(t, apperr.ConflictError.Has(err))
	_, err = svc.CreateStaff(ctx, "short@example.com", "", "short", domain.RoleAdmin)
	assert.True(t, apperr.ValidationError.Has(err))

	_, _, err = svc.Login(ctx, "desk@example.com", "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidCreds)
	_, _, err = svc.Login(ctx, "nobody@example.com", "correct-horse")
	assert.ErrorIs(t, err, ErrInvalidCreds)

	got, tokens, err := svc.Login(ctx, "DESK@example.com", "correct-horse")
	require.NoError(t, err)
	assert.Equal(t, st.ID, got.ID)
	assert.NotNil(t, got.LastLoginAt)
	require.NotEmpty(t, tokens.AccessToken)

	refreshed, err := svc.Refresh(ctx, tokens.RefreshToken)
	require.NoError(t, err)
	assert.NotEmpty(t, refreshed.AccessToken)

	_, err = svc.Refresh(ctx, tokens.AccessToken)
	assert.True(t, apperr.ValidationError.Has(err))
}

func TestCreateLeaseProratesAndInvoices(t *testing.T) {
	r := newRepos(t)
	unit := testutil.SeedUnit(t, r.db, "A-1", 10000)
	tenant := testutil.SeedTenant(t, r.db, "ada")
	svc := NewLeaseService(r.leases, r.units, r.tenants, payment.StubGateway{}, nil, "", nil)
	ctx := context.Background()

	card := "cnon:card-1"
	lease, invoices, err := svc.Create(ctx, LeaseInput{
		UnitID: unit.ID, TenantID: tenant.ID, StartDate: date(t, "2025-03-15"),
		RentCents: 10000, DepositCents: 5000, Autopay: true, SquareCardID: &card,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5484), lease.FirstMonthCents)
	assert.Equal(t, "2025-04-01", lease.NextDueDate.String())
	assert.Equal(t, 1, lease.BillingAnchorDay)
	assert.Equal(t, domain.GatewaySquare, lease.CardGateway)
	assert.True(t, lease.Autopay)

	require.Len(t, invoices, 2)
	assert.Equal(t, domain.InvoiceKindRent, invoices[0].Kind)
	assert.Equal(t, int64(5484), invoices[0].AmountCents)
	assert.Equal(t, "2025-03-31", invoices[0].PeriodEnd.String())
	assert.Equal(t, domain.InvoiceKindDeposit, invoices[1].Kind)
	assert.Equal(t, lease.ID, invoices[1].LeaseID)

	u, err := r.units.GetByID(ctx, unit.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.UnitOccupied, u.Status)

	_, _, err = svc.Create(ctx, LeaseInput{UnitID: unit.ID, TenantID: tenant.ID, StartDate: date(t, "2025-03-20"), RentCents: 10000})
	assert.True(t, apperr.ConflictError.Has(err))

	_, _, err = svc.Create(ctx, LeaseInput{UnitID: unit.ID, TenantID: tenant.ID, RentCents: 10000})
	assert.True(t, apperr.ValidationError.Has(err))
	_, _, err = svc.Create(ctx, LeaseInput{UnitID: unit.ID, TenantID: tenant.ID, StartDate: date(t, "2025-03-20"), RentCents: -1})
	assert.True(t, apperr.ValidationError.Has(err))
}

func TestCreateLeaseOnFirstHasNoDepositInvoice(t *testing.T) {
	r := newRepos(t)
	unit := testutil.SeedUnit(t, r.db, "B-2", 8000)
	tenant := testutil.SeedTenant(t, r.db, "bo")
	svc := NewLeaseService(r.leases, r.units, r.tenants, payment.StubGateway{}, nil, "", nil)

	lease, invoices, err := svc.Create(context.Background(), LeaseInput{
		UnitID: unit.ID, TenantID: tenant.ID, StartDate: date(t, "2025-12-01"), RentCents: 8000,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(8000), lease.FirstMonthCents)
	assert.Equal(t, "2026-01-01", lease.NextDueDate.String())
	assert.False(t, lease.HasCard())
	require.Len(t, invoices, 1)
}

func TestPreview(t *testing.T) {
	r := newRepos(t)
	unit := testutil.SeedUnit(t, r.db, "C-3", 10000)
	svc := NewLeaseService(r.leases, r.units, r.tenants, payment.StubGateway{}, nil, "", nil)
	ctx := context.Background()

	q, err := svc.Preview(ctx, unit.ID, date(t, "2025-03-15"))
	require.NoError(t, err)
	assert.Equal(t, int64(5484), q.AmountCents)
	assert.Equal(t, int64(10000), q.MonthlyCents)
	assert.Equal(t, 1, q.BillingAnchorDay)

	_, err = svc.Preview(ctx, 9999, date(t, "2025-03-15"))
	assert.True(t, apperr.NotFoundError.Has(err))
	_, err = svc.Preview(ctx, unit.ID, models.Date{})
	assert.True(t, apperr.ValidationError.Has(err))
}

func TestSaveCardAndEnd(t *testing.T) {
	r := newRepos(t)
	seeded := testutil.SeedLease(t, r.db, 9000, date(t, "2025-04-01"), false, "")
	svc := NewLeaseService(r.leases, r.units, r.tenants, payment.StubGateway{}, nil, "", nil)
	ctx := context.Background()

	_, err := svc.SaveCard(ctx, seeded.ID, "", "", true)
	assert.True(t, apperr.ValidationError.Has(err))

	lease, err := svc.SaveCard(ctx, seeded.ID, "cnon:ok", "Ada", true)
	require.NoError(t, err)
	require.True(t, lease.HasCard())
	assert.True(t, strings.HasPrefix(*lease.CardOnFile, "stub_card_"))
	assert.Equal(t, domain.GatewayStub, lease.CardGateway)
	assert.True(t, lease.Autopay)

	ended, err := svc.End(ctx, seeded.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.LeaseEnded, ended.Status)
	assert.False(t, ended.Autopay)

	_, err = svc.SaveCard(ctx, seeded.ID, "cnon:ok", "Ada", true)
	assert.True(t, apperr.ConflictError.Has(err))
	_, err = svc.End(ctx, seeded.ID)
	assert.True(t, apperr.ConflictError.Has(err))
}

func TestAttachAgreement(t *testing.T) {
	r := newRepos(t)
	seeded := testutil.SeedLease(t, r.db, 9000, date(t, "2025-04-01"), false, "")
	ctx := context.Background()

	svc := NewLeaseService(r.leases, r.units, r.tenants, payment.StubGateway{}, nil, "docs", nil)
	_, err := svc.AttachAgreement(ctx, seeded.ID, strings.NewReader("%PDF"))
	assert.True(t, apperr.ConfigError.Has(err))

	cloud := &fakeCloud{}
	svc = NewLeaseService(r.leases, r.units, r.tenants, payment.StubGateway{}, cloud, "docs", nil)
	lease, err := svc.AttachAgreement(ctx, seeded.ID, strings.NewReader("%PDF"))
	require.NoError(t, err)
	assert.Equal(t, "docs", cloud.folder)
	assert.Equal(t, "%PDF", cloud.body)
	assert.Contains(t, lease.AgreementURL, cloud.publicID)

	_, err = svc.AttachAgreement(ctx, 9999, strings.NewReader("%PDF"))
	assert.True(t, apperr.NotFoundError.Has(err))
}

func newPaymentService(r repos) *PaymentService {
	return NewPaymentService(r.payments, r.leases, r.invoices, r.tenants, payment.StubGateway{}, nil, nil, "USD", time.Second, nil)
}

func TestManualChargeSettlesOpenRentInvoice(t *testing.T) {
	r := newRepos(t)
	lease := testutil.SeedLease(t, r.db, 9000, date(t, "2025-04-01"), false, "tok_visa")
	inv := &models.Invoice{LeaseID: lease.ID, Kind: domain.InvoiceKindRent, AmountCents: 4355, DueDate: date(t, "2025-03-18")}
	require.NoError(t, r.invoices.Create(context.Background(), inv))
	svc := newPaymentService(r)
	ctx := context.Background()

	p, err := svc.Charge(ctx, ChargeInput{LeaseID: lease.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(4355), p.AmountCents)
	assert.Equal(t, domain.PaymentPaid, p.Status)
	assert.Equal(t, domain.PaymentKindManual, p.Kind)
	require.NotNil(t, p.ProviderRef)

	got, err := r.invoices.GetByID(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InvoicePaid, got.Status)
	assert.Equal(t, *p.ProviderRef, got.PaymentRef)

	p, err = svc.Charge(ctx, ChargeInput{LeaseID: lease.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(9000), p.AmountCents)

	list, err := svc.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "90.00", list[0].AmountDisplay)
	assert.Equal(t, "43.55", list[1].AmountDisplay)
}

// disconnectingGateway cancels the caller's context while the charge is in
// flight, the way a dropped HTTP client would.
type disconnectingGateway struct {
	payment.StubGateway
	cancel context.CancelFunc
}

func (g disconnectingGateway) Charge(ctx context.Context, req payment.ChargeRequest) (*payment.ChargeResult, error) {
	g.cancel()
	if err := ctx.Err(); err != nil {
		return nil, apperr.GatewayError.Wrap(err)
	}
	return g.StubGateway.Charge(ctx, req)
}

func TestManualChargeSurvivesClientDisconnect(t *testing.T) {
	r := newRepos(t)
	lease := testutil.SeedLease(t, r.db, 9000, date(t, "2025-04-01"), false, "tok_visa")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gw := disconnectingGateway{cancel: cancel}
	svc := NewPaymentService(r.payments, r.leases, r.invoices, r.tenants, gw, nil, nil, "USD", time.Second, nil)

	p, err := svc.Charge(ctx, ChargeInput{LeaseID: lease.ID, AmountCents: 500})
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPaid, p.Status)

	entries, err := r.payments.ListByLease(context.Background(), lease.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.PaymentPaid, entries[0].Status)
}

func TestManualChargeDeclineIsRecorded(t *testing.T) {
	r := newRepos(t)
	lease := testutil.SeedLease(t, r.db, 9000, date(t, "2025-04-01"), false, "decline_card")
	noCard := testutil.SeedLease(t, r.db, 9000, date(t, "2025-04-01"), false, "")
	svc := newPaymentService(r)
	ctx := context.Background()

	p, err := svc.Charge(ctx, ChargeInput{LeaseID: lease.ID, AmountCents: 100})
	require.Error(t, err)
	assert.True(t, apperr.GatewayError.Has(err))
	require.NotNil(t, p)
	assert.Equal(t, domain.PaymentFailed, p.Status)
	assert.Nil(t, p.ProviderRef)

	entries, err := r.payments.ListByLease(ctx, lease.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	_, err = svc.Charge(ctx, ChargeInput{LeaseID: noCard.ID})
	assert.True(t, apperr.ValidationError.Has(err))
	_, err = svc.Charge(ctx, ChargeInput{LeaseID: 9999})
	assert.True(t, apperr.NotFoundError.Has(err))
}

func TestRefund(t *testing.T) {
	r := newRepos(t)
	lease := testutil.SeedLease(t, r.db, 9000, date(t, "2025-04-01"), false, "tok_visa")
	svc := newPaymentService(r)
	ctx := context.Background()

	paid, err := svc.Charge(ctx, ChargeInput{LeaseID: lease.ID, AmountCents: 9000})
	require.NoError(t, err)

	part, err := svc.Refund(ctx, paid.ID, RefundInput{AmountCents: 2500, Reason: "moved out early"})
	require.NoError(t, err)
	assert.Equal(t, int64(-2500), part.AmountCents)
	assert.Equal(t, domain.PaymentKindRefund, part.Kind)
	require.NotNil(t, part.RefundOf)
	assert.Equal(t, paid.ID, *part.RefundOf)
	assert.Contains(t, part.Note, "moved out early")

	_, err = svc.Refund(ctx, paid.ID, RefundInput{AmountCents: 7000})
	assert.True(t, apperr.ValidationError.Has(err))

	rest, err := svc.Refund(ctx, paid.ID, RefundInput{})
	require.NoError(t, err)
	assert.Equal(t, int64(-6500), rest.AmountCents)

	_, err = svc.Refund(ctx, paid.ID, RefundInput{})
	assert.True(t, apperr.ConflictError.Has(err))
	_, err = svc.Refund(ctx, rest.ID, RefundInput{})
	assert.True(t, apperr.ValidationError.Has(err))

	orig, err := r.payments.GetByID(ctx, paid.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(9000), orig.AmountCents)
	assert.Equal(t, domain.PaymentPaid, orig.Status)
}

func TestExportCSV(t *testing.T) {
	r := newRepos(t)
	lease := testutil.SeedLease(t, r.db, 9000, date(t, "2025-04-01"), false, "tok_visa")
	svc := newPaymentService(r)
	ctx := context.Background()

	paid, err := svc.Charge(ctx, ChargeInput{LeaseID: lease.ID, AmountCents: 12345, Note: "late, with comma"})
	require.NoError(t, err)
	_, err = svc.Refund(ctx, paid.ID, RefundInput{AmountCents: 1250})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, svc.ExportCSV(ctx, &buf))
	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, exportHeader, rows[0])
	assert.Equal(t, "123.45", rows[1][6])
	assert.Equal(t, "late, with comma", rows[1][12])
	assert.Equal(t, "-12.50", rows[2][6])
	assert.Equal(t, "refund", rows[2][4])
}

func TestDollars(t *testing.T) {
	assert.Equal(t, "0.00", Dollars(0))
	assert.Equal(t, "0.05", Dollars(5))
	assert.Equal(t, "100.00", Dollars(10000))
	assert.Equal(t, "-12.50", Dollars(-1250))
}

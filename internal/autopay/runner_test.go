package autopay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"storagedesk/internal/apperr"
	"storagedesk/internal/domain"
	"storagedesk/internal/events"
	"storagedesk/internal/lock"
	"storagedesk/internal/models"
	"storagedesk/internal/repository"
	"storagedesk/internal/testutil"
	"storagedesk/pkg/payment"

	"github.com/samber/lo"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

type fakeGateway struct {
	mu       sync.Mutex
	name     string
	checkErr error
	decline  map[string]bool
	delay    time.Duration
	calls    []payment.ChargeRequest
	// afterCharge runs after each call is recorded, with the call count.
	afterCharge func(n int)
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{name: domain.GatewayStub, decline: map[string]bool{}}
}

func (g *fakeGateway) Name() string                    { return g.name }
func (g *fakeGateway) Check(ctx context.Context) error { return g.checkErr }
func (g *fakeGateway) CreateCustomer(context.Context, payment.CustomerRequest) (string, error) {
	return "cus", nil
}
func (g *fakeGateway) SaveCard(context.Context, payment.SaveCardRequest) (string, error) {
	return "card", nil
}
func (g *fakeGateway) Refund(context.Context, payment.RefundRequest) (*payment.RefundResult, error) {
	return &payment.RefundResult{RefundID: "r"}, nil
}

func (g *fakeGateway) Charge(ctx context.Context, req payment.ChargeRequest) (*payment.ChargeResult, error) {
	g.mu.Lock()
	g.calls = append(g.calls, req)
	n := len(g.calls)
	declined := g.decline[req.SourceID]
	delay := g.delay
	after := g.afterCharge
	g.mu.Unlock()
	if after != nil {
		defer after(n)
	}
	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, apperr.GatewayError.Wrap(ctx.Err())
		case <-time.After(delay):
		}
	}
	if declined {
		return nil, apperr.GatewayError.New("CARD_DECLINED: card declined")
	}
	return &payment.ChargeResult{TransactionID: fmt.Sprintf("txn_%d", n), Status: "COMPLETED"}, nil
}

func (g *fakeGateway) chargeCalls() []payment.ChargeRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]payment.ChargeRequest(nil), g.calls...)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

type recordingObserver struct {
	mu    sync.Mutex
	kinds []string
}

func (o *recordingObserver) Notify(kind string, _ interface{}) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.kinds = append(o.kinds, kind)
}

// flakyLedger fails appends for chosen leases.
type flakyLedger struct {
	Ledger
	failFor map[uint]bool
}

func (l *flakyLedger) Append(ctx context.Context, p *models.Payment) error {
	if l.failFor[p.LeaseID] {
		return apperr.StoreError.New("disk full")
	}
	return l.Ledger.Append(ctx, p)
}

// racedStore reports every advance as lost to a concurrent writer.
type racedStore struct {
	LeaseStore
}

func (racedStore) AdvanceDueDate(context.Context, uint, models.Date, models.Date) (bool, error) {
	return false, nil
}

type staticCustomers struct {
	id  string
	err error
}

func (s staticCustomers) CustomerID(context.Context, uint, string) (string, error) {
	return s.id, s.err
}

type RunnerSuite struct {
	suite.Suite
	ctx      context.Context
	db       *gorm.DB
	leases   *repository.LeaseRepository
	payments *repository.PaymentRepository
	gateway  *fakeGateway
	due      models.Date
	next     models.Date
}

func TestRunner(t *testing.T) {
	suite.Run(t, new(RunnerSuite))
}

func (s *RunnerSuite) SetupTest() {
	s.ctx = context.Background()
	s.db = testutil.NewDB(s.T())
	s.leases = repository.NewLeaseRepository(s.db)
	s.payments = repository.NewPaymentRepository(s.db)
	s.gateway = newFakeGateway()
	s.due = s.date("2025-04-01")
	s.next = s.date("2025-05-01")
}

func (s *RunnerSuite) date(v string) models.Date {
	d, err := models.ParseDate(v)
	s.Require().NoError(err)
	return d
}

func (s *RunnerSuite) runner(cfg Config, mutate ...func(*Deps)) *Runner {
	deps := Deps{Leases: s.leases, Ledger: s.payments, Gateway: s.gateway}
	for _, m := range mutate {
		m(&deps)
	}
	return NewRunner(zaptest.NewLogger(s.T()), cfg, deps)
}

func (s *RunnerSuite) lease(card string) *models.Lease {
	return testutil.SeedLease(s.T(), s.db, 10000, s.due, true, card)
}

func (s *RunnerSuite) reload(id uint) *models.Lease {
	l, err := s.leases.GetByID(s.ctx, id)
	s.Require().NoError(err)
	return l
}

func (s *RunnerSuite) ledger() []models.Payment {
	list, err := s.payments.ListRecent(s.ctx, 500)
	s.Require().NoError(err)
	return list
}

func (s *RunnerSuite) TestPartialFailureIsolation() {
	a, b, c := s.lease("card_a"), s.lease("card_b"), s.lease("card_c")
	s.gateway.decline["card_b"] = true

	summary, err := s.runner(Config{}).Run(s.ctx, s.due)
	s.Require().NoError(err)
	s.Equal(3, summary.Count)
	s.Require().Len(summary.Results, 3)
	s.Equal([]uint{a.ID, b.ID, c.ID}, lo.Map(summary.Results, func(r LeaseResult, _ int) uint { return r.LeaseID }))

	s.True(summary.Results[0].OK)
	s.False(summary.Results[1].OK)
	s.True(summary.Results[2].OK)
	s.Contains(summary.Results[1].Error, "CARD_DECLINED")
	s.Empty(summary.Results[1].PaymentID)
	s.Nil(summary.Results[1].NextDueDate)
	s.Equal("2025-05-01", summary.Results[0].NextDueDate.String())
	s.NotEmpty(summary.Results[0].PaymentID)
	s.Equal(1, summary.Failed())

	s.Equal("2025-05-01", s.reload(a.ID).NextDueDate.String())
	s.Equal("2025-04-01", s.reload(b.ID).NextDueDate.String())
	s.Equal("2025-05-01", s.reload(c.ID).NextDueDate.String())

	entries, err := s.payments.ListByLease(s.ctx, b.ID)
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal(domain.PaymentFailed, entries[0].Status)
	s.Nil(entries[0].ProviderRef)
	s.Contains(entries[0].Note, fmt.Sprintf("lease %d", b.ID))

	all := s.ledger()
	s.Len(all, 3)
	paid := lo.Filter(all, func(p models.Payment, _ int) bool { return p.Status == domain.PaymentPaid })
	s.Len(paid, 2)
	for _, p := range paid {
		s.Require().NotNil(p.ProviderRef)
		s.Equal(int64(10000), p.AmountCents)
		s.Equal(domain.PaymentKindAutopay, p.Kind)
		s.Equal("2025-04-01", p.RunDate.String())
	}
}

func (s *RunnerSuite) TestRerunAfterFullSuccessSelectsNothing() {
	s.lease("card_a")
	s.lease("card_b")
	r := s.runner(Config{})

	first, err := r.Run(s.ctx, s.due)
	s.Require().NoError(err)
	s.Equal(2, first.Count)

	second, err := r.Run(s.ctx, s.due)
	s.Require().NoError(err)
	s.Equal(0, second.Count)
	s.NotNil(second.Results)
	s.Empty(second.Results)
	s.Len(s.ledger(), 2)
	s.Len(s.gateway.chargeCalls(), 2)
}

func (s *RunnerSuite) TestRerunAfterPartialFailureRetriesOnlyFailed() {
	s.lease("card_a")
	b := s.lease("card_b")
	s.gateway.decline["card_b"] = true
	r := s.runner(Config{})

	_, err := r.Run(s.ctx, s.due)
	s.Require().NoError(err)

	delete(s.gateway.decline, "card_b")
	retry, err := r.Run(s.ctx, s.due)
	s.Require().NoError(err)
	s.Require().Equal(1, retry.Count)
	s.Equal(b.ID, retry.Results[0].LeaseID)
	s.True(retry.Results[0].OK)
	s.Equal("2025-05-01", s.reload(b.ID).NextDueDate.String())
	s.Len(s.ledger(), 3)
}

func (s *RunnerSuite) TestExclusions() {
	noAutopay := testutil.SeedLease(s.T(), s.db, 10000, s.due, false, "card_x")
	noCard := testutil.SeedLease(s.T(), s.db, 10000, s.due, true, "")
	otherDay := testutil.SeedLease(s.T(), s.db, 10000, s.next, true, "card_y")

	summary, err := s.runner(Config{}).Run(s.ctx, s.due)
	s.Require().NoError(err)
	s.Equal(0, summary.Count)
	s.Empty(s.ledger())
	s.Empty(s.gateway.chargeCalls())
	for _, id := range []uint{noAutopay.ID, noCard.ID} {
		s.Equal("2025-04-01", s.reload(id).NextDueDate.String())
	}
	s.Equal("2025-05-01", s.reload(otherDay.ID).NextDueDate.String())
}

func (s *RunnerSuite) TestMissingGatewayIsConfigError() {
	s.lease("card_a")
	r := NewRunner(nil, Config{}, Deps{Leases: s.leases, Ledger: s.payments})
	_, err := r.Run(s.ctx, s.due)
	s.True(apperr.ConfigError.Has(err), "%v", err)
	s.Empty(s.ledger())
}

func (s *RunnerSuite) TestUnreachableGatewayAbortsBeforeAnyLease() {
	l := s.lease("card_a")
	s.gateway.checkErr = errors.New("dial tcp: connection refused")

	_, err := s.runner(Config{}).Run(s.ctx, s.due)
	s.True(apperr.ConfigError.Has(err), "%v", err)
	s.Empty(s.gateway.chargeCalls())
	s.Empty(s.ledger())
	s.Equal("2025-04-01", s.reload(l.ID).NextDueDate.String())
}

func (s *RunnerSuite) TestUnreachableStoreIsConfigError() {
	sqlDB, err := s.db.DB()
	s.Require().NoError(err)
	s.Require().NoError(sqlDB.Close())

	_, err = s.runner(Config{}).Run(s.ctx, s.due)
	s.True(apperr.ConfigError.Has(err), "%v", err)
	s.Empty(s.gateway.chargeCalls())
}

func (s *RunnerSuite) TestZeroDateIsValidationError() {
	_, err := s.runner(Config{}).Run(s.ctx, models.Date{})
	s.True(apperr.ValidationError.Has(err))
}

func (s *RunnerSuite) TestChargeTimeoutIsRecordedAsFailure() {
	l := s.lease("card_slow")
	s.gateway.delay = time.Second

	summary, err := s.runner(Config{ChargeTimeout: 20 * time.Millisecond}).Run(s.ctx, s.due)
	s.Require().NoError(err)
	s.Require().Len(summary.Results, 1)
	s.False(summary.Results[0].OK)
	s.Contains(summary.Results[0].Error, "timed out")

	entries := s.ledger()
	s.Require().Len(entries, 1)
	s.Equal(domain.PaymentFailed, entries[0].Status)
	s.Equal("2025-04-01", s.reload(l.ID).NextDueDate.String())
}

func (s *RunnerSuite) TestCallerCancellationDoesNotFailRemainingLeases() {
	a, b, c := s.lease("card_a"), s.lease("card_b"), s.lease("card_c")
	s.gateway.delay = 5 * time.Millisecond
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	s.gateway.afterCharge = func(n int) {
		if n == 1 {
			cancel()
		}
	}

	summary, err := s.runner(Config{ChargeTimeout: time.Second}).Run(ctx, s.due)
	s.Require().NoError(err)
	s.Require().Len(summary.Results, 3)
	for _, r := range summary.Results {
		s.True(r.OK, "lease %d: %s", r.LeaseID, r.Error)
	}
	s.Zero(summary.Failed())

	for _, id := range []uint{a.ID, b.ID, c.ID} {
		s.Equal("2025-05-01", s.reload(id).NextDueDate.String())
	}
	paid := lo.Filter(s.ledger(), func(p models.Payment, _ int) bool { return p.Status == domain.PaymentPaid })
	s.Len(paid, 3)
}

func (s *RunnerSuite) TestIdempotencyKeysAreUniquePerLeasePerRun() {
	s.lease("card_a")
	s.lease("card_b")
	s.gateway.decline["card_b"] = true
	r := s.runner(Config{})

	_, err := r.Run(s.ctx, s.due)
	s.Require().NoError(err)
	_, err = r.Run(s.ctx, s.due)
	s.Require().NoError(err)

	calls := s.gateway.chargeCalls()
	s.Require().Len(calls, 3)
	keys := lo.Map(calls, func(c payment.ChargeRequest, _ int) string { return c.IdempotencyKey })
	s.Len(lo.Uniq(keys), 3)
	for _, c := range calls {
		s.LessOrEqual(len(c.IdempotencyKey), 45)
		s.Contains(c.Note, "2025-04-01")
	}

	var stored []string
	for _, p := range s.ledger() {
		stored = append(stored, p.IdempotencyKey)
	}
	s.ElementsMatch(keys, stored)
}

func (s *RunnerSuite) TestLedgerFailureAfterChargeLeavesDueDate() {
	a, b := s.lease("card_a"), s.lease("card_b")
	r := s.runner(Config{}, func(d *Deps) {
		d.Ledger = &flakyLedger{Ledger: s.payments, failFor: map[uint]bool{a.ID: true}}
	})

	summary, err := r.Run(s.ctx, s.due)
	s.Require().NoError(err)
	s.False(summary.Results[0].OK)
	s.Contains(summary.Results[0].Error, "failed to record")
	s.NotEmpty(summary.Results[0].PaymentID)
	s.True(summary.Results[1].OK)

	s.Equal("2025-04-01", s.reload(a.ID).NextDueDate.String())
	s.Equal("2025-05-01", s.reload(b.ID).NextDueDate.String())
}

func (s *RunnerSuite) TestLostAdvanceIsReported() {
	s.lease("card_a")
	r := s.runner(Config{}, func(d *Deps) { d.Leases = racedStore{LeaseStore: s.leases} })

	summary, err := r.Run(s.ctx, s.due)
	s.Require().NoError(err)
	s.False(summary.Results[0].OK)
	s.Contains(summary.Results[0].Error, "another run")
	s.Len(s.ledger(), 1)
}

func (s *RunnerSuite) TestHeldLockRefusesRun() {
	locker := lock.NewLocalLocker()
	release, ok, err := locker.Acquire(s.ctx, "autopay:2025-04-01", time.Minute)
	s.Require().NoError(err)
	s.Require().True(ok)
	s.lease("card_a")

	r := s.runner(Config{}, func(d *Deps) { d.Locker = locker })
	_, err = r.Run(s.ctx, s.due)
	s.ErrorIs(err, ErrRunInProgress)
	s.Empty(s.gateway.chargeCalls())

	s.Require().NoError(release(s.ctx))
	summary, err := r.Run(s.ctx, s.due)
	s.Require().NoError(err)
	s.Equal(1, summary.Count)
}

func (s *RunnerSuite) TestParallelRunKeepsSelectionOrder() {
	var ids []uint
	for i := 0; i < 6; i++ {
		card := fmt.Sprintf("card_%d", i)
		if i%2 == 1 {
			s.gateway.decline[card] = true
		}
		ids = append(ids, s.lease(card).ID)
	}
	s.gateway.delay = 5 * time.Millisecond

	summary, err := s.runner(Config{Concurrency: 4}).Run(s.ctx, s.due)
	s.Require().NoError(err)
	s.Equal(ids, lo.Map(summary.Results, func(r LeaseResult, _ int) uint { return r.LeaseID }))
	s.Equal(3, summary.Failed())
	s.Len(s.ledger(), 6)
}

func (s *RunnerSuite) TestPublishesEventsAndNotifiesObserver() {
	s.lease("card_a")
	s.lease("card_b")
	s.gateway.decline["card_b"] = true
	pub := &recordingPublisher{}
	obs := &recordingObserver{}

	_, err := s.runner(Config{}, func(d *Deps) { d.Publisher = pub; d.Observer = obs }).Run(s.ctx, s.due)
	s.Require().NoError(err)

	types := lo.Map(pub.events, func(e events.Event, _ int) string { return e.Type })
	s.Equal([]string{events.TypeChargeSucceeded, events.TypeChargeFailed, events.TypeRunCompleted}, types)
	s.Equal(1, pub.events[2].Failed)
	s.Equal([]string{"lease", "lease", "run"}, obs.kinds)
}

func (s *RunnerSuite) TestCardFromAnotherGatewayIsNotCharged() {
	l := s.lease("ccof:abc")
	s.Require().NoError(s.db.Model(l).Update("card_gateway", domain.GatewaySquare).Error)

	summary, err := s.runner(Config{}).Run(s.ctx, s.due)
	s.Require().NoError(err)
	s.False(summary.Results[0].OK)
	s.Contains(summary.Results[0].Error, "square")
	s.Empty(s.gateway.chargeCalls())
	s.Len(s.ledger(), 1)
}

func (s *RunnerSuite) TestCustomerIDIsBestEffort() {
	s.lease("card_a")
	r := s.runner(Config{}, func(d *Deps) { d.Customers = staticCustomers{id: "cus_9"} })
	_, err := r.Run(s.ctx, s.due)
	s.Require().NoError(err)
	s.Equal("cus_9", s.gateway.chargeCalls()[0].CustomerID)

	s.lease("card_b")
	s.Require().NoError(s.db.Model(&models.Lease{}).Where("next_due_date = ?", s.next).Update("next_due_date", s.due).Error)
	r = s.runner(Config{}, func(d *Deps) { d.Customers = staticCustomers{err: errors.New("lookup failed")} })
	summary, err := r.Run(s.ctx, s.due)
	s.Require().NoError(err)
	s.Equal(2, summary.Count)
	s.Zero(summary.Failed())
}

func (s *RunnerSuite) TestSchedulerCatchesUpWhenStartedLate() {
	late := s.lease("card_a")
	sched := NewScheduler(s.runner(Config{}), 9, zaptest.NewLogger(s.T()))
	sched.now = func() time.Time { return time.Date(2025, 4, 1, 14, 30, 0, 0, time.UTC) }

	ctx, cancel := context.WithCancel(s.ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		sched.Start(ctx)
	}()
	s.Eventually(func() bool {
		l, err := s.leases.GetByID(s.ctx, late.ID)
		return err == nil && l.NextDueDate.String() == "2025-05-01"
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done
	s.Len(s.ledger(), 1)
}

func (s *RunnerSuite) TestSchedulerWaitsWhenStartedEarly() {
	early := s.lease("card_a")
	sched := NewScheduler(s.runner(Config{}), 9, zaptest.NewLogger(s.T()))
	sched.now = func() time.Time { return time.Date(2025, 4, 1, 6, 0, 0, 0, time.UTC) }

	ctx, cancel := context.WithTimeout(s.ctx, 50*time.Millisecond)
	defer cancel()
	sched.Start(ctx)
	s.Equal("2025-04-01", s.reload(early.ID).NextDueDate.String())
	s.Empty(s.gateway.chargeCalls())
}

func TestNextRun(t *testing.T) {
	at := func(s string) time.Time {
		v, err := time.Parse(time.RFC3339, s)
		if err != nil {
			t.Fatal(err)
		}
		return v
	}
	cases := []struct{ now, want string }{
		{"2025-04-01T08:59:59Z", "2025-04-01T09:00:00Z"},
		{"2025-04-01T09:00:00Z", "2025-04-02T09:00:00Z"},
		{"2025-04-30T23:00:00Z", "2025-05-01T09:00:00Z"},
		{"2025-12-31T10:00:00Z", "2026-01-01T09:00:00Z"},
	}
	for _, c := range cases {
		if got := NextRun(at(c.now), 9); !got.Equal(at(c.want)) {
			t.Errorf("NextRun(%s) = %s, want %s", c.now, got, c.want)
		}
	}
}

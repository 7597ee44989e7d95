// Package autopay charges saved cards for every lease due on a date.
//
// A run selects active autopay leases whose next due date equals the run date
// and that have a card on file, then for each lease, independently: charges
// the card under a fresh idempotency key, appends a ledger entry for the
// outcome and, on success only, moves the due date to the next anchor. A
// failure in one lease never affects another; the run returns one result per
// selected lease in selection order. Only a missing or unreachable collaborator
// fails the run as a whole, and it does so before any lease is touched.
package autopay

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"storagedesk/internal/apperr"
	"storagedesk/internal/billing"
	"storagedesk/internal/domain"
	"storagedesk/internal/events"
	"storagedesk/internal/lock"
	"storagedesk/internal/models"
	"storagedesk/pkg/payment"

	"github.com/google/uuid"
	"github.com/spacemonkeygo/monkit/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
)

var mon = monkit.Package()

// ErrRunInProgress is returned when another run holds the lock for the date.
var ErrRunInProgress = apperr.ConflictError.New("an autopay run for this date is already in progress")

// LeaseStore is the part of the lease repository a run needs.
type LeaseStore interface {
	Check(ctx context.Context) error
	ListDue(ctx context.Context, date models.Date) ([]models.Lease, error)
	AdvanceDueDate(ctx context.Context, id uint, from, to models.Date) (bool, error)
}

// Ledger appends payment ledger entries.
type Ledger interface {
	Append(ctx context.Context, p *models.Payment) error
}

// CustomerResolver finds the gateway customer id of a tenant, "" if none.
type CustomerResolver interface {
	CustomerID(ctx context.Context, tenantID uint, gateway string) (string, error)
}

type Publisher interface {
	Publish(ctx context.Context, e events.Event) error
}

// Observer receives progress notifications ("lease" per result, "run" per summary).
type Observer interface {
	Notify(kind string, payload interface{})
}

type Config struct {
	Currency      string
	Concurrency   int
	ChargeTimeout time.Duration
	LockTTL       time.Duration
}

// Deps are the collaborators of a Runner. Leases, Ledger and Gateway are
// required; the rest default to no-ops and an in-process lock.
type Deps struct {
	Leases    LeaseStore
	Ledger    Ledger
	Gateway   payment.Gateway
	Customers CustomerResolver
	Publisher Publisher
	Observer  Observer
	Locker    lock.Locker
}

type Runner struct {
	log       *zap.Logger
	cfg       Config
	leases    LeaseStore
	ledger    Ledger
	gateway   payment.Gateway
	customers CustomerResolver
	publisher Publisher
	observer  Observer
	locker    lock.Locker
	newKey    func() string
}

func NewRunner(log *zap.Logger, cfg Config, deps Deps) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.ChargeTimeout <= 0 {
		cfg.ChargeTimeout = 30 * time.Second
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Minute
	}
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	r := &Runner{
		log:       log.Named("autopay"),
		cfg:       cfg,
		leases:    deps.Leases,
		ledger:    deps.Ledger,
		gateway:   deps.Gateway,
		customers: deps.Customers,
		publisher: deps.Publisher,
		observer:  deps.Observer,
		locker:    deps.Locker,
		newKey:    uuid.NewString,
	}
	if r.publisher == nil {
		r.publisher = events.Nop{}
	}
	if r.observer == nil {
		r.observer = nopObserver{}
	}
	if r.locker == nil {
		r.locker = lock.NewLocalLocker()
	}
	return r
}

// LeaseResult is the outcome for one selected lease.
type LeaseResult struct {
	LeaseID uint `json:"lease_id"`
	OK      bool `json:"ok"`
	// PaymentID is the gateway transaction id of a successful charge.
	PaymentID     string       `json:"payment_id,omitempty"`
	LedgerEntryID uint         `json:"ledger_entry_id,omitempty"`
	NextDueDate   *models.Date `json:"next_due_date,omitempty"`
	Error         string       `json:"error,omitempty"`
}

type Summary struct {
	Date    models.Date   `json:"date"`
	Count   int           `json:"count"`
	Results []LeaseResult `json:"results"`
}

// Failed counts the results that are not ok.
func (s *Summary) Failed() int {
	n := 0
	for _, r := range s.Results {
		if !r.OK {
			n++
		}
	}
	return n
}

// Run charges every lease due on asOf. The returned error is non-nil only
// when the run could not start; per-lease failures are in the summary.
func (r *Runner) Run(ctx context.Context, asOf models.Date) (_ *Summary, err error) {
	defer mon.Task()(&ctx)(&err)
	if asOf.IsZero() {
		return nil, apperr.ValidationError.New("run date is required")
	}
	if err := r.preflight(ctx); err != nil {
		return nil, err
	}

	release, ok, err := r.locker.Acquire(ctx, "autopay:"+asOf.String(), r.cfg.LockTTL)
	if err != nil {
		return nil, asConfigError(err)
	}
	if !ok {
		return nil, ErrRunInProgress
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			r.log.Warn("releasing run lock", zap.Stringer("date", asOf), zap.Error(err))
		}
	}()

	leases, err := r.leases.ListDue(ctx, asOf)
	if err != nil {
		return nil, err
	}
	r.log.Info("autopay run started", zap.Stringer("date", asOf), zap.Int("due", len(leases)), zap.String("gateway", r.gateway.Name()))

	// Once charging starts the batch finishes even if the caller goes away;
	// each gateway call is still bounded by ChargeTimeout.
	ctx = context.WithoutCancel(ctx)

	results := make([]LeaseResult, len(leases))
	var group errgroup.Group
	group.SetLimit(r.cfg.Concurrency)
	for i := range leases {
		i := i
		group.Go(func() error {
			results[i] = r.processLease(ctx, asOf, &leases[i])
			r.observer.Notify("lease", results[i])
			return nil
		})
	}
	_ = group.Wait()

	summary := &Summary{Date: asOf, Count: len(results), Results: results}
	failed := summary.Failed()
	r.log.Info("autopay run finished", zap.Stringer("date", asOf), zap.Int("count", summary.Count), zap.Int("failed", failed))
	r.publish(ctx, events.Event{Type: events.TypeRunCompleted, RunDate: asOf.String(), Count: summary.Count, Failed: failed})
	r.observer.Notify("run", summary)
	return summary, nil
}

func (r *Runner) preflight(ctx context.Context) error {
	if r.leases == nil || r.ledger == nil {
		return apperr.ConfigError.New("lease store is not configured")
	}
	if r.gateway == nil {
		return apperr.ConfigError.New("payment gateway is not configured")
	}
	checkCtx, cancel := context.WithTimeout(ctx, r.cfg.ChargeTimeout)
	defer cancel()
	if err := r.leases.Check(checkCtx); err != nil {
		return asConfigError(err)
	}
	if err := r.gateway.Check(checkCtx); err != nil {
		return asConfigError(err)
	}
	return nil
}

// processLease runs charge, ledger write and due-date advance for one lease,
// in that order. It never returns an error; failures land in the result.
func (r *Runner) processLease(ctx context.Context, asOf models.Date, lease *models.Lease) (res LeaseResult) {
	defer mon.Task()(&ctx)(nil)
	res.LeaseID = lease.ID
	log := r.log.With(zap.Uint("lease_id", lease.ID), zap.Stringer("date", asOf))
	gateway := r.gateway.Name()

	key := r.newKey()
	note := fmt.Sprintf("Autopay lease %d for %s", lease.ID, asOf)
	entry := &models.Payment{
		LeaseID:        lease.ID,
		TenantID:       lease.TenantID,
		AmountCents:    lease.RentCents,
		Currency:       r.cfg.Currency,
		Provider:       gateway,
		Kind:           domain.PaymentKindAutopay,
		IdempotencyKey: key,
		RunDate:        &asOf,
		Metadata:       datatypes.JSONMap{"due_date": asOf.String()},
	}

	var charge *payment.ChargeResult
	var chargeErr error
	switch {
	case !lease.HasCard():
		chargeErr = apperr.ValidationError.New("no card on file")
	case lease.CardGateway != "" && lease.CardGateway != gateway:
		chargeErr = apperr.GatewayError.New("card on file was saved with %s, active gateway is %s", lease.CardGateway, gateway)
	default:
		charge, chargeErr = r.charge(ctx, lease, key, note, asOf)
	}

	// Once the gateway has answered the outcome must be recorded even if the
	// caller has gone away.
	recordCtx := context.WithoutCancel(ctx)

	if chargeErr != nil {
		mon.Counter("autopay_failed").Inc(1)
		reason := apperr.Message(chargeErr)
		entry.Status = domain.PaymentFailed
		entry.Note = note + ": " + reason
		res.Error = reason
		if err := r.ledger.Append(recordCtx, entry); err != nil {
			log.Error("recording failed charge", zap.Error(err))
			res.Error = reason + "; failed to record: " + apperr.Message(err)
		} else {
			res.LedgerEntryID = entry.ID
		}
		log.Warn("autopay charge failed", zap.String("reason", reason))
		r.publish(recordCtx, events.Event{
			Type: events.TypeChargeFailed, LeaseID: lease.ID, PaymentID: entry.ID, AmountCents: lease.RentCents,
			Provider: gateway, RunDate: asOf.String(), Error: reason,
		})
		return res
	}

	mon.Counter("autopay_charged").Inc(1)
	res.PaymentID = charge.TransactionID
	txn := charge.TransactionID
	entry.Status = domain.PaymentPaid
	entry.ProviderRef = &txn
	entry.Note = note
	if err := r.ledger.Append(recordCtx, entry); err != nil {
		// The card was charged but there is no ledger row. Leave the due date
		// alone so the lease shows up for reconciliation.
		log.Error("charged but failed to record", zap.String("transaction_id", txn), zap.Error(err))
		res.Error = fmt.Sprintf("charged %s but failed to record: %s", txn, apperr.Message(err))
		return res
	}
	res.LedgerEntryID = entry.ID

	next := models.NewDate(billing.NextAnchor(lease.NextDueDate.Time))
	advanced, err := r.leases.AdvanceDueDate(recordCtx, lease.ID, lease.NextDueDate, next)
	switch {
	case err != nil:
		log.Error("advancing due date", zap.Error(err))
		res.Error = fmt.Sprintf("charged %s but failed to advance due date: %s", txn, apperr.Message(err))
		return res
	case !advanced:
		log.Warn("due date changed during run", zap.String("transaction_id", txn))
		res.Error = fmt.Sprintf("charged %s but due date was changed by another run", txn)
		return res
	}

	res.OK = true
	res.NextDueDate = &next
	log.Info("autopay charged", zap.String("transaction_id", txn), zap.Stringer("next_due_date", next))
	r.publish(recordCtx, events.Event{
		Type: events.TypeChargeSucceeded, LeaseID: lease.ID, PaymentID: entry.ID, AmountCents: lease.RentCents,
		Provider: gateway, RunDate: asOf.String(), NextDueDate: next.String(),
	})
	return res
}

func (r *Runner) charge(ctx context.Context, lease *models.Lease, key, note string, asOf models.Date) (*payment.ChargeResult, error) {
	customerID := r.resolveCustomer(ctx, lease)
	chargeCtx, cancel := context.WithTimeout(ctx, r.cfg.ChargeTimeout)
	defer cancel()
	res, err := r.gateway.Charge(chargeCtx, payment.ChargeRequest{
		AmountCents:    lease.RentCents,
		Currency:       r.cfg.Currency,
		SourceID:       *lease.CardOnFile,
		CustomerID:     customerID,
		IdempotencyKey: key,
		Note:           note,
		ReferenceID:    "lease-" + strconv.FormatUint(uint64(lease.ID), 10),
		Metadata: map[string]string{
			"lease_id": strconv.FormatUint(uint64(lease.ID), 10),
			"due_date": asOf.String(),
		},
	})
	if err != nil {
		if errors.Is(chargeCtx.Err(), context.DeadlineExceeded) {
			return nil, apperr.GatewayError.New("charge timed out after %s", r.cfg.ChargeTimeout)
		}
		return nil, err
	}
	if res == nil || res.TransactionID == "" {
		return nil, apperr.GatewayError.New("gateway returned no transaction id")
	}
	return res, nil
}

func (r *Runner) resolveCustomer(ctx context.Context, lease *models.Lease) string {
	if r.customers == nil {
		return ""
	}
	id, err := r.customers.CustomerID(ctx, lease.TenantID, r.gateway.Name())
	if err != nil {
		r.log.Debug("customer lookup failed", zap.Uint("lease_id", lease.ID), zap.Error(err))
		return ""
	}
	return id
}

func (r *Runner) publish(ctx context.Context, e events.Event) {
	if err := r.publisher.Publish(ctx, e); err != nil {
		r.log.Warn("publishing event", zap.String("type", e.Type), zap.Error(err))
	}
}

func asConfigError(err error) error {
	if apperr.ConfigError.Has(err) {
		return err
	}
	return apperr.ConfigError.Wrap(err)
}

type nopObserver struct{}

func (nopObserver) Notify(string, interface{}) {}

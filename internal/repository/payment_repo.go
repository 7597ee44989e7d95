package repository

import (
	"context"

	"storagedesk/internal/apperr"
	"storagedesk/internal/domain"
	"storagedesk/internal/models"

	"gorm.io/gorm"
)

// PaymentRepository is the append-only payment ledger.
type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// ClampLimit applies the list bounds: default when n <= 0, at most MaxPaymentLimit.
func ClampLimit(n int) int {
	switch {
	case n <= 0:
		return domain.DefaultPaymentLimit
	case n > domain.MaxPaymentLimit:
		return domain.MaxPaymentLimit
	default:
		return n
	}
}

// Append inserts a new ledger entry. Entries are never updated.
func (r *PaymentRepository) Append(ctx context.Context, p *models.Payment) error {
	if p.Currency == "" {
		p.Currency = "USD"
	}
	return apperr.StoreError.Wrap(r.db.WithContext(ctx).Create(p).Error)
}

func (r *PaymentRepository) GetByID(ctx context.Context, id uint) (*models.Payment, error) {
	var p models.Payment
	if err := r.db.WithContext(ctx).First(&p, id).Error; err != nil {
		return nil, classify(err, "payment", id)
	}
	return &p, nil
}

// ListRecent returns the newest entries first.
func (r *PaymentRepository) ListRecent(ctx context.Context, limit int) ([]models.Payment, error) {
	var list []models.Payment
	err := r.db.WithContext(ctx).Order("created_at DESC, id DESC").Limit(ClampLimit(limit)).Find(&list).Error
	if err != nil {
		return nil, apperr.StoreError.Wrap(err)
	}
	return list, nil
}

func (r *PaymentRepository) ListByLease(ctx context.Context, leaseID uint) ([]models.Payment, error) {
	var list []models.Payment
	err := r.db.WithContext(ctx).Where("lease_id = ?", leaseID).Order("id ASC").Find(&list).Error
	if err != nil {
		return nil, apperr.StoreError.Wrap(err)
	}
	return list, nil
}

// Each streams every entry in id order, in batches, for exports.
func (r *PaymentRepository) Each(ctx context.Context, fn func(*models.Payment) error) error {
	var batch []models.Payment
	res := r.db.WithContext(ctx).Order("id ASC").FindInBatches(&batch, 200, func(tx *gorm.DB, _ int) error {
		for i := range batch {
			if err := fn(&batch[i]); err != nil {
				return err
			}
		}
		return nil
	})
	return apperr.StoreError.Wrap(res.Error)
}

// RefundedCents sums the successful refunds recorded against an entry, as a
// positive number.
func (r *PaymentRepository) RefundedCents(ctx context.Context, paymentID uint) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).Model(&models.Payment{}).
		Where("refund_of = ? AND status = ?", paymentID, domain.PaymentPaid).
		Select("COALESCE(SUM(amount_cents), 0)").Scan(&total).Error
	if err != nil {
		return 0, apperr.StoreError.Wrap(err)
	}
	return -total, nil
}

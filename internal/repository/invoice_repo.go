package repository

import (
	"context"
	"errors"
	"time"

	"storagedesk/internal/apperr"
	"storagedesk/internal/domain"
	"storagedesk/internal/models"

	"gorm.io/gorm"
)

type InvoiceRepository struct {
	db *gorm.DB
}

func NewInvoiceRepository(db *gorm.DB) *InvoiceRepository {
	return &InvoiceRepository{db: db}
}

func (r *InvoiceRepository) List(ctx context.Context, leaseID uint, status string) ([]models.Invoice, error) {
	var list []models.Invoice
	q := r.db.WithContext(ctx).Order("due_date ASC, id ASC")
	if leaseID != 0 {
		q = q.Where("lease_id = ?", leaseID)
	}
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if err := q.Find(&list).Error; err != nil {
		return nil, apperr.StoreError.Wrap(err)
	}
	return list, nil
}

func (r *InvoiceRepository) GetByID(ctx context.Context, id uint) (*models.Invoice, error) {
	var inv models.Invoice
	if err := r.db.WithContext(ctx).First(&inv, id).Error; err != nil {
		return nil, classify(err, "invoice", id)
	}
	return &inv, nil
}

func (r *InvoiceRepository) Create(ctx context.Context, inv *models.Invoice) error {
	if inv.Status == "" {
		inv.Status = domain.InvoiceOpen
	}
	return apperr.StoreError.Wrap(r.db.WithContext(ctx).Create(inv).Error)
}

// MarkPaid settles an open invoice.
func (r *InvoiceRepository) MarkPaid(ctx context.Context, id uint, ref string, at time.Time) (*models.Invoice, error) {
	return r.transition(ctx, id, map[string]interface{}{
		"status":      domain.InvoicePaid,
		"payment_ref": ref,
		"paid_at":     at,
	})
}

// Void cancels an open invoice.
func (r *InvoiceRepository) Void(ctx context.Context, id uint) (*models.Invoice, error) {
	return r.transition(ctx, id, map[string]interface{}{"status": domain.InvoiceVoid})
}

func (r *InvoiceRepository) transition(ctx context.Context, id uint, cols map[string]interface{}) (*models.Invoice, error) {
	res := r.db.WithContext(ctx).Model(&models.Invoice{}).
		Where("id = ? AND status = ?", id, domain.InvoiceOpen).
		Updates(cols)
	if res.Error != nil {
		return nil, apperr.StoreError.Wrap(res.Error)
	}
	inv, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 0 {
		return nil, apperr.ConflictError.New("invoice %d is %s", id, inv.Status)
	}
	return inv, nil
}

// SettleOpenRent marks the oldest open rent invoice of a lease as paid.
// It is a no-op when there is none.
func (r *InvoiceRepository) SettleOpenRent(ctx context.Context, leaseID uint, ref string, at time.Time) error {
	var inv models.Invoice
	err := r.db.WithContext(ctx).
		Where("lease_id = ? AND kind = ? AND status = ?", leaseID, domain.InvoiceKindRent, domain.InvoiceOpen).
		Order("due_date ASC, id ASC").First(&inv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return apperr.StoreError.Wrap(err)
	}
	_, err = r.MarkPaid(ctx, inv.ID, ref, at)
	return err
}

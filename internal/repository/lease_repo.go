package repository

import (
	"context"
	"time"

	"storagedesk/internal/apperr"
	"storagedesk/internal/domain"
	"storagedesk/internal/models"

	"gorm.io/gorm"
)

type LeaseRepository struct {
	db *gorm.DB
}

func NewLeaseRepository(db *gorm.DB) *LeaseRepository {
	return &LeaseRepository{db: db}
}

// Check reports whether the store is reachable.
func (r *LeaseRepository) Check(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return apperr.ConfigError.Wrap(err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return apperr.ConfigError.New("lease store unreachable: %w", err)
	}
	return nil
}

func (r *LeaseRepository) List(ctx context.Context, status string) ([]models.Lease, error) {
	var list []models.Lease
	q := r.db.WithContext(ctx).Order("id DESC")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if err := q.Find(&list).Error; err != nil {
		return nil, apperr.StoreError.Wrap(err)
	}
	return list, nil
}

func (r *LeaseRepository) GetByID(ctx context.Context, id uint) (*models.Lease, error) {
	var l models.Lease
	if err := r.db.WithContext(ctx).Preload("Unit").Preload("Tenant").First(&l, id).Error; err != nil {
		return nil, classify(err, "lease", id)
	}
	return &l, nil
}

// Open creates the lease, marks its unit occupied and inserts the opening
// invoices in one transaction. A unit that is not vacant is a conflict.
func (r *LeaseRepository) Open(ctx context.Context, l *models.Lease, invoices []models.Invoice) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Unit{}).
			Where("id = ? AND status = ?", l.UnitID, domain.UnitVacant).
			Update("status", domain.UnitOccupied)
		if res.Error != nil {
			return apperr.StoreError.Wrap(res.Error)
		}
		if res.RowsAffected == 0 {
			var n int64
			if err := tx.Model(&models.Unit{}).Where("id = ?", l.UnitID).Count(&n).Error; err != nil {
				return apperr.StoreError.Wrap(err)
			}
			if n == 0 {
				return apperr.NotFoundError.New("unit %d", l.UnitID)
			}
			return apperr.ConflictError.New("unit %d is already occupied", l.UnitID)
		}
		var n int64
		if err := tx.Model(&models.Tenant{}).Where("id = ?", l.TenantID).Count(&n).Error; err != nil {
			return apperr.StoreError.Wrap(err)
		}
		if n == 0 {
			return apperr.NotFoundError.New("tenant %d", l.TenantID)
		}
		if err := tx.Create(l).Error; err != nil {
			return apperr.StoreError.Wrap(err)
		}
		for i := range invoices {
			invoices[i].LeaseID = l.ID
		}
		if len(invoices) > 0 {
			if err := tx.Create(&invoices).Error; err != nil {
				return apperr.StoreError.Wrap(err)
			}
		}
		return nil
	})
}

// SetCard stores a payment token and the gateway that issued it.
func (r *LeaseRepository) SetCard(ctx context.Context, id uint, gateway, token string, autopay bool) error {
	res := r.db.WithContext(ctx).Model(&models.Lease{}).Where("id = ?", id).Updates(map[string]interface{}{
		"card_on_file": token,
		"card_gateway": gateway,
		"autopay":      autopay,
	})
	if res.Error != nil {
		return apperr.StoreError.Wrap(res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFoundError.New("lease %d", id)
	}
	return nil
}

func (r *LeaseRepository) SetAgreementURL(ctx context.Context, id uint, url string) error {
	err := r.db.WithContext(ctx).Model(&models.Lease{}).Where("id = ?", id).Update("agreement_url", url).Error
	return apperr.StoreError.Wrap(err)
}

// End closes an active lease, turns autopay off and frees the unit.
func (r *LeaseRepository) End(ctx context.Context, id uint, at time.Time) (*models.Lease, error) {
	var l models.Lease
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&l, id).Error; err != nil {
			return classify(err, "lease", id)
		}
		if !l.IsActive() {
			return apperr.ConflictError.New("lease %d is already ended", id)
		}
		l.Status = domain.LeaseEnded
		l.Autopay = false
		l.EndedAt = &at
		if err := tx.Model(&l).Select("status", "autopay", "ended_at").Updates(&l).Error; err != nil {
			return apperr.StoreError.Wrap(err)
		}
		err := tx.Model(&models.Unit{}).Where("id = ?", l.UnitID).Update("status", domain.UnitVacant).Error
		return apperr.StoreError.Wrap(err)
	})
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// ListDue returns active autopay leases due on date that have a saved token,
// ordered by id.
func (r *LeaseRepository) ListDue(ctx context.Context, date models.Date) ([]models.Lease, error) {
	var list []models.Lease
	err := r.db.WithContext(ctx).
		Where("autopay = ? AND status = ? AND next_due_date = ?", true, domain.LeaseActive, date).
		Where("card_on_file IS NOT NULL AND card_on_file <> ''").
		Order("id ASC").
		Find(&list).Error
	if err != nil {
		return nil, apperr.StoreError.Wrap(err)
	}
	return list, nil
}

// AdvanceDueDate moves next_due_date from from to to, but only if the row
// still holds from. It reports whether the row was updated.
func (r *LeaseRepository) AdvanceDueDate(ctx context.Context, id uint, from, to models.Date) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Lease{}).
		Where("id = ? AND next_due_date = ?", id, from).
		Update("next_due_date", to)
	if res.Error != nil {
		return false, apperr.StoreError.Wrap(res.Error)
	}
	return res.RowsAffected == 1, nil
}

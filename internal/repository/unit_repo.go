package repository

import (
	"context"

	"storagedesk/internal/apperr"
	"storagedesk/internal/domain"
	"storagedesk/internal/models"

	"gorm.io/gorm"
)

type UnitRepository struct {
	db *gorm.DB
}

func NewUnitRepository(db *gorm.DB) *UnitRepository {
	return &UnitRepository{db: db}
}

func (r *UnitRepository) List(ctx context.Context, status string) ([]models.Unit, error) {
	var list []models.Unit
	q := r.db.WithContext(ctx).Order("number ASC")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if err := q.Find(&list).Error; err != nil {
		return nil, apperr.StoreError.Wrap(err)
	}
	return list, nil
}

func (r *UnitRepository) GetByID(ctx context.Context, id uint) (*models.Unit, error) {
	var u models.Unit
	if err := r.db.WithContext(ctx).First(&u, id).Error; err != nil {
		return nil, classify(err, "unit", id)
	}
	return &u, nil
}

func (r *UnitRepository) Create(ctx context.Context, u *models.Unit) error {
	if u.Status == "" {
		u.Status = domain.UnitVacant
	}
	var n int64
	if err := r.db.WithContext(ctx).Model(&models.Unit{}).Where("number = ?", u.Number).Count(&n).Error; err != nil {
		return apperr.StoreError.Wrap(err)
	}
	if n > 0 {
		return apperr.ConflictError.New("unit number %q already exists", u.Number)
	}
	return apperr.StoreError.Wrap(r.db.WithContext(ctx).Create(u).Error)
}

// Update writes the editable columns. Status is owned by the lease lifecycle.
func (r *UnitRepository) Update(ctx context.Context, u *models.Unit) error {
	err := r.db.WithContext(ctx).Model(u).Select("number", "size", "rate_cents", "type", "property_id", "notes").Updates(u).Error
	return apperr.StoreError.Wrap(err)
}

// Delete removes a vacant unit.
func (r *UnitRepository) Delete(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Where("status = ?", domain.UnitVacant).Delete(&models.Unit{}, id)
	if res.Error != nil {
		return apperr.StoreError.Wrap(res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return apperr.ConflictError.New("unit %d is occupied", id)
	}
	return nil
}

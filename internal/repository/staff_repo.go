package repository

import (
	"context"
	"time"

	"storagedesk/internal/apperr"
	"storagedesk/internal/models"

	"gorm.io/gorm"
)

type StaffRepository struct {
	db *gorm.DB
}

func NewStaffRepository(db *gorm.DB) *StaffRepository {
	return &StaffRepository{db: db}
}

func (r *StaffRepository) Create(ctx context.Context, s *models.Staff) error {
	return apperr.StoreError.Wrap(r.db.WithContext(ctx).Create(s).Error)
}

// GetByEmail returns gorm.ErrRecordNotFound unwrapped so callers can treat a
// missing account like a bad password.
func (r *StaffRepository) GetByEmail(ctx context.Context, email string) (*models.Staff, error) {
	var s models.Staff
	if err := r.db.WithContext(ctx).Where("email = ?", email).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *StaffRepository) GetByID(ctx context.Context, id uint) (*models.Staff, error) {
	var s models.Staff
	if err := r.db.WithContext(ctx).First(&s, id).Error; err != nil {
		return nil, classify(err, "staff", id)
	}
	return &s, nil
}

func (r *StaffRepository) TouchLogin(ctx context.Context, id uint, at time.Time) error {
	err := r.db.WithContext(ctx).Model(&models.Staff{}).Where("id = ?", id).Update("last_login_at", at).Error
	return apperr.StoreError.Wrap(err)
}

package repository

import (
	"context"

	"storagedesk/internal/apperr"
	"storagedesk/internal/domain"
	"storagedesk/internal/models"

	"gorm.io/gorm"
)

type TenantRepository struct {
	db *gorm.DB
}

func NewTenantRepository(db *gorm.DB) *TenantRepository {
	return &TenantRepository{db: db}
}

func (r *TenantRepository) List(ctx context.Context, search string) ([]models.Tenant, error) {
	var list []models.Tenant
	q := r.db.WithContext(ctx).Order("name ASC")
	if search != "" {
		like := "%" + search + "%"
		q = q.Where("name LIKE ? OR email LIKE ?", like, like)
	}
	if err := q.Find(&list).Error; err != nil {
		return nil, apperr.StoreError.Wrap(err)
	}
	return list, nil
}

func (r *TenantRepository) GetByID(ctx context.Context, id uint) (*models.Tenant, error) {
	var t models.Tenant
	if err := r.db.WithContext(ctx).First(&t, id).Error; err != nil {
		return nil, classify(err, "tenant", id)
	}
	return &t, nil
}

func (r *TenantRepository) Create(ctx context.Context, t *models.Tenant) error {
	return apperr.StoreError.Wrap(r.db.WithContext(ctx).Create(t).Error)
}

func (r *TenantRepository) Update(ctx context.Context, t *models.Tenant) error {
	err := r.db.WithContext(ctx).Model(t).Select("name", "email", "phone", "notes").Updates(t).Error
	return apperr.StoreError.Wrap(err)
}

// SetCustomerID stores the customer id a gateway issued for the tenant.
func (r *TenantRepository) SetCustomerID(ctx context.Context, id uint, gateway, customerID string) error {
	var col string
	switch gateway {
	case domain.GatewaySquare:
		col = "square_customer_id"
	case domain.GatewayStripe:
		col = "stripe_customer_id"
	default:
		return nil
	}
	err := r.db.WithContext(ctx).Model(&models.Tenant{}).Where("id = ?", id).Update(col, customerID).Error
	return apperr.StoreError.Wrap(err)
}

// CustomerID implements autopay.CustomerResolver.
func (r *TenantRepository) CustomerID(ctx context.Context, tenantID uint, gateway string) (string, error) {
	t, err := r.GetByID(ctx, tenantID)
	if err != nil {
		return "", err
	}
	return t.CustomerID(gateway), nil
}

package models

import (
	"time"

	"storagedesk/internal/domain"
)

type Tenant struct {
	ID    uint   `gorm:"primaryKey" json:"id"`
	Name  string `gorm:"size:255;not null" json:"name"`
	Email string `gorm:"size:255;index" json:"email"`
	Phone string `gorm:"size:32" json:"phone"`
	Notes string `gorm:"type:text" json:"notes"`
	// Gateway customer ids; nil until the tenant has been registered at that processor.
	SquareCustomerID *string   `gorm:"size:64" json:"square_customer_id,omitempty"`
	StripeCustomerID *string   `gorm:"size:64" json:"stripe_customer_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func (Tenant) TableName() string {
	return "tenants"
}

// CustomerID returns the tenant's customer id at the named gateway, or "".
func (t *Tenant) CustomerID(gateway string) string {
	var id *string
	switch gateway {
	case domain.GatewaySquare:
		id = t.SquareCustomerID
	case domain.GatewayStripe:
		id = t.StripeCustomerID
	}
	if id == nil {
		return ""
	}
	return *id
}

// SetCustomerID records the customer id issued by the named gateway.
func (t *Tenant) SetCustomerID(gateway, id string) {
	switch gateway {
	case domain.GatewaySquare:
		t.SquareCustomerID = &id
	case domain.GatewayStripe:
		t.StripeCustomerID = &id
	}
}

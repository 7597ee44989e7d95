package models

import (
	"encoding/json"
	"time"

	"storagedesk/internal/domain"
)

// Lease binds a tenant to a unit. Leases are never deleted; ending one flips
// Status to ended and turns autopay off.
type Lease struct {
	ID              uint   `gorm:"primaryKey" json:"id"`
	UnitID          uint   `gorm:"not null;index" json:"unit_id"`
	TenantID        uint   `gorm:"not null;index" json:"tenant_id"`
	StartDate       Date   `gorm:"type:date;not null" json:"start_date"`
	RentCents       int64  `gorm:"not null" json:"rent_cents"`
	DepositCents    int64  `gorm:"not null;default:0" json:"deposit_cents"`
	FirstMonthCents int64  `gorm:"not null;default:0" json:"first_month_cents"`
	Status          string `gorm:"size:16;not null;default:'active';index" json:"status"`
	Autopay         bool   `gorm:"not null;default:false" json:"autopay"`
	// Saved payment token at CardGateway (Square card id or Stripe payment method id).
	// Never serialised; responses carry has_card instead.
	CardOnFile       *string    `gorm:"column:card_on_file;size:128" json:"-"`
	CardGateway      string     `gorm:"size:16" json:"card_gateway,omitempty"`
	BillingAnchorDay int        `gorm:"not null;default:1" json:"billing_anchor_day"`
	NextDueDate      Date       `gorm:"type:date;index" json:"next_due_date"`
	AgreementURL     string     `gorm:"size:512" json:"agreement_url,omitempty"`
	EndedAt          *time.Time `json:"ended_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`

	Unit   *Unit   `gorm:"foreignKey:UnitID" json:"unit,omitempty"`
	Tenant *Tenant `gorm:"foreignKey:TenantID" json:"tenant,omitempty"`
	// Opening invoices; populated only in the create response.
	Invoices []Invoice `gorm:"-" json:"invoices,omitempty"`
}

func (Lease) TableName() string {
	return "leases"
}

func (l *Lease) IsActive() bool { return l.Status == domain.LeaseActive }

// HasCard reports whether a non-empty payment token is on file.
func (l *Lease) HasCard() bool { return l.CardOnFile != nil && *l.CardOnFile != "" }

// MarshalJSON adds has_card so clients can tell whether autopay can charge
// without seeing the token.
func (l Lease) MarshalJSON() ([]byte, error) {
	type plain Lease
	return json.Marshal(struct {
		plain
		HasCard bool `json:"has_card"`
	}{plain(l), l.HasCard()})
}

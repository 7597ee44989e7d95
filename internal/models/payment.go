package models

import (
	"time"

	"gorm.io/datatypes"
)

// Payment is one ledger entry: a single charge or refund attempt. Rows are
// append-only; a refund is a new row with a negative amount.
type Payment struct {
	ID             uint              `gorm:"primaryKey" json:"id"`
	LeaseID        uint              `gorm:"not null;index" json:"lease_id"`
	TenantID       uint              `gorm:"index" json:"tenant_id"`
	AmountCents    int64             `gorm:"not null" json:"amount_cents"`
	Currency       string            `gorm:"size:3;default:'USD'" json:"currency"`
	Provider       string            `gorm:"size:16;not null" json:"provider"`
	ProviderRef    *string           `gorm:"size:128;index" json:"provider_ref,omitempty"` // gateway transaction id, success only
	Status         string            `gorm:"size:16;not null;index" json:"status"`         // paid | failed
	Kind           string            `gorm:"size:16;not null;default:'autopay'" json:"kind"`
	Note           string            `gorm:"type:text" json:"note"`
	IdempotencyKey string            `gorm:"size:128;index" json:"-"`
	RunDate        *Date             `gorm:"type:date;index" json:"run_date,omitempty"`
	RefundOf       *uint             `gorm:"index" json:"refund_of,omitempty"`
	Metadata       datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt      time.Time         `gorm:"index" json:"created_at"`

	AmountDisplay string `gorm:"-" json:"amount_display,omitempty"`
}

func (Payment) TableName() string {
	return "payments"
}

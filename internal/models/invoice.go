package models

import "time"

type Invoice struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	LeaseID     uint       `gorm:"not null;index" json:"lease_id"`
	Kind        string     `gorm:"size:16;not null" json:"kind"` // rent, deposit, fee
	AmountCents int64      `gorm:"not null" json:"amount_cents"`
	DueDate     Date       `gorm:"type:date" json:"due_date"`
	PeriodStart *Date      `gorm:"type:date" json:"period_start,omitempty"`
	PeriodEnd   *Date      `gorm:"type:date" json:"period_end,omitempty"`
	Status      string     `gorm:"size:16;not null;default:'open';index" json:"status"`
	PaymentRef  string     `gorm:"size:128" json:"payment_ref,omitempty"`
	Description string     `gorm:"size:255" json:"description"`
	PaidAt      *time.Time `json:"paid_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (Invoice) TableName() string {
	return "invoices"
}

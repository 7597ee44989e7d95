package models

import (
	"time"

	"storagedesk/internal/domain"
)

// Unit is a rentable storage space.
type Unit struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Number     string    `gorm:"size:32;uniqueIndex;not null" json:"number"`
	Size       string    `gorm:"size:32" json:"size"` // e.g. 10x10
	RateCents  int64     `gorm:"not null" json:"rate_cents"`
	Type       string    `gorm:"size:32" json:"type"` // standard, climate, drive-up, parking
	Status     string    `gorm:"size:16;not null;default:'vacant';index" json:"status"`
	PropertyID *uint     `gorm:"index" json:"property_id,omitempty"`
	Notes      *string   `gorm:"type:text" json:"notes,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (Unit) TableName() string {
	return "units"
}

func (u *Unit) IsVacant() bool { return u.Status == domain.UnitVacant }

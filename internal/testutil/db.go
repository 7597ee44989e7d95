// Package testutil provides an in-memory store for package tests.
package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"

	"storagedesk/config"
	"storagedesk/internal/database"
	"storagedesk/internal/domain"
	"storagedesk/internal/models"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var dbSeq int64

// NewDB opens a migrated, private sqlite database that lives for the test.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()
	n := atomic.AddInt64(&dbSeq, 1)
	db, err := database.NewDB(&config.DatabaseConfig{
		Driver: "sqlite",
		DSN:    fmt.Sprintf("file:storagedesk_test_%d?mode=memory&cache=shared", n),
	})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// SeedUnit inserts a vacant unit.
func SeedUnit(t testing.TB, db *gorm.DB, number string, rateCents int64) *models.Unit {
	t.Helper()
	u := &models.Unit{Number: number, Size: "10x10", RateCents: rateCents, Type: "standard", Status: domain.UnitVacant}
	require.NoError(t, db.Create(u).Error)
	return u
}

// SeedTenant inserts a tenant.
func SeedTenant(t testing.TB, db *gorm.DB, name string) *models.Tenant {
	t.Helper()
	tn := &models.Tenant{Name: name, Email: name + "@example.com"}
	require.NoError(t, db.Create(tn).Error)
	return tn
}

// SeedLease inserts an active lease on a fresh unit and tenant. card may be
// empty for a lease without a saved token.
func SeedLease(t testing.TB, db *gorm.DB, rentCents int64, due models.Date, autopay bool, card string) *models.Lease {
	t.Helper()
	n := atomic.AddInt64(&dbSeq, 1)
	unit := SeedUnit(t, db, fmt.Sprintf("U-%d", n), rentCents)
	tenant := SeedTenant(t, db, fmt.Sprintf("tenant%d", n))
	l := &models.Lease{
		UnitID:           unit.ID,
		TenantID:         tenant.ID,
		StartDate:        due,
		RentCents:        rentCents,
		Status:           domain.LeaseActive,
		Autopay:          autopay,
		BillingAnchorDay: 1,
		NextDueDate:      due,
	}
	if card != "" {
		l.CardOnFile = &card
		l.CardGateway = domain.GatewayStub
	}
	require.NoError(t, db.Create(l).Error)
	require.NoError(t, db.Model(unit).Update("status", domain.UnitOccupied).Error)
	return l
}

// Package inventorytest holds sqlite-backed fixtures shared by the inventory
// package tests.
package inventorytest

import (
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/atelier-backend/pkg/db"
	"github.com/angelmondragon/atelier-backend/pkg/db/models"
	"github.com/angelmondragon/atelier-backend/pkg/enums"
	"github.com/angelmondragon/atelier-backend/pkg/logger"
	"github.com/angelmondragon/atelier-backend/pkg/migrate"
)

// NewDB opens an isolated in-memory database with every model table created.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := "file:inventory_" + uuid.NewString() + "?mode=memory&cache=shared&_foreign_keys=on"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := migrate.AutoMigrateModels(conn); err != nil {
		t.Fatalf("migrate sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := conn.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return conn
}

// NewClient wraps conn in the production db client.
func NewClient(conn *gorm.DB) *db.Client {
	return db.NewFromGorm(conn)
}

// Logger returns a logger that discards output.
func Logger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

// Day returns midnight UTC of the given date.
func Day(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// Dec parses a decimal literal or fails the test.
func Dec(t testing.TB, value string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(value)
	if err != nil {
		t.Fatalf("parse decimal %q: %v", value, err)
	}
	return d
}

// BatchFixture describes a fixture batch. Remaining defaults to Grams.
type BatchFixture struct {
	MetalType   enums.MetalType
	Grams       string
	Remaining   string
	TotalPrice  string
	PurchasedAt time.Time
}

// Batch builds an unsaved batch with the unit price derived the same way the registry does.
func Batch(t testing.TB, fixture BatchFixture) models.MetalBatch {
	t.Helper()
	grams := Dec(t, fixture.Grams)
	remaining := grams
	if fixture.Remaining != "" {
		remaining = Dec(t, fixture.Remaining)
	}
	price := Dec(t, fixture.TotalPrice)
	metal := fixture.MetalType
	if metal == "" {
		metal = enums.MetalGold18K
	}
	return models.MetalBatch{
		ID:             uuid.New(),
		MetalType:      metal,
		PurchasedAt:    fixture.PurchasedAt.UTC(),
		TotalGrams:     grams,
		RemainingGrams: remaining,
		TotalPrice:     price,
		UnitPrice:      price.DivRound(grams, 8),
	}
}

// MustCreateBatch persists a fixture batch.
func MustCreateBatch(t testing.TB, conn *gorm.DB, fixture BatchFixture) models.MetalBatch {
	t.Helper()
	batch := Batch(t, fixture)
	if err := conn.Create(&batch).Error; err != nil {
		t.Fatalf("create batch: %v", err)
	}
	return batch
}

// MustReload fetches the current row for id.
func MustReload(t testing.TB, conn *gorm.DB, id uuid.UUID) models.MetalBatch {
	t.Helper()
	var batch models.MetalBatch
	if err := conn.First(&batch, "id = ?", id).Error; err != nil {
		t.Fatalf("reload batch %s: %v", id, err)
	}
	return batch
}

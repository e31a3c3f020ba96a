package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/atelier-backend/pkg/enums"
)

// MetalBatch is one purchased lot of metal. UnitPrice is fixed at creation and
// RemainingGrams only ever decreases.
type MetalBatch struct {
	ID             uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	MetalType      enums.MetalType `gorm:"column:metal_type;type:metal_type_enum;not null;index:idx_metal_batches_type_purchased,priority:1"`
	PurchasedAt    time.Time       `gorm:"column:purchased_at;not null;index:idx_metal_batches_type_purchased,priority:2"`
	TotalGrams     decimal.Decimal `gorm:"column:total_grams;type:numeric(14,4);not null"`
	RemainingGrams decimal.Decimal `gorm:"column:remaining_grams;type:numeric(14,4);not null"`
	TotalPrice     decimal.Decimal `gorm:"column:total_price;type:numeric(14,2);not null"`
	UnitPrice      decimal.Decimal `gorm:"column:unit_price;type:numeric(18,8);not null"`
	Supplier       *string         `gorm:"column:supplier"`
	InvoiceNumber  *string         `gorm:"column:invoice_number"`
	LotNumber      *string         `gorm:"column:lot_number"`
	Notes          *string         `gorm:"column:notes"`
	Version        int             `gorm:"column:version;not null;default:0"`
	CreatedAt      time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (MetalBatch) TableName() string { return "metal_batches" }

func (b *MetalBatch) BeforeCreate(*gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

// IsDepleted reports whether nothing remains in the batch.
func (b MetalBatch) IsDepleted() bool {
	return !b.RemainingGrams.IsPositive()
}

// RemainingValue is the book value of what is left at the frozen unit price.
func (b MetalBatch) RemainingValue() decimal.Decimal {
	return b.RemainingGrams.Mul(b.UnitPrice)
}

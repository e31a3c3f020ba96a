package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/atelier-backend/pkg/enums"
)

// MetalUsage is an append-only ledger row: one per (order, batch) pair touched
// by a single consumption.
type MetalUsage struct {
	ID              uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	ConsumptionID   uuid.UUID           `gorm:"column:consumption_id;type:uuid;not null;index"`
	OrderID         uuid.UUID           `gorm:"column:order_id;type:uuid;not null;index"`
	BatchID         uuid.UUID           `gorm:"column:batch_id;type:uuid;not null;index"`
	LineNo          int                 `gorm:"column:line_no;not null"`
	MetalType       enums.MetalType     `gorm:"column:metal_type;type:metal_type_enum;not null"`
	GramsConsumed   decimal.Decimal     `gorm:"column:grams_consumed;type:numeric(14,4);not null"`
	RealizedCost    decimal.Decimal     `gorm:"column:realized_cost;type:numeric(22,12);not null"`
	UnitPriceAtTime decimal.Decimal     `gorm:"column:unit_price_at_time;type:numeric(18,8);not null"`
	BatchUnitPrice  decimal.Decimal     `gorm:"column:batch_unit_price;type:numeric(18,8);not null"`
	CostingMethod   enums.CostingMethod `gorm:"column:costing_method;type:costing_method_enum;not null"`
	Note            *string             `gorm:"column:note"`
	CreatedAt       time.Time           `gorm:"column:created_at;autoCreateTime"`

	Batch *MetalBatch `gorm:"foreignKey:BatchID;references:ID"`
}

func (MetalUsage) TableName() string { return "metal_usages" }

func (u *MetalUsage) BeforeCreate(*gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

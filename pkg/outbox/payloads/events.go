package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/atelier-backend/pkg/enums"
)

// MetalPurchaseRecordedEvent announces a new batch entering inventory.
type MetalPurchaseRecordedEvent struct {
	BatchID     uuid.UUID       `json:"batch_id"`
	MetalType   enums.MetalType `json:"metal_type"`
	Grams       decimal.Decimal `json:"grams"`
	TotalPrice  decimal.Decimal `json:"total_price"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	PurchasedAt time.Time       `json:"purchased_at"`
}

// MetalConsumedLine is one batch debit inside a consumption.
type MetalConsumedLine struct {
	BatchID        uuid.UUID       `json:"batch_id"`
	Grams          decimal.Decimal `json:"grams"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	Cost           decimal.Decimal `json:"cost"`
	RemainingGrams decimal.Decimal `json:"remaining_grams"`
}

// MetalConsumedEvent is emitted once per committed consumption.
type MetalConsumedEvent struct {
	ConsumptionID uuid.UUID           `json:"consumption_id"`
	OrderID       uuid.UUID           `json:"order_id"`
	MetalType     enums.MetalType     `json:"metal_type"`
	Method        enums.CostingMethod `json:"method"`
	TotalGrams    decimal.Decimal     `json:"total_grams"`
	RealizedCost  decimal.Decimal     `json:"realized_cost"`
	Lines         []MetalConsumedLine `json:"lines"`
}

// Metal reports the metal type carried by the event.
func (e *MetalPurchaseRecordedEvent) Metal() enums.MetalType { return e.MetalType }

func (e *MetalConsumedEvent) Metal() enums.MetalType { return e.MetalType }

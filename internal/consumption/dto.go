package consumption

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/atelier-backend/pkg/db/models"
	"github.com/angelmondragon/atelier-backend/pkg/enums"
)

// UsageDTO is the API view of one ledger row.
type UsageDTO struct {
	ID              uuid.UUID           `json:"id"`
	ConsumptionID   uuid.UUID           `json:"consumption_id"`
	OrderID         uuid.UUID           `json:"order_id"`
	BatchID         uuid.UUID           `json:"batch_id"`
	LineNo          int                 `json:"line_no"`
	MetalType       enums.MetalType     `json:"metal_type"`
	GramsConsumed   decimal.Decimal     `json:"grams_consumed"`
	RealizedCost    decimal.Decimal     `json:"realized_cost"`
	UnitPriceAtTime decimal.Decimal     `json:"unit_price_at_time"`
	BatchUnitPrice  decimal.Decimal     `json:"batch_unit_price"`
	CostingMethod   enums.CostingMethod `json:"costing_method"`
	Note            *string             `json:"note,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
}

// ResultDTO is the API view of a committed consumption.
type ResultDTO struct {
	ConsumptionID       uuid.UUID           `json:"consumption_id"`
	OrderID             uuid.UUID           `json:"order_id"`
	MetalType           enums.MetalType     `json:"metal_type"`
	Method              enums.CostingMethod `json:"method"`
	TotalGrams          decimal.Decimal     `json:"total_grams"`
	RealizedCost        decimal.Decimal     `json:"realized_cost"`
	RealizedCostDisplay decimal.Decimal     `json:"realized_cost_display"`
	Records             []UsageDTO          `json:"records"`
}

func FromUsage(u models.MetalUsage) UsageDTO {
	return UsageDTO{
		ID:              u.ID,
		ConsumptionID:   u.ConsumptionID,
		OrderID:         u.OrderID,
		BatchID:         u.BatchID,
		LineNo:          u.LineNo,
		MetalType:       u.MetalType,
		GramsConsumed:   u.GramsConsumed,
		RealizedCost:    u.RealizedCost,
		UnitPriceAtTime: u.UnitPriceAtTime,
		BatchUnitPrice:  u.BatchUnitPrice,
		CostingMethod:   u.CostingMethod,
		Note:            u.Note,
		CreatedAt:       u.CreatedAt,
	}
}

func FromUsages(rows []models.MetalUsage) []UsageDTO {
	out := make([]UsageDTO, 0, len(rows))
	for _, row := range rows {
		out = append(out, FromUsage(row))
	}
	return out
}

func FromResult(r *Result) ResultDTO {
	return ResultDTO{
		ConsumptionID:       r.ConsumptionID,
		OrderID:             r.OrderID,
		MetalType:           r.MetalType,
		Method:              r.Method,
		TotalGrams:          r.TotalGrams,
		RealizedCost:        r.RealizedCost,
		RealizedCostDisplay: r.RealizedCost.Round(2),
		Records:             FromUsages(r.Records),
	}
}

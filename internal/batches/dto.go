package batches

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/atelier-backend/pkg/db/models"
	"github.com/angelmondragon/atelier-backend/pkg/enums"
)

// Provenance is free-text sourcing metadata kept with a batch.
type Provenance struct {
	Supplier      string
	InvoiceNumber string
	LotNumber     string
	Notes         string
}

// RecordPurchaseInput describes a newly bought lot of metal.
type RecordPurchaseInput struct {
	MetalType   enums.MetalType
	Grams       decimal.Decimal
	TotalPrice  decimal.Decimal
	PurchasedAt *time.Time
	Provenance  Provenance
}

// BatchDTO is the API view of a batch.
type BatchDTO struct {
	ID             uuid.UUID       `json:"id"`
	MetalType      enums.MetalType `json:"metal_type"`
	Fineness       int             `json:"fineness"`
	PurchasedAt    time.Time       `json:"purchased_at"`
	TotalGrams     decimal.Decimal `json:"total_grams"`
	RemainingGrams decimal.Decimal `json:"remaining_grams"`
	TotalPrice     decimal.Decimal `json:"total_price"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	RemainingValue decimal.Decimal `json:"remaining_value"`
	Depleted       bool            `json:"depleted"`
	Supplier       *string         `json:"supplier,omitempty"`
	InvoiceNumber  *string         `json:"invoice_number,omitempty"`
	LotNumber      *string         `json:"lot_number,omitempty"`
	Notes          *string         `json:"notes,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

func FromModel(b models.MetalBatch) BatchDTO {
	return BatchDTO{
		ID:             b.ID,
		MetalType:      b.MetalType,
		Fineness:       b.MetalType.Fineness(),
		PurchasedAt:    b.PurchasedAt,
		TotalGrams:     b.TotalGrams,
		RemainingGrams: b.RemainingGrams,
		TotalPrice:     b.TotalPrice,
		UnitPrice:      b.UnitPrice,
		RemainingValue: b.RemainingValue().Round(2),
		Depleted:       b.IsDepleted(),
		Supplier:       b.Supplier,
		InvoiceNumber:  b.InvoiceNumber,
		LotNumber:      b.LotNumber,
		Notes:          b.Notes,
		CreatedAt:      b.CreatedAt,
	}
}

func FromModels(rows []models.MetalBatch) []BatchDTO {
	out := make([]BatchDTO, 0, len(rows))
	for _, row := range rows {
		out = append(out, FromModel(row))
	}
	return out
}

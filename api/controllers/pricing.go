package controllers

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/atelier-backend/api/responses"
	"github.com/angelmondragon/atelier-backend/api/validators"
	"github.com/angelmondragon/atelier-backend/internal/allocation"
	"github.com/angelmondragon/atelier-backend/internal/costing"
	"github.com/angelmondragon/atelier-backend/internal/pricing"
	"github.com/angelmondragon/atelier-backend/pkg/config"
	"github.com/angelmondragon/atelier-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/atelier-backend/pkg/errors"
	"github.com/angelmondragon/atelier-backend/pkg/logger"
)

type breakdownRequest struct {
	MaterialCost  decimal.Decimal  `json:"material_cost"`
	GemstoneCost  decimal.Decimal  `json:"gemstone_cost"`
	LaborCost     decimal.Decimal  `json:"labor_cost"`
	MarginPercent *decimal.Decimal `json:"margin_percent"`
	TaxPercent    *decimal.Decimal `json:"tax_percent"`
}

type breakdownResponse struct {
	Exact   pricing.Breakdown        `json:"exact"`
	Display pricing.DisplayBreakdown `json:"display"`
}

// PricingBreakdown prices material, stones and labour with margin and tax.
func PricingBreakdown(cfg *config.Config, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload breakdownRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input := pricing.Input{
			MaterialCost:  payload.MaterialCost,
			GemstoneCost:  payload.GemstoneCost,
			LaborCost:     payload.LaborCost,
			MarginPercent: rateOrDefault(payload.MarginPercent, defaultMargin(cfg)),
			TaxPercent:    rateOrDefault(payload.TaxPercent, defaultTax(cfg)),
		}

		breakdown, err := pricing.Compute(input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, breakdownResponse{Exact: breakdown, Display: breakdown.Display()})
	}
}

type quoteRequest struct {
	MetalType       string           `json:"metal_type" validate:"required"`
	Weight          decimal.Decimal  `json:"weight"`
	ScrapPercent    decimal.Decimal  `json:"scrap_percent"`
	Method          string           `json:"method"`
	SpecificBatchID *string          `json:"specific_batch_id" validate:"omitempty,uuid"`
	GemstoneCost    decimal.Decimal  `json:"gemstone_cost"`
	LaborCost       decimal.Decimal  `json:"labor_cost"`
	MarginPercent   *decimal.Decimal `json:"margin_percent"`
	TaxPercent      *decimal.Decimal `json:"tax_percent"`
}

func (r quoteRequest) toInput() (costing.QuoteInput, error) {
	metalType, err := enums.ParseMetalType(r.MetalType)
	if err != nil {
		return costing.QuoteInput{}, pkgerrors.New(pkgerrors.CodeValidation, "invalid metal type").WithDetails(map[string]any{"field": "metal_type"})
	}

	method, err := methodOrDefault(r.Method)
	if err != nil {
		return costing.QuoteInput{}, err
	}

	var specificID *uuid.UUID
	if r.SpecificBatchID != nil && strings.TrimSpace(*r.SpecificBatchID) != "" {
		id, err := uuid.Parse(strings.TrimSpace(*r.SpecificBatchID))
		if err != nil {
			return costing.QuoteInput{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid specific_batch_id")
		}
		specificID = &id
	}

	return costing.QuoteInput{
		MetalType:       metalType,
		NominalGrams:    r.Weight,
		ScrapPercent:    r.ScrapPercent,
		Method:          method,
		SpecificBatchID: specificID,
		GemstoneCost:    r.GemstoneCost,
		LaborCost:       r.LaborCost,
		MarginPercent:   r.MarginPercent,
		TaxPercent:      r.TaxPercent,
	}, nil
}

type quoteResponse struct {
	EffectiveWeight decimal.Decimal          `json:"effective_weight"`
	Plan            *allocation.Plan         `json:"plan"`
	Breakdown       pricing.DisplayBreakdown `json:"breakdown"`
}

// PricingQuote previews the allocation for a piece and prices it.
func PricingQuote(svc costing.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "costing service unavailable"))
			return
		}

		var payload quoteRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input, err := payload.toInput()
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		quote, err := svc.Quote(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, quoteResponse{
			EffectiveWeight: quote.EffectiveGrams,
			Plan:            quote.Plan,
			Breakdown:       quote.Breakdown.Display(),
		})
	}
}

func rateOrDefault(value *decimal.Decimal, fallback decimal.Decimal) decimal.Decimal {
	if value == nil {
		return fallback
	}
	return *value
}

func defaultMargin(cfg *config.Config) decimal.Decimal {
	if cfg == nil {
		return decimal.Zero
	}
	return decimal.NewFromFloat(cfg.Pricing.DefaultMarginPercent)
}

func defaultTax(cfg *config.Config) decimal.Decimal {
	if cfg == nil {
		return decimal.Zero
	}
	return decimal.NewFromFloat(cfg.Pricing.DefaultTaxPercent)
}

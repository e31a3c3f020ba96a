package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/atelier-backend/internal/allocation"
	"github.com/angelmondragon/atelier-backend/internal/costing"
	"github.com/angelmondragon/atelier-backend/internal/pricing"
	"github.com/angelmondragon/atelier-backend/pkg/config"
	"github.com/angelmondragon/atelier-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/atelier-backend/pkg/errors"
)

func pricingConfig() *config.Config {
	return &config.Config{Pricing: config.PricingConfig{DefaultMarginPercent: 40, DefaultTaxPercent: 19}}
}

func TestPricingBreakdownAppliesDefaults(t *testing.T) {
	body := `{"material_cost":"945.00","gemstone_cost":"0","labor_cost":"225.00"}`
	resp := httptest.NewRecorder()
	PricingBreakdown(pricingConfig(), testLogger()).ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/pricing/breakdown", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, resp.Code)
	var payload struct {
		Data struct {
			Exact   pricing.Breakdown        `json:"exact"`
			Display pricing.DisplayBreakdown `json:"display"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &payload))
	require.True(t, payload.Data.Exact.MarginPercent.Equal(decimal.NewFromInt(40)))
	require.True(t, payload.Data.Exact.FinalPrice.Equal(decimal.RequireFromString("1949.22")))
	require.Equal(t, "1949.00", payload.Data.Display.FinalPriceDisplay.StringFixed(2))
}

func TestPricingBreakdownExplicitRates(t *testing.T) {
	body := `{"material_cost":"100","gemstone_cost":"0","labor_cost":"0","margin_percent":"0","tax_percent":"0"}`
	resp := httptest.NewRecorder()
	PricingBreakdown(pricingConfig(), testLogger()).ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/pricing/breakdown", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, resp.Code)
	require.Contains(t, resp.Body.String(), `"final_price":"100"`)
}

func TestPricingBreakdownRejectsNegative(t *testing.T) {
	body := `{"material_cost":"-1","gemstone_cost":"0","labor_cost":"0"}`
	resp := httptest.NewRecorder()
	PricingBreakdown(pricingConfig(), testLogger()).ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/pricing/breakdown", strings.NewReader(body)))

	require.Equal(t, http.StatusBadRequest, resp.Code)
	body2 := decodeError(t, resp)
	require.Equal(t, string(pkgerrors.CodeValidation), body2.Error.Code)
	require.Equal(t, "material_cost", body2.Error.Details["field"])
}

func TestPricingQuote(t *testing.T) {
	svc := fakeCosting{
		quoteFn: func(_ context.Context, input costing.QuoteInput) (*costing.Quote, error) {
			require.Equal(t, enums.MetalGold18K, input.MetalType)
			require.Equal(t, enums.CostingAverage, input.Method)
			require.Nil(t, input.MarginPercent)
			require.NotNil(t, input.TaxPercent)
			require.True(t, input.ScrapPercent.Equal(decimal.NewFromInt(5)))

			breakdown, err := pricing.Compute(pricing.Input{
				MaterialCost:  decimal.RequireFromString("992.25"),
				GemstoneCost:  input.GemstoneCost,
				LaborCost:     input.LaborCost,
				MarginPercent: decimal.NewFromInt(40),
				TaxPercent:    *input.TaxPercent,
			})
			require.NoError(t, err)
			return &costing.Quote{
				EffectiveGrams: decimal.RequireFromString("22.05"),
				Plan:           &allocation.Plan{MetalType: input.MetalType, Method: input.Method, TotalCost: decimal.RequireFromString("992.25")},
				Breakdown:      breakdown,
			}, nil
		},
	}

	body := `{"metal_type":"gold_18k","weight":"21","scrap_percent":"5","method":"average","gemstone_cost":"0","labor_cost":"225","tax_percent":"19"}`
	resp := httptest.NewRecorder()
	PricingQuote(svc, testLogger()).ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/pricing/quote", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, resp.Code)
	var payload struct {
		Data struct {
			EffectiveWeight decimal.Decimal          `json:"effective_weight"`
			Breakdown       pricing.DisplayBreakdown `json:"breakdown"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &payload))
	require.Equal(t, "22.05", payload.Data.EffectiveWeight.String())
	require.True(t, payload.Data.Breakdown.FinalPrice.Equal(payload.Data.Breakdown.FinalPrice.Round(2)))
	require.True(t, payload.Data.Breakdown.MarginPercent.Equal(decimal.NewFromInt(40)))
}

func TestPricingQuotePassesThroughNoInventory(t *testing.T) {
	svc := fakeCosting{
		quoteFn: func(context.Context, costing.QuoteInput) (*costing.Quote, error) {
			return nil, pkgerrors.New(pkgerrors.CodeNoInventory, "no inventory available for metal type")
		},
	}

	body := `{"metal_type":"silver_999","weight":"1"}`
	resp := httptest.NewRecorder()
	PricingQuote(svc, testLogger()).ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/pricing/quote", strings.NewReader(body)))

	require.Equal(t, http.StatusBadRequest, resp.Code)
	require.Equal(t, string(pkgerrors.CodeNoInventory), decodeError(t, resp).Error.Code)
}

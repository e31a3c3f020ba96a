package pricing

import (
	"github.com/shopspring/decimal"

	pkgerrors "github.com/angelmondragon/atelier-backend/pkg/errors"
)

const (
	// CentScale is the display resolution of every monetary stage.
	CentScale int32 = 2
	// WeightScale is the resolution of effective weights (0.0001 g).
	WeightScale int32 = 4
)

var hundred = decimal.NewFromInt(100)

// Input carries the three cost components and the two rates, in percent.
type Input struct {
	MaterialCost  decimal.Decimal
	GemstoneCost  decimal.Decimal
	LaborCost     decimal.Decimal
	MarginPercent decimal.Decimal
	TaxPercent    decimal.Decimal
}

// Breakdown holds every stage at full precision. Persist these values; use
// Display for anything shown to people.
type Breakdown struct {
	MaterialCost       decimal.Decimal `json:"material_cost"`
	GemstoneCost       decimal.Decimal `json:"gemstone_cost"`
	LaborCost          decimal.Decimal `json:"labor_cost"`
	Subtotal           decimal.Decimal `json:"subtotal"`
	MarginPercent      decimal.Decimal `json:"margin_percent"`
	MarginAmount       decimal.Decimal `json:"margin_amount"`
	SubtotalWithMargin decimal.Decimal `json:"subtotal_with_margin"`
	TaxPercent         decimal.Decimal `json:"tax_percent"`
	TaxAmount          decimal.Decimal `json:"tax_amount"`
	FinalPrice         decimal.Decimal `json:"final_price"`
}

// DisplayBreakdown is the cent-rounded view. FinalPriceDisplay additionally
// applies CharmRound.
type DisplayBreakdown struct {
	MaterialCost       decimal.Decimal `json:"material_cost"`
	GemstoneCost       decimal.Decimal `json:"gemstone_cost"`
	LaborCost          decimal.Decimal `json:"labor_cost"`
	Subtotal           decimal.Decimal `json:"subtotal"`
	MarginPercent      decimal.Decimal `json:"margin_percent"`
	MarginAmount       decimal.Decimal `json:"margin_amount"`
	SubtotalWithMargin decimal.Decimal `json:"subtotal_with_margin"`
	TaxPercent         decimal.Decimal `json:"tax_percent"`
	TaxAmount          decimal.Decimal `json:"tax_amount"`
	FinalPrice         decimal.Decimal `json:"final_price"`
	FinalPriceDisplay  decimal.Decimal `json:"final_price_display"`
}

// Compute derives each stage from the previous one.
func Compute(in Input) (Breakdown, error) {
	fields := []struct {
		name  string
		value decimal.Decimal
	}{
		{"material_cost", in.MaterialCost},
		{"gemstone_cost", in.GemstoneCost},
		{"labor_cost", in.LaborCost},
		{"margin_percent", in.MarginPercent},
		{"tax_percent", in.TaxPercent},
	}
	for _, field := range fields {
		if field.value.IsNegative() {
			return Breakdown{}, pkgerrors.New(pkgerrors.CodeValidation, field.name+" must not be negative").
				WithDetails(map[string]string{"field": field.name})
		}
	}

	subtotal := in.MaterialCost.Add(in.GemstoneCost).Add(in.LaborCost)
	margin := subtotal.Mul(in.MarginPercent).Div(hundred)
	withMargin := subtotal.Add(margin)
	tax := withMargin.Mul(in.TaxPercent).Div(hundred)

	return Breakdown{
		MaterialCost:       in.MaterialCost,
		GemstoneCost:       in.GemstoneCost,
		LaborCost:          in.LaborCost,
		Subtotal:           subtotal,
		MarginPercent:      in.MarginPercent,
		MarginAmount:       margin,
		SubtotalWithMargin: withMargin,
		TaxPercent:         in.TaxPercent,
		TaxAmount:          tax,
		FinalPrice:         withMargin.Add(tax),
	}, nil
}

// Display rounds every stage half-up to cents.
func (b Breakdown) Display() DisplayBreakdown {
	final := cents(b.FinalPrice)
	return DisplayBreakdown{
		MaterialCost:       cents(b.MaterialCost),
		GemstoneCost:       cents(b.GemstoneCost),
		LaborCost:          cents(b.LaborCost),
		Subtotal:           cents(b.Subtotal),
		MarginPercent:      b.MarginPercent,
		MarginAmount:       cents(b.MarginAmount),
		SubtotalWithMargin: cents(b.SubtotalWithMargin),
		TaxPercent:         b.TaxPercent,
		TaxAmount:          cents(b.TaxAmount),
		FinalPrice:         final,
		FinalPriceDisplay:  CharmRound(final),
	}
}

// CharmRound maps a price to x.99 when its fractional part is at least .50 and
// to x.00 otherwise: 243.45 -> 243.00, 245.67 -> 245.99, 248.50 -> 248.99.
func CharmRound(value decimal.Decimal) decimal.Decimal {
	whole := value.Floor()
	if value.Sub(whole).GreaterThanOrEqual(decimal.New(5, -1)) {
		return whole.Add(decimal.New(99, -2))
	}
	return whole
}

// EffectiveWeight inflates a nominal weight by the expected scrap loss.
func EffectiveWeight(nominal, scrapPercent decimal.Decimal) (decimal.Decimal, error) {
	if !nominal.IsPositive() {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, "nominal weight must be greater than zero")
	}
	if scrapPercent.IsNegative() {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, "scrap percent must not be negative")
	}
	factor := decimal.NewFromInt(1).Add(scrapPercent.Div(hundred))
	return nominal.Mul(factor).Round(WeightScale), nil
}

func cents(value decimal.Decimal) decimal.Decimal {
	return value.Round(CentScale)
}

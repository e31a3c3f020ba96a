package allocation

import (
	"bytes"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/atelier-backend/internal/batches"
	"github.com/angelmondragon/atelier-backend/pkg/db/models"
	"github.com/angelmondragon/atelier-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/atelier-backend/pkg/errors"
)

// Request asks for a quantity of one metal under a costing method.
type Request struct {
	MetalType       enums.MetalType
	Grams           decimal.Decimal
	Method          enums.CostingMethod
	SpecificBatchID *uuid.UUID
}

// Line is the quantity drawn from one batch and what it costs.
type Line struct {
	BatchID        uuid.UUID       `json:"batch_id"`
	Grams          decimal.Decimal `json:"grams"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	Cost           decimal.Decimal `json:"cost"`
	BatchUnitPrice decimal.Decimal `json:"batch_unit_price"`
	PurchasedAt    time.Time       `json:"purchased_at"`
}

// Plan is a complete, side-effect free allocation. The line grams always sum
// to RequestedGrams.
type Plan struct {
	MetalType       enums.MetalType     `json:"metal_type"`
	RequestedGrams  decimal.Decimal     `json:"requested_grams"`
	Method          enums.CostingMethod `json:"method"`
	Lines           []Line              `json:"lines"`
	TotalCost       decimal.Decimal     `json:"total_cost"`
	UnitPrice       *decimal.Decimal    `json:"unit_price,omitempty"`
	SpecificBatchID *uuid.UUID          `json:"specific_batch_id,omitempty"`
}

// BatchIDs returns the distinct batches the plan draws from.
func (p *Plan) BatchIDs() []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(p.Lines))
	ids := make([]uuid.UUID, 0, len(p.Lines))
	for _, line := range p.Lines {
		if _, ok := seen[line.BatchID]; ok {
			continue
		}
		seen[line.BatchID] = struct{}{}
		ids = append(ids, line.BatchID)
	}
	return ids
}

// TotalGrams sums the line quantities.
func (p *Plan) TotalGrams() decimal.Decimal {
	total := decimal.Zero
	for _, line := range p.Lines {
		total = total.Add(line.Grams)
	}
	return total
}

// ShortfallDetails is attached to NoInventory and InsufficientInventory errors.
type ShortfallDetails struct {
	Scope     string          `json:"scope"`
	MetalType enums.MetalType `json:"metal_type"`
	BatchID   *uuid.UUID      `json:"batch_id,omitempty"`
	Available decimal.Decimal `json:"available"`
	Required  decimal.Decimal `json:"required"`
}

const (
	ScopeMetalType = "metal_type"
	ScopeBatch     = "batch"
)

// BuildPlan allocates from a registry snapshot. The snapshot may hold batches
// of any metal type; ineligible rows are ignored.
func BuildPlan(snapshot []models.MetalBatch, req Request) (*Plan, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}
	if req.Method == enums.CostingSpecific {
		return planSpecific(snapshot, req)
	}

	eligible := eligibleBatches(snapshot, req.MetalType)
	if len(eligible) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeNoInventory, "no inventory available for metal type").
			WithDetails(ShortfallDetails{
				Scope:     ScopeMetalType,
				MetalType: req.MetalType,
				Available: decimal.Zero,
				Required:  req.Grams,
			})
	}

	available := decimal.Zero
	for _, batch := range eligible {
		available = available.Add(batch.RemainingGrams)
	}
	if available.LessThan(req.Grams) {
		return nil, pkgerrors.New(pkgerrors.CodeInsufficientInventory, "insufficient inventory for metal type").
			WithDetails(ShortfallDetails{
				Scope:     ScopeMetalType,
				MetalType: req.MetalType,
				Available: available,
				Required:  req.Grams,
			})
	}

	switch req.Method {
	case enums.CostingFIFO:
		sortOldestFirst(eligible)
		return greedy(eligible, req), nil
	case enums.CostingLIFO:
		sortNewestFirst(eligible)
		return greedy(eligible, req), nil
	default:
		sortOldestFirst(eligible)
		return proportional(eligible, available, req), nil
	}
}

// ValidateRequest rejects malformed requests before any registry access.
func ValidateRequest(req Request) error {
	if !req.MetalType.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid metal type")
	}
	if !req.Method.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid costing method")
	}
	if !req.Grams.IsPositive() {
		return pkgerrors.New(pkgerrors.CodeValidation, "required weight must be greater than zero")
	}
	if !req.Grams.Equal(req.Grams.Round(batches.GramsScale)) {
		return pkgerrors.New(pkgerrors.CodeValidation, "required weight supports at most 4 decimal places")
	}
	if req.Method == enums.CostingSpecific && (req.SpecificBatchID == nil || *req.SpecificBatchID == uuid.Nil) {
		return pkgerrors.New(pkgerrors.CodeValidation, "specific_batch_id is required for the specific method")
	}
	if req.Method != enums.CostingSpecific && req.SpecificBatchID != nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "specific_batch_id is only accepted with the specific method").
			WithDetails(map[string]string{"field": "specific_batch_id"})
	}
	return nil
}

// WeightedAveragePrice is Σ(remaining × unit price) / Σ remaining at 8 places.
// It returns zero for an empty or fully depleted set.
func WeightedAveragePrice(rows []models.MetalBatch) decimal.Decimal {
	weight := decimal.Zero
	value := decimal.Zero
	for _, batch := range rows {
		weight = weight.Add(batch.RemainingGrams)
		value = value.Add(batch.RemainingValue())
	}
	if !weight.IsPositive() {
		return decimal.Zero
	}
	return value.DivRound(weight, batches.UnitPriceScale)
}

func planSpecific(snapshot []models.MetalBatch, req Request) (*Plan, error) {
	id := *req.SpecificBatchID
	var batch *models.MetalBatch
	for i := range snapshot {
		if snapshot[i].ID == id {
			batch = &snapshot[i]
			break
		}
	}
	if batch == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "metal batch not found")
	}
	if batch.MetalType != req.MetalType {
		return nil, pkgerrors.New(pkgerrors.CodeMetalTypeMismatch, "batch holds a different metal type").
			WithDetails(map[string]any{
				"batch_id":   id,
				"requested":  req.MetalType,
				"batch_type": batch.MetalType,
			})
	}
	if batch.RemainingGrams.LessThan(req.Grams) {
		return nil, pkgerrors.New(pkgerrors.CodeInsufficientInventory, "insufficient inventory in batch").
			WithDetails(ShortfallDetails{
				Scope:     ScopeBatch,
				MetalType: req.MetalType,
				BatchID:   &id,
				Available: batch.RemainingGrams,
				Required:  req.Grams,
			})
	}

	line := newLine(*batch, req.Grams, batch.UnitPrice)
	return &Plan{
		MetalType:       req.MetalType,
		RequestedGrams:  req.Grams,
		Method:          req.Method,
		Lines:           []Line{line},
		TotalCost:       line.Cost,
		SpecificBatchID: &id,
	}, nil
}

func greedy(ordered []models.MetalBatch, req Request) *Plan {
	plan := &Plan{
		MetalType:      req.MetalType,
		RequestedGrams: req.Grams,
		Method:         req.Method,
		TotalCost:      decimal.Zero,
	}
	needed := req.Grams
	for _, batch := range ordered {
		if !needed.IsPositive() {
			break
		}
		take := decimal.Min(batch.RemainingGrams, needed)
		line := newLine(batch, take, batch.UnitPrice)
		plan.Lines = append(plan.Lines, line)
		plan.TotalCost = plan.TotalCost.Add(line.Cost)
		needed = needed.Sub(take)
	}
	return plan
}

// proportional prices every line at the weighted average and draws each batch
// down by its share of the eligible weight. Shares are floored to 0.0001 g and
// the residue is taken oldest batch first within remaining capacity.
func proportional(ordered []models.MetalBatch, available decimal.Decimal, req Request) *Plan {
	avg := WeightedAveragePrice(ordered)

	shares := make([]decimal.Decimal, len(ordered))
	allocated := decimal.Zero
	for i, batch := range ordered {
		share, _ := req.Grams.Mul(batch.RemainingGrams).QuoRem(available, batches.GramsScale)
		shares[i] = share
		allocated = allocated.Add(share)
	}
	residue := req.Grams.Sub(allocated)
	for i, batch := range ordered {
		if !residue.IsPositive() {
			break
		}
		extra := decimal.Min(batch.RemainingGrams.Sub(shares[i]), residue)
		if extra.IsPositive() {
			shares[i] = shares[i].Add(extra)
			residue = residue.Sub(extra)
		}
	}

	plan := &Plan{
		MetalType:      req.MetalType,
		RequestedGrams: req.Grams,
		Method:         req.Method,
		TotalCost:      decimal.Zero,
		UnitPrice:      &avg,
	}
	for i, batch := range ordered {
		if !shares[i].IsPositive() {
			continue
		}
		line := newLine(batch, shares[i], avg)
		plan.Lines = append(plan.Lines, line)
		plan.TotalCost = plan.TotalCost.Add(line.Cost)
	}
	return plan
}

func newLine(batch models.MetalBatch, grams, unitPrice decimal.Decimal) Line {
	return Line{
		BatchID:        batch.ID,
		Grams:          grams,
		UnitPrice:      unitPrice,
		Cost:           grams.Mul(unitPrice),
		BatchUnitPrice: batch.UnitPrice,
		PurchasedAt:    batch.PurchasedAt,
	}
}

func eligibleBatches(snapshot []models.MetalBatch, metalType enums.MetalType) []models.MetalBatch {
	out := make([]models.MetalBatch, 0, len(snapshot))
	for _, batch := range snapshot {
		if batch.MetalType == metalType && batch.RemainingGrams.IsPositive() {
			out = append(out, batch)
		}
	}
	return out
}

func sortOldestFirst(rows []models.MetalBatch) {
	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].PurchasedAt.Equal(rows[j].PurchasedAt) {
			return rows[i].PurchasedAt.Before(rows[j].PurchasedAt)
		}
		return bytes.Compare(rows[i].ID[:], rows[j].ID[:]) < 0
	})
}

func sortNewestFirst(rows []models.MetalBatch) {
	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].PurchasedAt.Equal(rows[j].PurchasedAt) {
			return rows[i].PurchasedAt.After(rows[j].PurchasedAt)
		}
		return bytes.Compare(rows[i].ID[:], rows[j].ID[:]) < 0
	})
}

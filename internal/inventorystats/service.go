package inventorystats

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/atelier-backend/internal/allocation"
	"github.com/angelmondragon/atelier-backend/internal/batches"
	"github.com/angelmondragon/atelier-backend/pkg/db/models"
	"github.com/angelmondragon/atelier-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/atelier-backend/pkg/errors"
)

// DefaultLowStockGrams applies when no threshold is configured.
var DefaultLowStockGrams = decimal.NewFromInt(50)

type batchLister interface {
	List(ctx context.Context, filter batches.ListFilter) ([]models.MetalBatch, error)
}

// MetalSummary aggregates one metal type.
type MetalSummary struct {
	MetalType            enums.MetalType `json:"metal_type"`
	RemainingGrams       decimal.Decimal `json:"remaining_grams"`
	RemainingValue       decimal.Decimal `json:"remaining_value"`
	ActiveBatches        int             `json:"active_batches"`
	DepletedBatches      int             `json:"depleted_batches"`
	OldestPurchase       *time.Time      `json:"oldest_purchase,omitempty"`
	NewestPurchase       *time.Time      `json:"newest_purchase,omitempty"`
	WeightedAvgUnitPrice decimal.Decimal `json:"weighted_avg_unit_price"`
}

// LowStockAlert flags a metal type under the threshold.
type LowStockAlert struct {
	MetalType      enums.MetalType `json:"metal_type"`
	RemainingGrams decimal.Decimal `json:"remaining_grams"`
	Threshold      decimal.Decimal `json:"threshold"`
}

type Totals struct {
	RemainingGrams  decimal.Decimal `json:"remaining_grams"`
	RemainingValue  decimal.Decimal `json:"remaining_value"`
	ActiveBatches   int             `json:"active_batches"`
	DepletedBatches int             `json:"depleted_batches"`
}

type Summary struct {
	ByMetal       []MetalSummary  `json:"by_metal"`
	Totals        Totals          `json:"totals"`
	LowStock      []LowStockAlert `json:"low_stock"`
	LowStockGrams decimal.Decimal `json:"low_stock_threshold"`
	GeneratedAt   time.Time       `json:"generated_at"`
}

// Service reports over the registry without taking locks.
type Service interface {
	Summarize(ctx context.Context) (*Summary, error)
}

type ServiceParams struct {
	Repository    batchLister
	LowStockGrams decimal.Decimal
	Clock         func() time.Time
}

type service struct {
	repo      batchLister
	threshold decimal.Decimal
	now       func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repository == nil {
		return nil, fmt.Errorf("batch repository required")
	}
	threshold := params.LowStockGrams
	if !threshold.IsPositive() {
		threshold = DefaultLowStockGrams
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &service{repo: params.Repository, threshold: threshold, now: clock}, nil
}

func (s *service) Summarize(ctx context.Context) (*Summary, error) {
	rows, err := s.repo.List(ctx, batches.ListFilter{IncludeDepleted: true})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list metal batches")
	}
	return Aggregate(rows, s.threshold, s.now().UTC()), nil
}

// Aggregate builds the summary from a full registry listing, depleted batches included.
func Aggregate(rows []models.MetalBatch, threshold decimal.Decimal, generatedAt time.Time) *Summary {
	grouped := make(map[enums.MetalType][]models.MetalBatch)
	for _, row := range rows {
		grouped[row.MetalType] = append(grouped[row.MetalType], row)
	}

	summary := &Summary{
		ByMetal:       make([]MetalSummary, 0, len(grouped)),
		LowStock:      []LowStockAlert{},
		LowStockGrams: threshold,
		GeneratedAt:   generatedAt,
		Totals: Totals{
			RemainingGrams: decimal.Zero,
			RemainingValue: decimal.Zero,
		},
	}
	for _, metal := range enums.MetalTypes() {
		group, ok := grouped[metal]
		if !ok {
			continue
		}
		item := summarizeMetal(metal, group)
		summary.ByMetal = append(summary.ByMetal, item)

		summary.Totals.RemainingGrams = summary.Totals.RemainingGrams.Add(item.RemainingGrams)
		summary.Totals.RemainingValue = summary.Totals.RemainingValue.Add(item.RemainingValue)
		summary.Totals.ActiveBatches += item.ActiveBatches
		summary.Totals.DepletedBatches += item.DepletedBatches

		if item.RemainingGrams.LessThan(threshold) {
			summary.LowStock = append(summary.LowStock, LowStockAlert{
				MetalType:      metal,
				RemainingGrams: item.RemainingGrams,
				Threshold:      threshold,
			})
		}
	}
	sort.SliceStable(summary.LowStock, func(i, j int) bool {
		return summary.LowStock[i].RemainingGrams.LessThan(summary.LowStock[j].RemainingGrams)
	})
	return summary
}

func summarizeMetal(metal enums.MetalType, group []models.MetalBatch) MetalSummary {
	item := MetalSummary{
		MetalType:      metal,
		RemainingGrams: decimal.Zero,
		RemainingValue: decimal.Zero,
	}
	active := make([]models.MetalBatch, 0, len(group))
	for _, batch := range group {
		if batch.IsDepleted() {
			item.DepletedBatches++
			continue
		}
		active = append(active, batch)
		item.ActiveBatches++
		item.RemainingGrams = item.RemainingGrams.Add(batch.RemainingGrams)
		item.RemainingValue = item.RemainingValue.Add(batch.RemainingValue())

		purchased := batch.PurchasedAt
		if item.OldestPurchase == nil || purchased.Before(*item.OldestPurchase) {
			item.OldestPurchase = &purchased
		}
		if item.NewestPurchase == nil || purchased.After(*item.NewestPurchase) {
			item.NewestPurchase = &purchased
		}
	}
	item.WeightedAvgUnitPrice = allocation.WeightedAveragePrice(active)
	return item
}

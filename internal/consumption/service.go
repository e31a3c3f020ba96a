package consumption

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/atelier-backend/internal/allocation"
	"github.com/angelmondragon/atelier-backend/internal/batches"
	"github.com/angelmondragon/atelier-backend/pkg/db"
	"github.com/angelmondragon/atelier-backend/pkg/db/models"
	"github.com/angelmondragon/atelier-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/atelier-backend/pkg/errors"
	"github.com/angelmondragon/atelier-backend/pkg/logger"
	"github.com/angelmondragon/atelier-backend/pkg/metrics"
	"github.com/angelmondragon/atelier-backend/pkg/outbox"
	"github.com/angelmondragon/atelier-backend/pkg/outbox/payloads"
)

const usageLineConstraint = "metal_usages_line_unique"

// ClampEpsilon is the residue below which a post-debit remaining weight is
// written as exactly zero.
var ClampEpsilon = decimal.New(5, -5)

type batchRepository interface {
	WithTx(tx *gorm.DB) *batches.Repository
}

type usageRepository interface {
	WithTx(tx *gorm.DB) *UsageRepository
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.MetalUsage, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Result is what a committed consumption reports back to the caller.
type Result struct {
	ConsumptionID uuid.UUID
	OrderID       uuid.UUID
	MetalType     enums.MetalType
	Method        enums.CostingMethod
	TotalGrams    decimal.Decimal
	RealizedCost  decimal.Decimal
	Records       []models.MetalUsage
}

// Service applies allocation plans to the registry. Every debit and ledger row
// of one call commits together or not at all.
type Service interface {
	Consume(ctx context.Context, plan *allocation.Plan, orderID uuid.UUID, note string) (*Result, error)
	ListUsage(ctx context.Context, orderID uuid.UUID) ([]models.MetalUsage, error)
}

type ServiceParams struct {
	Batches  batchRepository
	Usage    usageRepository
	TxRunner txRunner
	Outbox   outbox.Emitter
	Logger   *logger.Logger
	Metrics  *metrics.InventoryMetrics
}

type service struct {
	batches batchRepository
	usage   usageRepository
	tx      txRunner
	outbox  outbox.Emitter
	logg    *logger.Logger
	metrics *metrics.InventoryMetrics
}

func NewService(params ServiceParams) (Service, error) {
	if params.Batches == nil {
		return nil, fmt.Errorf("batch repository required")
	}
	if params.Usage == nil {
		return nil, fmt.Errorf("usage repository required")
	}
	if params.TxRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	return &service{
		batches: params.Batches,
		usage:   params.Usage,
		tx:      params.TxRunner,
		outbox:  params.Outbox,
		logg:    params.Logger,
		metrics: params.Metrics,
	}, nil
}

func (s *service) Consume(ctx context.Context, plan *allocation.Plan, orderID uuid.UUID, note string) (*Result, error) {
	if err := validatePlan(plan, orderID); err != nil {
		return nil, err
	}

	started := time.Now()
	consumptionID := uuid.New()
	debits := debitsByBatch(plan)
	notePtr := optionalString(note)

	var records []models.MetalUsage
	var lines []payloads.MetalConsumedLine
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		batchRepo := s.batches.WithTx(tx)

		locked, err := batchRepo.ListForUpdate(ctx, plan.BatchIDs())
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock metal batches")
		}
		byID := make(map[uuid.UUID]models.MetalBatch, len(locked))
		for _, batch := range locked {
			byID[batch.ID] = batch
		}

		for id := range debits {
			if _, ok := byID[id]; !ok {
				return conflict(id, "batch no longer exists")
			}
		}
		for _, line := range plan.Lines {
			if !line.UnitPrice.Equal(expectedUnitPrice(plan, byID[line.BatchID])) {
				return conflict(line.BatchID, "planned unit price does not match the batch")
			}
		}

		remainingAfter := make(map[uuid.UUID]decimal.Decimal, len(locked))
		for _, batch := range locked {
			debit, ok := debits[batch.ID]
			if !ok {
				continue
			}
			if batch.MetalType != plan.MetalType {
				return conflict(batch.ID, "batch metal type changed")
			}
			if batch.RemainingGrams.LessThan(debit) {
				return conflict(batch.ID, "batch no longer holds the planned weight")
			}
			next := clamp(batch.RemainingGrams.Sub(debit))
			applied, err := batchRepo.DebitTx(ctx, batch.ID, next, batch.Version)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "debit metal batch")
			}
			if !applied {
				return conflict(batch.ID, "batch was modified concurrently")
			}
			remainingAfter[batch.ID] = next
		}

		records = make([]models.MetalUsage, 0, len(plan.Lines))
		lines = make([]payloads.MetalConsumedLine, 0, len(plan.Lines))
		for i, line := range plan.Lines {
			batch := byID[line.BatchID]
			records = append(records, models.MetalUsage{
				ConsumptionID:   consumptionID,
				OrderID:         orderID,
				BatchID:         line.BatchID,
				LineNo:          i + 1,
				MetalType:       plan.MetalType,
				GramsConsumed:   line.Grams,
				RealizedCost:    line.Grams.Mul(line.UnitPrice),
				UnitPriceAtTime: line.UnitPrice,
				BatchUnitPrice:  batch.UnitPrice,
				CostingMethod:   plan.Method,
				Note:            notePtr,
			})
			lines = append(lines, payloads.MetalConsumedLine{
				BatchID:        line.BatchID,
				Grams:          line.Grams,
				UnitPrice:      line.UnitPrice,
				Cost:           line.Grams.Mul(line.UnitPrice),
				RemainingGrams: remainingAfter[line.BatchID],
			})
		}
		if err := s.usage.WithTx(tx).CreateMany(ctx, records); err != nil {
			if db.IsUniqueViolation(err, usageLineConstraint) {
				return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "usage lines already recorded")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append usage records")
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventMetalConsumed,
			AggregateType: enums.AggregateConsumption,
			AggregateID:   consumptionID,
			RequestID:     logger.RequestIDFromContext(ctx),
			Data: payloads.MetalConsumedEvent{
				ConsumptionID: consumptionID,
				OrderID:       orderID,
				MetalType:     plan.MetalType,
				Method:        plan.Method,
				TotalGrams:    plan.TotalGrams(),
				RealizedCost:  realizedCost(records),
				Lines:         lines,
			},
		})
	})
	if err != nil {
		if pkgerrors.Is(err, pkgerrors.CodeConcurrencyConflict) {
			s.metrics.IncConflict(string(plan.MetalType))
			if s.logg != nil {
				logCtx := s.logg.WithOrderID(ctx, orderID.String())
				logCtx = s.logg.WithMetalType(logCtx, string(plan.MetalType))
				s.logg.Warn(logCtx, "consumption conflict")
			}
			return nil, err
		}
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "consume metal")
	}

	result := &Result{
		ConsumptionID: consumptionID,
		OrderID:       orderID,
		MetalType:     plan.MetalType,
		Method:        plan.Method,
		TotalGrams:    plan.TotalGrams(),
		RealizedCost:  realizedCost(records),
		Records:       records,
	}

	grams, _ := result.TotalGrams.Float64()
	s.metrics.ObserveConsumption(string(plan.MetalType), string(plan.Method), grams, time.Since(started))
	if s.logg != nil {
		logCtx := s.logg.WithOrderID(ctx, orderID.String())
		logCtx = s.logg.WithFields(logCtx, map[string]any{
			"consumption_id": consumptionID.String(),
			"metal_type":     plan.MetalType,
			"method":         plan.Method,
			"grams":          result.TotalGrams.String(),
			"realized_cost":  result.RealizedCost.String(),
			"batches":        len(debits),
		})
		s.logg.Info(logCtx, "metal consumed")
	}
	return result, nil
}

func (s *service) ListUsage(ctx context.Context, orderID uuid.UUID) ([]models.MetalUsage, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order_id is required")
	}
	rows, err := s.usage.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list usage records")
	}
	return rows, nil
}

func validatePlan(plan *allocation.Plan, orderID uuid.UUID) error {
	if orderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order_id is required")
	}
	if plan == nil || len(plan.Lines) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "allocation plan has no lines")
	}
	if !plan.MetalType.IsValid() || !plan.Method.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "allocation plan has an invalid metal type or method")
	}
	for _, line := range plan.Lines {
		if line.BatchID == uuid.Nil || !line.Grams.IsPositive() || line.UnitPrice.IsNegative() {
			return pkgerrors.New(pkgerrors.CodeValidation, "allocation plan has an invalid line")
		}
	}
	if !plan.TotalGrams().Equal(plan.RequestedGrams) {
		return pkgerrors.New(pkgerrors.CodeValidation, "allocation plan does not cover the requested weight")
	}
	return nil
}

func debitsByBatch(plan *allocation.Plan) map[uuid.UUID]decimal.Decimal {
	out := make(map[uuid.UUID]decimal.Decimal, len(plan.Lines))
	for _, line := range plan.Lines {
		out[line.BatchID] = out[line.BatchID].Add(line.Grams)
	}
	return out
}

func clamp(remaining decimal.Decimal) decimal.Decimal {
	if remaining.Abs().LessThan(ClampEpsilon) {
		return decimal.Zero
	}
	return remaining
}

func conflict(batchID uuid.UUID, message string) error {
	return pkgerrors.New(pkgerrors.CodeConcurrencyConflict, message).
		WithDetails(map[string]any{"batch_id": batchID})
}

func realizedCost(records []models.MetalUsage) decimal.Decimal {
	total := decimal.Zero
	for _, record := range records {
		total = total.Add(record.RealizedCost)
	}
	return total
}

func optionalString(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

// expectedUnitPrice is the frozen batch price, or the plan's weighted average
// for AVERAGE plans.
func expectedUnitPrice(plan *allocation.Plan, batch models.MetalBatch) decimal.Decimal {
	if plan.Method == enums.CostingAverage && plan.UnitPrice != nil {
		return *plan.UnitPrice
	}
	return batch.UnitPrice
}

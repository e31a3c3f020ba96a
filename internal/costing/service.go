package costing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/atelier-backend/internal/allocation"
	"github.com/angelmondragon/atelier-backend/internal/consumption"
	"github.com/angelmondragon/atelier-backend/internal/pricing"
	"github.com/angelmondragon/atelier-backend/pkg/db/models"
	"github.com/angelmondragon/atelier-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/atelier-backend/pkg/errors"
	"github.com/angelmondragon/atelier-backend/pkg/logger"
)

const (
	defaultMaxRetries uint64 = 3
	defaultRetryBase         = 25 * time.Millisecond
)

// QuoteInput prices a piece before any metal is committed. Nil rates fall
// back to the configured defaults.
type QuoteInput struct {
	MetalType       enums.MetalType
	NominalGrams    decimal.Decimal
	ScrapPercent    decimal.Decimal
	Method          enums.CostingMethod
	SpecificBatchID *uuid.UUID
	GemstoneCost    decimal.Decimal
	LaborCost       decimal.Decimal
	MarginPercent   *decimal.Decimal
	TaxPercent      *decimal.Decimal
}

type Quote struct {
	EffectiveGrams decimal.Decimal
	Plan           *allocation.Plan
	Breakdown      pricing.Breakdown
}

// UsageInput commits metal to an order.
type UsageInput struct {
	OrderID         uuid.UUID
	MetalType       enums.MetalType
	Grams           decimal.Decimal
	Method          enums.CostingMethod
	SpecificBatchID *uuid.UUID
	Note            string
}

// Service is the order-costing workflow: preview, price, then commit with a
// bounded number of re-plans when inventory moves underneath.
type Service interface {
	Quote(ctx context.Context, input QuoteInput) (*Quote, error)
	RecordUsage(ctx context.Context, input UsageInput) (*consumption.Result, error)
	ListUsage(ctx context.Context, orderID uuid.UUID) ([]models.MetalUsage, error)
}

type ServiceParams struct {
	Planner              allocation.Planner
	Consumer             consumption.Service
	Logger               *logger.Logger
	MaxRetries           uint64
	RetryBase            time.Duration
	DefaultMarginPercent decimal.Decimal
	DefaultTaxPercent    decimal.Decimal
}

type service struct {
	planner       allocation.Planner
	consumer      consumption.Service
	logg          *logger.Logger
	maxRetries    uint64
	retryBase     time.Duration
	defaultMargin decimal.Decimal
	defaultTax    decimal.Decimal
}

func NewService(params ServiceParams) (Service, error) {
	if params.Planner == nil {
		return nil, fmt.Errorf("allocation planner required")
	}
	if params.Consumer == nil {
		return nil, fmt.Errorf("consumption service required")
	}
	if params.DefaultMarginPercent.IsNegative() || params.DefaultTaxPercent.IsNegative() {
		return nil, fmt.Errorf("default rates must not be negative")
	}
	maxRetries := params.MaxRetries
	if maxRetries == 0 {
		maxRetries = defaultMaxRetries
	}
	retryBase := params.RetryBase
	if retryBase <= 0 {
		retryBase = defaultRetryBase
	}
	return &service{
		planner:       params.Planner,
		consumer:      params.Consumer,
		logg:          params.Logger,
		maxRetries:    maxRetries,
		retryBase:     retryBase,
		defaultMargin: params.DefaultMarginPercent,
		defaultTax:    params.DefaultTaxPercent,
	}, nil
}

func (s *service) Quote(ctx context.Context, input QuoteInput) (*Quote, error) {
	effective, err := pricing.EffectiveWeight(input.NominalGrams, input.ScrapPercent)
	if err != nil {
		return nil, err
	}

	plan, err := s.planner.Preview(ctx, allocation.Request{
		MetalType:       input.MetalType,
		Grams:           effective,
		Method:          input.Method,
		SpecificBatchID: input.SpecificBatchID,
	})
	if err != nil {
		return nil, err
	}

	margin := s.defaultMargin
	if input.MarginPercent != nil {
		margin = *input.MarginPercent
	}
	tax := s.defaultTax
	if input.TaxPercent != nil {
		tax = *input.TaxPercent
	}

	breakdown, err := pricing.Compute(pricing.Input{
		MaterialCost:  plan.TotalCost,
		GemstoneCost:  input.GemstoneCost,
		LaborCost:     input.LaborCost,
		MarginPercent: margin,
		TaxPercent:    tax,
	})
	if err != nil {
		return nil, err
	}
	return &Quote{EffectiveGrams: effective, Plan: plan, Breakdown: breakdown}, nil
}

func (s *service) RecordUsage(ctx context.Context, input UsageInput) (*consumption.Result, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order_id is required")
	}
	req := allocation.Request{
		MetalType:       input.MetalType,
		Grams:           input.Grams,
		Method:          input.Method,
		SpecificBatchID: input.SpecificBatchID,
	}
	if err := allocation.ValidateRequest(req); err != nil {
		return nil, err
	}

	backoff := retry.WithMaxRetries(s.maxRetries, retry.WithJitterPercent(20, retry.NewExponential(s.retryBase)))

	var result *consumption.Result
	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		plan, err := s.planner.Preview(ctx, req)
		if err != nil {
			return err
		}
		res, err := s.consumer.Consume(ctx, plan, input.OrderID, input.Note)
		if err != nil {
			if pkgerrors.Is(err, pkgerrors.CodeConcurrencyConflict) {
				if s.logg != nil {
					logCtx := s.logg.WithOrderID(ctx, input.OrderID.String())
					logCtx = s.logg.WithField(logCtx, "attempt", attempt)
					s.logg.Warn(logCtx, "re-planning after consumption conflict")
				}
				return retry.RetryableError(err)
			}
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) ListUsage(ctx context.Context, orderID uuid.UUID) ([]models.MetalUsage, error) {
	return s.consumer.ListUsage(ctx, orderID)
}

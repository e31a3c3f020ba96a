package batches

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/atelier-backend/pkg/db/models"
	"github.com/angelmondragon/atelier-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/atelier-backend/pkg/errors"
	"github.com/angelmondragon/atelier-backend/pkg/logger"
	"github.com/angelmondragon/atelier-backend/pkg/metrics"
	"github.com/angelmondragon/atelier-backend/pkg/outbox"
	"github.com/angelmondragon/atelier-backend/pkg/outbox/payloads"
)

const (
	// GramsScale is the stored resolution of weights (0.0001 g).
	GramsScale int32 = 4
	// PriceScale is the stored resolution of purchase prices.
	PriceScale int32 = 2
	// UnitPriceScale is the stored resolution of per-gram prices.
	UnitPriceScale int32 = 8
)

type batchRepository interface {
	WithTx(tx *gorm.DB) *Repository
	FindByID(ctx context.Context, id uuid.UUID) (*models.MetalBatch, error)
	List(ctx context.Context, filter ListFilter) ([]models.MetalBatch, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service is the batch registry: it records purchases and answers batch lookups.
// Remaining weight is only ever changed by the consumption transactor.
type Service interface {
	RecordPurchase(ctx context.Context, input RecordPurchaseInput) (*models.MetalBatch, error)
	ListAvailable(ctx context.Context, metalType enums.MetalType, includeDepleted bool) ([]models.MetalBatch, error)
	Get(ctx context.Context, id uuid.UUID) (*models.MetalBatch, error)
}

type ServiceParams struct {
	Repository batchRepository
	TxRunner   txRunner
	Outbox     outbox.Emitter
	Logger     *logger.Logger
	Metrics    *metrics.InventoryMetrics
	Clock      func() time.Time
}

type service struct {
	repo    batchRepository
	tx      txRunner
	outbox  outbox.Emitter
	logg    *logger.Logger
	metrics *metrics.InventoryMetrics
	now     func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repository == nil {
		return nil, fmt.Errorf("batch repository required")
	}
	if params.TxRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &service{
		repo:    params.Repository,
		tx:      params.TxRunner,
		outbox:  params.Outbox,
		logg:    params.Logger,
		metrics: params.Metrics,
		now:     clock,
	}, nil
}

func (s *service) RecordPurchase(ctx context.Context, input RecordPurchaseInput) (*models.MetalBatch, error) {
	if err := validatePurchase(input); err != nil {
		return nil, err
	}

	purchasedAt := s.now().UTC()
	if input.PurchasedAt != nil && !input.PurchasedAt.IsZero() {
		purchasedAt = input.PurchasedAt.UTC()
	}

	batch := &models.MetalBatch{
		MetalType:      input.MetalType,
		PurchasedAt:    purchasedAt,
		TotalGrams:     input.Grams,
		RemainingGrams: input.Grams,
		TotalPrice:     input.TotalPrice,
		UnitPrice:      UnitPrice(input.TotalPrice, input.Grams),
		Supplier:       optionalString(input.Provenance.Supplier),
		InvoiceNumber:  optionalString(input.Provenance.InvoiceNumber),
		LotNumber:      optionalString(input.Provenance.LotNumber),
		Notes:          optionalString(input.Provenance.Notes),
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if _, err := s.repo.WithTx(tx).Create(ctx, batch); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create metal batch")
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventMetalPurchaseRecorded,
			AggregateType: enums.AggregateMetalBatch,
			AggregateID:   batch.ID,
			RequestID:     logger.RequestIDFromContext(ctx),
			Data: payloads.MetalPurchaseRecordedEvent{
				BatchID:     batch.ID,
				MetalType:   batch.MetalType,
				Grams:       batch.TotalGrams,
				TotalPrice:  batch.TotalPrice,
				UnitPrice:   batch.UnitPrice,
				PurchasedAt: batch.PurchasedAt,
			},
		})
	})
	if err != nil {
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record purchase")
	}

	s.metrics.IncPurchase(string(batch.MetalType))
	if s.logg != nil {
		logCtx := s.logg.WithBatchID(ctx, batch.ID.String())
		logCtx = s.logg.WithFields(logCtx, map[string]any{
			"metal_type": batch.MetalType,
			"grams":      batch.TotalGrams.String(),
			"unit_price": batch.UnitPrice.String(),
		})
		s.logg.Info(logCtx, "metal purchase recorded")
	}
	return batch, nil
}

func (s *service) ListAvailable(ctx context.Context, metalType enums.MetalType, includeDepleted bool) ([]models.MetalBatch, error) {
	if metalType != "" && !metalType.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid metal type")
	}
	rows, err := s.repo.List(ctx, ListFilter{MetalType: metalType, IncludeDepleted: includeDepleted})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list metal batches")
	}
	return rows, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.MetalBatch, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "batch id is required")
	}
	batch, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "metal batch not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup metal batch")
	}
	return batch, nil
}

// UnitPrice is the per-gram cost frozen on a batch at creation.
func UnitPrice(totalPrice, grams decimal.Decimal) decimal.Decimal {
	return totalPrice.DivRound(grams, UnitPriceScale)
}

func validatePurchase(input RecordPurchaseInput) error {
	if !input.MetalType.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid metal type")
	}
	if !input.Grams.IsPositive() {
		return pkgerrors.New(pkgerrors.CodeValidation, "weight must be greater than zero")
	}
	if !input.Grams.Equal(input.Grams.Round(GramsScale)) {
		return pkgerrors.New(pkgerrors.CodeValidation, "weight supports at most 4 decimal places")
	}
	if !input.TotalPrice.IsPositive() {
		return pkgerrors.New(pkgerrors.CodeValidation, "total price must be greater than zero")
	}
	if !input.TotalPrice.Equal(input.TotalPrice.Round(PriceScale)) {
		return pkgerrors.New(pkgerrors.CodeValidation, "total price supports at most 2 decimal places")
	}
	return nil
}

func optionalString(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

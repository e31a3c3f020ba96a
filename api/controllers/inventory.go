package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/atelier-backend/api/responses"
	"github.com/angelmondragon/atelier-backend/api/validators"
	"github.com/angelmondragon/atelier-backend/internal/allocation"
	"github.com/angelmondragon/atelier-backend/internal/batches"
	"github.com/angelmondragon/atelier-backend/internal/consumption"
	"github.com/angelmondragon/atelier-backend/internal/costing"
	"github.com/angelmondragon/atelier-backend/internal/inventorystats"
	"github.com/angelmondragon/atelier-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/atelier-backend/pkg/errors"
	"github.com/angelmondragon/atelier-backend/pkg/logger"
)

type purchaseCreateRequest struct {
	MetalType     string          `json:"metal_type" validate:"required"`
	Weight        decimal.Decimal `json:"weight"`
	TotalPrice    decimal.Decimal `json:"total_price"`
	PurchasedAt   *time.Time      `json:"purchased_at"`
	Supplier      string          `json:"supplier" validate:"max=255"`
	InvoiceNumber string          `json:"invoice_number" validate:"max=128"`
	LotNumber     string          `json:"lot_number" validate:"max=128"`
	Notes         string          `json:"notes" validate:"max=2000"`
}

func (r purchaseCreateRequest) toInput() (batches.RecordPurchaseInput, error) {
	metalType, err := enums.ParseMetalType(r.MetalType)
	if err != nil {
		return batches.RecordPurchaseInput{}, pkgerrors.New(pkgerrors.CodeValidation, "invalid metal type").WithDetails(map[string]any{"field": "metal_type"})
	}
	return batches.RecordPurchaseInput{
		MetalType:   metalType,
		Grams:       r.Weight,
		TotalPrice:  r.TotalPrice,
		PurchasedAt: r.PurchasedAt,
		Provenance: batches.Provenance{
			Supplier:      validators.CleanText(r.Supplier, 255),
			InvoiceNumber: validators.CleanText(r.InvoiceNumber, 128),
			LotNumber:     validators.CleanText(r.LotNumber, 128),
			Notes:         validators.CleanText(r.Notes, 2000),
		},
	}, nil
}

// InventoryRecordPurchase registers a newly bought batch of metal.
func InventoryRecordPurchase(svc batches.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "batch service unavailable"))
			return
		}

		var payload purchaseCreateRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input, err := payload.toInput()
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		created, err := svc.RecordPurchase(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, batches.FromModel(*created))
	}
}

// InventoryListPurchases lists batches, optionally narrowed to one metal type.
func InventoryListPurchases(svc batches.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "batch service unavailable"))
			return
		}

		metalType, err := optionalMetalType(r.URL.Query().Get("metal_type"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		includeDepleted, err := validators.ParseQueryBool(r, "include_depleted", false)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		rows, err := svc.ListAvailable(r.Context(), metalType, includeDepleted)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, batches.FromModels(rows))
	}
}

// InventoryGetPurchase returns one batch by id.
func InventoryGetPurchase(svc batches.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "batch service unavailable"))
			return
		}

		batchID, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, "batchId")))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid batch id"))
			return
		}

		batch, err := svc.Get(r.Context(), batchID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, batches.FromModel(*batch))
	}
}

// InventoryAllocatePreview computes an allocation plan without touching stock.
func InventoryAllocatePreview(planner allocation.Planner, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if planner == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "allocation planner unavailable"))
			return
		}

		req, err := previewRequestFromQuery(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		plan, err := planner.Preview(r.Context(), req)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, plan)
	}
}

func previewRequestFromQuery(r *http.Request) (allocation.Request, error) {
	query := r.URL.Query()
	metalType, err := enums.ParseMetalType(query.Get("metal_type"))
	if err != nil {
		return allocation.Request{}, pkgerrors.New(pkgerrors.CodeValidation, "invalid metal type").WithDetails(map[string]any{"field": "metal_type"})
	}

	grams, err := validators.ParseQueryDecimal(r, "required_weight")
	if err != nil {
		return allocation.Request{}, err
	}

	method, err := methodOrDefault(query.Get("method"))
	if err != nil {
		return allocation.Request{}, err
	}

	specificID, err := validators.ParseQueryUUID(r, "specific_batch_id")
	if err != nil {
		return allocation.Request{}, err
	}

	return allocation.Request{
		MetalType:       metalType,
		Grams:           grams,
		Method:          method,
		SpecificBatchID: specificID,
	}, nil
}

type usageCreateRequest struct {
	OrderID         string          `json:"order_id" validate:"required,uuid"`
	MetalType       string          `json:"metal_type" validate:"required"`
	Weight          decimal.Decimal `json:"weight"`
	Method          string          `json:"method"`
	SpecificBatchID *string         `json:"specific_batch_id" validate:"omitempty,uuid"`
	Note            string          `json:"note" validate:"max=1000"`
}

func (r usageCreateRequest) toInput() (costing.UsageInput, error) {
	orderID, err := uuid.Parse(strings.TrimSpace(r.OrderID))
	if err != nil {
		return costing.UsageInput{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order_id")
	}

	metalType, err := enums.ParseMetalType(r.MetalType)
	if err != nil {
		return costing.UsageInput{}, pkgerrors.New(pkgerrors.CodeValidation, "invalid metal type").WithDetails(map[string]any{"field": "metal_type"})
	}

	method, err := methodOrDefault(r.Method)
	if err != nil {
		return costing.UsageInput{}, err
	}

	var specificID *uuid.UUID
	if r.SpecificBatchID != nil && strings.TrimSpace(*r.SpecificBatchID) != "" {
		id, err := uuid.Parse(strings.TrimSpace(*r.SpecificBatchID))
		if err != nil {
			return costing.UsageInput{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid specific_batch_id")
		}
		specificID = &id
	}

	return costing.UsageInput{
		OrderID:         orderID,
		MetalType:       metalType,
		Grams:           r.Weight,
		Method:          method,
		SpecificBatchID: specificID,
		Note:            validators.CleanText(r.Note, 1000),
	}, nil
}

// InventoryRecordUsage draws metal down for an order and records the ledger rows.
func InventoryRecordUsage(svc costing.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "costing service unavailable"))
			return
		}

		var payload usageCreateRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input, err := payload.toInput()
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ctx := logg.WithOrderID(r.Context(), input.OrderID.String())
		result, err := svc.RecordUsage(ctx, input)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, consumption.FromResult(result))
	}
}

// InventoryListUsage returns the usage ledger of one order.
func InventoryListUsage(svc costing.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "costing service unavailable"))
			return
		}

		orderID, err := validators.ParseQueryUUID(r, "order_id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if orderID == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "query parameter is required").WithDetails(map[string]any{"field": "order_id"}))
			return
		}

		rows, err := svc.ListUsage(r.Context(), *orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, consumption.FromUsages(rows))
	}
}

// InventoryStatistics reports stock levels and low-stock alerts.
func InventoryStatistics(svc inventorystats.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "statistics service unavailable"))
			return
		}

		summary, err := svc.Summarize(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, summary)
	}
}

func optionalMetalType(raw string) (enums.MetalType, error) {
	if strings.TrimSpace(raw) == "" {
		return "", nil
	}
	metalType, err := enums.ParseMetalType(raw)
	if err != nil {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "invalid metal type").WithDetails(map[string]any{"field": "metal_type"})
	}
	return metalType, nil
}

// methodOrDefault falls back to FIFO when no method is given.
func methodOrDefault(raw string) (enums.CostingMethod, error) {
	if strings.TrimSpace(raw) == "" {
		return enums.CostingFIFO, nil
	}
	method, err := enums.ParseCostingMethod(raw)
	if err != nil {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "invalid costing method").WithDetails(map[string]any{"field": "method"})
	}
	return method, nil
}

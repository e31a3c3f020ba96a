package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/atelier-backend/internal/allocation"
	"github.com/angelmondragon/atelier-backend/internal/batches"
	"github.com/angelmondragon/atelier-backend/internal/consumption"
	"github.com/angelmondragon/atelier-backend/internal/costing"
	"github.com/angelmondragon/atelier-backend/pkg/db/models"
	"github.com/angelmondragon/atelier-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/atelier-backend/pkg/errors"
	"github.com/angelmondragon/atelier-backend/pkg/logger"
)

type fakeBatchService struct {
	recordFn func(context.Context, batches.RecordPurchaseInput) (*models.MetalBatch, error)
	listFn   func(context.Context, enums.MetalType, bool) ([]models.MetalBatch, error)
	getFn    func(context.Context, uuid.UUID) (*models.MetalBatch, error)
}

func (f fakeBatchService) RecordPurchase(ctx context.Context, input batches.RecordPurchaseInput) (*models.MetalBatch, error) {
	return f.recordFn(ctx, input)
}

func (f fakeBatchService) ListAvailable(ctx context.Context, metalType enums.MetalType, includeDepleted bool) ([]models.MetalBatch, error) {
	return f.listFn(ctx, metalType, includeDepleted)
}

func (f fakeBatchService) Get(ctx context.Context, id uuid.UUID) (*models.MetalBatch, error) {
	return f.getFn(ctx, id)
}

type fakePlanner struct {
	previewFn func(context.Context, allocation.Request) (*allocation.Plan, error)
}

func (f fakePlanner) Preview(ctx context.Context, req allocation.Request) (*allocation.Plan, error) {
	return f.previewFn(ctx, req)
}

type fakeCosting struct {
	quoteFn  func(context.Context, costing.QuoteInput) (*costing.Quote, error)
	recordFn func(context.Context, costing.UsageInput) (*consumption.Result, error)
	listFn   func(context.Context, uuid.UUID) ([]models.MetalUsage, error)
}

func (f fakeCosting) Quote(ctx context.Context, input costing.QuoteInput) (*costing.Quote, error) {
	return f.quoteFn(ctx, input)
}

func (f fakeCosting) RecordUsage(ctx context.Context, input costing.UsageInput) (*consumption.Result, error) {
	return f.recordFn(ctx, input)
}

func (f fakeCosting) ListUsage(ctx context.Context, orderID uuid.UUID) ([]models.MetalUsage, error) {
	return f.listFn(ctx, orderID)
}

type errorBody struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: &strings.Builder{}})
}

func decodeError(t *testing.T, resp *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	return body
}

func sampleBatch(metal enums.MetalType) *models.MetalBatch {
	return &models.MetalBatch{
		ID:             uuid.New(),
		MetalType:      metal,
		PurchasedAt:    time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC),
		TotalGrams:     decimal.RequireFromString("100"),
		RemainingGrams: decimal.RequireFromString("100"),
		TotalPrice:     decimal.RequireFromString("4500"),
		UnitPrice:      decimal.RequireFromString("45"),
	}
}

func TestInventoryRecordPurchaseCreatesBatch(t *testing.T) {
	var captured batches.RecordPurchaseInput
	svc := fakeBatchService{
		recordFn: func(_ context.Context, input batches.RecordPurchaseInput) (*models.MetalBatch, error) {
			captured = input
			return sampleBatch(input.MetalType), nil
		},
	}

	body := `{"metal_type":"GOLD_18K","weight":"100","total_price":"4500","supplier":"  Refinery SA  "}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/inventory/purchases", strings.NewReader(body))
	resp := httptest.NewRecorder()
	InventoryRecordPurchase(svc, testLogger()).ServeHTTP(resp, req)

	require.Equal(t, http.StatusCreated, resp.Code)
	require.Equal(t, enums.MetalGold18K, captured.MetalType)
	require.True(t, captured.Grams.Equal(decimal.NewFromInt(100)))
	require.Equal(t, "Refinery SA", captured.Provenance.Supplier)

	var payload struct {
		Data batches.BatchDTO `json:"data"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &payload))
	require.Equal(t, 750, payload.Data.Fineness)
	require.True(t, payload.Data.UnitPrice.Equal(decimal.NewFromInt(45)))
}

func TestInventoryRecordPurchaseRejectsUnknownMetal(t *testing.T) {
	svc := fakeBatchService{
		recordFn: func(context.Context, batches.RecordPurchaseInput) (*models.MetalBatch, error) {
			t.Fatal("service should not be called")
			return nil, nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/inventory/purchases", strings.NewReader(`{"metal_type":"bronze","weight":"1","total_price":"1"}`))
	resp := httptest.NewRecorder()
	InventoryRecordPurchase(svc, testLogger()).ServeHTTP(resp, req)

	require.Equal(t, http.StatusBadRequest, resp.Code)
	body := decodeError(t, resp)
	require.Equal(t, string(pkgerrors.CodeValidation), body.Error.Code)
	require.Equal(t, "metal_type", body.Error.Details["field"])
}

func TestInventoryRecordPurchaseNilService(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/inventory/purchases", strings.NewReader(`{}`))
	resp := httptest.NewRecorder()
	InventoryRecordPurchase(nil, testLogger()).ServeHTTP(resp, req)
	require.Equal(t, http.StatusInternalServerError, resp.Code)
}

func TestInventoryListPurchasesPassesFilters(t *testing.T) {
	var gotMetal enums.MetalType
	var gotDepleted bool
	svc := fakeBatchService{
		listFn: func(_ context.Context, metal enums.MetalType, includeDepleted bool) ([]models.MetalBatch, error) {
			gotMetal, gotDepleted = metal, includeDepleted
			return []models.MetalBatch{*sampleBatch(metal)}, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/inventory/purchases?metal_type=silver_925&include_depleted=true", nil)
	resp := httptest.NewRecorder()
	InventoryListPurchases(svc, testLogger()).ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, enums.MetalSilver925, gotMetal)
	require.True(t, gotDepleted)
}

func TestInventoryListPurchasesRejectsBadBool(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/inventory/purchases?include_depleted=maybe", nil)
	resp := httptest.NewRecorder()
	InventoryListPurchases(fakeBatchService{}, testLogger()).ServeHTTP(resp, req)
	require.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestInventoryGetPurchase(t *testing.T) {
	batch := sampleBatch(enums.MetalPlatinum950)
	svc := fakeBatchService{
		getFn: func(_ context.Context, id uuid.UUID) (*models.MetalBatch, error) {
			if id != batch.ID {
				return nil, pkgerrors.New(pkgerrors.CodeNotFound, "metal batch not found")
			}
			return batch, nil
		},
	}

	r := chi.NewRouter()
	r.Get("/purchases/{batchId}", InventoryGetPurchase(svc, testLogger()))

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/purchases/"+batch.ID.String(), nil))
	require.Equal(t, http.StatusOK, resp.Code)

	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/purchases/"+uuid.NewString(), nil))
	require.Equal(t, http.StatusNotFound, resp.Code)

	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/purchases/not-a-uuid", nil))
	require.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestInventoryAllocatePreviewSurfacesShortfall(t *testing.T) {
	planner := fakePlanner{
		previewFn: func(_ context.Context, req allocation.Request) (*allocation.Plan, error) {
			require.Equal(t, enums.CostingSpecific, req.Method)
			require.NotNil(t, req.SpecificBatchID)
			return nil, pkgerrors.New(pkgerrors.CodeInsufficientInventory, "insufficient inventory in batch").WithDetails(allocation.ShortfallDetails{
				Scope:     allocation.ScopeBatch,
				MetalType: req.MetalType,
				BatchID:   req.SpecificBatchID,
				Available: decimal.RequireFromString("5"),
				Required:  req.Grams,
			})
		},
	}

	url := "/api/v1/inventory/allocate-preview?metal_type=gold_18k&required_weight=8&method=specific&specific_batch_id=" + uuid.NewString()
	resp := httptest.NewRecorder()
	InventoryAllocatePreview(planner, testLogger()).ServeHTTP(resp, httptest.NewRequest(http.MethodPost, url, nil))

	require.Equal(t, http.StatusBadRequest, resp.Code)
	body := decodeError(t, resp)
	require.Equal(t, string(pkgerrors.CodeInsufficientInventory), body.Error.Code)
	require.Equal(t, "batch", body.Error.Details["scope"])
	require.Equal(t, "5", body.Error.Details["available"])
}

func TestInventoryAllocatePreviewValidatesQuery(t *testing.T) {
	planner := fakePlanner{
		previewFn: func(context.Context, allocation.Request) (*allocation.Plan, error) {
			t.Fatal("planner should not be called")
			return nil, nil
		},
	}

	tests := []struct {
		name  string
		query string
		field string
	}{
		{"missing weight", "metal_type=gold_18k", "required_weight"},
		{"bad metal", "metal_type=tin&required_weight=1", "metal_type"},
		{"bad method", "metal_type=gold_18k&required_weight=1&method=hifo", "method"},
		{"bad batch id", "metal_type=gold_18k&required_weight=1&specific_batch_id=x", "specific_batch_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := httptest.NewRecorder()
			InventoryAllocatePreview(planner, testLogger()).ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/preview?"+tt.query, nil))
			require.Equal(t, http.StatusBadRequest, resp.Code)
			require.Equal(t, tt.field, decodeError(t, resp).Error.Details["field"])
		})
	}
}

func TestInventoryRecordUsageReturnsLedger(t *testing.T) {
	orderID := uuid.New()
	batchID := uuid.New()
	svc := fakeCosting{
		recordFn: func(_ context.Context, input costing.UsageInput) (*consumption.Result, error) {
			require.Equal(t, orderID, input.OrderID)
			require.Equal(t, enums.CostingLIFO, input.Method)
			require.Equal(t, "rush job", input.Note)
			return &consumption.Result{
				ConsumptionID: uuid.New(),
				OrderID:       orderID,
				MetalType:     input.MetalType,
				Method:        input.Method,
				TotalGrams:    input.Grams,
				RealizedCost:  decimal.RequireFromString("452.123456"),
				Records: []models.MetalUsage{{
					ID:              uuid.New(),
					OrderID:         orderID,
					BatchID:         batchID,
					LineNo:          1,
					MetalType:       input.MetalType,
					GramsConsumed:   input.Grams,
					RealizedCost:    decimal.RequireFromString("452.123456"),
					UnitPriceAtTime: decimal.RequireFromString("45.2123456"),
					BatchUnitPrice:  decimal.RequireFromString("45.2123456"),
					CostingMethod:   input.Method,
				}},
			}, nil
		},
	}

	body := `{"order_id":"` + orderID.String() + `","metal_type":"gold_14k","weight":"10","method":"LIFO","note":" rush job "}`
	resp := httptest.NewRecorder()
	InventoryRecordUsage(svc, testLogger()).ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/usage", strings.NewReader(body)))

	require.Equal(t, http.StatusCreated, resp.Code)
	var payload struct {
		Data consumption.ResultDTO `json:"data"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &payload))
	require.Len(t, payload.Data.Records, 1)
	require.Equal(t, batchID, payload.Data.Records[0].BatchID)
	require.True(t, payload.Data.RealizedCostDisplay.Equal(decimal.RequireFromString("452.12")))
}

func TestInventoryRecordUsageConflict(t *testing.T) {
	svc := fakeCosting{
		recordFn: func(context.Context, costing.UsageInput) (*consumption.Result, error) {
			return nil, pkgerrors.New(pkgerrors.CodeConcurrencyConflict, "inventory changed since the plan was built")
		},
	}

	body := `{"order_id":"` + uuid.NewString() + `","metal_type":"gold_14k","weight":"10"}`
	resp := httptest.NewRecorder()
	InventoryRecordUsage(svc, testLogger()).ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/usage", strings.NewReader(body)))

	require.Equal(t, http.StatusConflict, resp.Code)
	require.Equal(t, string(pkgerrors.CodeConcurrencyConflict), decodeError(t, resp).Error.Code)
}

func TestInventoryRecordUsageValidatesBody(t *testing.T) {
	resp := httptest.NewRecorder()
	InventoryRecordUsage(fakeCosting{}, testLogger()).ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/usage", strings.NewReader(`{"order_id":"nope","metal_type":"gold_14k"}`)))

	require.Equal(t, http.StatusBadRequest, resp.Code)
	require.Equal(t, "must be a valid uuid", decodeError(t, resp).Error.Details["order_id"])
}

func TestInventoryListUsageRequiresOrder(t *testing.T) {
	resp := httptest.NewRecorder()
	InventoryListUsage(fakeCosting{}, testLogger()).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/usage", nil))
	require.Equal(t, http.StatusBadRequest, resp.Code)
	require.Equal(t, "order_id", decodeError(t, resp).Error.Details["field"])
}

func TestInventoryListUsage(t *testing.T) {
	orderID := uuid.New()
	svc := fakeCosting{
		listFn: func(_ context.Context, id uuid.UUID) ([]models.MetalUsage, error) {
			require.Equal(t, orderID, id)
			return []models.MetalUsage{{ID: uuid.New(), OrderID: id, LineNo: 1}, {ID: uuid.New(), OrderID: id, LineNo: 2}}, nil
		},
	}

	resp := httptest.NewRecorder()
	InventoryListUsage(svc, testLogger()).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/usage?order_id="+orderID.String(), nil))

	require.Equal(t, http.StatusOK, resp.Code)
	var payload struct {
		Data []consumption.UsageDTO `json:"data"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &payload))
	require.Len(t, payload.Data, 2)
	require.Equal(t, 2, payload.Data[1].LineNo)
}

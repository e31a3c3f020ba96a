package batches

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/atelier-backend/internal/inventorytest"
	"github.com/angelmondragon/atelier-backend/pkg/db/models"
	"github.com/angelmondragon/atelier-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/atelier-backend/pkg/errors"
	"github.com/angelmondragon/atelier-backend/pkg/outbox"
	"github.com/angelmondragon/atelier-backend/pkg/outbox/payloads"
)

func newTestService(t *testing.T, conn *gorm.DB, clock func() time.Time) Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Repository: NewRepository(conn),
		TxRunner:   inventorytest.NewClient(conn),
		Outbox:     outbox.NewService(outbox.NewRepository(conn), nil),
		Logger:     inventorytest.Logger(),
		Clock:      clock,
	})
	require.NoError(t, err)
	return svc
}

func TestRecordPurchaseComputesUnitPriceOnce(t *testing.T) {
	conn := inventorytest.NewDB(t)
	svc := newTestService(t, conn, nil)
	purchasedAt := inventorytest.Day(2024, time.January, 1)

	batch, err := svc.RecordPurchase(context.Background(), RecordPurchaseInput{
		MetalType:   enums.MetalGold18K,
		Grams:       inventorytest.Dec(t, "100"),
		TotalPrice:  inventorytest.Dec(t, "4500.00"),
		PurchasedAt: &purchasedAt,
		Provenance:  Provenance{Supplier: "  Metalor ", InvoiceNumber: "INV-1"},
	})
	require.NoError(t, err)

	assert.True(t, batch.UnitPrice.Equal(decimal.NewFromInt(45)), "unit price %s", batch.UnitPrice)
	assert.True(t, batch.RemainingGrams.Equal(batch.TotalGrams))
	require.NotNil(t, batch.Supplier)
	assert.Equal(t, "Metalor", *batch.Supplier)
	assert.Nil(t, batch.LotNumber)

	stored := inventorytest.MustReload(t, conn, batch.ID)
	assert.True(t, stored.UnitPrice.Equal(decimal.NewFromInt(45)))
	assert.Equal(t, 0, stored.Version)
	assert.True(t, stored.PurchasedAt.Equal(purchasedAt))
}

func TestRecordPurchaseRoundsUnitPriceToEightPlaces(t *testing.T) {
	conn := inventorytest.NewDB(t)
	svc := newTestService(t, conn, nil)

	batch, err := svc.RecordPurchase(context.Background(), RecordPurchaseInput{
		MetalType:  enums.MetalSilver925,
		Grams:      inventorytest.Dec(t, "3"),
		TotalPrice: inventorytest.Dec(t, "100"),
	})
	require.NoError(t, err)
	assert.Equal(t, "33.33333333", batch.UnitPrice.String())
}

func TestRecordPurchaseDefaultsPurchaseTimeToClock(t *testing.T) {
	conn := inventorytest.NewDB(t)
	fixed := time.Date(2025, time.March, 3, 10, 30, 0, 0, time.UTC)
	svc := newTestService(t, conn, func() time.Time { return fixed })

	batch, err := svc.RecordPurchase(context.Background(), RecordPurchaseInput{
		MetalType:  enums.MetalPlatinum950,
		Grams:      inventorytest.Dec(t, "10"),
		TotalPrice: inventorytest.Dec(t, "300"),
	})
	require.NoError(t, err)
	assert.True(t, batch.PurchasedAt.Equal(fixed))
}

func TestRecordPurchaseEmitsOutboxEvent(t *testing.T) {
	conn := inventorytest.NewDB(t)
	svc := newTestService(t, conn, nil)

	batch, err := svc.RecordPurchase(context.Background(), RecordPurchaseInput{
		MetalType:  enums.MetalGold14K,
		Grams:      inventorytest.Dec(t, "20"),
		TotalPrice: inventorytest.Dec(t, "800"),
	})
	require.NoError(t, err)

	var events []models.OutboxEvent
	require.NoError(t, conn.Find(&events).Error)
	require.Len(t, events, 1)
	assert.Equal(t, enums.EventMetalPurchaseRecorded, events[0].EventType)
	assert.Equal(t, batch.ID, events[0].AggregateID)

	var envelope outbox.PayloadEnvelope
	require.NoError(t, json.Unmarshal(events[0].Payload, &envelope))
	var payload payloads.MetalPurchaseRecordedEvent
	require.NoError(t, json.Unmarshal(envelope.Data, &payload))
	assert.True(t, payload.UnitPrice.Equal(decimal.NewFromInt(40)))
}

func TestRecordPurchaseValidation(t *testing.T) {
	conn := inventorytest.NewDB(t)
	svc := newTestService(t, conn, nil)

	cases := map[string]RecordPurchaseInput{
		"zero grams":      {MetalType: enums.MetalGold18K, Grams: decimal.Zero, TotalPrice: decimal.NewFromInt(10)},
		"negative grams":  {MetalType: enums.MetalGold18K, Grams: decimal.NewFromInt(-1), TotalPrice: decimal.NewFromInt(10)},
		"zero price":      {MetalType: enums.MetalGold18K, Grams: decimal.NewFromInt(1), TotalPrice: decimal.Zero},
		"unknown metal":   {MetalType: enums.MetalType("brass"), Grams: decimal.NewFromInt(1), TotalPrice: decimal.NewFromInt(1)},
		"sub-milligram":   {MetalType: enums.MetalGold18K, Grams: inventorytest.Dec(t, "1.00001"), TotalPrice: decimal.NewFromInt(1)},
		"fractional cent": {MetalType: enums.MetalGold18K, Grams: decimal.NewFromInt(1), TotalPrice: inventorytest.Dec(t, "1.005")},
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.RecordPurchase(context.Background(), input)
			require.Error(t, err)
			assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation), "got %v", err)
		})
	}

	var count int64
	require.NoError(t, conn.Model(&models.MetalBatch{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestListAvailableFiltersAndOrders(t *testing.T) {
	conn := inventorytest.NewDB(t)
	svc := newTestService(t, conn, nil)

	newer := inventorytest.MustCreateBatch(t, conn, inventorytest.BatchFixture{
		MetalType: enums.MetalGold18K, Grams: "50", TotalPrice: "2500", PurchasedAt: inventorytest.Day(2024, time.February, 1),
	})
	older := inventorytest.MustCreateBatch(t, conn, inventorytest.BatchFixture{
		MetalType: enums.MetalGold18K, Grams: "100", TotalPrice: "4500", PurchasedAt: inventorytest.Day(2024, time.January, 1),
	})
	depleted := inventorytest.MustCreateBatch(t, conn, inventorytest.BatchFixture{
		MetalType: enums.MetalGold18K, Grams: "10", Remaining: "0", TotalPrice: "400", PurchasedAt: inventorytest.Day(2023, time.December, 1),
	})
	silver := inventorytest.MustCreateBatch(t, conn, inventorytest.BatchFixture{
		MetalType: enums.MetalSilver925, Grams: "500", TotalPrice: "400", PurchasedAt: inventorytest.Day(2024, time.January, 15),
	})

	rows, err := svc.ListAvailable(context.Background(), enums.MetalGold18K, false)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, older.ID, rows[0].ID)
	assert.Equal(t, newer.ID, rows[1].ID)

	rows, err = svc.ListAvailable(context.Background(), enums.MetalGold18K, true)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, depleted.ID, rows[0].ID)

	rows, err = svc.ListAvailable(context.Background(), "", false)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, silver.ID, rows[1].ID)

	_, err = svc.ListAvailable(context.Background(), enums.MetalType("tin"), false)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))
}

func TestGetReturnsNotFound(t *testing.T) {
	conn := inventorytest.NewDB(t)
	svc := newTestService(t, conn, nil)

	_, err := svc.Get(context.Background(), uuid.New())
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound), "got %v", err)

	_, err = svc.Get(context.Background(), uuid.Nil)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation), "got %v", err)

	batch := inventorytest.MustCreateBatch(t, conn, inventorytest.BatchFixture{Grams: "5", TotalPrice: "250", PurchasedAt: time.Now()})
	got, err := svc.Get(context.Background(), batch.ID)
	require.NoError(t, err)
	assert.Equal(t, batch.ID, got.ID)
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(ServiceParams{})
	assert.Error(t, err)
}

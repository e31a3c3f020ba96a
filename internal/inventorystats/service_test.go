package inventorystats

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/atelier-backend/internal/batches"
	"github.com/angelmondragon/atelier-backend/internal/inventorytest"
	"github.com/angelmondragon/atelier-backend/pkg/db/models"
	"github.com/angelmondragon/atelier-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/atelier-backend/pkg/errors"
)

type listerFunc func(ctx context.Context, filter batches.ListFilter) ([]models.MetalBatch, error)

func (f listerFunc) List(ctx context.Context, filter batches.ListFilter) ([]models.MetalBatch, error) {
	return f(ctx, filter)
}

func TestSummarizeAggregatesPerMetal(t *testing.T) {
	conn := inventorytest.NewDB(t)
	inventorytest.MustCreateBatch(t, conn, inventorytest.BatchFixture{Grams: "100", Remaining: "40", TotalPrice: "4400", PurchasedAt: inventorytest.Day(2024, time.January, 1)})
	inventorytest.MustCreateBatch(t, conn, inventorytest.BatchFixture{Grams: "100", Remaining: "60", TotalPrice: "4600", PurchasedAt: inventorytest.Day(2024, time.March, 1)})
	inventorytest.MustCreateBatch(t, conn, inventorytest.BatchFixture{Grams: "10", Remaining: "0", TotalPrice: "400", PurchasedAt: inventorytest.Day(2023, time.June, 1)})
	inventorytest.MustCreateBatch(t, conn, inventorytest.BatchFixture{MetalType: enums.MetalSilver925, Grams: "30", TotalPrice: "30", PurchasedAt: inventorytest.Day(2024, time.February, 1)})

	generated := time.Date(2025, time.January, 1, 12, 0, 0, 0, time.UTC)
	svc, err := NewService(ServiceParams{
		Repository: batches.NewRepository(conn),
		Clock:      func() time.Time { return generated },
	})
	require.NoError(t, err)

	summary, err := svc.Summarize(context.Background())
	require.NoError(t, err)
	require.Len(t, summary.ByMetal, 2)

	gold := summary.ByMetal[0]
	assert.Equal(t, enums.MetalGold18K, gold.MetalType)
	assert.True(t, gold.RemainingGrams.Equal(decimal.NewFromInt(100)))
	assert.True(t, gold.RemainingValue.Equal(decimal.NewFromInt(4520)), "value %s", gold.RemainingValue)
	assert.True(t, gold.WeightedAvgUnitPrice.Equal(decimal.NewFromFloat(45.2)), "avg %s", gold.WeightedAvgUnitPrice)
	assert.Equal(t, 2, gold.ActiveBatches)
	assert.Equal(t, 1, gold.DepletedBatches)
	require.NotNil(t, gold.OldestPurchase)
	require.NotNil(t, gold.NewestPurchase)
	assert.True(t, gold.OldestPurchase.Equal(inventorytest.Day(2024, time.January, 1)), "depleted batches do not count as oldest")
	assert.True(t, gold.NewestPurchase.Equal(inventorytest.Day(2024, time.March, 1)))

	silver := summary.ByMetal[1]
	assert.Equal(t, enums.MetalSilver925, silver.MetalType)

	assert.True(t, summary.Totals.RemainingGrams.Equal(decimal.NewFromInt(130)))
	assert.Equal(t, 3, summary.Totals.ActiveBatches)
	assert.Equal(t, 1, summary.Totals.DepletedBatches)

	require.Len(t, summary.LowStock, 1)
	assert.Equal(t, enums.MetalSilver925, summary.LowStock[0].MetalType)
	assert.True(t, summary.LowStockGrams.Equal(DefaultLowStockGrams))
	assert.True(t, summary.GeneratedAt.Equal(generated))
}

func TestAggregateAlertsOnFullyDepletedMetal(t *testing.T) {
	rows := []models.MetalBatch{
		inventorytest.Batch(t, inventorytest.BatchFixture{MetalType: enums.MetalPlatinum950, Grams: "20", Remaining: "0", TotalPrice: "600", PurchasedAt: time.Now()}),
		inventorytest.Batch(t, inventorytest.BatchFixture{MetalType: enums.MetalGold24K, Grams: "200", TotalPrice: "12000", PurchasedAt: time.Now()}),
	}

	summary := Aggregate(rows, decimal.NewFromInt(250), time.Now())
	require.Len(t, summary.LowStock, 2)
	assert.Equal(t, enums.MetalPlatinum950, summary.LowStock[0].MetalType)
	assert.Equal(t, enums.MetalGold24K, summary.LowStock[1].MetalType)

	platinum := summary.ByMetal[1]
	assert.Equal(t, enums.MetalPlatinum950, platinum.MetalType)
	assert.Nil(t, platinum.OldestPurchase)
	assert.True(t, platinum.WeightedAvgUnitPrice.IsZero())
}

func TestAggregateEmptyRegistry(t *testing.T) {
	summary := Aggregate(nil, DefaultLowStockGrams, time.Now())
	assert.Empty(t, summary.ByMetal)
	assert.NotNil(t, summary.LowStock)
	assert.Empty(t, summary.LowStock)
	assert.True(t, summary.Totals.RemainingGrams.IsZero())
}

func TestSummarizeListsDepletedBatches(t *testing.T) {
	var got batches.ListFilter
	svc, err := NewService(ServiceParams{
		Repository: listerFunc(func(ctx context.Context, filter batches.ListFilter) ([]models.MetalBatch, error) {
			got = filter
			return nil, nil
		}),
		LowStockGrams: decimal.NewFromInt(10),
	})
	require.NoError(t, err)

	summary, err := svc.Summarize(context.Background())
	require.NoError(t, err)
	assert.True(t, got.IncludeDepleted)
	assert.Empty(t, got.MetalType)
	assert.True(t, summary.LowStockGrams.Equal(decimal.NewFromInt(10)))
}

func TestSummarizeWrapsRepositoryError(t *testing.T) {
	svc, err := NewService(ServiceParams{
		Repository: listerFunc(func(context.Context, batches.ListFilter) ([]models.MetalBatch, error) {
			return nil, errors.New("timeout")
		}),
	})
	require.NoError(t, err)

	_, err = svc.Summarize(context.Background())
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeDependency))
}

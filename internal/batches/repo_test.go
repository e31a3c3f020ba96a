package batches

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/atelier-backend/internal/inventorytest"
)

func TestDebitTxComparesVersion(t *testing.T) {
	conn := inventorytest.NewDB(t)
	repo := NewRepository(conn)
	batch := inventorytest.MustCreateBatch(t, conn, inventorytest.BatchFixture{Grams: "100", TotalPrice: "4500", PurchasedAt: time.Now()})

	ok, err := repo.DebitTx(context.Background(), batch.ID, inventorytest.Dec(t, "60"), 0)
	require.NoError(t, err)
	assert.True(t, ok)

	stale, err := repo.DebitTx(context.Background(), batch.ID, inventorytest.Dec(t, "10"), 0)
	require.NoError(t, err)
	assert.False(t, stale, "write with a stale version must not apply")

	stored := inventorytest.MustReload(t, conn, batch.ID)
	assert.Equal(t, "60", stored.RemainingGrams.String())
	assert.Equal(t, 1, stored.Version)
	assert.True(t, stored.UnitPrice.Equal(batch.UnitPrice), "unit price must never change")
}

func TestListForUpdateOrdersByID(t *testing.T) {
	conn := inventorytest.NewDB(t)
	repo := NewRepository(conn)

	var ids []uuid.UUID
	for i := 0; i < 4; i++ {
		b := inventorytest.MustCreateBatch(t, conn, inventorytest.BatchFixture{Grams: "1", TotalPrice: "10", PurchasedAt: time.Now()})
		ids = append(ids, b.ID)
	}

	rows, err := repo.ListForUpdate(context.Background(), []uuid.UUID{ids[3], ids[0], ids[2]})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	for i := 1; i < len(rows); i++ {
		assert.Less(t, rows[i-1].ID.String(), rows[i].ID.String())
	}

	empty, err := repo.ListForUpdate(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

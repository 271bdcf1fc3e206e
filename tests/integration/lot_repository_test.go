package integration

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distflow/backend/internal/domain/lot"
	"github.com/distflow/backend/internal/domain/shared"
	"github.com/distflow/backend/internal/infrastructure/persistence"
)

func newIntegrationLot(t *testing.T, agencyID, productID uuid.UUID, lotNumber string, mfgOffset time.Duration) lot.LotBatch {
	t.Helper()

	expiry := time.Now().AddDate(1, 0, 0)
	l, err := lot.NewLotBatch(lot.NewLotBatchParams{
		LotNumber:         lotNumber,
		ManufacturingDate: time.Now().Add(-mfgOffset),
		ExpiryDate:        &expiry,
		Quantity:          decimal.NewFromInt(100),
		ProductID:         productID,
		AgencyID:          agencyID,
		CreatedBy:         uuid.New(),
		Now:               time.Now(),
	})
	require.NoError(t, err)
	return l
}

func TestLotBatchRepository_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	testDB := NewTestDB(t)
	repo := persistence.NewGormLotBatchRepository(testDB.DB)
	ctx := context.Background()
	agencyID := uuid.New()
	productID := uuid.New()
	actor := uuid.New()

	t.Run("Create and FindByID", func(t *testing.T) {
		defer testDB.CleanTables()

		l := newIntegrationLot(t, agencyID, productID, "LOT-001", 24*time.Hour)
		require.NoError(t, repo.Create(ctx, &l))

		found, err := repo.FindByID(ctx, l.ID)
		require.NoError(t, err)
		assert.Equal(t, "LOT-001", found.LotNumber)
		assert.True(t, found.Quantity.Equal(decimal.NewFromInt(100)))
		assert.Equal(t, lot.StatusActive, found.Status)
	})

	t.Run("duplicate lot number rejected by schema", func(t *testing.T) {
		defer testDB.CleanTables()

		l := newIntegrationLot(t, agencyID, productID, "LOT-DUP", 24*time.Hour)
		require.NoError(t, repo.Create(ctx, &l))

		dup := newIntegrationLot(t, agencyID, productID, "LOT-DUP", 48*time.Hour)
		err := repo.Create(ctx, &dup)
		require.Error(t, err)
		assert.ErrorIs(t, err, shared.ErrAlreadyExists)
	})

	t.Run("same lot number with distinct batch numbers allowed", func(t *testing.T) {
		defer testDB.CleanTables()

		batchA, batchB := "B-A", "B-B"
		la := newIntegrationLot(t, agencyID, productID, "LOT-SPLIT", 24*time.Hour)
		la.BatchNumber = &batchA
		lb := newIntegrationLot(t, agencyID, productID, "LOT-SPLIT", 48*time.Hour)
		lb.BatchNumber = &batchB

		require.NoError(t, repo.Create(ctx, &la))
		require.NoError(t, repo.Create(ctx, &lb))
	})

	t.Run("FIFO candidates ordered by manufacturing date", func(t *testing.T) {
		defer testDB.CleanTables()

		newest := newIntegrationLot(t, agencyID, productID, "LOT-NEW", 24*time.Hour)
		oldest := newIntegrationLot(t, agencyID, productID, "LOT-OLD", 72*time.Hour)
		middle := newIntegrationLot(t, agencyID, productID, "LOT-MID", 48*time.Hour)
		for _, l := range []lot.LotBatch{newest, oldest, middle} {
			require.NoError(t, repo.Create(ctx, &l))
		}

		candidates, err := repo.FindFIFOCandidates(ctx, lot.FIFOQuery{
			AgencyID:  agencyID,
			ProductID: productID,
		})
		require.NoError(t, err)
		require.Len(t, candidates, 3)
		assert.Equal(t, "LOT-OLD", candidates[0].LotNumber)
		assert.Equal(t, "LOT-MID", candidates[1].LotNumber)
		assert.Equal(t, "LOT-NEW", candidates[2].LotNumber)
	})

	t.Run("reserve then consume updates the ledger", func(t *testing.T) {
		defer testDB.CleanTables()

		l := newIntegrationLot(t, agencyID, productID, "LOT-LEDGER", 24*time.Hour)
		require.NoError(t, repo.Create(ctx, &l))

		_, err := repo.Reserve(ctx, l.ID, decimal.NewFromInt(40), actor)
		require.NoError(t, err)

		_, err = repo.Consume(ctx, l.ID, decimal.NewFromInt(30), actor)
		require.NoError(t, err)

		found, err := repo.FindByID(ctx, l.ID)
		require.NoError(t, err)
		assert.True(t, found.RemainingQuantity.Equal(decimal.NewFromInt(70)))
		assert.True(t, found.ReservedQuantity.Equal(decimal.NewFromInt(10)))
	})

	t.Run("concurrent reserves never oversell", func(t *testing.T) {
		defer testDB.CleanTables()

		l := newIntegrationLot(t, agencyID, productID, "LOT-RACE", 24*time.Hour)
		require.NoError(t, repo.Create(ctx, &l))

		// 100 available, 8 workers want 20 each: at most 5 can win.
		const workers = 8
		var wg sync.WaitGroup
		var mu sync.Mutex
		wins := 0

		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := repo.Reserve(ctx, l.ID, decimal.NewFromInt(20), actor); err == nil {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 5, wins)

		found, err := repo.FindByID(ctx, l.ID)
		require.NoError(t, err)
		assert.True(t, found.ReservedQuantity.Equal(decimal.NewFromInt(100)))
	})

	t.Run("schema rejects reserved above remaining", func(t *testing.T) {
		defer testDB.CleanTables()

		l := newIntegrationLot(t, agencyID, productID, "LOT-CHECK", 24*time.Hour)
		require.NoError(t, repo.Create(ctx, &l))

		// The guarded update refuses this before the CHECK constraint fires.
		_, err := repo.Reserve(ctx, l.ID, decimal.NewFromInt(150), actor)
		require.Error(t, err)
	})

	t.Run("ExpireOverdue flips overdue lots", func(t *testing.T) {
		defer testDB.CleanTables()

		l := newIntegrationLot(t, agencyID, productID, "LOT-STALE", 72*time.Hour)
		require.NoError(t, repo.Create(ctx, &l))

		// Backdate the expiry under the repository's feet.
		err := testDB.DB.Exec(
			"UPDATE lot_batches SET expiry_date = ? WHERE id = ?",
			time.Now().Add(-time.Hour), l.ID,
		).Error
		require.NoError(t, err)

		expired, err := repo.ExpireOverdue(ctx, nil, actor, time.Now())
		require.NoError(t, err)
		assert.Equal(t, int64(1), expired)

		found, err := repo.FindByID(ctx, l.ID)
		require.NoError(t, err)
		assert.Equal(t, lot.StatusExpired, found.Status)
	})
}

package lot

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeLot(t *testing.T, lotNumber string, manufactured time.Time, remaining int64) LotBatch {
	t.Helper()
	l, err := NewLotBatch(NewLotBatchParams{
		LotNumber:         lotNumber,
		ManufacturingDate: manufactured,
		Quantity:          decimal.NewFromInt(remaining),
		ProductID:         uuid.New(),
		AgencyID:          uuid.New(),
		CreatedBy:         uuid.New(),
		Now:               testClock,
	})
	require.NoError(t, err)
	return l
}

func TestSelectLots_FIFOOrdering(t *testing.T) {
	d1 := testClock.AddDate(0, 0, -3)
	d2 := testClock.AddDate(0, 0, -2)
	d3 := testClock.AddDate(0, 0, -1)

	lot1 := makeLot(t, "L1", d1, 10)
	lot2 := makeLot(t, "L2", d2, 10)
	lot3 := makeLot(t, "L3", d3, 10)

	// shuffled input; selection must order by manufacturing date
	plan, err := SelectLots(decimal.NewFromInt(25), []LotBatch{lot3, lot1, lot2}, SelectionOptions{Now: testClock})

	require.NoError(t, err)
	require.Len(t, plan.Allocations, 3)
	assert.Equal(t, "L1", plan.Allocations[0].Lot.LotNumber)
	assert.Equal(t, "L2", plan.Allocations[1].Lot.LotNumber)
	assert.Equal(t, "L3", plan.Allocations[2].Lot.LotNumber)
	assert.True(t, plan.Allocations[0].AllocatedQuantity.Equal(decimal.NewFromInt(10)))
	assert.True(t, plan.Allocations[1].AllocatedQuantity.Equal(decimal.NewFromInt(10)))
	assert.True(t, plan.Allocations[2].AllocatedQuantity.Equal(decimal.NewFromInt(5)))
	assert.True(t, plan.FullyAllocated)
	assert.True(t, plan.UnallocatedQuantity.IsZero())
}

func TestSelectLots_TieBreakByLotNumber(t *testing.T) {
	d := testClock.AddDate(0, 0, -1)
	lotB := makeLot(t, "B-LOT", d, 5)
	lotA := makeLot(t, "A-LOT", d, 5)

	plan, err := SelectLots(decimal.NewFromInt(6), []LotBatch{lotB, lotA}, SelectionOptions{Now: testClock})

	require.NoError(t, err)
	require.Len(t, plan.Allocations, 2)
	assert.Equal(t, "A-LOT", plan.Allocations[0].Lot.LotNumber)
	assert.Equal(t, "B-LOT", plan.Allocations[1].Lot.LotNumber)
}

// Concrete scenario: Lot1 (day 1, remaining 5), Lot2 (day 2, remaining 10),
// request 8 -> 5 from Lot1, 3 from Lot2.
func TestSelectLots_SplitsAcrossLots(t *testing.T) {
	lot1 := makeLot(t, "LOT1", testClock.AddDate(0, 0, -2), 5)
	lot2 := makeLot(t, "LOT2", testClock.AddDate(0, 0, -1), 10)

	plan, err := SelectLots(decimal.NewFromInt(8), []LotBatch{lot1, lot2}, SelectionOptions{Now: testClock})

	require.NoError(t, err)
	require.Len(t, plan.Allocations, 2)
	assert.True(t, plan.Allocations[0].AllocatedQuantity.Equal(decimal.NewFromInt(5)))
	assert.True(t, plan.Allocations[1].AllocatedQuantity.Equal(decimal.NewFromInt(3)))
	assert.True(t, plan.TotalAllocated.Equal(decimal.NewFromInt(8)))
	assert.True(t, plan.FullyAllocated)
	assert.True(t, plan.UnallocatedQuantity.IsZero())
}

func TestSelectLots_PartialAllocation(t *testing.T) {
	lot1 := makeLot(t, "LOT1", testClock.AddDate(0, 0, -2), 5)
	lot2 := makeLot(t, "LOT2", testClock.AddDate(0, 0, -1), 10)

	plan, err := SelectLots(decimal.NewFromInt(20), []LotBatch{lot1, lot2}, SelectionOptions{Now: testClock})

	require.NoError(t, err)
	assert.False(t, plan.FullyAllocated)
	assert.True(t, plan.TotalAllocated.Equal(decimal.NewFromInt(15)))
	assert.True(t, plan.UnallocatedQuantity.Equal(decimal.NewFromInt(5)))
}

func TestSelectLots_NoCandidates(t *testing.T) {
	plan, err := SelectLots(decimal.NewFromInt(5), nil, SelectionOptions{Now: testClock})

	require.NoError(t, err)
	assert.Empty(t, plan.Allocations)
	assert.False(t, plan.FullyAllocated)
	assert.True(t, plan.UnallocatedQuantity.Equal(decimal.NewFromInt(5)))
}

func TestSelectLots_SkipsIneligibleLots(t *testing.T) {
	actor := uuid.New()

	t.Run("excluded statuses are skipped", func(t *testing.T) {
		eligible := makeLot(t, "OK", testClock.AddDate(0, 0, -1), 10)
		recalled := makeLot(t, "BAD", testClock.AddDate(0, 0, -5), 10)
		recalledLot, err := recalled.TransitionTo(StatusRecalled, actor, testClock)
		require.NoError(t, err)

		plan, err := SelectLots(decimal.NewFromInt(10), []LotBatch{recalledLot, eligible}, SelectionOptions{Now: testClock})

		require.NoError(t, err)
		require.Len(t, plan.Allocations, 1)
		assert.Equal(t, "OK", plan.Allocations[0].Lot.LotNumber)
	})

	t.Run("stale-status expired lots are skipped", func(t *testing.T) {
		l := newTestLot(t)
		afterExpiry := l.ExpiryDate.AddDate(0, 0, 1)

		plan, err := SelectLots(decimal.NewFromInt(10), []LotBatch{l}, SelectionOptions{Now: afterExpiry})

		require.NoError(t, err)
		assert.Empty(t, plan.Allocations)
	})

	t.Run("reserved quantity is unavailable by default", func(t *testing.T) {
		l := makeLot(t, "LOT", testClock.AddDate(0, 0, -1), 10)
		reserved, err := l.Reserve(decimal.NewFromInt(10), actor, testClock)
		require.NoError(t, err)

		plan, err := SelectLots(decimal.NewFromInt(5), []LotBatch{reserved}, SelectionOptions{Now: testClock})

		require.NoError(t, err)
		assert.Empty(t, plan.Allocations)
	})

	t.Run("include reserved counts remaining quantity", func(t *testing.T) {
		l := makeLot(t, "LOT", testClock.AddDate(0, 0, -1), 10)
		reserved, err := l.Reserve(decimal.NewFromInt(10), actor, testClock)
		require.NoError(t, err)

		plan, err := SelectLots(decimal.NewFromInt(5), []LotBatch{reserved},
			SelectionOptions{IncludeReserved: true, Now: testClock})

		require.NoError(t, err)
		require.Len(t, plan.Allocations, 1)
		assert.True(t, plan.Allocations[0].AllocatedQuantity.Equal(decimal.NewFromInt(5)))
	})

	t.Run("max expiry ceiling excludes later-expiring lots", func(t *testing.T) {
		soonExpiry := testClock.AddDate(0, 0, 5)
		lateExpiry := testClock.AddDate(0, 1, 0)
		ceiling := testClock.AddDate(0, 0, 10)

		soon, err := NewLotBatch(NewLotBatchParams{
			LotNumber: "SOON", ManufacturingDate: testClock.AddDate(0, 0, -5),
			ExpiryDate: &soonExpiry, Quantity: decimal.NewFromInt(10),
			ProductID: uuid.New(), AgencyID: uuid.New(), CreatedBy: uuid.New(), Now: testClock,
		})
		require.NoError(t, err)
		late, err := NewLotBatch(NewLotBatchParams{
			LotNumber: "LATE", ManufacturingDate: testClock.AddDate(0, 0, -10),
			ExpiryDate: &lateExpiry, Quantity: decimal.NewFromInt(10),
			ProductID: uuid.New(), AgencyID: uuid.New(), CreatedBy: uuid.New(), Now: testClock,
		})
		require.NoError(t, err)

		plan, err := SelectLots(decimal.NewFromInt(20), []LotBatch{soon, late},
			SelectionOptions{MaxExpiryDate: &ceiling, Now: testClock})

		require.NoError(t, err)
		require.Len(t, plan.Allocations, 1)
		assert.Equal(t, "SOON", plan.Allocations[0].Lot.LotNumber)
	})
}

func TestSelectLots_RejectsNonPositiveRequest(t *testing.T) {
	_, err := SelectLots(decimal.Zero, nil, SelectionOptions{Now: testClock})
	require.Error(t, err)

	_, err = SelectLots(decimal.NewFromInt(-1), nil, SelectionOptions{Now: testClock})
	require.Error(t, err)
}

func TestTotalAvailable(t *testing.T) {
	lot1 := makeLot(t, "L1", testClock.AddDate(0, 0, -2), 5)
	lot2 := makeLot(t, "L2", testClock.AddDate(0, 0, -1), 10)

	ok, total := TotalAvailable([]LotBatch{lot1, lot2}, decimal.NewFromInt(12), SelectionOptions{Now: testClock})
	assert.True(t, ok)
	assert.True(t, total.Equal(decimal.NewFromInt(15)))

	ok, _ = TotalAvailable([]LotBatch{lot1, lot2}, decimal.NewFromInt(16), SelectionOptions{Now: testClock})
	assert.False(t, ok)
}

package lot

import (
	"context"
	"testing"
	"time"

	"github.com/distflow/backend/internal/domain/lot"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func seedLotWithExpiry(t *testing.T, repo *fakeRepo, lotNumber string, agencyID uuid.UUID, expiry time.Time) lot.LotBatch {
	t.Helper()
	created, err := lot.NewLotBatch(lot.NewLotBatchParams{
		LotNumber:         lotNumber,
		ManufacturingDate: expiry.AddDate(-1, 0, 0),
		ExpiryDate:        &expiry,
		Quantity:          decimal.NewFromInt(10),
		ProductID:         testProductID,
		AgencyID:          agencyID,
		CreatedBy:         testActorID,
		Now:               expiry.AddDate(-1, 0, 0),
	})
	require.NoError(t, err)
	repo.put(created)
	return created
}

func TestExpirationService_ExpireOverdueLots(t *testing.T) {
	ctx := context.Background()

	t.Run("flips overdue active lots and publishes a sweep event", func(t *testing.T) {
		repo := newFakeRepo()
		svc := NewExpirationService(repo, zap.NewNop())
		publisher := &capturingPublisher{}
		svc.SetEventPublisher(publisher)

		overdue := seedLotWithExpiry(t, repo, "LOT-OVERDUE", testAgencyID, time.Now().AddDate(0, 0, -1))
		fresh := seedLotWithExpiry(t, repo, "LOT-FRESH", testAgencyID, time.Now().AddDate(1, 0, 0))

		stats, err := svc.ExpireOverdueLots(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(1), stats.LotsExpired)

		swept, _ := repo.FindByID(ctx, overdue.ID)
		assert.Equal(t, lot.StatusExpired, swept.Status)
		untouched, _ := repo.FindByID(ctx, fresh.ID)
		assert.Equal(t, lot.StatusActive, untouched.Status)
		assert.Equal(t, []string{lot.EventTypeLotsExpired}, publisher.eventTypes())
	})

	t.Run("second sweep finds nothing and publishes nothing", func(t *testing.T) {
		repo := newFakeRepo()
		svc := NewExpirationService(repo, zap.NewNop())
		publisher := &capturingPublisher{}
		svc.SetEventPublisher(publisher)

		seedLotWithExpiry(t, repo, "LOT-OVERDUE", testAgencyID, time.Now().AddDate(0, 0, -1))

		first, err := svc.ExpireOverdueLots(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(1), first.LotsExpired)

		second, err := svc.ExpireOverdueLots(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(0), second.LotsExpired)
		assert.Equal(t, []string{lot.EventTypeLotsExpired}, publisher.eventTypes())
	})

	t.Run("agency scope limits the sweep", func(t *testing.T) {
		repo := newFakeRepo()
		svc := NewExpirationService(repo, zap.NewNop())

		otherAgency := uuid.MustParse("44444444-4444-4444-4444-444444444444")
		mine := seedLotWithExpiry(t, repo, "LOT-MINE", testAgencyID, time.Now().AddDate(0, 0, -1))
		theirs := seedLotWithExpiry(t, repo, "LOT-THEIRS", otherAgency, time.Now().AddDate(0, 0, -1))

		stats, err := svc.ExpireOverdueLots(ctx, &testAgencyID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), stats.LotsExpired)

		swept, _ := repo.FindByID(ctx, mine.ID)
		assert.Equal(t, lot.StatusExpired, swept.Status)
		untouched, _ := repo.FindByID(ctx, theirs.ID)
		assert.Equal(t, lot.StatusActive, untouched.Status)
	})

	t.Run("quarantined lots past expiry are swept too", func(t *testing.T) {
		repo := newFakeRepo()
		svc := NewExpirationService(repo, zap.NewNop())

		held := seedLotWithExpiry(t, repo, "LOT-QC", testAgencyID, time.Now().AddDate(0, 0, -1))
		_, err := repo.UpdateStatus(ctx, held.ID, lot.StatusActive, lot.StatusQuarantine, testActorID)
		require.NoError(t, err)

		stats, err := svc.ExpireOverdueLots(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(1), stats.LotsExpired)

		swept, _ := repo.FindByID(ctx, held.ID)
		assert.Equal(t, lot.StatusExpired, swept.Status)
	})
}

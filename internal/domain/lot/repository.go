package lot

import (
	"context"
	"time"

	"github.com/distflow/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// FIFOQuery restricts the candidate set fetched for allocation
type FIFOQuery struct {
	AgencyID  uuid.UUID
	ProductID uuid.UUID
	// Statuses lists eligible statuses. Empty means ACTIVE only.
	Statuses []Status
	// MaxExpiryDate, when set, excludes lots expiring after the ceiling
	MaxExpiryDate *time.Time
}

// Statistics aggregates repository-level lot figures for an agency
type Statistics struct {
	TotalLots         int64            `json:"total_lots"`
	CountsByStatus    map[Status]int64 `json:"counts_by_status"`
	NearExpiryCount   int64            `json:"near_expiry_count"`
	AvgLotsPerProduct float64          `json:"avg_lots_per_product"`
	OldestLotDate     *time.Time       `json:"oldest_lot_date,omitempty"`
	NewestLotDate     *time.Time       `json:"newest_lot_date,omitempty"`
}

// Repository is the persistence port for lot batches.
//
// The ledger operations (Reserve, ReleaseReserved, Consume, AdjustQuantity,
// UpdateStatus) must be atomic per lot: concurrent callers may never observe
// or produce a state violating the quantity invariants. Implementations
// guard each mutation with a conditional write (compare-and-swap predicate
// or row lock) rather than an unguarded read-modify-write.
type Repository interface {
	// FindByID finds a lot by its ID
	FindByID(ctx context.Context, id uuid.UUID) (*LotBatch, error)

	// FindByLotNumber finds a lot by lot number within a product and agency
	FindByLotNumber(ctx context.Context, agencyID, productID uuid.UUID, lotNumber string) (*LotBatch, error)

	// FindByLotAndBatchNumber finds a lot by lot number and batch number
	// within a product and agency
	FindByLotAndBatchNumber(ctx context.Context, agencyID, productID uuid.UUID, lotNumber, batchNumber string) (*LotBatch, error)

	// ExistsByLotNumber checks for a duplicate lot number within a product
	// and agency
	ExistsByLotNumber(ctx context.Context, agencyID, productID uuid.UUID, lotNumber string) (bool, error)

	// ExistsByLotAndBatchNumber checks for a duplicate lot+batch combination
	// within a product and agency
	ExistsByLotAndBatchNumber(ctx context.Context, agencyID, productID uuid.UUID, lotNumber, batchNumber string) (bool, error)

	// FindFIFOCandidates fetches eligible lots ordered by manufacturing date
	// ascending, lot number ascending
	FindFIFOCandidates(ctx context.Context, q FIFOQuery) ([]LotBatch, error)

	// FindAllForAgency runs a generic filtered search. Supported filter keys:
	// product_id, status, statuses, near_expiry, expired, has_available,
	// manufactured_after, manufactured_before, expires_after, expires_before,
	// min_remaining, max_remaining, supplier_id. The special OrderBy value
	// "fifo_order" sorts by manufacturing date then lot number.
	FindAllForAgency(ctx context.Context, agencyID uuid.UUID, filter shared.Filter) ([]LotBatch, error)

	// CountForAgency counts lots matching the filter
	CountForAgency(ctx context.Context, agencyID uuid.UUID, filter shared.Filter) (int64, error)

	// Create inserts a new lot snapshot
	Create(ctx context.Context, l *LotBatch) error

	// Save persists a full snapshot with an optimistic version check
	Save(ctx context.Context, l *LotBatch) error

	// Delete hard-deletes a lot. Fails while stock is reserved or the lot is
	// ACTIVE with remaining quantity.
	Delete(ctx context.Context, id uuid.UUID) error

	// Reserve atomically earmarks amount of available stock.
	// Returns the post-image snapshot.
	Reserve(ctx context.Context, lotID uuid.UUID, amount decimal.Decimal, actor uuid.UUID) (*LotBatch, error)

	// ReleaseReserved atomically returns amount of reserved stock to
	// availability. Returns the post-image snapshot.
	ReleaseReserved(ctx context.Context, lotID uuid.UUID, amount decimal.Decimal, actor uuid.UUID) (*LotBatch, error)

	// Consume atomically removes amount from remaining stock, releasing any
	// overlapping reservation pro rata and flipping the lot to CONSUMED when
	// drained. Returns the post-image snapshot.
	Consume(ctx context.Context, lotID uuid.UUID, amount decimal.Decimal, actor uuid.UUID) (*LotBatch, error)

	// AdjustQuantity atomically applies an administrative correction to both
	// total and remaining quantity. Returns the post-image snapshot.
	AdjustQuantity(ctx context.Context, lotID uuid.UUID, delta decimal.Decimal, actor uuid.UUID) (*LotBatch, error)

	// UpdateStatus atomically moves a lot from one status to another. The
	// expected current status guards against concurrent transitions.
	UpdateStatus(ctx context.Context, lotID uuid.UUID, from, to Status, actor uuid.UUID) (*LotBatch, error)

	// ExpireOverdue transitions every ACTIVE or QUARANTINE lot whose expiry
	// date has passed to EXPIRED. A nil agencyID sweeps all agencies.
	// Idempotent; returns the number of lots transitioned.
	ExpireOverdue(ctx context.Context, agencyID *uuid.UUID, actor uuid.UUID, now time.Time) (int64, error)

	// AvailableQuantityForProduct sums available (remaining - reserved)
	// quantity across allocatable lots of a product
	AvailableQuantityForProduct(ctx context.Context, agencyID, productID uuid.UUID) (decimal.Decimal, error)

	// ReservedQuantityForProduct sums reserved quantity across lots of a
	// product
	ReservedQuantityForProduct(ctx context.Context, agencyID, productID uuid.UUID) (decimal.Decimal, error)

	// Statistics aggregates lot counts, near-expiry figures and date bounds
	// for an agency
	Statistics(ctx context.Context, agencyID uuid.UUID) (*Statistics, error)
}

package lot

import (
	"regexp"
	"time"

	"github.com/distflow/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// NearExpiryThresholdDays is the default window for near-expiry checks
const NearExpiryThresholdDays = 30

// lotNumberPattern constrains lot and batch numbers to 1-50 chars of
// [A-Za-z0-9_/-]
var lotNumberPattern = regexp.MustCompile(`^[A-Za-z0-9_/-]{1,50}$`)

// LotBatch is an immutable snapshot of one lot/batch record for a product
// within an agency. Mutation operations are value-receiver methods returning
// a new snapshot; the stored row is only changed through the repository's
// atomic ledger operations.
type LotBatch struct {
	ID                uuid.UUID       `gorm:"type:uuid;primaryKey"`
	// Two partial unique indexes carry the duplicate rules: a lot number
	// without a batch number is unique on its own, while batched entries are
	// unique per (lot, batch) pair.
	AgencyID          uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_lot_batches_lot_number_sole,priority:1,where:batch_number IS NULL;uniqueIndex:idx_lot_batches_lot_batch_number,priority:1;index:idx_lot_batches_fifo,priority:1"`
	ProductID         uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_lot_batches_lot_number_sole,priority:2;uniqueIndex:idx_lot_batches_lot_batch_number,priority:2;index:idx_lot_batches_fifo,priority:2"`
	LotNumber         string          `gorm:"size:50;not null;uniqueIndex:idx_lot_batches_lot_number_sole,priority:3;uniqueIndex:idx_lot_batches_lot_batch_number,priority:3;index:idx_lot_batches_fifo,priority:4"`
	BatchNumber       *string         `gorm:"size:50;uniqueIndex:idx_lot_batches_lot_batch_number,priority:4,where:batch_number IS NOT NULL"`
	ManufacturingDate time.Time       `gorm:"not null;index:idx_lot_batches_fifo,priority:3"`
	ExpiryDate        *time.Time      `gorm:"index"`
	Quantity          decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	RemainingQuantity decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	ReservedQuantity  decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	Status            Status          `gorm:"size:20;not null;index"`
	SupplierID        *uuid.UUID      `gorm:"type:uuid"`
	SupplierLotCode   *string         `gorm:"size:100"`
	Notes             *string         `gorm:"size:1000"`
	CreatedBy         uuid.UUID       `gorm:"type:uuid;not null"`
	UpdatedBy         uuid.UUID       `gorm:"type:uuid;not null"`
	CreatedAt         time.Time       `gorm:"not null"`
	UpdatedAt         time.Time       `gorm:"not null"`
	Version           int             `gorm:"not null;default:1"`
}

// TableName returns the table name for GORM
func (LotBatch) TableName() string {
	return "lot_batches"
}

// NewLotBatchParams holds the inputs for creating a lot batch
type NewLotBatchParams struct {
	LotNumber         string
	BatchNumber       *string
	ManufacturingDate time.Time
	ExpiryDate        *time.Time
	Quantity          decimal.Decimal
	ProductID         uuid.UUID
	AgencyID          uuid.UUID
	SupplierID        *uuid.UUID
	SupplierLotCode   *string
	Notes             *string
	CreatedBy         uuid.UUID
	// Now overrides the clock used for future-date and auto-expiry checks.
	// Zero means time.Now().
	Now time.Time
}

// NewLotBatch creates and validates a new lot batch snapshot.
// A lot whose expiry date has already passed is created as EXPIRED.
func NewLotBatch(p NewLotBatchParams) (LotBatch, error) {
	now := p.Now
	if now.IsZero() {
		now = time.Now()
	}

	if !lotNumberPattern.MatchString(p.LotNumber) {
		return LotBatch{}, shared.NewDomainError("INVALID_LOT_NUMBER",
			"Lot number must be 1-50 characters of letters, digits, underscore, slash or hyphen")
	}
	if p.BatchNumber != nil && !lotNumberPattern.MatchString(*p.BatchNumber) {
		return LotBatch{}, shared.NewDomainError("INVALID_BATCH_NUMBER",
			"Batch number must be 1-50 characters of letters, digits, underscore, slash or hyphen")
	}
	if p.ManufacturingDate.After(now) {
		return LotBatch{}, shared.NewDomainError("INVALID_MANUFACTURING_DATE",
			"Manufacturing date cannot be in the future")
	}
	if p.ExpiryDate != nil && !p.ExpiryDate.After(p.ManufacturingDate) {
		return LotBatch{}, shared.NewDomainError("INVALID_EXPIRY_DATE",
			"Expiry date must be after manufacturing date")
	}
	if p.Quantity.LessThanOrEqual(decimal.Zero) {
		return LotBatch{}, shared.NewDomainError("INVALID_QUANTITY",
			"Quantity must be positive")
	}
	if p.ProductID == uuid.Nil {
		return LotBatch{}, shared.NewDomainError("INVALID_PRODUCT", "Product ID cannot be empty")
	}
	if p.AgencyID == uuid.Nil {
		return LotBatch{}, shared.NewDomainError("INVALID_AGENCY", "Agency ID cannot be empty")
	}
	if p.CreatedBy == uuid.Nil {
		return LotBatch{}, shared.NewDomainError("INVALID_ACTOR", "Creating actor is required")
	}

	status := StatusActive
	if p.ExpiryDate != nil && !p.ExpiryDate.After(now) {
		status = StatusExpired
	}

	return LotBatch{
		ID:                uuid.New(),
		AgencyID:          p.AgencyID,
		ProductID:         p.ProductID,
		LotNumber:         p.LotNumber,
		BatchNumber:       p.BatchNumber,
		ManufacturingDate: p.ManufacturingDate,
		ExpiryDate:        p.ExpiryDate,
		Quantity:          p.Quantity,
		RemainingQuantity: p.Quantity,
		ReservedQuantity:  decimal.Zero,
		Status:            status,
		SupplierID:        p.SupplierID,
		SupplierLotCode:   p.SupplierLotCode,
		Notes:             p.Notes,
		CreatedBy:         p.CreatedBy,
		UpdatedBy:         p.CreatedBy,
		CreatedAt:         now,
		UpdatedAt:         now,
		Version:           1,
	}, nil
}

// AvailableQuantity returns remaining minus reserved, the quantity that can
// still be newly reserved. Derived, never persisted independently.
func (l LotBatch) AvailableQuantity() decimal.Decimal {
	return l.RemainingQuantity.Sub(l.ReservedQuantity)
}

// IsExpired returns true if the lot's expiry date has passed,
// regardless of its stored status
func (l LotBatch) IsExpired(now time.Time) bool {
	return l.ExpiryDate != nil && l.ExpiryDate.Before(now)
}

// IsNearExpiry returns true if the lot will expire within thresholdDays.
// An already expired lot is not near expiry.
func (l LotBatch) IsNearExpiry(now time.Time, thresholdDays int) bool {
	if l.ExpiryDate == nil || l.IsExpired(now) {
		return false
	}
	return !l.ExpiryDate.After(now.AddDate(0, 0, thresholdDays))
}

// IsAvailable returns true if the lot can accept new reservations
func (l LotBatch) IsAvailable(now time.Time) bool {
	return l.Status == StatusActive &&
		l.AvailableQuantity().GreaterThan(decimal.Zero) &&
		!l.IsExpired(now)
}

// IsFullyConsumed returns true if no stock remains
func (l LotBatch) IsFullyConsumed() bool {
	return l.RemainingQuantity.IsZero()
}

// DaysUntilExpiry returns the number of whole days until expiry, -1 if the
// lot has no expiry date
func (l LotBatch) DaysUntilExpiry(now time.Time) int {
	if l.ExpiryDate == nil {
		return -1
	}
	return int(l.ExpiryDate.Sub(now).Hours() / 24)
}

// Reserve earmarks amount of available stock for a pending order
func (l LotBatch) Reserve(amount decimal.Decimal, actor uuid.UUID, now time.Time) (LotBatch, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return LotBatch{}, shared.NewDomainError("INVALID_QUANTITY", "Reserve amount must be positive")
	}
	if l.Status != StatusActive {
		return LotBatch{}, NewInvalidStatusTransitionError(l.ID, l.Status, l.Status,
			"lot is not in an allocatable status")
	}
	if l.IsExpired(now) {
		return LotBatch{}, NewExpiredLotError(l.ID, *l.ExpiryDate)
	}
	if amount.GreaterThan(l.AvailableQuantity()) {
		return LotBatch{}, NewInsufficientQuantityError(l.ID, amount, l.AvailableQuantity())
	}

	next := l
	next.ReservedQuantity = l.ReservedQuantity.Add(amount)
	next.touch(actor, now)
	return next, nil
}

// ReleaseReserved returns amount of reserved stock to availability.
// No status requirement: reservations must always be unwindable even after
// the lot drifted to quarantine or expiry.
func (l LotBatch) ReleaseReserved(amount decimal.Decimal, actor uuid.UUID, now time.Time) (LotBatch, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return LotBatch{}, shared.NewDomainError("INVALID_QUANTITY", "Release amount must be positive")
	}
	if amount.GreaterThan(l.ReservedQuantity) {
		return LotBatch{}, NewInsufficientQuantityError(l.ID, amount, l.ReservedQuantity)
	}

	next := l
	next.ReservedQuantity = l.ReservedQuantity.Sub(amount)
	next.touch(actor, now)
	return next, nil
}

// Consume permanently removes amount from remaining stock. Consuming
// previously reserved stock releases the reservation pro rata. When remaining
// reaches zero the lot automatically becomes CONSUMED.
func (l LotBatch) Consume(amount decimal.Decimal, actor uuid.UUID, now time.Time) (LotBatch, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return LotBatch{}, shared.NewDomainError("INVALID_QUANTITY", "Consume amount must be positive")
	}
	if l.Status != StatusActive && l.Status != StatusReserved {
		return LotBatch{}, NewInvalidStatusTransitionError(l.ID, l.Status, StatusConsumed,
			"lot is not in a consumable status")
	}
	if amount.GreaterThan(l.RemainingQuantity) {
		return LotBatch{}, NewInsufficientQuantityError(l.ID, amount, l.RemainingQuantity)
	}

	next := l
	next.RemainingQuantity = l.RemainingQuantity.Sub(amount)
	next.ReservedQuantity = l.ReservedQuantity.Sub(decimal.Min(amount, l.ReservedQuantity))
	if next.RemainingQuantity.IsZero() {
		next.Status = StatusConsumed
	}
	next.touch(actor, now)
	return next, nil
}

// AdjustQuantity applies an administrative correction to both total and
// remaining quantity. Positive delta is found/returned stock, negative is
// shrinkage or a write-off. Stock can never shrink below what is reserved.
func (l LotBatch) AdjustQuantity(delta decimal.Decimal, reason string, actor uuid.UUID, now time.Time) (LotBatch, error) {
	if delta.IsZero() {
		return LotBatch{}, shared.NewDomainError("INVALID_QUANTITY", "Adjustment delta cannot be zero")
	}
	if reason == "" {
		return LotBatch{}, shared.NewDomainError("INVALID_REASON", "Adjustment reason is required")
	}
	if l.Quantity.Add(delta).IsNegative() {
		return LotBatch{}, NewInsufficientQuantityError(l.ID, delta.Neg(), l.Quantity)
	}
	if l.RemainingQuantity.Add(delta).LessThan(l.ReservedQuantity) {
		return LotBatch{}, NewInsufficientQuantityError(l.ID, delta.Neg(),
			l.RemainingQuantity.Sub(l.ReservedQuantity))
	}

	next := l
	next.Quantity = l.Quantity.Add(delta)
	next.RemainingQuantity = l.RemainingQuantity.Add(delta)
	next.touch(actor, now)
	return next, nil
}

// TransitionTo moves the lot to a new status, validating against the
// transition table and the transition-time business rules. Transitioning to
// the current status is a no-op returning the identical snapshot.
func (l LotBatch) TransitionTo(newStatus Status, actor uuid.UUID, now time.Time) (LotBatch, error) {
	if !newStatus.IsValid() {
		return LotBatch{}, shared.NewDomainError("INVALID_STATUS", "Unknown status: "+newStatus.String())
	}
	if newStatus == l.Status {
		return l, nil
	}
	if !l.Status.CanTransitionTo(newStatus) {
		return LotBatch{}, NewInvalidStatusTransitionError(l.ID, l.Status, newStatus, "")
	}
	if newStatus == StatusConsumed && l.RemainingQuantity.GreaterThan(decimal.Zero) {
		return LotBatch{}, NewInvalidStatusTransitionError(l.ID, l.Status, newStatus,
			"lot cannot be marked consumed while stock remains")
	}
	if newStatus == StatusActive && l.IsExpired(now) {
		return LotBatch{}, NewInvalidStatusTransitionError(l.ID, l.Status, newStatus,
			"expired lot cannot be reactivated")
	}

	next := l
	next.Status = newStatus
	next.touch(actor, now)
	return next, nil
}

// CanBeDeleted returns true if hard-deleting the lot would not lose live
// stock: nothing reserved, and not ACTIVE with remaining quantity.
func (l LotBatch) CanBeDeleted() bool {
	if l.ReservedQuantity.GreaterThan(decimal.Zero) {
		return false
	}
	if l.Status == StatusActive && l.RemainingQuantity.GreaterThan(decimal.Zero) {
		return false
	}
	return true
}

// touch stamps the audit fields and bumps the optimistic concurrency token
func (l *LotBatch) touch(actor uuid.UUID, now time.Time) {
	l.UpdatedBy = actor
	l.UpdatedAt = now
	l.Version++
}

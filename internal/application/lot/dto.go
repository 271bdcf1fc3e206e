package lot

import (
	"time"

	"github.com/distflow/backend/internal/domain/lot"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CreateLotInput carries the fields for receiving a new lot into inventory.
// Structural validation happens here; charset, date and quantity rules are
// enforced again by the domain factory.
type CreateLotInput struct {
	LotNumber         string          `json:"lot_number" validate:"required,max=50"`
	BatchNumber       *string         `json:"batch_number,omitempty" validate:"omitempty,min=1,max=50"`
	ManufacturingDate time.Time       `json:"manufacturing_date" validate:"required"`
	ExpiryDate        *time.Time      `json:"expiry_date,omitempty"`
	Quantity          decimal.Decimal `json:"quantity" validate:"required"`
	ProductID         uuid.UUID       `json:"product_id" validate:"required"`
	AgencyID          uuid.UUID       `json:"agency_id" validate:"required"`
	SupplierID        *uuid.UUID      `json:"supplier_id,omitempty"`
	SupplierLotCode   *string         `json:"supplier_lot_code,omitempty" validate:"omitempty,max=100"`
	Notes             *string         `json:"notes,omitempty" validate:"omitempty,max=1000"`
	CreatedBy         uuid.UUID       `json:"created_by" validate:"required"`
}

// AllocationRequest asks for quantity of a product to be selected FIFO and
// reserved across lots
type AllocationRequest struct {
	AgencyID  uuid.UUID       `json:"agency_id" validate:"required"`
	ProductID uuid.UUID       `json:"product_id" validate:"required"`
	Quantity  decimal.Decimal `json:"quantity" validate:"required"`
	Actor     uuid.UUID       `json:"actor" validate:"required"`
	// AllowPartial commits reservations even when the plan cannot cover the
	// full request. When false a partial plan is returned uncommitted.
	AllowPartial bool `json:"allow_partial"`
	// MaxExpiryDate excludes lots expiring after the ceiling
	MaxExpiryDate *time.Time `json:"max_expiry_date,omitempty"`
	// IncludeReserved counts remaining instead of available quantity during
	// selection. Reservation of already-reserved stock still fails, so this
	// is only useful for what-if planning together with dry-run callers.
	IncludeReserved bool `json:"include_reserved"`
}

// AllocationResult reports the outcome of AllocateAndReserve. Committed is
// false when the plan was not acted on (partial fill with AllowPartial off).
type AllocationResult struct {
	Plan      *lot.AllocationPlan `json:"plan"`
	Reserved  []lot.LotBatch      `json:"reserved"`
	Committed bool                `json:"committed"`
}

// SelectionInput parametrizes a read-only FIFO selection
type SelectionInput struct {
	AgencyID        uuid.UUID
	ProductID       uuid.UUID
	Quantity        decimal.Decimal
	ExcludeStatuses []lot.Status
	IncludeReserved bool
	MaxExpiryDate   *time.Time
}

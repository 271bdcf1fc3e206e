package lot

import (
	"fmt"
	"time"

	"github.com/distflow/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InsufficientQuantityError is returned when a ledger operation requests more
// quantity than the lot can provide. It carries both amounts so callers can
// surface a meaningful "insufficient stock" message.
type InsufficientQuantityError struct {
	LotID     uuid.UUID
	Requested decimal.Decimal
	Available decimal.Decimal
}

// Error implements the error interface
func (e *InsufficientQuantityError) Error() string {
	return fmt.Sprintf("insufficient quantity on lot %s: requested %s, available %s",
		e.LotID, e.Requested, e.Available)
}

// Unwrap allows errors.Is(err, shared.ErrInsufficientStock)
func (e *InsufficientQuantityError) Unwrap() error {
	return shared.ErrInsufficientStock
}

// NewInsufficientQuantityError creates a new InsufficientQuantityError
func NewInsufficientQuantityError(lotID uuid.UUID, requested, available decimal.Decimal) *InsufficientQuantityError {
	return &InsufficientQuantityError{LotID: lotID, Requested: requested, Available: available}
}

// InvalidStatusTransitionError is returned when a status change violates the
// transition table or a transition-time business rule.
type InvalidStatusTransitionError struct {
	LotID  uuid.UUID
	From   Status
	To     Status
	Reason string
}

// Error implements the error interface
func (e *InvalidStatusTransitionError) Error() string {
	msg := fmt.Sprintf("invalid status transition for lot %s: %s -> %s", e.LotID, e.From, e.To)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// Unwrap allows errors.Is(err, shared.ErrInvalidState)
func (e *InvalidStatusTransitionError) Unwrap() error {
	return shared.ErrInvalidState
}

// NewInvalidStatusTransitionError creates a new InvalidStatusTransitionError
func NewInvalidStatusTransitionError(lotID uuid.UUID, from, to Status, reason string) *InvalidStatusTransitionError {
	return &InvalidStatusTransitionError{LotID: lotID, From: from, To: to, Reason: reason}
}

// ExpiredLotError is returned when an availability-requiring operation targets
// an expired lot.
type ExpiredLotError struct {
	LotID      uuid.UUID
	ExpiryDate time.Time
}

// Error implements the error interface
func (e *ExpiredLotError) Error() string {
	return fmt.Sprintf("lot %s expired on %s", e.LotID, e.ExpiryDate.Format("2006-01-02"))
}

// Unwrap allows errors.Is(err, shared.ErrInvalidState)
func (e *ExpiredLotError) Unwrap() error {
	return shared.ErrInvalidState
}

// NewExpiredLotError creates a new ExpiredLotError
func NewExpiredLotError(lotID uuid.UUID, expiryDate time.Time) *ExpiredLotError {
	return &ExpiredLotError{LotID: lotID, ExpiryDate: expiryDate}
}

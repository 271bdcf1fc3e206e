package lot

import (
	"github.com/distflow/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Aggregate type constant
const AggregateTypeLotBatch = "LotBatch"

// Event type constants
const (
	EventTypeLotCreated          = "LotCreated"
	EventTypeStockReserved       = "StockReserved"
	EventTypeReservationReleased = "ReservationReleased"
	EventTypeStockConsumed       = "StockConsumed"
	EventTypeQuantityAdjusted    = "QuantityAdjusted"
	EventTypeLotStatusChanged    = "LotStatusChanged"
	EventTypeLotsExpired         = "LotsExpired"
)

// LotCreatedEvent is raised when a new lot is received into inventory
type LotCreatedEvent struct {
	shared.BaseDomainEvent
	LotID       uuid.UUID       `json:"lot_id"`
	ProductID   uuid.UUID       `json:"product_id"`
	LotNumber   string          `json:"lot_number"`
	BatchNumber *string         `json:"batch_number,omitempty"`
	Quantity    decimal.Decimal `json:"quantity"`
	Status      Status          `json:"status"`
}

// NewLotCreatedEvent creates a new LotCreatedEvent
func NewLotCreatedEvent(l LotBatch) *LotCreatedEvent {
	return &LotCreatedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeLotCreated, AggregateTypeLotBatch, l.ID, l.AgencyID),
		LotID:           l.ID,
		ProductID:       l.ProductID,
		LotNumber:       l.LotNumber,
		BatchNumber:     l.BatchNumber,
		Quantity:        l.Quantity,
		Status:          l.Status,
	}
}

// EventType returns the event type name
func (e *LotCreatedEvent) EventType() string {
	return EventTypeLotCreated
}

// StockReservedEvent is raised when stock is reserved for a pending order
type StockReservedEvent struct {
	shared.BaseDomainEvent
	LotID     uuid.UUID       `json:"lot_id"`
	ProductID uuid.UUID       `json:"product_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	Actor     uuid.UUID       `json:"actor"`
}

// NewStockReservedEvent creates a new StockReservedEvent
func NewStockReservedEvent(l LotBatch, quantity decimal.Decimal, actor uuid.UUID) *StockReservedEvent {
	return &StockReservedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeStockReserved, AggregateTypeLotBatch, l.ID, l.AgencyID),
		LotID:           l.ID,
		ProductID:       l.ProductID,
		Quantity:        quantity,
		Actor:           actor,
	}
}

// EventType returns the event type name
func (e *StockReservedEvent) EventType() string {
	return EventTypeStockReserved
}

// ReservationReleasedEvent is raised when a reservation is unwound
type ReservationReleasedEvent struct {
	shared.BaseDomainEvent
	LotID     uuid.UUID       `json:"lot_id"`
	ProductID uuid.UUID       `json:"product_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	Actor     uuid.UUID       `json:"actor"`
}

// NewReservationReleasedEvent creates a new ReservationReleasedEvent
func NewReservationReleasedEvent(l LotBatch, quantity decimal.Decimal, actor uuid.UUID) *ReservationReleasedEvent {
	return &ReservationReleasedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeReservationReleased, AggregateTypeLotBatch, l.ID, l.AgencyID),
		LotID:           l.ID,
		ProductID:       l.ProductID,
		Quantity:        quantity,
		Actor:           actor,
	}
}

// EventType returns the event type name
func (e *ReservationReleasedEvent) EventType() string {
	return EventTypeReservationReleased
}

// StockConsumedEvent is raised when stock is permanently removed (fulfillment)
type StockConsumedEvent struct {
	shared.BaseDomainEvent
	LotID         uuid.UUID       `json:"lot_id"`
	ProductID     uuid.UUID       `json:"product_id"`
	Quantity      decimal.Decimal `json:"quantity"`
	FullyConsumed bool            `json:"fully_consumed"`
	Actor         uuid.UUID       `json:"actor"`
}

// NewStockConsumedEvent creates a new StockConsumedEvent
func NewStockConsumedEvent(l LotBatch, quantity decimal.Decimal, actor uuid.UUID) *StockConsumedEvent {
	return &StockConsumedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeStockConsumed, AggregateTypeLotBatch, l.ID, l.AgencyID),
		LotID:           l.ID,
		ProductID:       l.ProductID,
		Quantity:        quantity,
		FullyConsumed:   l.IsFullyConsumed(),
		Actor:           actor,
	}
}

// EventType returns the event type name
func (e *StockConsumedEvent) EventType() string {
	return EventTypeStockConsumed
}

// QuantityAdjustedEvent is raised by administrative quantity corrections
type QuantityAdjustedEvent struct {
	shared.BaseDomainEvent
	LotID     uuid.UUID       `json:"lot_id"`
	ProductID uuid.UUID       `json:"product_id"`
	Delta     decimal.Decimal `json:"delta"`
	Reason    string          `json:"reason"`
	Actor     uuid.UUID       `json:"actor"`
}

// NewQuantityAdjustedEvent creates a new QuantityAdjustedEvent
func NewQuantityAdjustedEvent(l LotBatch, delta decimal.Decimal, reason string, actor uuid.UUID) *QuantityAdjustedEvent {
	return &QuantityAdjustedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeQuantityAdjusted, AggregateTypeLotBatch, l.ID, l.AgencyID),
		LotID:           l.ID,
		ProductID:       l.ProductID,
		Delta:           delta,
		Reason:          reason,
		Actor:           actor,
	}
}

// EventType returns the event type name
func (e *QuantityAdjustedEvent) EventType() string {
	return EventTypeQuantityAdjusted
}

// LotStatusChangedEvent is raised when a lot moves through its state machine
type LotStatusChangedEvent struct {
	shared.BaseDomainEvent
	LotID     uuid.UUID `json:"lot_id"`
	ProductID uuid.UUID `json:"product_id"`
	From      Status    `json:"from"`
	To        Status    `json:"to"`
	Reason    string    `json:"reason,omitempty"`
	Actor     uuid.UUID `json:"actor"`
}

// NewLotStatusChangedEvent creates a new LotStatusChangedEvent
func NewLotStatusChangedEvent(l LotBatch, from Status, reason string, actor uuid.UUID) *LotStatusChangedEvent {
	return &LotStatusChangedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeLotStatusChanged, AggregateTypeLotBatch, l.ID, l.AgencyID),
		LotID:           l.ID,
		ProductID:       l.ProductID,
		From:            from,
		To:              l.Status,
		Reason:          reason,
		Actor:           actor,
	}
}

// EventType returns the event type name
func (e *LotStatusChangedEvent) EventType() string {
	return EventTypeLotStatusChanged
}

// LotsExpiredEvent is raised by the expiry sweeper after a bulk transition
type LotsExpiredEvent struct {
	shared.BaseDomainEvent
	Count int64     `json:"count"`
	Actor uuid.UUID `json:"actor"`
}

// NewLotsExpiredEvent creates a new LotsExpiredEvent. The aggregate ID is nil
// because the sweep spans many lots; AgencyID is nil for a global sweep.
func NewLotsExpiredEvent(agencyID uuid.UUID, count int64, actor uuid.UUID) *LotsExpiredEvent {
	return &LotsExpiredEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeLotsExpired, AggregateTypeLotBatch, uuid.Nil, agencyID),
		Count:           count,
		Actor:           actor,
	}
}

// EventType returns the event type name
func (e *LotsExpiredEvent) EventType() string {
	return EventTypeLotsExpired
}

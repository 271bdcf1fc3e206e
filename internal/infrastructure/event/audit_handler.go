package event

import (
	"context"

	"go.uber.org/zap"

	"github.com/distflow/backend/internal/domain/lot"
	"github.com/distflow/backend/internal/domain/shared"
)

// AuditTrailHandler writes every lot lifecycle event to the structured log,
// producing a queryable trail of who moved which quantities and when.
// Subscribed as a wildcard handler.
type AuditTrailHandler struct {
	logger *zap.Logger
}

func NewAuditTrailHandler(logger *zap.Logger) *AuditTrailHandler {
	return &AuditTrailHandler{logger: logger}
}

// EventTypes returns nil so the handler receives all events.
func (h *AuditTrailHandler) EventTypes() []string {
	return nil
}

func (h *AuditTrailHandler) Handle(_ context.Context, evt shared.DomainEvent) error {
	fields := []zap.Field{
		zap.String("event_id", evt.EventID().String()),
		zap.String("aggregate_type", evt.AggregateType()),
		zap.String("aggregate_id", evt.AggregateID().String()),
		zap.String("agency_id", evt.AgencyID().String()),
		zap.Time("occurred_at", evt.OccurredAt()),
	}

	switch e := evt.(type) {
	case *lot.StockReservedEvent:
		fields = append(fields,
			zap.String("quantity", e.Quantity.String()),
			zap.String("actor", e.Actor.String()),
		)
	case *lot.ReservationReleasedEvent:
		fields = append(fields,
			zap.String("quantity", e.Quantity.String()),
			zap.String("actor", e.Actor.String()),
		)
	case *lot.StockConsumedEvent:
		fields = append(fields,
			zap.String("quantity", e.Quantity.String()),
			zap.String("actor", e.Actor.String()),
		)
	case *lot.QuantityAdjustedEvent:
		fields = append(fields,
			zap.String("delta", e.Delta.String()),
			zap.String("actor", e.Actor.String()),
		)
	case *lot.LotsExpiredEvent:
		fields = append(fields,
			zap.Int64("count", e.Count),
			zap.String("actor", e.Actor.String()),
		)
	}

	h.logger.Info("audit: "+evt.EventType(), fields...)
	return nil
}

var _ shared.EventHandler = (*AuditTrailHandler)(nil)

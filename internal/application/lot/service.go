package lot

import (
	"context"
	"fmt"
	"time"

	"github.com/distflow/backend/internal/domain/lot"
	"github.com/distflow/backend/internal/domain/shared"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DefaultReservationIdempotencyTTL bounds how long a reservation command key
// is remembered
const DefaultReservationIdempotencyTTL = 24 * time.Hour

// Service handles lot/batch inventory operations
type Service struct {
	repo        lot.Repository
	products    ProductChecker
	agencies    AgencyChecker
	events      shared.EventPublisher
	idempotency shared.IdempotencyStore
	validate    *validator.Validate
	logger      *zap.Logger
}

// NewService creates a new lot Service
func NewService(
	repo lot.Repository,
	products ProductChecker,
	agencies AgencyChecker,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:     repo,
		products: products,
		agencies: agencies,
		validate: validator.New(),
		logger:   logger,
	}
}

// SetEventPublisher sets the event publisher for publishing domain events
func (s *Service) SetEventPublisher(publisher shared.EventPublisher) {
	s.events = publisher
}

// SetIdempotencyStore enables idempotency-key support on reservation commands
func (s *Service) SetIdempotencyStore(store shared.IdempotencyStore) {
	s.idempotency = store
}

// CreateLot validates and persists a new lot, checking agency/product gates
// and duplicate lot/batch numbers before any write
func (s *Service) CreateLot(ctx context.Context, input CreateLotInput) (*lot.LotBatch, error) {
	if err := s.validate.Struct(input); err != nil {
		return nil, shared.NewDomainError("INVALID_INPUT", err.Error())
	}

	operational, err := s.agencies.IsOperational(ctx, input.AgencyID)
	if err != nil {
		return nil, fmt.Errorf("check agency: %w", err)
	}
	if !operational {
		return nil, shared.NewDomainError("AGENCY_NOT_OPERATIONAL", "Agency does not exist or is not operational")
	}

	active, err := s.products.IsActive(ctx, input.ProductID)
	if err != nil {
		return nil, fmt.Errorf("check product: %w", err)
	}
	if !active {
		return nil, shared.NewDomainError("PRODUCT_NOT_ACTIVE", "Product does not exist or is not active")
	}

	if input.BatchNumber == nil {
		exists, err := s.repo.ExistsByLotNumber(ctx, input.AgencyID, input.ProductID, input.LotNumber)
		if err != nil {
			return nil, fmt.Errorf("check duplicate lot number: %w", err)
		}
		if exists {
			return nil, shared.NewDomainError("DUPLICATE_LOT_NUMBER",
				"A lot with this lot number already exists for the product")
		}
	} else {
		exists, err := s.repo.ExistsByLotAndBatchNumber(ctx, input.AgencyID, input.ProductID, input.LotNumber, *input.BatchNumber)
		if err != nil {
			return nil, fmt.Errorf("check duplicate lot/batch number: %w", err)
		}
		if exists {
			return nil, shared.NewDomainError("DUPLICATE_BATCH_NUMBER",
				"This lot and batch number combination already exists for the product")
		}
	}

	created, err := lot.NewLotBatch(lot.NewLotBatchParams{
		LotNumber:         input.LotNumber,
		BatchNumber:       input.BatchNumber,
		ManufacturingDate: input.ManufacturingDate,
		ExpiryDate:        input.ExpiryDate,
		Quantity:          input.Quantity,
		ProductID:         input.ProductID,
		AgencyID:          input.AgencyID,
		SupplierID:        input.SupplierID,
		SupplierLotCode:   input.SupplierLotCode,
		Notes:             input.Notes,
		CreatedBy:         input.CreatedBy,
	})
	if err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, &created); err != nil {
		return nil, fmt.Errorf("create lot: %w", err)
	}

	s.publish(ctx, lot.NewLotCreatedEvent(created))
	s.logger.Info("lot created",
		zap.String("lot_id", created.ID.String()),
		zap.String("lot_number", created.LotNumber),
		zap.String("product_id", created.ProductID.String()),
		zap.String("status", created.Status.String()),
	)

	return &created, nil
}

// GetLot fetches a single lot snapshot
func (s *Service) GetLot(ctx context.Context, lotID uuid.UUID) (*lot.LotBatch, error) {
	return s.repo.FindByID(ctx, lotID)
}

// Reserve earmarks quantity on a lot for a pending order
func (s *Service) Reserve(ctx context.Context, lotID uuid.UUID, amount decimal.Decimal, actor uuid.UUID) (*lot.LotBatch, error) {
	reserved, err := s.repo.Reserve(ctx, lotID, amount, actor)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, lot.NewStockReservedEvent(*reserved, amount, actor))
	return reserved, nil
}

// ReserveWithIdempotencyKey is Reserve with duplicate-command protection:
// replaying the same key returns the current snapshot without reserving
// twice. Requires an idempotency store.
func (s *Service) ReserveWithIdempotencyKey(ctx context.Context, key string, lotID uuid.UUID, amount decimal.Decimal, actor uuid.UUID) (*lot.LotBatch, error) {
	if s.idempotency == nil {
		return nil, shared.NewDomainError("IDEMPOTENCY_UNAVAILABLE", "No idempotency store configured")
	}
	if key == "" {
		return nil, shared.NewDomainError("INVALID_INPUT", "Idempotency key is required")
	}

	fresh, err := s.idempotency.MarkProcessed(ctx, key, DefaultReservationIdempotencyTTL)
	if err != nil {
		return nil, fmt.Errorf("idempotency check: %w", err)
	}
	if !fresh {
		s.logger.Debug("duplicate reservation command ignored",
			zap.String("idempotency_key", key),
			zap.String("lot_id", lotID.String()),
		)
		return s.repo.FindByID(ctx, lotID)
	}

	reserved, err := s.Reserve(ctx, lotID, amount, actor)
	if err != nil {
		// The command did not take effect; release the key so a retry is
		// not misreported as an already-successful duplicate.
		if unmarkErr := s.idempotency.Unmark(ctx, key); unmarkErr != nil {
			s.logger.Warn("failed to release idempotency key after reserve failure",
				zap.String("idempotency_key", key),
				zap.String("lot_id", lotID.String()),
				zap.Error(unmarkErr),
			)
		}
		return nil, err
	}
	return reserved, nil
}

// ReleaseReserved returns reserved quantity to availability
func (s *Service) ReleaseReserved(ctx context.Context, lotID uuid.UUID, amount decimal.Decimal, actor uuid.UUID) (*lot.LotBatch, error) {
	released, err := s.repo.ReleaseReserved(ctx, lotID, amount, actor)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, lot.NewReservationReleasedEvent(*released, amount, actor))
	return released, nil
}

// Consume permanently removes quantity from a lot (fulfillment/shipment)
func (s *Service) Consume(ctx context.Context, lotID uuid.UUID, amount decimal.Decimal, actor uuid.UUID) (*lot.LotBatch, error) {
	consumed, err := s.repo.Consume(ctx, lotID, amount, actor)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, lot.NewStockConsumedEvent(*consumed, amount, actor))
	return consumed, nil
}

// AdjustQuantity applies an administrative stock correction with a mandatory
// reason for the audit trail
func (s *Service) AdjustQuantity(ctx context.Context, lotID uuid.UUID, delta decimal.Decimal, reason string, actor uuid.UUID) (*lot.LotBatch, error) {
	if reason == "" {
		return nil, shared.NewDomainError("INVALID_REASON", "Adjustment reason is required")
	}
	if delta.IsZero() {
		return nil, shared.NewDomainError("INVALID_QUANTITY", "Adjustment delta cannot be zero")
	}

	adjusted, err := s.repo.AdjustQuantity(ctx, lotID, delta, actor)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, lot.NewQuantityAdjustedEvent(*adjusted, delta, reason, actor))
	return adjusted, nil
}

// UpdateStatus moves a lot through its state machine. Requesting the current
// status is a no-op returning the unchanged snapshot.
func (s *Service) UpdateStatus(ctx context.Context, lotID uuid.UUID, newStatus lot.Status, actor uuid.UUID, reason string) (*lot.LotBatch, error) {
	current, err := s.repo.FindByID(ctx, lotID)
	if err != nil {
		return nil, err
	}

	next, err := current.TransitionTo(newStatus, actor, time.Now())
	if err != nil {
		return nil, err
	}
	if next.Status == current.Status {
		return current, nil
	}

	updated, err := s.repo.UpdateStatus(ctx, lotID, current.Status, newStatus, actor)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, lot.NewLotStatusChangedEvent(*updated, current.Status, reason, actor))
	s.logger.Info("lot status changed",
		zap.String("lot_id", lotID.String()),
		zap.String("from", current.Status.String()),
		zap.String("to", updated.Status.String()),
	)

	return updated, nil
}

// SelectFifoLots computes a read-only FIFO allocation plan. Nothing is
// reserved; the caller decides what to do with the proposal.
func (s *Service) SelectFifoLots(ctx context.Context, input SelectionInput) (*lot.AllocationPlan, error) {
	statuses := invertExclusions(input.ExcludeStatuses)
	candidates, err := s.repo.FindFIFOCandidates(ctx, lot.FIFOQuery{
		AgencyID:      input.AgencyID,
		ProductID:     input.ProductID,
		Statuses:      statuses,
		MaxExpiryDate: input.MaxExpiryDate,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch fifo candidates: %w", err)
	}

	return lot.SelectLots(input.Quantity, candidates, lot.SelectionOptions{
		ExcludeStatuses: input.ExcludeStatuses,
		IncludeReserved: input.IncludeReserved,
		MaxExpiryDate:   input.MaxExpiryDate,
	})
}

// AllocateAndReserve selects lots FIFO and reserves each allocation. The
// multi-lot reservation runs as a saga: if any reserve fails, reservations
// already taken are released before the error is returned. A partial plan
// with AllowPartial off is returned uncommitted; partial fill itself is not
// an error.
func (s *Service) AllocateAndReserve(ctx context.Context, req AllocationRequest) (*AllocationResult, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, shared.NewDomainError("INVALID_INPUT", err.Error())
	}

	operational, err := s.agencies.IsOperational(ctx, req.AgencyID)
	if err != nil {
		return nil, fmt.Errorf("check agency: %w", err)
	}
	if !operational {
		return nil, shared.NewDomainError("AGENCY_NOT_OPERATIONAL", "Agency does not exist or is not operational")
	}

	// Plan only from lots the reservation guard accepts; a quarantined or
	// reserved-status lot in the FIFO window would otherwise be allocated and
	// then abort the commit.
	plan, err := s.SelectFifoLots(ctx, SelectionInput{
		AgencyID:        req.AgencyID,
		ProductID:       req.ProductID,
		Quantity:        req.Quantity,
		ExcludeStatuses: lot.ReservationExcludedStatuses(),
		IncludeReserved: req.IncludeReserved,
		MaxExpiryDate:   req.MaxExpiryDate,
	})
	if err != nil {
		return nil, err
	}

	if !plan.FullyAllocated && !req.AllowPartial {
		return &AllocationResult{Plan: plan, Committed: false}, nil
	}

	reserved := make([]lot.LotBatch, 0, len(plan.Allocations))
	for _, alloc := range plan.Allocations {
		snapshot, err := s.repo.Reserve(ctx, alloc.Lot.ID, alloc.AllocatedQuantity, req.Actor)
		if err != nil {
			s.compensateReservations(ctx, reserved, plan, req.Actor)
			return nil, fmt.Errorf("reserve lot %s: %w", alloc.Lot.ID, err)
		}
		reserved = append(reserved, *snapshot)
	}

	for i, snapshot := range reserved {
		s.publish(ctx, lot.NewStockReservedEvent(snapshot, plan.Allocations[i].AllocatedQuantity, req.Actor))
	}

	s.logger.Info("allocation reserved",
		zap.String("product_id", req.ProductID.String()),
		zap.String("requested", req.Quantity.String()),
		zap.String("allocated", plan.TotalAllocated.String()),
		zap.Int("lots", len(reserved)),
		zap.Bool("full", plan.FullyAllocated),
	)

	return &AllocationResult{Plan: plan, Reserved: reserved, Committed: true}, nil
}

// compensateReservations unwinds reservations taken before a saga failure
func (s *Service) compensateReservations(ctx context.Context, reserved []lot.LotBatch, plan *lot.AllocationPlan, actor uuid.UUID) {
	for i, snapshot := range reserved {
		amount := plan.Allocations[i].AllocatedQuantity
		if _, err := s.repo.ReleaseReserved(ctx, snapshot.ID, amount, actor); err != nil {
			// Compensation failures leave a dangling reservation; loud log so
			// operators can release it manually.
			s.logger.Error("failed to compensate reservation",
				zap.String("lot_id", snapshot.ID.String()),
				zap.String("amount", amount.String()),
				zap.Error(err),
			)
		}
	}
}

// SearchLots runs a filtered, paginated lot search for an agency
func (s *Service) SearchLots(ctx context.Context, agencyID uuid.UUID, filter shared.Filter) (*shared.Paginated[lot.LotBatch], error) {
	items, err := s.repo.FindAllForAgency(ctx, agencyID, filter)
	if err != nil {
		return nil, fmt.Errorf("search lots: %w", err)
	}
	total, err := s.repo.CountForAgency(ctx, agencyID, filter)
	if err != nil {
		return nil, fmt.Errorf("count lots: %w", err)
	}

	page, pageSize := filter.Page, filter.PageSize
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = len(items)
		if pageSize == 0 {
			pageSize = 1
		}
	}
	result := shared.NewPaginated(items, total, page, pageSize)
	return &result, nil
}

// GetAvailableQuantityForProduct sums what can still be newly reserved
// across a product's allocatable lots
func (s *Service) GetAvailableQuantityForProduct(ctx context.Context, agencyID, productID uuid.UUID) (decimal.Decimal, error) {
	return s.repo.AvailableQuantityForProduct(ctx, agencyID, productID)
}

// GetReservedQuantityForProduct sums stock earmarked for pending orders
// across a product's lots
func (s *Service) GetReservedQuantityForProduct(ctx context.Context, agencyID, productID uuid.UUID) (decimal.Decimal, error) {
	return s.repo.ReservedQuantityForProduct(ctx, agencyID, productID)
}

// GetStatistics aggregates repository-level lot figures for an agency
func (s *Service) GetStatistics(ctx context.Context, agencyID uuid.UUID) (*lot.Statistics, error) {
	return s.repo.Statistics(ctx, agencyID)
}

// DeleteLot hard-deletes a lot. This is a terminal administrative action:
// it fails while stock is reserved or the lot is ACTIVE with remaining
// quantity.
func (s *Service) DeleteLot(ctx context.Context, lotID uuid.UUID) error {
	current, err := s.repo.FindByID(ctx, lotID)
	if err != nil {
		return err
	}
	if !current.CanBeDeleted() {
		return shared.NewDomainError("LOT_HAS_LIVE_STOCK",
			"Lot cannot be deleted while stock is reserved or active")
	}
	return s.repo.Delete(ctx, lotID)
}

// publish sends a domain event, logging instead of failing the operation
// when the bus rejects it
func (s *Service) publish(ctx context.Context, event shared.DomainEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.Warn("failed to publish domain event",
			zap.String("event_type", event.EventType()),
			zap.Error(err),
		)
	}
}

// invertExclusions converts an exclusion list into the eligible status list
// the repository query expects. Nil input means the default exclusions.
func invertExclusions(excluded []lot.Status) []lot.Status {
	if excluded == nil {
		excluded = lot.DefaultExcludedStatuses()
	}
	excludedSet := make(map[lot.Status]struct{}, len(excluded))
	for _, s := range excluded {
		excludedSet[s] = struct{}{}
	}
	eligible := make([]lot.Status, 0)
	for _, s := range lot.AllStatuses() {
		if _, skip := excludedSet[s]; !skip {
			eligible = append(eligible, s)
		}
	}
	return eligible
}

package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/distflow/backend/internal/domain/lot"
	"github.com/distflow/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// GormLotBatchRepository implements lot.Repository using GORM.
//
// Every ledger operation is a single guarded UPDATE whose WHERE clause
// carries the quantity and status invariants. A zero row count means some
// predicate failed; the row is then re-read and the matching domain rule is
// replayed to classify the failure.
type GormLotBatchRepository struct {
	db *gorm.DB
}

// NewGormLotBatchRepository creates a new GormLotBatchRepository
func NewGormLotBatchRepository(db *gorm.DB) *GormLotBatchRepository {
	return &GormLotBatchRepository{db: db}
}

// FindByID finds a lot by its ID
func (r *GormLotBatchRepository) FindByID(ctx context.Context, id uuid.UUID) (*lot.LotBatch, error) {
	var l lot.LotBatch
	if err := r.db.WithContext(ctx).First(&l, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &l, nil
}

// FindByLotNumber finds a lot by lot number within a product and agency
func (r *GormLotBatchRepository) FindByLotNumber(ctx context.Context, agencyID, productID uuid.UUID, lotNumber string) (*lot.LotBatch, error) {
	var l lot.LotBatch
	if err := r.db.WithContext(ctx).
		Where("agency_id = ? AND product_id = ? AND lot_number = ?", agencyID, productID, lotNumber).
		First(&l).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &l, nil
}

// FindByLotAndBatchNumber finds a lot by lot number and batch number within a
// product and agency
func (r *GormLotBatchRepository) FindByLotAndBatchNumber(ctx context.Context, agencyID, productID uuid.UUID, lotNumber, batchNumber string) (*lot.LotBatch, error) {
	var l lot.LotBatch
	if err := r.db.WithContext(ctx).
		Where("agency_id = ? AND product_id = ? AND lot_number = ? AND batch_number = ?",
			agencyID, productID, lotNumber, batchNumber).
		First(&l).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &l, nil
}

// ExistsByLotNumber checks for a duplicate lot number within a product and agency
func (r *GormLotBatchRepository) ExistsByLotNumber(ctx context.Context, agencyID, productID uuid.UUID, lotNumber string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&lot.LotBatch{}).
		Where("agency_id = ? AND product_id = ? AND lot_number = ?", agencyID, productID, lotNumber).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// ExistsByLotAndBatchNumber checks for a duplicate lot+batch combination
// within a product and agency
func (r *GormLotBatchRepository) ExistsByLotAndBatchNumber(ctx context.Context, agencyID, productID uuid.UUID, lotNumber, batchNumber string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&lot.LotBatch{}).
		Where("agency_id = ? AND product_id = ? AND lot_number = ? AND batch_number = ?",
			agencyID, productID, lotNumber, batchNumber).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// FindFIFOCandidates fetches eligible lots ordered by manufacturing date
// ascending, lot number ascending
func (r *GormLotBatchRepository) FindFIFOCandidates(ctx context.Context, q lot.FIFOQuery) ([]lot.LotBatch, error) {
	statuses := q.Statuses
	if len(statuses) == 0 {
		statuses = lot.AllocatableStatuses()
	}

	query := r.db.WithContext(ctx).
		Where("agency_id = ? AND product_id = ?", q.AgencyID, q.ProductID).
		Where("status IN ?", statuses)
	if q.MaxExpiryDate != nil {
		query = query.Where("expiry_date IS NULL OR expiry_date <= ?", *q.MaxExpiryDate)
	}

	var lots []lot.LotBatch
	if err := query.Order("manufacturing_date ASC, lot_number ASC").Find(&lots).Error; err != nil {
		return nil, err
	}
	return lots, nil
}

// FindAllForAgency runs a filtered, ordered, paginated lot search
func (r *GormLotBatchRepository) FindAllForAgency(ctx context.Context, agencyID uuid.UUID, filter shared.Filter) ([]lot.LotBatch, error) {
	query := r.applyFilters(
		r.db.WithContext(ctx).Model(&lot.LotBatch{}).Where("agency_id = ?", agencyID),
		filter,
	)
	query = r.applyOrdering(query, filter)

	if filter.Page > 0 && filter.PageSize > 0 {
		offset := (filter.Page - 1) * filter.PageSize
		query = query.Offset(offset).Limit(filter.PageSize)
	}

	var lots []lot.LotBatch
	if err := query.Find(&lots).Error; err != nil {
		return nil, err
	}
	return lots, nil
}

// CountForAgency counts lots matching the filter
func (r *GormLotBatchRepository) CountForAgency(ctx context.Context, agencyID uuid.UUID, filter shared.Filter) (int64, error) {
	var count int64
	query := r.applyFilters(
		r.db.WithContext(ctx).Model(&lot.LotBatch{}).Where("agency_id = ?", agencyID),
		filter,
	)
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// Create inserts a new lot snapshot
func (r *GormLotBatchRepository) Create(ctx context.Context, l *lot.LotBatch) error {
	if err := r.db.WithContext(ctx).Create(l).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return shared.ErrAlreadyExists
		}
		return err
	}
	return nil
}

// Save persists a full snapshot with an optimistic version check
func (r *GormLotBatchRepository) Save(ctx context.Context, l *lot.LotBatch) error {
	result := r.db.WithContext(ctx).
		Model(l).
		Where("id = ? AND version = ?", l.ID, l.Version-1).
		Updates(map[string]interface{}{
			"batch_number":       l.BatchNumber,
			"expiry_date":        l.ExpiryDate,
			"quantity":           l.Quantity,
			"remaining_quantity": l.RemainingQuantity,
			"reserved_quantity":  l.ReservedQuantity,
			"status":             l.Status,
			"supplier_id":        l.SupplierID,
			"supplier_lot_code":  l.SupplierLotCode,
			"notes":              l.Notes,
			"updated_by":         l.UpdatedBy,
			"updated_at":         l.UpdatedAt,
			"version":            l.Version,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrConcurrencyConflict
	}
	return nil
}

// Delete hard-deletes a lot. The WHERE clause repeats the deletion guard so
// a concurrent reservation cannot slip through between check and delete.
func (r *GormLotBatchRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).
		Where("id = ?", id).
		Where("reserved_quantity <= 0").
		Where("NOT (status = ? AND remaining_quantity > 0)", lot.StatusActive).
		Delete(&lot.LotBatch{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		current, err := r.FindByID(ctx, id)
		if err != nil {
			return err
		}
		if !current.CanBeDeleted() {
			return shared.ErrInvalidState
		}
		return shared.ErrConcurrencyConflict
	}
	return nil
}

// Reserve atomically earmarks amount of available stock
func (r *GormLotBatchRepository) Reserve(ctx context.Context, lotID uuid.UUID, amount decimal.Decimal, actor uuid.UUID) (*lot.LotBatch, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, shared.NewDomainError("INVALID_QUANTITY", "Reserve amount must be positive")
	}
	now := time.Now()

	result := r.db.WithContext(ctx).Model(&lot.LotBatch{}).
		Where("id = ?", lotID).
		Where("status = ?", lot.StatusActive).
		Where("expiry_date IS NULL OR expiry_date >= ?", now).
		Where("remaining_quantity >= reserved_quantity + ?", amount).
		Updates(map[string]interface{}{
			"reserved_quantity": gorm.Expr("reserved_quantity + ?", amount),
			"updated_by":        actor,
			"updated_at":        now,
			"version":           gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, r.classifyFailure(ctx, lotID, now, func(current lot.LotBatch) error {
			_, err := current.Reserve(amount, actor, now)
			return err
		})
	}

	return r.FindByID(ctx, lotID)
}

// ReleaseReserved atomically returns amount of reserved stock to availability
func (r *GormLotBatchRepository) ReleaseReserved(ctx context.Context, lotID uuid.UUID, amount decimal.Decimal, actor uuid.UUID) (*lot.LotBatch, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, shared.NewDomainError("INVALID_QUANTITY", "Release amount must be positive")
	}
	now := time.Now()

	result := r.db.WithContext(ctx).Model(&lot.LotBatch{}).
		Where("id = ?", lotID).
		Where("reserved_quantity >= ?", amount).
		Updates(map[string]interface{}{
			"reserved_quantity": gorm.Expr("reserved_quantity - ?", amount),
			"updated_by":        actor,
			"updated_at":        now,
			"version":           gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, r.classifyFailure(ctx, lotID, now, func(current lot.LotBatch) error {
			_, err := current.ReleaseReserved(amount, actor, now)
			return err
		})
	}

	return r.FindByID(ctx, lotID)
}

// Consume atomically removes amount from remaining stock, releasing any
// overlapping reservation and flipping the lot to CONSUMED when drained
func (r *GormLotBatchRepository) Consume(ctx context.Context, lotID uuid.UUID, amount decimal.Decimal, actor uuid.UUID) (*lot.LotBatch, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, shared.NewDomainError("INVALID_QUANTITY", "Consume amount must be positive")
	}
	now := time.Now()

	result := r.db.WithContext(ctx).Model(&lot.LotBatch{}).
		Where("id = ?", lotID).
		Where("status IN ?", lot.ConsumableStatuses()).
		Where("remaining_quantity >= ?", amount).
		Updates(map[string]interface{}{
			"remaining_quantity": gorm.Expr("remaining_quantity - ?", amount),
			"reserved_quantity": gorm.Expr(
				"CASE WHEN reserved_quantity > ? THEN reserved_quantity - ? ELSE 0 END", amount, amount),
			"status": gorm.Expr(
				"CASE WHEN remaining_quantity - ? <= 0 THEN ? ELSE status END", amount, lot.StatusConsumed),
			"updated_by": actor,
			"updated_at": now,
			"version":    gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, r.classifyFailure(ctx, lotID, now, func(current lot.LotBatch) error {
			_, err := current.Consume(amount, actor, now)
			return err
		})
	}

	return r.FindByID(ctx, lotID)
}

// AdjustQuantity atomically applies an administrative correction to both
// total and remaining quantity
func (r *GormLotBatchRepository) AdjustQuantity(ctx context.Context, lotID uuid.UUID, delta decimal.Decimal, actor uuid.UUID) (*lot.LotBatch, error) {
	if delta.IsZero() {
		return nil, shared.NewDomainError("INVALID_QUANTITY", "Adjustment delta cannot be zero")
	}
	now := time.Now()

	result := r.db.WithContext(ctx).Model(&lot.LotBatch{}).
		Where("id = ?", lotID).
		Where("quantity + ? >= 0", delta).
		Where("remaining_quantity + ? >= reserved_quantity", delta).
		Updates(map[string]interface{}{
			"quantity":           gorm.Expr("quantity + ?", delta),
			"remaining_quantity": gorm.Expr("remaining_quantity + ?", delta),
			"updated_by":         actor,
			"updated_at":         now,
			"version":            gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, r.classifyFailure(ctx, lotID, now, func(current lot.LotBatch) error {
			_, err := current.AdjustQuantity(delta, "adjustment", actor, now)
			return err
		})
	}

	return r.FindByID(ctx, lotID)
}

// UpdateStatus atomically moves a lot from one status to another. The
// expected current status guards against concurrent transitions; the
// drainage and expiry rules are repeated as predicates.
func (r *GormLotBatchRepository) UpdateStatus(ctx context.Context, lotID uuid.UUID, from, to lot.Status, actor uuid.UUID) (*lot.LotBatch, error) {
	if !from.CanTransitionTo(to) {
		return nil, lot.NewInvalidStatusTransitionError(lotID, from, to, "")
	}
	now := time.Now()

	query := r.db.WithContext(ctx).Model(&lot.LotBatch{}).
		Where("id = ? AND status = ?", lotID, from)
	if to == lot.StatusConsumed {
		query = query.Where("remaining_quantity <= 0")
	}
	if to == lot.StatusActive {
		query = query.Where("expiry_date IS NULL OR expiry_date >= ?", now)
	}

	result := query.Updates(map[string]interface{}{
		"status":     to,
		"updated_by": actor,
		"updated_at": now,
		"version":    gorm.Expr("version + 1"),
	})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, r.classifyFailure(ctx, lotID, now, func(current lot.LotBatch) error {
			if current.Status != from {
				return shared.ErrConcurrencyConflict
			}
			_, err := current.TransitionTo(to, actor, now)
			return err
		})
	}

	return r.FindByID(ctx, lotID)
}

// ExpireOverdue transitions every ACTIVE or QUARANTINE lot whose expiry date
// has passed to EXPIRED. Idempotent: lots already EXPIRED are not matched.
func (r *GormLotBatchRepository) ExpireOverdue(ctx context.Context, agencyID *uuid.UUID, actor uuid.UUID, now time.Time) (int64, error) {
	query := r.db.WithContext(ctx).Model(&lot.LotBatch{}).
		Where("status IN ?", []lot.Status{lot.StatusActive, lot.StatusQuarantine}).
		Where("expiry_date IS NOT NULL AND expiry_date < ?", now)
	if agencyID != nil {
		query = query.Where("agency_id = ?", *agencyID)
	}

	result := query.Updates(map[string]interface{}{
		"status":     lot.StatusExpired,
		"updated_by": actor,
		"updated_at": now,
		"version":    gorm.Expr("version + 1"),
	})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// AvailableQuantityForProduct sums available (remaining - reserved) quantity
// across allocatable lots of a product
func (r *GormLotBatchRepository) AvailableQuantityForProduct(ctx context.Context, agencyID, productID uuid.UUID) (decimal.Decimal, error) {
	return r.sumForProduct(ctx, agencyID, productID,
		"COALESCE(SUM(remaining_quantity - reserved_quantity), 0)",
		r.db.Where("status IN ?", lot.AllocatableStatuses()))
}

// ReservedQuantityForProduct sums reserved quantity across lots of a product
func (r *GormLotBatchRepository) ReservedQuantityForProduct(ctx context.Context, agencyID, productID uuid.UUID) (decimal.Decimal, error) {
	return r.sumForProduct(ctx, agencyID, productID,
		"COALESCE(SUM(reserved_quantity), 0)", nil)
}

func (r *GormLotBatchRepository) sumForProduct(ctx context.Context, agencyID, productID uuid.UUID, selectExpr string, extra *gorm.DB) (decimal.Decimal, error) {
	query := r.db.WithContext(ctx).Model(&lot.LotBatch{}).
		Where("agency_id = ? AND product_id = ?", agencyID, productID)
	if extra != nil {
		query = query.Where(extra)
	}

	var total decimal.Decimal
	row := query.Select(selectExpr).Row()
	if err := row.Scan(&total); err != nil {
		return decimal.Zero, err
	}
	return total, nil
}

// Statistics aggregates lot counts, near-expiry figures and date bounds for
// an agency
func (r *GormLotBatchRepository) Statistics(ctx context.Context, agencyID uuid.UUID) (*lot.Statistics, error) {
	stats := &lot.Statistics{CountsByStatus: make(map[lot.Status]int64)}
	base := func() *gorm.DB {
		return r.db.WithContext(ctx).Model(&lot.LotBatch{}).Where("agency_id = ?", agencyID)
	}

	type statusCount struct {
		Status lot.Status
		Count  int64
	}
	var counts []statusCount
	if err := base().Select("status, COUNT(*) AS count").Group("status").Scan(&counts).Error; err != nil {
		return nil, err
	}
	for _, c := range counts {
		stats.CountsByStatus[c.Status] = c.Count
		stats.TotalLots += c.Count
	}

	now := time.Now()
	threshold := now.AddDate(0, 0, lot.NearExpiryThresholdDays)
	if err := base().
		Where("status = ?", lot.StatusActive).
		Where("expiry_date IS NOT NULL AND expiry_date >= ? AND expiry_date <= ?", now, threshold).
		Count(&stats.NearExpiryCount).Error; err != nil {
		return nil, err
	}

	var productCount int64
	if err := base().Distinct("product_id").Count(&productCount).Error; err != nil {
		return nil, err
	}
	if productCount > 0 {
		stats.AvgLotsPerProduct = float64(stats.TotalLots) / float64(productCount)
	}

	if stats.TotalLots > 0 {
		var oldest, newest []time.Time
		if err := base().Order("manufacturing_date ASC").Limit(1).
			Pluck("manufacturing_date", &oldest).Error; err != nil {
			return nil, err
		}
		if err := base().Order("manufacturing_date DESC").Limit(1).
			Pluck("manufacturing_date", &newest).Error; err != nil {
			return nil, err
		}
		if len(oldest) > 0 {
			stats.OldestLotDate = &oldest[0]
		}
		if len(newest) > 0 {
			stats.NewestLotDate = &newest[0]
		}
	}

	return stats, nil
}

// classifyFailure explains a guarded UPDATE that matched no rows. The row is
// re-read and the domain rule is replayed against the current snapshot; if
// the rule passes now, the original statement lost a race.
func (r *GormLotBatchRepository) classifyFailure(ctx context.Context, lotID uuid.UUID, now time.Time, replay func(current lot.LotBatch) error) error {
	current, err := r.FindByID(ctx, lotID)
	if err != nil {
		return err
	}
	if err := replay(*current); err != nil {
		return err
	}
	return shared.ErrConcurrencyConflict
}

// applyFilters translates the generic filter keys into WHERE clauses
func (r *GormLotBatchRepository) applyFilters(query *gorm.DB, filter shared.Filter) *gorm.DB {
	if filter.Search != "" {
		pattern := "%" + filter.Search + "%"
		query = query.Where("lot_number LIKE ? OR batch_number LIKE ?", pattern, pattern)
	}

	for key, value := range filter.Filters {
		switch key {
		case "product_id":
			query = query.Where("product_id = ?", value)
		case "supplier_id":
			query = query.Where("supplier_id = ?", value)
		case "status":
			query = query.Where("status = ?", value)
		case "statuses":
			query = query.Where("status IN ?", value)
		case "expired":
			if value == true {
				query = query.Where("expiry_date IS NOT NULL AND expiry_date < ?", time.Now())
			} else if value == false {
				query = query.Where("expiry_date IS NULL OR expiry_date >= ?", time.Now())
			}
		case "near_expiry":
			if value == true {
				now := time.Now()
				threshold := now.AddDate(0, 0, lot.NearExpiryThresholdDays)
				query = query.Where("expiry_date IS NOT NULL AND expiry_date >= ? AND expiry_date <= ?", now, threshold)
			}
		case "has_available":
			if value == true {
				query = query.Where("remaining_quantity - reserved_quantity > 0")
			}
		case "manufactured_after":
			query = query.Where("manufacturing_date >= ?", value)
		case "manufactured_before":
			query = query.Where("manufacturing_date <= ?", value)
		case "expires_after":
			query = query.Where("expiry_date IS NOT NULL AND expiry_date >= ?", value)
		case "expires_before":
			query = query.Where("expiry_date IS NOT NULL AND expiry_date <= ?", value)
		case "min_remaining":
			query = query.Where("remaining_quantity >= ?", value)
		case "max_remaining":
			query = query.Where("remaining_quantity <= ?", value)
		}
	}

	return query
}

// applyOrdering applies the whitelisted sort order. The special OrderBy value
// "fifo_order" sorts the way the allocator consumes lots.
func (r *GormLotBatchRepository) applyOrdering(query *gorm.DB, filter shared.Filter) *gorm.DB {
	if filter.OrderBy == "fifo_order" {
		return query.Order("manufacturing_date ASC, lot_number ASC")
	}

	field := ValidateSortField(filter.OrderBy, LotBatchSortFields, "created_at")
	dir := ValidateSortOrder(filter.OrderDir)
	return query.Order(fmt.Sprintf("%s %s", field, dir))
}

var _ lot.Repository = (*GormLotBatchRepository)(nil)

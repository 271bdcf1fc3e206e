package lot

import (
	"sort"
	"time"

	"github.com/distflow/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// SelectionOptions controls lot eligibility during FIFO selection
type SelectionOptions struct {
	// ExcludeStatuses lists statuses ineligible for allocation.
	// Nil means DefaultExcludedStatuses().
	ExcludeStatuses []Status
	// IncludeReserved counts remaining instead of available quantity
	IncludeReserved bool
	// MaxExpiryDate, when set, skips lots expiring after this ceiling
	MaxExpiryDate *time.Time
	// Now overrides the clock for expiry eligibility. Zero means time.Now().
	Now time.Time
}

// LotAllocation is one lot's share of an allocation plan
type LotAllocation struct {
	Lot               LotBatch        `json:"lot"`
	AllocatedQuantity decimal.Decimal `json:"allocated_quantity"`
}

// AllocationPlan is the result of a FIFO selection. It is a read-only
// proposal: nothing is reserved until the caller acts on it.
type AllocationPlan struct {
	Allocations         []LotAllocation `json:"allocations"`
	TotalAllocated      decimal.Decimal `json:"total_allocated"`
	UnallocatedQuantity decimal.Decimal `json:"unallocated_quantity"`
	FullyAllocated      bool            `json:"fully_allocated"`
}

// SelectLots walks the candidate lots in FIFO order (manufacturing date
// ascending, lot number ascending as a deterministic tie-break) and greedily
// allocates the requested quantity. Earliest-manufactured stock always wins
// over any other criterion, including lot size; the algorithm never
// backtracks for a better packing.
func SelectLots(requested decimal.Decimal, lots []LotBatch, opts SelectionOptions) (*AllocationPlan, error) {
	if requested.LessThanOrEqual(decimal.Zero) {
		return nil, shared.NewDomainError("INVALID_QUANTITY", "Requested quantity must be positive")
	}

	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	excluded := opts.ExcludeStatuses
	if excluded == nil {
		excluded = DefaultExcludedStatuses()
	}
	excludedSet := make(map[Status]struct{}, len(excluded))
	for _, s := range excluded {
		excludedSet[s] = struct{}{}
	}

	eligible := make([]LotBatch, 0, len(lots))
	for _, l := range lots {
		if _, skip := excludedSet[l.Status]; skip {
			continue
		}
		if l.IsExpired(now) {
			continue
		}
		if opts.MaxExpiryDate != nil && l.ExpiryDate != nil && l.ExpiryDate.After(*opts.MaxExpiryDate) {
			continue
		}
		if usableQuantity(l, opts.IncludeReserved).LessThanOrEqual(decimal.Zero) {
			continue
		}
		eligible = append(eligible, l)
	}

	sort.Slice(eligible, func(i, j int) bool {
		if !eligible[i].ManufacturingDate.Equal(eligible[j].ManufacturingDate) {
			return eligible[i].ManufacturingDate.Before(eligible[j].ManufacturingDate)
		}
		return eligible[i].LotNumber < eligible[j].LotNumber
	})

	allocations := make([]LotAllocation, 0, len(eligible))
	remaining := requested
	total := decimal.Zero

	for _, l := range eligible {
		if remaining.IsZero() {
			break
		}
		take := decimal.Min(remaining, usableQuantity(l, opts.IncludeReserved))
		allocations = append(allocations, LotAllocation{
			Lot:               l,
			AllocatedQuantity: take,
		})
		total = total.Add(take)
		remaining = remaining.Sub(take)
	}

	return &AllocationPlan{
		Allocations:         allocations,
		TotalAllocated:      total,
		UnallocatedQuantity: remaining,
		FullyAllocated:      remaining.IsZero(),
	}, nil
}

// usableQuantity is what the selector may draw from one lot
func usableQuantity(l LotBatch, includeReserved bool) decimal.Decimal {
	if includeReserved {
		return l.RemainingQuantity
	}
	return l.AvailableQuantity()
}

// TotalAvailable sums the usable quantity across eligible lots, reporting
// whether the requested amount can be covered at all
func TotalAvailable(lots []LotBatch, requested decimal.Decimal, opts SelectionOptions) (bool, decimal.Decimal) {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	total := decimal.Zero
	for _, l := range lots {
		if l.IsAvailable(now) {
			total = total.Add(usableQuantity(l, opts.IncludeReserved))
		}
	}
	return total.GreaterThanOrEqual(requested), total
}

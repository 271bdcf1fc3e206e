package lot

// Status represents the lifecycle state of a lot/batch
type Status string

const (
	// StatusActive means the lot is eligible for allocation
	StatusActive Status = "ACTIVE"
	// StatusQuarantine means the lot is held pending quality inspection
	StatusQuarantine Status = "QUARANTINE"
	// StatusExpired means the lot is past its expiry date
	StatusExpired Status = "EXPIRED"
	// StatusRecalled means the lot was recalled by the supplier
	StatusRecalled Status = "RECALLED"
	// StatusDamaged means the lot was damaged and written off
	StatusDamaged Status = "DAMAGED"
	// StatusReserved means the lot is fully held for pending orders
	StatusReserved Status = "RESERVED"
	// StatusConsumed means the lot has been fully drained; terminal
	StatusConsumed Status = "CONSUMED"
)

// String returns the string representation
func (s Status) String() string {
	return string(s)
}

// IsValid checks if the status is a known value
func (s Status) IsValid() bool {
	switch s {
	case StatusActive, StatusQuarantine, StatusExpired, StatusRecalled,
		StatusDamaged, StatusReserved, StatusConsumed:
		return true
	}
	return false
}

// IsTerminal returns true if no further transition except drainage is possible
func (s Status) IsTerminal() bool {
	return s == StatusConsumed
}

// AllStatuses returns every known status value
func AllStatuses() []Status {
	return []Status{
		StatusActive,
		StatusQuarantine,
		StatusExpired,
		StatusRecalled,
		StatusDamaged,
		StatusReserved,
		StatusConsumed,
	}
}

// allowedTransitions is the status adjacency table. A transition is legal
// only if the target appears in the set keyed by the current status.
// EXPIRED/RECALLED/DAMAGED may still move to CONSUMED so residual stock can
// be drained for audit closure.
var allowedTransitions = map[Status]map[Status]struct{}{
	StatusActive: {
		StatusQuarantine: {},
		StatusExpired:    {},
		StatusRecalled:   {},
		StatusDamaged:    {},
		StatusConsumed:   {},
	},
	StatusQuarantine: {
		StatusActive:   {},
		StatusExpired:  {},
		StatusRecalled: {},
		StatusDamaged:  {},
	},
	StatusReserved: {
		StatusActive:     {},
		StatusQuarantine: {},
		StatusExpired:    {},
	},
	StatusExpired: {
		StatusConsumed: {},
	},
	StatusRecalled: {
		StatusConsumed: {},
	},
	StatusDamaged: {
		StatusConsumed: {},
	},
	StatusConsumed: {},
}

// CanTransitionTo checks if a status change is structurally legal.
// Transitioning to the current status is always allowed (treated as a no-op
// by the entity).
func (s Status) CanTransitionTo(target Status) bool {
	if s == target {
		return true
	}
	targets, ok := allowedTransitions[s]
	if !ok {
		return false
	}
	_, ok = targets[target]
	return ok
}

// AllocatableStatuses returns statuses from which stock may be reserved
func AllocatableStatuses() []Status {
	return []Status{StatusActive}
}

// ConsumableStatuses returns statuses from which stock may be consumed
func ConsumableStatuses() []Status {
	return []Status{StatusActive, StatusReserved}
}

// ReservationExcludedStatuses returns the statuses FIFO planning must skip
// when the resulting allocations will be committed as reservations. Anything
// outside AllocatableStatuses fails the reservation guard, so planning
// quantity from such a lot would abort the whole multi-lot commit.
func ReservationExcludedStatuses() []Status {
	allocatable := make(map[Status]struct{})
	for _, s := range AllocatableStatuses() {
		allocatable[s] = struct{}{}
	}
	excluded := make([]Status, 0)
	for _, s := range AllStatuses() {
		if _, ok := allocatable[s]; !ok {
			excluded = append(excluded, s)
		}
	}
	return excluded
}

// DefaultExcludedStatuses returns the statuses excluded from FIFO selection
// unless the caller overrides them
func DefaultExcludedStatuses() []Status {
	return []Status{StatusExpired, StatusDamaged, StatusRecalled, StatusConsumed}
}

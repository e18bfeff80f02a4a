package model

import (
	"fmt"
	"time"
)

// Capacity limits for a single pool.  A gender may hold at most
// MaxPerGender memberships across buffer and active, and the active
// slots of both genders together never exceed MaxActiveTotal.
const (
	MaxPerGender   = 25
	MaxActiveTotal = 50
)

// PoolStatus is the lifecycle state of a pool.  The zero value is not a
// valid status so that an unset field is caught by Valid().
type PoolStatus uint8

const (
	PoolJoining PoolStatus = iota + 1
	PoolValidating
	PoolCompleted
	PoolCancelled
)

// String returns the persisted form of the status.
func (s PoolStatus) String() string {
	switch s {
	case PoolJoining:
		return "joining"
	case PoolValidating:
		return "validating"
	case PoolCompleted:
		return "completed"
	case PoolCancelled:
		return "cancelled"
	}
	return fmt.Sprintf("PoolStatus(%d)", uint8(s))
}

// Valid reports whether s is one of the declared statuses.
func (s PoolStatus) Valid() bool { return s >= PoolJoining && s <= PoolCancelled }

// Terminal reports whether no further transition is allowed.
func (s PoolStatus) Terminal() bool { return s == PoolCompleted || s == PoolCancelled }

// CanTransition reports whether a pool in status s may move to next.
// Re-asserting the current status is not a transition.
func (s PoolStatus) CanTransition(next PoolStatus) bool {
	switch s {
	case PoolJoining:
		return next == PoolValidating || next == PoolCompleted || next == PoolCancelled
	case PoolValidating:
		return next == PoolCompleted || next == PoolCancelled
	case PoolCompleted, PoolCancelled:
		return false
	}
	return false
}

// ParsePoolStatus converts the persisted form back into a PoolStatus.
func ParsePoolStatus(v string) (PoolStatus, error) {
	switch v {
	case "joining":
		return PoolJoining, nil
	case "validating":
		return PoolValidating, nil
	case "completed":
		return PoolCompleted, nil
	case "cancelled":
		return PoolCancelled, nil
	}
	return 0, fmt.Errorf("unknown pool status %q", v)
}

// Pool is a time-boxed, city-scoped admission cohort.
//
// Fields:
//
//	ActiveMale/ActiveFemale – memberships occupying a capacity slot.
//	BufferMale/BufferFemale – memberships admitted but not yet promoted.
//	MatchingExecutedAt      – set exactly once, by the matchmaking run.
//	AdminOverride*          – audit trail of a forced completion.
type Pool struct {
	ID                  uint64
	City                string
	Status              PoolStatus
	ActiveMale          int
	ActiveFemale        int
	BufferMale          int
	BufferFemale        int
	CreatedAt           time.Time
	JoinDeadline        time.Time
	MatchDeadline       time.Time
	MatchingExecutedAt  *time.Time
	ClosedAt            *time.Time
	AdminOverrideBy     *string
	AdminOverrideReason *string
	AdminOverrideAt     *time.Time
	UpdatedAt           time.Time
}

// TotalFor returns buffer+active for the given gender.
func (p *Pool) TotalFor(g Gender) int {
	if g == GenderMale {
		return p.ActiveMale + p.BufferMale
	}
	return p.ActiveFemale + p.BufferFemale
}

// HasRoomFor reports whether another member of gender g can be admitted.
func (p *Pool) HasRoomFor(g Gender) bool { return p.TotalFor(g) < MaxPerGender }

package model

import (
	"fmt"
	"strings"
	"time"
)

// Gender of a profile.  Only two values take part in admission and
// matching; anything else is rejected at the profile boundary.
type Gender uint8

const (
	GenderMale Gender = iota + 1
	GenderFemale
)

func (g Gender) String() string {
	switch g {
	case GenderMale:
		return "male"
	case GenderFemale:
		return "female"
	}
	return fmt.Sprintf("Gender(%d)", uint8(g))
}

// Valid reports whether g is set to a declared value.
func (g Gender) Valid() bool { return g == GenderMale || g == GenderFemale }

// ParseGender accepts the persisted form case-insensitively.
func ParseGender(v string) (Gender, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "male", "m":
		return GenderMale, nil
	case "female", "f":
		return GenderFemale, nil
	}
	return 0, fmt.Errorf("unknown gender %q", v)
}

// MembershipStatus tracks a member through buffer → active → completed.
type MembershipStatus uint8

const (
	MembershipBuffer MembershipStatus = iota + 1
	MembershipActive
	MembershipCompleted
)

func (s MembershipStatus) String() string {
	switch s {
	case MembershipBuffer:
		return "buffer"
	case MembershipActive:
		return "active"
	case MembershipCompleted:
		return "completed"
	}
	return fmt.Sprintf("MembershipStatus(%d)", uint8(s))
}

// CanTransition reports whether a membership may move from s to next.
func (s MembershipStatus) CanTransition(next MembershipStatus) bool {
	switch s {
	case MembershipBuffer:
		return next == MembershipActive || next == MembershipCompleted
	case MembershipActive:
		return next == MembershipCompleted
	case MembershipCompleted:
		return false
	}
	return false
}

// ParseMembershipStatus converts the persisted form.
func ParseMembershipStatus(v string) (MembershipStatus, error) {
	switch v {
	case "buffer":
		return MembershipBuffer, nil
	case "active":
		return MembershipActive, nil
	case "completed":
		return MembershipCompleted, nil
	}
	return 0, fmt.Errorf("unknown membership status %q", v)
}

// Membership records one user's admission into one pool.  The pair
// (UserID, PoolID) is unique.
type Membership struct {
	ID            uint64
	PoolID        uint64
	UserID        string
	Gender        Gender
	Status        MembershipStatus
	IsDummy       bool
	JoinedAt      time.Time
	EnteredPoolAt *time.Time
}

package model

import "time"

// Safety event types written to the safety ledger.
const (
	SafetyRestrictionEnforced = "restriction_enforced"
	SafetyRateLimitExceeded   = "rate_limit_exceeded"
	SafetyAdminOverridePool   = "admin_override_pool"
	SafetyAdminOverrideUser   = "admin_override_user"
	SafetyAdminOverrideChat   = "admin_override_chat"
	SafetyUserBlocked         = "user_blocked"
	SafetyUserUnblocked       = "user_unblocked"
	SafetyBlockedPairRejected = "blocked_pair_rejected"
	SafetyNotParticipant      = "not_a_participant"
)

// Severity values attached to safety events.
const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// SafetyEvent is an append-only audit record of a safety-relevant action.
type SafetyEvent struct {
	ID        uint64
	UserID    string
	EventType string
	Severity  string
	Context   map[string]any
	CreatedAt time.Time
}

// Block records that Blocker no longer wants contact with Blocked.
type Block struct {
	ID        uint64
	BlockerID string
	BlockedID string
	Reason    string
	CreatedAt time.Time
}

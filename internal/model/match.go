package model

import (
	"fmt"
	"time"
)

// Match pairs two members of one pool.  Display names are copied at
// match time so that later profile edits do not rewrite history.
type Match struct {
	ID                 uint64
	PoolID             uint64
	UserA              string
	UserB              string
	UserAName          string
	UserBName          string
	CompatibilityScore float64
	CreatedAt          time.Time
}

// Other returns the counterpart of userID in the match.
func (m *Match) Other(userID string) string {
	if m.UserA == userID {
		return m.UserB
	}
	return m.UserA
}

// ConversationStatus is the lifecycle of the chat opened for a match.
type ConversationStatus uint8

const (
	ConversationActive ConversationStatus = iota + 1
	ConversationContinued
	ConversationExpired
)

func (s ConversationStatus) String() string {
	switch s {
	case ConversationActive:
		return "active"
	case ConversationContinued:
		return "continued"
	case ConversationExpired:
		return "expired"
	}
	return fmt.Sprintf("ConversationStatus(%d)", uint8(s))
}

// CanTransition reports whether a conversation may move from s to next.
func (s ConversationStatus) CanTransition(next ConversationStatus) bool {
	switch s {
	case ConversationActive:
		return next == ConversationContinued || next == ConversationExpired
	case ConversationContinued:
		return next == ConversationExpired
	case ConversationExpired:
		return false
	}
	return false
}

// ParseConversationStatus converts the persisted form.
func ParseConversationStatus(v string) (ConversationStatus, error) {
	switch v {
	case "active":
		return ConversationActive, nil
	case "continued":
		return ConversationContinued, nil
	case "expired":
		return ConversationExpired, nil
	}
	return 0, fmt.Errorf("unknown conversation status %q", v)
}

// Conversation is created 1:1 with a Match and shares its ID.  A nil
// ExpiresAt means the conversation was continued by both sides.
type Conversation struct {
	ID          uint64
	PoolID      uint64
	UserA       string
	UserB       string
	Status      ConversationStatus
	ExpiresAt   *time.Time
	ContinuedBy []string
	CreatedAt   time.Time
}

// HasParticipant reports whether userID is one of the two sides.
func (c *Conversation) HasParticipant(userID string) bool {
	return c.UserA == userID || c.UserB == userID
}

// ContinuedByBoth reports whether both participants asked to continue.
func (c *Conversation) ContinuedByBoth() bool {
	var a, b bool
	for _, u := range c.ContinuedBy {
		if u == c.UserA {
			a = true
		}
		if u == c.UserB {
			b = true
		}
	}
	return a && b
}

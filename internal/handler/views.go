package handler

import (
	"time"

	"github.com/iliyamo/cohort-pools/internal/model"
	"github.com/iliyamo/cohort-pools/internal/repository"
)

// PoolView is a pool as exposed to members.  Capacity counters are
// reported as totals so clients can render how full each side is.
type PoolView struct {
	ID            uint64    `json:"id"`
	City          string    `json:"city"`
	Status        string    `json:"status"`
	MaleCount     int       `json:"male_count"`
	FemaleCount   int       `json:"female_count"`
	MaxPerGender  int       `json:"max_per_gender"`
	JoinDeadline  time.Time `json:"join_deadline"`
	MatchDeadline time.Time `json:"match_deadline"`
}

func poolView(p *model.Pool) PoolView {
	return PoolView{
		ID:            p.ID,
		City:          p.City,
		Status:        p.Status.String(),
		MaleCount:     p.TotalFor(model.GenderMale),
		FemaleCount:   p.TotalFor(model.GenderFemale),
		MaxPerGender:  model.MaxPerGender,
		JoinDeadline:  p.JoinDeadline,
		MatchDeadline: p.MatchDeadline,
	}
}

// AdminPoolView adds the raw counters and the audit trail.
type AdminPoolView struct {
	PoolView
	ActiveMale          int        `json:"active_male"`
	ActiveFemale        int        `json:"active_female"`
	BufferMale          int        `json:"buffer_male"`
	BufferFemale        int        `json:"buffer_female"`
	MatchingExecutedAt  *time.Time `json:"matching_executed_at,omitempty"`
	ClosedAt            *time.Time `json:"closed_at,omitempty"`
	AdminOverrideBy     *string    `json:"admin_override_by,omitempty"`
	AdminOverrideReason *string    `json:"admin_override_reason,omitempty"`
	AdminOverrideAt     *time.Time `json:"admin_override_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
}

func adminPoolView(p *model.Pool) AdminPoolView {
	return AdminPoolView{
		PoolView:            poolView(p),
		ActiveMale:          p.ActiveMale,
		ActiveFemale:        p.ActiveFemale,
		BufferMale:          p.BufferMale,
		BufferFemale:        p.BufferFemale,
		MatchingExecutedAt:  p.MatchingExecutedAt,
		ClosedAt:            p.ClosedAt,
		AdminOverrideBy:     p.AdminOverrideBy,
		AdminOverrideReason: p.AdminOverrideReason,
		AdminOverrideAt:     p.AdminOverrideAt,
		CreatedAt:           p.CreatedAt,
	}
}

// MembershipCounts is the stored tally of open memberships.
type MembershipCounts struct {
	ActiveMale   int `json:"active_male"`
	ActiveFemale int `json:"active_female"`
	BufferMale   int `json:"buffer_male"`
	BufferFemale int `json:"buffer_female"`
}

func membershipCounts(c repository.StatusCounts) MembershipCounts {
	return MembershipCounts{
		ActiveMale:   c.ActiveMale,
		ActiveFemale: c.ActiveFemale,
		BufferMale:   c.BufferMale,
		BufferFemale: c.BufferFemale,
	}
}

// ProfileView is the caller's own profile.
type ProfileView struct {
	UserID               string     `json:"user_id"`
	Name                 string     `json:"name"`
	Gender               string     `json:"gender"`
	Age                  int        `json:"age,omitempty"`
	BirthDate            string     `json:"birth_date,omitempty"`
	Interests            []string   `json:"interests"`
	City                 string     `json:"city"`
	RestrictionLevel     string     `json:"restriction_level"`
	RestrictionExpiresAt *time.Time `json:"restriction_expires_at,omitempty"`
}

func profileView(p *model.Profile, now time.Time) ProfileView {
	v := ProfileView{
		UserID:               p.UserID,
		Name:                 p.Name,
		Gender:               p.Gender.String(),
		Age:                  p.EffectiveAge(now),
		Interests:            p.Interests,
		City:                 p.City,
		RestrictionLevel:     p.ActiveRestriction(now).String(),
		RestrictionExpiresAt: p.RestrictionExpiresAt,
	}
	if p.BirthDate != nil {
		v.BirthDate = p.BirthDate.Format("2006-01-02")
	}
	if v.Interests == nil {
		v.Interests = []string{}
	}
	return v
}

// MatchView is a match seen from one participant.
type MatchView struct {
	ID                 uint64    `json:"id"`
	PoolID             uint64    `json:"pool_id"`
	OtherUserID        string    `json:"other_user_id"`
	OtherName          string    `json:"other_name"`
	CompatibilityScore float64   `json:"compatibility_score"`
	CreatedAt          time.Time `json:"created_at"`
}

func matchView(m *model.Match, viewer string) MatchView {
	other, name := m.UserB, m.UserBName
	if m.UserB == viewer {
		other, name = m.UserA, m.UserAName
	}
	return MatchView{
		ID:                 m.ID,
		PoolID:             m.PoolID,
		OtherUserID:        other,
		OtherName:          name,
		CompatibilityScore: m.CompatibilityScore,
		CreatedAt:          m.CreatedAt,
	}
}

// ConversationView is the lifecycle state of a match's chat.
type ConversationView struct {
	ID           uint64     `json:"id"`
	PoolID       uint64     `json:"pool_id"`
	Participants []string   `json:"participants"`
	Status       string     `json:"status"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	ContinuedBy  []string   `json:"continued_by"`
	CreatedAt    time.Time  `json:"created_at"`
}

func conversationView(c *model.Conversation) ConversationView {
	continued := c.ContinuedBy
	if continued == nil {
		continued = []string{}
	}
	return ConversationView{
		ID:           c.ID,
		PoolID:       c.PoolID,
		Participants: []string{c.UserA, c.UserB},
		Status:       c.Status.String(),
		ExpiresAt:    c.ExpiresAt,
		ContinuedBy:  continued,
		CreatedAt:    c.CreatedAt,
	}
}

// LedgerView is one credit ledger entry.
type LedgerView struct {
	ID           uint64    `json:"id"`
	Action       string    `json:"action"`
	CreditsDelta int       `json:"credits_delta"`
	ReferenceID  string    `json:"reference_id,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func ledgerViews(entries []model.LedgerEntry) []LedgerView {
	out := make([]LedgerView, 0, len(entries))
	for _, e := range entries {
		out = append(out, LedgerView{
			ID:           e.ID,
			Action:       e.Action.String(),
			CreditsDelta: e.CreditsDelta,
			ReferenceID:  e.ReferenceID,
			Reason:       e.Reason,
			CreatedAt:    e.CreatedAt,
		})
	}
	return out
}

// SafetyEventView is one safety ledger record.
type SafetyEventView struct {
	ID        uint64         `json:"id"`
	UserID    string         `json:"user_id"`
	EventType string         `json:"event_type"`
	Severity  string         `json:"severity"`
	Context   map[string]any `json:"context,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

func safetyEventViews(events []model.SafetyEvent) []SafetyEventView {
	out := make([]SafetyEventView, 0, len(events))
	for _, e := range events {
		out = append(out, SafetyEventView{
			ID:        e.ID,
			UserID:    e.UserID,
			EventType: e.EventType,
			Severity:  e.Severity,
			Context:   e.Context,
			CreatedAt: e.CreatedAt,
		})
	}
	return out
}

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/iliyamo/cohort-pools/internal/apperr"
	"github.com/iliyamo/cohort-pools/internal/model"
	"github.com/iliyamo/cohort-pools/internal/ratelimit"
	"github.com/iliyamo/cohort-pools/internal/repository"
)

// Safety gates actions on restriction level and rate limits, records
// safety events and manages user blocks.
type Safety struct {
	d   Deps
	log *slog.Logger
}

// Record appends a safety event.  Failures are logged, never returned.
func (s *Safety) Record(ctx context.Context, userID, eventType, severity string, fields map[string]any) {
	ev := &model.SafetyEvent{UserID: userID, EventType: eventType, Severity: severity, Context: fields, CreatedAt: s.d.now()}
	if err := s.d.Store.Safety.LogEvent(ctx, s.d.Store.DB, ev); err != nil {
		s.log.Error("safety event not recorded", "error", err, "user_id", userID, "event_type", eventType)
	}
}

// RequireBelow refuses the action when the user's restriction in force
// is at or above level.  A refusal is recorded as a safety event.
func (s *Safety) RequireBelow(ctx context.Context, p *model.Profile, level model.RestrictionLevel, action string) error {
	if p == nil {
		return nil
	}
	current := p.ActiveRestriction(s.d.now())
	if current < level {
		return nil
	}
	s.Record(ctx, p.UserID, model.SafetyRestrictionEnforced, model.SeverityMedium, map[string]any{
		"action": action, "restriction_level": current.String(),
	})
	return apperr.PermissionDenied(fmt.Sprintf("account %s: %s not allowed", current, action))
}

// Enforce counts one attempt of rule for userID.  An exceeded limit is
// recorded and returned as a rate-limited error before any state
// changes.  A limiter outage lets the call through.
func (s *Safety) Enforce(ctx context.Context, rule ratelimit.Rule, userID, scope string) error {
	res, err := s.d.Limiter.Enforce(ctx, rule, userID, scope)
	if err != nil {
		s.log.Warn("rate limiter unavailable", "error", err, "user_id", userID, "action", rule.Action)
		return nil
	}
	if res.Allowed {
		return nil
	}
	fields := map[string]any{"action": rule.Action, "count": res.Count, "limit": rule.Limit}
	if scope != "" {
		fields["scope"] = scope
	}
	s.Record(ctx, userID, model.SafetyRateLimitExceeded, model.SeverityLow, fields)
	retry := int(res.RetryAfter.Round(time.Second) / time.Second)
	return apperr.RateLimited(fmt.Sprintf("too many %s requests", rule.Action)).
		WithMeta("retry_after", strconv.Itoa(retry))
}

// IsBlocked reports whether either user blocked the other.
func (s *Safety) IsBlocked(ctx context.Context, a, b string) (bool, error) {
	ok, err := s.d.Store.Safety.IsBlocked(ctx, s.d.Store.DB, a, b)
	if err != nil {
		return false, storeErr("check block", err)
	}
	return ok, nil
}

// Block stops all further contact between blocker and blocked.  The two
// users must have been matched at some point.
func (s *Safety) Block(ctx context.Context, blocker, blocked, reason string) error {
	blocked = strings.TrimSpace(blocked)
	if blocked == "" || blocked == blocker {
		return apperr.Validation("invalid user to block")
	}
	if err := s.Enforce(ctx, ratelimit.BlockUser, blocker, ""); err != nil {
		return err
	}
	matched, err := s.d.Store.Matches.HaveMatched(ctx, s.d.Store.DB, blocker, blocked)
	if err != nil {
		return storeErr("check match", err)
	}
	if !matched {
		return apperr.PreconditionFailed("can only block users you were matched with")
	}
	b := &model.Block{BlockerID: blocker, BlockedID: blocked, Reason: reason, CreatedAt: s.d.now()}
	if err := s.d.Store.Safety.CreateBlock(ctx, s.d.Store.DB, b); err != nil {
		return storeErr("block user", err)
	}
	s.Record(ctx, blocker, model.SafetyUserBlocked, model.SeverityMedium, map[string]any{"blocked_id": blocked, "reason": reason})
	return nil
}

// Unblock removes blocker's block on blocked.
func (s *Safety) Unblock(ctx context.Context, blocker, blocked string) error {
	if err := s.d.Store.Safety.DeleteBlock(ctx, s.d.Store.DB, blocker, blocked); err != nil {
		return storeErr("unblock user", err)
	}
	s.Record(ctx, blocker, model.SafetyUserUnblocked, model.SeverityLow, map[string]any{"blocked_id": blocked})
	return nil
}

// ApplyRestriction sets a restriction on userID on behalf of an admin.
// A zero duration means the restriction does not expire.
func (s *Safety) ApplyRestriction(ctx context.Context, admin, userID string, level model.RestrictionLevel, reason string, d time.Duration) error {
	now := s.d.now()
	var expires *time.Time
	if d > 0 {
		t := now.Add(d)
		expires = &t
	}
	if err := s.d.Store.Profiles.SetRestriction(ctx, s.d.Store.DB, userID, level, reason, expires, now); err != nil {
		return storeErr("apply restriction", err)
	}
	s.Record(ctx, admin, model.SafetyAdminOverrideUser, model.SeverityHigh, map[string]any{
		"user_id": userID, "action": "apply_restriction", "level": level.String(), "reason": reason,
	})
	return nil
}

// RestoreAccess clears any restriction on userID.
func (s *Safety) RestoreAccess(ctx context.Context, admin, userID, reason string) error {
	return s.ApplyRestriction(ctx, admin, userID, model.RestrictionNone, reason, 0)
}

// LiftExpiredRestrictions clears restrictions whose expiry passed and
// returns how many were lifted.
func (s *Safety) LiftExpiredRestrictions(ctx context.Context) (int, error) {
	ids, err := s.d.Store.Profiles.LiftExpiredRestrictions(ctx, s.d.Store.DB, s.d.now(), s.d.Policy.SweepBatchSize)
	if err != nil {
		return 0, storeErr("lift restrictions", err)
	}
	if len(ids) > 0 {
		s.log.Info("restrictions lifted", "count", len(ids))
	}
	return len(ids), nil
}

// Events returns the most recent safety events for userID.
func (s *Safety) Events(ctx context.Context, userID string, limit int) ([]model.SafetyEvent, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	ev, err := s.d.Store.Safety.ListEvents(ctx, s.d.Store.DB, userID, limit)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, storeErr("list safety events", err)
	}
	return ev, nil
}

package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/iliyamo/cohort-pools/internal/apperr"
	"github.com/iliyamo/cohort-pools/internal/lock"
	"github.com/iliyamo/cohort-pools/internal/model"
	"github.com/iliyamo/cohort-pools/internal/repository"
)

// Rollover reasons logged when a successor pool is created.
const (
	ReasonNoJoiningPool    = "no_joining_pool"
	ReasonMaleCapacity     = "male_capacity_reached"
	ReasonFemaleCapacity   = "female_capacity_reached"
	ReasonJoiningCloseSoon = "joining_closing_soon"
)

// Lifecycle owns pool state transitions, deadline enforcement and the
// creation of successor pools.
type Lifecycle struct {
	d           Deps
	credits     *Credits
	matchmaking *Matchmaking
	safety      *Safety
	log         *slog.Logger
}

func (l *Lifecycle) normalizeCity(city string) (string, error) {
	city = strings.TrimSpace(city)
	if city == "" {
		return "", apperr.Validation("city is required")
	}
	for _, c := range l.d.Policy.SupportedCities {
		if strings.EqualFold(strings.TrimSpace(c), city) {
			return strings.TrimSpace(c), nil
		}
	}
	return "", apperr.Validation("city not supported: " + city)
}

func (l *Lifecycle) newPool(city string, now time.Time) *model.Pool {
	join := now.Add(l.d.Policy.JoinDuration)
	return &model.Pool{
		City:          city,
		Status:        model.PoolJoining,
		CreatedAt:     now,
		JoinDeadline:  join,
		MatchDeadline: join.Add(l.d.Policy.MatchDuration),
	}
}

// rolloverReason returns why p needs a successor, or "".
func (l *Lifecycle) rolloverReason(p *model.Pool, now time.Time) string {
	switch {
	case p.TotalFor(model.GenderMale) >= model.MaxPerGender:
		return ReasonMaleCapacity
	case p.TotalFor(model.GenderFemale) >= model.MaxPerGender:
		return ReasonFemaleCapacity
	case p.JoinDeadline.Sub(now) <= l.d.Policy.RolloverWindow:
		return ReasonJoiningCloseSoon
	}
	return ""
}

// EnsureNextPool guarantees the city has a joinable pool.  With no
// joining pool one is created; otherwise the newest joining pool is
// checked for a rollover trigger (a gender at capacity or the join
// deadline within the rollover window) and a successor is created when
// it fires.  Repeated calls converge on the same state.  Two callers can
// still race to create a pool unless the city lock is enabled; the
// extra pool closes on its own deadline.  The created pool, if any, is
// returned.
func (l *Lifecycle) EnsureNextPool(ctx context.Context, city, trigger string) (*model.Pool, error) {
	city, err := l.normalizeCity(city)
	if err != nil {
		return nil, err
	}
	if l.d.Policy.CityLock {
		release, err := l.d.Locker.Acquire(ctx, "pool_city:"+city, 10*time.Second)
		if errors.Is(err, lock.ErrHeld) {
			l.log.Debug("city lock held; skipping", "city", city, "trigger", trigger)
			return nil, nil
		}
		if err != nil {
			l.log.Warn("city lock unavailable", "error", err, "city", city)
		} else {
			defer release()
		}
	}

	now := l.d.now()
	joining, err := l.d.Store.Pools.ListJoining(ctx, l.d.Store.DB, city)
	if err != nil {
		return nil, storeErr("list joining pools", err)
	}
	reason := ReasonNoJoiningPool
	if len(joining) > 0 {
		newest := joining[len(joining)-1]
		if reason = l.rolloverReason(newest, now); reason == "" {
			return nil, nil
		}
	}
	p := l.newPool(city, now)
	if err := l.d.Store.Pools.Create(ctx, l.d.Store.DB, p); err != nil {
		return nil, storeErr("create pool", err)
	}
	l.log.Info("pool created", "pool_id", p.ID, "city", city, "reason", reason, "trigger", trigger)
	return p, nil
}

func (l *Lifecycle) ensureBestEffort(ctx context.Context, city, trigger string) {
	if _, err := l.EnsureNextPool(ctx, city, trigger); err != nil {
		l.log.Error("ensure next pool failed", "error", err, "city", city, "trigger", trigger)
	}
}

// CreatePoolIfNotExists returns the city's open pool, creating one when
// none is joining or validating.
func (l *Lifecycle) CreatePoolIfNotExists(ctx context.Context, city string) (*model.Pool, bool, error) {
	city, err := l.normalizeCity(city)
	if err != nil {
		return nil, false, err
	}
	p, err := l.d.Store.Pools.FindOpen(ctx, l.d.Store.DB, city)
	if err == nil {
		return p, false, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, false, storeErr("find pool", err)
	}
	p = l.newPool(city, l.d.now())
	if err := l.d.Store.Pools.Create(ctx, l.d.Store.DB, p); err != nil {
		return nil, false, storeErr("create pool", err)
	}
	l.log.Info("pool created", "pool_id", p.ID, "city", city, "reason", ReasonNoJoiningPool, "trigger", "create_if_not_exists")
	return p, true, nil
}

// Get returns a pool by ID.
func (l *Lifecycle) Get(ctx context.Context, poolID uint64) (*model.Pool, error) {
	p, err := l.d.Store.Pools.Get(ctx, l.d.Store.DB, poolID)
	if err != nil {
		return nil, storeErr("load pool", err)
	}
	return p, nil
}

// Current returns the newest joining pool for a city, making sure one
// exists first.
func (l *Lifecycle) Current(ctx context.Context, city string) (*model.Pool, error) {
	city, err := l.normalizeCity(city)
	if err != nil {
		return nil, err
	}
	if _, err := l.EnsureNextPool(ctx, city, "current"); err != nil {
		return nil, err
	}
	joining, err := l.d.Store.Pools.ListJoining(ctx, l.d.Store.DB, city)
	if err != nil {
		return nil, storeErr("list joining pools", err)
	}
	if len(joining) == 0 {
		return nil, apperr.NotFound("no joining pool")
	}
	return joining[len(joining)-1], nil
}

// CloseResult reports what a close sweep did.
type CloseResult struct {
	Closed int `json:"closed"`
}

// CloseExpiredPools moves joining pools past their join deadline to
// validating, one bounded batch at a time, and makes sure each city
// keeps a joinable pool.  A pool that another caller already moved is
// skipped, so the sweep is safe to re-run.
func (l *Lifecycle) CloseExpiredPools(ctx context.Context) (CloseResult, error) {
	var res CloseResult
	now := l.d.now()
	expired, err := l.d.Store.Pools.ListExpiredJoining(ctx, l.d.Store.DB, now, l.d.Policy.SweepBatchSize)
	if err != nil {
		return res, storeErr("list expired pools", err)
	}
	for _, p := range expired {
		ok, err := l.d.Store.Pools.SetStatus(ctx, l.d.Store.DB, p.ID, model.PoolJoining, model.PoolValidating, now)
		if err != nil {
			l.log.Error("close pool failed", "error", err, "pool_id", p.ID)
			continue
		}
		if !ok {
			continue
		}
		res.Closed++
		l.log.Info("pool closed", "pool_id", p.ID, "city", p.City, "status", model.PoolValidating.String())
		l.ensureBestEffort(ctx, p.City, "prev_pool_closed")
	}
	return res, nil
}

// PendingResult reports what a matchmaking sweep did.
type PendingResult struct {
	Pools   int `json:"pools"`
	Matches int `json:"matches"`
}

// RunPendingMatchmaking gives every validating pool one matchmaking
// attempt.  A failing pool is logged and the sweep moves on.
func (l *Lifecycle) RunPendingMatchmaking(ctx context.Context) (PendingResult, error) {
	var res PendingResult
	pools, err := l.d.Store.Pools.ListByStatus(ctx, l.d.Store.DB, model.PoolValidating, l.d.Policy.SweepBatchSize)
	if err != nil {
		return res, storeErr("list validating pools", err)
	}
	for _, p := range pools {
		out, err := l.matchmaking.Run(ctx, p.ID)
		if err != nil {
			l.log.Error("matchmaking failed", "error", err, "pool_id", p.ID)
			continue
		}
		if !out.AlreadyExecuted {
			res.Pools++
			res.Matches += out.Matches
		}
	}
	return res, nil
}

// CheckResult reports what TriggerLifecycleChecks did.
type CheckResult struct {
	Closed  int `json:"closed"`
	Matched int `json:"matched"`
	Matches int `json:"matches"`
}

// TriggerLifecycleChecks runs the close sweep and then the matchmaking
// sweep.
func (l *Lifecycle) TriggerLifecycleChecks(ctx context.Context) (CheckResult, error) {
	closed, err := l.CloseExpiredPools(ctx)
	if err != nil {
		return CheckResult{}, err
	}
	pending, err := l.RunPendingMatchmaking(ctx)
	if err != nil {
		return CheckResult{Closed: closed.Closed}, err
	}
	return CheckResult{Closed: closed.Closed, Matched: pending.Pools, Matches: pending.Matches}, nil
}

// UpdatePoolStatus moves a pool to status on behalf of an admin.  Only
// transitions allowed by the pool state machine are accepted and
// re-asserting the current status is a no-op.  Cancelling refunds paying
// members; any terminal status closes out the pool's memberships.
func (l *Lifecycle) UpdatePoolStatus(ctx context.Context, poolID uint64, status model.PoolStatus, actor string) error {
	if !status.Valid() {
		return apperr.Validation("invalid status")
	}
	p, err := l.Get(ctx, poolID)
	if err != nil {
		return err
	}
	if p.Status == status {
		return nil
	}
	if !p.Status.CanTransition(status) {
		return apperr.PreconditionFailed("cannot move pool from " + p.Status.String() + " to " + status.String())
	}
	ok, err := l.d.Store.Pools.SetStatus(ctx, l.d.Store.DB, poolID, p.Status, status, l.d.now())
	if err != nil {
		return storeErr("update pool status", err)
	}
	if !ok {
		return apperr.PreconditionFailed("pool status changed concurrently")
	}
	l.safety.Record(ctx, actor, model.SafetyAdminOverridePool, model.SeverityHigh, map[string]any{
		"pool_id": poolID, "action": "update_status", "from": p.Status.String(), "to": status.String(),
	})
	l.log.Info("pool status updated", "pool_id", poolID, "from", p.Status.String(), "to", status.String(), "actor", actor)

	if status == model.PoolCancelled {
		if _, err := l.credits.RefundCancelledPool(ctx, poolID); err != nil {
			l.log.Error("refund after cancel failed", "error", err, "pool_id", poolID)
		}
	}
	if status.Terminal() {
		if _, err := l.d.Store.Memberships.CompletePool(ctx, l.d.Store.DB, poolID); err != nil {
			l.log.Error("complete memberships failed", "error", err, "pool_id", poolID)
		}
	}
	l.ensureBestEffort(ctx, p.City, "status_update")
	return nil
}

// ForceResult reports what ForceCompletePool did.
type ForceResult struct {
	MembershipsCompleted int64 `json:"memberships_completed"`
}

// ForceCompletePool completes a non-terminal pool without matching and
// records the override.
func (l *Lifecycle) ForceCompletePool(ctx context.Context, poolID uint64, actor, reason string) (ForceResult, error) {
	if strings.TrimSpace(reason) == "" {
		reason = "Manual completion"
	}
	ok, err := l.d.Store.Pools.ForceComplete(ctx, l.d.Store.DB, poolID, actor, reason, l.d.now())
	if err != nil {
		return ForceResult{}, storeErr("force complete", err)
	}
	p, err := l.Get(ctx, poolID)
	if err != nil {
		return ForceResult{}, err
	}
	if !ok {
		return ForceResult{}, apperr.PreconditionFailed("pool already " + p.Status.String())
	}
	n, err := l.d.Store.Memberships.CompletePool(ctx, l.d.Store.DB, poolID)
	if err != nil {
		l.log.Error("complete memberships failed", "error", err, "pool_id", poolID)
	}
	l.safety.Record(ctx, actor, model.SafetyAdminOverridePool, model.SeverityHigh, map[string]any{
		"pool_id": poolID, "action": "force_complete", "reason": reason,
	})
	l.log.Info("pool force completed", "pool_id", poolID, "actor", actor, "reason", reason)
	l.ensureBestEffort(ctx, p.City, "force_complete")
	return ForceResult{MembershipsCompleted: n}, nil
}

// FastForwardResult reports what FastForwardPool did.
type FastForwardResult struct {
	Closed  int `json:"closed"`
	Matched int `json:"matched"`
	Matches int `json:"matches"`
}

// FastForwardPool pulls a pool's deadlines to just before now and runs
// the lifecycle sweeps so the effect is visible immediately.  Target
// validating ends joining; target completed ends matching too.
func (l *Lifecycle) FastForwardPool(ctx context.Context, poolID uint64, target model.PoolStatus) (FastForwardResult, error) {
	var res FastForwardResult
	if target != model.PoolValidating && target != model.PoolCompleted {
		return res, apperr.Validation("target stage must be validating or completed")
	}
	p, err := l.Get(ctx, poolID)
	if err != nil {
		return res, err
	}
	now := l.d.now()
	past := now.Add(-time.Second)
	match := p.MatchDeadline
	if target == model.PoolCompleted {
		match = past
	}
	ok, err := l.d.Store.Pools.RewriteDeadlines(ctx, l.d.Store.DB, poolID, past, match, now)
	if err != nil {
		return res, storeErr("rewrite deadlines", err)
	}
	if !ok {
		return res, apperr.PreconditionFailed("pool already " + p.Status.String())
	}
	closed, err := l.CloseExpiredPools(ctx)
	if err != nil {
		return res, err
	}
	res.Closed = closed.Closed
	pending, err := l.RunPendingMatchmaking(ctx)
	if err != nil {
		return res, err
	}
	res.Matched, res.Matches = pending.Pools, pending.Matches
	return res, nil
}

// PoolInspection is an admin view of one pool.
type PoolInspection struct {
	Pool        *model.Pool             `json:"pool"`
	Memberships repository.StatusCounts `json:"memberships"`
	Matches     int                     `json:"matches"`
}

// InspectPool returns a pool with its membership tallies.
func (l *Lifecycle) InspectPool(ctx context.Context, poolID uint64) (PoolInspection, error) {
	p, err := l.Get(ctx, poolID)
	if err != nil {
		return PoolInspection{}, err
	}
	counts, err := l.d.Store.Memberships.CountByPool(ctx, l.d.Store.DB, poolID)
	if err != nil {
		return PoolInspection{}, storeErr("count memberships", err)
	}
	matches, err := l.d.Store.Matches.ListByPool(ctx, l.d.Store.DB, poolID)
	if err != nil {
		return PoolInspection{}, storeErr("list matches", err)
	}
	return PoolInspection{Pool: p, Memberships: counts, Matches: len(matches)}, nil
}

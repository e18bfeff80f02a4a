package service

import (
	"context"
	"database/sql"
	"log/slog"
	"strconv"
	"time"

	"github.com/iliyamo/cohort-pools/internal/apperr"
	"github.com/iliyamo/cohort-pools/internal/matching"
	"github.com/iliyamo/cohort-pools/internal/model"
	"github.com/iliyamo/cohort-pools/internal/queue"
)

// Matchmaking runs the draft for a validating pool and persists its
// outcome.
type Matchmaking struct {
	d   Deps
	log *slog.Logger
}

// MatchResult is returned by Run.
type MatchResult struct {
	PoolID          uint64 `json:"pool_id"`
	Matches         int    `json:"matches_count"`
	AlreadyExecuted bool   `json:"already_executed"`
}

// Run executes matchmaking for poolID at most once.  The marker, the
// pool's completion, every match and every conversation are written in
// one transaction, so a concurrent or repeated call either wins the claim
// or observes it and writes nothing.  When either gender has no active
// members the pool completes with zero matches.
func (mm *Matchmaking) Run(ctx context.Context, poolID uint64) (MatchResult, error) {
	res := MatchResult{PoolID: poolID}
	pool, err := mm.d.Store.Pools.Get(ctx, mm.d.Store.DB, poolID)
	if err != nil {
		return res, storeErr("load pool", err)
	}
	if pool.MatchingExecutedAt != nil {
		res.AlreadyExecuted = true
		return res, nil
	}
	if pool.Status != model.PoolValidating {
		return res, apperr.PreconditionFailed("pool is " + pool.Status.String() + ", not validating")
	}

	var pairs []matching.Pair
	err = mm.d.Store.InTx(ctx, func(tx *sql.Tx) error {
		pairs, res.AlreadyExecuted = nil, false
		now := mm.d.now()
		claimed, err := mm.d.Store.Pools.ClaimMatching(ctx, tx, poolID, now)
		if err != nil {
			return err
		}
		if !claimed {
			p, err := mm.d.Store.Pools.Get(ctx, tx, poolID)
			if err != nil {
				return err
			}
			if p.MatchingExecutedAt != nil {
				res.AlreadyExecuted = true
				return nil
			}
			return apperr.PreconditionFailed("pool is " + p.Status.String() + ", not validating")
		}

		males, females, err := mm.candidates(ctx, tx, poolID, now)
		if err != nil {
			return err
		}
		if len(males) == 0 || len(females) == 0 {
			mm.log.Info("insufficient members to match", "pool_id", poolID, "males", len(males), "females", len(females))
			return nil
		}
		pairs = matching.Draft(males, females, mm.d.rng())

		expires := now.Add(mm.d.Policy.ConversationTTL)
		for _, p := range pairs {
			m := &model.Match{
				PoolID:             poolID,
				UserA:              p.Male.UserID,
				UserB:              p.Female.UserID,
				UserAName:          p.Male.Name,
				UserBName:          p.Female.Name,
				CompatibilityScore: p.Score,
				CreatedAt:          now,
			}
			if err := mm.d.Store.Matches.Create(ctx, tx, m); err != nil {
				return err
			}
			exp := expires
			c := &model.Conversation{
				ID:        m.ID,
				PoolID:    poolID,
				UserA:     m.UserA,
				UserB:     m.UserB,
				Status:    model.ConversationActive,
				ExpiresAt: &exp,
				CreatedAt: now,
			}
			if err := mm.d.Store.Matches.CreateConversation(ctx, tx, c); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		mm.log.Error("matchmaking aborted", "error", err, "pool_id", poolID)
		return MatchResult{PoolID: poolID}, storeErr("run matchmaking", err)
	}
	if res.AlreadyExecuted {
		return res, nil
	}
	res.Matches = len(pairs)
	mm.log.Info("matchmaking executed", "pool_id", poolID, "matches", res.Matches)
	mm.finish(ctx, poolID, res.Matches > 0)
	return res, nil
}

// candidates loads the pool's active members split by gender.  Members
// without a profile are left out of the draft.
func (mm *Matchmaking) candidates(ctx context.Context, tx *sql.Tx, poolID uint64, now time.Time) (males, females []matching.Candidate, err error) {
	members, err := mm.d.Store.Memberships.ListByPool(ctx, tx, poolID, model.MembershipActive)
	if err != nil {
		return nil, nil, err
	}
	ids := make([]string, len(members))
	for i, m := range members {
		ids[i] = m.UserID
	}
	profiles, err := mm.d.Store.Profiles.GetMany(ctx, tx, ids)
	if err != nil {
		return nil, nil, err
	}
	for _, m := range members {
		p, ok := profiles[m.UserID]
		if !ok {
			mm.log.Warn("active member without profile", "pool_id", poolID, "user_id", m.UserID)
			continue
		}
		c := matching.Candidate{UserID: m.UserID, Name: p.Name, Age: p.EffectiveAge(now), Interests: p.Interests}
		if c.Name == "" {
			c.Name = "Unknown"
		}
		switch m.Gender {
		case model.GenderMale:
			males = append(males, c)
		case model.GenderFemale:
			females = append(females, c)
		}
	}
	return males, females, nil
}

// finish closes out the pool's memberships and tells each member their
// matches are ready.  Failures are logged only.
func (mm *Matchmaking) finish(ctx context.Context, poolID uint64, notify bool) {
	members, err := mm.d.Store.Memberships.ListByPool(ctx, mm.d.Store.DB, poolID, model.MembershipActive, model.MembershipBuffer)
	if err != nil {
		mm.log.Error("list memberships after matchmaking failed", "error", err, "pool_id", poolID)
		return
	}
	if _, err := mm.d.Store.Memberships.CompletePool(ctx, mm.d.Store.DB, poolID); err != nil {
		mm.log.Error("complete memberships failed", "error", err, "pool_id", poolID)
	}
	if !notify {
		return
	}
	seen := make(map[string]bool, len(members))
	for _, m := range members {
		if seen[m.UserID] || m.IsDummy {
			continue
		}
		seen[m.UserID] = true
		mm.d.Notifier.Notify(ctx, queue.NotificationEvent{
			UserID:   m.UserID,
			Type:     queue.TypeMatchReady,
			EntityID: strconv.FormatUint(poolID, 10),
			Title:    "Matches Ready!",
			Body:     "Your matches are ready. Open the app to see who you've been matched with!",
		})
	}
}

// ListByPool returns the matches written for a pool.
func (mm *Matchmaking) ListByPool(ctx context.Context, poolID uint64) ([]*model.Match, error) {
	out, err := mm.d.Store.Matches.ListByPool(ctx, mm.d.Store.DB, poolID)
	if err != nil {
		return nil, storeErr("list matches", err)
	}
	return out, nil
}

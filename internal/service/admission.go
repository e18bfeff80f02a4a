package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/cohort-pools/internal/apperr"
	"github.com/iliyamo/cohort-pools/internal/model"
	"github.com/iliyamo/cohort-pools/internal/queue"
	"github.com/iliyamo/cohort-pools/internal/ratelimit"
	"github.com/iliyamo/cohort-pools/internal/repository"
)

// Admission admits users into pools.
type Admission struct {
	d         Deps
	safety    *Safety
	zipper    *Zipper
	lifecycle *Lifecycle
	log       *slog.Logger
}

// JoinResult is returned by Join.
type JoinResult struct {
	Status         string `json:"status"`
	MembershipID   uint64 `json:"membership_id"`
	CreditsDebited int    `json:"credits_debited"`
	NewBalance     int    `json:"new_balance"`
}

// Join admits userID into poolID as a buffered member.  The membership,
// the pool's buffer counter and, for males, the join fee are written in
// one transaction.  Promotion, rollover and the notification follow
// after commit and never undo the join.
//
// The balance check reads outside the transaction and is not
// re-validated inside it; concurrent joins by the same user can be
// admitted on a stale balance.
func (a *Admission) Join(ctx context.Context, userID string, poolID uint64) (JoinResult, error) {
	prof, err := a.d.Store.Profiles.Get(ctx, a.d.Store.DB, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return JoinResult{}, apperr.PreconditionFailed("complete your profile before joining")
	}
	if err != nil {
		return JoinResult{}, storeErr("load profile", err)
	}
	if err := a.safety.RequireBelow(ctx, prof, model.RestrictionLimited, "joinPool"); err != nil {
		return JoinResult{}, err
	}
	if err := a.safety.Enforce(ctx, ratelimit.JoinPool, userID, ""); err != nil {
		return JoinResult{}, err
	}

	pool, err := a.d.Store.Pools.Get(ctx, a.d.Store.DB, poolID)
	if err != nil {
		return JoinResult{}, storeErr("load pool", err)
	}
	if !a.d.Policy.Supports(pool.City) {
		return JoinResult{}, apperr.PreconditionFailed("pool city is not supported")
	}
	a.lifecycle.ensureBestEffort(ctx, pool.City, "pre_join_check")

	if _, err := a.d.Store.Memberships.Get(ctx, a.d.Store.DB, poolID, userID); err == nil {
		return JoinResult{}, apperr.AlreadyExists("already joined this pool")
	} else if !errors.Is(err, repository.ErrNotFound) {
		return JoinResult{}, storeErr("check membership", err)
	}
	open, err := a.d.Store.Memberships.ListOpenForUser(ctx, a.d.Store.DB, userID)
	if err != nil {
		return JoinResult{}, storeErr("check memberships", err)
	}
	if len(open) > 0 {
		return JoinResult{}, apperr.PreconditionFailed("already a member of an open pool")
	}

	cost := 0
	if prof.Gender == model.GenderMale {
		cost = a.d.Policy.MaleJoinCost
	}
	balance := 0
	if cost > 0 {
		if balance, err = a.d.Store.Ledger.Balance(ctx, a.d.Store.DB, userID); err != nil {
			return JoinResult{}, storeErr("compute balance", err)
		}
	}

	m := &model.Membership{PoolID: poolID, UserID: userID, Gender: prof.Gender, Status: model.MembershipBuffer}
	err = a.d.Store.InTx(ctx, func(tx *sql.Tx) error {
		p, err := a.d.Store.Pools.Get(ctx, tx, poolID)
		if err != nil {
			return err
		}
		if p.Status != model.PoolJoining {
			return apperr.PreconditionFailed("pool is not accepting joins")
		}
		if !prof.Gender.Valid() {
			return apperr.PreconditionFailed("gender not set on profile")
		}
		if balance < cost {
			return apperr.PreconditionFailed("insufficient credits").
				WithMeta("required", strconv.Itoa(cost), "balance", strconv.Itoa(balance))
		}
		if !p.HasRoomFor(prof.Gender) {
			return apperr.PreconditionFailed(prof.Gender.String() + " slots are full")
		}
		now := a.d.now()
		m.ID, m.JoinedAt = 0, now
		if err := a.d.Store.Memberships.Create(ctx, tx, m); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return apperr.AlreadyExists("already joined this pool")
			}
			return err
		}
		ok, err := a.d.Store.Pools.IncrementBuffer(ctx, tx, poolID, prof.Gender, now)
		if err != nil {
			return err
		}
		if !ok {
			return repository.ErrStaleWrite
		}
		if cost > 0 {
			return a.d.Store.Ledger.Append(ctx, tx, &model.LedgerEntry{
				UserID:       userID,
				Action:       model.LedgerSpend,
				CreditsDelta: -cost,
				ReferenceID:  strconv.FormatUint(poolID, 10),
				Reason:       "Pool join fee",
				CreatedAt:    now,
			})
		}
		return nil
	})
	if err != nil {
		if apperr.KindOf(err) == apperr.KindConflict || apperr.KindOf(err) == apperr.KindInternal {
			a.log.Error("join failed", "error", err, "pool_id", poolID, "user_id", userID)
		}
		return JoinResult{}, storeErr("join pool", err)
	}
	a.log.Info("pool joined", "pool_id", poolID, "user_id", userID, "gender", prof.Gender.String(), "credits_debited", cost)

	a.zipper.promoteBestEffort(ctx, poolID)
	a.d.Notifier.Notify(ctx, queue.NotificationEvent{
		UserID:   userID,
		Type:     queue.TypePoolJoined,
		EntityID: strconv.FormatUint(poolID, 10),
		Title:    "You're in the pool",
		Body:     "We'll let you know when your matches are ready.",
	})
	a.lifecycle.ensureBestEffort(ctx, pool.City, "post_join_check")

	newBalance := balance - cost
	if cost > 0 {
		if b, err := a.d.Store.Ledger.Balance(ctx, a.d.Store.DB, userID); err == nil {
			newBalance = b
		}
	}
	return JoinResult{
		Status:         model.MembershipBuffer.String(),
		MembershipID:   m.ID,
		CreditsDebited: cost,
		NewBalance:     newBalance,
	}, nil
}

var (
	dummyMaleNames   = []string{"James", "John", "Robert", "Michael", "William", "David", "Richard", "Joseph", "Thomas", "Charles"}
	dummyFemaleNames = []string{"Mary", "Patricia", "Jennifer", "Linda", "Elizabeth", "Barbara", "Susan", "Jessica", "Sarah", "Karen"}
	dummyLastNames   = []string{"Smith", "Johnson", "Williams", "Jones", "Brown", "Davis", "Miller", "Wilson", "Moore", "Taylor"}
	dummyInterests   = []string{"hiking", "movies", "reading", "travel", "cooking", "music", "gym", "tech", "art", "gaming"}
)

// DummyResult is returned by AddDummyUser.
type DummyResult struct {
	UserID       string    `json:"user_id"`
	Name         string    `json:"name"`
	PoolID       uint64    `json:"pool_id"`
	MembershipID uint64    `json:"membership_id"`
	Promotion    Promotion `json:"promotion"`
}

// AddDummyUser creates a synthetic profile and admits it into poolID, or
// into the city's open pool when poolID is zero.  Dummies pay nothing and
// may also join a validating pool; capacity rules still apply.
func (a *Admission) AddDummyUser(ctx context.Context, city, gender string, poolID uint64) (DummyResult, error) {
	g, err := model.ParseGender(gender)
	if err != nil {
		return DummyResult{}, apperr.Validation("gender must be male or female")
	}
	var pool *model.Pool
	if poolID != 0 {
		if pool, err = a.lifecycle.Get(ctx, poolID); err != nil {
			return DummyResult{}, err
		}
		if pool.Status.Terminal() {
			return DummyResult{}, apperr.PreconditionFailed("pool already " + pool.Status.String())
		}
	} else {
		if pool, _, err = a.lifecycle.CreatePoolIfNotExists(ctx, city); err != nil {
			return DummyResult{}, err
		}
	}

	rng := a.d.rng()
	now := a.d.now()
	names := dummyMaleNames
	if g == model.GenderFemale {
		names = dummyFemaleNames
	}
	age := 20 + rng.IntN(21)
	birth := time.Date(now.Year()-age, 1, 1, 0, 0, 0, 0, time.UTC)
	picked := rng.Perm(len(dummyInterests))[:1+rng.IntN(3)]
	interests := make([]string, len(picked))
	for i, idx := range picked {
		interests[i] = dummyInterests[idx]
	}
	prof := &model.Profile{
		UserID:    fmt.Sprintf("dummy_%s_%s", g, strings.ReplaceAll(uuid.NewString(), "-", "")[:8]),
		Name:      fmt.Sprintf("%s %s (Bot)", names[rng.IntN(len(names))], dummyLastNames[rng.IntN(len(dummyLastNames))]),
		Gender:    g,
		Age:       age,
		BirthDate: &birth,
		Interests: interests,
		City:      pool.City,
		IsDummy:   true,
		CreatedAt: now,
	}
	if err := a.d.Store.Profiles.Upsert(ctx, a.d.Store.DB, prof, now); err != nil {
		return DummyResult{}, storeErr("create dummy profile", err)
	}

	m := &model.Membership{PoolID: pool.ID, UserID: prof.UserID, Gender: g, Status: model.MembershipBuffer, IsDummy: true}
	err = a.d.Store.InTx(ctx, func(tx *sql.Tx) error {
		p, err := a.d.Store.Pools.Get(ctx, tx, pool.ID)
		if err != nil {
			return err
		}
		if p.Status.Terminal() {
			return apperr.PreconditionFailed("pool already " + p.Status.String())
		}
		if !p.HasRoomFor(g) {
			return apperr.PreconditionFailed(g.String() + " slots are full")
		}
		m.ID, m.JoinedAt = 0, a.d.now()
		if err := a.d.Store.Memberships.Create(ctx, tx, m); err != nil {
			return err
		}
		ok, err := a.d.Store.Pools.IncrementBuffer(ctx, tx, pool.ID, g, m.JoinedAt, model.PoolJoining, model.PoolValidating)
		if err != nil {
			return err
		}
		if !ok {
			return repository.ErrStaleWrite
		}
		return nil
	})
	if err != nil {
		return DummyResult{}, storeErr("add dummy user", err)
	}
	promo, err := a.zipper.Promote(ctx, pool.ID)
	if err != nil {
		a.log.Error("promotion after dummy join failed", "error", err, "pool_id", pool.ID)
	}
	a.log.Info("dummy user added", "pool_id", pool.ID, "user_id", prof.UserID, "gender", g.String())
	return DummyResult{UserID: prof.UserID, Name: prof.Name, PoolID: pool.ID, MembershipID: m.ID, Promotion: promo}, nil
}

package service

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/iliyamo/cohort-pools/internal/apperr"
	"github.com/iliyamo/cohort-pools/internal/model"
)

// Promotion counts the members moved from buffer to active.
type Promotion struct {
	Males   int `json:"males"`
	Females int `json:"females"`
}

// PlanPromotion decides how many buffered males and females to promote
// given a pool's counters.  While active capacity remains it promotes
// from the side whose active count is not ahead of the other, falling
// back to whichever buffer is non-empty, and stops when nothing can move.
func PlanPromotion(am, af, bm, bf int) Promotion {
	var p Promotion
	for am+af < model.MaxActiveTotal {
		switch {
		case bm > 0 && am <= af:
			am, bm, p.Males = am+1, bm-1, p.Males+1
		case bf > 0 && af <= am:
			af, bf, p.Females = af+1, bf-1, p.Females+1
		case bm > 0:
			am, bm, p.Males = am+1, bm-1, p.Males+1
		case bf > 0:
			af, bf, p.Females = af+1, bf-1, p.Females+1
		default:
			return p
		}
	}
	return p
}

// Zipper promotes buffered members into active capacity.
type Zipper struct {
	d   Deps
	log *slog.Logger
}

// Promote runs one promotion pass for a pool.  The earliest-joined
// buffered members of each gender are activated and the counters are
// updated in one transaction; a concurrent change to the counters makes
// the transaction retry against fresh values.  Terminal pools and pools
// already matched are left alone.
func (z *Zipper) Promote(ctx context.Context, poolID uint64) (Promotion, error) {
	var out Promotion
	err := z.d.Store.InTx(ctx, func(tx *sql.Tx) error {
		out = Promotion{}
		pool, err := z.d.Store.Pools.Get(ctx, tx, poolID)
		if err != nil {
			return err
		}
		if pool.Status.Terminal() || pool.MatchingExecutedAt != nil {
			return nil
		}
		plan := PlanPromotion(pool.ActiveMale, pool.ActiveFemale, pool.BufferMale, pool.BufferFemale)
		if plan.Males == 0 && plan.Females == 0 {
			return nil
		}
		now := z.d.now()
		var ids []uint64
		for _, part := range []struct {
			g model.Gender
			n *int
		}{{model.GenderMale, &plan.Males}, {model.GenderFemale, &plan.Females}} {
			if *part.n == 0 {
				continue
			}
			picked, err := z.d.Store.Memberships.OldestBuffered(ctx, tx, poolID, part.g, *part.n)
			if err != nil {
				return err
			}
			if len(picked) < *part.n {
				z.log.Warn("buffer counter ahead of memberships", "pool_id", poolID, "gender", part.g.String(),
					"counter", *part.n, "found", len(picked))
				*part.n = len(picked)
			}
			for _, m := range picked {
				ids = append(ids, m.ID)
			}
		}
		if len(ids) == 0 {
			return nil
		}
		if err := z.d.Store.Pools.ApplyPromotion(ctx, tx, pool, plan.Males, plan.Females, now); err != nil {
			return err
		}
		if err := z.d.Store.Memberships.Activate(ctx, tx, ids, now); err != nil {
			return err
		}
		out = plan
		return nil
	})
	if err != nil {
		return Promotion{}, storeErr("promote buffer", err)
	}
	if out.Males+out.Females > 0 {
		z.log.Info("buffer promoted", "pool_id", poolID, "males", out.Males, "females", out.Females)
	}
	return out, nil
}

// promoteBestEffort runs Promote and only logs a failure.
func (z *Zipper) promoteBestEffort(ctx context.Context, poolID uint64) {
	if _, err := z.Promote(ctx, poolID); err != nil {
		z.log.Error("promotion failed", "error", err, "pool_id", poolID, "kind", apperr.KindOf(err))
	}
}

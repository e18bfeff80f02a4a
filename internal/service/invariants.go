package service

import (
	"context"
	"fmt"

	"github.com/iliyamo/cohort-pools/internal/model"
)

// Invariants audits stored state against the rules the services keep.
type Invariants struct {
	d Deps
}

// Violation is one broken rule found by Verify.
type Violation struct {
	Check   string `json:"check"`
	Subject string `json:"subject"`
	Detail  string `json:"detail"`
}

// Report is the result of Verify.
type Report struct {
	PoolsChecked int         `json:"pools_checked"`
	Violations   []Violation `json:"violations"`
}

// OK reports whether no violation was found.
func (r Report) OK() bool { return len(r.Violations) == 0 }

// Verify checks pool counters against memberships and capacity, users
// holding more than one open membership, conversations left active past
// their expiry and cities with more than one joining pool.
func (v *Invariants) Verify(ctx context.Context) (Report, error) {
	var rep Report
	s := v.d.Store
	pools, err := s.Pools.ListRecent(ctx, s.DB, v.d.Policy.SweepBatchSize)
	if err != nil {
		return rep, storeErr("list pools", err)
	}
	for _, p := range pools {
		if p.Status.Terminal() {
			continue
		}
		rep.PoolsChecked++
		subject := fmt.Sprintf("pool %d", p.ID)
		if p.TotalFor(model.GenderMale) > model.MaxPerGender || p.TotalFor(model.GenderFemale) > model.MaxPerGender {
			rep.add("gender_capacity", subject, fmt.Sprintf("male=%d female=%d", p.TotalFor(model.GenderMale), p.TotalFor(model.GenderFemale)))
		}
		if p.ActiveMale+p.ActiveFemale > model.MaxActiveTotal {
			rep.add("active_capacity", subject, fmt.Sprintf("active=%d", p.ActiveMale+p.ActiveFemale))
		}
		counts, err := s.Memberships.CountByPool(ctx, s.DB, p.ID)
		if err != nil {
			return rep, storeErr("count memberships", err)
		}
		if counts.ActiveMale != p.ActiveMale || counts.ActiveFemale != p.ActiveFemale ||
			counts.BufferMale != p.BufferMale || counts.BufferFemale != p.BufferFemale {
			rep.add("counter_drift", subject, fmt.Sprintf(
				"counters am=%d af=%d bm=%d bf=%d memberships am=%d af=%d bm=%d bf=%d",
				p.ActiveMale, p.ActiveFemale, p.BufferMale, p.BufferFemale,
				counts.ActiveMale, counts.ActiveFemale, counts.BufferMale, counts.BufferFemale))
		}
	}

	users, err := s.Memberships.UsersInMultiplePools(ctx, s.DB)
	if err != nil {
		return rep, storeErr("check memberships", err)
	}
	for _, u := range users {
		rep.add("multiple_open_pools", "user "+u, "open memberships in more than one pool")
	}

	stale, err := s.Matches.CountExpiredButActive(ctx, s.DB, v.d.now())
	if err != nil {
		return rep, storeErr("check conversations", err)
	}
	if stale > 0 {
		rep.add("expired_conversations", "conversations", fmt.Sprintf("%d active past expiry", stale))
	}

	dups, err := s.Pools.DuplicateJoiningCities(ctx, s.DB)
	if err != nil {
		return rep, storeErr("check joining pools", err)
	}
	for _, c := range dups {
		rep.add("duplicate_joining_pools", "city "+c.City, fmt.Sprintf("%d joining pools", c.Count))
	}
	return rep, nil
}

func (r *Report) add(check, subject, detail string) {
	r.Violations = append(r.Violations, Violation{Check: check, Subject: subject, Detail: detail})
}

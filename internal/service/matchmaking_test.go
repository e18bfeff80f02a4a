package service

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/iliyamo/cohort-pools/internal/apperr"
	"github.com/iliyamo/cohort-pools/internal/model"
	"github.com/iliyamo/cohort-pools/internal/queue"
)

// bufferMember admits a member straight into the buffer without running
// promotion.
func (f *fixture) bufferMember(t *testing.T, poolID uint64, userID string, g model.Gender) {
	t.Helper()
	ctx := context.Background()
	f.profile(t, userID, g)
	err := f.store.InTx(ctx, func(tx *sql.Tx) error {
		m := &model.Membership{PoolID: poolID, UserID: userID, Gender: g, Status: model.MembershipBuffer, JoinedAt: f.clock.Now()}
		if err := f.store.Memberships.Create(ctx, tx, m); err != nil {
			return err
		}
		_, err := f.store.Pools.IncrementBuffer(ctx, tx, poolID, g, f.clock.Now())
		return err
	})
	if err != nil {
		t.Fatalf("buffer member %s: %v", userID, err)
	}
}

func (f *fixture) validating(t *testing.T, poolID uint64) {
	t.Helper()
	ok, err := f.store.Pools.SetStatus(context.Background(), f.store.DB, poolID, model.PoolJoining, model.PoolValidating, f.clock.Now())
	if err != nil || !ok {
		t.Fatalf("set validating: ok=%v err=%v", ok, err)
	}
}

func matchCounts(matches []*model.Match) map[string]int {
	out := map[string]int{}
	for _, m := range matches {
		out[m.UserA]++
		out[m.UserB]++
	}
	return out
}

func TestCloseSweepMatchesOnlyActiveMembers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.pool(t)
	f.member(t, p.ID, "m1", model.GenderMale, "music")
	f.member(t, p.ID, "m2", model.GenderMale)
	f.member(t, p.ID, "f1", model.GenderFemale, "Music")
	f.member(t, p.ID, "f2", model.GenderFemale)
	f.member(t, p.ID, "f3", model.GenderFemale)
	f.bufferMember(t, p.ID, "fb", model.GenderFemale)

	f.clock.Advance(f.svc.Lifecycle.d.Policy.JoinDuration + time.Minute)
	res, err := f.svc.Lifecycle.TriggerLifecycleChecks(ctx)
	if err != nil {
		t.Fatalf("lifecycle checks: %v", err)
	}
	if res.Closed != 1 || res.Matched != 1 {
		t.Fatalf("expected one pool closed and matched, got %+v", res)
	}

	got := f.reload(t, p.ID)
	if got.Status != model.PoolCompleted || got.MatchingExecutedAt == nil {
		t.Fatalf("expected completed pool with marker, got %+v", got)
	}
	matches, err := f.svc.Matchmaking.ListByPool(ctx, p.ID)
	if err != nil {
		t.Fatalf("list matches: %v", err)
	}
	if len(matches) != res.Matches {
		t.Fatalf("expected %d matches, got %d", res.Matches, len(matches))
	}
	counts := matchCounts(matches)
	if counts["fb"] != 0 {
		t.Fatalf("expected buffered member unmatched, got %d", counts["fb"])
	}
	for _, u := range []string{"m1", "m2", "f1", "f2", "f3"} {
		if counts[u] < 2 {
			t.Fatalf("expected %s to have at least 2 matches, got %d", u, counts[u])
		}
	}

	for _, m := range matches {
		c, err := f.store.Matches.GetConversation(ctx, f.store.DB, m.ID)
		if err != nil {
			t.Fatalf("conversation for match %d: %v", m.ID, err)
		}
		if c.Status != model.ConversationActive || c.ExpiresAt == nil {
			t.Fatalf("expected active conversation with expiry, got %+v", c)
		}
		if want := f.clock.Now().Add(24 * time.Hour); !c.ExpiresAt.Equal(want) {
			t.Fatalf("expected expiry %s, got %s", want, c.ExpiresAt)
		}
	}

	members, err := f.store.Memberships.ListByPool(ctx, f.store.DB, p.ID, model.MembershipActive, model.MembershipBuffer)
	if err != nil {
		t.Fatalf("list memberships: %v", err)
	}
	if len(members) != 0 {
		t.Fatalf("expected all memberships completed, %d open", len(members))
	}
	ready := f.notify.ofType(queue.TypeMatchReady)
	if len(ready) != 6 {
		t.Fatalf("expected 6 match-ready notifications, got %d", len(ready))
	}

	joining, err := f.store.Pools.ListJoining(ctx, f.store.DB, "Kochi")
	if err != nil {
		t.Fatalf("list joining: %v", err)
	}
	if len(joining) != 1 {
		t.Fatalf("expected a successor pool after close, got %d", len(joining))
	}
}

func TestMatchmakingRunsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.pool(t)
	for i := 0; i < 4; i++ {
		f.member(t, p.ID, userID("m", i), model.GenderMale)
		f.member(t, p.ID, userID("f", i), model.GenderFemale)
	}
	f.validating(t, p.ID)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		executed int
		already  int
		total    int
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.Matchmaking.Run(ctx, p.ID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				t.Errorf("run: %v", err)
				return
			}
			if res.AlreadyExecuted {
				already++
				return
			}
			executed++
			total = res.Matches
		}()
	}
	wg.Wait()

	if executed != 1 || already != 4 {
		t.Fatalf("expected one execution and four no-ops, got %d and %d", executed, already)
	}
	matches, err := f.svc.Matchmaking.ListByPool(ctx, p.ID)
	if err != nil {
		t.Fatalf("list matches: %v", err)
	}
	if len(matches) != total || total == 0 {
		t.Fatalf("expected %d persisted matches, got %d", total, len(matches))
	}
	seen := map[[2]string]bool{}
	for _, m := range matches {
		key := [2]string{m.UserA, m.UserB}
		if seen[key] {
			t.Fatalf("duplicate pair %v", key)
		}
		seen[key] = true
	}

	res, err := f.svc.Matchmaking.Run(ctx, p.ID)
	if err != nil || !res.AlreadyExecuted {
		t.Fatalf("expected repeated run to be a no-op, got %+v err=%v", res, err)
	}
}

func TestMatchmakingEmptyPartitionCompletes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.pool(t)
	f.member(t, p.ID, "f1", model.GenderFemale)
	f.member(t, p.ID, "f2", model.GenderFemale)
	f.validating(t, p.ID)

	res, err := f.svc.Matchmaking.Run(ctx, p.ID)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Matches != 0 || res.AlreadyExecuted {
		t.Fatalf("expected zero matches, got %+v", res)
	}
	got := f.reload(t, p.ID)
	if got.Status != model.PoolCompleted || got.MatchingExecutedAt == nil {
		t.Fatalf("expected completed pool, got %+v", got)
	}
	if n := len(f.notify.ofType(queue.TypeMatchReady)); n != 0 {
		t.Fatalf("expected no match-ready notifications, got %d", n)
	}
	open, err := f.store.Memberships.ListOpenForUser(ctx, f.store.DB, "f1")
	if err != nil {
		t.Fatalf("list open: %v", err)
	}
	if len(open) != 0 {
		t.Fatalf("expected membership completed, got %d open", len(open))
	}
}

func TestMatchmakingRequiresValidatingPool(t *testing.T) {
	f := newFixture(t)
	p := f.pool(t)
	_, err := f.svc.Matchmaking.Run(context.Background(), p.ID)
	expectKind(t, err, apperr.KindPreconditionFailed)

	_, err = f.svc.Matchmaking.Run(context.Background(), 12345)
	expectKind(t, err, apperr.KindNotFound)
}

func TestMatchmakingPrefersSharedInterests(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.pool(t)
	f.member(t, p.ID, "m1", model.GenderMale, "hiking", "jazz")
	f.member(t, p.ID, "f1", model.GenderFemale, "Hiking", "JAZZ")
	f.member(t, p.ID, "f2", model.GenderFemale)
	f.validating(t, p.ID)

	if _, err := f.svc.Matchmaking.Run(ctx, p.ID); err != nil {
		t.Fatalf("run: %v", err)
	}
	matches, err := f.svc.Matchmaking.ListByPool(ctx, p.ID)
	if err != nil {
		t.Fatalf("list matches: %v", err)
	}
	var best *model.Match
	for _, m := range matches {
		if m.UserB == "f1" {
			best = m
		}
	}
	if best == nil {
		t.Fatalf("expected m1 matched with f1, got %+v", matches)
	}
	if best.CompatibilityScore != 25 {
		t.Fatalf("expected score 25, got %v", best.CompatibilityScore)
	}
	if best.UserAName != "User m1" || best.UserBName != "User f1" {
		t.Fatalf("expected copied names, got %q and %q", best.UserAName, best.UserBName)
	}
}

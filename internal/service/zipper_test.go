package service

import (
	"context"
	"testing"
	"time"

	"github.com/iliyamo/cohort-pools/internal/model"
)

func TestPlanPromotion(t *testing.T) {
	tests := []struct {
		name           string
		am, af, bm, bf int
		want           Promotion
	}{
		{"empty", 0, 0, 0, 0, Promotion{}},
		{"balanced buffers", 0, 0, 3, 3, Promotion{Males: 3, Females: 3}},
		{"only males", 0, 0, 4, 0, Promotion{Males: 4}},
		{"catch up females", 10, 2, 5, 5, Promotion{Males: 5, Females: 5}},
		{"full", 25, 25, 0, 0, Promotion{}},
		{"capped at total", 24, 24, 1, 1, Promotion{Males: 1, Females: 1}},
		{"fill remaining with one side", 25, 20, 0, 5, Promotion{Females: 5}},
		{"total cap", 20, 28, 10, 0, Promotion{Males: 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PlanPromotion(tt.am, tt.af, tt.bm, tt.bf)
			if got != tt.want {
				t.Fatalf("expected %+v, got %+v", tt.want, got)
			}
			if tt.am+tt.af+got.Males+got.Females > model.MaxActiveTotal {
				t.Fatalf("promotion exceeds active capacity: %+v", got)
			}
		})
	}
}

func TestPromoteActivatesBufferedMembers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.pool(t)
	f.bufferMember(t, p.ID, "m1", model.GenderMale)
	f.clock.Advance(time.Second)
	f.bufferMember(t, p.ID, "m2", model.GenderMale)
	f.clock.Advance(time.Second)
	f.bufferMember(t, p.ID, "f1", model.GenderFemale)

	got, err := f.svc.Zipper.Promote(ctx, p.ID)
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if got.Males != 2 || got.Females != 1 {
		t.Fatalf("expected 2 males and 1 female promoted, got %+v", got)
	}
	pool := f.reload(t, p.ID)
	if pool.ActiveMale != 2 || pool.ActiveFemale != 1 || pool.BufferMale != 0 || pool.BufferFemale != 0 {
		t.Fatalf("unexpected counters %+v", pool)
	}
	m, err := f.store.Memberships.Get(ctx, f.store.DB, p.ID, "m1")
	if err != nil {
		t.Fatalf("get membership: %v", err)
	}
	if m.Status != model.MembershipActive || m.EnteredPoolAt == nil {
		t.Fatalf("expected m1 active with entry time, got %+v", m)
	}

	again, err := f.svc.Zipper.Promote(ctx, p.ID)
	if err != nil {
		t.Fatalf("promote again: %v", err)
	}
	if again != (Promotion{}) {
		t.Fatalf("expected nothing to promote, got %+v", again)
	}
}

func TestPromoteSkipsMatchedPool(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.pool(t)
	f.validating(t, p.ID)
	if _, err := f.svc.Matchmaking.Run(ctx, p.ID); err != nil {
		t.Fatalf("run: %v", err)
	}
	got, err := f.svc.Zipper.Promote(ctx, p.ID)
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if got != (Promotion{}) {
		t.Fatalf("expected no promotion on completed pool, got %+v", got)
	}
}

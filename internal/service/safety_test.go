package service

import (
	"context"
	"testing"
	"time"

	"github.com/iliyamo/cohort-pools/internal/apperr"
	"github.com/iliyamo/cohort-pools/internal/model"
)

func TestBlockRequiresSharedMatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.svc.Safety.Block(ctx, "a", "b", "spam")
	expectKind(t, err, apperr.KindPreconditionFailed)
	err = f.svc.Safety.Block(ctx, "a", "a", "")
	expectKind(t, err, apperr.KindValidation)

	matchedPair(t, f)
	if err := f.svc.Safety.Block(ctx, "m1", "f1", "rude"); err != nil {
		t.Fatalf("block: %v", err)
	}
	err = f.svc.Safety.Block(ctx, "m1", "f1", "again")
	expectKind(t, err, apperr.KindAlreadyExists)

	blocked, err := f.svc.Safety.IsBlocked(ctx, "f1", "m1")
	if err != nil || !blocked {
		t.Fatalf("expected symmetric block, got %v err=%v", blocked, err)
	}
	if err := f.svc.Safety.Unblock(ctx, "m1", "f1"); err != nil {
		t.Fatalf("unblock: %v", err)
	}
	blocked, err = f.svc.Safety.IsBlocked(ctx, "m1", "f1")
	if err != nil || blocked {
		t.Fatalf("expected block removed, got %v err=%v", blocked, err)
	}
	err = f.svc.Safety.Unblock(ctx, "m1", "f1")
	expectKind(t, err, apperr.KindNotFound)
}

func TestRestrictionLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.svc.Safety.ApplyRestriction(ctx, "admin", "nobody", model.RestrictionLimited, "x", time.Hour)
	expectKind(t, err, apperr.KindNotFound)

	f.profile(t, "u1", model.GenderFemale)
	f.profile(t, "u2", model.GenderFemale)
	if err := f.svc.Safety.ApplyRestriction(ctx, "admin", "u1", model.RestrictionLimited, "spam", time.Hour); err != nil {
		t.Fatalf("restrict u1: %v", err)
	}
	if err := f.svc.Safety.ApplyRestriction(ctx, "admin", "u2", model.RestrictionBlocked, "abuse", 0); err != nil {
		t.Fatalf("restrict u2: %v", err)
	}

	f.clock.Advance(2 * time.Hour)
	n, err := f.svc.Safety.LiftExpiredRestrictions(ctx)
	if err != nil {
		t.Fatalf("lift: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one restriction lifted, got %d", n)
	}
	p, err := f.svc.Profiles.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("get u1: %v", err)
	}
	if p.RestrictionLevel != model.RestrictionNone {
		t.Fatalf("expected u1 unrestricted, got %s", p.RestrictionLevel)
	}

	if err := f.svc.Safety.RestoreAccess(ctx, "admin", "u2", "appeal"); err != nil {
		t.Fatalf("restore: %v", err)
	}
	p, err = f.svc.Profiles.Get(ctx, "u2")
	if err != nil {
		t.Fatalf("get u2: %v", err)
	}
	if p.RestrictionLevel != model.RestrictionNone || p.RestrictionExpiresAt != nil {
		t.Fatalf("expected u2 restored, got %+v", p)
	}
}

func TestProfileUpsertValidation(t *testing.T) {
	tests := []struct {
		name string
		in   ProfileInput
		ok   bool
	}{
		{"valid", ProfileInput{Name: "Asha", Gender: "Female", Age: 27, Interests: []string{"music", "art,craft"}, City: "Kochi"}, true},
		{"birth date only", ProfileInput{Name: "Ravi", Gender: "m", BirthDate: "1995-04-02"}, true},
		{"missing name", ProfileInput{Gender: "male"}, false},
		{"bad gender", ProfileInput{Name: "X", Gender: "other"}, false},
		{"too young", ProfileInput{Name: "X", Gender: "male", Age: 17}, false},
		{"bad birth date", ProfileInput{Name: "X", Gender: "male", BirthDate: "02/04/1995"}, false},
		{"too many interests", ProfileInput{Name: "X", Gender: "male", Interests: make([]string, 11)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			p, err := f.svc.Profiles.Upsert(context.Background(), "u1", tt.in)
			if !tt.ok {
				expectKind(t, err, apperr.KindValidation)
				return
			}
			if err != nil {
				t.Fatalf("upsert: %v", err)
			}
			for _, i := range p.Interests {
				for _, r := range i {
					if r == ',' {
						t.Fatalf("expected commas stripped, got %q", i)
					}
				}
			}
		})
	}
}

package model

import (
	"testing"
	"time"
)

func TestPoolStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to PoolStatus
		want     bool
	}{
		{PoolJoining, PoolValidating, true},
		{PoolJoining, PoolCancelled, true},
		{PoolJoining, PoolCompleted, true},
		{PoolValidating, PoolCompleted, true},
		{PoolValidating, PoolJoining, false},
		{PoolCompleted, PoolValidating, false},
		{PoolCancelled, PoolJoining, false},
		{PoolJoining, PoolJoining, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Fatalf("%s -> %s: expected %v, got %v", tt.from, tt.to, tt.want, got)
		}
	}
}

func TestPoolStatusRoundTrip(t *testing.T) {
	for _, s := range []PoolStatus{PoolJoining, PoolValidating, PoolCompleted, PoolCancelled} {
		got, err := ParsePoolStatus(s.String())
		if err != nil {
			t.Fatalf("parse %s: %v", s, err)
		}
		if got != s {
			t.Fatalf("expected %s, got %s", s, got)
		}
	}
	if _, err := ParsePoolStatus("open"); err == nil {
		t.Fatal("expected error for unknown status")
	}
	if PoolStatus(0).Valid() {
		t.Fatal("zero status must be invalid")
	}
}

func TestParseGender(t *testing.T) {
	if g, err := ParseGender(" Male "); err != nil || g != GenderMale {
		t.Fatalf("expected male, got %v (%v)", g, err)
	}
	if g, err := ParseGender("FEMALE"); err != nil || g != GenderFemale {
		t.Fatalf("expected female, got %v (%v)", g, err)
	}
	if _, err := ParseGender("other"); err == nil {
		t.Fatal("expected error for unsupported gender")
	}
}

func TestEffectiveAge(t *testing.T) {
	now := time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC)
	born := time.Date(1996, 5, 1, 0, 0, 0, 0, time.UTC)

	if got := (&Profile{Age: 31}).EffectiveAge(now); got != 31 {
		t.Fatalf("expected stated age 31, got %d", got)
	}
	if got := (&Profile{BirthDate: &born}).EffectiveAge(now); got != 30 {
		t.Fatalf("expected age from birth year 30, got %d", got)
	}
	if got := (&Profile{}).EffectiveAge(now); got != DefaultAge {
		t.Fatalf("expected default age, got %d", got)
	}
}

func TestActiveRestrictionHonoursExpiry(t *testing.T) {
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	p := &Profile{RestrictionLevel: RestrictionBlocked, RestrictionExpiresAt: &past}
	if got := p.ActiveRestriction(now); got != RestrictionNone {
		t.Fatalf("expected expired restriction to lapse, got %s", got)
	}
	p.RestrictionExpiresAt = &future
	if got := p.ActiveRestriction(now); got != RestrictionBlocked {
		t.Fatalf("expected blocked, got %s", got)
	}
}

func TestSplitInterests(t *testing.T) {
	got := SplitInterests(" hiking, Movies ,, travel ")
	want := []string{"hiking", "Movies", "travel"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
	if SplitInterests("  ") != nil {
		t.Fatal("expected nil for blank input")
	}
}

func TestConversationContinuedByBoth(t *testing.T) {
	c := &Conversation{UserA: "a", UserB: "b", ContinuedBy: []string{"a"}}
	if c.ContinuedByBoth() {
		t.Fatal("one side only must not count as both")
	}
	c.ContinuedBy = append(c.ContinuedBy, "b")
	if !c.ContinuedByBoth() {
		t.Fatal("expected both sides continued")
	}
}

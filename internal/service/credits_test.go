package service

import (
	"context"
	"strings"
	"testing"

	"github.com/iliyamo/cohort-pools/internal/apperr"
	"github.com/iliyamo/cohort-pools/internal/model"
)

func TestPurchaseBounds(t *testing.T) {
	tests := []struct {
		amount int
		ok     bool
	}{
		{0, false},
		{-3, false},
		{1, true},
		{100, true},
		{101, false},
	}
	for _, tt := range tests {
		f := newFixture(t)
		res, err := f.svc.Credits.Purchase(context.Background(), "u1", tt.amount)
		if !tt.ok {
			expectKind(t, err, apperr.KindValidation)
			continue
		}
		if err != nil {
			t.Fatalf("purchase %d: %v", tt.amount, err)
		}
		if res.NewBalance != tt.amount || res.CreditsAdded != tt.amount {
			t.Fatalf("unexpected result %+v", res)
		}
		if !strings.HasPrefix(res.ReferenceID, "mock_txn_") {
			t.Fatalf("unexpected reference %q", res.ReferenceID)
		}
	}
}

func TestBalanceIsSumOfEntries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.pool(t)
	f.profile(t, "m1", model.GenderMale)
	for _, amt := range []int{3, 7, 1} {
		if _, err := f.svc.Credits.Purchase(ctx, "m1", amt); err != nil {
			t.Fatalf("purchase: %v", err)
		}
	}
	if _, err := f.svc.Admission.Join(ctx, "m1", p.ID); err != nil {
		t.Fatalf("join: %v", err)
	}
	bal, err := f.svc.Credits.Balance(ctx, "m1")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal != 10 {
		t.Fatalf("expected balance 10, got %d", bal)
	}

	hist, err := f.svc.Credits.History(ctx, "m1", 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(hist))
	}
	sum := 0
	for _, e := range hist {
		sum += e.CreditsDelta
	}
	if sum != bal {
		t.Fatalf("expected entries to sum to %d, got %d", bal, sum)
	}
	if hist[0].Action != model.LedgerSpend || hist[0].CreditsDelta != -1 {
		t.Fatalf("expected newest entry to be the join fee, got %+v", hist[0])
	}
}

func TestPurchaseRateLimited(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var err error
	for i := 0; i < 21; i++ {
		_, err = f.svc.Credits.Purchase(ctx, "u1", 1)
	}
	expectKind(t, err, apperr.KindRateLimited)
	bal, err := f.svc.Credits.Balance(ctx, "u1")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal != 20 {
		t.Fatalf("expected rejected purchase to add nothing, got %d", bal)
	}
}

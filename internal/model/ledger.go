package model

import (
	"fmt"
	"time"
)

// LedgerAction classifies a credit ledger entry.
type LedgerAction uint8

const (
	LedgerPurchase LedgerAction = iota + 1
	LedgerSpend
	LedgerRefund
)

func (a LedgerAction) String() string {
	switch a {
	case LedgerPurchase:
		return "purchase"
	case LedgerSpend:
		return "spend"
	case LedgerRefund:
		return "refund"
	}
	return fmt.Sprintf("LedgerAction(%d)", uint8(a))
}

// ParseLedgerAction converts the persisted form.
func ParseLedgerAction(v string) (LedgerAction, error) {
	switch v {
	case "purchase":
		return LedgerPurchase, nil
	case "spend":
		return LedgerSpend, nil
	case "refund":
		return LedgerRefund, nil
	}
	return 0, fmt.Errorf("unknown ledger action %q", v)
}

// LedgerEntry is one immutable signed delta in a user's credit history.
// A user's balance is the sum of CreditsDelta over all of their entries
// and is never stored.
type LedgerEntry struct {
	ID           uint64
	UserID       string
	Action       LedgerAction
	CreditsDelta int
	ReferenceID  string
	Reason       string
	CreatedAt    time.Time
}

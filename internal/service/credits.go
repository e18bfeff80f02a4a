package service

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"strconv"

	"github.com/google/uuid"

	"github.com/iliyamo/cohort-pools/internal/apperr"
	"github.com/iliyamo/cohort-pools/internal/model"
	"github.com/iliyamo/cohort-pools/internal/ratelimit"
	"github.com/iliyamo/cohort-pools/internal/repository"
)

// Purchase bounds.
const (
	MinPurchase = 1
	MaxPurchase = 100
)

// Credits reads and appends to the credit ledger.  A balance is always
// the sum of a user's entries and is never cached.
type Credits struct {
	d      Deps
	safety *Safety
	log    *slog.Logger
}

// Balance returns the user's current balance.
func (c *Credits) Balance(ctx context.Context, userID string) (int, error) {
	bal, err := c.d.Store.Ledger.Balance(ctx, c.d.Store.DB, userID)
	if err != nil {
		return 0, storeErr("compute balance", err)
	}
	return bal, nil
}

// History returns the user's most recent ledger entries.
func (c *Credits) History(ctx context.Context, userID string, limit int) ([]model.LedgerEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	entries, err := c.d.Store.Ledger.ListByUser(ctx, c.d.Store.DB, userID, limit)
	if err != nil {
		return nil, storeErr("list ledger", err)
	}
	return entries, nil
}

// PurchaseResult is returned by Purchase.
type PurchaseResult struct {
	CreditsAdded int    `json:"credits_added"`
	NewBalance   int    `json:"new_balance"`
	ReferenceID  string `json:"reference_id"`
}

// Purchase appends a purchase entry.  Payment is not integrated; the
// reference ID is a generated mock transaction ID.
func (c *Credits) Purchase(ctx context.Context, userID string, amount int) (PurchaseResult, error) {
	if amount < MinPurchase || amount > MaxPurchase {
		return PurchaseResult{}, apperr.Validation("amount must be between 1 and 100")
	}
	if err := c.safety.Enforce(ctx, ratelimit.PurchaseCredits, userID, ""); err != nil {
		return PurchaseResult{}, err
	}
	e := &model.LedgerEntry{
		UserID:       userID,
		Action:       model.LedgerPurchase,
		CreditsDelta: amount,
		ReferenceID:  "mock_txn_" + uuid.NewString(),
		Reason:       "Credit purchase",
		CreatedAt:    c.d.now(),
	}
	if err := c.d.Store.Ledger.Append(ctx, c.d.Store.DB, e); err != nil {
		return PurchaseResult{}, storeErr("record purchase", err)
	}
	bal, err := c.Balance(ctx, userID)
	if err != nil {
		return PurchaseResult{}, err
	}
	c.log.Info("credits purchased", "user_id", userID, "amount", amount, "reference_id", e.ReferenceID)
	return PurchaseResult{CreditsAdded: amount, NewBalance: bal, ReferenceID: e.ReferenceID}, nil
}

// RefundReference is the ledger reference used for refunds of a
// cancelled pool.
func RefundReference(poolID uint64) string {
	return "refund_" + strconv.FormatUint(poolID, 10)
}

// RefundResult is returned by RefundCancelledPool.
type RefundResult struct {
	Refunded int `json:"refunded"`
	Skipped  int `json:"skipped"`
}

// RefundCancelledPool credits back the join fee to every paying member
// of a cancelled pool.  A member already refunded for this pool is
// skipped, so the call can be repeated safely.
func (c *Credits) RefundCancelledPool(ctx context.Context, poolID uint64) (RefundResult, error) {
	var res RefundResult
	pool, err := c.d.Store.Pools.Get(ctx, c.d.Store.DB, poolID)
	if err != nil {
		return res, storeErr("load pool", err)
	}
	if pool.Status != model.PoolCancelled {
		return res, apperr.PreconditionFailed("pool is not cancelled")
	}
	members, err := c.d.Store.Memberships.ListByPool(ctx, c.d.Store.DB, poolID)
	if err != nil {
		return res, storeErr("list memberships", err)
	}
	ref := RefundReference(poolID)
	for _, m := range members {
		if m.Gender != model.GenderMale || m.IsDummy {
			continue
		}
		err := c.d.Store.InTx(ctx, func(tx *sql.Tx) error {
			done, err := c.d.Store.Ledger.Exists(ctx, tx, m.UserID, model.LedgerRefund, ref)
			if err != nil {
				return err
			}
			if done {
				return repository.ErrDuplicate
			}
			return c.d.Store.Ledger.Append(ctx, tx, &model.LedgerEntry{
				UserID:       m.UserID,
				Action:       model.LedgerRefund,
				CreditsDelta: c.d.Policy.MaleJoinCost,
				ReferenceID:  ref,
				Reason:       "Pool cancelled refund",
				CreatedAt:    c.d.now(),
			})
		})
		switch {
		case errors.Is(err, repository.ErrDuplicate):
			res.Skipped++
		case err != nil:
			c.log.Error("refund failed", "error", err, "pool_id", poolID, "user_id", m.UserID)
			return res, storeErr("refund", err)
		default:
			res.Refunded++
		}
	}
	c.log.Info("pool refunds issued", "pool_id", poolID, "refunded", res.Refunded, "skipped", res.Skipped)
	return res, nil
}

package repository

import (
	"context"
	"time"

	"github.com/iliyamo/cohort-pools/internal/database"
	"github.com/iliyamo/cohort-pools/internal/model"
)

// LedgerRepo provides append-only access to ledger_entries.  There is
// no update or delete: a correction is a new entry.
type LedgerRepo struct{}

// Append writes one entry and populates its ID.  The (user, action,
// reference) triple is unique, so re-issuing the same refund or purchase
// reference returns ErrDuplicate.
func (LedgerRepo) Append(ctx context.Context, q DBTX, e *model.LedgerEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	res, err := q.ExecContext(ctx,
		`INSERT INTO ledger_entries (user_id, action, credits_delta, reference_id, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.UserID, e.Action.String(), e.CreditsDelta, e.ReferenceID, e.Reason, database.ToMillis(e.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	e.ID = uint64(id)
	return nil
}

// Balance sums every delta recorded for userID.  A user with no entries
// has a balance of zero.
func (LedgerRepo) Balance(ctx context.Context, q DBTX, userID string) (int, error) {
	var total int64
	err := q.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(credits_delta), 0) FROM ledger_entries WHERE user_id = ?`, userID).Scan(&total)
	return int(total), err
}

// Exists reports whether an entry with the given action and reference
// was already written for userID.
func (LedgerRepo) Exists(ctx context.Context, q DBTX, userID string, action model.LedgerAction, referenceID string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ledger_entries WHERE user_id = ? AND action = ? AND reference_id = ?`,
		userID, action.String(), referenceID).Scan(&n)
	return n > 0, err
}

// ListByUser returns the user's most recent entries, newest first.
func (LedgerRepo) ListByUser(ctx context.Context, q DBTX, userID string, limit int) ([]model.LedgerEntry, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, user_id, action, credits_delta, reference_id, reason, created_at
		 FROM ledger_entries WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.LedgerEntry
	for rows.Next() {
		var (
			e       model.LedgerEntry
			action  string
			created int64
		)
		if err := rows.Scan(&e.ID, &e.UserID, &action, &e.CreditsDelta, &e.ReferenceID, &e.Reason, &created); err != nil {
			return nil, err
		}
		if e.Action, err = model.ParseLedgerAction(action); err != nil {
			return nil, err
		}
		e.CreatedAt = database.FromMillis(created)
		out = append(out, e)
	}
	return out, rows.Err()
}

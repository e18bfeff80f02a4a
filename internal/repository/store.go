package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.  Every repository
// method takes one so the same query can run inside or outside a
// transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// MaxTxAttempts bounds how often InTx re-runs a transaction that failed
// on an optimistic conflict.
const MaxTxAttempts = 3

// Store groups the repositories around one database handle.
type Store struct {
	DB          *sql.DB
	Pools       PoolRepo
	Memberships MembershipRepo
	Ledger      LedgerRepo
	Profiles    ProfileRepo
	Matches     MatchRepo
	Safety      SafetyRepo
}

// NewStore returns a Store bound to db.
func NewStore(db *sql.DB) *Store {
	return &Store{DB: db}
}

// InTx runs fn inside a transaction and commits it when fn returns nil.
// A retryable failure (stale compare-and-swap, deadlock, busy database)
// rolls back and re-runs fn from the start, up to MaxTxAttempts times;
// exhausting the attempts returns an error wrapping ErrConflict.  fn must
// therefore be free of side effects outside tx.
func (s *Store) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	var lastErr error
	for attempt := 0; attempt < MaxTxAttempts; attempt++ {
		err := s.runTx(ctx, fn)
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return err
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return fmt.Errorf("%w: %v", ErrConflict, lastErr)
}

func (s *Store) runTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) && err == nil {
				err = rbErr
			}
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// expectOne converts a zero-row conditional update into ErrStaleWrite.
func expectOne(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrStaleWrite
	}
	return nil
}

// affected returns whether a conditional update matched a row.
func affected(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	b := make([]byte, 0, n*3)
	for i := 0; i < n; i++ {
		if i > 0 {
			b = append(b, ", "...)
		}
		b = append(b, '?')
	}
	return string(b)
}

// boolInt stores booleans portably.
func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

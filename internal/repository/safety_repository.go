package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/iliyamo/cohort-pools/internal/database"
	"github.com/iliyamo/cohort-pools/internal/model"
)

// SafetyRepo provides access to the append-only safety_events table and
// the user_blocks table.
type SafetyRepo struct{}

// LogEvent appends a safety event.  Context is stored as JSON.
func (SafetyRepo) LogEvent(ctx context.Context, q DBTX, e *model.SafetyEvent) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	var payload sql.NullString
	if len(e.Context) > 0 {
		b, err := json.Marshal(e.Context)
		if err != nil {
			return err
		}
		payload = sql.NullString{String: string(b), Valid: true}
	}
	res, err := q.ExecContext(ctx,
		`INSERT INTO safety_events (user_id, event_type, severity, context, created_at) VALUES (?, ?, ?, ?, ?)`,
		e.UserID, e.EventType, e.Severity, payload, database.ToMillis(e.CreatedAt))
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	e.ID = uint64(id)
	return nil
}

// ListEvents returns the user's events, newest first.
func (SafetyRepo) ListEvents(ctx context.Context, q DBTX, userID string, limit int) ([]model.SafetyEvent, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, user_id, event_type, severity, context, created_at FROM safety_events
		 WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.SafetyEvent
	for rows.Next() {
		var (
			e       model.SafetyEvent
			payload sql.NullString
			created int64
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.EventType, &e.Severity, &payload, &created); err != nil {
			return nil, err
		}
		if payload.Valid && payload.String != "" {
			if err := json.Unmarshal([]byte(payload.String), &e.Context); err != nil {
				return nil, err
			}
		}
		e.CreatedAt = database.FromMillis(created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// CreateBlock records that blocker blocked blocked.  Blocking the same
// user twice returns ErrDuplicate.
func (SafetyRepo) CreateBlock(ctx context.Context, q DBTX, b *model.Block) error {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	res, err := q.ExecContext(ctx,
		`INSERT INTO user_blocks (blocker_id, blocked_id, reason, created_at) VALUES (?, ?, ?, ?)`,
		b.BlockerID, b.BlockedID, b.Reason, database.ToMillis(b.CreatedAt))
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
	b.ID = uint64(id)
	return nil
}

// DeleteBlock removes blocker's block on blocked.  It returns
// ErrNotFound when there was none.
func (SafetyRepo) DeleteBlock(ctx context.Context, q DBTX, blocker, blocked string) error {
	ok, err := affected(q.ExecContext(ctx,
		`DELETE FROM user_blocks WHERE blocker_id = ? AND blocked_id = ?`, blocker, blocked))
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// IsBlocked reports whether either user has blocked the other.
func (SafetyRepo) IsBlocked(ctx context.Context, q DBTX, a, b string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM user_blocks
		 WHERE (blocker_id = ? AND blocked_id = ?) OR (blocker_id = ? AND blocked_id = ?)`,
		a, b, b, a).Scan(&n)
	return n > 0, err
}

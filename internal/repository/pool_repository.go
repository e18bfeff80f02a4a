package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/cohort-pools/internal/database"
	"github.com/iliyamo/cohort-pools/internal/model"
)

// PoolRepo provides data access to the pools table.  Counter changes are
// expressed as conditional updates whose WHERE clause restates the
// invariant they must preserve, so a concurrent writer can never push a
// pool past its capacity; a zero-row update is reported to the caller
// rather than silently ignored.
type PoolRepo struct{}

const poolColumns = `id, city, status, active_male, active_female, buffer_male, buffer_female,
	created_at, join_deadline, match_deadline, matching_executed_at, closed_at,
	admin_override_by, admin_override_reason, admin_override_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPool(row rowScanner) (*model.Pool, error) {
	var (
		p                                  model.Pool
		status                             string
		createdAt, joinDL, matchDL, update int64
		executed, closed, overrideAt       sql.NullInt64
		overrideBy, overrideReason         sql.NullString
	)
	err := row.Scan(&p.ID, &p.City, &status, &p.ActiveMale, &p.ActiveFemale, &p.BufferMale, &p.BufferFemale,
		&createdAt, &joinDL, &matchDL, &executed, &closed,
		&overrideBy, &overrideReason, &overrideAt, &update)
	if err != nil {
		return nil, err
	}
	if p.Status, err = model.ParsePoolStatus(status); err != nil {
		return nil, err
	}
	p.CreatedAt = database.FromMillis(createdAt)
	p.JoinDeadline = database.FromMillis(joinDL)
	p.MatchDeadline = database.FromMillis(matchDL)
	p.UpdatedAt = database.FromMillis(update)
	p.MatchingExecutedAt = database.TimePtr(executed)
	p.ClosedAt = database.TimePtr(closed)
	p.AdminOverrideAt = database.TimePtr(overrideAt)
	if overrideBy.Valid {
		v := overrideBy.String
		p.AdminOverrideBy = &v
	}
	if overrideReason.Valid {
		v := overrideReason.String
		p.AdminOverrideReason = &v
	}
	return &p, nil
}

func queryPools(ctx context.Context, q DBTX, query string, args ...any) ([]*model.Pool, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Pool
	for rows.Next() {
		p, err := scanPool(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Create inserts a new pool with zeroed counters and populates its ID.
func (PoolRepo) Create(ctx context.Context, q DBTX, p *model.Pool) error {
	res, err := q.ExecContext(ctx,
		`INSERT INTO pools (city, status, active_male, active_female, buffer_male, buffer_female,
			created_at, join_deadline, match_deadline, updated_at)
		 VALUES (?, ?, 0, 0, 0, 0, ?, ?, ?, ?)`,
		p.City, p.Status.String(),
		database.ToMillis(p.CreatedAt), database.ToMillis(p.JoinDeadline),
		database.ToMillis(p.MatchDeadline), database.ToMillis(p.CreatedAt))
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	p.ID = uint64(id)
	p.UpdatedAt = p.CreatedAt
	return nil
}

// Get returns a pool by ID or ErrNotFound.
func (PoolRepo) Get(ctx context.Context, q DBTX, id uint64) (*model.Pool, error) {
	p, err := scanPool(q.QueryRowContext(ctx, `SELECT `+poolColumns+` FROM pools WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

// ListJoining returns every joining pool for a city, oldest first.
func (PoolRepo) ListJoining(ctx context.Context, q DBTX, city string) ([]*model.Pool, error) {
	return queryPools(ctx, q,
		`SELECT `+poolColumns+` FROM pools WHERE city = ? AND status = ? ORDER BY created_at, id`,
		city, model.PoolJoining.String())
}

// FindOpen returns the newest pool for a city that is still joining or
// validating, or ErrNotFound.
func (PoolRepo) FindOpen(ctx context.Context, q DBTX, city string) (*model.Pool, error) {
	p, err := scanPool(q.QueryRowContext(ctx,
		`SELECT `+poolColumns+` FROM pools WHERE city = ? AND status IN (?, ?)
		 ORDER BY created_at DESC, id DESC LIMIT 1`,
		city, model.PoolJoining.String(), model.PoolValidating.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

// ListExpiredJoining returns up to limit joining pools whose join
// deadline is at or before now.
func (PoolRepo) ListExpiredJoining(ctx context.Context, q DBTX, now time.Time, limit int) ([]*model.Pool, error) {
	return queryPools(ctx, q,
		`SELECT `+poolColumns+` FROM pools WHERE status = ? AND join_deadline <= ?
		 ORDER BY join_deadline, id LIMIT ?`,
		model.PoolJoining.String(), database.ToMillis(now), limit)
}

// ListByStatus returns up to limit pools in status, oldest first.
func (PoolRepo) ListByStatus(ctx context.Context, q DBTX, status model.PoolStatus, limit int) ([]*model.Pool, error) {
	return queryPools(ctx, q,
		`SELECT `+poolColumns+` FROM pools WHERE status = ? ORDER BY created_at, id LIMIT ?`,
		status.String(), limit)
}

// ListRecent returns up to limit pools, newest first.
func (PoolRepo) ListRecent(ctx context.Context, q DBTX, limit int) ([]*model.Pool, error) {
	return queryPools(ctx, q,
		`SELECT `+poolColumns+` FROM pools ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
}

// SetStatus moves a pool from one status to another.  It reports false
// when the pool is no longer in from.  Moving to completed or cancelled
// also stamps closed_at.
func (PoolRepo) SetStatus(ctx context.Context, q DBTX, id uint64, from, to model.PoolStatus, now time.Time) (bool, error) {
	ms := database.ToMillis(now)
	var closed sql.NullInt64
	if to.Terminal() {
		closed = sql.NullInt64{Int64: ms, Valid: true}
	}
	return affected(q.ExecContext(ctx,
		`UPDATE pools SET status = ?, closed_at = COALESCE(?, closed_at), updated_at = ?
		 WHERE id = ? AND status = ?`,
		to.String(), closed, ms, id, from.String()))
}

func genderColumns(g model.Gender) (active, buffer string, err error) {
	switch g {
	case model.GenderMale:
		return "active_male", "buffer_male", nil
	case model.GenderFemale:
		return "active_female", "buffer_female", nil
	}
	return "", "", fmt.Errorf("invalid gender %v", g)
}

// IncrementBuffer adds one buffered member of gender g to a pool.  The
// update only applies while the pool is in one of the allowed statuses
// and the gender's combined count is below model.MaxPerGender; it
// reports false otherwise.
func (PoolRepo) IncrementBuffer(ctx context.Context, q DBTX, id uint64, g model.Gender, now time.Time, allowed ...model.PoolStatus) (bool, error) {
	active, buffer, err := genderColumns(g)
	if err != nil {
		return false, err
	}
	if len(allowed) == 0 {
		allowed = []model.PoolStatus{model.PoolJoining}
	}
	args := []any{database.ToMillis(now), id}
	for _, s := range allowed {
		args = append(args, s.String())
	}
	args = append(args, model.MaxPerGender)
	query := fmt.Sprintf(`UPDATE pools SET %[2]s = %[2]s + 1, updated_at = ?
		WHERE id = ? AND status IN (%[3]s) AND %[1]s + %[2]s < ?`,
		active, buffer, placeholders(len(allowed)))
	return affected(q.ExecContext(ctx, query, args...))
}

// ApplyPromotion moves dm males and df females from buffer to active.
// It is a compare-and-swap on all four counters as read in seen, and
// returns ErrStaleWrite when any of them changed in the meantime.
func (PoolRepo) ApplyPromotion(ctx context.Context, q DBTX, seen *model.Pool, dm, df int, now time.Time) error {
	return expectOne(q.ExecContext(ctx,
		`UPDATE pools SET
			active_male = active_male + ?, buffer_male = buffer_male - ?,
			active_female = active_female + ?, buffer_female = buffer_female - ?,
			updated_at = ?
		 WHERE id = ? AND active_male = ? AND active_female = ? AND buffer_male = ? AND buffer_female = ?`,
		dm, dm, df, df, database.ToMillis(now),
		seen.ID, seen.ActiveMale, seen.ActiveFemale, seen.BufferMale, seen.BufferFemale))
}

// ClaimMatching sets the matching marker and completes a validating pool
// in one conditional update.  Exactly one caller can win the claim; the
// others get false.
func (PoolRepo) ClaimMatching(ctx context.Context, q DBTX, id uint64, now time.Time) (bool, error) {
	ms := database.ToMillis(now)
	return affected(q.ExecContext(ctx,
		`UPDATE pools SET matching_executed_at = ?, status = ?, closed_at = ?, updated_at = ?
		 WHERE id = ? AND status = ? AND matching_executed_at IS NULL`,
		ms, model.PoolCompleted.String(), ms, ms, id, model.PoolValidating.String()))
}

// ForceComplete completes a non-terminal pool and records who did it
// and why.
func (PoolRepo) ForceComplete(ctx context.Context, q DBTX, id uint64, by, reason string, now time.Time) (bool, error) {
	ms := database.ToMillis(now)
	return affected(q.ExecContext(ctx,
		`UPDATE pools SET status = ?, closed_at = ?, admin_override_by = ?, admin_override_reason = ?,
			admin_override_at = ?, updated_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		model.PoolCompleted.String(), ms, by, reason, ms, ms,
		id, model.PoolJoining.String(), model.PoolValidating.String()))
}

// RewriteDeadlines sets both deadlines of a non-terminal pool.
func (PoolRepo) RewriteDeadlines(ctx context.Context, q DBTX, id uint64, join, match, now time.Time) (bool, error) {
	return affected(q.ExecContext(ctx,
		`UPDATE pools SET join_deadline = ?, match_deadline = ?, updated_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		database.ToMillis(join), database.ToMillis(match), database.ToMillis(now),
		id, model.PoolJoining.String(), model.PoolValidating.String()))
}

// CityCount is the number of joining pools in one city.
type CityCount struct {
	City  string
	Count int
}

// DuplicateJoiningCities lists cities that currently have more than one
// joining pool.
func (PoolRepo) DuplicateJoiningCities(ctx context.Context, q DBTX) ([]CityCount, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT city, COUNT(*) FROM pools WHERE status = ? GROUP BY city HAVING COUNT(*) > 1`,
		model.PoolJoining.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CityCount
	for rows.Next() {
		var c CityCount
		if err := rows.Scan(&c.City, &c.Count); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

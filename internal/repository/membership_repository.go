package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/cohort-pools/internal/database"
	"github.com/iliyamo/cohort-pools/internal/model"
)

// MembershipRepo provides data access to the memberships table.  FIFO
// order within a gender is (joined_at, id); the id breaks ties between
// members admitted in the same millisecond.
type MembershipRepo struct{}

const membershipColumns = `id, pool_id, user_id, gender, status, is_dummy, joined_at, entered_pool_at`

func scanMembership(row rowScanner) (*model.Membership, error) {
	var (
		m              model.Membership
		gender, status string
		dummy          int
		joined         int64
		entered        sql.NullInt64
	)
	if err := row.Scan(&m.ID, &m.PoolID, &m.UserID, &gender, &status, &dummy, &joined, &entered); err != nil {
		return nil, err
	}
	var err error
	if m.Gender, err = model.ParseGender(gender); err != nil {
		return nil, err
	}
	if m.Status, err = model.ParseMembershipStatus(status); err != nil {
		return nil, err
	}
	m.IsDummy = dummy != 0
	m.JoinedAt = database.FromMillis(joined)
	m.EnteredPoolAt = database.TimePtr(entered)
	return &m, nil
}

func queryMemberships(ctx context.Context, q DBTX, query string, args ...any) ([]*model.Membership, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Create inserts a membership and populates its ID.  A second membership
// for the same (pool, user) returns ErrDuplicate.
func (MembershipRepo) Create(ctx context.Context, q DBTX, m *model.Membership) error {
	res, err := q.ExecContext(ctx,
		`INSERT INTO memberships (pool_id, user_id, gender, status, is_dummy, joined_at, entered_pool_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.PoolID, m.UserID, m.Gender.String(), m.Status.String(), boolInt(m.IsDummy),
		database.ToMillis(m.JoinedAt), database.NullMillis(m.EnteredPoolAt))
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
	m.ID = uint64(id)
	return nil
}

// Get returns the membership of userID in poolID or ErrNotFound.
func (MembershipRepo) Get(ctx context.Context, q DBTX, poolID uint64, userID string) (*model.Membership, error) {
	m, err := scanMembership(q.QueryRowContext(ctx,
		`SELECT `+membershipColumns+` FROM memberships WHERE pool_id = ? AND user_id = ?`, poolID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return m, err
}

// OldestBuffered returns up to limit buffered memberships of gender g in
// FIFO order.
func (MembershipRepo) OldestBuffered(ctx context.Context, q DBTX, poolID uint64, g model.Gender, limit int) ([]*model.Membership, error) {
	return queryMemberships(ctx, q,
		`SELECT `+membershipColumns+` FROM memberships
		 WHERE pool_id = ? AND status = ? AND gender = ?
		 ORDER BY joined_at, id LIMIT ?`,
		poolID, model.MembershipBuffer.String(), g.String(), limit)
}

// Activate flips the given buffered memberships to active and stamps
// entered_pool_at.  It returns ErrStaleWrite unless every one of them
// was still buffered.
func (MembershipRepo) Activate(ctx context.Context, q DBTX, ids []uint64, now time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	args := []any{model.MembershipActive.String(), database.ToMillis(now)}
	for _, id := range ids {
		args = append(args, id)
	}
	args = append(args, model.MembershipBuffer.String())
	res, err := q.ExecContext(ctx,
		`UPDATE memberships SET status = ?, entered_pool_at = ?
		 WHERE id IN (`+placeholders(len(ids))+`) AND status = ?`, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != int64(len(ids)) {
		return ErrStaleWrite
	}
	return nil
}

// ListByPool returns a pool's memberships in the given statuses, FIFO.
func (MembershipRepo) ListByPool(ctx context.Context, q DBTX, poolID uint64, statuses ...model.MembershipStatus) ([]*model.Membership, error) {
	if len(statuses) == 0 {
		return queryMemberships(ctx, q,
			`SELECT `+membershipColumns+` FROM memberships WHERE pool_id = ? ORDER BY joined_at, id`, poolID)
	}
	args := []any{poolID}
	for _, s := range statuses {
		args = append(args, s.String())
	}
	return queryMemberships(ctx, q,
		`SELECT `+membershipColumns+` FROM memberships
		 WHERE pool_id = ? AND status IN (`+placeholders(len(statuses))+`)
		 ORDER BY joined_at, id`, args...)
}

// ListOpenForUser returns the user's buffered or active memberships.
func (MembershipRepo) ListOpenForUser(ctx context.Context, q DBTX, userID string) ([]*model.Membership, error) {
	return queryMemberships(ctx, q,
		`SELECT `+membershipColumns+` FROM memberships
		 WHERE user_id = ? AND status IN (?, ?) ORDER BY joined_at, id`,
		userID, model.MembershipBuffer.String(), model.MembershipActive.String())
}

// CompletePool flips every buffered or active membership of a pool to
// completed and returns the number of rows changed.
func (MembershipRepo) CompletePool(ctx context.Context, q DBTX, poolID uint64) (int64, error) {
	res, err := q.ExecContext(ctx,
		`UPDATE memberships SET status = ? WHERE pool_id = ? AND status IN (?, ?)`,
		model.MembershipCompleted.String(), poolID,
		model.MembershipBuffer.String(), model.MembershipActive.String())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// StatusCounts holds membership counts per (status, gender) for a pool.
type StatusCounts struct {
	ActiveMale, ActiveFemale, BufferMale, BufferFemale int
}

// CountByPool tallies a pool's buffered and active memberships.
func (MembershipRepo) CountByPool(ctx context.Context, q DBTX, poolID uint64) (StatusCounts, error) {
	var c StatusCounts
	rows, err := q.QueryContext(ctx,
		`SELECT status, gender, COUNT(*) FROM memberships
		 WHERE pool_id = ? AND status IN (?, ?) GROUP BY status, gender`,
		poolID, model.MembershipBuffer.String(), model.MembershipActive.String())
	if err != nil {
		return c, err
	}
	defer rows.Close()
	for rows.Next() {
		var status, gender string
		var n int
		if err := rows.Scan(&status, &gender, &n); err != nil {
			return c, err
		}
		switch status + "/" + gender {
		case "active/male":
			c.ActiveMale = n
		case "active/female":
			c.ActiveFemale = n
		case "buffer/male":
			c.BufferMale = n
		case "buffer/female":
			c.BufferFemale = n
		}
	}
	return c, rows.Err()
}

// UsersInMultiplePools returns users holding open memberships in more
// than one pool.
func (MembershipRepo) UsersInMultiplePools(ctx context.Context, q DBTX) ([]string, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT user_id FROM memberships WHERE status IN (?, ?)
		 GROUP BY user_id HAVING COUNT(DISTINCT pool_id) > 1`,
		model.MembershipBuffer.String(), model.MembershipActive.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/iliyamo/cohort-pools/internal/database"
	"github.com/iliyamo/cohort-pools/internal/model"
)

// MatchRepo provides data access to matches and their conversations.
// A conversation row shares the ID of its match.
type MatchRepo struct{}

const matchColumns = `id, pool_id, user_a, user_b, user_a_name, user_b_name, compatibility_score, created_at`

func scanMatch(row rowScanner) (*model.Match, error) {
	var (
		m       model.Match
		created int64
	)
	if err := row.Scan(&m.ID, &m.PoolID, &m.UserA, &m.UserB, &m.UserAName, &m.UserBName,
		&m.CompatibilityScore, &created); err != nil {
		return nil, err
	}
	m.CreatedAt = database.FromMillis(created)
	return &m, nil
}

func queryMatches(ctx context.Context, q DBTX, query string, args ...any) ([]*model.Match, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Create inserts a match and populates its ID.
func (MatchRepo) Create(ctx context.Context, q DBTX, m *model.Match) error {
	res, err := q.ExecContext(ctx,
		`INSERT INTO matches (pool_id, user_a, user_b, user_a_name, user_b_name, compatibility_score, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.PoolID, m.UserA, m.UserB, m.UserAName, m.UserBName, m.CompatibilityScore, database.ToMillis(m.CreatedAt))
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

// ListByPool returns every match written for a pool.
func (MatchRepo) ListByPool(ctx context.Context, q DBTX, poolID uint64) ([]*model.Match, error) {
	return queryMatches(ctx, q, `SELECT `+matchColumns+` FROM matches WHERE pool_id = ? ORDER BY id`, poolID)
}

// ListByUser returns the user's matches, newest first.
func (MatchRepo) ListByUser(ctx context.Context, q DBTX, userID string) ([]*model.Match, error) {
	return queryMatches(ctx, q,
		`SELECT `+matchColumns+` FROM matches WHERE user_a = ? OR user_b = ? ORDER BY created_at DESC, id DESC`,
		userID, userID)
}

// HaveMatched reports whether a and b were ever matched, in either order.
func (MatchRepo) HaveMatched(ctx context.Context, q DBTX, a, b string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM matches WHERE (user_a = ? AND user_b = ?) OR (user_a = ? AND user_b = ?)`,
		a, b, b, a).Scan(&n)
	return n > 0, err
}

const conversationColumns = `id, pool_id, user_a, user_b, status, expires_at, continued_by, created_at`

func scanConversation(row rowScanner) (*model.Conversation, error) {
	var (
		c         model.Conversation
		status    string
		expires   sql.NullInt64
		continued string
		created   int64
	)
	if err := row.Scan(&c.ID, &c.PoolID, &c.UserA, &c.UserB, &status, &expires, &continued, &created); err != nil {
		return nil, err
	}
	var err error
	if c.Status, err = model.ParseConversationStatus(status); err != nil {
		return nil, err
	}
	c.ExpiresAt = database.TimePtr(expires)
	c.ContinuedBy = splitList(continued)
	c.CreatedAt = database.FromMillis(created)
	return &c, nil
}

func queryConversations(ctx context.Context, q DBTX, query string, args ...any) ([]*model.Conversation, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	return strings.Split(v, ",")
}

// CreateConversation inserts the conversation for a match; c.ID must
// already hold the match ID.
func (MatchRepo) CreateConversation(ctx context.Context, q DBTX, c *model.Conversation) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO conversations (id, pool_id, user_a, user_b, status, expires_at, continued_by, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.PoolID, c.UserA, c.UserB, c.Status.String(), database.NullMillis(c.ExpiresAt),
		strings.Join(c.ContinuedBy, ","), database.ToMillis(c.CreatedAt), database.ToMillis(c.CreatedAt))
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

// GetConversation returns a conversation by ID or ErrNotFound.
func (MatchRepo) GetConversation(ctx context.Context, q DBTX, id uint64) (*model.Conversation, error) {
	c, err := scanConversation(q.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

// SaveContinuation writes the new continuation state of c.  It is a
// compare-and-swap on the previously read status and continued_by list
// and returns ErrStaleWrite if either changed.
func (MatchRepo) SaveContinuation(ctx context.Context, q DBTX, c *model.Conversation, prevStatus model.ConversationStatus, prevContinued []string, now time.Time) error {
	return expectOne(q.ExecContext(ctx,
		`UPDATE conversations SET status = ?, expires_at = ?, continued_by = ?, updated_at = ?
		 WHERE id = ? AND status = ? AND continued_by = ?`,
		c.Status.String(), database.NullMillis(c.ExpiresAt), strings.Join(c.ContinuedBy, ","), database.ToMillis(now),
		c.ID, prevStatus.String(), strings.Join(prevContinued, ",")))
}

// ListExpiredActive returns up to limit active conversations whose
// expiry is before now.
func (MatchRepo) ListExpiredActive(ctx context.Context, q DBTX, now time.Time, limit int) ([]*model.Conversation, error) {
	return queryConversations(ctx, q,
		`SELECT `+conversationColumns+` FROM conversations
		 WHERE status = ? AND expires_at IS NOT NULL AND expires_at < ?
		 ORDER BY expires_at, id LIMIT ?`,
		model.ConversationActive.String(), database.ToMillis(now), limit)
}

// ListExpiringBetween returns up to limit active conversations whose
// expiry falls in [from, to].
func (MatchRepo) ListExpiringBetween(ctx context.Context, q DBTX, from, to time.Time, limit int) ([]*model.Conversation, error) {
	return queryConversations(ctx, q,
		`SELECT `+conversationColumns+` FROM conversations
		 WHERE status = ? AND expires_at >= ? AND expires_at <= ?
		 ORDER BY expires_at, id LIMIT ?`,
		model.ConversationActive.String(), database.ToMillis(from), database.ToMillis(to), limit)
}

// Expire marks an active conversation expired.  It reports false when
// the conversation was no longer active.
func (MatchRepo) Expire(ctx context.Context, q DBTX, id uint64, now time.Time) (bool, error) {
	return affected(q.ExecContext(ctx,
		`UPDATE conversations SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		model.ConversationExpired.String(), database.ToMillis(now), id, model.ConversationActive.String()))
}

// MarkWarned records that the expiry warning for a conversation went
// out.  It reports false when one was already recorded.
func (MatchRepo) MarkWarned(ctx context.Context, q DBTX, id uint64, now time.Time) (bool, error) {
	return affected(q.ExecContext(ctx,
		`UPDATE conversations SET warned_at = ?, updated_at = ? WHERE id = ? AND warned_at IS NULL`,
		database.ToMillis(now), database.ToMillis(now), id))
}

// ForceExpire marks a conversation expired whatever its current status.
// It reports false when it was already expired.
func (MatchRepo) ForceExpire(ctx context.Context, q DBTX, id uint64, now time.Time) (bool, error) {
	return affected(q.ExecContext(ctx,
		`UPDATE conversations SET status = ?, expires_at = ?, updated_at = ? WHERE id = ? AND status <> ?`,
		model.ConversationExpired.String(), database.ToMillis(now), database.ToMillis(now), id, model.ConversationExpired.String()))
}

// CountExpiredButActive counts active conversations past their expiry.
func (MatchRepo) CountExpiredButActive(ctx context.Context, q DBTX, now time.Time) (int, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM conversations WHERE status = ? AND expires_at IS NOT NULL AND expires_at < ?`,
		model.ConversationActive.String(), database.ToMillis(now)).Scan(&n)
	return n, err
}

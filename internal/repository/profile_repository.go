package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/cohort-pools/internal/database"
	"github.com/iliyamo/cohort-pools/internal/model"
)

// ProfileRepo provides data access to the profiles table.  Profiles are
// owned by the identity side of the product; this service reads them
// for admission and matching and only writes the restriction columns
// and dummy users.
type ProfileRepo struct{}

const profileColumns = `user_id, name, gender, age, birth_date, interests, city,
	restriction_level, restriction_reason, restriction_expires_at, is_dummy, created_at`

func scanProfile(row rowScanner) (*model.Profile, error) {
	var (
		p                        model.Profile
		gender, level, interests sql.NullString
		age                      sql.NullInt64
		birth, restrictionExp    sql.NullInt64
		dummy                    int
		created                  int64
	)
	if err := row.Scan(&p.UserID, &p.Name, &gender, &age, &birth, &interests, &p.City,
		&level, &p.RestrictionReason, &restrictionExp, &dummy, &created); err != nil {
		return nil, err
	}
	if gender.Valid && gender.String != "" {
		g, err := model.ParseGender(gender.String)
		if err != nil {
			return nil, err
		}
		p.Gender = g
	}
	lvl, err := model.ParseRestrictionLevel(level.String)
	if err != nil {
		return nil, err
	}
	p.RestrictionLevel = lvl
	if age.Valid {
		p.Age = int(age.Int64)
	}
	p.BirthDate = database.TimePtr(birth)
	p.Interests = model.SplitInterests(interests.String)
	p.RestrictionExpiresAt = database.TimePtr(restrictionExp)
	p.IsDummy = dummy != 0
	p.CreatedAt = database.FromMillis(created)
	return &p, nil
}

// Get returns a profile by user ID or ErrNotFound.
func (ProfileRepo) Get(ctx context.Context, q DBTX, userID string) (*model.Profile, error) {
	p, err := scanProfile(q.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE user_id = ?`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

// GetMany returns the profiles of the given users keyed by user ID.
// Unknown users are absent from the map.
func (ProfileRepo) GetMany(ctx context.Context, q DBTX, userIDs []string) (map[string]*model.Profile, error) {
	out := make(map[string]*model.Profile, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	args := make([]any, len(userIDs))
	for i, u := range userIDs {
		args[i] = u
	}
	rows, err := q.QueryContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE user_id IN (`+placeholders(len(userIDs))+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out[p.UserID] = p
	}
	return out, rows.Err()
}

func nullAge(age int) sql.NullInt64 {
	if age <= 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(age), Valid: true}
}

func genderText(g model.Gender) string {
	if !g.Valid() {
		return ""
	}
	return g.String()
}

// Upsert writes the descriptive columns of a profile, creating the row
// when it does not exist.  Restriction columns are left untouched on
// update.
func (ProfileRepo) Upsert(ctx context.Context, q DBTX, p *model.Profile, now time.Time) error {
	ms := database.ToMillis(now)
	ok, err := affected(q.ExecContext(ctx,
		`UPDATE profiles SET name = ?, gender = ?, age = ?, birth_date = ?, interests = ?, city = ?, updated_at = ?
		 WHERE user_id = ?`,
		p.Name, genderText(p.Gender), nullAge(p.Age), database.NullMillis(p.BirthDate),
		model.JoinInterests(p.Interests), p.City, ms, p.UserID))
	if err != nil || ok {
		return err
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	_, err = q.ExecContext(ctx,
		`INSERT INTO profiles (user_id, name, gender, age, birth_date, interests, city,
			restriction_level, restriction_reason, restriction_expires_at, is_dummy, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.UserID, p.Name, genderText(p.Gender), nullAge(p.Age), database.NullMillis(p.BirthDate),
		model.JoinInterests(p.Interests), p.City, p.RestrictionLevel.String(), p.RestrictionReason,
		database.NullMillis(p.RestrictionExpiresAt), boolInt(p.IsDummy), database.ToMillis(p.CreatedAt), ms)
	if isUniqueViolation(err) {
		// Lost an insert race; the other writer's row wins.
		return ErrStaleWrite
	}
	return err
}

// SetRestriction records a restriction level for a user.  A nil expiry
// means the restriction stays until lifted.
func (ProfileRepo) SetRestriction(ctx context.Context, q DBTX, userID string, level model.RestrictionLevel, reason string, expires *time.Time, now time.Time) error {
	ok, err := affected(q.ExecContext(ctx,
		`UPDATE profiles SET restriction_level = ?, restriction_reason = ?, restriction_expires_at = ?, updated_at = ?
		 WHERE user_id = ?`,
		level.String(), reason, database.NullMillis(expires), database.ToMillis(now), userID))
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// LiftExpiredRestrictions clears up to limit restrictions whose expiry
// has passed and returns the affected user IDs.
func (ProfileRepo) LiftExpiredRestrictions(ctx context.Context, q DBTX, now time.Time, limit int) ([]string, error) {
	ms := database.ToMillis(now)
	rows, err := q.QueryContext(ctx,
		`SELECT user_id FROM profiles
		 WHERE restriction_level <> ? AND restriction_expires_at IS NOT NULL AND restriction_expires_at < ?
		 ORDER BY restriction_expires_at LIMIT ?`,
		model.RestrictionNone.String(), ms, limit)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, u)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	args := []any{model.RestrictionNone.String(), ms}
	for _, u := range ids {
		args = append(args, u)
	}
	args = append(args, ms)
	_, err = q.ExecContext(ctx,
		`UPDATE profiles SET restriction_level = ?, restriction_reason = '', restriction_expires_at = NULL, updated_at = ?
		 WHERE user_id IN (`+placeholders(len(ids))+`) AND restriction_expires_at < ?`, args...)
	if err != nil {
		return nil, err
	}
	return ids, nil
}

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// All timestamps are stored as UTC unix milliseconds in BIGINT columns.
// Capacity rules are enforced twice: by the conditional updates in the
// repositories and by CHECK constraints on the pools table.

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS pools (
		id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
		city VARCHAR(64) NOT NULL,
		status VARCHAR(16) NOT NULL,
		active_male INT NOT NULL DEFAULT 0,
		active_female INT NOT NULL DEFAULT 0,
		buffer_male INT NOT NULL DEFAULT 0,
		buffer_female INT NOT NULL DEFAULT 0,
		created_at BIGINT NOT NULL,
		join_deadline BIGINT NOT NULL,
		match_deadline BIGINT NOT NULL,
		matching_executed_at BIGINT NULL,
		closed_at BIGINT NULL,
		admin_override_by VARCHAR(128) NULL,
		admin_override_reason VARCHAR(255) NULL,
		admin_override_at BIGINT NULL,
		updated_at BIGINT NOT NULL,
		CONSTRAINT chk_pool_male CHECK (active_male + buffer_male <= 25),
		CONSTRAINT chk_pool_female CHECK (active_female + buffer_female <= 25),
		CONSTRAINT chk_pool_active CHECK (active_male + active_female <= 50),
		KEY idx_pools_city_status (city, status, created_at),
		KEY idx_pools_status_deadline (status, join_deadline)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS memberships (
		id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
		pool_id BIGINT UNSIGNED NOT NULL,
		user_id VARCHAR(128) NOT NULL,
		gender VARCHAR(8) NOT NULL,
		status VARCHAR(16) NOT NULL,
		is_dummy TINYINT(1) NOT NULL DEFAULT 0,
		joined_at BIGINT NOT NULL,
		entered_pool_at BIGINT NULL,
		UNIQUE KEY uq_membership_pool_user (pool_id, user_id),
		KEY idx_membership_pool_status (pool_id, status, gender, joined_at),
		KEY idx_membership_user (user_id, status),
		CONSTRAINT fk_membership_pool FOREIGN KEY (pool_id) REFERENCES pools(id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS ledger_entries (
		id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
		user_id VARCHAR(128) NOT NULL,
		action VARCHAR(16) NOT NULL,
		credits_delta INT NOT NULL,
		reference_id VARCHAR(128) NOT NULL,
		reason VARCHAR(255) NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL,
		UNIQUE KEY uq_ledger_reference (user_id, action, reference_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS profiles (
		user_id VARCHAR(128) NOT NULL PRIMARY KEY,
		name VARCHAR(128) NOT NULL DEFAULT '',
		gender VARCHAR(8) NOT NULL DEFAULT '',
		age INT NULL,
		birth_date BIGINT NULL,
		interests TEXT NULL,
		city VARCHAR(64) NOT NULL DEFAULT '',
		restriction_level VARCHAR(16) NOT NULL DEFAULT 'none',
		restriction_reason VARCHAR(255) NOT NULL DEFAULT '',
		restriction_expires_at BIGINT NULL,
		is_dummy TINYINT(1) NOT NULL DEFAULT 0,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL,
		KEY idx_profiles_restriction (restriction_level, restriction_expires_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS matches (
		id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
		pool_id BIGINT UNSIGNED NOT NULL,
		user_a VARCHAR(128) NOT NULL,
		user_b VARCHAR(128) NOT NULL,
		user_a_name VARCHAR(128) NOT NULL DEFAULT '',
		user_b_name VARCHAR(128) NOT NULL DEFAULT '',
		compatibility_score DOUBLE NOT NULL,
		created_at BIGINT NOT NULL,
		UNIQUE KEY uq_match_pair (pool_id, user_a, user_b),
		KEY idx_matches_user_a (user_a),
		KEY idx_matches_user_b (user_b)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS conversations (
		id BIGINT UNSIGNED NOT NULL PRIMARY KEY,
		pool_id BIGINT UNSIGNED NOT NULL,
		user_a VARCHAR(128) NOT NULL,
		user_b VARCHAR(128) NOT NULL,
		status VARCHAR(16) NOT NULL,
		expires_at BIGINT NULL,
		continued_by VARCHAR(512) NOT NULL DEFAULT '',
		warned_at BIGINT NULL,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL,
		KEY idx_conversations_status_expiry (status, expires_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS safety_events (
		id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
		user_id VARCHAR(128) NOT NULL,
		event_type VARCHAR(64) NOT NULL,
		severity VARCHAR(16) NOT NULL,
		context TEXT NULL,
		created_at BIGINT NOT NULL,
		KEY idx_safety_user (user_id, created_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS user_blocks (
		id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
		blocker_id VARCHAR(128) NOT NULL,
		blocked_id VARCHAR(128) NOT NULL,
		reason VARCHAR(255) NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL,
		UNIQUE KEY uq_block_pair (blocker_id, blocked_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS pools (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		city TEXT NOT NULL,
		status TEXT NOT NULL,
		active_male INTEGER NOT NULL DEFAULT 0,
		active_female INTEGER NOT NULL DEFAULT 0,
		buffer_male INTEGER NOT NULL DEFAULT 0,
		buffer_female INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		join_deadline INTEGER NOT NULL,
		match_deadline INTEGER NOT NULL,
		matching_executed_at INTEGER NULL,
		closed_at INTEGER NULL,
		admin_override_by TEXT NULL,
		admin_override_reason TEXT NULL,
		admin_override_at INTEGER NULL,
		updated_at INTEGER NOT NULL,
		CHECK (active_male + buffer_male <= 25),
		CHECK (active_female + buffer_female <= 25),
		CHECK (active_male + active_female <= 50)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_pools_city_status ON pools (city, status, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_pools_status_deadline ON pools (status, join_deadline)`,
	`CREATE TABLE IF NOT EXISTS memberships (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		pool_id INTEGER NOT NULL REFERENCES pools(id),
		user_id TEXT NOT NULL,
		gender TEXT NOT NULL,
		status TEXT NOT NULL,
		is_dummy INTEGER NOT NULL DEFAULT 0,
		joined_at INTEGER NOT NULL,
		entered_pool_at INTEGER NULL,
		UNIQUE (pool_id, user_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_membership_pool_status ON memberships (pool_id, status, gender, joined_at)`,
	`CREATE INDEX IF NOT EXISTS idx_membership_user ON memberships (user_id, status)`,
	`CREATE TABLE IF NOT EXISTS ledger_entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		action TEXT NOT NULL,
		credits_delta INTEGER NOT NULL,
		reference_id TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		UNIQUE (user_id, action, reference_id)
	)`,
	`CREATE TABLE IF NOT EXISTS profiles (
		user_id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		gender TEXT NOT NULL DEFAULT '',
		age INTEGER NULL,
		birth_date INTEGER NULL,
		interests TEXT NULL,
		city TEXT NOT NULL DEFAULT '',
		restriction_level TEXT NOT NULL DEFAULT 'none',
		restriction_reason TEXT NOT NULL DEFAULT '',
		restriction_expires_at INTEGER NULL,
		is_dummy INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_profiles_restriction ON profiles (restriction_level, restriction_expires_at)`,
	`CREATE TABLE IF NOT EXISTS matches (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		pool_id INTEGER NOT NULL,
		user_a TEXT NOT NULL,
		user_b TEXT NOT NULL,
		user_a_name TEXT NOT NULL DEFAULT '',
		user_b_name TEXT NOT NULL DEFAULT '',
		compatibility_score REAL NOT NULL,
		created_at INTEGER NOT NULL,
		UNIQUE (pool_id, user_a, user_b)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_matches_user_a ON matches (user_a)`,
	`CREATE INDEX IF NOT EXISTS idx_matches_user_b ON matches (user_b)`,
	`CREATE TABLE IF NOT EXISTS conversations (
		id INTEGER PRIMARY KEY,
		pool_id INTEGER NOT NULL,
		user_a TEXT NOT NULL,
		user_b TEXT NOT NULL,
		status TEXT NOT NULL,
		expires_at INTEGER NULL,
		continued_by TEXT NOT NULL DEFAULT '',
		warned_at INTEGER NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_conversations_status_expiry ON conversations (status, expires_at)`,
	`CREATE TABLE IF NOT EXISTS safety_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		severity TEXT NOT NULL,
		context TEXT NULL,
		created_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_safety_user ON safety_events (user_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS user_blocks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		blocker_id TEXT NOT NULL,
		blocked_id TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		UNIQUE (blocker_id, blocked_id)
	)`,
}

// addedColumns are columns introduced after their table first shipped.
// CREATE TABLE IF NOT EXISTS leaves older tables alone, so Migrate adds
// them when missing.
var addedColumns = []struct {
	table, column, mysql, sqlite string
}{
	{"conversations", "warned_at", "BIGINT NULL", "INTEGER NULL"},
}

// Migrate creates every table and index that does not exist yet and adds
// columns missing from older tables.
func Migrate(ctx context.Context, db *sql.DB, d Dialect) error {
	stmts := mysqlSchema
	if d == SQLite {
		stmts = sqliteSchema
	}
	for i, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate statement %d: %w", i, err)
		}
	}
	for _, c := range addedColumns {
		ok, err := hasColumn(ctx, db, d, c.table, c.column)
		if err != nil {
			return fmt.Errorf("inspect %s.%s: %w", c.table, c.column, err)
		}
		if ok {
			continue
		}
		typ := c.mysql
		if d == SQLite {
			typ = c.sqlite
		}
		if _, err := db.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", c.table, c.column, typ)); err != nil {
			return fmt.Errorf("add column %s.%s: %w", c.table, c.column, err)
		}
	}
	return nil
}

func hasColumn(ctx context.Context, db *sql.DB, d Dialect, table, column string) (bool, error) {
	query := `SELECT COUNT(*) FROM information_schema.columns
		WHERE table_schema = DATABASE() AND table_name = ? AND column_name = ?`
	if d == SQLite {
		query = `SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`
	}
	var n int
	if err := db.QueryRowContext(ctx, query, table, column).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// ToMillis converts t to the stored representation.
func ToMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

// FromMillis converts a stored value back to a UTC time.
func FromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

// NullMillis converts an optional time for writing.
func NullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: ToMillis(*t), Valid: true}
}

// TimePtr converts a nullable stored value back to an optional time.
func TimePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := FromMillis(v.Int64)
	return &t
}

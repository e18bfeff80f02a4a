package database

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"
)

func TestParseDialect(t *testing.T) {
	tests := []struct {
		in      string
		want    Dialect
		wantErr bool
	}{
		{"mysql", MySQL, false},
		{"", MySQL, false},
		{"SQLite", SQLite, false},
		{"sqlite3", SQLite, false},
		{"postgres", "", true},
	}
	for _, tt := range tests {
		got, err := ParseDialect(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("ParseDialect(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Fatalf("ParseDialect(%q): expected %q, got %q (%v)", tt.in, tt.want, got, err)
		}
	}
}

func TestMigrateSQLiteIsRepeatable(t *testing.T) {
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "cohort.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := Migrate(ctx, db, SQLite); err != nil {
			t.Fatalf("migrate run %d: %v", i, err)
		}
	}

	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM pools`).Scan(&n); err != nil {
		t.Fatalf("query pools: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected empty pools table, got %d", n)
	}
}

func TestMigrateAddsMissingColumns(t *testing.T) {
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "old.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, `CREATE TABLE conversations (
		id INTEGER PRIMARY KEY,
		pool_id INTEGER NOT NULL,
		user_a TEXT NOT NULL,
		user_b TEXT NOT NULL,
		status TEXT NOT NULL,
		expires_at INTEGER NULL,
		continued_by TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`); err != nil {
		t.Fatalf("create old table: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := Migrate(ctx, db, SQLite); err != nil {
			t.Fatalf("migrate run %d: %v", i, err)
		}
	}
	ok, err := hasColumn(ctx, db, SQLite, "conversations", "warned_at")
	if err != nil || !ok {
		t.Fatalf("expected warned_at to be added, ok=%v err=%v", ok, err)
	}
}

func TestCapacityCheckConstraint(t *testing.T) {
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "cohort.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	ctx := context.Background()
	if err := Migrate(ctx, db, SQLite); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	_, err = db.ExecContext(ctx, `INSERT INTO pools (city, status, buffer_male, created_at, join_deadline, match_deadline, updated_at)
		VALUES ('Kochi', 'joining', 26, 0, 0, 0, 0)`)
	if err == nil {
		t.Fatal("expected check constraint to reject 26 males")
	}
}

func TestMillisRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 30, 0, 123_000_000, time.UTC)
	if got := FromMillis(ToMillis(now)); !got.Equal(now) {
		t.Fatalf("expected %s, got %s", now, got)
	}
	if TimePtr(sql.NullInt64{}) != nil {
		t.Fatal("expected nil for invalid NullInt64")
	}
	if v := NullMillis(&now); !v.Valid || v.Int64 != ToMillis(now) {
		t.Fatalf("unexpected NullMillis %+v", v)
	}
	if v := NullMillis(nil); v.Valid {
		t.Fatal("expected invalid NullMillis for nil")
	}
}

// Package logging builds the process-wide structured logger.  It wraps
// log/slog with a JSON handler and tags each component with a subsystem
// attribute so that pool, matchmaking and sweep logs can be filtered.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Log levels accepted by New.
const (
	LevelDebug = "DEBUG"
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

// Subsystem names used across the service.
const (
	PoolLifecycle = "pool_lifecycle"
	PoolZipper    = "pool_zipper"
	PoolJoin      = "pool_join"
	Matchmaking   = "matchmaking"
	Credits       = "credits"
	Safety        = "safety"
	Conversations = "conversations"
	Scheduler     = "scheduler"
	Notifications = "notifications"
	HTTP          = "http"
)

// New returns a JSON logger writing to w at the given level.  A nil
// writer means stderr.
func New(w io.Writer, level string) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: parseLevel(level)})
	return slog.New(h)
}

// For returns a child logger tagged with the subsystem attribute.  A nil
// parent falls back to slog.Default.
func For(parent *slog.Logger, subsystem string) *slog.Logger {
	if parent == nil {
		parent = slog.Default()
	}
	return parent.With("subsystem", subsystem)
}

// Discard returns a logger that drops every record.  Tests use it to keep
// output quiet.
func Discard() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func parseLevel(level string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

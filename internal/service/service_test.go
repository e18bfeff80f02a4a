package service

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/iliyamo/cohort-pools/internal/apperr"
	"github.com/iliyamo/cohort-pools/internal/config"
	"github.com/iliyamo/cohort-pools/internal/database"
	"github.com/iliyamo/cohort-pools/internal/logging"
	"github.com/iliyamo/cohort-pools/internal/model"
	"github.com/iliyamo/cohort-pools/internal/queue"
	"github.com/iliyamo/cohort-pools/internal/ratelimit"
	"github.com/iliyamo/cohort-pools/internal/repository"
)

var testNow = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []queue.NotificationEvent
}

func (r *recordingNotifier) Notify(_ context.Context, ev queue.NotificationEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recordingNotifier) ofType(typ string) []queue.NotificationEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []queue.NotificationEvent
	for _, ev := range r.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

type fixture struct {
	svc    *Services
	store  *repository.Store
	clock  *testClock
	notify *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "svc.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := database.Migrate(context.Background(), db, database.SQLite); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	f := &fixture{
		store:  repository.NewStore(db),
		clock:  &testClock{now: testNow},
		notify: &recordingNotifier{},
	}
	f.svc = New(Deps{
		Store:    f.store,
		Policy:   config.DefaultPoolConfig(),
		Limiter:  ratelimit.NewMemory(f.clock.Now),
		Notifier: f.notify,
		Log:      logging.Discard(),
		Now:      f.clock.Now,
		Seed:     func() uint64 { return 42 },
	})
	return f
}

func (f *fixture) profile(t *testing.T, userID string, g model.Gender, interests ...string) *model.Profile {
	t.Helper()
	p := &model.Profile{
		UserID:    userID,
		Name:      "User " + userID,
		Gender:    g,
		Age:       28,
		Interests: interests,
		City:      "Kochi",
		CreatedAt: f.clock.Now(),
	}
	if err := f.store.Profiles.Upsert(context.Background(), f.store.DB, p, f.clock.Now()); err != nil {
		t.Fatalf("upsert profile %s: %v", userID, err)
	}
	return p
}

// member creates a profile, funds males and joins the pool.
func (f *fixture) member(t *testing.T, poolID uint64, userID string, g model.Gender, interests ...string) JoinResult {
	t.Helper()
	f.profile(t, userID, g, interests...)
	if g == model.GenderMale {
		if _, err := f.svc.Credits.Purchase(context.Background(), userID, 1); err != nil {
			t.Fatalf("purchase for %s: %v", userID, err)
		}
	}
	res, err := f.svc.Admission.Join(context.Background(), userID, poolID)
	if err != nil {
		t.Fatalf("join %s: %v", userID, err)
	}
	return res
}

func (f *fixture) pool(t *testing.T) *model.Pool {
	t.Helper()
	p, _, err := f.svc.Lifecycle.CreatePoolIfNotExists(context.Background(), "Kochi")
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	return p
}

func (f *fixture) reload(t *testing.T, poolID uint64) *model.Pool {
	t.Helper()
	p, err := f.store.Pools.Get(context.Background(), f.store.DB, poolID)
	if err != nil {
		t.Fatalf("get pool: %v", err)
	}
	return p
}

func userID(prefix string, i int) string { return fmt.Sprintf("%s%02d", prefix, i) }

func expectKind(t *testing.T, err error, want apperr.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", want)
	}
	if got := apperr.KindOf(err); got != want {
		t.Fatalf("expected %s error, got %s (%v)", want, got, err)
	}
}

func TestStoreErrTranslatesRepositoryErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want apperr.Kind
	}{
		{"not found", repository.ErrNotFound, apperr.KindNotFound},
		{"duplicate", repository.ErrDuplicate, apperr.KindAlreadyExists},
		{"conflict", fmt.Errorf("%w: deadlock", repository.ErrConflict), apperr.KindConflict},
		{"other", fmt.Errorf("boom"), apperr.KindInternal},
		{"passthrough", apperr.PreconditionFailed("full"), apperr.KindPreconditionFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := apperr.KindOf(storeErr("op", tt.err)); got != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, got)
			}
		})
	}
	if storeErr("op", nil) != nil {
		t.Fatalf("expected nil for nil error")
	}
}

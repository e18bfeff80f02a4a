// Package service holds the pool admission, lifecycle, matchmaking and
// credit logic.  Services are stateless between calls: every mutation is
// a bounded transaction against the store, and best-effort follow-ups
// (promotion, rollover, notifications) run after commit and only log
// their failures.
package service

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/iliyamo/cohort-pools/internal/apperr"
	"github.com/iliyamo/cohort-pools/internal/config"
	"github.com/iliyamo/cohort-pools/internal/lock"
	"github.com/iliyamo/cohort-pools/internal/logging"
	"github.com/iliyamo/cohort-pools/internal/queue"
	"github.com/iliyamo/cohort-pools/internal/ratelimit"
	"github.com/iliyamo/cohort-pools/internal/repository"
)

// Notifier delivers a notification to one user.  Delivery is
// fire-and-forget: implementations log failures and never return them.
type Notifier interface {
	Notify(ctx context.Context, ev queue.NotificationEvent)
}

// Deps are the collaborators shared by every service.
type Deps struct {
	Store    *repository.Store
	Policy   config.PoolConfig
	Limiter  ratelimit.Limiter
	Notifier Notifier
	Locker   lock.Locker
	Log      *slog.Logger
	// Now returns the current time; nil means time.Now.
	Now func() time.Time
	// Seed returns a seed for the matching shuffle and dummy users; nil
	// means a random seed per call.
	Seed func() uint64
}

func (d Deps) now() time.Time {
	if d.Now == nil {
		return time.Now().UTC()
	}
	return d.Now().UTC()
}

func (d Deps) rng() *rand.Rand {
	var s uint64
	if d.Seed != nil {
		s = d.Seed()
	} else {
		s = rand.Uint64()
	}
	return rand.New(rand.NewPCG(s, s^0x9e3779b97f4a7c15))
}

func (d Deps) logger(subsystem string) *slog.Logger {
	return logging.For(d.Log, subsystem)
}

// Services wires every service together.
type Services struct {
	Safety        *Safety
	Credits       *Credits
	Profiles      *Profiles
	Zipper        *Zipper
	Lifecycle     *Lifecycle
	Admission     *Admission
	Matchmaking   *Matchmaking
	Conversations *Conversations
	Invariants    *Invariants
}

// New builds the service graph from d, filling in defaults for optional
// collaborators.
func New(d Deps) *Services {
	if d.Limiter == nil {
		d.Limiter = ratelimit.NewMemory(d.Now)
	}
	if d.Locker == nil {
		d.Locker = lock.Noop{}
	}
	if d.Log == nil {
		d.Log = slog.Default()
	}
	if d.Notifier == nil {
		d.Notifier = NewLogNotifier(d.Log)
	}
	if len(d.Policy.SupportedCities) == 0 {
		d.Policy = config.DefaultPoolConfig()
	}

	s := &Services{}
	s.Safety = &Safety{d: d, log: d.logger(logging.Safety)}
	s.Credits = &Credits{d: d, safety: s.Safety, log: d.logger(logging.Credits)}
	s.Profiles = &Profiles{d: d}
	s.Zipper = &Zipper{d: d, log: d.logger(logging.PoolZipper)}
	s.Matchmaking = &Matchmaking{d: d, log: d.logger(logging.Matchmaking)}
	s.Lifecycle = &Lifecycle{d: d, credits: s.Credits, matchmaking: s.Matchmaking, safety: s.Safety, log: d.logger(logging.PoolLifecycle)}
	s.Admission = &Admission{d: d, safety: s.Safety, zipper: s.Zipper, lifecycle: s.Lifecycle, log: d.logger(logging.PoolJoin)}
	s.Conversations = &Conversations{d: d, safety: s.Safety, log: d.logger(logging.Conversations)}
	s.Invariants = &Invariants{d: d}
	return s
}

// storeErr translates repository failures into application errors.
// Errors that already carry a kind pass through unchanged.
func storeErr(msg string, err error) error {
	if err == nil {
		return nil
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return apperr.NotFound(msg + ": not found")
	case errors.Is(err, repository.ErrDuplicate):
		return apperr.AlreadyExists(msg + ": already exists")
	case errors.Is(err, repository.ErrConflict):
		return apperr.Conflict(msg, err)
	}
	return apperr.Internal(msg, err)
}

// Package scheduler drives the periodic lifecycle sweeps.  Every sweep
// is idempotent, so overlapping runs on several replicas are harmless.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/iliyamo/cohort-pools/internal/service"
)

// Job is one named sweep.  It returns how many records it touched.
type Job struct {
	Name string
	Run  func(ctx context.Context) (int, error)
}

// Sweeps returns the lifecycle jobs in the order they should run.
// Closing pools comes before matchmaking so a pool that just closed is
// matched in the same tick.
func Sweeps(s *service.Services) []Job {
	return []Job{
		{Name: "close_expired_pools", Run: func(ctx context.Context) (int, error) {
			r, err := s.Lifecycle.CloseExpiredPools(ctx)
			return r.Closed, err
		}},
		{Name: "run_pending_matchmaking", Run: func(ctx context.Context) (int, error) {
			r, err := s.Lifecycle.RunPendingMatchmaking(ctx)
			return r.Pools, err
		}},
		{Name: "expire_conversations", Run: s.Conversations.ExpireConversations},
		{Name: "send_expiry_warnings", Run: s.Conversations.SendExpiryWarnings},
		{Name: "lift_expired_restrictions", Run: s.Safety.LiftExpiredRestrictions},
	}
}

// Scheduler runs its jobs every interval until the context is cancelled.
type Scheduler struct {
	jobs     []Job
	interval time.Duration
	log      *slog.Logger
}

// New returns a Scheduler.  A non-positive interval means one minute.
func New(jobs []Job, interval time.Duration, log *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{jobs: jobs, interval: interval, log: log}
}

// Run ticks immediately and then on every interval.  It returns when ctx
// is done.
func (s *Scheduler) Run(ctx context.Context) {
	s.Tick(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs every job once.  A failing job is logged and the rest still
// run.  It returns the per-job counts.
func (s *Scheduler) Tick(ctx context.Context) map[string]int {
	out := make(map[string]int, len(s.jobs))
	for _, j := range s.jobs {
		if ctx.Err() != nil {
			return out
		}
		start := time.Now()
		n, err := j.Run(ctx)
		if err != nil {
			s.log.Error("sweep failed", "job", j.Name, "error", err)
			continue
		}
		out[j.Name] = n
		if n > 0 {
			s.log.Info("sweep done", "job", j.Name, "count", n, "took", time.Since(start))
		}
	}
	return out
}

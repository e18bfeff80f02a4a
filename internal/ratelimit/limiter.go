// Package ratelimit enforces per-user action limits over fixed windows.
// A counter lives under user_action[_scope]_windowStart and expires with
// its window, so every window starts from zero.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Rule names an action and how often a user may perform it per window.
type Rule struct {
	Action string
	Limit  int
	Window time.Duration
}

// Admission and messaging rules.
var (
	JoinPool        = Rule{Action: "joinPool", Limit: 10, Window: 24 * time.Hour}
	ContinueChat    = Rule{Action: "requestContinuation", Limit: 2, Window: 24 * time.Hour}
	PurchaseCredits = Rule{Action: "purchaseCredits", Limit: 20, Window: 24 * time.Hour}
	BlockUser       = Rule{Action: "blockUser", Limit: 20, Window: 24 * time.Hour}
)

// Result reports the outcome of one Enforce call.
type Result struct {
	Allowed    bool
	Count      int
	Limit      int
	RetryAfter time.Duration
}

// Limiter counts an attempt against a rule.  Implementations record the
// attempt even when it is refused.
type Limiter interface {
	Enforce(ctx context.Context, rule Rule, userID, scope string) (Result, error)
}

// Key builds the counter key for the window containing now.
func Key(rule Rule, userID, scope string, now time.Time) (key string, windowEnd time.Time) {
	w := rule.Window.Milliseconds()
	if w <= 0 {
		w = 1
	}
	start := now.UnixMilli() / w * w
	key = userID + "_" + rule.Action
	if scope != "" {
		key += "_" + scope
	}
	key += "_" + strconv.FormatInt(start, 10)
	return key, time.UnixMilli(start + w)
}

func decide(rule Rule, count int, now, windowEnd time.Time) Result {
	r := Result{Allowed: count <= rule.Limit, Count: count, Limit: rule.Limit}
	if !r.Allowed {
		r.RetryAfter = windowEnd.Sub(now)
	}
	return r
}

// Redis is a Limiter shared by every replica.  The increment and the
// first-hit expiry run in one script so a crash between them cannot
// leave a counter without a TTL.
type Redis struct {
	rdb    *redis.Client
	prefix string
	now    func() time.Time
}

var fixedWindowScript = redis.NewScript(`
	local count = redis.call('INCR', KEYS[1])
	if count == 1 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
	end
	return count
`)

// NewRedis returns a Redis-backed limiter.  Keys are namespaced by prefix.
func NewRedis(rdb *redis.Client, prefix string) *Redis {
	return &Redis{rdb: rdb, prefix: prefix, now: time.Now}
}

// Enforce implements Limiter.
func (l *Redis) Enforce(ctx context.Context, rule Rule, userID, scope string) (Result, error) {
	now := l.now()
	key, end := Key(rule, userID, scope, now)
	if l.prefix != "" {
		key = l.prefix + ":" + key
	}
	ttl := end.Sub(now) + time.Second
	n, err := fixedWindowScript.Run(ctx, l.rdb, []string{key}, ttl.Milliseconds()).Int64()
	if err != nil {
		return Result{}, fmt.Errorf("rate limit %s: %w", rule.Action, err)
	}
	return decide(rule, int(n), now, end), nil
}

// Memory is a process-local Limiter used when Redis is not configured
// and in tests.
type Memory struct {
	mu     sync.Mutex
	counts map[string]memoryCounter
	now    func() time.Time
}

type memoryCounter struct {
	n   int
	end time.Time
}

// NewMemory returns an in-process limiter reading time from now.  A nil
// now uses time.Now.
func NewMemory(now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{counts: map[string]memoryCounter{}, now: now}
}

// Enforce implements Limiter.
func (l *Memory) Enforce(_ context.Context, rule Rule, userID, scope string) (Result, error) {
	now := l.now()
	key, end := Key(rule, userID, scope, now)

	l.mu.Lock()
	defer l.mu.Unlock()
	for k, c := range l.counts {
		if !now.Before(c.end) {
			delete(l.counts, k)
		}
	}
	c := l.counts[key]
	c.n++
	c.end = end
	l.counts[key] = c
	return decide(rule, c.n, now, end), nil
}

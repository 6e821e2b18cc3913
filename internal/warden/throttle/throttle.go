// Package throttle limits entitlement checks per key with an in-memory
// sliding window. It is per-instance, not distributed.
package throttle

import (
	"context"
	"sync"
	"time"
)

// Result describes a throttling decision.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is the wait before the key frees a slot.
func (r Result) RetryAfter(now time.Time) time.Duration {
	if r.Allowed || !r.ResetAt.After(now) {
		return 0
	}
	return r.ResetAt.Sub(now)
}

// Limiter admits at most limit events per key in any window.
type Limiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	now     func() time.Time
	windows map[string]*slidingWindow
}

type slidingWindow struct {
	timestamps []time.Time
}

type Option func(*Limiter)

func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// New creates a Limiter. A limit below 1 is raised to 1.
func New(limit int, window time.Duration, opts ...Option) *Limiter {
	if limit < 1 {
		limit = 1
	}
	l := &Limiter{
		limit:   limit,
		window:  window,
		now:     time.Now,
		windows: make(map[string]*slidingWindow),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow records one event for key if the window has room.
func (l *Limiter) Allow(_ context.Context, key string) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	sw := l.windows[key]
	if sw == nil {
		sw = &slidingWindow{}
		l.windows[key] = sw
	}
	sw.cleanup(now, l.window)

	if len(sw.timestamps) >= l.limit {
		resetAt := now.Add(l.window)
		if len(sw.timestamps) > 0 {
			resetAt = sw.timestamps[0].Add(l.window)
		}
		return Result{
			Allowed: false,
			Limit:   l.limit,
			ResetAt: resetAt,
		}
	}

	sw.timestamps = append(sw.timestamps, now)
	return Result{
		Allowed:   true,
		Limit:     l.limit,
		Remaining: l.limit - len(sw.timestamps),
		ResetAt:   sw.timestamps[0].Add(l.window),
	}
}

// Prune drops keys with no events inside the window and reports how many
// were removed.
func (l *Limiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for key, sw := range l.windows {
		sw.cleanup(now, l.window)
		if len(sw.timestamps) == 0 {
			delete(l.windows, key)
			removed++
		}
	}
	return removed
}

// Run prunes every interval until ctx is done.
func (l *Limiter) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			l.Prune()
		}
	}
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

func (sw *slidingWindow) cleanup(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	i := 0
	for ; i < len(sw.timestamps); i++ {
		if sw.timestamps[i].After(cutoff) {
			break
		}
	}
	sw.timestamps = sw.timestamps[i:]
}

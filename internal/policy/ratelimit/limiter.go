// Package ratelimit implements the global sliding-window rate limiter for
// outbound fetches.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/spectrail/specwatch/internal/metrics"
)

// Config holds rate limiter configuration.
type Config struct {
	// Limit is the maximum number of requests admitted per Window.
	Limit int
	// Window is the rolling interval the limit applies to.
	Window time.Duration
}

// Limiter admits at most Limit requests per rolling Window across all
// callers. Excess demand queues until the oldest timestamp leaves the
// window; requests are never rejected or dropped.
type Limiter struct {
	mu     sync.Mutex
	stamps []time.Time
	limit  int
	window time.Duration
	now    func() time.Time
	sleep  func(context.Context, time.Duration) error
}

// New creates a Limiter.
func New(cfg Config) *Limiter {
	limit := cfg.Limit
	if limit <= 0 {
		limit = 1
	}
	window := cfg.Window
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{
		limit:  limit,
		window: window,
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

// Wait blocks until the window has capacity, then records the admission.
// It returns early only when the context is canceled.
func (l *Limiter) Wait(ctx context.Context) error {
	start := l.now()
	for {
		wait, admitted := l.tryAdmit()
		if admitted {
			if delay := l.now().Sub(start); delay > time.Millisecond {
				metrics.ObserveRateLimitDelay(delay)
			}
			return nil
		}
		if err := l.sleep(ctx, wait); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}
}

// tryAdmit prunes expired timestamps and either records a new admission or
// returns how long until the oldest admission leaves the window.
func (l *Limiter) tryAdmit() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)
	kept := l.stamps[:0]
	for _, ts := range l.stamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	l.stamps = kept

	if len(l.stamps) < l.limit {
		l.stamps = append(l.stamps, now)
		return 0, true
	}

	wait := l.window - now.Sub(l.stamps[0])
	if wait <= 0 {
		wait = time.Millisecond
	}
	return wait, false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

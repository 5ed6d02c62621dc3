// Package resilience wraps outbound remote calls with a windowed cost
// budget, retry-with-backoff, and per-operation circuit breakers.
package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Cost units per operation class, charged against the windowed budget.
// Values follow the remote API's published resource-unit model.
const (
	CostSimpleGet     = 2
	CostComplexGet    = 3
	CostGetWithExpand = 4
	CostBatchRequest  = 5
	CostDeltaQuery    = 1
)

// RateLimiterConfig configures the windowed budget.
type RateLimiterConfig struct {
	// Budget is the number of cost units available per window.
	Budget int
	// Window is the fixed window length.
	Window time.Duration
}

// RateLimiter admits abstract cost units against a fixed time window.
// When the window's budget is exhausted, Acquire blocks until the window
// resets. An explicit retry-after signal from the server suspends all
// admissions regardless of remaining budget.
type RateLimiter struct {
	budget int
	window time.Duration
	logger *slog.Logger

	mu             sync.Mutex
	usage          int
	windowStart    time.Time
	suspendedUntil time.Time

	now func() time.Time
}

func NewRateLimiter(cfg RateLimiterConfig, logger *slog.Logger) *RateLimiter {
	l := &RateLimiter{
		budget: cfg.Budget,
		window: cfg.Window,
		logger: logger,
		now:    time.Now,
	}
	l.windowStart = l.now()
	return l
}

// Acquire blocks until cost units are available in the current window,
// returning early only when ctx is cancelled. Cumulative admitted cost
// within any window never exceeds the budget.
func (l *RateLimiter) Acquire(ctx context.Context, cost int) error {
	if cost > l.budget {
		return fmt.Errorf("cost %d exceeds window budget %d", cost, l.budget)
	}

	for {
		l.mu.Lock()
		now := l.now()

		if wait := l.suspendedUntil.Sub(now); wait > 0 {
			l.mu.Unlock()
			l.logger.Warn("rate limiter suspended by retry-after", "wait", wait)
			if err := sleepCtx(ctx, wait); err != nil {
				return err
			}
			continue
		}

		if now.Sub(l.windowStart) >= l.window {
			l.usage = 0
			l.windowStart = now
		}

		if l.usage+cost <= l.budget {
			l.usage += cost
			l.mu.Unlock()
			return nil
		}

		wait := l.window - now.Sub(l.windowStart)
		l.mu.Unlock()

		l.logger.Warn("rate budget exhausted, waiting for window reset", "wait", wait)
		if err := sleepCtx(ctx, wait); err != nil {
			return err
		}
	}
}

// Suspend pauses all admissions for d, honoring an explicit
// "retry after N seconds" signal from the server.
func (l *RateLimiter) Suspend(d time.Duration) {
	if d <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	until := l.now().Add(d)
	if until.After(l.suspendedUntil) {
		l.suspendedUntil = until
	}
}

// Usage returns the cost units consumed in the current window.
func (l *RateLimiter) Usage() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.now().Sub(l.windowStart) >= l.window {
		return 0
	}
	return l.usage
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

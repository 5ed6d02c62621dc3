package resilience

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/bcdannyboy/SharepointAudit/internal/domain"
)

// RetryConfig configures the retry strategy and its circuit breakers.
type RetryConfig struct {
	MaxAttempts      int
	BaseDelay        time.Duration
	MaxDelay         time.Duration
	BreakerThreshold int
	BreakerRecovery  time.Duration
}

// DefaultRetryConfig mirrors the limits used against the production API.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:      3,
		BaseDelay:        500 * time.Millisecond,
		MaxDelay:         30 * time.Second,
		BreakerThreshold: 5,
		BreakerRecovery:  60 * time.Second,
	}
}

// RetryStrategy executes operations with bounded exponential backoff and
// one circuit breaker per operation key. Safe for concurrent use.
type RetryStrategy struct {
	cfg    RetryConfig
	logger *slog.Logger

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

func NewRetryStrategy(cfg RetryConfig, logger *slog.Logger) *RetryStrategy {
	return &RetryStrategy{
		cfg:      cfg,
		logger:   logger,
		breakers: make(map[string]*CircuitBreaker),
	}
}

// Execute invokes fn, retrying transient failures with
// min(base*2^attempt, maxDelay) plus jitter of at most 10% of the delay.
// Non-retryable errors propagate immediately. While the operation's
// circuit is open, Execute fails fast with a CircuitOpenError without
// invoking fn.
func (s *RetryStrategy) Execute(ctx context.Context, operationKey string, fn func(context.Context) error) error {
	breaker := s.breaker(operationKey)
	if !breaker.Allow() {
		return &domain.CircuitOpenError{OperationKey: operationKey}
	}

	var lastErr error
	for attempt := 0; attempt < s.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := s.backoff(attempt - 1)
			s.logger.Debug("retrying operation",
				"operation", operationKey, "attempt", attempt+1, "delay", delay)
			if err := sleepCtx(ctx, delay); err != nil {
				return err
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			breaker.RecordSuccess()
			return nil
		}
		breaker.RecordFailure()

		if ctx.Err() != nil {
			return lastErr
		}
		if !domain.IsRetryable(lastErr) {
			s.logger.Warn("permanent error, not retrying",
				"operation", operationKey, "error", lastErr)
			return lastErr
		}
		s.logger.Warn("attempt failed",
			"operation", operationKey, "attempt", attempt+1, "error", lastErr)

		// A throttled response carries an explicit retry hint that
		// overrides the computed backoff floor.
		var apiErr *domain.APIError
		if errors.As(lastErr, &apiErr) && apiErr.RetryAfter > 0 && attempt < s.cfg.MaxAttempts-1 {
			if err := sleepCtx(ctx, apiErr.RetryAfter); err != nil {
				return err
			}
		}
	}

	return &domain.MaxRetriesError{
		OperationKey: operationKey,
		Attempts:     s.cfg.MaxAttempts,
		LastErr:      lastErr,
	}
}

// BreakerState exposes the circuit state for an operation key, for
// metrics and tests.
func (s *RetryStrategy) BreakerState(operationKey string) CircuitState {
	return s.breaker(operationKey).State()
}

func (s *RetryStrategy) breaker(operationKey string) *CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.breakers[operationKey]
	if !ok {
		b = NewCircuitBreaker(s.cfg.BreakerThreshold, s.cfg.BreakerRecovery)
		s.breakers[operationKey] = b
	}
	return b
}

func (s *RetryStrategy) backoff(attempt int) time.Duration {
	delay := s.cfg.BaseDelay << uint(attempt)
	if delay > s.cfg.MaxDelay || delay <= 0 {
		delay = s.cfg.MaxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(delay)/10 + 1))
	return delay + jitter
}

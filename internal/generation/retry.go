package generation

import (
	"context"
	"log/slog"
	"time"
)

const (
	// DefaultMaxAttempts is the full budget for one generate+poll call:
	// the initial attempt plus two retries.
	DefaultMaxAttempts = 3
	// DefaultRetryDelay is the fixed pause between attempts. No backoff
	// growth: the budget is small and callers already run many requests
	// in parallel.
	DefaultRetryDelay = time.Second
)

// RetryPolicy retries a single operation on transient provider errors.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
	Logger      *slog.Logger
}

func DefaultRetryPolicy(logger *slog.Logger) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: DefaultMaxAttempts,
		Delay:       DefaultRetryDelay,
		Logger:      logger,
	}
}

// Do runs fn until it succeeds, returns a terminal error, or the attempt
// budget is exhausted. Only errors IsRetryable reports as transient are
// retried; validation, auth and malformed-response errors fail on first
// occurrence.
func (p RetryPolicy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) {
			return lastErr
		}
		if attempt == attempts {
			break
		}

		if p.Logger != nil {
			p.Logger.Warn("retrying after transient error",
				"op", op,
				"attempt", attempt,
				"max_attempts", attempts,
				"delay_ms", p.Delay.Milliseconds(),
				"error", lastErr,
			)
		}

		timer := time.NewTimer(p.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}

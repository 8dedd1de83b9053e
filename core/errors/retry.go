package errors

import (
	"context"
	"time"
)

// defaultJitterPercent is the jitter applied to every retry delay (10%).
const defaultJitterPercent = 0.1

// Retry runs fn, reattempting per the behavior of the errors it returns. A
// non-retryable error returns immediately; a retryable one backs off with
// jitter between attempts. The last error is returned when attempts exhaust
// or the context is cancelled.
func Retry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; ; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		behavior := GetBehavior(lastErr)
		if !behavior.Retryable || attempt >= behavior.MaxAttempts {
			return lastErr
		}
		delay := AddJitter(CalculateDelay(attempt, behavior), defaultJitterPercent)
		if err := wait(ctx, delay); err != nil {
			return lastErr
		}
	}
}

// wait sleeps for the delay or returns early on context cancellation.
func wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

package errors

import (
	"math"
	"math/rand"
	"time"
)

// CalculateDelay computes the exponential backoff delay for an attempt:
// initial * (multiplier ^ attempt), capped at the behavior's MaxDelay.
func CalculateDelay(attempt int, b Behavior) time.Duration {
	if b.InitialDelay <= 0 {
		return 0
	}
	factor := math.Pow(2.0, float64(attempt))
	delay := time.Duration(float64(b.InitialDelay) * factor)
	if b.MaxDelay > 0 && delay > b.MaxDelay {
		return b.MaxDelay
	}
	return delay
}

// AddJitter applies random jitter of up to ±jitterPercent to a delay, keeping
// it at least one millisecond. Jitter spreads retries from concurrent workers
// hitting the same lock.
func AddJitter(delay time.Duration, jitterPercent float64) time.Duration {
	if jitterPercent <= 0 || delay <= 0 {
		return delay
	}
	jitterRange := float64(delay) * jitterPercent
	offset := (rand.Float64()*2 - 1) * jitterRange
	jittered := time.Duration(float64(delay) + offset)
	if jittered < time.Millisecond {
		return time.Millisecond
	}
	return jittered
}

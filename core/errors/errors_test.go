package errors

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Classes and sentinels
// =============================================================================

func TestClass_String(t *testing.T) {
	assert.Equal(t, "storage_locked", ClassStorageLocked.String())
	assert.Equal(t, "token_already_consumed", ClassTokenConsumed.String())
	assert.Equal(t, "unknown", Class(99).String())
}

func TestError_IsMatchesByClass(t *testing.T) {
	err := Wrap(ClassStorageLocked, "flush weights", fmt.Errorf("database is locked"))

	assert.ErrorIs(t, err, ErrStorageLocked)
	assert.NotErrorIs(t, err, ErrTokenExpired)
}

func TestWrap_PreservesExistingClass(t *testing.T) {
	inner := New(ClassTokenExpired, "token aged out")
	outer := Wrap(ClassInternal, "submit feedback", inner)

	assert.Equal(t, ClassTokenExpired, GetClass(outer))
	assert.ErrorIs(t, outer, ErrTokenExpired)
}

func TestWrap_NilReturnsNil(t *testing.T) {
	assert.NoError(t, Wrap(ClassStorageLocked, "noop", nil))
}

func TestGetClass_DefaultsToInternal(t *testing.T) {
	assert.Equal(t, ClassInternal, GetClass(fmt.Errorf("plain")))
}

func TestBehaviors(t *testing.T) {
	assert.True(t, IsRetryable(ErrStorageLocked))
	assert.True(t, IsRetryable(ErrProviderUnavailable))
	assert.False(t, IsRetryable(ErrInvalidArgument))
	assert.False(t, IsRetryable(ErrTokenAlreadyConsumed))
	assert.True(t, IsFatal(ErrCorruptLedger))
	assert.False(t, IsFatal(ErrStorageLocked))
}

// =============================================================================
// Backoff
// =============================================================================

func TestCalculateDelay_ExponentialWithCap(t *testing.T) {
	b := Behavior{InitialDelay: 100 * time.Millisecond, MaxDelay: 500 * time.Millisecond}

	assert.Equal(t, 100*time.Millisecond, CalculateDelay(0, b))
	assert.Equal(t, 200*time.Millisecond, CalculateDelay(1, b))
	assert.Equal(t, 400*time.Millisecond, CalculateDelay(2, b))
	assert.Equal(t, 500*time.Millisecond, CalculateDelay(3, b))
	assert.Equal(t, 500*time.Millisecond, CalculateDelay(10, b))
}

func TestAddJitter_StaysWithinRange(t *testing.T) {
	base := 100 * time.Millisecond
	for i := 0; i < 50; i++ {
		jittered := AddJitter(base, 0.1)
		assert.GreaterOrEqual(t, jittered, 90*time.Millisecond)
		assert.LessOrEqual(t, jittered, 110*time.Millisecond)
	}
	assert.Equal(t, base, AddJitter(base, 0))
}

// =============================================================================
// Retry
// =============================================================================

func TestRetry_SucceedsAfterTransientLock(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return New(ClassStorageLocked, "locked")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetry_DoesNotRetryPermanentClasses(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), func() error {
		attempts++
		return New(ClassInvalidArgument, "bad mode")
	})

	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.Equal(t, 1, attempts)
}

func TestRetry_ExhaustsAttemptsAndSurfacesLastError(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), func() error {
		attempts++
		return New(ClassStorageLocked, "still locked")
	})

	assert.ErrorIs(t, err, ErrStorageLocked)
	// MaxAttempts retries after the initial call.
	assert.Equal(t, DefaultBehaviors()[ClassStorageLocked].MaxAttempts+1, attempts)
}

func TestRetry_StopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := Retry(ctx, func() error {
		attempts++
		return New(ClassProviderUnavailable, "down")
	})

	assert.ErrorIs(t, err, ErrProviderUnavailable)
	assert.Less(t, attempts, 4)
}

// =============================================================================
// Classification
// =============================================================================

func TestClassifyStorage(t *testing.T) {
	locked := ClassifyStorage(fmt.Errorf("database is locked (5) (SQLITE_BUSY)"))
	assert.Equal(t, ClassStorageLocked, GetClass(locked))

	other := ClassifyStorage(fmt.Errorf("no such table: ledger"))
	assert.Equal(t, ClassInternal, GetClass(other))

	// Already-classified errors pass through unchanged.
	already := New(ClassCorruptLedger, "bad checksum")
	assert.Equal(t, ClassCorruptLedger, GetClass(ClassifyStorage(already)))
	assert.NoError(t, ClassifyStorage(nil))
}

func TestClassifyProvider(t *testing.T) {
	wrapped := ClassifyProvider("openai", fmt.Errorf("connect refused"))
	assert.Equal(t, ClassProviderUnavailable, GetClass(wrapped))

	var e *Error
	require.ErrorAs(t, wrapped, &e)
	assert.Equal(t, "openai", e.Context["provider"])

	cancelled := ClassifyProvider("openai", context.Canceled)
	assert.ErrorIs(t, cancelled, context.Canceled)
	assert.NotEqual(t, ClassProviderUnavailable, GetClass(cancelled))
}

// =============================================================================
// Circuit breaker
// =============================================================================

func TestCircuitBreaker_TripsAfterConsecutiveFailures(t *testing.T) {
	cb := NewCircuitBreaker("embedder", BreakerConfig{
		ConsecutiveFailures: 3,
		Cooldown:            time.Hour,
		SuccessThreshold:    2,
	})

	require.True(t, cb.Allow())
	cb.RecordResult(false)
	cb.RecordResult(false)
	assert.Equal(t, CircuitClosed, cb.State())
	cb.RecordResult(false)
	assert.Equal(t, CircuitOpen, cb.State())
	assert.False(t, cb.Allow())
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker("embedder", DefaultBreakerConfig())

	cb.RecordResult(false)
	cb.RecordResult(false)
	cb.RecordResult(true)
	cb.RecordResult(false)
	cb.RecordResult(false)
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	cb := NewCircuitBreaker("embedder", BreakerConfig{
		ConsecutiveFailures: 1,
		Cooldown:            time.Millisecond,
		SuccessThreshold:    2,
	})

	cb.RecordResult(false)
	require.Equal(t, CircuitOpen, cb.State())

	time.Sleep(5 * time.Millisecond)
	require.True(t, cb.Allow(), "cooldown elapsed, probe allowed")
	require.Equal(t, CircuitHalfOpen, cb.State())

	cb.RecordResult(true)
	assert.Equal(t, CircuitHalfOpen, cb.State())
	cb.RecordResult(true)
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker("embedder", BreakerConfig{
		ConsecutiveFailures: 1,
		Cooldown:            time.Millisecond,
		SuccessThreshold:    2,
	})

	cb.RecordResult(false)
	time.Sleep(5 * time.Millisecond)
	require.True(t, cb.Allow())
	cb.RecordResult(false)
	assert.Equal(t, CircuitOpen, cb.State())
}

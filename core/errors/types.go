// Package errors implements the engine's error taxonomy with per-class
// handling behavior. Classes describe how callers recover: retry with
// backoff, surface to the user, degrade to an absent confidence, or abort.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// Class classifies an engine error.
type Class int

const (
	// ClassInternal is the catch-all for unclassified failures. Not
	// retried, surfaced.
	ClassInternal Class = iota

	// ClassProviderUnavailable means an external collaborator (embedding
	// provider, graph store) is down. Retried with backoff by the caller,
	// never masked.
	ClassProviderUnavailable

	// ClassInsufficientData means a computation lacked the inputs to
	// produce a value. Maps to an Absent confidence, never silently
	// defaulted to a mid value.
	ClassInsufficientData

	// ClassInvalidArgument means the request is malformed or inconsistent.
	// Rejected, not reinterpreted.
	ClassInvalidArgument

	// ClassStorageLocked means a store rejected an operation because of a
	// held lock. Transient: retried with jittered backoff, surfaced once
	// retries exhaust.
	ClassStorageLocked

	// ClassTokenExpired means a feedback token aged past its TTL.
	ClassTokenExpired

	// ClassTokenConsumed means a feedback token was already redeemed.
	ClassTokenConsumed

	// ClassCorruptLedger means the confidence ledger failed its integrity
	// check. Fatal at startup.
	ClassCorruptLedger
)

var classNames = map[Class]string{
	ClassInternal:            "internal",
	ClassProviderUnavailable: "provider_unavailable",
	ClassInsufficientData:    "insufficient_data",
	ClassInvalidArgument:     "invalid_argument",
	ClassStorageLocked:       "storage_locked",
	ClassTokenExpired:        "token_expired",
	ClassTokenConsumed:       "token_already_consumed",
	ClassCorruptLedger:       "corrupt_ledger",
}

// String returns the stable machine tag for the class.
func (c Class) String() string {
	if name, ok := classNames[c]; ok {
		return name
	}
	return "unknown"
}

// Behavior defines how a class of errors is handled.
type Behavior struct {
	// Retryable indicates whether the operation should be reattempted.
	Retryable bool

	// MaxAttempts is the retry attempt limit.
	MaxAttempts int

	// InitialDelay is the starting backoff duration.
	InitialDelay time.Duration

	// MaxDelay caps the backoff duration.
	MaxDelay time.Duration

	// Surface indicates the error reaches the caller rather than being
	// absorbed into a degraded result.
	Surface bool

	// Fatal indicates a process-level failure.
	Fatal bool
}

// DefaultBehaviors returns the handling behavior per class.
func DefaultBehaviors() map[Class]Behavior {
	return map[Class]Behavior{
		ClassInternal: {
			Surface: true,
		},
		ClassProviderUnavailable: {
			Retryable:    true,
			MaxAttempts:  3,
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     10 * time.Second,
			Surface:      true,
		},
		ClassInsufficientData: {
			// Degrades to Absent confidence rather than surfacing.
		},
		ClassInvalidArgument: {
			Surface: true,
		},
		ClassStorageLocked: {
			Retryable:    true,
			MaxAttempts:  5,
			InitialDelay: 50 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			Surface:      true,
		},
		ClassTokenExpired: {
			Surface: true,
		},
		ClassTokenConsumed: {
			Surface: true,
		},
		ClassCorruptLedger: {
			Surface: true,
			Fatal:   true,
		},
	}
}

// Error wraps an underlying error with its class and context.
type Error struct {
	Class      Class
	Message    string
	Underlying error
	Context    map[string]string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Class, e.Message, e.Underlying)
	}
	return fmt.Sprintf("[%s] %s", e.Class, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Underlying
}

// Is matches another *Error by class, so sentinels compare by class alone.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Class == other.Class
	}
	return false
}

// New creates a classified error.
func New(class Class, message string) *Error {
	return &Error{Class: class, Message: message}
}

// Wrap classifies an existing error, preserving an already-assigned class.
// Returns nil when err is nil.
func Wrap(class Class, message string, err error) error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		class = existing.Class
	}
	return &Error{Class: class, Message: message, Underlying: err}
}

// WithContext attaches a key-value pair to the error.
func (e *Error) WithContext(key, value string) *Error {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// Sentinel errors, one per class.
var (
	ErrProviderUnavailable  = New(ClassProviderUnavailable, "provider unavailable")
	ErrInsufficientData     = New(ClassInsufficientData, "insufficient data")
	ErrInvalidArgument      = New(ClassInvalidArgument, "invalid argument")
	ErrStorageLocked        = New(ClassStorageLocked, "storage locked")
	ErrTokenExpired         = New(ClassTokenExpired, "feedback token expired")
	ErrTokenAlreadyConsumed = New(ClassTokenConsumed, "feedback token already consumed")
	ErrCorruptLedger        = New(ClassCorruptLedger, "confidence ledger corrupt")
)

// GetClass extracts the class from an error, defaulting to ClassInternal.
func GetClass(err error) Class {
	var e *Error
	if errors.As(err, &e) {
		return e.Class
	}
	return ClassInternal
}

// GetBehavior returns the handling behavior for an error's class.
func GetBehavior(err error) Behavior {
	return DefaultBehaviors()[GetClass(err)]
}

// IsRetryable reports whether the error's class retries.
func IsRetryable(err error) bool {
	return GetBehavior(err).Retryable
}

// IsFatal reports whether the error's class aborts the process.
func IsFatal(err error) bool {
	return GetBehavior(err).Fatal
}

package errors

import (
	"context"
	"errors"
	"strings"
)

// ClassifyStorage maps a storage-layer error onto the taxonomy. SQLite lock
// contention is detected by message so both drivers in use (cgo and pure-Go)
// classify identically.
func ClassifyStorage(err error) error {
	if err == nil {
		return nil
	}
	var classified *Error
	if errors.As(err, &classified) {
		return err
	}
	if isLockMessage(err.Error()) {
		return Wrap(ClassStorageLocked, "storage operation blocked", err)
	}
	return Wrap(ClassInternal, "storage operation failed", err)
}

// isLockMessage matches the lock diagnostics emitted by SQLite drivers.
func isLockMessage(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "database is locked") ||
		strings.Contains(lower, "database table is locked") ||
		strings.Contains(lower, "sqlite_busy") ||
		strings.Contains(lower, "sqlite_locked")
}

// ClassifyProvider maps a remote collaborator error onto the taxonomy.
// Context cancellation stays as-is so deadline handling upstream can
// distinguish it from provider failure.
func ClassifyProvider(provider string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var classified *Error
	if errors.As(err, &classified) {
		return err
	}
	wrapped := Wrap(ClassProviderUnavailable, "provider call failed", err)
	var e *Error
	if errors.As(wrapped, &e) {
		e.WithContext("provider", provider)
	}
	return wrapped
}

// Package fault defines the error taxonomy shared by the memory subsystem.
// Callers classify failures with errors.Is against the sentinels below.
package fault

import (
	"errors"
	"fmt"
	"syscall"
)

var (
	// ErrValidation marks malformed input (bad role, bad identifier).
	// Nothing is persisted when a validation error is returned.
	ErrValidation = errors.New("validation error")

	// ErrCorruption marks an unparsable durable record. Corruption is
	// always scoped to a single record and never fatal to the store.
	ErrCorruption = errors.New("corrupt record")

	// ErrCapacity marks resource exhaustion (disk full). Existing durable
	// records remain intact; the failure is surfaced to the caller.
	ErrCapacity = errors.New("capacity exhausted")

	// ErrUnavailable marks an external service (embedding backend,
	// vector index) that stayed down through the retry budget.
	ErrUnavailable = errors.New("external service unavailable")

	// ErrNotFound marks a reference to a session, message or memory that
	// does not exist. Forget and Clear treat this as a no-op.
	ErrNotFound = errors.New("not found")
)

// Validationf wraps ErrValidation with context.
func Validationf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrValidation)...)
}

// Corruptionf wraps ErrCorruption with context.
func Corruptionf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrCorruption)...)
}

// Unavailablef wraps ErrUnavailable with context.
func Unavailablef(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrUnavailable)...)
}

// FromWriteError classifies a filesystem write failure. ENOSPC becomes a
// capacity error so callers can surface it without losing durable state.
func FromWriteError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, syscall.ENOSPC) {
		return fmt.Errorf("%s: %v: %w", op, err, ErrCapacity)
	}
	return fmt.Errorf("%s: %w", op, err)
}

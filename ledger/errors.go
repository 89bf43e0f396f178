/*
errors.go - Centralized error types for the ledger engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers classify outcomes with errors.Is/errors.As.

ERROR CATEGORIES:
  1. Validation errors - Deterministic rejections of the input. Never retried.
  2. Contention errors - Lock timeouts and write-write conflicts.
  3. Store errors - Persistence-level failures.

RETRY CONTRACT:
  - ErrConcurrentModification is retried internally a bounded number of
    times, then surfaced wrapped in ErrTransientFailure.
  - ErrLockTimeout is surfaced immediately; the caller decides whether to
    retry with its own backoff.
  - Validation errors are never retried anywhere.

SEE ALSO:
  - coordinator.go: Produces ErrLockTimeout
  - redeem.go: Produces InsufficientPointsError, retries conflicts
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidAmount is returned for non-positive amounts or redemption
	// amounts outside the configured bounds.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInsufficientPoints is returned when the eligible balance is smaller
	// than the requested redemption. No writes have happened.
	ErrInsufficientPoints = errors.New("insufficient points")

	// ErrUserNotFound is returned when a referenced user doesn't exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrBatchNotFound is returned when a referenced batch doesn't exist.
	ErrBatchNotFound = errors.New("batch not found")

	// ErrConcurrentModification is returned when an optimistic write detects
	// that a batch changed between read and update.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrLockTimeout is returned when the per-user lock could not be acquired
	// in time. Not retried internally.
	ErrLockTimeout = errors.New("lock acquisition timed out")

	// ErrTransientFailure wraps a contention failure that exhausted the
	// internal retry budget. Safe for the caller to retry.
	ErrTransientFailure = errors.New("transient failure")

	// ErrInvalidFraction is returned when a refund fraction is outside (0,1].
	ErrInvalidFraction = errors.New("refund fraction must be in (0, 1]")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientPointsError provides details about a balance shortage.
type InsufficientPointsError struct {
	UserID    UserID
	Available Points
	Requested Points
}

func (e *InsufficientPointsError) Error() string {
	return fmt.Sprintf("insufficient points: available %d, requested %d, shortfall %d",
		e.Available, e.Requested, e.Requested-e.Available)
}

func (e *InsufficientPointsError) Unwrap() error { return ErrInsufficientPoints }

// InvalidAmountError explains why an amount was rejected.
type InvalidAmountError struct {
	Amount Points
	Min    Points
	Max    Points
	Reason string
}

func (e *InvalidAmountError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("invalid amount %d: %s", e.Amount, e.Reason)
	}
	return fmt.Sprintf("invalid amount %d: must be within [%d, %d]", e.Amount, e.Min, e.Max)
}

func (e *InvalidAmountError) Unwrap() error { return ErrInvalidAmount }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on a caller retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransientFailure) ||
		errors.Is(err, ErrLockTimeout) ||
		errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is a deterministic outcome of the
// input rather than of contention.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInsufficientPoints) ||
		errors.Is(err, ErrInvalidFraction)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, ErrBatchNotFound)
}

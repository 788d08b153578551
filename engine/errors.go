/*
errors.go - Centralized error types for the engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Every failure the engine reports is a recoverable validation failure
  that the presentation layer turns into a visible notification.

ERROR CATEGORIES:
  1. Session errors - AlreadyActive, AlreadyCompleted, UnknownTask
  2. Withdrawal errors - amount bounds, destination, balance, NotPending
  3. Lookup errors - UnknownUser, UnknownWithdrawal
  4. Moderation errors - duplicate usernames, invalid tasks/settings
  5. Persistence errors - StaleSnapshot (another process saved first)

Duplicate or late events (a tick after completion, a cancel after a
cancel) are NOT errors. They are reported as no-op outcomes.

USAGE:
  if errors.Is(err, engine.ErrInsufficientBalance) {
      var ib *engine.InsufficientBalanceError
      errors.As(err, &ib) // ib.Available, ib.Requested
  }
*/
package engine

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrAlreadyActive is returned when a user starts a task while another is running.
	ErrAlreadyActive = errors.New("a task session is already active")

	// ErrAlreadyCompleted is returned when a user starts a task they were already paid for.
	ErrAlreadyCompleted = errors.New("task already completed")

	// ErrUnknownTask is returned when a task id does not resolve.
	ErrUnknownTask = errors.New("unknown task")

	// ErrUnknownUser is returned when a user id does not resolve.
	ErrUnknownUser = errors.New("unknown user")

	// ErrInvalidAmount is returned for zero, negative or sub-cent amounts.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrBelowMinimum is returned when a withdrawal is under the configured minimum.
	ErrBelowMinimum = errors.New("amount below minimum withdrawal")

	// ErrAboveMaximum is returned when a withdrawal is over the configured maximum.
	ErrAboveMaximum = errors.New("amount above maximum withdrawal")

	// ErrMissingDestination is returned when neither method nor account is given.
	ErrMissingDestination = errors.New("missing payout destination")

	// ErrInsufficientBalance is returned when a debit exceeds the balance.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrNotPending is returned when deciding a withdrawal that was already decided.
	ErrNotPending = errors.New("withdrawal is not pending")

	// ErrUnknownWithdrawal is returned when a withdrawal id does not resolve.
	ErrUnknownWithdrawal = errors.New("unknown withdrawal")

	// ErrDuplicateUsername is returned when registering a taken username.
	ErrDuplicateUsername = errors.New("username already exists")

	// ErrInvalidUser is returned when a username or password secret is blank.
	ErrInvalidUser = errors.New("invalid user")

	// ErrInvalidTask is returned when a task draft fails validation.
	ErrInvalidTask = errors.New("invalid task")

	// ErrInvalidSettings is returned for negative withdrawal limits.
	ErrInvalidSettings = errors.New("invalid settings")

	// ErrInvalidDecision is returned for a decision other than approve or reject.
	ErrInvalidDecision = errors.New("invalid decision")

	// ErrForbidden is returned when an actor may not perform an operation.
	ErrForbidden = errors.New("operation not permitted")

	// ErrStaleSnapshot is returned by a Persister when the stored snapshot
	// was saved by someone else after this copy was loaded.
	ErrStaleSnapshot = errors.New("stored snapshot changed since it was loaded")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientBalanceError provides details about a balance shortage.
type InsufficientBalanceError struct {
	UserID    UserID
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: available %s, requested %s",
		e.Available.StringFixed(MinorUnitPlaces), e.Requested.StringFixed(MinorUnitPlaces))
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// LimitError reports which withdrawal limit was violated.
type LimitError struct {
	Limit     decimal.Decimal
	Requested decimal.Decimal
	Below     bool
}

func (e *LimitError) Error() string {
	if e.Below {
		return fmt.Sprintf("amount %s is below the minimum of %s",
			e.Requested.StringFixed(MinorUnitPlaces), e.Limit.StringFixed(MinorUnitPlaces))
	}
	return fmt.Sprintf("amount %s exceeds the maximum of %s",
		e.Requested.StringFixed(MinorUnitPlaces), e.Limit.StringFixed(MinorUnitPlaces))
}

func (e *LimitError) Unwrap() error {
	if e.Below {
		return ErrBelowMinimum
	}
	return ErrAboveMaximum
}

// TaskValidationError names the task field that failed validation.
type TaskValidationError struct {
	Field  string
	Reason string
}

func (e *TaskValidationError) Error() string {
	return fmt.Sprintf("invalid task: %s %s", e.Field, e.Reason)
}

func (e *TaskValidationError) Unwrap() error {
	return ErrInvalidTask
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrBelowMinimum) ||
		errors.Is(err, ErrAboveMaximum) ||
		errors.Is(err, ErrMissingDestination) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrInvalidUser) ||
		errors.Is(err, ErrInvalidTask) ||
		errors.Is(err, ErrInvalidDecision) ||
		errors.Is(err, ErrInvalidSettings)
}

// IsConflict returns true if the error reflects the current state rather
// than the request itself.
func IsConflict(err error) bool {
	return errors.Is(err, ErrAlreadyActive) ||
		errors.Is(err, ErrAlreadyCompleted) ||
		errors.Is(err, ErrNotPending) ||
		errors.Is(err, ErrDuplicateUsername) ||
		errors.Is(err, ErrStaleSnapshot)
}

// IsNotFound returns true if the error indicates a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrUnknownUser) ||
		errors.Is(err, ErrUnknownTask) ||
		errors.Is(err, ErrUnknownWithdrawal)
}

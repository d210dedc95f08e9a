/*
errors.go - Centralized error types for the leave core

PURPOSE:
  All error types in one place. Callers branch on sentinels with
  errors.Is() and extract context with errors.As().

ERROR CATEGORIES:
  1. Validation errors  - malformed input, nothing was written
  2. Authorization      - actor lacks the required role/department scope
  3. Balance errors     - requested days exceed the available balance
  4. Conflict errors    - concurrent mutation detected, retryable
  5. Policy errors      - attempted edit of a fixed-allocation balance
  6. Persistence errors - store failure after retries were exhausted

ATOMICITY CONTRACT:
  Every public operation that returns one of these errors leaves the store
  exactly as it was before the call. Partial transitions are never visible.

SEE ALSO:
  - workflow.go, ledger.go: Produce these errors
  - api/handlers.go: Maps them to HTTP status codes
*/
package leave

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned for malformed input. Fully correctable by
	// the caller; no write was performed.
	ErrValidation = errors.New("validation failed")

	// ErrAuthorization is returned when the actor lacks the role or
	// department scope the operation requires. Not retryable.
	ErrAuthorization = errors.New("not authorized")

	// ErrInsufficientBalance is returned when a debit or a capped-type
	// submission would take a balance below zero.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrStateConflict is returned after internal retries are exhausted on
	// a concurrently mutated application or balance. The caller may retry
	// the whole operation against refreshed state.
	ErrStateConflict = errors.New("state conflict")

	// ErrPolicy is returned when an operation violates allotment policy,
	// e.g. adjusting a fixed-allocation balance. Not retryable.
	ErrPolicy = errors.New("policy violation")

	// ErrPersistence is returned when the store fails for reasons other
	// than a version conflict. Logged with full context, never swallowed.
	ErrPersistence = errors.New("persistence failure")

	// ErrApplicationNotFound is returned when the referenced application
	// does not exist.
	ErrApplicationNotFound = errors.New("application not found")

	// ErrLeaveTypeNotFound is returned when the referenced leave type does
	// not exist.
	ErrLeaveTypeNotFound = errors.New("leave type not found")

	// ErrVersionConflict is the store-level signal that a versioned write
	// lost a race. Workflow and Ledger retry on it; it never escapes a
	// public operation.
	ErrVersionConflict = errors.New("version conflict")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError describes which input field failed and why.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// AuthorizationError names the actor and the rule that denied them.
type AuthorizationError struct {
	ActorID string
	Rule    string
	Reason  string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("actor %s not authorized: %s (%s)", e.ActorID, e.Reason, e.Rule)
}

func (e *AuthorizationError) Unwrap() error { return ErrAuthorization }

// InsufficientBalanceError details a balance shortage.
type InsufficientBalanceError struct {
	Key       BalanceKey
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for %s/%s/%d: available %s, requested %s",
		e.Key.UserID, e.Key.LeaveTypeID, e.Key.Year, e.Available, e.Requested)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// Shortfall returns how many days short the balance is.
func (e *InsufficientBalanceError) Shortfall() decimal.Decimal {
	return e.Requested.Sub(e.Available)
}

// StateConflictError reports the status the application actually held when
// a transition was refused.
type StateConflictError struct {
	ApplicationID string
	Status        Status
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("application %s mutated concurrently, now %s", e.ApplicationID, e.Status)
}

func (e *StateConflictError) Unwrap() error { return ErrStateConflict }

// PolicyError reports an allotment-policy violation.
type PolicyError struct {
	LeaveTypeID string
	Reason      string
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("policy violation on leave type %s: %s", e.LeaveTypeID, e.Reason)
}

func (e *PolicyError) Unwrap() error { return ErrPolicy }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the whole operation might succeed when retried
// against refreshed state.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStateConflict) || errors.Is(err, ErrVersionConflict)
}

// IsClientError returns true if the error is due to the caller's input or
// authority rather than a system fault.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrAuthorization) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrPolicy)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrApplicationNotFound) ||
		errors.Is(err, ErrLeaveTypeNotFound)
}

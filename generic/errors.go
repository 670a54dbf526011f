/*
errors.go - Centralized error types for the billing engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Domain code wraps these errors with additional context; the API maps
  them to HTTP statuses with the helpers at the bottom of this file.

ERROR CATEGORIES:
  1. Ledger errors - Entry persistence failures
  2. Validation errors - Business rule violations
  3. Lookup errors - Missing policies and contacts

USAGE:
    if errors.Is(err, generic.ErrPolicyNotFound) {
        writeError(w, http.StatusNotFound, "Policy not found!", err)
    }

SEE ALSO:
  - ledger.go: Uses these errors
  - billing/accounting.go: Wraps these errors with policy context
  - api/handlers.go: Maps them to HTTP statuses
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrDuplicateIdempotencyKey is returned when an entry with the same
	// idempotency key already exists. This is expected behavior for retries.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrPolicyNotFound is returned when a referenced policy doesn't exist.
	ErrPolicyNotFound = errors.New("policy not found")

	// ErrContactNotFound is returned when a referenced contact doesn't exist.
	ErrContactNotFound = errors.New("contact not found")

	// ErrUnknownSchedule is returned when a billing schedule name is not one
	// of the supported schedules.
	ErrUnknownSchedule = errors.New("unknown billing schedule")

	// ErrMissingNamedInsured is returned when a payment has no payer and the
	// policy has no named insured to default to.
	ErrMissingNamedInsured = errors.New("policy has no named insured")

	// ErrInvalidAmount is returned for non-positive payments and negative premiums.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrNotCancelable is returned when a cancellation is requested but the
	// policy does not meet any cancellation condition.
	ErrNotCancelable = errors.New("policy cannot be canceled")

	// ErrPolicyCanceled is returned when an operation requires an active policy.
	ErrPolicyCanceled = errors.New("policy is canceled")

	// ErrInvalidFixture is returned when seed data is malformed.
	ErrInvalidFixture = errors.New("invalid fixture")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// UnknownScheduleError names the schedule that failed to parse.
type UnknownScheduleError struct {
	Name string
}

func (e *UnknownScheduleError) Error() string {
	return fmt.Sprintf("unknown billing schedule %q", e.Name)
}

func (e *UnknownScheduleError) Unwrap() error {
	return ErrUnknownSchedule
}

// NotCancelableError reports the date a cancellation was evaluated for.
type NotCancelableError struct {
	PolicyID PolicyID
	At       TimePoint
	Balance  Money
}

func (e *NotCancelableError) Error() string {
	return fmt.Sprintf("policy %s cannot be canceled on %s (balance %s)",
		e.PolicyID, e.At, e.Balance)
}

func (e *NotCancelableError) Unwrap() error {
	return ErrNotCancelable
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrUnknownSchedule) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrMissingNamedInsured) ||
		errors.Is(err, ErrInvalidFixture)
}

// IsConflict returns true if the request clashes with the current state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrNotCancelable) ||
		errors.Is(err, ErrPolicyCanceled) ||
		errors.Is(err, ErrDuplicateIdempotencyKey)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPolicyNotFound) ||
		errors.Is(err, ErrContactNotFound)
}

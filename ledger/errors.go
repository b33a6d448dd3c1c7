/*
errors.go - Centralized error taxonomy for the ledger engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers classify failures with errors.Is against the sentinels or with
  the helper predicates at the bottom.

ERROR CATEGORIES:
  1. Validation errors     - Caller input violates a business rule
  2. Not-found errors      - Referenced order/payment/client is absent
  3. Precondition errors   - A stateful guard rejected the operation
  4. Transient conflicts   - The store's retry budget was exhausted
  5. Storage failures      - The underlying store is unavailable

PROPAGATION POLICY:
  Business-rule checks run before any write inside the transaction; a
  failed check aborts the transaction with no side effects. Only
  ErrTransientConflict may be retried automatically by the store, a
  bounded number of times, before it is surfaced.
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned when caller-supplied input violates a
	// business rule. Always returned before any write.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when a referenced order, payment or client
	// does not exist at transaction time.
	ErrNotFound = errors.New("not found")

	// ErrPreconditionFailed is returned when a stateful precondition is
	// violated, e.g. deleting an order that has payments.
	ErrPreconditionFailed = errors.New("precondition failed")

	// ErrTransientConflict is returned when the transactional retry budget
	// was exhausted under contention. Safe for the caller to retry the
	// whole operation.
	ErrTransientConflict = errors.New("transient conflict")

	// ErrStorageFailure is returned when the underlying store is
	// unavailable. No partial state is left behind.
	ErrStorageFailure = errors.New("storage failure")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// OverpaymentError reports a confirmed open-balance payment that exceeds
// the remaining balance.
type OverpaymentError struct {
	OrderID OrderID
	Amount  decimal.Decimal
	Balance decimal.Decimal
}

func (e *OverpaymentError) Error() string {
	return fmt.Sprintf("payment of $%s exceeds remaining balance of $%s on order %s",
		e.Amount, e.Balance, e.OrderID)
}

func (e *OverpaymentError) Unwrap() error { return ErrValidation }

// NotFoundError identifies what was missing.
type NotFoundError struct {
	Kind string // "order", "payment", "client"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// PreconditionError explains which guard rejected the operation.
type PreconditionError struct {
	Message string
}

func (e *PreconditionError) Error() string { return e.Message }

func (e *PreconditionError) Unwrap() error { return ErrPreconditionFailed }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransientConflict)
}

// IsClientError returns true if the error is due to invalid caller input
// or a violated precondition, as opposed to an engine/store fault.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrPreconditionFailed)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

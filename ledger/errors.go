/*
errors.go - Centralized error types for the ledger engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Domain packages wrap these errors with additional context.

ERROR CATEGORIES:
  1. Validation errors - Malformed or incomplete movements, rejected
     before any write. Fully recoverable by supplying correct data.
  2. Conflict errors - Idempotency guards tripped. Not a failure of the
     system: a signal that the work was already done.
  3. Reconciliation errors - Inconsistencies found by sweeps. Surfaced
     as warnings, never auto-corrected.
  4. FX errors - Rate unavailable; settlement degrades to the latest
     known rate rather than blocking.

USAGE:
  if errors.Is(err, ledger.ErrAlreadyPaid) {
      // no-op for the caller, nothing was double-posted
  }

SEE ALSO:
  - ledger.go: Append validation producing ValidationError
  - payments/settlement.go: AlreadyPaidError on duplicate settlement
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
	// ErrValidation is the root of all pre-write rejections.
	ErrValidation = errors.New("movement validation failed")

	// ErrAccountNotFound is returned when a movement references an
	// unknown account.
	ErrAccountNotFound = errors.New("account not found")

	// ErrAccountInactive is returned when a movement targets a disabled
	// account.
	ErrAccountInactive = errors.New("account is inactive")

	// ErrAlreadyPaid is returned when a settlement is attempted on a
	// payment that is already PAID. Expected behavior for retries.
	ErrAlreadyPaid = errors.New("payment already paid")

	// ErrDuplicateIdempotencyKey is returned when a movement with the
	// same idempotency key already exists.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrFxUnavailable is returned when no exchange rate is resolvable
	// for a date. Callers generally degrade to the latest known rate.
	ErrFxUnavailable = errors.New("exchange rate unavailable")

	// ErrInsufficientData is returned when a settlement cannot compute
	// an ARS equivalent at all (no stored rates, no fallback).
	ErrInsufficientData = errors.New("insufficient data to settle payment")

	// ErrPaymentNotFound is returned when a settlement references an
	// unknown payment.
	ErrPaymentNotFound = errors.New("payment not found")

	// ErrOperationNotFound is returned when a debt query references an
	// unknown operation.
	ErrOperationNotFound = errors.New("operation not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError reports why a movement was rejected before any write.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid movement: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// AlreadyPaidError reports a tripped idempotency guard with enough
// context for the caller to locate the original settlement.
type AlreadyPaidError struct {
	PaymentID  string
	MovementID MovementID
}

func (e *AlreadyPaidError) Error() string {
	return fmt.Sprintf("payment %s already paid (movement %s)", e.PaymentID, e.MovementID)
}

func (e *AlreadyPaidError) Unwrap() error { return ErrAlreadyPaid }

// FxUnavailableError reports the date a rate was requested for.
type FxUnavailableError struct {
	Date string
}

func (e *FxUnavailableError) Error() string {
	return fmt.Sprintf("no exchange rate on or before %s", e.Date)
}

func (e *FxUnavailableError) Unwrap() error { return ErrFxUnavailable }

// OrphanedMovementError identifies a movement that carries a payment
// reference with no payment row pointing back (a settlement whose
// status flip failed after the ledger write). Found by reconciliation
// sweeps; never auto-corrected, since fabricating a compensating entry
// could misstate the audit trail.
type OrphanedMovementError struct {
	MovementID  MovementID
	OperationID OperationID
	Amount      decimal.Decimal
	Currency    Currency
}

func (e *OrphanedMovementError) Error() string {
	return fmt.Sprintf("orphaned movement %s (operation %s, %s %s): no payment links back",
		e.MovementID, e.OperationID, e.Amount, e.Currency)
}

// DanglingPaymentLinkError identifies a PAID payment whose
// ledger_movement_id is missing or points at no movement.
type DanglingPaymentLinkError struct {
	PaymentID  string
	MovementID MovementID
}

func (e *DanglingPaymentLinkError) Error() string {
	return fmt.Sprintf("payment %s marked PAID with dangling movement link %q", e.PaymentID, e.MovementID)
}

// =============================================================================
// ERROR HELPERS - For HTTP status mapping
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsConflict returns true for idempotency-guard errors: the work was
// already done and nothing was double-posted.
func IsConflict(err error) bool {
	return errors.Is(err, ErrAlreadyPaid) ||
		errors.Is(err, ErrDuplicateIdempotencyKey)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrPaymentNotFound) ||
		errors.Is(err, ErrOperationNotFound)
}

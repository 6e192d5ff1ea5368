/*
errors.go - Centralized error types for the rollup engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers match with errors.Is/errors.As.

ERROR CATEGORIES:
  1. Validation errors - malformed input, rejected before any mutation
  2. Reference errors  - trader/commodity could not be resolved or created
  3. Lifecycle errors  - missing or already-cancelled receipts
  4. Consistency errors - a revert would drive a rollup counter negative

PROPAGATION:
  Every rollup-affecting error aborts the enclosing database transaction.
  Callers never observe a partial revert/reapply pair. The engine performs
  no internal retries: retrying a non-idempotent financial write without
  caller involvement risks duplication.
*/
package rollup

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrReceiptNotFound is returned when an update/cancel target does not exist.
	ErrReceiptNotFound = errors.New("receipt not found")

	// ErrReceiptCancelled is returned when an operation targets a receipt that
	// has already been cancelled. A second cancel is never a double-decrement.
	ErrReceiptCancelled = errors.New("receipt already cancelled")

	// ErrRollupNotFound is returned by point reads of a rollup row that has
	// never received a contribution.
	ErrRollupNotFound = errors.New("rollup row not found")

	// ErrValidation is the root of all input validation failures.
	ErrValidation = errors.New("validation failed")

	// ErrReferenceResolution is the root of trader/commodity resolution failures.
	ErrReferenceResolution = errors.New("reference resolution failed")

	// ErrConsistencyViolation is returned when a revert would drive a rollup
	// counter negative. The operation aborts; clamping to zero would silently
	// corrupt the ledger/rollup invariant.
	ErrConsistencyViolation = errors.New("rollup consistency violation")

	// ErrTargetNotFound is returned when no active target exists for a scope.
	ErrTargetNotFound = errors.New("target not found")

	// ErrDuplicateReceipt is returned when a single insert collides with an
	// existing (committee, book number, receipt number). Batch inserts skip
	// duplicates instead.
	ErrDuplicateReceipt = errors.New("duplicate receipt number")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError reports a malformed or out-of-range input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// ReferenceResolutionError reports a trader/commodity that could not be
// looked up or created inside the enclosing transaction.
type ReferenceResolutionError struct {
	Kind string // "trader" or "commodity"
	Name string
	Err  error
}

func (e *ReferenceResolutionError) Error() string {
	return fmt.Sprintf("cannot resolve %s %q: %v", e.Kind, e.Name, e.Err)
}

func (e *ReferenceResolutionError) Unwrap() error { return ErrReferenceResolution }

// ConsistencyError reports the rollup row and counter a revert would have
// driven negative. Internal assertion, fatal to the operation.
type ConsistencyError struct {
	Key     string // RollupKey.String()
	Counter string
	Result  decimal.Decimal
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("revert would drive %s on %s negative (%s)", e.Counter, e.Key, e.Result)
}

func (e *ConsistencyError) Unwrap() error { return ErrConsistencyViolation }

/*
errors.go - Centralized error kinds for the engine

PURPOSE:
  Every contract in the registration, disbursement and notification packages
  returns one of a small set of error kinds to its immediate caller. Kinds
  are typed outcomes, not exceptions: the HTTP layer maps them to status
  codes and tests assert on them with errors.Is.

ERROR KINDS:
  invalid_amount        Non-positive or malformed monetary value
  missing_field         Mandatory field absent (title, region, reason...)
  invalid_value         Field present but not one of the accepted values
  missing_evidence      Payment action without proof references
  invalid_transition    Workflow transition not allowed from current state
  duplicate_transaction Transaction ID already owned by another record
  not_found             Referenced record does not exist
  conflict              Concurrent modification (retryable)
  forbidden             Actor role not allowed by workflow policy

USAGE:
  if errors.Is(err, generic.ErrInvalidTransition) {
      // second approve on an approved request
  }
  switch generic.KindOf(err) { ... }

NOTE:
  Pricing and aggregation are total functions and never return errors.
  Their "no rule" / "Unknown" outcomes are reported as data.

SEE ALSO:
  - api/handlers.go: statusForKind maps kinds to HTTP status
*/
package generic

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers.
type Kind string

const (
	KindInvalidAmount        Kind = "invalid_amount"
	KindMissingField         Kind = "missing_field"
	KindInvalidValue         Kind = "invalid_value"
	KindMissingEvidence      Kind = "missing_evidence"
	KindInvalidTransition    Kind = "invalid_transition"
	KindDuplicateTransaction Kind = "duplicate_transaction"
	KindNotFound             Kind = "not_found"
	KindConflict             Kind = "conflict"
	KindForbidden            Kind = "forbidden"
	KindInternal             Kind = "internal"
)

// Error is the typed error returned by every domain contract.
type Error struct {
	Kind    Kind
	Op      string // operation, e.g. "approve"
	Field   string // offending field for missing_field / invalid_amount
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same Kind, so the kind sentinels below work
// with errors.Is regardless of message or field.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Message == "" && t.Field == ""
}

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrInvalidAmount        = &Error{Kind: KindInvalidAmount}
	ErrMissingField         = &Error{Kind: KindMissingField}
	ErrInvalidValue         = &Error{Kind: KindInvalidValue}
	ErrMissingEvidence      = &Error{Kind: KindMissingEvidence}
	ErrInvalidTransition    = &Error{Kind: KindInvalidTransition}
	ErrDuplicateTransaction = &Error{Kind: KindDuplicateTransaction}
	ErrNotFound             = &Error{Kind: KindNotFound}
	ErrForbidden            = &Error{Kind: KindForbidden}

	// ErrConcurrentModification is returned by stores when optimistic
	// locking detects a conflict. Services reload and retry.
	ErrConcurrentModification = &Error{Kind: KindConflict}
)

// =============================================================================
// CONSTRUCTORS
// =============================================================================

func InvalidAmount(op, field, message string) *Error {
	return &Error{Kind: KindInvalidAmount, Op: op, Field: field, Message: message}
}

func MissingField(op, field string) *Error {
	return &Error{Kind: KindMissingField, Op: op, Field: field, Message: field + " is required"}
}

func InvalidValue(op, field, message string) *Error {
	return &Error{Kind: KindInvalidValue, Op: op, Field: field, Message: message}
}

func MissingEvidence(op string) *Error {
	return &Error{Kind: KindMissingEvidence, Op: op, Field: "evidence", Message: "at least one evidence reference is required"}
}

func InvalidTransition(op string, from, to any) *Error {
	return &Error{Kind: KindInvalidTransition, Op: op, Message: fmt.Sprintf("cannot move from %v to %v", from, to)}
}

func NotFound(op, what, id string) *Error {
	return &Error{Kind: KindNotFound, Op: op, Message: fmt.Sprintf("%s %q not found", what, id)}
}

func Forbidden(op string, actor Actor) *Error {
	return &Error{Kind: KindForbidden, Op: op, Message: fmt.Sprintf("actor %s may not %s", actor, op)}
}

func DuplicateTransaction(op, txID, ownerID string) *Error {
	return &Error{
		Kind:    KindDuplicateTransaction,
		Op:      op,
		Field:   "transaction_id",
		Message: fmt.Sprintf("transaction %q already recorded on %s", txID, ownerID),
	}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// KindOf extracts the kind of err. Errors that carry no kind are internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input
// or an illegal request for the current state.
func IsClientError(err error) bool {
	switch KindOf(err) {
	case KindInvalidAmount, KindMissingField, KindInvalidValue, KindMissingEvidence,
		KindInvalidTransition, KindDuplicateTransaction, KindForbidden:
		return true
	}
	return false
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

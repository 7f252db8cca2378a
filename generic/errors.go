/*
errors.go - Centralized error taxonomy for the reservation engine

PURPOSE:
  Every attempt handled by the Manager resolves to exactly one of
  Committed, Rejected(kind) or Aborted. Rejections carry one of four
  business kinds; everything else (lock timeout, storage failure, panic)
  is Aborted and safe to retry with the same idempotency key.

ERROR KINDS:
  validation            malformed input, detected before any lock is taken
  not_found             unknown room, balance or commitment
  conflict              overlap with an active commitment or blackout window,
                        or a status transition the table does not allow
  insufficient_balance  requested days exceed remaining days
  aborted               transient infrastructure failure

USAGE:
  Structured errors match their kind's sentinel with errors.Is:

    if errors.Is(err, generic.ErrConflict) {
        var ce *generic.ConflictError
        errors.As(err, &ce)
    }

SEE ALSO:
  - manager.go: Classifies errors into terminal states
  - api/handlers.go: Maps kinds to HTTP status codes
*/
package generic

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation          = errors.New("validation failed")
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("conflict")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrAborted             = errors.New("aborted")

	// ErrLockTimeout is returned when the resource lock could not be obtained
	// within the bounded wait. Retryable.
	ErrLockTimeout = errors.New("lock acquisition timed out")

	// ErrDuplicateIdempotencyKey is returned by stores when the
	// (room, idempotency key) unique index rejects an insert.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrInvalidTransition is returned when the status transition table does
	// not allow the requested move.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// ErrorKind classifies an error for callers.
type ErrorKind string

const (
	KindValidation          ErrorKind = "validation"
	KindNotFound            ErrorKind = "not_found"
	KindConflict            ErrorKind = "conflict"
	KindInsufficientBalance ErrorKind = "insufficient_balance"
	KindAborted             ErrorKind = "aborted"
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError describes malformed input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// NotFoundError names the missing resource.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ConflictReason tells apart the ways a claim can collide.
type ConflictReason string

const (
	ConflictBookingOverlap  ConflictReason = "booking_overlap"
	ConflictBlackoutOverlap ConflictReason = "blackout_overlap"
	ConflictLeaveOverlap    ConflictReason = "leave_overlap"
	ConflictRoomInactive    ConflictReason = "room_inactive"
)

// ConflictError reports that the requested interval collides with an active
// commitment or an exclusion window.
type ConflictError struct {
	Resource      ResourceKey
	Reason        ConflictReason
	ConflictingID string
	Requested     Interval
}

func (e *ConflictError) Error() string {
	switch e.Reason {
	case ConflictBlackoutOverlap:
		return fmt.Sprintf("conflict: %s overlaps blackout window %s on %s", e.Requested, e.ConflictingID, e.Resource)
	case ConflictLeaveOverlap:
		return fmt.Sprintf("conflict: %s overlaps leave request %s", e.Requested, e.ConflictingID)
	case ConflictRoomInactive:
		return fmt.Sprintf("conflict: %s is not active", e.Resource)
	default:
		return fmt.Sprintf("conflict: %s overlaps booking %s on %s", e.Requested, e.ConflictingID, e.Resource)
	}
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// InsufficientBalanceError provides details about a balance shortage.
type InsufficientBalanceError struct {
	UserID    UserID
	PolicyID  PolicyID
	Remaining decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for %s/%s: remaining %s, requested %s",
		e.UserID, e.PolicyID, e.Remaining, e.Requested)
}

func (e *InsufficientBalanceError) Is(target error) bool { return target == ErrInsufficientBalance }

// InvalidTransitionError reports a status move the transition table forbids.
// It is a conflict with the commitment's current state.
type InvalidTransitionError struct {
	Kind CommitmentKind
	From string
	To   string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition for %s: %s -> %s", e.Kind, e.From, e.To)
}

func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrConflict || target == ErrInvalidTransition
}

// AbortedError wraps a transient failure. Nothing was committed.
type AbortedError struct {
	Op  string
	Err error
}

func (e *AbortedError) Error() string {
	return fmt.Sprintf("%s aborted: %v", e.Op, e.Err)
}

func (e *AbortedError) Unwrap() error { return e.Err }

func (e *AbortedError) Is(target error) bool { return target == ErrAborted }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// KindOf classifies err. Errors outside the taxonomy are reported as aborted.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrInsufficientBalance):
		return KindInsufficientBalance
	default:
		return KindAborted
	}
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return err != nil && KindOf(err) == KindAborted
}

// IsClientError returns true if the error is a terminal business rejection.
func IsClientError(err error) bool {
	switch KindOf(err) {
	case KindValidation, KindNotFound, KindConflict, KindInsufficientBalance:
		return true
	}
	return false
}

// ReadError classifies an error from a read path the same way Run does for
// mutations: business errors pass through, everything else becomes aborted.
func ReadError(op string, err error) error {
	if err == nil || IsClientError(err) {
		return err
	}
	var ae *AbortedError
	if errors.As(err, &ae) {
		return err
	}
	return &AbortedError{Op: op, Err: err}
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

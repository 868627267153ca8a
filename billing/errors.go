/*
errors.go - Centralized error types for the billing engine

PURPOSE:
  All error kinds in one place. Callers use errors.Is against the
  sentinels and errors.As to get the structured details.

ERROR CATEGORIES:
  1. Validation - missing trainer/month, seal not confirmed
  2. Not found - trainer or record missing
  3. Already sealed - re-seal attempt, rejected with no writes
  4. Partial failure - settlement persisted but stamping failed;
     recovered by Sealer.Resume, never by rolling the settlement back

SEE ALSO:
  - seal.go: Produces AlreadySealedError and PartialFailureError
  - api/handlers.go: Maps these to HTTP status codes
*/
package billing

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation = errors.New("validation failed")

	ErrNotFound = errors.New("not found")

	// ErrAlreadySealed is returned when sealing a (trainer, month) that is
	// already sealed. No records are touched.
	ErrAlreadySealed = errors.New("settlement already sealed")

	// ErrPartialFailure means the settlement row is sealed but some source
	// records were not stamped. Resume the seal; stamping is idempotent.
	ErrPartialFailure = errors.New("settlement sealed but stamping incomplete")

	// ErrNothingToSeal is returned when the computed total is not positive.
	ErrNothingToSeal = errors.New("nothing to seal: total is zero")

	// ErrConcurrentModification is returned when a record is already stamped
	// by a different settlement.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	ErrNotSealed = errors.New("settlement is not sealed")

	// ErrSealedDataPresent is returned by store resets once any settlement
	// is sealed. Sealed settlements are never deleted.
	ErrSealedDataPresent = errors.New("store holds sealed settlements")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

type NotFoundError struct {
	Kind string // "trainer", "session", "evaluation", "settlement"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

type AlreadySealedError struct {
	TrainerID    TrainerID
	Month        Month
	SettlementID SettlementID
	SealedAt     time.Time
}

func (e *AlreadySealedError) Error() string {
	return fmt.Sprintf("settlement %s for trainer %s in %s already sealed; refresh and review",
		e.SettlementID, e.TrainerID, e.Month)
}

func (e *AlreadySealedError) Unwrap() error { return ErrAlreadySealed }

// PartialFailureError reports which step of the seal failed after the
// settlement row was persisted.
type PartialFailureError struct {
	SettlementID SettlementID
	TrainerID    TrainerID
	Month        Month
	Step         string // "stamp_evaluations" or "stamp_sessions"
	Err          error
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("settlement %s sealed but %s failed: %v", e.SettlementID, e.Step, e.Err)
}

func (e *PartialFailureError) Unwrap() []error { return []error{ErrPartialFailure, e.Err} }

// StampConflictError is returned when a record carries another settlement's ref.
type StampConflictError struct {
	RecordKind   string
	RecordID     string
	ExistingRef  SettlementID
	RequestedRef SettlementID
}

func (e *StampConflictError) Error() string {
	return fmt.Sprintf("%s %s already stamped by settlement %s (wanted %s)",
		e.RecordKind, e.RecordID, e.ExistingRef, e.RequestedRef)
}

func (e *StampConflictError) Unwrap() error { return ErrConcurrentModification }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if re-running the same operation may succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrPartialFailure)
}

// IsClientError returns true if the error is due to caller input or state.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrAlreadySealed) ||
		errors.Is(err, ErrNothingToSeal) ||
		errors.Is(err, ErrNotSealed) ||
		errors.Is(err, ErrSealedDataPresent)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

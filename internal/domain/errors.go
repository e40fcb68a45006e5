package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the engine. Callers match them with errors.Is.
var (
	ErrNotFound   = errors.New("resource not found")
	ErrValidation = errors.New("validation error")

	// ErrGoldenRuleViolation blocks crediting without certified physical backing
	ErrGoldenRuleViolation = fmt.Errorf("%w: golden rule violation", ErrValidation)
	// ErrUnjustifiedVariance blocks approval of an off-tolerance allocation without notes
	ErrUnjustifiedVariance = errors.New("allocation variance requires justification notes")

	ErrAlreadyConfirmed  = errors.New("payment already confirmed")
	ErrAlreadyProcessed  = errors.New("already processed")
	ErrConflict          = errors.New("concurrent modification")
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrLedgerUpdateFailure wraps any failure of the atomic multi-ledger write
	ErrLedgerUpdateFailure = errors.New("ledger update failed")

	ErrInsufficientBalance    = errors.New("insufficient wallet balance")
	ErrInsufficientCashSafety = errors.New("insufficient cash-safety balance")
	ErrLockHeld               = errors.New("lock held by another operation")
)

// ValidationError reports a bad or missing field. Kind defaults to ErrValidation.
type ValidationError struct {
	Field   string
	Message string
	Kind    error
}

func (e *ValidationError) Error() string {
	prefix := "validation failed"
	if e.Kind != nil && e.Kind != ErrValidation {
		prefix = e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s %s", prefix, e.Field, e.Message)
}

// Unwrap exposes the sentinel kind to errors.Is
func (e *ValidationError) Unwrap() error {
	if e.Kind == nil {
		return ErrValidation
	}
	return e.Kind
}

// GoldenRule builds a Golden Rule violation for field
func GoldenRule(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message, Kind: ErrGoldenRuleViolation}
}

// IsValidation reports whether err is any kind of validation failure
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

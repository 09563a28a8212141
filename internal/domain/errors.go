package domain

import "errors"

// Validation failures, always wrapped in a ValidationError
var (
	ErrBelowMinimumSpend = errors.New("points below minimum boost spend")
	ErrUnknownEntity     = errors.New("unknown entity")
	ErrInvalidBundle     = errors.New("invalid bundle")
	ErrInvalidEntityType = errors.New("invalid entity type")
	ErrInvalidSource     = errors.New("invalid point source")
	ErrInvalidTier       = errors.New("invalid tier")
	ErrUnknownUser       = errors.New("unknown user")
	ErrUsernameTaken     = errors.New("username already exists")
	ErrKeyReused         = errors.New("idempotency key already used for a different boost")
)

// Expected user-facing conditions
var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrClaimTooEarly       = errors.New("daily points already claimed")
)

// ErrConflict is returned once concurrent-write retries are exhausted
var ErrConflict = errors.New("concurrent update conflict")

// ValidationError is an input error rejected before any write
type ValidationError struct {
	Field string // Offending input field
	Err   error  // Underlying reason
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Err.Error()
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Invalid builds a ValidationError
func Invalid(field string, err error) error {
	return &ValidationError{Field: field, Err: err}
}

// IsValidation reports whether err is a ValidationError
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

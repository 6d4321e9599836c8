package types

import "fmt"

// ValidationError describes a malformed field in an inbound frame
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ErrMissingRequiredField reports an absent required field
func ErrMissingRequiredField(field string) error {
	return &ValidationError{Field: field, Reason: "required field is missing"}
}

// ErrInvalidValue reports a present but unacceptable field value
func ErrInvalidValue(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidationError checks if an error is a ValidationError
func IsValidationError(err error) bool {
	_, ok := err.(*ValidationError)
	return ok
}

package schema

import (
	"errors"
	"fmt"
)

// ErrInvalid is wrapped by every validation failure so callers can test for
// it with errors.Is regardless of which field failed.
var ErrInvalid = errors.New("invalid record")

// ValidationError reports a single field that failed validation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalid
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

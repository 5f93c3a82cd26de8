package orders

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("orders: not found")
	ErrAlreadyExists     = errors.New("orders: already exists")
	ErrAlreadyPaid       = errors.New("orders: already paid")
	ErrSignatureMismatch = errors.New("orders: signature mismatch")
)

// ValidationError rejects an order before any signing or state change.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// IsValidation reports whether err is or wraps a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

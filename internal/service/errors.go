package service

import (
	"errors"
	"fmt"
)

// Business-rule and isolation failures surfaced by the core
// operations. These are not retryable; infrastructure errors from the
// repositories are wrapped and propagated separately.
var (
	ErrInvalidState         = errors.New("operation not allowed in current credit status")
	ErrNotFound             = errors.New("not found")
	ErrForbidden            = errors.New("access denied")
	ErrTenantMismatch       = errors.New("entity belongs to another institution")
	ErrDuplicateTransaction = errors.New("duplicate transaction reference")
	ErrActiveLoanExists     = errors.New("client already holds an active credit")
	ErrUnverified           = errors.New("client account is not verified")
)

// ValidationError reports a field whose value is out of range or
// malformed.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
}

func validationErr(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// IsBusinessError reports whether err is a business-rule violation
// rather than a transient infrastructure failure.
func IsBusinessError(err error) bool {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return true
	}
	for _, sentinel := range []error{
		ErrInvalidState, ErrNotFound, ErrForbidden, ErrTenantMismatch,
		ErrDuplicateTransaction, ErrActiveLoanExists, ErrUnverified,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

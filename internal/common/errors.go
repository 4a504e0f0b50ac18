package common

import (
	"errors"
	"fmt"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Common application errors
var (
	// ErrNotFound means the requested job row does not exist.
	ErrNotFound = errors.New("resource not found")
	// ErrConflict means a guarded write lost its race: the status did not
	// match the expected value, or the payload slot was already set. Callers
	// recover locally (skip or abandon); it never reaches clients.
	ErrConflict = errors.New("conflicting concurrent update")
	// ErrValidation means a malformed creation request; surfaced
	// synchronously to the intake caller, never enqueued.
	ErrValidation = errors.New("validation failed")
	ErrInternal   = errors.New("internal error")
	ErrDatabase   = errors.New("database error")
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// ValidationErrorf builds a request-validation error with a formatted message.
func ValidationErrorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

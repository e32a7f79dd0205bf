package batch

import (
	"errors"
	"fmt"
)

// Sentinel errors for the job contract. Handlers map these onto
// HTTP status codes.
var (
	ErrNotFound     = errors.New("job not found")
	ErrInvalidState = errors.New("job is in a terminal state")
	ErrCancelled    = errors.New("Cancelled by user")
)

// ValidationError rejects a job request before any work is queued
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Validationf builds a ValidationError from a format string
func Validationf(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a ValidationError
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// EvaluatorError records a failed run for a single assignment. The
// job continues; the failure is stored against the assignment's row.
type EvaluatorError struct {
	RunIndex int
	Err      error
}

func (e *EvaluatorError) Error() string {
	return fmt.Sprintf("evaluator failed for run %d: %v", e.RunIndex, e.Err)
}

func (e *EvaluatorError) Unwrap() error {
	return e.Err
}

package shared

import (
	"errors"
	"fmt"
)

// Error kinds used to classify failures at the transport boundary.
var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates malformed or out-of-range input.
	ErrValidation = errors.New("validation failed")
	// ErrBusinessRule indicates a request rejected by a domain rule.
	ErrBusinessRule = errors.New("business rule violated")
	// ErrConflict indicates a concurrent or duplicate request.
	ErrConflict = errors.New("conflict")
	// ErrUnavailable indicates a transient failure the caller may retry.
	ErrUnavailable = errors.New("temporarily unavailable")
)

// CodedError couples an error kind with a stable machine readable code.
type CodedError struct {
	Kind    error
	Code    string
	Message string
	Err     error
}

// NewCodedError builds a CodedError sentinel.
func NewCodedError(kind error, code, message string) *CodedError {
	return &CodedError{Kind: kind, Code: code, Message: message}
}

func (e *CodedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap exposes both the kind and the wrapped cause.
func (e *CodedError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// ErrorCode returns the stable code.
func (e *CodedError) ErrorCode() string { return e.Code }

// ValidationError wraps a validation message with ErrValidation.
func ValidationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// ErrIdempotencyConflict indicates a duplicate key claimed by an in-flight request.
var ErrIdempotencyConflict = NewCodedError(ErrConflict, "idempotency_conflict", "idempotent request already in progress")

// ErrIdempotencyKeyReused indicates a key already committed for a different resource.
var ErrIdempotencyKeyReused = NewCodedError(ErrConflict, "idempotency_key_reused", "idempotency key was already used for another resource")

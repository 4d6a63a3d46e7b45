package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeValidation         = "VALIDATION_ERROR"
	ErrCodeUnauthenticated    = "UNAUTHENTICATED"
	ErrCodePermissionDenied   = "PERMISSION_DENIED"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeConflict           = "CONFLICT"
	ErrCodeInvalidTransition  = "INVALID_TRANSITION"
	ErrCodeExecution          = "EXECUTION_ERROR"
	ErrCodeUnknownBehavior    = "UNKNOWN_BEHAVIOR"
	ErrCodeClientSideBehavior = "CLIENT_SIDE_BEHAVIOR"
	ErrCodeConfiguration      = "CONFIGURATION_ERROR"
	ErrCodeStore              = "STORE_ERROR"
)

// FlowError is the structured error type for all flowkit operations.
type FlowError struct {
	Code         string         `json:"code"`
	Message      string         `json:"message"`
	Details      map[string]any `json:"details,omitempty"`
	BehaviorType string         `json:"behavior_type,omitempty"`
	Cause        error          `json:"-"`
}

func (e *FlowError) Error() string {
	if e.BehaviorType != "" {
		return fmt.Sprintf("[%s] behavior %s: %s", e.Code, e.BehaviorType, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *FlowError) Unwrap() error {
	return e.Cause
}

// NewError creates a new FlowError.
func NewError(code, message string) *FlowError {
	return &FlowError{Code: code, Message: message}
}

// NewErrorf creates a new FlowError with a formatted message.
func NewErrorf(code, format string, args ...any) *FlowError {
	return &FlowError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithBehavior attaches a behavior type to the error.
func (e *FlowError) WithBehavior(behaviorType string) *FlowError {
	e.BehaviorType = behaviorType
	return e
}

// WithCause attaches an underlying cause.
func (e *FlowError) WithCause(err error) *FlowError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *FlowError) WithDetails(details map[string]any) *FlowError {
	e.Details = details
	return e
}

// CodeOf returns the code of the first FlowError in err's chain, or "" if none.
func CodeOf(err error) string {
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

// IsNotFound reports whether err carries ErrCodeNotFound.
func IsNotFound(err error) bool {
	return CodeOf(err) == ErrCodeNotFound
}

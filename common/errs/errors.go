package errs

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	// Data source errors
	ErrorTypeNetwork  ErrorType = "network"
	ErrorTypeTimeout  ErrorType = "timeout"
	ErrorTypeNotFound ErrorType = "not_found"
	ErrorTypeDecoding ErrorType = "decoding"

	// Caller input errors
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeConfig     ErrorType = "config"

	// Job errors
	ErrorTypeStorage   ErrorType = "storage"
	ErrorTypeExecution ErrorType = "execution"
	ErrorTypeCancelled ErrorType = "cancelled"
)

// TraceError is an error with a category and structured context.
type TraceError struct {
	Type      ErrorType
	Message   string
	Cause     error
	Context   map[string]interface{}
	Timestamp time.Time
}

// Error implements the error interface
func (e *TraceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap implements the error unwrapping interface
func (e *TraceError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a TraceError of the same type.
func (e *TraceError) Is(target error) bool {
	var targetErr *TraceError
	if errors.As(target, &targetErr) {
		return e.Type == targetErr.Type
	}
	return false
}

// AddContext adds contextual information to the error
func (e *TraceError) AddContext(key string, value interface{}) *TraceError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// Flags renders the error as a flat list of failure flags suitable for
// persisting on a job record. The first flag is always the error type.
func (e *TraceError) Flags() []string {
	flags := []string{string(e.Type), e.Error()}
	keys := make([]string, 0, len(e.Context))
	for k := range e.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		flags = append(flags, fmt.Sprintf("%s=%v", k, e.Context[k]))
	}
	return flags
}

// New creates a new TraceError
func New(errType ErrorType, message string) *TraceError {
	return &TraceError{
		Type:      errType,
		Message:   message,
		Timestamp: time.Now(),
		Context:   make(map[string]interface{}),
	}
}

// Wrap wraps an existing error with a TraceError
func Wrap(errType ErrorType, message string, cause error) *TraceError {
	return &TraceError{
		Type:      errType,
		Message:   message,
		Cause:     cause,
		Timestamp: time.Now(),
		Context:   make(map[string]interface{}),
	}
}

// NewValidationError creates a caller input error for the given field.
func NewValidationError(field, message string) *TraceError {
	return New(ErrorTypeValidation, message).AddContext("field", field)
}

// NewNetworkError creates a data source transport error.
func NewNetworkError(message string, cause error) *TraceError {
	return Wrap(ErrorTypeNetwork, message, cause)
}

// NewConfigError creates a configuration error for the given field.
func NewConfigError(field, message string) *TraceError {
	return New(ErrorTypeConfig, message).AddContext("field", field)
}

// TypeOf returns the category of err, or ErrorTypeExecution when err does not
// carry one.
func TypeOf(err error) ErrorType {
	var te *TraceError
	if errors.As(err, &te) {
		return te.Type
	}
	return ErrorTypeExecution
}

// IsRetryable reports whether err belongs to a transient category.
func IsRetryable(err error) bool {
	switch TypeOf(err) {
	case ErrorTypeNetwork, ErrorTypeTimeout:
		return true
	}
	return false
}

// FlagsOf converts any error to failure flags.
func FlagsOf(err error) []string {
	if err == nil {
		return nil
	}
	var te *TraceError
	if errors.As(err, &te) {
		return te.Flags()
	}
	return []string{string(ErrorTypeExecution), err.Error()}
}

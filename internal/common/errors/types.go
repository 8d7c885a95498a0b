package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// ErrTypeConnection represents connection-related errors
	ErrTypeConnection ErrorType = "connection"
	// ErrTypeTimeout represents timeout errors
	ErrTypeTimeout ErrorType = "timeout"
	// ErrTypeValidation represents validation errors
	ErrTypeValidation ErrorType = "validation"
	// ErrTypeConfig represents configuration errors
	ErrTypeConfig ErrorType = "config"
	// ErrTypeNotFound represents resource not found errors
	ErrTypeNotFound ErrorType = "not_found"
	// ErrTypeContention represents lock contention, kept distinct from
	// infrastructure failures so operators can tell "busy" from "broken"
	ErrTypeContention ErrorType = "contention"
	// ErrTypeUpstream represents supplier/upstream 5xx-equivalent failures
	ErrTypeUpstream ErrorType = "upstream"
	// ErrTypeInternal represents internal system errors
	ErrTypeInternal ErrorType = "internal"
)

// AppError is a structured application error carrying an explicit
// retryability discriminant. The retry engine consults Retryable rather
// than inferring behavior from error classes.
type AppError struct {
	Type      ErrorType              `json:"type"`
	Message   string                 `json:"message"`
	Code      string                 `json:"code,omitempty"`
	Cause     error                  `json:"-"`
	Retryable bool                   `json:"retryable"`
	Context   map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	parts := []string{string(e.Type), e.Message}

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("code=%s", e.Code))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause=%v", e.Cause))
	}

	if len(e.Context) > 0 {
		contextParts := make([]string, 0, len(e.Context))
		for k, v := range e.Context {
			contextParts = append(contextParts, fmt.Sprintf("%s=%v", k, v))
		}
		parts = append(parts, fmt.Sprintf("context={%s}", strings.Join(contextParts, ", ")))
	}

	return strings.Join(parts, ": ")
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithCode adds an error code
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

// ConnectionError creates a retryable connection error
func ConnectionError(msg string, cause error) *AppError {
	return &AppError{
		Type:      ErrTypeConnection,
		Message:   msg,
		Cause:     cause,
		Retryable: true,
	}
}

// TimeoutError creates a retryable timeout error
func TimeoutError(operation string, cause error) *AppError {
	return &AppError{
		Type:      ErrTypeTimeout,
		Message:   fmt.Sprintf("timeout during %s", operation),
		Cause:     cause,
		Retryable: true,
	}
}

// UpstreamError creates a retryable upstream failure (5xx-equivalent)
func UpstreamError(msg string, cause error) *AppError {
	return &AppError{
		Type:      ErrTypeUpstream,
		Message:   msg,
		Cause:     cause,
		Retryable: true,
	}
}

// ValidationError creates a permanent validation error
func ValidationError(msg string) *AppError {
	return &AppError{
		Type:      ErrTypeValidation,
		Message:   msg,
		Retryable: false,
	}
}

// ConfigError creates a permanent configuration error
func ConfigError(msg string) *AppError {
	return &AppError{
		Type:      ErrTypeConfig,
		Message:   msg,
		Retryable: false,
	}
}

// NotFoundError creates a permanent not found error
func NotFoundError(resource string) *AppError {
	return &AppError{
		Type:      ErrTypeNotFound,
		Message:   fmt.Sprintf("%s not found", resource),
		Retryable: false,
	}
}

// ContentionError creates a lock contention error. Contention is not
// retryable at the retry-engine level: the acquire path already waited
// up to its own timeout.
func ContentionError(resource string) *AppError {
	return &AppError{
		Type:      ErrTypeContention,
		Message:   fmt.Sprintf("could not acquire lock for %s", resource),
		Code:      "LOCK_CONTENTION",
		Retryable: false,
	}
}

// InternalError creates a retryable internal error
func InternalError(msg string, cause error) *AppError {
	return &AppError{
		Type:      ErrTypeInternal,
		Message:   msg,
		Cause:     cause,
		Retryable: true,
	}
}

// IsRetryable reports whether an error is classified transient. Unknown
// error values (plain errors from third-party code) default to retryable
// so that infrastructure hiccups are not dropped on the floor; permanent
// classification must be explicit.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Retryable
	}

	return true
}

// IsType checks if an error is of a specific type
func IsType(err error, errType ErrorType) bool {
	if err == nil {
		return false
	}

	var appErr *AppError
	if !errors.As(err, &appErr) {
		return false
	}

	return appErr.Type == errType
}

// GetType returns the error type if it's an AppError, otherwise ErrTypeInternal
func GetType(err error) ErrorType {
	if err == nil {
		return ""
	}

	var appErr *AppError
	if !errors.As(err, &appErr) {
		return ErrTypeInternal
	}

	return appErr.Type
}

// Code returns the stable error code for an error, falling back to the
// error type when no explicit code was set. Terminal failed events carry
// this code so callers always observe a stable value.
func Code(err error) string {
	if err == nil {
		return ""
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		if appErr.Code != "" {
			return appErr.Code
		}
		return strings.ToUpper(string(appErr.Type))
	}

	return "INTERNAL"
}

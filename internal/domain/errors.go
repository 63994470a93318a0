// Package domain provides canonical error and session types for the gateway.
package domain

import (
	"fmt"
	"net/http"
	"time"
)

// ErrorType represents the category of a gateway error.
type ErrorType string

const (
	// ErrorTypeInvalidRequest indicates a malformed or invalid request.
	ErrorTypeInvalidRequest ErrorType = "invalid_request"

	// ErrorTypeUnauthorized indicates a bad, missing, or revoked credential.
	ErrorTypeUnauthorized ErrorType = "unauthorized"

	// ErrorTypeRateLimited indicates the caller's token bucket is empty.
	ErrorTypeRateLimited ErrorType = "rate_limited"

	// ErrorTypeInvalidAudioFormat indicates a batch upload failed validation.
	ErrorTypeInvalidAudioFormat ErrorType = "invalid_audio_format"

	// ErrorTypeBackendUnreachable indicates a backend session could not be opened.
	ErrorTypeBackendUnreachable ErrorType = "backend_unreachable"

	// ErrorTypeBackendError indicates a backend session failed mid-flight.
	ErrorTypeBackendError ErrorType = "backend_error"

	// ErrorTypeTimeout indicates a batch call exceeded its bound.
	ErrorTypeTimeout ErrorType = "timeout"

	// ErrorTypeNotFound indicates a resource was not found.
	ErrorTypeNotFound ErrorType = "not_found"

	// ErrorTypeInternal indicates an unexpected internal error.
	ErrorTypeInternal ErrorType = "internal"
)

// APIError is the canonical error returned by gateway components and
// translated to an HTTP response at the front.
type APIError struct {
	// Type is the category of error
	Type ErrorType `json:"type"`

	// Message is the human-readable error message
	Message string `json:"message"`

	// RetryAfter is how long until the caller may retry (rate limiting only)
	RetryAfter time.Duration `json:"-"`

	// StatusCode is the suggested HTTP status code
	StatusCode int `json:"-"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Is reports whether target is an APIError of the same type, so callers can
// use errors.Is against the convenience constructors.
func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	return ok && t.Type == e.Type
}

// HTTPStatusCode returns the appropriate HTTP status code for this error.
func (e *APIError) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}

	switch e.Type {
	case ErrorTypeInvalidRequest, ErrorTypeInvalidAudioFormat:
		return http.StatusBadRequest
	case ErrorTypeUnauthorized:
		return http.StatusUnauthorized
	case ErrorTypeRateLimited:
		return http.StatusTooManyRequests
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeBackendUnreachable, ErrorTypeBackendError:
		return http.StatusBadGateway
	case ErrorTypeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// NewAPIError creates a new API error.
func NewAPIError(errType ErrorType, message string) *APIError {
	return &APIError{
		Type:    errType,
		Message: message,
	}
}

// WithRetryAfter sets the retry-after hint.
func (e *APIError) WithRetryAfter(d time.Duration) *APIError {
	e.RetryAfter = d
	return e
}

// WithStatusCode sets a specific HTTP status code.
func (e *APIError) WithStatusCode(code int) *APIError {
	e.StatusCode = code
	return e
}

// Convenience constructors for common errors

// ErrInvalidRequest creates a malformed request error.
func ErrInvalidRequest(message string) *APIError {
	return NewAPIError(ErrorTypeInvalidRequest, message)
}

// ErrUnauthorized creates an authentication error. Failing lookups and
// revoked keys share one message so the reason is not distinguishable.
func ErrUnauthorized() *APIError {
	return NewAPIError(ErrorTypeUnauthorized, "invalid API key")
}

// ErrRateLimited creates a rate limit error carrying a retry-after hint.
func ErrRateLimited(retryAfter time.Duration) *APIError {
	return NewAPIError(ErrorTypeRateLimited, "rate limit exceeded").
		WithRetryAfter(retryAfter)
}

// ErrInvalidAudioFormat creates an audio validation error.
func ErrInvalidAudioFormat(message string) *APIError {
	return NewAPIError(ErrorTypeInvalidAudioFormat, message)
}

// ErrBackendUnreachable creates a backend connect error.
func ErrBackendUnreachable(message string) *APIError {
	return NewAPIError(ErrorTypeBackendUnreachable, message)
}

// ErrBackend creates a mid-flight backend error.
func ErrBackend(message string) *APIError {
	return NewAPIError(ErrorTypeBackendError, message)
}

// ErrTimeout creates a timeout error.
func ErrTimeout(message string) *APIError {
	return NewAPIError(ErrorTypeTimeout, message)
}

// ErrNotFound creates a not found error.
func ErrNotFound(message string) *APIError {
	return NewAPIError(ErrorTypeNotFound, message)
}

// ErrInternal creates an internal server error.
func ErrInternal(message string) *APIError {
	return NewAPIError(ErrorTypeInternal, message)
}

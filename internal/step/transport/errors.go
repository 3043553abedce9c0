package transport

import (
	"fmt"
)

// ErrorType classifies transport errors.
type ErrorType string

const (
	// ErrorTypeConnection indicates network or DNS errors
	ErrorTypeConnection ErrorType = "connection"

	// ErrorTypeTimeout indicates request timeout or deadline exceeded
	ErrorTypeTimeout ErrorType = "timeout"

	// ErrorTypeAuth indicates authentication failure (token acquisition,
	// credential resolution, signing)
	ErrorTypeAuth ErrorType = "auth"

	// ErrorTypeInvalidReq indicates request validation error (invalid
	// method, URL, etc.)
	ErrorTypeInvalidReq ErrorType = "invalid_request"

	// ErrorTypePolicy indicates the target host was denied by the
	// outbound network policy
	ErrorTypePolicy ErrorType = "policy"

	// ErrorTypeCancelled indicates the context was cancelled
	ErrorTypeCancelled ErrorType = "cancelled"
)

// TransportError is a structured error from transport execution. All
// transports return *TransportError so callers can branch on Type without
// string matching.
type TransportError struct {
	// Type classifies the error
	Type ErrorType

	// StatusCode is set when the failure carried an HTTP status, such as
	// a rejected OAuth2 token request. Zero otherwise.
	StatusCode int

	// Message is safe to log and display; credentials are redacted
	Message string

	// Retryable hints whether another attempt could succeed
	Retryable bool

	// Cause is the underlying error. May contain sensitive data, prefer
	// Message for user-facing output.
	Cause error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s error (status %d): %s", e.Type, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *TransportError) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether the error should be retried.
func (e *TransportError) IsRetryable() bool {
	return e.Retryable
}

// IsType reports whether the error is of the given type.
func (e *TransportError) IsType(t ErrorType) bool {
	return e.Type == t
}

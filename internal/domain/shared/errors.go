// Package shared contains common domain types, errors and events
// that are used across all domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")

	// Validation errors
	ErrValidation    = errors.New("validation error")
	ErrInvalidInput  = errors.New("invalid input")
	ErrInvalidFormat = errors.New("invalid format")

	// State errors
	ErrInvalidState = errors.New("invalid state")
	ErrInProgress   = errors.New("operation already in progress")

	// Upstream errors
	ErrAuth               = errors.New("authentication error")
	ErrTransport          = errors.New("transport error")
	ErrUpstream           = errors.New("upstream error")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTokenExpired       = errors.New("auth token expired")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrRateLimited        = errors.New("rate limited")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "classeviva", "poll", "notify"
	Op      string // Operation that failed, e.g., "Login", "FetchGrades"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// AuthError means the upstream rejected the credentials or the session
// token stayed invalid after one refresh.
type AuthError struct {
	*DomainError
}

// NewAuthError creates an AuthError for op.
func NewAuthError(op, message string, err error) *AuthError {
	return &AuthError{DomainError: WrapError("classeviva", op, ErrAuth, message, err)}
}

// TransportError is a network-level failure: timeout, refused or reset connection.
type TransportError struct {
	*DomainError
}

// NewTransportError creates a TransportError for op.
func NewTransportError(op, message string, err error) *TransportError {
	return &TransportError{DomainError: WrapError("classeviva", op, ErrTransport, message, err)}
}

// UpstreamError is an unexpected response for a whole endpoint.
// Payload holds at most the first kilobyte of the response body.
type UpstreamError struct {
	*DomainError
	Status  int
	Payload []byte
}

// NewUpstreamError creates an UpstreamError for op.
func NewUpstreamError(op string, status int, payload []byte, message string, err error) *UpstreamError {
	if len(payload) > 1024 {
		payload = payload[:1024]
	}
	return &UpstreamError{
		DomainError: WrapError("classeviva", op, ErrUpstream, message, err),
		Status:      status,
		Payload:     payload,
	}
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	if e.Status == 0 {
		return e.DomainError.Error()
	}
	return fmt.Sprintf("%s (status %d)", e.DomainError.Error(), e.Status)
}

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrInvalidFormat)
}

// IsAuthError reports whether err carries an AuthError.
func IsAuthError(err error) bool {
	var target *AuthError
	return errors.As(err, &target)
}

// IsTransportError reports whether err carries a TransportError.
func IsTransportError(err error) bool {
	var target *TransportError
	return errors.As(err, &target)
}

// IsUpstreamError reports whether err carries an UpstreamError.
func IsUpstreamError(err error) bool {
	var target *UpstreamError
	return errors.As(err, &target)
}

// ErrorKind returns a short label for metrics and category status.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case IsAuthError(err):
		return "auth"
	case IsTransportError(err):
		return "transport"
	case IsUpstreamError(err):
		return "upstream"
	default:
		return "internal"
	}
}

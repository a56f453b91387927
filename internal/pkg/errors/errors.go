// Package errors provides custom error types and error handling utilities.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Error codes.
const (
	// Participation gates and local conditions.
	CodeNotAuthenticated = "NOT_AUTHENTICATED"
	CodeSanityThreshold  = "SANITY_THRESHOLD_CROSSED"
	CodeValidation       = "VALIDATION_ERROR"
	CodeNotFound         = "NOT_FOUND"

	// Transport failures.
	CodeNetwork     = "NETWORK_ERROR"
	CodeServer      = "SERVER_ERROR"
	CodeTimeout     = "TIMEOUT"
	CodeUnavailable = "SERVICE_UNAVAILABLE"

	// Local faults.
	CodeStorage  = "STORAGE_ERROR"
	CodeInternal = "INTERNAL_ERROR"
)

// AppError represents an application error with code and details.
type AppError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
	Err     error             `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an error with an AppError.
func Wrap(code, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithDetail adds a single detail to the error.
func (e *AppError) WithDetail(key, value string) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// Code extracts the error code from err, walking the wrap chain.
// Returns CodeInternal for non-AppError errors and "" for nil.
func Code(err error) string {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, code string) bool {
	return Code(err) == code
}

// IsNotAuthenticated checks if err is a participation-gate error.
func IsNotAuthenticated(err error) bool {
	return Is(err, CodeNotAuthenticated)
}

// IsSanityThreshold checks if err is a local-overload discard error.
func IsSanityThreshold(err error) bool {
	return Is(err, CodeSanityThreshold)
}

// IsNotFound checks if err is a not found error.
func IsNotFound(err error) bool {
	return Is(err, CodeNotFound)
}

// IsRetryable reports whether the failure may succeed on a later attempt.
// Network and server failures are retryable; validation failures are
// retryable with a bound owned by the caller; everything else is not.
func IsRetryable(err error) bool {
	switch Code(err) {
	case CodeNetwork, CodeServer, CodeTimeout, CodeUnavailable, CodeValidation:
		return true
	default:
		return false
	}
}

// Convenience constructors.

// NotAuthenticatedError creates a participation-gate error.
func NotAuthenticatedError() *AppError {
	return New(CodeNotAuthenticated, "credential provider reports unauthenticated")
}

// SanityThresholdError creates a local-overload discard error.
func SanityThresholdError(pending int) *AppError {
	return New(CodeSanityThreshold, "pending event count crossed the sanity threshold").
		WithDetail("pending", fmt.Sprintf("%d", pending))
}

// NetworkError creates a transport network error.
func NetworkError(message string, err error) *AppError {
	return Wrap(CodeNetwork, message, err)
}

// ServerError creates a transport server error.
func ServerError(message string) *AppError {
	return New(CodeServer, message)
}

// StorageError creates a durable-store error.
func StorageError(message string, err error) *AppError {
	return Wrap(CodeStorage, message, err)
}

// ValidationError creates a validation error.
func ValidationError(message string) *AppError {
	return New(CodeValidation, message)
}

// TimeoutError creates a timeout error for a specific operation.
func TimeoutError(operation string) *AppError {
	message := "operation timed out"
	if operation != "" {
		message = fmt.Sprintf("%s timed out", operation)
	}
	return New(CodeTimeout, message)
}

// CodeForStatus returns an error code for an HTTP response status.
// Used by the sync transport to classify upload failures.
func CodeForStatus(status int) string {
	switch {
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return CodeTimeout
	case status == http.StatusServiceUnavailable || status == http.StatusTooManyRequests:
		return CodeUnavailable
	case status >= 500:
		return CodeServer
	case status >= 400:
		return CodeValidation
	default:
		return CodeInternal
	}
}

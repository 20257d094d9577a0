// Package errors provides structured error types for the depvet application.
//
// This package defines error codes and types that enable:
//   - Consistent error classification across the pipeline engine and CLI
//   - Machine-readable error codes for retry/terminal decisions
//   - Error wrapping with context preservation
//
// # Error Codes
//
// Error codes follow the pipeline failure taxonomy:
//   - TRANSIENT_*: collaborator failures worth retrying (network blip, rate limit, timeout)
//   - TERMINAL_*: collaborator failures that will not succeed on retry
//   - STORAGE_ERROR: checkpoint store unreachable (distinct from not-found)
//   - CONFIGURATION_ERROR: invalid pipeline definition, fatal at startup
//
// # Usage
//
//	err := errors.New(errors.ErrCodeTerminalCollaborator, "package not found: %s", name)
//	if errors.Is(err, errors.ErrCodeTerminalCollaborator) {
//	    // Record failed-terminal, drop item from downstream
//	}
//
//	// Wrap existing errors
//	err := errors.Wrap(errors.ErrCodeStorage, origErr, "put checkpoint %s", fp)
package errors

import (
	"errors"
	"fmt"
)

// Code represents a machine-readable error code.
type Code string

// Error codes for different error categories.
const (
	// Retryable collaborator errors
	ErrCodeTransientCollaborator Code = "TRANSIENT_COLLABORATOR"
	ErrCodeTimeout               Code = "TIMEOUT"
	ErrCodeRateLimited           Code = "RATE_LIMITED"
	ErrCodeNetwork               Code = "NETWORK_ERROR"

	// Terminal collaborator errors
	ErrCodeTerminalCollaborator Code = "TERMINAL_COLLABORATOR"
	ErrCodeNotFound             Code = "NOT_FOUND"
	ErrCodeMalformedManifest    Code = "MALFORMED_MANIFEST"
	ErrCodeUnauthorized         Code = "UNAUTHORIZED"

	// Run-scoped errors
	ErrCodeStorage       Code = "STORAGE_ERROR"
	ErrCodeConfiguration Code = "CONFIGURATION_ERROR"

	// Input validation errors
	ErrCodeInvalidInput Code = "INVALID_INPUT"
	ErrCodeInvalidScope Code = "INVALID_SCOPE"

	// Internal errors
	ErrCodeInternal    Code = "INTERNAL_ERROR"
	ErrCodeUnsupported Code = "UNSUPPORTED"
)

// Error is a structured error with a code and optional cause.
type Error struct {
	Code    Code   // Machine-readable error code
	Message string // Human-readable message
	Cause   error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new Error with the given code and formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap creates a new Error wrapping an existing error.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// Is reports whether err has the given error code.
// It unwraps the error chain looking for an *Error with a matching code.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// GetCode extracts the error code from an error, if available.
// Returns empty string if the error is not an *Error.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsTransient reports whether err carries a code the pipeline may retry.
// Errors without a recognized code are treated as terminal (fail-closed).
func IsTransient(err error) bool {
	switch GetCode(err) {
	case ErrCodeTransientCollaborator, ErrCodeTimeout, ErrCodeRateLimited, ErrCodeNetwork:
		return true
	}
	return false
}

// IsRunScoped reports whether err should abort the run rather than a single
// item. Storage and configuration failures are run-scoped; everything else
// stays isolated to the item that produced it.
func IsRunScoped(err error) bool {
	switch GetCode(err) {
	case ErrCodeStorage, ErrCodeConfiguration:
		return true
	}
	return false
}

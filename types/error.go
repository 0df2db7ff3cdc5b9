package types

import (
	"errors"
	"fmt"
)

// ErrorCode classifies every expected failure mode of a coordination
// operation. Callers switch on the code rather than on message text.
type ErrorCode string

const (
	// ErrNotFound indicates a referenced id (agent, request, handoff,
	// task, session) does not exist.
	ErrNotFound ErrorCode = "NOT_FOUND"
	// ErrUnauthorized indicates the caller is not the entity permitted
	// to perform the transition.
	ErrUnauthorized ErrorCode = "UNAUTHORIZED"
	// ErrInvalidState indicates the entity is already past the
	// requested transition.
	ErrInvalidState ErrorCode = "INVALID_STATE"
	// ErrInvalidArgument indicates an unrecognized enum value or a
	// malformed input field.
	ErrInvalidArgument ErrorCode = "INVALID_ARGUMENT"
	// ErrNoCandidates indicates capability matching found no eligible
	// agent after exclusions.
	ErrNoCandidates ErrorCode = "NO_CANDIDATES"
	// ErrStoreUnavailable indicates a backing store (redis, archive)
	// rejected the call.
	ErrStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"
)

// Error is a structured error with code, message, and optional cause.
// All coordination operations return *Error for expected failures so
// callers can retry safely without parsing strings.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Cause   error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCause attaches a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// GetErrorCode extracts the error code from an error, unwrapping as
// needed. Returns "" for non-taskmesh errors.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}

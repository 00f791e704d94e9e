package interfaces

import (
	"errors"
	"fmt"
)

// ErrorCode is a machine-readable classification of a service error.
// Validation, state and replay errors must never be retried; persistence
// errors on read-only paths may be.
type ErrorCode string

const (
	// ErrCodeValidation marks malformed input, such as a threshold exceeding
	// the participant count.
	ErrCodeValidation ErrorCode = "validation"

	// ErrCodeNotFound marks an unknown session, request or schedule ID.
	ErrCodeNotFound ErrorCode = "not_found"

	// ErrCodeState marks an operation invalid for the entity's current status.
	ErrCodeState ErrorCode = "state"

	// ErrCodeReplay marks a duplicate or reused nonce commitment.
	ErrCodeReplay ErrorCode = "replay"

	// ErrCodeTimeout marks an operation against an expired entity.
	ErrCodeTimeout ErrorCode = "timeout"

	// ErrCodeAggregation marks fewer than threshold valid partial signatures
	// at aggregation time.
	ErrCodeAggregation ErrorCode = "aggregation"

	// ErrCodePersistence marks an underlying store failure.
	ErrCodePersistence ErrorCode = "persistence"
)

// Error is a classified service error. The message never contains key
// material or other participants' identifiers.
type Error struct {
	Code ErrorCode
	Msg  string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

// Unwrap returns the wrapped error, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// E creates a classified error with a formatted message.
func E(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// WrapErr classifies an underlying error with a formatted message.
func WrapErr(code ErrorCode, err error, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf extracts the error code from err, or ErrCodePersistence for
// unclassified errors.
func CodeOf(err error) ErrorCode {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return ErrCodePersistence
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

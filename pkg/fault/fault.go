// Package fault provides the machine-readable error taxonomy shared by the
// governance engine, the safety gate, and the execution bridge.
//
// Every rejected precondition surfaces one of the codes below; callers branch
// on CodeOf rather than on error strings.
package fault

import (
	"errors"
	"fmt"
)

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnauthorized — the caller lacks the role the operation requires.
	CodeUnauthorized Code = "UNAUTHORIZED"
	// CodeInvalidInput — malformed, empty, or zero-valued argument.
	CodeInvalidInput Code = "INVALID_INPUT"
	// CodeNotFound — reference to a nonexistent proposal, execution, or record.
	CodeNotFound Code = "NOT_FOUND"
	// CodeStateConflict — the operation is invalid for the current lifecycle
	// state: already executed, already voted, already claimed, still locked,
	// voting still open or already closed.
	CodeStateConflict Code = "STATE_CONFLICT"
	// CodeThresholdNotMet — the vote outcome is insufficient to execute.
	CodeThresholdNotMet Code = "THRESHOLD_NOT_MET"
	// CodeBlocked — the tier is paused or circuit-broken.
	CodeBlocked Code = "BLOCKED"
	// CodeLimitExceeded — a hard cap was hit: beta agent cap, batch size,
	// retry cap, or an expired timeout.
	CodeLimitExceeded Code = "LIMIT_EXCEEDED"
	// CodeReentrancy — a component was re-entered while a mutating operation
	// was still in flight. Reported as a distinct code so integration bugs
	// are visible, but it is a StateConflict in the taxonomy sense.
	CodeReentrancy Code = "REENTRANT_CALL"
)

// Error carries a taxonomy code alongside a human-readable message.
type Error struct {
	Code Code
	Msg  string
	Err  error // optional wrapped cause
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a fault with the given code and formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Wrap creates a fault wrapping an underlying cause.
func Wrap(code Code, err error, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf extracts the taxonomy code from err, or CodeUnknown semantics:
// an empty Code when err carries no fault.
func CodeOf(err error) Code {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}

// Convenience constructors for the common codes.

func Unauthorized(format string, args ...any) *Error {
	return New(CodeUnauthorized, format, args...)
}

func Invalid(format string, args ...any) *Error {
	return New(CodeInvalidInput, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return New(CodeNotFound, format, args...)
}

func Conflict(format string, args ...any) *Error {
	return New(CodeStateConflict, format, args...)
}

func Blocked(format string, args ...any) *Error {
	return New(CodeBlocked, format, args...)
}

func Limit(format string, args ...any) *Error {
	return New(CodeLimitExceeded, format, args...)
}

func Reentrant(component string) *Error {
	return New(CodeReentrancy, "%s is mid-operation; call rejected", component)
}

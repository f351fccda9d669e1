// Package errors provides the typed error used across the matchmaker.
//
// Every failure that crosses a component boundary carries a Code so callers
// can branch on the failure class (retry, requeue, reject) without string
// matching. Errors compare equal under errors.Is when their codes match.
package errors

import (
	"errors"
	"fmt"
)

// Code is a machine-readable error class.
type Code string

const (
	// CodeUnknown is reported for errors that carry no code.
	CodeUnknown Code = "UNKNOWN"

	// CodeInvalidRequest marks a malformed pairing, stake, move or result
	// request. Nothing is mutated when it is returned.
	CodeInvalidRequest Code = "INVALID_REQUEST"
	// CodeInvalidMove marks a move rejected by the engine or the turn check.
	CodeInvalidMove Code = "INVALID_MOVE"
	// CodeNotFound marks a lookup of a match or session that does not exist.
	CodeNotFound Code = "NOT_FOUND"

	// CodeLedgerUnavailable is a retryable ledger failure (network, timeout, 5xx).
	CodeLedgerUnavailable Code = "LEDGER_UNAVAILABLE"
	// CodeLedgerRejected is a fatal ledger failure for the affected match.
	CodeLedgerRejected Code = "LEDGER_REJECTED"

	// CodeOrphanedMatch marks a match left without one of its participants.
	CodeOrphanedMatch Code = "ORPHANED_MATCH"

	// CodeInternal marks a local failure such as a storage error.
	CodeInternal Code = "INTERNAL"
)

// Error is the typed error with a code and an optional cause.
type Error struct {
	Code    Code   // Machine-readable class
	Message string // Internal message (logs only, never sent to clients)
	Cause   error  // Wrapped underlying error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// New creates an error with a code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an error with a code and a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error that wraps an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// CodeOf returns the code of the first *Error in err's chain.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code Code) bool {
	return CodeOf(err) == code
}

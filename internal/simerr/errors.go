// Package simerr defines the error kinds shared by the simulation engine.
//
// Every engine operation that can fail returns an *Error whose Kind is one of
// the sentinel values below, so callers can branch with errors.Is without
// parsing messages.
package simerr

import (
	"errors"
	"fmt"
)

// Error kinds.
var (
	// ErrConfiguration indicates orbital parameters outside their physical range.
	ErrConfiguration = errors.New("orbitlab: configuration error")

	// ErrInvalidParameter indicates a bad analysis or clock input.
	ErrInvalidParameter = errors.New("orbitlab: invalid parameter")

	// ErrNotFound indicates an unknown body id.
	ErrNotFound = errors.New("orbitlab: not found")

	// ErrDuplicateID indicates a body id that is already registered.
	ErrDuplicateID = errors.New("orbitlab: duplicate id")

	// ErrCancelled indicates an analysis that was superseded or stopped.
	ErrCancelled = errors.New("orbitlab: cancelled")

	// ErrTimeout indicates an analysis that exceeded its wall-clock budget.
	ErrTimeout = errors.New("orbitlab: timeout")
)

// Error carries the failing operation and, when relevant, the body id.
type Error struct {
	Op   string
	ID   string
	Kind error
	Msg  string
}

func (e *Error) Error() string {
	s := e.Op
	if e.ID != "" {
		s += " " + e.ID
	}
	if e.Msg != "" {
		return s + ": " + e.Msg
	}
	return s + ": " + e.Kind.Error()
}

func (e *Error) Unwrap() error {
	return e.Kind
}

func newf(kind error, op, id, format string, args ...any) *Error {
	return &Error{Op: op, ID: id, Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Configuration returns a configuration error for op on body id.
func Configuration(op, id, format string, args ...any) *Error {
	return newf(ErrConfiguration, op, id, format, args...)
}

// InvalidParameter returns an invalid parameter error.
func InvalidParameter(op, format string, args ...any) *Error {
	return newf(ErrInvalidParameter, op, "", format, args...)
}

// NotFound returns a not-found error for body id.
func NotFound(op, id string) *Error {
	return newf(ErrNotFound, op, id, "no body with id %q", id)
}

// DuplicateID returns a duplicate id error.
func DuplicateID(op, id string) *Error {
	return newf(ErrDuplicateID, op, id, "id %q is already registered", id)
}

// Cancelled returns a cancellation error.
func Cancelled(op, reason string) *Error {
	return newf(ErrCancelled, op, "", "%s", reason)
}

// Timeout returns a timeout error.
func Timeout(op, format string, args ...any) *Error {
	return newf(ErrTimeout, op, "", format, args...)
}

// KindName returns a short stable name for err's kind, or "internal" when err
// does not belong to the taxonomy.
func KindName(err error) string {
	switch {
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrInvalidParameter):
		return "invalid_parameter"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrDuplicateID):
		return "duplicate_id"
	case errors.Is(err, ErrCancelled):
		return "cancelled"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	default:
		return "internal"
	}
}

// Package errs provides the error building blocks the dispatch loop
// classifies: [Sentinel] consts that managers declare and the dispatch loop
// maps to wire error names, and [UserError]s that carry their own wire
// name. Both are safe to echo back to a caller in an action ack; anything
// else is logged and swallowed.
package errs

//go:generate errtrace -w .

import (
	"errors"
	"fmt"
)

// Sentinel is a string-backed error usable as a package-level const,
// matching the way managers declare their classified errors.
type Sentinel string

func (s Sentinel) Error() string { return string(s) }

// New formats a new error wrapping the sentinel, or returns the bare
// sentinel when no detail is given.
func New(sentinel Sentinel, args ...any) error {
	if len(args) == 0 {
		return sentinel //errtrace:skip
	}
	switch v := args[0].(type) {
	case string:
		if len(args) == 1 {
			return fmt.Errorf("%w: %s", sentinel, v) //errtrace:skip
		}
		return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(v, args[1:]...)) //errtrace:skip
	case error:
		return fmt.Errorf("%w: %w", sentinel, v) //errtrace:skip
	default:
		return sentinel //errtrace:skip
	}
}

// UserError is a classified error surfaced to the caller as
// {errorName, errorMessage} in the action ack (spec.md §7).
type UserError struct {
	Name    string
	Message string
	err     error
}

func (e *UserError) Error() string { return e.Message }
func (e *UserError) Unwrap() error { return e.err }

// NewUserError wraps err as a [UserError] with the given wire error name.
func NewUserError(name string, err error) *UserError {
	return &UserError{Name: name, Message: err.Error(), err: err} //errtrace:skip
}

// As reports whether err is (or wraps) a [UserError] and returns it.
func As(err error) (*UserError, bool) {
	var ue *UserError
	ok := errors.As(err, &ue)
	return ue, ok
}

// Package apperr classifies service errors so HTTP handlers and operators
// can tell a caller mistake from a state conflict or a billing repair case.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	// Internal is the zero value: unexpected failures.
	Internal Kind = iota
	// Validation: malformed input, no state change.
	Validation
	// StateConflict: operation invalid for the current entity status.
	StateConflict
	// NotFound: referenced entity does not exist.
	NotFound
	// Reconciliation: billing materialization failed after a successful
	// clinical action; the billing side is left repairable.
	Reconciliation
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case StateConflict:
		return "state_conflict"
	case NotFound:
		return "not_found"
	case Reconciliation:
		return "reconciliation"
	default:
		return "internal"
	}
}

// Error carries a kind alongside the message and an optional cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// E builds an Error. The last error argument, if any, becomes the cause.
func E(kind Kind, format string, args ...interface{}) *Error {
	var cause error
	if n := len(args); n > 0 {
		if err, ok := args[n-1].(error); ok && !containsVerb(format, n) {
			cause = err
			args = args[:n-1]
		}
	}
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: cause}
}

// containsVerb reports whether format expects all n args as verbs, in which
// case the trailing error is formatted rather than treated as a cause.
func containsVerb(format string, n int) bool {
	count := 0
	for i := 0; i < len(format); i++ {
		if format[i] == '%' {
			if i+1 < len(format) && format[i+1] == '%' {
				i++
				continue
			}
			count++
		}
	}
	return count >= n
}

// KindOf returns the kind of err, or Internal for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus maps an error to the status code handlers should return.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case Validation:
		return http.StatusBadRequest
	case StateConflict:
		return http.StatusConflict
	case NotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

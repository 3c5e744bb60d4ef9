// Package errdefs defines the structured error taxonomy shared by the
// loader, drift detector, planner and executor.
package errdefs

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers that dispatch on failure class
// rather than message text.
type Kind string

const (
	MalformedSpec      Kind = "MALFORMED_SPEC"
	CyclicDependency   Kind = "CYCLIC_DEPENDENCY"
	ProbeFailure       Kind = "PROBE_FAILURE"
	ActionFailure      Kind = "ACTION_FAILURE"
	UnsatisfiableOrder Kind = "UNSATISFIABLE_ORDER"
)

// Error is a classified error optionally tied to a unit. Stderr holds
// captured command output for ActionFailure.
type Error struct {
	Kind   Kind
	Unit   string
	Msg    string
	Hint   string
	Stderr string
	Cause  error
}

func (e *Error) Error() string {
	if e.Unit != "" {
		return fmt.Sprintf("[%s] unit %s: %s", e.Kind, e.Unit, e.Msg)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a classified error.
func New(kind Kind, unit, msg string) *Error {
	return &Error{Kind: kind, Unit: unit, Msg: msg}
}

func Newf(kind Kind, unit, format string, args ...any) *Error {
	return &Error{Kind: kind, Unit: unit, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and unit to an underlying error.
func Wrap(kind Kind, unit string, cause error) *Error {
	return &Error{Kind: kind, Unit: unit, Msg: cause.Error(), Cause: cause}
}

// KindOf returns the Kind of err, or "" if err is not a classified error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

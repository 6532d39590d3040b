// Package errs defines the closed error taxonomy shared by every component
// of the orchestration engine.
package errs

import (
	stderrors "errors"

	"github.com/pkg/errors"
)

// ErrorKind is a closed enum; no component may introduce a new kind without
// updating this list.
type ErrorKind string

const (
	KindValidation    ErrorKind = "validation"
	KindPlannerFailed ErrorKind = "planner_failed"
	KindToolTimeout   ErrorKind = "tool_timeout"
	KindToolTransport ErrorKind = "tool_transport"
	KindToolUpstream  ErrorKind = "tool_upstream"
	KindCompileFailed ErrorKind = "compile_failed"
	KindRunTimeout    ErrorKind = "run_timeout"
	KindCancelled     ErrorKind = "cancelled"
	KindInternal      ErrorKind = "internal"
)

// sanitizedMessages gives every kind a user-safe one-liner. The real cause
// is preserved by RunError.cause for logging only.
var sanitizedMessages = map[ErrorKind]string{
	KindValidation:    "the request was invalid",
	KindPlannerFailed: "the planner could not produce a usable plan",
	KindToolTimeout:   "a tool call exceeded its deadline",
	KindToolTransport: "a tool call failed to reach its upstream service",
	KindToolUpstream:  "a tool call's upstream service returned an error",
	KindCompileFailed: "the run could not be compiled into a final artifact",
	KindRunTimeout:    "the run exceeded its overall deadline",
	KindCancelled:     "the run was cancelled",
	KindInternal:      "an internal error occurred",
}

// RunError is the typed error carried on a terminal run. cause is wrapped
// with github.com/pkg/errors so KindInternal failures can be logged with a
// stack trace without ever exposing it to the caller.
type RunError struct {
	Kind    ErrorKind
	cause   error
	Context string
}

func New(kind ErrorKind, cause error) *RunError {
	return &RunError{Kind: kind, cause: errors.WithStack(cause)}
}

func Wrap(kind ErrorKind, cause error, context string) *RunError {
	return &RunError{Kind: kind, cause: errors.Wrap(cause, context), Context: context}
}

func (e *RunError) Error() string {
	return e.cause.Error()
}

func (e *RunError) Unwrap() error {
	return e.cause
}

// Cause returns the innermost wrapped error, for logging only.
func (e *RunError) Cause() error {
	return errors.Cause(e.cause)
}

// Message returns the sanitized, user-visible message for this error's kind.
func (e *RunError) Message() string {
	if msg, ok := sanitizedMessages[e.Kind]; ok {
		return msg
	}
	return sanitizedMessages[KindInternal]
}

// Fatal reports whether this kind is fatal to the owning run (transitions it
// to a terminal state) as opposed to a per-tool failure the executor
// recovers from locally.
func (e *RunError) Fatal() bool {
	switch e.Kind {
	case KindToolTimeout, KindToolTransport, KindToolUpstream:
		return false
	default:
		return true
	}
}

// As reports whether err (or something it wraps) is a *RunError, mirroring
// the stdlib errors.As convention used throughout the capability clients.
func As(err error) (*RunError, bool) {
	var re *RunError
	if stderrors.As(err, &re) {
		return re, true
	}
	return nil, false
}

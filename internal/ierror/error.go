// SPDX-License-Identifier: AGPL-3.0-only

// Package ierror implements the single composable error kind used
// across the gateway's components.
package ierror

import "fmt"

// Error is an opaque, human-readable error. It carries enough context
// in its message to identify the offending stage without exposing a
// typed taxonomy to callers.
type Error struct {
	msg   string
	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s", e.msg, e.cause)
	}
	return e.msg
}

func (e *Error) Unwrap() error {
	return e.cause
}

// New builds an Error from a format string, in the manner of the
// original's bail! macro.
func New(format string, args ...interface{}) error {
	return &Error{msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches context to an existing error while keeping it
// unwrappable via errors.Is/errors.As.
func Wrap(cause error, format string, args ...interface{}) error {
	if cause == nil {
		return New(format, args...)
	}
	return &Error{msg: fmt.Sprintf(format, args...), cause: cause}
}

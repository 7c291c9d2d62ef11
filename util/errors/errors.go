// Package errors wraps the standard errors package with printf-style
// construction and cause-preserving annotation, matching the call
// shape (errors.NewErrorf, errors.Trace) used throughout the sdk
// packages.
package errors

import (
	"errors"
	"fmt"
)

// New returns an error from a plain string, same as errors.New.
func New(text string) error {
	return errors.New(text)
}

// NewErrorf builds an error from a format string, the way most call
// sites in the sdk packages report context (partition ids, packets,
// host maps) inline with the failure.
func NewErrorf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}

// causeErr annotates an underlying error with an extra message while
// keeping it unwrappable.
type causeErr struct {
	msg   string
	cause error
}

func (e *causeErr) Error() string {
	if e.cause == nil {
		return e.msg
	}
	return e.msg + ": " + e.cause.Error()
}

func (e *causeErr) Unwrap() error {
	return e.cause
}

// Trace annotates err with a message, preserving it as the cause so
// errors.Is/errors.As still see through to the original error.
func Trace(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &causeErr{msg: fmt.Sprintf(format, args...), cause: err}
}

// Stack is a no-op placeholder kept for call-site compatibility with
// the pack's errors.Stack(err) pattern used purely for log messages;
// callers that want a real stack should use the log package's caller
// capture instead.
func Stack(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// Is and As re-export the stdlib helpers so callers only need this
// package.
func Is(err, target error) bool { return errors.Is(err, target) }
func As(err error, target interface{}) bool { return errors.As(err, target) }
func Unwrap(err error) error { return errors.Unwrap(err) }

// Package errors provides error wrapping utilities shared across
// multirunner, including the stack-carrying payload used to report fatal
// setup failures to callers.
package errors

import (
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// Wrap returns a new error wrapping the passed error. If the passed error is
// nil, nil is returned.
func Wrap(err error) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf("%w", err)
}

// Failure is the structured payload surfaced for fatal, pre-run errors:
// spec resolution failures and initial worker setup failures. It mirrors
// the {stack, when} shape the worker wire protocol uses to describe where,
// and with what trace, a setup step failed.
type Failure struct {
	// Stack is a formatted trace of the originating error.
	Stack string `json:"stack"`
	// When names the step that failed, e.g. "resolving executable/handler
	// paths".
	When string `json:"when"`
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.When, f.Stack)
}

// NewFailure wraps err with pkg/errors to capture a stack trace, then
// renders it into a Failure describing the step (when) that produced it.
func NewFailure(when string, err error) *Failure {
	traced := pkgerrors.WithStack(err)
	return &Failure{
		Stack: fmt.Sprintf("%+v", traced),
		When:  when,
	}
}

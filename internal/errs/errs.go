// Package errs defines the closed error-kind taxonomy shared by every
// component of the self-play pipeline.
package errs

import (
	"errors"
	"fmt"
)

// Kind identifies which part of the taxonomy an error belongs to.
type Kind string

const (
	// Shape means an EncodedState or Output did not match a model's
	// declared shapes.
	Shape Kind = "shape"
	// Value means a tensor contained NaN or values outside the expected
	// range.
	Value Kind = "value"
	// ModelError means the model call itself failed.
	ModelError Kind = "model_error"
	// Terminated means the surrounding pool or engine was asked to
	// terminate.
	Terminated Kind = "terminated"
	// SimError means the simulator reported an unrecoverable error
	// during a game.
	SimError Kind = "sim_error"
	// ProtocolError means a malformed message, unknown rid, or
	// mismatched request/response type.
	ProtocolError Kind = "protocol_error"
	// WorkerCrashed means a worker thread exited unexpectedly.
	WorkerCrashed Kind = "worker_crashed"
	// Overloaded means an engine rejected new admissions because it is
	// shutting down.
	Overloaded Kind = "overloaded"
)

// Error is the concrete error type carried through the pipeline. Every
// propagated failure is wrapped as an *Error so callers can switch on Kind
// with errors.As.
type Error struct {
	Kind Kind
	Op   string // component/operation that observed the failure
	Err  error  // underlying cause, may be nil
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same Kind, so
// errors.Is(err, errs.New(errs.Terminated, "", nil)) works without caring
// about Op/Err.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

// New constructs an *Error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Wrap is a convenience for New when the op is known and err is non-nil;
// returns nil if err is nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return New(kind, op, err)
}

// Of returns a sentinel of the given kind, suitable for errors.Is checks:
//
//	if errors.Is(err, errs.Of(errs.Terminated)) { ... }
func Of(kind Kind) error {
	return &Error{Kind: kind}
}

// KindOf extracts the Kind of err if it is (or wraps) an *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

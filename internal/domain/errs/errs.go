// Package errs defines the error kinds shared by the table-automation engine.
//
// Every error that crosses a package boundary carries one of the sentinel
// kinds below so callers can decide with errors.Is whether to report, retry,
// coalesce or escalate.
package errs

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel kinds.
var (
	// ErrValidation marks bad match data. Reported to the caller, never retried.
	ErrValidation = errors.New("validation error")
	// ErrConsistency marks data that contradicts itself (e.g. league mismatch).
	// The offending match is excluded and the calculation continues.
	ErrConsistency = errors.New("consistency error")
	// ErrTransient marks infrastructure failures worth retrying.
	ErrTransient = errors.New("transient infrastructure error")
	// ErrConcurrency marks a request that was coalesced into an existing job.
	ErrConcurrency = errors.New("concurrency error")
	// ErrSystem marks unexpected faults. Jobs fail and operators are notified.
	ErrSystem = errors.New("system error")
	// ErrNotFound marks a missing entity.
	ErrNotFound = errors.New("not found")
)

// Error attaches an operation name and a kind to an underlying cause.
type Error struct {
	Op   string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Kind != nil:
		return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Kind != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	default:
		return e.Op
	}
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// NewKind returns an error of the given kind without a cause.
func NewKind(op string, kind error) error {
	return &Error{Op: op, Kind: kind}
}

// WrapKind wraps err with an operation name and kind. Returns nil for nil err.
func WrapKind(op string, kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Kind: kind, Err: err}
}

// Wrap adds an operation name, keeping whatever kind err already carries.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

// Validationf builds a validation error with a formatted message.
func Validationf(op, format string, args ...any) error {
	return &Error{Op: op, Kind: ErrValidation, Err: fmt.Errorf(format, args...)}
}

// Transient wraps err as a retryable infrastructure failure.
func Transient(op string, err error) error {
	return WrapKind(op, ErrTransient, err)
}

// System wraps err as an unexpected fault.
func System(op string, err error) error {
	return WrapKind(op, ErrSystem, err)
}

// KindOf returns the first known kind found in err's chain. Errors without a
// kind are treated as system errors.
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	for _, k := range []error{ErrValidation, ErrConsistency, ErrTransient, ErrConcurrency, ErrNotFound, ErrSystem} {
		if errors.Is(err, k) {
			return k
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTransient
	}
	return ErrSystem
}

// IsRetryable reports whether a job failing with err should be attempted again.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded)
}

// KindName returns a short label for metrics and job history.
func KindName(err error) string {
	switch KindOf(err) {
	case nil:
		return ""
	case ErrValidation:
		return "validation"
	case ErrConsistency:
		return "consistency"
	case ErrTransient:
		return "transient"
	case ErrConcurrency:
		return "concurrency"
	case ErrNotFound:
		return "not_found"
	default:
		return "system"
	}
}

// Package cerrors defines the error-kind taxonomy every package in the
// slicer reports through: a small closed set of Kind values a caller
// can switch on (to decide whether a failure is the user's model, a
// resource exhaustion, or a device fault) wrapped around the
// underlying cause.
package cerrors

import (
	"errors"
	"fmt"
)

// Kind classifies why an operation failed, per spec.md §7.
type Kind int

const (
	// KindOther covers failures with no more specific classification.
	KindOther Kind = iota
	// KindInvalidModel means the user-supplied model data violated an
	// invariant (degenerate geometry, malformed command tape, bad meta
	// range).
	KindInvalidModel
	// KindResourceExhausted means a fixed-size budget (atlas slots,
	// device memory, cache capacity) was exceeded.
	KindResourceExhausted
	// KindDeviceFault means the GPU backend reported an error (shader
	// compile failure, device lost, adapter unavailable).
	KindDeviceFault
	// KindNotFound means a lookup by key (ResourceKey, cache key, file
	// path) found nothing.
	KindNotFound
	// KindCanceled means the operation was aborted by its context.
	KindCanceled
	// KindIO means a file open/read/write failed.
	KindIO
	// KindUnsupportedFormat means a decoder rejected its input (an
	// image pixel format it cannot map, a malformed directive).
	KindUnsupportedFormat
	// KindBoundingBoxUnavailable means surface-projection bounding-box
	// discovery produced no positive bound on at least one face.
	KindBoundingBoxUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindInvalidModel:
		return "invalid-model"
	case KindResourceExhausted:
		return "resource-exhausted"
	case KindDeviceFault:
		return "device-fault"
	case KindNotFound:
		return "not-found"
	case KindCanceled:
		return "canceled"
	case KindIO:
		return "io"
	case KindUnsupportedFormat:
		return "unsupported-format"
	case KindBoundingBoxUnavailable:
		return "bounding-box-unavailable"
	default:
		return "other"
	}
}

// Error is the wrapped error type every internal package should
// return instead of a bare fmt.Errorf, so callers several layers up
// can recover the Kind via errors.As.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error. op should name the failing function, e.g.
// "bvh.Build" or "kernel.Compile".
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the Kind from err's chain, returning KindOther if no
// *Error is present.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindOther
}

// Is reports whether err's chain carries an *Error of the given Kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

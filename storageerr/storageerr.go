// Package storageerr defines the typed error taxonomy shared by every
// component of the protocol and mount registry (see spec §7).
package storageerr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies a failure the way callers at the tool boundary need
// to react to it, independent of which component raised it.
type Kind int

// Kinds, in the order they appear in spec §7.
const (
	// InvalidArgument covers malformed input: empty/malformed scheme,
	// invalid ranges, shadowing a built-in, mounting an unsupported
	// storable.
	InvalidArgument Kind = iota
	// NotFound means the ID does not resolve to a storable through any
	// known path.
	NotFound
	// UnknownScheme means the scheme prefix is not registered with any
	// handler.
	UnknownScheme
	// NavigationRequired means a deep ID in a browsable scheme was
	// requested without prior navigation from its root.
	NavigationRequired
	// Unavailable means the backing service could not be reached.
	Unavailable
	// Unsupported means the operation does not apply to this storable
	// (non-modifiable folder, uncreatable archive type, already-mounted
	// archive).
	Unsupported
	// AliasDepthExceeded means alias resolution looped past max_depth.
	AliasDepthExceeded
	// Conflict means the requested scheme or original_id is already in
	// use.
	Conflict
	// Io is an underlying I/O failure with its cause chained.
	Io
)

func (k Kind) String() string {
	switch k {
	case InvalidArgument:
		return "invalid_argument"
	case NotFound:
		return "not_found"
	case UnknownScheme:
		return "unknown_scheme"
	case NavigationRequired:
		return "navigation_required"
	case Unavailable:
		return "unavailable"
	case Unsupported:
		return "unsupported"
	case AliasDepthExceeded:
		return "alias_depth_exceeded"
	case Conflict:
		return "conflict"
	case Io:
		return "io"
	default:
		return "unknown"
	}
}

// Error is the concrete error type propagated up to the tool boundary.
// Op names the operation that failed (e.g. "mount", "ensure_registered")
// so log lines and RPC envelopes can report it without re-deriving it
// from a stack trace.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Op, e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Msg)
}

// Unwrap exposes the wrapped cause so errors.Is/errors.As keep working
// through the taxonomy.
func (e *Error) Unwrap() error { return e.Err }

// New builds a taxonomy error with no wrapped cause.
func New(op string, kind Kind, msg string) *Error {
	return &Error{Op: op, Kind: kind, Msg: msg}
}

// Newf is New with a formatted message.
func Newf(op string, kind Kind, format string, args ...interface{}) *Error {
	return &Error{Op: op, Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a taxonomy kind and operation name to an underlying
// cause, preserving it for errors.Is/As and for logging the chain.
func Wrap(op string, kind Kind, err error, msg string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Kind: kind, Msg: msg, Err: errors.WithMessage(err, msg)}
}

// Is reports whether err carries the given Kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	for err != nil {
		if te, ok := err.(*Error); ok {
			if te.Kind == kind {
				return true
			}
			err = te.Err
			continue
		}
		cause := errors.Unwrap(err)
		if cause == err {
			break
		}
		err = cause
	}
	return false
}

// KindOf returns the Kind of err if it is (or wraps) an *Error, and
// false otherwise.
func KindOf(err error) (Kind, bool) {
	for err != nil {
		if te, ok := err.(*Error); ok {
			return te.Kind, true
		}
		next := errors.Unwrap(err)
		if next == err {
			break
		}
		err = next
	}
	return 0, false
}

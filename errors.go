package asio

import "fmt"

// ErrorKind enumerates the error concepts the engine can report.
type ErrorKind int

const (
	KindInvalid ErrorKind = iota
	KindWouldBlock
	KindEOF
	KindCancelled
	KindLimit
	KindTimeout
	KindNotImplemented
	KindTransport
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalid:
		return "invalid"
	case KindWouldBlock:
		return "would-block"
	case KindEOF:
		return "eof"
	case KindCancelled:
		return "cancelled"
	case KindLimit:
		return "limit"
	case KindTimeout:
		return "timeout"
	case KindNotImplemented:
		return "not-implemented"
	case KindTransport:
		return "transport"
	default:
		return "unknown"
	}
}

// Error is the error type returned and delivered throughout the engine: one
// kind, plus an optional wrapped cause.
type Error struct {
	Kind  ErrorKind
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("asio: %s: %v", e.Kind, e.Cause)
	}
	return fmt.Sprintf("asio: %s", e.Kind)
}

func (e *Error) Unwrap() error { return e.Cause }

// newErr constructs an *Error of the given kind, optionally wrapping cause.
func newErr(kind ErrorKind, cause error) *Error {
	return &Error{Kind: kind, Cause: cause}
}

// NewError is the exported form of newErr, for collaborator packages (such
// as simnet) that need to construct engine errors of a specific kind.
func NewError(kind ErrorKind, cause error) *Error {
	return newErr(kind, cause)
}

// KindOf extracts the ErrorKind from err if it is (or wraps) an *Error,
// defaulting to KindTransport for any other non-nil error.
func KindOf(err error) ErrorKind {
	if err == nil {
		return -1
	}
	var e *Error
	if ok := asErr(err, &e); ok {
		return e.Kind
	}
	return KindTransport
}

func asErr(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

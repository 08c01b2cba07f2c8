// Package apperror implements the single error taxonomy used across acpmux
// (SPEC_FULL.md §7): one exported type carrying a Kind, always wrapping the
// underlying cause so errors.Is/errors.As still work through it.
package apperror

import "fmt"

// Kind classifies an Error into one of the six buckets SPEC_FULL.md names.
type Kind string

const (
	KindProtocol         Kind = "protocol_error"
	KindTransport        Kind = "transport_error"
	KindTimeout          Kind = "timeout"
	KindPermissionDenied Kind = "permission_denied"
	KindInvalidState     Kind = "invalid_state"
	KindIO               Kind = "io_error"
)

// Error is the one error type every acpmux component returns for the six
// taxonomy buckets; callers switch on Kind and can still unwrap to the root
// cause via errors.Unwrap/errors.As.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func new(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

func Protocol(msg string, err error) *Error         { return new(KindProtocol, msg, err) }
func Transport(msg string, err error) *Error        { return new(KindTransport, msg, err) }
func Timeout(msg string) *Error                     { return new(KindTimeout, msg, nil) }
func PermissionDenied(msg string) *Error            { return new(KindPermissionDenied, msg, nil) }
func InvalidState(msg string) *Error                { return new(KindInvalidState, msg, nil) }
func IO(msg string, err error) *Error               { return new(KindIO, msg, err) }

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == kind
}

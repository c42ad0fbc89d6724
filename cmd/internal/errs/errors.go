// Package errs defines the typed error taxonomy shared by the hub, the session
// layer and the RPC transport.
package errs

import (
	"errors"
	"fmt"
)

// Error is a typed operation error with a stable Op + Kind contract for callers/tests.
// Kind MUST be one of the sentinel kinds. Msg is user-facing and must not contain secrets.
type Error struct {
	Op   string
	Kind error
	Msg  string
	Err  error
}

func (e Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v: %s: %v", e.Op, e.Kind, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %v: %s", e.Op, e.Kind, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (e Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// New builds an Error with a user-facing message.
func New(op string, kind error, msg string) error {
	return Error{Op: op, Kind: kind, Msg: msg}
}

// Wrap attaches kind to err. A nil err stays nil.
func Wrap(op string, kind error, err error) error {
	if err == nil {
		return nil
	}
	return Error{Op: op, Kind: kind, Err: err}
}

// KindOf reports the kind carried by err, or ErrUnknown.
func KindOf(err error) error {
	var e Error
	if errors.As(err, &e) && e.Kind != nil {
		return e.Kind
	}
	for k := range codes {
		if errors.Is(err, k) {
			return k
		}
	}
	return ErrUnknown
}

// Message returns the user-facing message of err.
// Errors that are not Error values collapse to their kind name so internals do not leak.
func Message(err error) string {
	var e Error
	if errors.As(err, &e) {
		if e.Msg != "" {
			return e.Msg
		}
		return Name(e.Kind)
	}
	return Name(KindOf(err))
}

// IsAuthorization reports whether err represents ErrAuthorization.
func IsAuthorization(err error) bool { return errors.Is(err, ErrAuthorization) }

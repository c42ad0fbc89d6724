package session

import (
	"errors"
	"fmt"
	"time"

	"startd/cmd/internal/errs"
)

var (
	// ErrNoSession is returned when a request carries no usable session cookie.
	ErrNoSession = errs.Error{Op: "session.cookie", Kind: errs.ErrAuthorization, Msg: "UNAUTHORIZED"}

	// ErrSessionNotFound is returned when the cookie hash matches no active session.
	ErrSessionNotFound = errs.Error{Op: "session.lookup", Kind: errs.ErrAuthorization, Msg: "UNAUTHORIZED"}

	// ErrPasswordIncorrect is the login failure for a wrong password.
	ErrPasswordIncorrect = errs.Error{Op: "auth.login", Kind: errs.ErrAuthorization, Msg: "Password Incorrect"}

	// ErrLoginRateLimited is returned when the login throttle rejects an attempt.
	ErrLoginRateLimited = errors.New("login rate limited")

	errInvalidMetadata = errs.Error{Op: "session.list", Kind: errs.ErrDatabase, Msg: "stored session metadata is not valid JSON"}

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid session config")
)

// LoginRateLimitError carries retry metadata for login throttling.
type LoginRateLimitError struct {
	RetryAfter time.Duration
}

func (e LoginRateLimitError) Error() string {
	if e.RetryAfter <= 0 {
		return ErrLoginRateLimited.Error()
	}
	return fmt.Sprintf("%s: retry after %s", ErrLoginRateLimited.Error(), e.RetryAfter)
}

func (e LoginRateLimitError) Unwrap() []error {
	return []error{ErrLoginRateLimited, errs.ErrAuthorization}
}

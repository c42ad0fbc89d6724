package token

import "errors"

var (
	ErrHMACKeyTooShort = errors.New("token HMAC key too short")
	ErrMalformedToken  = errors.New("malformed token")
)

package errs

import "errors"

// Sentinel error kinds (stable for errors.Is and for mapping to RPC error codes).
var (
	ErrUnknown        = errors.New("unknown")
	ErrAuthorization  = errors.New("authorization")
	ErrNotFound       = errors.New("not_found")
	ErrDatabase       = errors.New("database")
	ErrFilesystem     = errors.New("filesystem")
	ErrNetwork        = errors.New("network")
	ErrParseURL       = errors.New("parse_url")
	ErrInvalidRequest = errors.New("invalid_request")
)

var codes = map[error]int{
	ErrUnknown:        1,
	ErrFilesystem:     2,
	ErrNetwork:        3,
	ErrParseURL:       4,
	ErrDatabase:       5,
	ErrNotFound:       6,
	ErrInvalidRequest: 7,
	ErrAuthorization:  8,
}

// Code returns the stable numeric code for kind. Unrecognized kinds map to ErrUnknown's code.
func Code(kind error) int {
	if c, ok := codes[kind]; ok {
		return c
	}
	return codes[ErrUnknown]
}

// Name returns the wire name of kind ("authorization", "not_found", ...).
func Name(kind error) string {
	if _, ok := codes[kind]; !ok {
		return ErrUnknown.Error()
	}
	return kind.Error()
}

// Parse returns the kind whose wire name is name, or ErrUnknown.
func Parse(name string) error {
	for k := range codes {
		if k.Error() == name {
			return k
		}
	}
	return ErrUnknown
}

package continuation

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// RequestGuid correlates an RPC response with the follow-up request that claims it.
// It is a ULID whose 80 random bits come from crypto/rand.
type RequestGuid string

// NewGuid mints a fresh guid.
func NewGuid(now time.Time) (RequestGuid, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", err
	}
	return RequestGuid(id.String()), nil
}

// ParseGuid validates a guid taken from a request path.
func ParseGuid(s string) (RequestGuid, bool) {
	id, err := ulid.ParseStrict(s)
	if err != nil {
		return "", false
	}
	return RequestGuid(id.String()), true
}

func (g RequestGuid) String() string { return string(g) }

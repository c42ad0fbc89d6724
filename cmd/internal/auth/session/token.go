package session

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"startd/cmd/security/token"
)

// CookieName is the cookie carrying the raw session secret.
const CookieName = "session"

// cookieExpiry is far enough out that browsers never drop the cookie on their own.
var cookieExpiry = time.Date(9999, time.December, 31, 23, 59, 59, 0, time.UTC)

// HashedToken pairs a bearer secret with its storage hash.
// Only Hashed is ever persisted, compared or logged.
type HashedToken struct {
	raw    string
	hashed string
}

// NewToken mints a fresh session secret.
func NewToken(h token.Hasher) (HashedToken, error) {
	raw, err := token.NewRaw()
	if err != nil {
		return HashedToken{}, err
	}
	return HashedToken{raw: raw, hashed: h.Hash(raw)}, nil
}

// TokenFromRaw rebuilds a token from a presented secret.
func TokenFromRaw(h token.Hasher, raw string) (HashedToken, error) {
	raw = strings.TrimSpace(raw)
	if err := token.CheckRaw(raw); err != nil {
		return HashedToken{}, ErrNoSession
	}
	return HashedToken{raw: raw, hashed: h.Hash(raw)}, nil
}

// TokenFromRequest extracts the session cookie from r.
// A missing or malformed cookie yields ErrNoSession.
func TokenFromRequest(h token.Hasher, r *http.Request) (HashedToken, error) {
	c, err := r.Cookie(CookieName)
	if err != nil {
		return HashedToken{}, ErrNoSession
	}
	return TokenFromRaw(h, c.Value)
}

// Hashed returns the storage key, which doubles as the public session id.
func (t HashedToken) Hashed() string { return t.hashed }

// Cookie returns the Set-Cookie value handed to the client on login.
func (t HashedToken) Cookie() *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    t.raw,
		Path:     "/",
		Expires:  cookieExpiry,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

// HeaderValue renders Cookie for a Set-Cookie header.
func (t HashedToken) HeaderValue() string { return t.Cookie().String() }

// Equal compares by hash.
func (t HashedToken) Equal(o HashedToken) bool { return t.hashed == o.hashed }

// LogValue keeps the raw secret out of logs.
func (t HashedToken) LogValue() slog.Value {
	return slog.StringValue(HashPrefix(t.hashed))
}

// HashPrefix shortens a session hash for log lines.
func HashPrefix(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}

package session

import (
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"startd/cmd/security/token"
)

func TestToken_CookieRoundTrip(t *testing.T) {
	t.Parallel()

	var h token.Hasher
	tok, err := NewToken(h)
	if err != nil {
		t.Fatalf("NewToken: %v", err)
	}
	if tok.Hashed() != token.HashSHA256Hex(tok.raw) {
		t.Fatalf("hash must be sha256 of the raw secret")
	}

	c := tok.Cookie()
	if c.Name != CookieName || !c.HttpOnly || c.SameSite != http.SameSiteLaxMode || c.Path != "/" {
		t.Fatalf("unexpected cookie attributes: %+v", c)
	}
	if c.Expires.Year() != 9999 {
		t.Fatalf("expected far-future expiry, got %v", c.Expires)
	}

	r := httptest.NewRequest(http.MethodPost, "/rpc/v1", nil)
	r.AddCookie(c)
	got, err := TokenFromRequest(h, r)
	if err != nil {
		t.Fatalf("TokenFromRequest: %v", err)
	}
	if !got.Equal(tok) {
		t.Fatalf("parsed token mismatch")
	}
}

func TestTokenFromRequest_MissingOrMalformed(t *testing.T) {
	t.Parallel()

	var h token.Hasher

	r := httptest.NewRequest(http.MethodPost, "/rpc/v1", nil)
	if _, err := TokenFromRequest(h, r); !errors.Is(err, ErrNoSession) {
		t.Fatalf("missing cookie: expected ErrNoSession, got %v", err)
	}

	r.AddCookie(&http.Cookie{Name: CookieName, Value: "not-a-token"})
	if _, err := TokenFromRequest(h, r); !errors.Is(err, ErrNoSession) {
		t.Fatalf("malformed cookie: expected ErrNoSession, got %v", err)
	}
}

func TestToken_LogValueHidesSecret(t *testing.T) {
	t.Parallel()

	tok, _ := NewToken(token.Hasher{})

	var buf strings.Builder
	log := slog.New(slog.NewTextHandler(&buf, nil))
	log.Info("x", "session", tok)

	out := buf.String()
	if strings.Contains(out, tok.raw) {
		t.Fatalf("raw token leaked into logs: %s", out)
	}
	if !strings.Contains(out, tok.Hashed()[:12]) {
		t.Fatalf("expected hash prefix in logs: %s", out)
	}
	if s := tok.HeaderValue(); !strings.HasPrefix(s, CookieName+"=") {
		t.Fatalf("HeaderValue=%q", s)
	}
}

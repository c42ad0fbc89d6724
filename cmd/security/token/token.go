package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
)

const (
	// HMACEnvKey names the env var holding the optional HMAC secret.
	// #nosec G101 -- not a credential; it's an environment variable name.
	HMACEnvKey = "STARTD_TOKEN_HMAC_KEY"

	// MinHMACKeyBytes is the smallest accepted HMAC key.
	MinHMACKeyBytes = 32

	// RawBytes is the entropy of a minted token.
	RawBytes = 32
)

var enc = base64.RawURLEncoding

// Hasher maps raw tokens to their storage hash. The zero value hashes with plain SHA-256.
type Hasher struct {
	key []byte
}

// NewHasher returns a Hasher keyed with key. An empty key selects plain SHA-256.
func NewHasher(key []byte) (Hasher, error) {
	if len(key) == 0 {
		return Hasher{}, nil
	}
	if len(key) < MinHMACKeyBytes {
		return Hasher{}, ErrHMACKeyTooShort
	}
	return Hasher{key: append([]byte(nil), key...)}, nil
}

// HasherFromEnv builds a Hasher from STARTD_TOKEN_HMAC_KEY.
func HasherFromEnv() (Hasher, error) {
	raw := strings.TrimSpace(os.Getenv(HMACEnvKey))
	h, err := NewHasher([]byte(raw))
	if err != nil {
		return Hasher{}, fmt.Errorf("%s: %w", HMACEnvKey, err)
	}
	return h, nil
}

// Keyed reports whether HMAC mode is active.
func (h Hasher) Keyed() bool { return len(h.key) > 0 }

// Hash returns the hex digest stored for raw.
func (h Hasher) Hash(raw string) string {
	if len(h.key) == 0 {
		return HashSHA256Hex(raw)
	}
	return HashHMACSHA256Hex(raw, h.key)
}

// HashSHA256Hex returns a SHA-256 hex digest of s.
func HashSHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HashHMACSHA256Hex returns an HMAC-SHA256 hex digest of s using key.
func HashHMACSHA256Hex(s string, key []byte) string {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write([]byte(s))
	return hex.EncodeToString(m.Sum(nil))
}

// NewRaw mints a fresh url-safe bearer secret carrying RawBytes of entropy.
func NewRaw() (string, error) {
	b := make([]byte, RawBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("token entropy: %w", err)
	}
	return enc.EncodeToString(b), nil
}

// CheckRaw rejects values that could not have come from NewRaw.
func CheckRaw(raw string) error {
	b, err := enc.DecodeString(raw)
	if err != nil || len(b) != RawBytes {
		return ErrMalformedToken
	}
	return nil
}

// IsHash reports whether s has the shape of a Hash output.
func IsHash(s string) bool {
	if len(s) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil && strings.ToLower(s) == s
}

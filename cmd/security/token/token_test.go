package token

import (
	"errors"
	"strings"
	"testing"
)

func TestHasher_DefaultIsSHA256(t *testing.T) {
	t.Parallel()

	var h Hasher
	if h.Keyed() {
		t.Fatalf("zero hasher must not be keyed")
	}
	// sha256("abc")
	const want = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got := h.Hash("abc"); got != want {
		t.Fatalf("Hash=%s want=%s", got, want)
	}
}

func TestHasher_HMACDiffers(t *testing.T) {
	t.Parallel()

	key := []byte(strings.Repeat("k", MinHMACKeyBytes))
	h, err := NewHasher(key)
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	if !h.Keyed() {
		t.Fatalf("expected keyed hasher")
	}
	if h.Hash("abc") == HashSHA256Hex("abc") {
		t.Fatalf("keyed hash must differ from plain sha256")
	}
	if !IsHash(h.Hash("abc")) {
		t.Fatalf("keyed hash has wrong shape")
	}
}

func TestNewHasher_ShortKey(t *testing.T) {
	t.Parallel()

	if _, err := NewHasher([]byte("short")); !errors.Is(err, ErrHMACKeyTooShort) {
		t.Fatalf("expected ErrHMACKeyTooShort, got %v", err)
	}
}

func TestHasherFromEnv(t *testing.T) {
	t.Setenv(HMACEnvKey, "  "+strings.Repeat("x", 40)+"  ")
	h, err := HasherFromEnv()
	if err != nil || !h.Keyed() {
		t.Fatalf("HasherFromEnv: keyed=%v err=%v", h.Keyed(), err)
	}

	t.Setenv(HMACEnvKey, "tiny")
	if _, err := HasherFromEnv(); !errors.Is(err, ErrHMACKeyTooShort) {
		t.Fatalf("expected ErrHMACKeyTooShort, got %v", err)
	}
}

func TestNewRaw_RoundTripsCheck(t *testing.T) {
	t.Parallel()

	a, err := NewRaw()
	if err != nil {
		t.Fatalf("NewRaw: %v", err)
	}
	b, _ := NewRaw()
	if a == b {
		t.Fatalf("tokens must be unique")
	}
	if err := CheckRaw(a); err != nil {
		t.Fatalf("CheckRaw(minted): %v", err)
	}
	for _, bad := range []string{"", "abc", "!!!!", a + "AA"} {
		if err := CheckRaw(bad); !errors.Is(err, ErrMalformedToken) {
			t.Fatalf("CheckRaw(%q): %v", bad, err)
		}
	}
}

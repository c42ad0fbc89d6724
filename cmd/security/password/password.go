package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const phcPrefix = "$argon2id$v=19$"

var b64 = base64.RawStdEncoding

// Hash validates password against the policy and returns its PHC-encoded Argon2id hash.
func (c Config) Hash(password string) (string, error) {
	if err := c.Validate(password); err != nil {
		return "", err
	}

	salt := make([]byte, c.Params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("salt: %w", err)
	}

	p := c.Params
	key := argon2.IDKey([]byte(password), salt, p.Iterations, p.MemoryKiB, p.Parallelism, p.KeyLength)

	return fmt.Sprintf("%sm=%d,t=%d,p=%d$%s$%s",
		phcPrefix, p.MemoryKiB, p.Iterations, p.Parallelism,
		b64.EncodeToString(salt), b64.EncodeToString(key),
	), nil
}

// Verify reports whether password matches encodedHash.
// A malformed hash, or one whose cost exceeds twice the configured cost, yields ErrInvalidHash.
func (c Config) Verify(encodedHash, password string) (bool, error) {
	params, salt, expected, err := decode(encodedHash)
	if err != nil {
		return false, err
	}
	if !withinBounds(params, c.Params) {
		return false, ErrInvalidHash
	}

	key := argon2.IDKey(
		[]byte(password),
		salt,
		params.Iterations,
		params.MemoryKiB,
		params.Parallelism,
		params.KeyLength,
	)
	return subtle.ConstantTimeCompare(key, expected) == 1, nil
}

func withinBounds(got, limits Argon2idParams) bool {
	switch {
	case got.MemoryKiB > limits.MemoryKiB*2:
		return false
	case got.Iterations > limits.Iterations*2:
		return false
	case uint32(got.Parallelism) > uint32(limits.Parallelism)*2:
		return false
	case got.SaltLength < 8 || got.SaltLength > 64:
		return false
	case got.KeyLength < 16 || got.KeyLength > 128:
		return false
	}
	return true
}

func decode(encoded string) (Argon2idParams, []byte, []byte, error) {
	rest, ok := strings.CutPrefix(encoded, phcPrefix)
	if !ok {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}
	parts := strings.Split(rest, "$")
	if len(parts) != 3 {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}

	var params Argon2idParams
	for _, kv := range strings.Split(parts[0], ",") {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return Argon2idParams{}, nil, nil, ErrInvalidHash
		}
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil || n == 0 {
			return Argon2idParams{}, nil, nil, ErrInvalidHash
		}
		switch k {
		case "m":
			params.MemoryKiB = uint32(n)
		case "t":
			params.Iterations = uint32(n)
		case "p":
			if n > 255 {
				return Argon2idParams{}, nil, nil, ErrInvalidHash
			}
			params.Parallelism = uint8(n)
		default:
			return Argon2idParams{}, nil, nil, ErrInvalidHash
		}
	}
	if params.MemoryKiB == 0 || params.Iterations == 0 || params.Parallelism == 0 {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}

	salt, err := b64.DecodeString(parts[1])
	if err != nil {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}
	key, err := b64.DecodeString(parts[2])
	if err != nil {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}
	params.SaltLength = uint32(len(salt)) // #nosec G115 -- bounded by withinBounds.
	params.KeyLength = uint32(len(key))   // #nosec G115 -- bounded by withinBounds.

	return params, salt, key, nil
}

package password

import (
	"fmt"
	"math"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// Argon2idParams controls Argon2id hashing cost.
// MemoryKiB is in KiB as required by argon2.IDKey.
type Argon2idParams struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Policy bounds the passwords accepted when a new hash is minted.
// Verification never applies it; a stored hash is checked as-is.
type Policy struct {
	MinLength      int
	MaxLength      int
	RejectVeryWeak bool
}

type Config struct {
	Params Argon2idParams
	Policy Policy
}

// DefaultConfig targets small single-board hosts: 19 MiB, two passes.
func DefaultConfig() Config {
	threads := runtime.NumCPU()
	if threads < 1 {
		threads = 1
	}
	if threads > 4 {
		threads = 4
	}

	return Config{
		Params: Argon2idParams{
			MemoryKiB:   19 * 1024,
			Iterations:  2,
			Parallelism: uint8(threads), // #nosec G115 -- clamped to [1..4].
			SaltLength:  16,
			KeyLength:   32,
		},
		Policy: Policy{
			MinLength: 8,
			MaxLength: 256,
		},
	}
}

type envSetter func(cfg *Config, raw string) error

// envSurface lists every variable FromEnv understands, in application order.
var envSurface = []struct {
	key string
	set envSetter
}{
	{"STARTD_PASSWORD_MIN_LEN", func(c *Config, v string) error { return setInt(&c.Policy.MinLength, v, 1, 1024) }},
	{"STARTD_PASSWORD_MAX_LEN", func(c *Config, v string) error { return setInt(&c.Policy.MaxLength, v, 1, 4096) }},
	{"STARTD_PASSWORD_REJECT_VERY_WEAK", func(c *Config, v string) error { return setBool(&c.Policy.RejectVeryWeak, v) }},
	{"STARTD_ARGON2_MEMORY_KIB", func(c *Config, v string) error { return setU32(&c.Params.MemoryKiB, v, 4*1024, 1024*1024) }},
	{"STARTD_ARGON2_ITERATIONS", func(c *Config, v string) error { return setU32(&c.Params.Iterations, v, 1, 20) }},
	{"STARTD_ARGON2_PARALLELISM", func(c *Config, v string) error {
		var u uint32
		if err := setU32(&u, v, 1, math.MaxUint8); err != nil {
			return err
		}
		c.Params.Parallelism = uint8(u) // #nosec G115 -- bounded above.
		return nil
	}},
	{"STARTD_ARGON2_SALT_LEN", func(c *Config, v string) error { return setU32(&c.Params.SaltLength, v, 8, 64) }},
	{"STARTD_ARGON2_KEY_LEN", func(c *Config, v string) error { return setU32(&c.Params.KeyLength, v, 16, 64) }},
}

// FromEnv applies STARTD_PASSWORD_* and STARTD_ARGON2_* overrides to DefaultConfig.
func FromEnv() (Config, error) {
	cfg := DefaultConfig()

	for _, e := range envSurface {
		v, ok := os.LookupEnv(e.key)
		if !ok {
			continue
		}
		if err := e.set(&cfg, strings.TrimSpace(v)); err != nil {
			return Config{}, fmt.Errorf("%s: %w", e.key, err)
		}
	}

	if cfg.Policy.MinLength > cfg.Policy.MaxLength {
		return Config{}, fmt.Errorf(
			"password policy invalid: min_len(%d) > max_len(%d)",
			cfg.Policy.MinLength,
			cfg.Policy.MaxLength,
		)
	}
	return cfg, nil
}

func setInt(dst *int, s string, minVal, maxVal int) error {
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("not an integer")
	}
	if n < minVal || n > maxVal {
		return fmt.Errorf("out of range [%d..%d]", minVal, maxVal)
	}
	*dst = n
	return nil
}

func setU32(dst *uint32, s string, minVal, maxVal uint32) error {
	u64, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return fmt.Errorf("not an unsigned integer")
	}
	u := uint32(u64)
	if u < minVal || u > maxVal {
		return fmt.Errorf("out of range [%d..%d]", minVal, maxVal)
	}
	*dst = u
	return nil
}

func setBool(dst *bool, s string) error {
	b, err := strconv.ParseBool(strings.ToLower(s))
	if err != nil {
		switch strings.ToLower(s) {
		case "yes", "on":
			b = true
		case "no", "off":
			b = false
		default:
			return fmt.Errorf("invalid boolean")
		}
	}
	*dst = b
	return nil
}

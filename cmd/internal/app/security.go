package app

import (
	"errors"
	"fmt"

	"startd/cmd/security/token"
)

// ValidateSecurityConfig enforces the token hashing policy at startup.
// It validates through the same package that hashes session tokens.
func ValidateSecurityConfig(cfg Config) error {
	h, err := token.HasherFromEnv()
	if err != nil {
		if errors.Is(err, token.ErrHMACKeyTooShort) {
			return fmt.Errorf("security policy: %s is too short (min %d bytes)", token.HMACEnvKey, token.MinHMACKeyBytes)
		}
		return err
	}

	if cfg.RequireTokenHMAC && !h.Keyed() {
		return fmt.Errorf("security policy: STARTD_REQUIRE_TOKEN_HMAC=true but %s is missing", token.HMACEnvKey)
	}
	return nil
}

package session

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config tunes the session subsystem.
type Config struct {
	// TouchInterval is the minimum gap between last_active writes for one session.
	TouchInterval time.Duration

	// LoginFailMax failed logins from one address within LoginFailWindow
	// block further attempts until the oldest failure ages out. Zero disables.
	LoginFailMax    int
	LoginFailWindow time.Duration
}

func DefaultConfig() Config {
	return Config{
		TouchInterval:   time.Minute,
		LoginFailMax:    10,
		LoginFailWindow: 5 * time.Minute,
	}
}

// LoadConfigFromEnv overlays environment overrides on DefaultConfig.
//
// Optional:
//   - STARTD_AUTH_TOUCH_INTERVAL (duration, >= 0)
//   - STARTD_AUTH_LOGIN_FAIL_MAX (int, >= 0)
//   - STARTD_AUTH_LOGIN_FAIL_WINDOW (duration, > 0)
//
// Returns ErrConfig if a value does not parse.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := strings.TrimSpace(os.Getenv("STARTD_AUTH_TOUCH_INTERVAL")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, ErrConfig
		}
		cfg.TouchInterval = d
	}

	if v := strings.TrimSpace(os.Getenv("STARTD_AUTH_LOGIN_FAIL_MAX")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return Config{}, ErrConfig
		}
		cfg.LoginFailMax = n
	}

	if v := strings.TrimSpace(os.Getenv("STARTD_AUTH_LOGIN_FAIL_WINDOW")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.LoginFailWindow = d
	}

	return cfg, nil
}

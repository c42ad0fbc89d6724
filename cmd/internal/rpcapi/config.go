package rpcapi

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config controls the RPC endpoint.
type Config struct {
	TrustProxy   bool
	MaxBodyBytes int64

	// Per client IP, across all methods.
	RateLimit  int
	RateWindow time.Duration

	// FollowInterval paces server.metrics.follow.
	FollowInterval time.Duration
}

// LoadConfigFromEnv loads Config from environment variables with safe defaults.
func LoadConfigFromEnv() Config {
	return Config{
		TrustProxy:     envBool("STARTD_RPC_TRUST_PROXY", false),
		MaxBodyBytes:   envInt64("STARTD_RPC_MAX_BODY_BYTES", 1<<20), // 1 MiB
		RateLimit:      envInt("STARTD_RPC_RATE_LIMIT", 120),
		RateWindow:     envDuration("STARTD_RPC_RATE_WINDOW", 10*time.Second),
		FollowInterval: envDuration("STARTD_RPC_FOLLOW_INTERVAL", time.Second),
	}
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

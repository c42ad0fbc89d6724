package app

import (
	"errors"
	"fmt"
	"io/fs"
	"net/netip"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is read when STARTD_CONFIG is unset.
const DefaultConfigFile = "/etc/startd/config.yaml"

// Config contains all runtime configuration, loaded from the server config
// file and then overridden by environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBSchema    string
	DBMaxConns  int32
	DBMinConns  int32

	// DataDir holds main.json, sessions.db and disk.guid. Empty keeps
	// everything in memory.
	DataDir string

	TorControl        netip.AddrPort
	TorSocks          netip.AddrPort
	DNSBind           []netip.AddrPort
	EthernetInterface string
	ProcMount         string

	// MetricsInterval is how often the metrics cache is refreshed.
	MetricsInterval time.Duration

	// If true, /readyz returns 503 unless Postgres is configured and reachable.
	ReadinessRequireDB bool

	// If true, STARTD_TOKEN_HMAC_KEY MUST be set and session tokens are HMAC-hashed.
	RequireTokenHMAC bool

	// ConfigFile is the path the file layer was read from ("" when absent).
	ConfigFile string
}

// fileConfig is the on-disk server config.
type fileConfig struct {
	DataDir           string   `yaml:"datadir"`
	TorControl        string   `yaml:"tor_control"`
	TorSocks          string   `yaml:"tor_socks"`
	DNSBind           []string `yaml:"dns_bind"`
	EthernetInterface string   `yaml:"ethernet_interface"`
}

// LoadConfig reads the YAML server config (STARTD_CONFIG, default
// /etc/startd/config.yaml; a missing file is fine) and applies STARTD_*
// environment overrides on top.
func LoadConfig() (Config, error) {
	cfg := Config{
		HTTPAddr:  EnvString("STARTD_HTTP_ADDR", "127.0.0.1:5959"),
		LogLevel:  EnvString("STARTD_LOG_LEVEL", "info"),
		LogFormat: EnvString("STARTD_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("STARTD_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("STARTD_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("STARTD_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("STARTD_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("STARTD_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("STARTD_DATABASE_URL", ""),
		DBSchema:    EnvString("STARTD_DB_SCHEMA", "startd"),
		DBMaxConns:  EnvInt32("STARTD_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("STARTD_DB_MIN_CONNS", 0),

		ProcMount:       EnvString("STARTD_PROC_MOUNT", "/proc"),
		MetricsInterval: EnvDuration("STARTD_METRICS_INTERVAL", 5*time.Second),

		ReadinessRequireDB: EnvBool("STARTD_READINESS_REQUIRE_DB", false),
		RequireTokenHMAC:   EnvBool("STARTD_REQUIRE_TOKEN_HMAC", false),
	}

	path := EnvString("STARTD_CONFIG", DefaultConfigFile)
	fc, err := readConfigFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return Config{}, err
	default:
		cfg.ConfigFile = path
	}

	cfg.DataDir = EnvString("STARTD_DATADIR", fc.DataDir)
	cfg.EthernetInterface = EnvString("STARTD_ETHERNET_INTERFACE", fc.EthernetInterface)

	if cfg.TorControl, err = EnvAddrPort("STARTD_TOR_CONTROL", fc.TorControl); err != nil {
		return Config{}, err
	}
	if cfg.TorSocks, err = EnvAddrPort("STARTD_TOR_SOCKS", fc.TorSocks); err != nil {
		return Config{}, err
	}

	binds := fc.DNSBind
	if v := EnvCSV("STARTD_DNS_BIND"); len(v) > 0 {
		binds = v
	}
	for _, b := range binds {
		ap, err := netip.ParseAddrPort(strings.TrimSpace(b))
		if err != nil {
			return Config{}, fmt.Errorf("dns_bind %q: %w", b, err)
		}
		cfg.DNSBind = append(cfg.DNSBind, ap)
	}

	return cfg, nil
}

func readConfigFile(path string) (fileConfig, error) {
	var fc fileConfig

	b, err := os.ReadFile(path) // #nosec G304 -- operator-supplied config path.
	if err != nil {
		return fc, err
	}
	if err := yaml.Unmarshal(b, &fc); err != nil {
		return fc, fmt.Errorf("%s: %w", path, err)
	}
	return fc, nil
}

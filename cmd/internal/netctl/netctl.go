// Package netctl is the hub's handle on the host network stack: the tor
// daemon (control + SOCKS ports), the DNS listener, and the proxy-aware HTTP
// client the rest of the server uses for outbound requests.
package netctl

import (
	"context"
	"crypto/ed25519"
	"encoding/base32"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"strings"

	"golang.org/x/crypto/sha3"
)

// Defaults for a stock install with a local tor daemon.
var (
	DefaultTorControl = netip.MustParseAddrPort("127.0.0.1:9051")
	DefaultTorSocks   = netip.MustParseAddrPort("127.0.0.1:9050")
	DefaultDNSBind    = []netip.AddrPort{
		netip.MustParseAddrPort("127.0.0.1:53"),
		netip.MustParseAddrPort("[::1]:53"),
	}
)

type Config struct {
	Hostname   string
	TorKey     ed25519.PrivateKey
	TorControl netip.AddrPort
	TorSocks   netip.AddrPort
	DNSBind    []netip.AddrPort
}

// Controller is opaque to the hub once initialized.
type Controller struct {
	cfg   Config
	onion string
}

// Init validates cfg and derives the server's onion address.
func Init(ctx context.Context, cfg Config, log *slog.Logger) (*Controller, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	if strings.TrimSpace(cfg.Hostname) == "" {
		return nil, fmt.Errorf("netctl: empty hostname")
	}
	if !cfg.TorControl.IsValid() {
		cfg.TorControl = DefaultTorControl
	}
	if !cfg.TorSocks.IsValid() {
		cfg.TorSocks = DefaultTorSocks
	}
	if len(cfg.DNSBind) == 0 {
		cfg.DNSBind = DefaultDNSBind
	}
	for _, b := range cfg.DNSBind {
		if !b.IsValid() {
			return nil, fmt.Errorf("netctl: invalid dns bind %q", b)
		}
	}

	c := &Controller{cfg: cfg}
	if len(cfg.TorKey) == ed25519.PrivateKeySize {
		c.onion = OnionAddress(cfg.TorKey.Public().(ed25519.PublicKey))
	}

	log.Info("netctl.init",
		"hostname", cfg.Hostname,
		"onion", c.onion,
		"tor_control", cfg.TorControl.String(),
		"tor_socks", cfg.TorSocks.String(),
		"dns_bind", len(cfg.DNSBind),
	)
	return c, nil
}

func (c *Controller) Hostname() string { return c.cfg.Hostname }
func (c *Controller) OnionAddress() string { return c.onion }
func (c *Controller) TorSocks() netip.AddrPort { return c.cfg.TorSocks }
func (c *Controller) TorControl() netip.AddrPort { return c.cfg.TorControl }

// OnionAddress returns the v3 onion hostname for pub:
// base32(pub || checksum[:2] || 0x03) + ".onion".
func OnionAddress(pub ed25519.PublicKey) string {
	const version = 0x03

	h := sha3.New256()
	h.Write([]byte(".onion checksum"))
	h.Write(pub)
	h.Write([]byte{version})
	sum := h.Sum(nil)

	buf := make([]byte, 0, len(pub)+3)
	buf = append(buf, pub...)
	buf = append(buf, sum[0], sum[1], version)

	return strings.ToLower(base32.StdEncoding.EncodeToString(buf)) + ".onion"
}

// IsOnionHost reports whether host (with or without port) is an onion name.
func IsOnionHost(host string) bool {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.HasSuffix(strings.ToLower(strings.TrimSuffix(host, ".")), ".onion")
}

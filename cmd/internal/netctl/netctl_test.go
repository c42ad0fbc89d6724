package netctl

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base32"
	"net"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"
	"time"
)

func TestOnionAddress_Shape(t *testing.T) {
	t.Parallel()

	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	addr := OnionAddress(pub)
	if len(addr) != 56+len(".onion") || !strings.HasSuffix(addr, ".onion") {
		t.Fatalf("unexpected onion address %q", addr)
	}

	raw, err := base32.StdEncoding.DecodeString(strings.ToUpper(strings.TrimSuffix(addr, ".onion")))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(raw[:32], pub) || raw[34] != 0x03 {
		t.Fatalf("onion payload does not embed key and version")
	}
}

func TestIsOnionHost(t *testing.T) {
	t.Parallel()

	cases := map[string]bool{
		"abc.onion":       true,
		"abc.onion:80":    true,
		"ABC.ONION.":      true,
		"example.com:443": false,
		"onion":           false,
		"127.0.0.1:9050":  false,
		"notonion.com":    false,
	}
	for host, want := range cases {
		if got := IsOnionHost(host); got != want {
			t.Fatalf("IsOnionHost(%q)=%v want %v", host, got, want)
		}
	}
}

func TestInit_DefaultsAndValidation(t *testing.T) {
	t.Parallel()

	_, key, _ := ed25519.GenerateKey(rand.Reader)
	c, err := Init(context.Background(), Config{Hostname: "adjective-noun", TorKey: key}, nil)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if c.TorSocks() != DefaultTorSocks || c.TorControl() != DefaultTorControl {
		t.Fatalf("defaults not applied")
	}
	if c.OnionAddress() == "" {
		t.Fatalf("expected derived onion address")
	}

	if _, err := Init(context.Background(), Config{}, nil); err == nil {
		t.Fatalf("empty hostname must fail")
	}
	if _, err := Init(context.Background(), Config{Hostname: "h", DNSBind: []netip.AddrPort{{}}}, nil); err == nil {
		t.Fatalf("invalid dns bind must fail")
	}
}

func TestProxyClient_RoutesByHost(t *testing.T) {
	t.Parallel()

	// A listener standing in for the tor SOCKS port; it only records the connection.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	accepted := make(chan struct{}, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		accepted <- struct{}{}
		_ = conn.Close()
	}()

	socks := netip.MustParseAddrPort(ln.Addr().String())
	client, err := NewProxyClient(socks)
	if err != nil {
		t.Fatalf("NewProxyClient: %v", err)
	}
	client.Timeout = 2 * time.Second

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer srv.Close()

	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("direct request: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusTeapot {
		t.Fatalf("direct request status=%d", resp.StatusCode)
	}
	select {
	case <-accepted:
		t.Fatalf("clearnet request must not touch the socks proxy")
	default:
	}

	if _, err := client.Get("http://exampleonionaddress.onion/"); err == nil {
		t.Fatalf("expected failure from the fake socks proxy")
	}
	select {
	case <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatalf("onion request must go through the socks proxy")
	}
}

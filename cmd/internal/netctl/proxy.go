package netctl

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/netip"
	"time"

	"golang.org/x/net/proxy"
)

// NewProxyClient returns an HTTP client that sends .onion requests through
// the tor SOCKS5 proxy at socks (hostnames resolved by the proxy) and
// everything else directly.
func NewProxyClient(socks netip.AddrPort) (*http.Client, error) {
	if !socks.IsValid() {
		return nil, errors.New("netctl: invalid socks address")
	}

	direct := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
	d, err := proxy.SOCKS5("tcp", socks.String(), nil, direct)
	if err != nil {
		return nil, err
	}
	socksDialer, ok := d.(proxy.ContextDialer)
	if !ok {
		return nil, errors.New("netctl: socks dialer lacks DialContext")
	}

	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.Proxy = nil
	tr.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		if IsOnionHost(addr) {
			return socksDialer.DialContext(ctx, network, addr)
		}
		return direct.DialContext(ctx, network, addr)
	}

	return &http.Client{Transport: tr}, nil
}

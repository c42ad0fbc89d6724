// Package main is a CI-friendly end-to-end smoke test for the continuation
// path.
//
// It validates:
//   - auth.login sets a session cookie
//   - server.metrics.follow returns a guid
//   - /ws/rpc/{guid} upgrades and streams at least one metrics frame
//   - the guid cannot be claimed a second time
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "startd/shared/contracts/rpc/v1"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const maxReadBytes = 1 << 20 // 1MiB

func main() {
	var (
		baseURL  = flag.String("url", "http://127.0.0.1:5959", "server base URL")
		origin   = flag.String("origin", "", "Origin header for the WebSocket handshake (browser-like)")
		password = flag.String("password", os.Getenv("STARTD_SMOKE_PASSWORD"), "account password")
		timeout  = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose  = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	base, err := validateBaseURL(*baseURL)
	if err != nil {
		fatalf("invalid -url: %v", err)
	}
	if *password == "" {
		fatalf("missing -password (or STARTD_SMOKE_PASSWORD)")
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		fatalf("cookie jar: %v", err)
	}
	client := &http.Client{Jar: jar, Timeout: *timeout}
	root := context.Background()

	mustCall(root, client, base, v1.MethodAuthLogin, v1.LoginParams{Password: *password}, nil)
	if len(jar.Cookies(base)) == 0 {
		fatalf("login: no session cookie set")
	}

	var cont v1.ContinuationResult
	mustCall(root, client, base, v1.MethodServerMetricsFollow, nil, &cont)
	if strings.TrimSpace(cont.Guid) == "" {
		fatalf("follow: empty guid")
	}
	if *verbose {
		fmt.Printf("follow guid=%s\n", cont.Guid)
	}

	frame := mustReadFrame(root, jar, base, cont.Guid, *origin, *timeout)
	if *verbose {
		fmt.Printf("frame=%s\n", frame)
	}

	mustRejectReclaim(root, jar, base, cont.Guid, *origin, *timeout)

	fmt.Printf("OK: guid=%s frame_bytes=%d\n", cont.Guid, len(frame))
}

func validateBaseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return nil, errors.New("missing host")
	}
	return u, nil
}

func wsURL(base *url.URL, guid string) string {
	u := *base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/rpc/" + url.PathEscape(guid)
	return u.String()
}

func mustCall(ctx context.Context, client *http.Client, base *url.URL, method string, params, out any) {
	req := v1.Request{JSONRPC: v1.Version, ID: json.RawMessage(`1`), Method: method}
	if params != nil {
		req.Params = mustJSON(params)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, base.JoinPath(v1.Path).String(), bytes.NewReader(mustJSON(req)))
	if err != nil {
		fatalf("%s: %v", method, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		fatalf("%s: %v", method, err)
	}
	defer resp.Body.Close()

	var rpcResp v1.Response
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		fatalf("%s: decode (http %d): %v", method, resp.StatusCode, err)
	}
	if rpcResp.Error != nil {
		fatalf("%s: %v", method, rpcResp.Error)
	}
	if out != nil {
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			fatalf("%s: result: %v", method, err)
		}
	}
}

func dial(ctx context.Context, jar http.CookieJar, base *url.URL, guid, origin string) (*websocket.Conn, *http.Response, error) {
	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}
	for _, c := range jar.Cookies(base) {
		h.Add("Cookie", c.Name+"="+c.Value)
	}
	return websocket.Dial(ctx, wsURL(base, guid), &websocket.DialOptions{HTTPHeader: h})
}

func mustReadFrame(parent context.Context, jar http.CookieJar, base *url.URL, guid, origin string, stepTimeout time.Duration) json.RawMessage {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	conn, resp, err := dial(ctx, jar, base, guid, origin)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "smoke done")
	conn.SetReadLimit(maxReadBytes)

	var frame json.RawMessage
	if err := wsjson.Read(ctx, conn, &frame); err != nil {
		fatalf("read frame: %v", err)
	}

	var probe struct {
		SampledAt time.Time `json:"sampledAt"`
	}
	if err := json.Unmarshal(frame, &probe); err != nil {
		fatalf("frame is not a metrics object: %v", err)
	}
	return frame
}

func mustRejectReclaim(parent context.Context, jar http.CookieJar, base *url.URL, guid, origin string, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	conn, resp, err := dial(ctx, jar, base, guid, origin)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err == nil {
		_ = conn.Close(websocket.StatusNormalClosure, "")
		fatalf("reclaim: guid %s was claimable twice", guid)
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		fatalf("reclaim: want 404, got %v", err)
	}
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		fatalf("marshal: %v", err)
	}
	return b
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}

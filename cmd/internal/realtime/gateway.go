// Package realtime serves the follow-up half of a continuation-producing RPC:
// the WebSocket and REST endpoints that claim a continuation by its guid and
// run its handler.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"

	"startd/cmd/internal/auth/session"
	"startd/cmd/internal/continuation"
	"startd/cmd/internal/errs"
	"startd/cmd/internal/metrics"
)

// Security defaults: no Origin (CLI clients) is accepted, a browser Origin
// must be same-host or allowlisted.
const (
	wsDefaultOriginRequired = false
	wsDefaultAllowedOrigins = "http://localhost,http://127.0.0.1"
)

// Claimer hands out registered continuations. *hub.Hub and
// *continuation.Registry both satisfy it.
type Claimer interface {
	ClaimWebSocket(ctx context.Context, guid continuation.RequestGuid) (continuation.WebSocketHandler, bool)
	ClaimRest(ctx context.Context, guid continuation.RequestGuid) (continuation.RestHandler, bool)
}

// Authenticator resolves a request's session cookie. CheckActive re-reads a
// session without touching it.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (session.HashedToken, error)
	CheckActive(ctx context.Context, tok session.HashedToken) error
}

// Gateway is the continuation entrypoint.
//
// A WebSocket request is checked against the origin policy, authenticated
// when it carries a session cookie, and only then claims its continuation,
// so a rejected handshake never consumes one. Sockets opened under a
// session are registered in OpenWebSockets before the claim and closed when
// that session is killed. A kill that lands between authentication and
// registration is caught by re-checking the session once registered.
type Gateway struct {
	log     *slog.Logger
	claims  Claimer
	auth    Authenticator
	sockets *session.OpenWebSockets

	devInsecure    bool
	originRequired bool
	allowedOrigins []string

	// Derived for websocket.Accept origin checks.
	originPatterns []string

	heartbeatEvery   time.Duration
	heartbeatTimeout time.Duration
}

// NewGateway reads its policy from STARTD_WS_* env vars. auth and sockets
// may be nil, in which case sockets are never tied to a session.
func NewGateway(log *slog.Logger, claims Claimer, auth Authenticator, sockets *session.OpenWebSockets) *Gateway {
	if log == nil {
		log = slog.Default()
	}

	g := &Gateway{log: log, claims: claims, auth: auth, sockets: sockets}

	// TLS verification knob for dev; not an origin policy.
	g.devInsecure = envBoolWS("STARTD_WS_DEV_INSECURE", false)

	g.originRequired = envBoolWS("STARTD_WS_ORIGIN_REQUIRED", wsDefaultOriginRequired)
	g.allowedOrigins = envCSVWS("STARTD_WS_ALLOWED_ORIGINS", wsDefaultAllowedOrigins)
	g.originPatterns = deriveOriginPatternsFromAllowedOrigins(g.allowedOrigins)

	g.heartbeatEvery = envDurationWS("STARTD_WS_HEARTBEAT_INTERVAL", heartbeatInterval)
	g.heartbeatTimeout = envDurationWS("STARTD_WS_HEARTBEAT_TIMEOUT", heartbeatTimeout)

	return g
}

// Register mounts the continuation endpoints on mux.
func (g *Gateway) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/rpc/{guid}", g.HandleWS)
	mux.HandleFunc("/rest/rpc/{guid}", g.HandleRest)
}

func guidFromPath(r *http.Request) (continuation.RequestGuid, bool) {
	return continuation.ParseGuid(r.PathValue("guid"))
}

// HandleRest claims a REST continuation and lets its handler answer r.
func (g *Gateway) HandleRest(w http.ResponseWriter, r *http.Request) {
	guid, ok := guidFromPath(r)
	if !ok {
		http.NotFound(w, r)
		return
	}

	h, ok := g.claims.ClaimRest(r.Context(), guid)
	if !ok {
		g.log.Info("rest.continuation.miss", "guid", guid.String())
		http.NotFound(w, r)
		return
	}
	if h == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h(w, r)
}

// HandleWS claims a WebSocket continuation, upgrades, and runs its handler
// until it returns, the peer goes away, or the owning session is killed.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	guid, ok := guidFromPath(r)
	if !ok {
		http.NotFound(w, r)
		return
	}

	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	tok, authed, err := g.authenticate(r)
	if err != nil {
		g.log.Error("ws.auth.fail", "err", err, "remote", r.RemoteAddr)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	var sig *session.CloseSignal
	if authed && g.sockets != nil {
		sig = g.sockets.Register(tok.Hashed())
		defer g.sockets.Deregister(tok.Hashed(), sig)

		// Kill marks the store before it fires signals, so a kill missed by
		// Register shows up here.
		if err := g.auth.CheckActive(r.Context(), tok); err != nil {
			if errs.IsAuthorization(err) {
				g.log.Info("ws.reject.killed", "session", tok, "remote", r.RemoteAddr)
				http.Error(w, "session logged out", http.StatusUnauthorized)
				return
			}
			g.log.Error("ws.auth.fail", "err", err, "remote", r.RemoteAddr)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
	}

	handler, ok := g.claims.ClaimWebSocket(r.Context(), guid)
	if !ok {
		g.log.Info("ws.continuation.miss", "guid", guid.String(), "remote", r.RemoteAddr)
		http.NotFound(w, r)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.devInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	st := newStream(conn, cancel)

	if sig != nil {
		metrics.OpenWebSockets.Inc()
		defer metrics.OpenWebSockets.Dec()

		go func() {
			select {
			case <-sig.Done():
				g.log.Info("ws.session.killed", "session", tok, "guid", guid.String())
				st.shutdown(websocket.StatusPolicyViolation, "session logged out")
			case <-st.Done():
			}
		}()
	}

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		g.heartbeat(ctx, st, guid)
	}()

	g.log.Info("ws.continuation.start", "guid", guid.String(), "authed", authed)

	var runErr error
	if handler != nil {
		runErr = handler(ctx, conn)
	}

	switch {
	case runErr == nil:
		st.shutdown(websocket.StatusNormalClosure, "done")
	case websocket.CloseStatus(runErr) != -1, errors.Is(runErr, context.Canceled):
		st.shutdown(websocket.StatusNormalClosure, "peer closed")
	default:
		g.log.Info("ws.continuation.fail", "guid", guid.String(), "err", runErr)
		st.shutdown(websocket.StatusInternalError, "continuation failed")
	}

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
}

// authenticate is optional: a request without a valid session proceeds
// unauthenticated. Only store failures are reported.
func (g *Gateway) authenticate(r *http.Request) (session.HashedToken, bool, error) {
	if g.auth == nil {
		return session.HashedToken{}, false, nil
	}
	tok, err := g.auth.Authenticate(r.Context(), r)
	switch {
	case err == nil:
		return tok, true, nil
	case errs.IsAuthorization(err):
		return session.HashedToken{}, false, nil
	default:
		return session.HashedToken{}, false, err
	}
}

// heartbeat pings until the stream ends. Pongs are only observed while
// something reads from the connection; handlers that never read must call
// conn.CloseRead.
func (g *Gateway) heartbeat(ctx context.Context, st *stream, guid continuation.RequestGuid) {
	t := time.NewTicker(g.heartbeatEvery)
	defer t.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-st.Done():
			return
		case <-t.C:
			hbCtx, hbCancel := context.WithTimeout(ctx, g.heartbeatTimeout)
			err := st.conn.Ping(hbCtx)
			hbCancel()

			if err != nil {
				failures++
				g.log.Info("ws.ping.fail", "guid", guid.String(), "failures", failures, "err", err)
				if failures >= wsMaxPingFailures {
					st.shutdown(websocket.StatusGoingAway, "heartbeat failed")
					return
				}
				continue
			}
			failures = 0
		}
	}
}

// ---- origin policy ----

func (g *Gateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.originRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	originHost := originHostOnly(origin)
	if originHost != "" && originHost == originHostOnly(r.Host) {
		return nil
	}

	for _, a := range g.allowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" {
			return nil
		}
		if origin == a {
			return nil
		}
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}

	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		s = strings.TrimSpace(u.Host)
		if s == "" {
			return ""
		}
	}

	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

// deriveOriginPatternsFromAllowedOrigins returns the sorted allowlist hosts
// in the form websocket.Accept matches against.
func deriveOriginPatternsFromAllowedOrigins(allowed []string) []string {
	seen := make(map[string]struct{}, len(allowed))
	out := make([]string, 0, len(allowed))

	for _, a := range allowed {
		if strings.TrimSpace(a) == "*" {
			return []string{"*"}
		}
		h := originHostOnly(a)
		if h == "" {
			continue
		}
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}

	slices.Sort(out)
	return out
}

// ---- env helpers ----

func envBoolWS(key string, def bool) bool {
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

func envDurationWS(key string, def time.Duration) time.Duration {
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

func envCSVWS(key string, def string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		raw = def
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

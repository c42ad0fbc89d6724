// Package rpcapi serves the JSON-RPC 2.0 endpoint. Each call borrows the
// hub, authenticates unless the method is flagged otherwise, and either
// answers directly or registers a continuation and answers with its guid.
package rpcapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"startd/cmd/internal/auth/session"
	"startd/cmd/internal/continuation"
	"startd/cmd/internal/db"
	"startd/cmd/internal/errs"
	"startd/cmd/internal/metrics"
	"startd/cmd/internal/system"
	v1 "startd/shared/contracts/rpc/v1"
)

// Backend is the slice of the hub the RPC layer uses. *hub.Hub satisfies it.
type Backend interface {
	Auth() *session.Service
	DB() db.Store
	Metrics() (system.Metrics, bool)
	StartTime() time.Time
	RegisterContinuation(cont continuation.Continuation) (continuation.RequestGuid, error)
}

// call is what a method sees of its request.
type call struct {
	w       http.ResponseWriter
	r       *http.Request
	session session.HashedToken
	remote  string
}

type method struct {
	authenticated bool
	fn            func(ctx context.Context, c *call, params json.RawMessage) (any, error)
}

// Handler dispatches JSON-RPC calls.
type Handler struct {
	log     *slog.Logger
	cfg     Config
	backend Backend
	limiter *ipLimiter
	methods map[string]method
	now     func() time.Time
}

func NewHandler(log *slog.Logger, cfg Config, backend Backend) *Handler {
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.FollowInterval <= 0 {
		cfg.FollowInterval = time.Second
	}

	h := &Handler{
		log:     log,
		cfg:     cfg,
		backend: backend,
		limiter: newIPLimiter(cfg.RateLimit, cfg.RateWindow),
		now:     func() time.Time { return time.Now().UTC() },
	}
	h.methods = map[string]method{
		v1.MethodAuthLogin:           {authenticated: false, fn: h.login},
		v1.MethodAuthLogout:          {authenticated: false, fn: h.logout},
		v1.MethodSessionList:         {authenticated: true, fn: h.sessionList},
		v1.MethodSessionKill:         {authenticated: true, fn: h.sessionKill},
		v1.MethodServerTime:          {authenticated: true, fn: h.serverTime},
		v1.MethodServerMetrics:       {authenticated: true, fn: h.serverMetrics},
		v1.MethodServerMetricsFollow: {authenticated: true, fn: h.serverMetricsFollow},
		v1.MethodDBDump:              {authenticated: true, fn: h.dbDump},
	}
	return h
}

// Register wires the RPC route onto mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.Handle("POST "+v1.Path, h)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	remote := clientIP(r, h.cfg.TrustProxy)

	if ok, retry := h.limiter.Allow(remote, h.now()); !ok {
		w.Header().Set("Retry-After", strconv.FormatInt(int64(retry.Seconds())+1, 10))
		writeRPCError(w, http.StatusTooManyRequests, nil, &v1.Error{
			Code:    v1.CodeRateLimited,
			Message: "too many requests",
			Data:    &v1.ErrorData{Kind: "rate_limited", RetryAfterSeconds: int64(retry.Seconds()) + 1},
		})
		return
	}

	var req v1.Request
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeRPCError(w, http.StatusOK, nil, &v1.Error{Code: v1.CodeParseError, Message: "parse error"})
		return
	}
	if err := req.Validate(); err != nil {
		writeRPCError(w, http.StatusOK, req.ID, &v1.Error{Code: v1.CodeInvalidRequest, Message: err.Error()})
		return
	}

	m, ok := h.methods[req.Method]
	if !ok {
		metrics.RPCRequestsTotal.WithLabelValues("unknown", "method_not_found").Inc()
		writeRPCError(w, http.StatusOK, req.ID, &v1.Error{Code: v1.CodeMethodNotFound, Message: "method not found"})
		return
	}

	ctx := r.Context()
	c := &call{w: w, r: r, remote: remote}

	result, err := h.invoke(ctx, m, c, req.Params)
	if err != nil {
		kind := errs.KindOf(err)
		metrics.RPCRequestsTotal.WithLabelValues(req.Method, errs.Name(kind)).Inc()
		h.logFailure(req.Method, remote, err)

		var rl session.LoginRateLimitError
		if errors.As(err, &rl) && rl.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.FormatInt(int64(rl.RetryAfter.Seconds())+1, 10))
		}
		writeRPCError(w, http.StatusOK, req.ID, toRPCError(err))
		return
	}

	raw, err := json.Marshal(result)
	if err != nil {
		h.log.Error("rpc.result.encode_fail", "method", req.Method, "err", err)
		writeRPCError(w, http.StatusOK, req.ID, toRPCError(errs.Wrap("rpc.encode", errs.ErrUnknown, err)))
		return
	}

	metrics.RPCRequestsTotal.WithLabelValues(req.Method, "ok").Inc()
	writeJSON(w, http.StatusOK, v1.Response{JSONRPC: v1.Version, ID: nullID(req.ID), Result: raw})
}

func (h *Handler) invoke(ctx context.Context, m method, c *call, params json.RawMessage) (any, error) {
	if m.authenticated {
		tok, err := h.backend.Auth().Authenticate(ctx, c.r)
		if err != nil {
			return nil, err
		}
		c.session = tok
	}
	return m.fn(ctx, c, params)
}

func (h *Handler) logFailure(method, remote string, err error) {
	switch kind := errs.KindOf(err); kind {
	case errs.ErrAuthorization, errs.ErrNotFound, errs.ErrInvalidRequest:
		h.log.Info("rpc.call.rejected", "method", method, "remote", remote, "kind", errs.Name(kind))
	default:
		h.log.Error("rpc.call.fail", "method", method, "remote", remote, "err", err)
	}
}

// toRPCError maps err to the wire error. Messages never carry internals.
func toRPCError(err error) *v1.Error {
	kind := errs.KindOf(err)
	out := &v1.Error{
		Code:    errs.Code(kind),
		Message: errs.Message(err),
		Data:    &v1.ErrorData{Kind: errs.Name(kind)},
	}

	var rl session.LoginRateLimitError
	if errors.As(err, &rl) {
		out.Message = "too many login attempts"
		out.Data.RetryAfterSeconds = int64(rl.RetryAfter.Seconds()) + 1
	}
	return out
}

func invalidParams(op string, err error) error {
	return errs.Error{Op: op, Kind: errs.ErrInvalidRequest, Msg: "invalid params", Err: err}
}

func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip.String()
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip.String()
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip.String()
		}
	}
	return strings.TrimSpace(r.RemoteAddr)
}

func parseForwardedIP(raw string) net.IP {
	if raw == "" {
		return nil
	}
	for _, p := range strings.Split(raw, ",") {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}

package rpcapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"startd/cmd/internal/auth/session"
	"startd/cmd/internal/continuation"
	"startd/cmd/internal/errs"
	v1 "startd/shared/contracts/rpc/v1"
)

func (h *Handler) login(ctx context.Context, c *call, params json.RawMessage) (any, error) {
	const op = "auth.login"

	var p v1.LoginParams
	if err := decodeParams(params, &p); err != nil {
		return nil, invalidParams(op, err)
	}

	var meta any
	if len(p.Metadata) > 0 {
		meta = p.Metadata
	}
	tok, err := h.backend.Auth().Login(ctx, session.LoginInput{
		Password:   p.Password,
		Metadata:   meta,
		UserAgent:  c.r.UserAgent(),
		RemoteAddr: c.remote,
	})
	if err != nil {
		return nil, err
	}

	http.SetCookie(c.w, tok.Cookie())
	return nil, nil
}

func (h *Handler) logout(ctx context.Context, c *call, _ json.RawMessage) (any, error) {
	ended, err := h.backend.Auth().Logout(ctx, c.r)
	if err != nil {
		return nil, err
	}
	if ended == nil {
		ended = []string{}
	}
	http.SetCookie(c.w, &http.Cookie{
		Name:     session.CookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0).UTC(),
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return v1.KillResult{Killed: ended}, nil
}

func (h *Handler) sessionList(ctx context.Context, c *call, _ json.RawMessage) (any, error) {
	return h.backend.Auth().List(ctx, c.r)
}

func (h *Handler) sessionKill(ctx context.Context, _ *call, params json.RawMessage) (any, error) {
	const op = "auth.session.kill"

	var p v1.KillParams
	if err := decodeParams(params, &p); err != nil {
		return nil, invalidParams(op, err)
	}

	killed, err := h.backend.Auth().Kill(ctx, p.IDs)
	if err != nil {
		return nil, err
	}
	if killed == nil {
		killed = []string{}
	}
	return v1.KillResult{Killed: killed}, nil
}

func (h *Handler) serverTime(_ context.Context, _ *call, _ json.RawMessage) (any, error) {
	now := h.now()
	return v1.TimeResult{
		Now:           now,
		UptimeSeconds: int64(now.Sub(h.backend.StartTime()).Seconds()),
	}, nil
}

func (h *Handler) serverMetrics(_ context.Context, _ *call, _ json.RawMessage) (any, error) {
	m, ok := h.backend.Metrics()
	if !ok {
		return nil, errs.New("server.metrics", errs.ErrNotFound, "No Metrics Found")
	}
	return m, nil
}

// serverMetricsFollow hands back a WebSocket continuation that streams the
// metrics cache whenever a new sample lands.
func (h *Handler) serverMetricsFollow(_ context.Context, _ *call, _ json.RawMessage) (any, error) {
	guid, err := h.backend.RegisterContinuation(continuation.WebSocket(h.followMetrics))
	if err != nil {
		return nil, errs.Wrap("server.metrics.follow", errs.ErrUnknown, err)
	}
	return v1.ContinuationResult{Guid: guid.String()}, nil
}

func (h *Handler) followMetrics(ctx context.Context, conn *websocket.Conn) error {
	// Nothing is read from the client; this keeps pings and close frames flowing.
	ctx = conn.CloseRead(ctx)

	t := time.NewTicker(h.cfg.FollowInterval)
	defer t.Stop()

	var last time.Time
	for {
		if m, ok := h.backend.Metrics(); ok && !m.SampledAt.Equal(last) {
			if err := wsjson.Write(ctx, conn, m); err != nil {
				return err
			}
			last = m.SampledAt
		}

		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

// dbDump hands back a REST continuation that downloads the public half of
// the document database.
func (h *Handler) dbDump(_ context.Context, _ *call, _ json.RawMessage) (any, error) {
	guid, err := h.backend.RegisterContinuation(continuation.Rest(func(w http.ResponseWriter, r *http.Request) {
		m, err := h.backend.DB().Peek(r.Context())
		if err != nil {
			h.log.Error("db.dump.fail", "err", err)
			writeRPCError(w, http.StatusInternalServerError, nil, toRPCError(err))
			return
		}
		w.Header().Set("Content-Disposition", `attachment; filename="db-dump.json"`)
		writeJSON(w, http.StatusOK, m.Public)
	}))
	if err != nil {
		return nil, errs.Wrap("db.dump", errs.ErrUnknown, err)
	}
	return v1.ContinuationResult{Guid: guid.String()}, nil
}

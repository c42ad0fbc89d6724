package app

import (
	"errors"
	"net/http"
	"time"

	"startd/cmd/internal/errs"
	"startd/cmd/internal/hub"
	"startd/cmd/internal/metrics"
	"startd/cmd/internal/realtime"
	"startd/cmd/internal/rpcapi"
)

func registerHTTP(
	mux *http.ServeMux,
	log Logger,
	cfg Config,
	h *hub.Hub,
	rpc *rpcapi.Handler,
	gateway *realtime.Gateway,
) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		err := h.Ready(r.Context(), 2*time.Second, cfg.ReadinessRequireDB)
		switch {
		case err == nil:
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
		case errors.Is(err, hub.ErrClosed), errors.Is(err, hub.ErrNoPostgres):
			http.Error(w, errs.Message(err), http.StatusServiceUnavailable)
		default:
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			log.Info("readyz.db.not_ready", "err", err)
		}
	})

	mux.Handle("GET /metrics", metrics.Handler())

	rpc.Register(mux)
	gateway.Register(mux)
}

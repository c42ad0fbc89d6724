// Package hub holds the shared runtime every RPC handler borrows: the
// document database, the session service, the continuation registry, the
// authenticated WebSocket registry, the network controller, the service map
// and a handful of cached host facts.
//
// A Hub is built once by Init and is safe for concurrent use. Each mutable
// field has its own lock. After Shutdown the hub is closed; in diagnostic
// builds any further field access panics.
package hub

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"startd/cmd/internal/account"
	"startd/cmd/internal/auth/session"
	"startd/cmd/internal/continuation"
	"startd/cmd/internal/db"
	"startd/cmd/internal/dependencies"
	"startd/cmd/internal/errs"
	"startd/cmd/internal/netctl"
	"startd/cmd/internal/service"
	"startd/cmd/internal/system"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Hub struct {
	log         *slog.Logger
	diagnostics bool
	closed      atomic.Bool

	db            db.Store
	pool          *pgxpool.Pool
	sessions      session.Store
	auth          *session.Service
	sockets       *session.OpenWebSockets
	continuations *continuation.Registry
	net           *netctl.Controller
	services      *service.Map
	client        *http.Client
	hardware      system.Hardware
	startTime     time.Time
	diskGUID      string
	computeDeps   dependencies.ComputeFunc

	accountMu sync.RWMutex
	account   account.Info

	metricsMu sync.RWMutex
	metrics   system.Metrics
	hasMetric bool

	// release drops resources Init acquired. Not gated by the closed flag.
	release []func()
	stopBg  context.CancelFunc
}

// guard enforces use-after-shutdown discipline.
func (h *Hub) guard() {
	if h.diagnostics && h.closed.Load() {
		panic(fmt.Sprintf("hub: use after shutdown\n%s", debug.Stack()))
	}
}

// Closed reports whether Shutdown has run. It is never guarded.
func (h *Hub) Closed() bool { return h.closed.Load() }

func (h *Hub) DB() db.Store {
	h.guard()
	return h.db
}

// Ping checks that the document database answers within timeout.
func (h *Hub) Ping(ctx context.Context, timeout time.Duration) error {
	h.guard()
	return h.ping(ctx, timeout)
}

func (h *Hub) ping(ctx context.Context, timeout time.Duration) error {
	if h.pool != nil {
		return db.Ping(ctx, h.pool, timeout)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	_, err := h.db.Peek(ctx)
	return err
}

// Readiness failures.
var (
	ErrClosed     = errs.Error{Op: "hub.ready", Kind: errs.ErrUnknown, Msg: "shutting down"}
	ErrNoPostgres = errs.Error{Op: "hub.ready", Kind: errs.ErrDatabase, Msg: "db not configured"}
)

// Ready is the readiness check. Like Closed it is never guarded, so a probe
// racing Shutdown gets ErrClosed or a ping error, not a panic. The stores
// stay open until Close.
func (h *Hub) Ready(ctx context.Context, timeout time.Duration, requirePostgres bool) error {
	if h.closed.Load() {
		return ErrClosed
	}
	if requirePostgres && h.pool == nil {
		return ErrNoPostgres
	}
	return h.ping(ctx, timeout)
}

// Postgres reports whether the hub opened a Postgres pool.
func (h *Hub) Postgres() bool {
	h.guard()
	return h.pool != nil
}

// Auth is the session service (login, logout, list, kill, authenticate).
func (h *Hub) Auth() *session.Service {
	h.guard()
	return h.auth
}

func (h *Hub) OpenWebSockets() *session.OpenWebSockets {
	h.guard()
	return h.sockets
}

func (h *Hub) Continuations() *continuation.Registry {
	h.guard()
	return h.continuations
}

func (h *Hub) Net() *netctl.Controller {
	h.guard()
	return h.net
}

func (h *Hub) Services() *service.Map {
	h.guard()
	return h.services
}

// Client is the outbound HTTP client; onion hosts go through tor.
func (h *Hub) Client() *http.Client {
	h.guard()
	return h.client
}

func (h *Hub) Hardware() system.Hardware {
	h.guard()
	return h.hardware
}

func (h *Hub) StartTime() time.Time {
	h.guard()
	return h.startTime
}

func (h *Hub) DiskGUID() string {
	h.guard()
	return h.diskGUID
}

// Account returns the cached account record.
func (h *Hub) Account() account.Info {
	h.guard()
	return h.currentAccount()
}

// SetAccount replaces the cached account record, e.g. after a password change.
func (h *Hub) SetAccount(info account.Info) {
	h.guard()
	h.accountMu.Lock()
	h.account = info
	h.accountMu.Unlock()
}

func (h *Hub) currentAccount() account.Info {
	h.accountMu.RLock()
	defer h.accountMu.RUnlock()
	return h.account
}

// Metrics returns the cached host metrics. ok is false until the first
// SetMetrics.
func (h *Hub) Metrics() (m system.Metrics, ok bool) {
	h.guard()
	h.metricsMu.RLock()
	defer h.metricsMu.RUnlock()
	return h.metrics, h.hasMetric
}

func (h *Hub) SetMetrics(m system.Metrics) {
	h.guard()
	h.metricsMu.Lock()
	h.metrics = m
	h.hasMetric = true
	h.metricsMu.Unlock()
}

// AddContinuation sweeps expired continuations, then stores cont under guid.
func (h *Hub) AddContinuation(guid continuation.RequestGuid, cont continuation.Continuation) {
	h.Continuations().Add(guid, cont)
}

// RegisterContinuation mints a guid for cont and stores it.
func (h *Hub) RegisterContinuation(cont continuation.Continuation) (continuation.RequestGuid, error) {
	return h.Continuations().Register(cont)
}

func (h *Hub) ClaimWebSocket(ctx context.Context, guid continuation.RequestGuid) (continuation.WebSocketHandler, bool) {
	return h.Continuations().ClaimWebSocket(ctx, guid)
}

func (h *Hub) ClaimRest(ctx context.Context, guid continuation.RequestGuid) (continuation.RestHandler, bool) {
	return h.Continuations().ClaimRest(ctx, guid)
}

// Shutdown stops every running service and marks the hub closed. HTTP
// listeners and background tasks are not its concern; the flag is set even
// when stopping a service fails.
func (h *Hub) Shutdown(ctx context.Context) error {
	err := h.Services().ShutdownAll(ctx)
	h.closed.Store(true)
	if err != nil {
		h.log.Error("hub.shutdown.services_fail", "err", err)
	}
	h.log.Info("hub.shutdown", "disk_guid", h.diskGUID)
	return err
}

// Close releases the database handles and stops background tasks. Call it
// after Shutdown, once no request can reach the hub.
func (h *Hub) Close() {
	if h.stopBg != nil {
		h.stopBg()
	}
	for i := len(h.release) - 1; i >= 0; i-- {
		h.release[i]()
	}
	h.release = nil
}

package hub

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"path/filepath"
	"strings"
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
	"startd/cmd/security/password"
	"startd/cmd/security/token"
)

// DefaultClockSyncInterval is how often an unsynchronized clock is re-checked.
const DefaultClockSyncInterval = 30 * time.Second

// Config is the server configuration the hub is built from.
type Config struct {
	// DataDir holds main.json and sessions.db when no DatabaseURL is set.
	// Empty keeps both in memory.
	DataDir string

	DatabaseURL string
	DBSchema    string
	DBMaxConns  int32
	DBMinConns  int32

	TorControl netip.AddrPort
	TorSocks   netip.AddrPort
	DNSBind    []netip.AddrPort

	// ProcMount is the procfs root used for the hardware probe.
	ProcMount string

	Session  session.Config
	Password password.Config

	// ContinuationTTL overrides continuation.DefaultTTL for both kinds.
	ContinuationTTL time.Duration

	// Seed initializes a fresh document database.
	Seed *db.Model
}

type options struct {
	log           *slog.Logger
	db            db.Store
	sessions      session.Store
	runtime       service.Runtime
	computeDeps   dependencies.ComputeFunc
	clockSync     system.ClockSyncFunc
	clockInterval time.Duration
	probe         system.HardwareProbe
	hasher        *token.Hasher
	diagnostics   bool
	now           func() time.Time
}

type Option func(*options)

func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithDB uses store instead of opening one from Config. The hub does not close it.
func WithDB(store db.Store) Option {
	return func(o *options) { o.db = store }
}

// WithSessionStore uses store instead of opening one from Config. The hub does not close it.
func WithSessionStore(store session.Store) Option {
	return func(o *options) { o.sessions = store }
}

func WithRuntime(rt service.Runtime) Option {
	return func(o *options) { o.runtime = rt }
}

func WithDependencyCompute(fn dependencies.ComputeFunc) Option {
	return func(o *options) {
		if fn != nil {
			o.computeDeps = fn
		}
	}
}

func WithClockSync(fn system.ClockSyncFunc, interval time.Duration) Option {
	return func(o *options) {
		if fn != nil {
			o.clockSync = fn
		}
		if interval > 0 {
			o.clockInterval = interval
		}
	}
}

func WithHardwareProbe(p system.HardwareProbe) Option {
	return func(o *options) {
		if p != nil {
			o.probe = p
		}
	}
}

// WithTokenHasher overrides the hasher read from STARTD_TOKEN_HMAC_KEY.
func WithTokenHasher(h token.Hasher) Option {
	return func(o *options) { o.hasher = &h }
}

// WithDiagnostics turns the use-after-shutdown panic on or off. The default
// follows the unstable build tag.
func WithDiagnostics(on bool) Option {
	return func(o *options) { o.diagnostics = on }
}

func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// Init builds the hub:
//  1. open the document database and session store, load the account
//  2. initialize the network controller
//  3. create the service map (the metrics cache starts empty)
//  4. start the clock-sync poller unless the clock is already synced
//  5. probe hardware
//  6. build the outbound HTTP client
//  7. assemble
//  8. run CleanupAndInitialize
//
// Any failure aborts startup and releases what was already opened.
func Init(ctx context.Context, cfg Config, diskGUID string, opts ...Option) (_ *Hub, err error) {
	const op = "hub.init"

	o := options{
		log:           slog.Default(),
		runtime:       service.NoopRuntime{},
		computeDeps:   dependencies.ComputeConfigErrs,
		clockSync:     system.ClockSynced,
		clockInterval: DefaultClockSyncInterval,
		diagnostics:   diagnosticsDefault,
		now:           func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.probe == nil {
		o.probe = system.Probe(cfg.ProcMount)
	}

	h := &Hub{
		log:         o.log,
		diagnostics: o.diagnostics,
		diskGUID:    diskGUID,
		startTime:   o.now(),
		computeDeps: o.computeDeps,
	}
	defer func() {
		if err != nil {
			h.Close()
		}
	}()

	// 1
	if err := h.openStores(ctx, cfg, o); err != nil {
		return nil, err
	}
	acct, err := account.Load(ctx, h.db)
	if err != nil {
		return nil, err
	}
	h.account = acct
	h.log.Info("hub.init.db.open", "account", acct.String(), "postgres", cfg.DatabaseURL != "")

	// 2
	h.net, err = netctl.Init(ctx, netctl.Config{
		Hostname:   acct.Hostname,
		TorKey:     acct.TorKey,
		TorControl: cfg.TorControl,
		TorSocks:   cfg.TorSocks,
		DNSBind:    cfg.DNSBind,
	}, h.log)
	if err != nil {
		return nil, errs.Wrap(op, errs.ErrNetwork, err)
	}

	// 3
	h.services = service.NewMap(o.runtime, h.log)

	// 4
	snap, err := h.db.Peek(ctx)
	if err != nil {
		return nil, err
	}
	bg, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h.stopBg = cancel
	if snap.Public.ServerInfo.NtpSynced {
		markClockSynced()
	} else {
		go pollClockSync(bg, h.db, o.clockSync, o.clockInterval, h.log)
	}

	// 5
	h.hardware, err = o.probe(ctx)
	if err != nil {
		return nil, errs.Wrap(op, errs.ErrFilesystem, fmt.Errorf("hardware probe: %w", err))
	}
	h.log.Info("hub.init.hardware", "arch", h.hardware.Arch, "cpus", h.hardware.CPUCount, "ram_bytes", h.hardware.RAMBytes)

	// 6
	h.client, err = netctl.NewProxyClient(h.net.TorSocks())
	if err != nil {
		return nil, errs.Wrap(op, errs.ErrNetwork, err)
	}

	// 7
	hasher := o.hasher
	if hasher == nil {
		fromEnv, err := token.HasherFromEnv()
		if err != nil {
			return nil, errs.Wrap(op, errs.ErrInvalidRequest, err)
		}
		hasher = &fromEnv
	}
	h.sockets = session.NewOpenWebSockets()
	h.auth = session.NewService(cfg.Session, h.sessions, cfg.Password,
		func() string { return h.currentAccount().PasswordHash },
		h.sockets,
		session.WithLogger(h.log),
		session.WithHasher(*hasher),
		session.WithClock(o.now),
	)

	var regOpts []continuation.Option
	regOpts = append(regOpts, continuation.WithClock(o.now))
	if cfg.ContinuationTTL > 0 {
		regOpts = append(regOpts,
			continuation.WithTTL(continuation.KindWebSocket, cfg.ContinuationTTL),
			continuation.WithTTL(continuation.KindRest, cfg.ContinuationTTL),
		)
	}
	h.continuations = continuation.NewRegistry(regOpts...)

	// 8
	if err := h.CleanupAndInitialize(ctx); err != nil {
		return nil, err
	}

	h.log.Info("hub.init.done", "disk_guid", diskGUID, "hmac_tokens", hasher.Keyed(), "diagnostics", h.diagnostics)
	return h, nil
}

func (h *Hub) openStores(ctx context.Context, cfg Config, o options) error {
	const op = "hub.init.db"

	h.db, h.sessions = o.db, o.sessions
	if h.db != nil && h.sessions != nil {
		return nil
	}

	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		pool, err := db.NewPool(ctx, db.PoolConfig{
			DatabaseURL: cfg.DatabaseURL,
			MaxConns:    cfg.DBMaxConns,
			MinConns:    cfg.DBMinConns,
		})
		if err != nil {
			return errs.Wrap(op, errs.ErrDatabase, err)
		}
		h.pool = pool
		h.release = append(h.release, pool.Close)

		if h.db == nil {
			docs, err := db.NewPostgresStore(ctx, pool, cfg.DBSchema, cfg.Seed)
			if err != nil {
				return errs.Wrap(op, errs.ErrDatabase, err)
			}
			h.db = docs
		}
		if h.sessions == nil {
			st, err := session.NewPostgresStore(ctx, pool, cfg.DBSchema)
			if err != nil {
				return errs.Wrap(op, errs.ErrDatabase, err)
			}
			h.sessions = st
		}
		return nil
	}

	if h.db == nil {
		path := ""
		if cfg.DataDir != "" {
			path = filepath.Join(cfg.DataDir, "main.json")
		}
		docs, err := db.NewMemoryStore(path, cfg.Seed)
		if err != nil {
			return errs.Wrap(op, errs.ErrDatabase, err)
		}
		h.db = docs
		h.release = append(h.release, func() { _ = docs.Close() })
	}
	if h.sessions == nil {
		dsn := ":memory:"
		if cfg.DataDir != "" {
			dsn = filepath.Join(cfg.DataDir, "sessions.db")
		}
		st, err := session.OpenSQLite(dsn)
		if err != nil {
			return errs.Wrap(op, errs.ErrDatabase, err)
		}
		h.sessions = st
		h.release = append(h.release, func() { _ = st.Close() })
	}
	return nil
}

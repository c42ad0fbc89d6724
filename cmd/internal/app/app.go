// Package app wires the startd server runtime: config, logging, the hub,
// HTTP routes and the metrics sampler.
package app

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"startd/cmd/internal/account"
	"startd/cmd/internal/auth/session"
	"startd/cmd/internal/db"
	"startd/cmd/internal/hub"
	"startd/cmd/internal/realtime"
	"startd/cmd/internal/rpcapi"
	"startd/cmd/internal/system"
	"startd/cmd/security/password"

	"github.com/google/uuid"
)

// App is the startd server runtime: it owns the hub and the HTTP server.
type App struct {
	cfg Config
	log Logger

	hub     *hub.Hub
	rpc     *rpcapi.Handler
	gateway *realtime.Gateway
	sampler *system.Sampler
}

// New builds the hub and the HTTP handlers. opts are forwarded to hub.Init.
func New(ctx context.Context, cfg Config, log Logger, opts ...hub.Option) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	if err := ValidateSecurityConfig(cfg); err != nil {
		return nil, err
	}

	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	pwCfg, err := password.FromEnv()
	if err != nil {
		return nil, err
	}

	if cfg.DataDir != "" {
		if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
			return nil, fmt.Errorf("datadir: %w", err)
		}
	}

	diskGUID, err := loadDiskGUID(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	seed, err := bootstrapSeed(pwCfg)
	if err != nil {
		return nil, err
	}

	log.Info("server.config",
		"config_file", cfg.ConfigFile,
		"datadir", cfg.DataDir,
		"postgres", cfg.DatabaseURL != "",
		"ethernet_interface", cfg.EthernetInterface,
	)

	h, err := hub.Init(ctx, hub.Config{
		DataDir:     cfg.DataDir,
		DatabaseURL: cfg.DatabaseURL,
		DBSchema:    cfg.DBSchema,
		DBMaxConns:  cfg.DBMaxConns,
		DBMinConns:  cfg.DBMinConns,
		TorControl:  cfg.TorControl,
		TorSocks:    cfg.TorSocks,
		DNSBind:     cfg.DNSBind,
		ProcMount:   cfg.ProcMount,
		Session:     sessCfg,
		Password:    pwCfg,
		Seed:        seed,
	}, diskGUID, append([]hub.Option{hub.WithLogger(log)}, opts...)...)
	if err != nil {
		return nil, err
	}

	return &App{
		cfg:     cfg,
		log:     log,
		hub:     h,
		rpc:     rpcapi.NewHandler(log, rpcapi.LoadConfigFromEnv(), h),
		gateway: realtime.NewGateway(log, h, h.Auth(), h.OpenWebSockets()),
		sampler: system.NewSampler(cfg.ProcMount, cfg.MetricsInterval, log),
	}, nil
}

// Hub exposes the shared runtime, mainly for tests.
func (a *App) Hub() *hub.Hub { return a.hub }

// Handler returns the fully wrapped HTTP handler.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.hub, a.rpc, a.gateway)
	return WithRequestID(WithSecurityHeaders(WithRequestLogging(mux, a.log)))
}

// Run serves HTTP and samples host metrics until ctx is cancelled or the
// listener fails, then shuts down in order: listener, in-flight requests
// (including hijacked WebSockets), the hub, and finally its resources.
func (a *App) Run(ctx context.Context) error {
	defer a.hub.Close()

	// Cancelled after srv.Shutdown so WebSocket handlers, which Shutdown
	// does not wait for, stop before the hub is closed.
	reqCtx, cancelRequests := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelRequests()

	samplerCtx, stopSampler := context.WithCancel(ctx)
	defer stopSampler()
	samplerDone := make(chan struct{})
	go func() {
		defer close(samplerDone)
		a.sampler.Run(samplerCtx, a.hub.SetMetrics)
	}()

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		BaseContext:       func(net.Listener) context.Context { return reqCtx },
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "disk_guid", a.hub.DiskGUID())

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case runErr = <-errCh:
		a.log.Error("server.fail", "err", runErr)
	}

	// The sampler writes into the hub, so it must be gone before Shutdown.
	stopSampler()
	<-samplerDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		runErr = errors.Join(runErr, err)
	}
	cancelRequests()

	if err := a.hub.Shutdown(shutdownCtx); err != nil {
		a.log.Error("hub.shutdown.fail", "err", err)
		runErr = errors.Join(runErr, err)
	}

	a.log.Info("server.stopped")
	return runErr
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// loadDiskGUID returns the id persisted in dataDir/disk.guid, creating it on
// first boot. Without a data dir a fresh id is used per process.
func loadDiskGUID(dataDir string) (string, error) {
	if dataDir == "" {
		return uuid.NewString(), nil
	}

	path := filepath.Join(dataDir, "disk.guid")
	b, err := os.ReadFile(path) // #nosec G304 -- path is under the configured datadir.
	switch {
	case err == nil:
		id, perr := uuid.ParseBytes([]byte(strings.TrimSpace(string(b))))
		if perr != nil {
			return "", fmt.Errorf("%s: %w", path, perr)
		}
		return id.String(), nil
	case !errors.Is(err, fs.ErrNotExist):
		return "", err
	}

	id := uuid.NewString()
	if err := os.WriteFile(path, []byte(id+"\n"), 0o600); err != nil {
		return "", err
	}
	return id, nil
}

// bootstrapSeed builds the document a fresh database starts from. It is
// ignored when a database already exists.
//
// Optional:
//   - STARTD_HOSTNAME (default: os.Hostname)
//   - STARTD_INITIAL_PASSWORD (hashed with Argon2id; without it nobody can log in)
func bootstrapSeed(pw password.Config) (*db.Model, error) {
	host := EnvString("STARTD_HOSTNAME", "")
	if host == "" {
		h, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("hostname: %w", err)
		}
		host = h
	}

	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}

	m := &db.Model{}
	m.Public.ServerInfo.ID = uuid.NewString()
	m.Public.ServerInfo.Hostname = host
	m.Private.TorKey = account.EncodeTorKey(key)

	if initial := os.Getenv("STARTD_INITIAL_PASSWORD"); initial != "" {
		if err := pw.Validate(initial); err != nil {
			return nil, fmt.Errorf("STARTD_INITIAL_PASSWORD: %w", err)
		}
		hash, err := pw.Hash(initial)
		if err != nil {
			return nil, err
		}
		m.Private.Password = hash
	}
	return m, nil
}

// Package service tracks the installed packages the container runtime is
// currently running on the hub's behalf.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"startd/cmd/internal/db"
)

// Main statuses that ask for a running service.
const (
	StatusRunning  = "running"
	StatusStarting = "starting"
	StatusStopped  = "stopped"
)

// Runtime starts and stops package containers.
type Runtime interface {
	Start(ctx context.Context, id string) error
	Stop(ctx context.Context, id string) error
}

// NoopRuntime accepts every request without doing anything.
type NoopRuntime struct{}

func (NoopRuntime) Start(context.Context, string) error { return nil }
func (NoopRuntime) Stop(context.Context, string) error { return nil }

// Map is the set of running services.
type Map struct {
	mu      sync.Mutex
	running map[string]struct{}

	rt  Runtime
	log *slog.Logger
}

func NewMap(rt Runtime, log *slog.Logger) *Map {
	if rt == nil {
		rt = NoopRuntime{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Map{running: make(map[string]struct{}), rt: rt, log: log}
}

// Init starts every installed package whose durable status wants it running.
// A package that fails to start is logged and skipped; Init only fails when
// ctx ends.
func (m *Map) Init(ctx context.Context, snapshot db.Model) error {
	ids := make([]string, 0, len(snapshot.Public.PackageData))
	for id, pkg := range snapshot.Public.PackageData {
		if !pkg.Installed() {
			continue
		}
		switch pkg.Status.Main {
		case StatusRunning, StatusStarting:
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := m.rt.Start(ctx, id); err != nil {
			m.log.Error("service.start.fail", "package", id, "err", err)
			continue
		}
		m.mu.Lock()
		m.running[id] = struct{}{}
		m.mu.Unlock()
	}

	m.log.Info("service.init", "started", m.Len(), "wanted", len(ids))
	return nil
}

// ShutdownAll stops every running service and reports all stop failures together.
func (m *Map) ShutdownAll(ctx context.Context) error {
	m.mu.Lock()
	ids := make([]string, 0, len(m.running))
	for id := range m.running {
		ids = append(ids, id)
	}
	m.running = make(map[string]struct{})
	m.mu.Unlock()
	sort.Strings(ids)

	var errs []error
	for _, id := range ids {
		if err := m.rt.Stop(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// Running returns the ids of running services in order.
func (m *Map) Running() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.running))
	for id := range m.running {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (m *Map) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.running)
}

package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"startd/cmd/internal/db"
)

type recordingRuntime struct {
	mu      sync.Mutex
	started []string
	stopped []string
	failOn  map[string]bool
}

func (r *recordingRuntime) Start(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failOn[id] {
		return errors.New("boom")
	}
	r.started = append(r.started, id)
	return nil
}

func (r *recordingRuntime) Stop(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = append(r.stopped, id)
	if r.failOn["stop:"+id] {
		return errors.New("stuck")
	}
	return nil
}

func snapshot() db.Model {
	return db.Model{Public: db.Public{PackageData: map[string]db.PackageDataEntry{
		"bitcoind":  {State: db.StateInstalled, Status: db.Status{Main: StatusRunning}},
		"lnd":       {State: db.StateInstalled, Status: db.Status{Main: StatusStarting}},
		"nextcloud": {State: db.StateInstalled, Status: db.Status{Main: StatusStopped}},
		"btcpay":    {State: db.StateInstalling, Status: db.Status{Main: StatusRunning}},
	}}}
}

func TestMap_InitStartsWantedInstalled(t *testing.T) {
	t.Parallel()

	rt := &recordingRuntime{failOn: map[string]bool{"lnd": true}}
	m := NewMap(rt, nil)
	if err := m.Init(context.Background(), snapshot()); err != nil {
		t.Fatalf("Init: %v", err)
	}

	if got := strings.Join(m.Running(), ","); got != "bitcoind" {
		t.Fatalf("running=%s", got)
	}
}

func TestMap_ShutdownAllJoinsErrors(t *testing.T) {
	t.Parallel()

	rt := &recordingRuntime{failOn: map[string]bool{"stop:bitcoind": true}}
	m := NewMap(rt, nil)
	_ = m.Init(context.Background(), snapshot())

	err := m.ShutdownAll(context.Background())
	if err == nil || !strings.Contains(err.Error(), "stop bitcoind") {
		t.Fatalf("expected joined stop error, got %v", err)
	}
	if m.Len() != 0 {
		t.Fatalf("map must be empty after shutdown")
	}
	if len(rt.stopped) != 2 {
		t.Fatalf("every service must be asked to stop, got %v", rt.stopped)
	}
}

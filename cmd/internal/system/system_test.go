package system

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

const fakeMeminfo = `MemTotal:        2000000 kB
MemFree:          500000 kB
MemAvailable:    1500000 kB
Buffers:           10000 kB
Cached:           200000 kB
`

func fakeProc(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	files := map[string]string{
		"meminfo": fakeMeminfo,
		"loadavg": "0.50 0.25 0.10 1/321 4242\n",
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return dir
}

func TestSampler_Sample(t *testing.T) {
	t.Parallel()

	s := NewSampler(fakeProc(t), time.Second, nil)
	m, err := s.Sample()
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if m.Memory.TotalBytes != 2000000*1024 || m.Memory.AvailableBytes != 1500000*1024 {
		t.Fatalf("unexpected memory: %+v", m.Memory)
	}
	if math.Abs(m.Memory.UsedPercent-25) > 1e-9 {
		t.Fatalf("UsedPercent=%v", m.Memory.UsedPercent)
	}
	if m.Load.Load1 != 0.5 || m.Load.Load15 != 0.1 {
		t.Fatalf("unexpected load: %+v", m.Load)
	}
}

func TestSampler_RunDeliversUntilCanceled(t *testing.T) {
	t.Parallel()

	s := NewSampler(fakeProc(t), 5*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())

	var mu sync.Mutex
	n := 0
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx, func(Metrics) {
			mu.Lock()
			n++
			if n == 3 {
				cancel()
			}
			mu.Unlock()
		})
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		cancel()
		t.Fatalf("Run did not stop after cancel")
	}
	mu.Lock()
	defer mu.Unlock()
	if n < 3 {
		t.Fatalf("expected at least 3 samples, got %d", n)
	}
}

func TestProbe_ReadsMemTotal(t *testing.T) {
	t.Parallel()

	hw, err := Probe(fakeProc(t))(context.Background())
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if hw.RAMBytes != 2000000*1024 || hw.CPUCount < 1 || hw.Arch == "" {
		t.Fatalf("unexpected hardware: %+v", hw)
	}
}

func TestProbe_MissingProcFails(t *testing.T) {
	t.Parallel()

	if _, err := Probe(filepath.Join(t.TempDir(), "nope"))(context.Background()); err == nil {
		t.Fatalf("expected error for missing procfs")
	}
}

func TestParseBoolOutput(t *testing.T) {
	t.Parallel()

	cases := map[string]bool{"yes\n": true, "no": false, "TRUE": true, "0\n": false}
	for in, want := range cases {
		got, err := parseBoolOutput([]byte(in))
		if err != nil || got != want {
			t.Fatalf("parseBoolOutput(%q)=%v,%v", in, got, err)
		}
	}
	if _, err := parseBoolOutput([]byte("maybe")); err == nil {
		t.Fatalf("expected error")
	}
}

package system

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/procfs"
)

// Metrics is the cached host usage snapshot served by server.metrics.
type Metrics struct {
	SampledAt time.Time     `json:"sampledAt"`
	Memory    MemoryMetrics `json:"memory"`
	Load      LoadMetrics   `json:"load"`
}

type MemoryMetrics struct {
	TotalBytes     uint64  `json:"totalBytes"`
	AvailableBytes uint64  `json:"availableBytes"`
	UsedPercent    float64 `json:"usedPercent"`
}

type LoadMetrics struct {
	Load1  float64 `json:"load1"`
	Load5  float64 `json:"load5"`
	Load15 float64 `json:"load15"`
}

// Sampler reads Metrics from procfs on an interval.
type Sampler struct {
	mountPoint string
	interval   time.Duration
	log        *slog.Logger
	now        func() time.Time
}

func NewSampler(mountPoint string, interval time.Duration, log *slog.Logger) *Sampler {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Sampler{mountPoint: mountPoint, interval: interval, log: log, now: time.Now}
}

// Sample takes one reading.
func (s *Sampler) Sample() (Metrics, error) {
	fs, err := openFS(s.mountPoint)
	if err != nil {
		return Metrics{}, err
	}

	mi, err := fs.Meminfo()
	if err != nil {
		return Metrics{}, err
	}
	la, err := fs.LoadAvg()
	if err != nil {
		return Metrics{}, err
	}

	m := Metrics{
		SampledAt: s.now().UTC(),
		Load:      LoadMetrics{Load1: la.Load1, Load5: la.Load5, Load15: la.Load15},
	}
	m.Memory = memoryMetrics(mi)
	return m, nil
}

func memoryMetrics(mi procfs.Meminfo) MemoryMetrics {
	var out MemoryMetrics
	if mi.MemTotal != nil {
		out.TotalBytes = *mi.MemTotal * 1024
	}
	if mi.MemAvailable != nil {
		out.AvailableBytes = *mi.MemAvailable * 1024
	}
	if out.TotalBytes > 0 && out.AvailableBytes <= out.TotalBytes {
		out.UsedPercent = float64(out.TotalBytes-out.AvailableBytes) / float64(out.TotalBytes) * 100
	}
	return out
}

// Run samples immediately and then every interval, handing each reading to
// sink, until ctx ends. Failed samples are logged and skipped.
func (s *Sampler) Run(ctx context.Context, sink func(Metrics)) {
	t := time.NewTicker(s.interval)
	defer t.Stop()

	for {
		if m, err := s.Sample(); err != nil {
			s.log.Warn("system.metrics.sample_failed", "err", err)
		} else {
			sink(m)
		}

		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

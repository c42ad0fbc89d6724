package system

import (
	"context"
	"fmt"
	"runtime"

	"github.com/prometheus/procfs"
)

// Hardware is the inventory probed once at startup.
type Hardware struct {
	Arch     string `json:"arch"`
	CPUModel string `json:"cpuModel"`
	CPUCount int    `json:"cpuCount"`
	RAMBytes uint64 `json:"ramBytes"`
}

// HardwareProbe returns the host inventory.
type HardwareProbe func(ctx context.Context) (Hardware, error)

// Probe reads procfs. An empty mountPoint means /proc.
func Probe(mountPoint string) HardwareProbe {
	return func(ctx context.Context) (Hardware, error) {
		if err := ctx.Err(); err != nil {
			return Hardware{}, err
		}
		fs, err := openFS(mountPoint)
		if err != nil {
			return Hardware{}, err
		}

		hw := Hardware{Arch: runtime.GOARCH, CPUCount: runtime.NumCPU()}

		total, err := memTotal(fs)
		if err != nil {
			return Hardware{}, err
		}
		hw.RAMBytes = total

		// cpuinfo layout varies by architecture; a missing model name is not fatal.
		if cpus, err := fs.CPUInfo(); err == nil && len(cpus) > 0 {
			hw.CPUModel = cpus[0].ModelName
			hw.CPUCount = len(cpus)
		}
		return hw, nil
	}
}

func openFS(mountPoint string) (procfs.FS, error) {
	if mountPoint == "" {
		mountPoint = procfs.DefaultMountPoint
	}
	fs, err := procfs.NewFS(mountPoint)
	if err != nil {
		return procfs.FS{}, fmt.Errorf("procfs %s: %w", mountPoint, err)
	}
	return fs, nil
}

func memTotal(fs procfs.FS) (uint64, error) {
	mi, err := fs.Meminfo()
	if err != nil {
		return 0, fmt.Errorf("meminfo: %w", err)
	}
	if mi.MemTotal == nil {
		return 0, fmt.Errorf("meminfo: MemTotal missing")
	}
	return *mi.MemTotal * 1024, nil
}

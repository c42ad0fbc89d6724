// Package system reads host facts: clock synchronization, hardware
// inventory, and the resource usage figures served as server metrics.
package system

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// ClockSyncFunc reports whether the system clock is NTP-synchronized.
type ClockSyncFunc func(ctx context.Context) (bool, error)

// ClockSynced asks systemd-timedated.
func ClockSynced(ctx context.Context) (bool, error) {
	out, err := exec.CommandContext(ctx, "timedatectl", "show", "-p", "NTPSynchronized", "--value").Output()
	if err != nil {
		return false, fmt.Errorf("timedatectl: %w", err)
	}
	return parseBoolOutput(out)
}

func parseBoolOutput(out []byte) (bool, error) {
	switch v := strings.TrimSpace(string(bytes.ToLower(out))); v {
	case "yes", "true", "1":
		return true, nil
	case "no", "false", "0":
		return false, nil
	default:
		return false, fmt.Errorf("unexpected timedatectl output %q", v)
	}
}

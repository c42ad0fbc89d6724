// Package db is the server's document database: one JSON document split into a
// public half (served to the UI) and a private half (secrets).
package db

import (
	"encoding/json"
	"fmt"
)

type Model struct {
	Public  Public  `json:"public"`
	Private Private `json:"private"`
}

type Public struct {
	ServerInfo  ServerInfo                  `json:"serverInfo"`
	PackageData map[string]PackageDataEntry `json:"packageData"`
}

type ServerInfo struct {
	ID         string `json:"id"`
	Hostname   string `json:"hostname"`
	Version    string `json:"version,omitempty"`
	TorAddress string `json:"torAddress,omitempty"`
	NtpSynced  bool   `json:"ntpSynced"`
}

// Package install states.
const (
	StateInstalling = "installing"
	StateInstalled  = "installed"
	StateRemoving   = "removing"
)

type PackageDataEntry struct {
	State               string                       `json:"state"`
	Status              Status                       `json:"status"`
	CurrentDependencies map[string]CurrentDependency `json:"currentDependencies"`
}

// Installed reports whether the package has a usable installation.
func (p PackageDataEntry) Installed() bool { return p.State == StateInstalled }

type Status struct {
	Main                   string            `json:"main"`
	DependencyConfigErrors map[string]string `json:"dependencyConfigErrors"`
}

// Dependency requirement kinds.
const (
	DependencyExists  = "exists"
	DependencyRunning = "running"
)

type CurrentDependency struct {
	Kind         string   `json:"kind"`
	HealthChecks []string `json:"healthChecks,omitempty"`
}

type Private struct {
	// Password is the PHC-encoded Argon2id hash of the account password.
	Password string `json:"password"`
	// TorKey is the base64 ed25519 key behind the server's onion address.
	TorKey string `json:"torKey"`
}

// Clone returns a deep copy of m.
func (m Model) Clone() (Model, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return Model{}, fmt.Errorf("db clone: %w", err)
	}
	var out Model
	if err := json.Unmarshal(b, &out); err != nil {
		return Model{}, fmt.Errorf("db clone: %w", err)
	}
	out.normalize()
	return out, nil
}

func (m *Model) normalize() {
	if m.Public.PackageData == nil {
		m.Public.PackageData = make(map[string]PackageDataEntry)
	}
}

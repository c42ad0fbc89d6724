// Package dependencies computes per-package dependency configuration errors.
package dependencies

import (
	"context"
	"sort"

	"startd/cmd/internal/db"
)

// Error messages stored under status.dependencyConfigErrors.
const (
	ErrNotInstalled = "Not installed"
	ErrNotRunning   = "Not running"
)

// ComputeFunc reports, for one package, dependency id -> error message.
// An empty map means every dependency is satisfied.
type ComputeFunc func(ctx context.Context, snapshot db.Model, packageID string) (map[string]string, error)

// ComputeConfigErrs is the default ComputeFunc. It checks that each current
// dependency is installed and, for running-kind dependencies, running.
func ComputeConfigErrs(ctx context.Context, snapshot db.Model, packageID string) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pkg, ok := snapshot.Public.PackageData[packageID]
	if !ok {
		return map[string]string{}, nil
	}

	deps := make([]string, 0, len(pkg.CurrentDependencies))
	for id := range pkg.CurrentDependencies {
		deps = append(deps, id)
	}
	sort.Strings(deps)

	out := make(map[string]string)
	for _, id := range deps {
		req := pkg.CurrentDependencies[id]
		dep, ok := snapshot.Public.PackageData[id]
		switch {
		case !ok || !dep.Installed():
			out[id] = ErrNotInstalled
		case req.Kind == db.DependencyRunning && dep.Status.Main != "running":
			out[id] = ErrNotRunning
		}
	}
	return out, nil
}

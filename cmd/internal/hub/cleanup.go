package hub

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"startd/cmd/internal/db"
	"startd/cmd/internal/errs"
)

// maxDependencyWorkers bounds the dependency sweep fan-out.
const maxDependencyWorkers = 8

// CleanupAndInitialize brings in-memory state in line with the database:
// it starts the services the database says should run, then recomputes
// dependency config errors for every installed package from one snapshot
// and writes them back in a single mutation.
func (h *Hub) CleanupAndInitialize(ctx context.Context) error {
	const op = "hub.cleanup_and_initialize"

	store := h.DB()
	snap, err := store.Peek(ctx)
	if err != nil {
		return err
	}

	if err := h.Services().Init(ctx, snap); err != nil {
		return errs.Wrap(op, errs.ErrUnknown, err)
	}

	ids := installedPackages(snap)
	results := make([]map[string]string, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxDependencyWorkers)
	for i, id := range ids {
		g.Go(func() error {
			out, err := h.computeDeps(gctx, snap, id)
			if err != nil {
				return fmt.Errorf("package %s: %w", id, err)
			}
			results[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return errs.Wrap(op, errs.KindOf(err), err)
	}

	err = store.Mutate(ctx, func(m *db.Model) error {
		for i, id := range ids {
			pkg, ok := m.Public.PackageData[id]
			if !ok || !pkg.Installed() {
				continue
			}
			out := results[i]
			if out == nil {
				out = map[string]string{}
			}
			pkg.Status.DependencyConfigErrors = out
			m.Public.PackageData[id] = pkg
		}
		return nil
	})
	if err != nil {
		return errs.Wrap(op, errs.ErrDatabase, err)
	}

	h.log.Info("hub.cleanup.done", "packages", len(ids), "services", h.services.Len())
	return nil
}

func installedPackages(m db.Model) []string {
	ids := make([]string, 0, len(m.Public.PackageData))
	for id, pkg := range m.Public.PackageData {
		if pkg.Installed() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

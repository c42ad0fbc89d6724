package hub

import (
	"context"
	"log/slog"
	"time"

	"startd/cmd/internal/db"
	"startd/cmd/internal/metrics"
	"startd/cmd/internal/system"
)

// pollClockSync checks the clock every interval until it reports synced,
// then persists public.serverInfo.ntpSynced. Failures are logged and retried
// on the next tick. It returns early only when ctx ends.
func pollClockSync(ctx context.Context, store db.Store, synced system.ClockSyncFunc, interval time.Duration, log *slog.Logger) {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}

		ok, err := synced(ctx)
		if err != nil {
			log.Warn("hub.clock_sync.check_fail", "err", err)
			continue
		}
		if !ok {
			continue
		}

		err = store.Mutate(ctx, func(m *db.Model) error {
			m.Public.ServerInfo.NtpSynced = true
			return nil
		})
		if err != nil {
			log.Error("hub.clock_sync.persist_fail", "err", err)
			continue
		}

		markClockSynced()
		log.Info("hub.clock_sync.synced")
		return
	}
}

func markClockSynced() { metrics.ClockSynced.Set(1) }

package core

import (
	"context"
	"log/slog"
	"time"
)

// RunMetrics logs hub stats every interval until ctx is canceled. Idle
// intervals are skipped.
func RunMetrics(ctx context.Context, hub *Hub, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			events := hub.TakeEventCount()
			stats := hub.Stats()
			if stats.Connections > 0 || events > 0 {
				slog.Info("[metrics]",
					"connections", stats.Connections,
					"rooms", stats.Rooms,
					"events", events,
					"events_per_sec", float64(events)/interval.Seconds())
			}
		}
	}
}

package database

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rafaeljc/norns/internal/observability"
)

// RunPoolMonitor samples pgxpool statistics every interval until ctx is cancelled.
// Gauges mirror the current pool state; cumulative pool totals are exported as
// counters by adding the delta since the previous sample.
func RunPoolMonitor(ctx context.Context, pool *pgxpool.Pool, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var (
		lastAcquires int64
		lastWaits    int64
		lastDuration time.Duration
	)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stat := pool.Stat()

			observability.DBPoolConnections.WithLabelValues("total").Set(float64(stat.TotalConns()))
			observability.DBPoolConnections.WithLabelValues("idle").Set(float64(stat.IdleConns()))
			observability.DBPoolConnections.WithLabelValues("in_use").Set(float64(stat.AcquiredConns()))
			observability.DBPoolConnections.WithLabelValues("max").Set(float64(stat.MaxConns()))

			if n := stat.AcquireCount(); n > lastAcquires {
				observability.DBPoolAcquireCount.Add(float64(n - lastAcquires))
				lastAcquires = n
			}
			if n := stat.EmptyAcquireCount(); n > lastWaits {
				observability.DBPoolWaitCount.Add(float64(n - lastWaits))
				lastWaits = n
			}
			if d := stat.AcquireDuration(); d > lastDuration {
				observability.DBPoolAcquireDuration.Add((d - lastDuration).Seconds())
				lastDuration = d
			}
		}
	}
}

package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rafaeljc/norns/internal/observability"
)

// RunPoolMonitor samples the Redis pool statistics every interval until ctx is cancelled.
// go-redis exposes cumulative totals, so counters receive the delta between samples.
func RunPoolMonitor(ctx context.Context, client *redis.Client, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last redis.PoolStats
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := client.PoolStats()
			if stats == nil {
				continue
			}

			observability.RedisPoolConnections.WithLabelValues("total").Set(float64(stats.TotalConns))
			observability.RedisPoolConnections.WithLabelValues("idle").Set(float64(stats.IdleConns))
			observability.RedisPoolConnections.WithLabelValues("stale").Set(float64(stats.StaleConns))

			addDelta(observability.RedisPoolHits, stats.Hits, last.Hits)
			addDelta(observability.RedisPoolMisses, stats.Misses, last.Misses)
			addDelta(observability.RedisPoolTimeouts, stats.Timeouts, last.Timeouts)

			last = *stats
		}
	}
}

type counter interface{ Add(float64) }

func addDelta(c counter, current, previous uint32) {
	if current > previous {
		c.Add(float64(current - previous))
	}
}

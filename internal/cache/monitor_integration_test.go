//go:build integration

package cache_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/rafaeljc/norns/internal/cache"
	"github.com/rafaeljc/norns/internal/testsupport"
)

func TestRunPoolMonitor_Integration(t *testing.T) {
	ctx := context.Background()
	redisCtr, err := testsupport.StartRedisContainer(ctx)
	require.NoError(t, err)
	defer redisCtr.Terminate(ctx)

	endpoint, err := redisCtr.Container.PortEndpoint(ctx, "6379/tcp", "")
	require.NoError(t, err)

	// A small pool makes contention reachable with a handful of goroutines.
	client := redis.NewClient(&redis.Options{Addr: endpoint, PoolSize: 2})
	defer client.Close()
	tags := cache.NewRedisStore(client, cache.DefaultKeyPrefix)

	monitorCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go cache.RunPoolMonitor(monitorCtx, client, 10*time.Millisecond)

	t.Run("Gauges should reflect the pool after tag traffic", func(t *testing.T) {
		for i := range 5 {
			require.NoError(t, tags.Tag(ctx, fmt.Sprintf("token-%d", i), "[hero]A"))
		}

		require.Eventually(t, func() bool {
			total := testsupport.GetMetricValue(t, "norns_redis_pool_connections", map[string]string{"state": "total"})
			idle := testsupport.GetMetricValue(t, "norns_redis_pool_connections", map[string]string{"state": "idle"})
			return total > 0 && idle <= total
		}, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("Sequential lookups should count as pool hits", func(t *testing.T) {
		before := testsupport.GetMetricValue(t, "norns_redis_pool_hits_total", nil)

		for range 10 {
			_, err := tags.IsTagged(ctx, "token-0", "[hero]A")
			require.NoError(t, err)
		}

		require.Eventually(t, func() bool {
			return testsupport.GetMetricValue(t, "norns_redis_pool_hits_total", nil) > before
		}, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("Concurrent blocking calls should register misses", func(t *testing.T) {
		before := testsupport.GetMetricValue(t, "norns_redis_pool_misses_total", nil)

		// BLPOP holds a connection for its whole timeout, so six callers exceed the pool.
		var wg sync.WaitGroup
		for i := range 6 {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_ = client.BLPop(ctx, 200*time.Millisecond, fmt.Sprintf("norns:test:queue-%d", i)).Err()
			}(i)
		}
		wg.Wait()

		require.Eventually(t, func() bool {
			return testsupport.GetMetricValue(t, "norns_redis_pool_misses_total", nil) > before
		}, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("Counters should never decrease", func(t *testing.T) {
		timeouts := testsupport.GetMetricValue(t, "norns_redis_pool_timeouts_total", nil)
		time.Sleep(50 * time.Millisecond)
		require.GreaterOrEqual(t, testsupport.GetMetricValue(t, "norns_redis_pool_timeouts_total", nil), timeouts)
	})
}

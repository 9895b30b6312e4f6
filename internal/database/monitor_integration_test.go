//go:build integration

package database_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaeljc/norns/internal/config"
	"github.com/rafaeljc/norns/internal/database"
	"github.com/rafaeljc/norns/internal/store"
	"github.com/rafaeljc/norns/internal/testsupport"
)

func TestRunPoolMonitor_Integration(t *testing.T) {
	ctx := context.Background()
	pgCtr, err := testsupport.StartPostgresContainer(ctx, "../../migrations")
	require.NoError(t, err)
	defer pgCtr.Terminate(ctx)

	pool, err := database.NewPostgresPool(ctx, &config.DatabaseConfig{
		URL:            pgCtr.ConnectionString,
		MaxConns:       3,
		MinConns:       1,
		ConnectTimeout: 5 * time.Second,
		PingMaxRetries: 3,
		PingBackoff:    500 * time.Millisecond,
	})
	require.NoError(t, err)
	defer pool.Close()

	records := store.NewPostgresStore(pool)

	monitorCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go database.RunPoolMonitor(monitorCtx, pool, 10*time.Millisecond)

	gauge := func(state string) float64 {
		return testsupport.GetMetricValue(t, "norns_database_pool_connections", map[string]string{"state": state})
	}

	t.Run("Should report configured maximum", func(t *testing.T) {
		require.Eventually(t, func() bool { return gauge("max") == 3 }, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("Store traffic should count acquires", func(t *testing.T) {
		before := testsupport.GetMetricValue(t, "norns_database_pool_acquire_count_total", nil)

		for i := range 5 {
			_, err := records.FindOrCreateInstance(ctx, fmt.Sprintf("monitor-token-%d", i))
			require.NoError(t, err)
		}

		require.Eventually(t, func() bool {
			return testsupport.GetMetricValue(t, "norns_database_pool_acquire_count_total", nil) >= before+5
		}, 2*time.Second, 10*time.Millisecond)
		assert.Greater(t, testsupport.GetMetricValue(t, "norns_database_pool_acquire_duration_seconds_total", nil), 0.0)
	})

	t.Run("Held connection should show as in use", func(t *testing.T) {
		conn, err := pool.Acquire(ctx)
		require.NoError(t, err)

		require.Eventually(t, func() bool { return gauge("in_use") >= 1 }, 2*time.Second, 10*time.Millisecond)
		conn.Release()

		require.Eventually(t, func() bool {
			return gauge("idle")+gauge("in_use") <= gauge("total")
		}, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("Exhausted pool should count waits", func(t *testing.T) {
		before := testsupport.GetMetricValue(t, "norns_database_pool_wait_count_total", nil)

		held := make([]interface{ Release() }, 0, 3)
		for range 3 {
			c, err := pool.Acquire(ctx)
			require.NoError(t, err)
			held = append(held, c)
		}

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = records.FindOrCreateInstance(ctx, "monitor-waiter")
		}()

		time.Sleep(50 * time.Millisecond)
		for _, c := range held {
			c.Release()
		}
		wg.Wait()

		require.Eventually(t, func() bool {
			return testsupport.GetMetricValue(t, "norns_database_pool_wait_count_total", nil) > before
		}, 2*time.Second, 10*time.Millisecond)
	})
}

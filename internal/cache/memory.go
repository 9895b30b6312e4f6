package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/maypok86/otter"

	"github.com/rafaeljc/norns/internal/observability"
	"github.com/rafaeljc/norns/internal/store"
	"github.com/rafaeljc/norns/internal/validation"
)

// Compile-time check: the cache is a drop-in Repository.
var _ store.Repository = (*ExperimentCache)(nil)

// ExperimentCache is an L1 caching decorator for experiment lookups, using the
// contention-free S3-FIFO algorithm provided by the 'otter' library.
//
// Experiments are immutable once created, so only positive lookups are cached and
// no invalidation is needed. Every other Repository operation passes through.
type ExperimentCache struct {
	store.Repository
	items otter.Cache[string, *store.Experiment]
}

// NewExperimentCache wraps repo with an L1 cache.
// capacity: Max number of items (Hard Cap to prevent OOM).
// ttl: Time-To-Live for items.
func NewExperimentCache(repo store.Repository, capacity int, ttl time.Duration) (*ExperimentCache, error) {
	validation.AssertImplemented(repo, "cache: record store")

	builder, err := otter.NewBuilder[string, *store.Experiment](capacity)
	if err != nil {
		return nil, fmt.Errorf("invalid experiment cache capacity: %w", err)
	}

	items, err := builder.CollectStats().WithTTL(ttl).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build experiment cache: %w", err)
	}

	return &ExperimentCache{Repository: repo, items: items}, nil
}

func experimentKey(name, goal string) string {
	// \x00 cannot appear in either part, so the key is unambiguous.
	return name + "\x00" + goal
}

// FindExperiment serves hits from memory and caches positive misses.
func (c *ExperimentCache) FindExperiment(ctx context.Context, name, goal string) (*store.Experiment, bool, error) {
	key := experimentKey(name, goal)
	if x, ok := c.items.Get(key); ok {
		observability.CacheHits.Inc()
		return x, true, nil
	}
	observability.CacheMisses.Inc()

	x, found, err := c.Repository.FindExperiment(ctx, name, goal)
	if err != nil || !found {
		return x, found, err
	}
	c.items.Set(key, x)
	return x, true, nil
}

// FindOrCreateExperiment serves hits from memory; misses go to the store and are cached.
func (c *ExperimentCache) FindOrCreateExperiment(ctx context.Context, name, goal string) (*store.Experiment, error) {
	key := experimentKey(name, goal)
	if x, ok := c.items.Get(key); ok {
		observability.CacheHits.Inc()
		return x, nil
	}
	observability.CacheMisses.Inc()

	x, err := c.Repository.FindOrCreateExperiment(ctx, name, goal)
	if err != nil {
		return nil, err
	}
	c.items.Set(key, x)
	return x, nil
}

// RunMetricsCollector exports cache usage and evictions until ctx is cancelled.
func (c *ExperimentCache) RunMetricsCollector(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastEvicted int64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := c.items.Stats()
			observability.CacheUsage.Set(float64(c.items.Size()))
			if evicted := stats.EvictedCount(); evicted > lastEvicted {
				observability.CacheEvictions.Add(float64(evicted - lastEvicted))
				lastEvicted = evicted
			}
		}
	}
}

// Close gracefully shuts down the cache and its background cleanup goroutines.
func (c *ExperimentCache) Close() {
	c.items.Close()
}

package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// namespace defines the global prefix for all metrics (e.g., norns_...).
const namespace = "norns"

// lowLatencyBuckets defines custom buckets for the assignment hot path.
// Standard buckets are too coarse (starting at 5ms), so we add 1ms and 2ms resolution.
// Range: 1ms to 500ms.
var lowLatencyBuckets = []float64{.001, .002, .005, .010, .015, .020, .025, .030, .050, .100, .500}

var (
	// -------------------------------------------------------------------------
	// HTTP API
	// -------------------------------------------------------------------------

	// HTTPReqDuration measures the latency of HTTP requests.
	// Metric: norns_api_http_handling_seconds
	HTTPReqDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "api",
		Name:      "http_handling_seconds",
		Help:      "Time taken to handle HTTP requests",
		Buckets:   lowLatencyBuckets,
	}, []string{"method", "route"})

	// HTTPReqTotal counts the total number of HTTP requests.
	// Metric: norns_api_http_requests_total
	HTTPReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "api",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests",
	}, []string{"method", "route", "code"})

	// -------------------------------------------------------------------------
	// ASSIGNMENT ENGINE
	// -------------------------------------------------------------------------

	// DecisionsTotal counts decisions by how their value was obtained.
	// Metric: norns_engine_decisions_total
	DecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "decisions_total",
		Help:      "Total experiment decisions by source",
	}, []string{"source"}) // replay, pending, sticky, corrective, random, seeded

	// GoalsTotal counts recorded goals.
	GoalsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "goals_total",
		Help:      "Total goals recorded",
	})

	// -------------------------------------------------------------------------
	// SESSION FLUSH
	// -------------------------------------------------------------------------

	// EventsFlushedTotal counts events written at the end of a cycle.
	EventsFlushedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "events_flushed_total",
		Help:      "Total events persisted when cycles are flushed",
	})

	// EventConflictsTotal counts flushes that lost a concurrent write and adopted the stored value.
	EventConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "event_conflicts_total",
		Help:      "Total duplicate event writes resolved as replay",
	})

	// FlushFailuresTotal counts cycles whose decisions could not be persisted.
	FlushFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "flush_failures_total",
		Help:      "Total cycle flushes that failed",
	})

	// --- Cache L1 Metrics (Otter) ---

	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "experiment_cache",
		Name:      "l1_cache_hits_total",
		Help:      "Total L1 experiment cache hits (in-memory)",
	})

	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "experiment_cache",
		Name:      "l1_cache_misses_total",
		Help:      "Total L1 experiment cache misses",
	})

	// Note: the S3-FIFO algorithm (Otter) tracks item count efficiently, but not byte size.
	CacheUsage = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "experiment_cache",
		Name:      "l1_cache_items_count",
		Help:      "Current number of items in the L1 experiment cache",
	})

	// CacheEvictions tracks items removed due to capacity pressure.
	CacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "experiment_cache",
		Name:      "l1_cache_evictions_total",
		Help:      "Total items evicted due to capacity",
	})

	// -------------------------------------------------------------------------
	// DATABASE POOL (pgxpool)
	// -------------------------------------------------------------------------

	// DBPoolConnections reports the pool state by connection state.
	// Metric: norns_database_pool_connections{state="total|idle|in_use|max"}
	DBPoolConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "database_pool",
		Name:      "connections",
		Help:      "Number of connections in the database pool by state",
	}, []string{"state"})

	// pgxpool exposes cumulative totals; the monitor adds the delta between samples.
	DBPoolAcquireCount = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "database_pool",
		Name:      "acquire_count_total",
		Help:      "Total successful connection acquires",
	})

	DBPoolAcquireDuration = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "database_pool",
		Name:      "acquire_duration_seconds_total",
		Help:      "Total time spent acquiring connections",
	})

	DBPoolWaitCount = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "database_pool",
		Name:      "wait_count_total",
		Help:      "Total acquires that had to wait for a connection",
	})

	// -------------------------------------------------------------------------
	// REDIS POOL (go-redis)
	// -------------------------------------------------------------------------

	// RedisPoolConnections reports the pool state by connection state.
	// Metric: norns_redis_pool_connections{state="total|idle|stale"}
	RedisPoolConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "redis_pool",
		Name:      "connections",
		Help:      "Number of connections in the Redis pool by state",
	}, []string{"state"})

	RedisPoolHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "redis_pool",
		Name:      "hits_total",
		Help:      "Total times a free connection was found in the pool",
	})

	RedisPoolMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "redis_pool",
		Name:      "misses_total",
		Help:      "Total times a free connection was not found in the pool",
	})

	RedisPoolTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "redis_pool",
		Name:      "timeouts_total",
		Help:      "Total times a connection could not be obtained in time",
	})
)

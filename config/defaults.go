// Package config provides configuration defaults and limits for the
// execledger application.
//
// This package defines all configurable constants with documented defaults.
// Users can override these values via config.yaml or EXECLEDGER_* environment
// variables.
package config

import "time"

// =============================================================================
// Storage Defaults
// =============================================================================

const (
	// DefaultDataDir is the root directory for database and archive files.
	// Override via config: data_dir
	DefaultDataDir = "data"

	// DefaultDatabaseFile is the DuckDB file name under the data dir.
	// Override via config: database.path
	DefaultDatabaseFile = "executions.duckdb"

	// DefaultMemoryLimit caps DuckDB memory usage.
	// Override via config: database.memory_limit
	DefaultMemoryLimit = "512MB"

	// DefaultThreads is the DuckDB worker thread count.
	// Override via config: database.threads
	DefaultThreads = 4

	// DefaultQueryTimeoutSec bounds individual engine operations.
	// Override via config: database.query_timeout
	DefaultQueryTimeoutSec = 30

	// IsolationSnapshot is the only supported isolation level: DuckDB's
	// native MVCC snapshot isolation. The setting exists so the choice is
	// explicit in configuration rather than implied by the engine.
	// Override via config: database.isolation (must be "snapshot")
	IsolationSnapshot = "snapshot"
)

// =============================================================================
// Connection Pool Defaults
// =============================================================================

const (
	// DefaultPoolSize is the number of engine handles shared across
	// concurrent callers.
	// Override via config: pool.size
	DefaultPoolSize = 4

	// DefaultAcquireTimeout is how long an acquisition waits for a free
	// handle before failing with a pool-exhausted error.
	// Override via config: pool.acquire_timeout
	DefaultAcquireTimeout = 5 * time.Second
)

// =============================================================================
// Ingestion Defaults
// =============================================================================

const (
	// DefaultQueueSize is the fire-and-forget ingest queue capacity.
	// Override via config: ingest.queue_size
	DefaultQueueSize = 4096

	// DefaultBatchSize is the max number of records per flush batch.
	// Override via config: ingest.batch_size
	DefaultBatchSize = 256

	// DefaultFlushInterval is the max hold time before a partial batch
	// is flushed.
	// Override via config: ingest.flush_interval
	DefaultFlushInterval = 2 * time.Second

	// DefaultRecentErrors is the capacity of the side-channel ring that
	// keeps the most recent ingestion failures for status reporting.
	DefaultRecentErrors = 32
)

// =============================================================================
// Rollup Defaults
// =============================================================================

const (
	// DefaultRefreshInterval is the materialized view refresh cadence.
	// Override via config: rollup.refresh_interval
	DefaultRefreshInterval = 5 * time.Minute

	// DefaultMinPatternSupport drops solution-pattern groups seen fewer
	// times than this within the window.
	// Override via config: rollup.min_pattern_support
	DefaultMinPatternSupport = 5

	// DefaultPercentileAccuracy is the DDSketch relative accuracy
	// (0.01 = 1% error).
	// Override via config: rollup.percentile_accuracy
	DefaultPercentileAccuracy = 0.01

	// TierWindowDays is the trailing window of the tier-performance view.
	TierWindowDays = 30

	// PoolWindowDays is the trailing window of the pool-performance view.
	PoolWindowDays = 7

	// PatternWindowDays is the trailing window of the solution-patterns view.
	PatternWindowDays = 90
)

// =============================================================================
// Retention Defaults
// =============================================================================

const (
	// DefaultRetentionDays is the default data horizon.
	// Override via config: retention.days
	DefaultRetentionDays = 90

	// MinRetentionDays is the smallest accepted horizon.
	MinRetentionDays = 7

	// MaxRetentionDays is the largest accepted horizon.
	MaxRetentionDays = 365

	// DefaultRetentionSchedule runs the cycle daily at 05:00, a
	// low-traffic window.
	// Override via config: retention.schedule
	DefaultRetentionSchedule = "0 5 * * *"

	// DefaultArchiveDirName is the archive directory under the data dir.
	// Override via config: retention.archive.dir
	DefaultArchiveDirName = "archive"

	// DefaultArchiveCompression is the Parquet compression codec.
	// Override via config: retention.archive.compression
	DefaultArchiveCompression = "zstd"

	// DefaultArchiveCompressionLevel is the zstd level (1-22).
	// Override via config: retention.archive.compression_level
	DefaultArchiveCompressionLevel = 3
)

// =============================================================================
// Monitoring Defaults
// =============================================================================

const (
	// DefaultStatusCacheTTL is how long monitoring responses are cached.
	// Override via config: monitor.cache_ttl
	DefaultStatusCacheTTL = 30 * time.Second

	// DefaultCacheMaxBytes bounds the monitoring response cache.
	// Override via config: monitor.cache_max_bytes
	DefaultCacheMaxBytes = 32 * 1024 * 1024

	// DefaultMaxRows caps rows returned by ad-hoc SQL execution.
	// Override via config: monitor.max_rows
	DefaultMaxRows = 10000

	// DefaultSimilarityLimit is the default top-k for similarity search.
	DefaultSimilarityLimit = 10
)

// =============================================================================
// Scheduler / Shutdown Defaults
// =============================================================================

const (
	// DefaultSchedulerTick is how often the maintenance scheduler checks
	// for due jobs.
	DefaultSchedulerTick = time.Second

	// DefaultDrainTimeoutSec is how long to wait for in-flight maintenance
	// jobs during shutdown. This follows the Kubernetes convention
	// (terminationGracePeriodSeconds = 30s).
	DefaultDrainTimeoutSec = 30
)

// =============================================================================
// Backpressure Defaults
// =============================================================================

const (
	// DefaultBackpressureWarning is the queue utilization that raises the
	// warning level.
	DefaultBackpressureWarning = 0.50

	// DefaultBackpressureCritical is the queue utilization that raises the
	// critical level.
	DefaultBackpressureCritical = 0.80

	// DefaultBackpressureEmergency is the queue utilization at which new
	// records are shed instead of queued.
	DefaultBackpressureEmergency = 0.95

	// DefaultBackpressureHysteresis prevents level flapping on recovery.
	DefaultBackpressureHysteresis = 0.10

	// DefaultBackpressureCooldown is the minimum time between level changes.
	DefaultBackpressureCooldown = 30 * time.Second
)

// Package config defines the execledger configuration: YAML file layout,
// defaults, environment overrides, and validation.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	defaults "github.com/execledger/execledger/config"
)

// EnvPrefix is the prefix for environment variable overrides,
// e.g. EXECLEDGER_RETENTION_DAYS.
const EnvPrefix = "execledger"

// Config represents the complete execledger configuration.
type Config struct {
	// DataDir is the root directory for the database and archive files.
	DataDir string `yaml:"data_dir" envconfig:"DATA_DIR"`

	// Database configures the embedded analytical engine.
	Database DatabaseConfig `yaml:"database"`

	// Pool bounds concurrent engine access.
	Pool PoolConfig `yaml:"pool"`

	// Ingest configures the fire-and-forget ingestion pipeline.
	Ingest IngestConfig `yaml:"ingest"`

	// Rollup configures materialized view maintenance.
	Rollup RollupConfig `yaml:"rollup"`

	// Retention configures the data horizon and archival.
	Retention RetentionConfig `yaml:"retention"`

	// Monitor configures the monitoring query endpoints.
	Monitor MonitorConfig `yaml:"monitor"`

	// Logging configures structured log output.
	Logging LoggingConfig `yaml:"logging"`
}

// DatabaseConfig configures the embedded analytical engine.
type DatabaseConfig struct {
	// Path is the database file. Defaults to {DataDir}/executions.duckdb.
	Path string `yaml:"path" envconfig:"DB_PATH"`

	// MemoryLimit caps engine memory usage. Format: "512MB", "2GB".
	MemoryLimit string `yaml:"memory_limit"`

	// Threads is the engine worker thread count.
	Threads int `yaml:"threads"`

	// Isolation is the transaction isolation level. The engine supports
	// exactly "snapshot" (MVCC); the setting makes that choice explicit.
	Isolation string `yaml:"isolation"`

	// QueryTimeout bounds individual engine operations.
	QueryTimeout time.Duration `yaml:"query_timeout"`
}

// PoolConfig bounds concurrent engine access.
type PoolConfig struct {
	// Size is the number of engine handles shared across callers.
	Size int `yaml:"size" envconfig:"POOL_SIZE"`

	// AcquireTimeout is how long a caller waits for a free handle.
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`
}

// IngestConfig configures the fire-and-forget ingestion pipeline.
type IngestConfig struct {
	// QueueSize is the ingest queue capacity.
	QueueSize int `yaml:"queue_size"`

	// BatchSize is the max number of records per flush batch.
	BatchSize int `yaml:"batch_size"`

	// FlushInterval is the max hold time before a partial batch flushes.
	FlushInterval time.Duration `yaml:"flush_interval"`

	// StrictBatch aborts a whole synchronous batch when any row is
	// malformed instead of rejecting rows individually.
	StrictBatch bool `yaml:"strict_batch"`

	// Backpressure configures queue load shedding.
	Backpressure BackpressureConfig `yaml:"backpressure"`
}

// BackpressureConfig configures queue load shedding.
type BackpressureConfig struct {
	// Enabled enables backpressure handling.
	Enabled bool `yaml:"enabled"`

	// Thresholds defines queue usage thresholds for level changes.
	Thresholds BackpressureThresholds `yaml:"thresholds"`

	// Recovery configures recovery behavior.
	Recovery BackpressureRecovery `yaml:"recovery"`
}

// BackpressureThresholds defines queue usage thresholds.
type BackpressureThresholds struct {
	// Warning threshold (0.0-1.0).
	Warning float64 `yaml:"warning"`

	// Critical threshold (0.0-1.0).
	Critical float64 `yaml:"critical"`

	// Emergency threshold (0.0-1.0): new records are shed.
	Emergency float64 `yaml:"emergency"`
}

// BackpressureRecovery configures recovery behavior.
type BackpressureRecovery struct {
	// Hysteresis to prevent flapping (0.0-0.5).
	Hysteresis float64 `yaml:"hysteresis"`

	// Cooldown is the minimum time between level changes.
	Cooldown time.Duration `yaml:"cooldown"`
}

// RollupConfig configures materialized view maintenance.
type RollupConfig struct {
	// RefreshInterval is the view recomputation cadence.
	RefreshInterval time.Duration `yaml:"refresh_interval" envconfig:"REFRESH_INTERVAL"`

	// MinPatternSupport drops solution-pattern groups with fewer
	// occurrences than this within the window.
	MinPatternSupport int `yaml:"min_pattern_support"`

	// PercentileAccuracy is the sketch relative accuracy (0.01 = 1%).
	PercentileAccuracy float64 `yaml:"percentile_accuracy"`
}

// RetentionConfig configures the data horizon and archival.
type RetentionConfig struct {
	// Days is the retention horizon. Valid range: 7-365.
	Days int `yaml:"days" envconfig:"RETENTION_DAYS"`

	// Schedule is the cron expression for the retention cycle.
	Schedule string `yaml:"schedule"`

	// Archive configures pre-delete archival.
	Archive ArchiveConfig `yaml:"archive"`
}

// ArchiveConfig configures pre-delete archival.
type ArchiveConfig struct {
	// Enabled exports rows to an archive file before deletion.
	Enabled bool `yaml:"enabled" envconfig:"ARCHIVE_ENABLED"`

	// Dir is the archive directory. Defaults to {DataDir}/archive.
	Dir string `yaml:"dir" envconfig:"ARCHIVE_DIR"`

	// Compression is the Parquet codec: zstd, snappy, lz4, gzip, none.
	Compression string `yaml:"compression"`

	// CompressionLevel is the zstd level (1-22).
	CompressionLevel int `yaml:"compression_level"`
}

// MonitorConfig configures the monitoring query endpoints.
type MonitorConfig struct {
	// CacheTTL is how long monitoring responses are cached.
	CacheTTL time.Duration `yaml:"cache_ttl"`

	// CacheMaxBytes bounds the response cache.
	CacheMaxBytes int64 `yaml:"cache_max_bytes"`

	// MaxRows caps rows returned by ad-hoc SQL execution.
	MaxRows int `yaml:"max_rows"`
}

// LoggingConfig configures structured log output.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level" envconfig:"LOG_LEVEL"`

	// JSON switches output from text to JSON.
	JSON bool `yaml:"json" envconfig:"LOG_JSON"`
}

// Load loads configuration from a YAML file, applies EXECLEDGER_*
// environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := envconfig.Process(EnvPrefix, config); err != nil {
		return nil, fmt.Errorf("apply env overrides: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return config, nil
}

// LoadOrDefault loads configuration from a YAML file when one exists at
// path. When the file is missing, the defaults still pass through the
// same EXECLEDGER_* environment override and validation steps as Load.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	config := DefaultConfig()
	if err := envconfig.Process(EnvPrefix, config); err != nil {
		return nil, fmt.Errorf("apply env overrides: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return config, nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DataDir: defaults.DefaultDataDir,
		Database: DatabaseConfig{
			MemoryLimit:  defaults.DefaultMemoryLimit,
			Threads:      defaults.DefaultThreads,
			Isolation:    defaults.IsolationSnapshot,
			QueryTimeout: defaults.DefaultQueryTimeoutSec * time.Second,
		},
		Pool: PoolConfig{
			Size:           defaults.DefaultPoolSize,
			AcquireTimeout: defaults.DefaultAcquireTimeout,
		},
		Ingest: IngestConfig{
			QueueSize:     defaults.DefaultQueueSize,
			BatchSize:     defaults.DefaultBatchSize,
			FlushInterval: defaults.DefaultFlushInterval,
			StrictBatch:   false,
			Backpressure: BackpressureConfig{
				Enabled: true,
				Thresholds: BackpressureThresholds{
					Warning:   defaults.DefaultBackpressureWarning,
					Critical:  defaults.DefaultBackpressureCritical,
					Emergency: defaults.DefaultBackpressureEmergency,
				},
				Recovery: BackpressureRecovery{
					Hysteresis: defaults.DefaultBackpressureHysteresis,
					Cooldown:   defaults.DefaultBackpressureCooldown,
				},
			},
		},
		Rollup: RollupConfig{
			RefreshInterval:    defaults.DefaultRefreshInterval,
			MinPatternSupport:  defaults.DefaultMinPatternSupport,
			PercentileAccuracy: defaults.DefaultPercentileAccuracy,
		},
		Retention: RetentionConfig{
			Days:     defaults.DefaultRetentionDays,
			Schedule: defaults.DefaultRetentionSchedule,
			Archive: ArchiveConfig{
				Enabled:          true,
				Compression:      defaults.DefaultArchiveCompression,
				CompressionLevel: defaults.DefaultArchiveCompressionLevel,
			},
		},
		Monitor: MonitorConfig{
			CacheTTL:      defaults.DefaultStatusCacheTTL,
			CacheMaxBytes: defaults.DefaultCacheMaxBytes,
			MaxRows:       defaults.DefaultMaxRows,
		},
		Logging: LoggingConfig{
			Level: "info",
			JSON:  false,
		},
	}
}

// DatabasePath returns the database file path.
func (c *Config) DatabasePath() string {
	if c.Database.Path != "" {
		return c.Database.Path
	}
	return filepath.Join(c.DataDir, defaults.DefaultDatabaseFile)
}

// ArchiveDir returns the archive directory path.
func (c *Config) ArchiveDir() string {
	if c.Retention.Archive.Dir != "" {
		return c.Retention.Archive.Dir
	}
	return filepath.Join(c.DataDir, defaults.DefaultArchiveDirName)
}

// RetentionHorizon returns the retention window as a duration.
func (c *Config) RetentionHorizon() time.Duration {
	return time.Duration(c.Retention.Days) * 24 * time.Hour
}

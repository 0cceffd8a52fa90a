package config

import (
	"fmt"
	"os"

	defaults "github.com/execledger/execledger/config"
	"github.com/execledger/execledger/internal/errors"
)

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is required"))
	}

	if err := c.Database.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("database: %w", err))
	}

	if err := c.Pool.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("pool: %w", err))
	}

	if err := c.Ingest.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("ingest: %w", err))
	}

	if err := c.Rollup.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("rollup: %w", err))
	}

	if err := c.Retention.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("retention: %w", err))
	}

	if err := c.Monitor.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("monitor: %w", err))
	}

	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("logging: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the database configuration.
func (c *DatabaseConfig) Validate() error {
	var errs []error

	if c.Threads < 0 {
		errs = append(errs, errors.New("threads must be non-negative"))
	}

	if c.Isolation != "" && c.Isolation != defaults.IsolationSnapshot {
		errs = append(errs, fmt.Errorf("isolation %q unsupported, the engine provides %q",
			c.Isolation, defaults.IsolationSnapshot))
	}

	if c.QueryTimeout <= 0 {
		errs = append(errs, errors.New("query_timeout must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the pool configuration.
func (c *PoolConfig) Validate() error {
	var errs []error

	if c.Size <= 0 {
		errs = append(errs, errors.New("size must be positive"))
	}

	if c.AcquireTimeout <= 0 {
		errs = append(errs, errors.New("acquire_timeout must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the ingestion configuration.
func (c *IngestConfig) Validate() error {
	var errs []error

	if c.QueueSize <= 0 {
		errs = append(errs, errors.New("queue_size must be positive"))
	}

	if c.BatchSize <= 0 {
		errs = append(errs, errors.New("batch_size must be positive"))
	}

	if c.FlushInterval <= 0 {
		errs = append(errs, errors.New("flush_interval must be positive"))
	}

	if err := c.Backpressure.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("backpressure: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the backpressure configuration.
func (c *BackpressureConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	var errs []error

	if c.Thresholds.Warning <= 0 || c.Thresholds.Warning >= 1 {
		errs = append(errs, errors.New("thresholds.warning must be between 0 and 1"))
	}
	if c.Thresholds.Critical <= 0 || c.Thresholds.Critical >= 1 {
		errs = append(errs, errors.New("thresholds.critical must be between 0 and 1"))
	}
	if c.Thresholds.Emergency <= 0 || c.Thresholds.Emergency >= 1 {
		errs = append(errs, errors.New("thresholds.emergency must be between 0 and 1"))
	}

	if c.Thresholds.Warning >= c.Thresholds.Critical {
		errs = append(errs, errors.New("thresholds.warning must be < thresholds.critical"))
	}
	if c.Thresholds.Critical >= c.Thresholds.Emergency {
		errs = append(errs, errors.New("thresholds.critical must be < thresholds.emergency"))
	}

	if c.Recovery.Hysteresis < 0 || c.Recovery.Hysteresis >= 0.5 {
		errs = append(errs, errors.New("recovery.hysteresis must be between 0 and 0.5"))
	}
	if c.Recovery.Cooldown <= 0 {
		errs = append(errs, errors.New("recovery.cooldown must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the rollup configuration.
func (c *RollupConfig) Validate() error {
	var errs []error

	if c.RefreshInterval <= 0 {
		errs = append(errs, errors.New("refresh_interval must be positive"))
	}

	if c.MinPatternSupport < 1 {
		errs = append(errs, errors.New("min_pattern_support must be at least 1"))
	}

	if c.PercentileAccuracy <= 0 || c.PercentileAccuracy > 1 {
		errs = append(errs, errors.New("percentile_accuracy must be between 0 and 1"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the retention configuration. A horizon outside the
// accepted range is rejected here, at configuration time, never at
// cycle time.
func (c *RetentionConfig) Validate() error {
	var errs []error

	if c.Days < defaults.MinRetentionDays || c.Days > defaults.MaxRetentionDays {
		errs = append(errs, errors.Wrapf(errors.ErrRetentionConfig,
			"days %d outside [%d, %d]", c.Days, defaults.MinRetentionDays, defaults.MaxRetentionDays))
	}

	if c.Schedule == "" {
		errs = append(errs, errors.New("schedule is required"))
	}

	if err := c.Archive.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("archive: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the archive configuration.
func (c *ArchiveConfig) Validate() error {
	var errs []error

	validCodecs := map[string]bool{
		"zstd":   true,
		"snappy": true,
		"lz4":    true,
		"gzip":   true,
		"none":   true,
		"":       true, // Empty defaults to zstd
	}
	if !validCodecs[c.Compression] {
		errs = append(errs, errors.New("compression must be one of: zstd, snappy, lz4, gzip, none"))
	}

	if c.Compression == "zstd" && (c.CompressionLevel < 0 || c.CompressionLevel > 22) {
		errs = append(errs, errors.New("compression_level for zstd must be between 0 and 22"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the monitor configuration.
func (c *MonitorConfig) Validate() error {
	var errs []error

	if c.CacheTTL < 0 {
		errs = append(errs, errors.New("cache_ttl must be non-negative"))
	}

	if c.CacheMaxBytes <= 0 {
		errs = append(errs, errors.New("cache_max_bytes must be positive"))
	}

	if c.MaxRows <= 0 {
		errs = append(errs, errors.New("max_rows must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the logging configuration.
func (c *LoggingConfig) Validate() error {
	switch c.Level {
	case "", "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("level must be one of: debug, info, warn, error")
	}
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.DataDir,
		c.ArchiveDir(),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}

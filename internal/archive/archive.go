package archive

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"
	"github.com/parquet-go/parquet-go/compress/zstd"

	"github.com/execledger/execledger/internal/types"
)

// Options configures the archive writer.
type Options struct {
	// Compression algorithm
	Compression CompressionType

	// CompressionLevel for algorithms that support it (zstd: 1-22)
	CompressionLevel int
}

// CompressionType represents a Parquet compression algorithm.
type CompressionType int

const (
	CompressionNone CompressionType = iota
	CompressionSnappy
	CompressionZstd
	CompressionLZ4
	CompressionGzip
)

// DefaultOptions returns default archive options.
func DefaultOptions() Options {
	return Options{
		Compression:      CompressionZstd,
		CompressionLevel: 3,
	}
}

// ParseCompressionType parses a compression type string.
func ParseCompressionType(s string) CompressionType {
	switch s {
	case "snappy":
		return CompressionSnappy
	case "zstd":
		return CompressionZstd
	case "lz4":
		return CompressionLZ4
	case "gzip":
		return CompressionGzip
	case "none", "":
		return CompressionNone
	default:
		return CompressionZstd
	}
}

// getCompression returns the parquet-go compression codec for the options.
// Only zstd honors the numeric level.
func getCompression(opts Options) compress.Codec {
	switch opts.Compression {
	case CompressionSnappy:
		return &parquet.Snappy
	case CompressionZstd:
		return &zstd.Codec{Level: zstdLevel(opts.CompressionLevel)}
	case CompressionLZ4:
		return &parquet.Lz4Raw
	case CompressionGzip:
		return &parquet.Gzip
	default:
		return &parquet.Uncompressed
	}
}

// zstdLevel maps a zstd level (1-22) onto the encoder's speed tiers.
func zstdLevel(level int) zstd.Level {
	switch {
	case level < 3:
		return zstd.SpeedFastest
	case level < 6:
		return zstd.SpeedDefault
	case level < 10:
		return zstd.SpeedBetterCompression
	default:
		return zstd.SpeedBestCompression
	}
}

// =============================================================================
// File Naming
// =============================================================================

// filePrefix and fileExt frame every archive file name.
const (
	filePrefix = "executions-until-"
	fileExt    = ".parquet"
)

// FileName returns the deterministic archive file name for a retention
// cutoff. Two cycles with the same cutoff date target the same file, which
// makes a retried cycle overwrite its own partial output instead of
// accumulating new files.
func FileName(cutoff time.Time) string {
	return filePrefix + cutoff.UTC().Format("2006-01-02") + fileExt
}

// FilePath returns the full path of the archive file for a cutoff.
func FilePath(dir string, cutoff time.Time) string {
	return filepath.Join(dir, FileName(cutoff))
}

// ParseFileName extracts the cutoff date from an archive file name.
func ParseFileName(name string) (time.Time, error) {
	base := filepath.Base(name)
	if !strings.HasPrefix(base, filePrefix) || !strings.HasSuffix(base, fileExt) {
		return time.Time{}, fmt.Errorf("not an archive file: %s", base)
	}
	stamp := strings.TrimSuffix(strings.TrimPrefix(base, filePrefix), fileExt)

	t, err := time.Parse("2006-01-02", stamp)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse archive date %q: %w", stamp, err)
	}
	return t.UTC(), nil
}

// =============================================================================
// Row Format
// =============================================================================

// executionRow is the Parquet row layout for an archived execution record.
// Timestamps are stored as Unix milliseconds.
type executionRow struct {
	TaskID            string  `parquet:"task_id,zstd"`
	TimestampMs       int64   `parquet:"timestamp_ms"`
	TaskType          string  `parquet:"task_type,zstd"`
	TaskDescription   string  `parquet:"task_description,optional,zstd"`
	Repo              string  `parquet:"repo,zstd"`
	FileCount         int32   `parquet:"file_count"`
	EstimatedTokens   int32   `parquet:"estimated_tokens"`
	ModelTier         string  `parquet:"model_tier,zstd"`
	PoolType          string  `parquet:"pool_type,zstd"`
	SwarmTopology     string  `parquet:"swarm_topology,optional,zstd"`
	RoutingConfidence float64 `parquet:"routing_confidence"`
	ComplexityScore   float64 `parquet:"complexity_score"`
	Success           bool    `parquet:"success"`
	DurationSeconds   float64 `parquet:"duration_seconds"`
	QualityScore      float64 `parquet:"quality_score"`
	CostEstimate      float64 `parquet:"cost_estimate"`
	ActualCost        float64 `parquet:"actual_cost"`
	ErrorType         string  `parquet:"error_type,optional,zstd"`
	ErrorMessage      string  `parquet:"error_message,optional,zstd"`
	UserAccepted      bool    `parquet:"user_accepted"`
	UserRating        int32   `parquet:"user_rating"`
	PeakMemoryMB      float64 `parquet:"peak_memory_mb"`
	CPUTimeSeconds    float64 `parquet:"cpu_time_seconds"`
	SolutionSummary   string  `parquet:"solution_summary,optional,zstd"`
	Embedding         []byte  `parquet:"embedding,optional"`
	Metadata          string  `parquet:"metadata,optional,zstd"`
}

// RecordToRow converts an execution record to its Parquet row.
func RecordToRow(r *types.ExecutionRecord) (executionRow, error) {
	row := executionRow{
		TaskID:            r.TaskID,
		TimestampMs:       r.Timestamp.UTC().UnixMilli(),
		TaskType:          r.TaskType,
		TaskDescription:   r.TaskDescription,
		Repo:              r.Repo,
		FileCount:         int32(r.FileCount),
		EstimatedTokens:   int32(r.EstimatedTokens),
		ModelTier:         r.ModelTier,
		PoolType:          r.PoolType,
		SwarmTopology:     r.SwarmTopology,
		RoutingConfidence: r.RoutingConfidence,
		ComplexityScore:   r.ComplexityScore,
		Success:           r.Success,
		DurationSeconds:   r.DurationSeconds,
		QualityScore:      r.QualityScore,
		CostEstimate:      r.CostEstimate,
		ActualCost:        r.ActualCost,
		ErrorType:         r.ErrorType,
		ErrorMessage:      r.ErrorMessage,
		UserAccepted:      r.UserAccepted,
		UserRating:        int32(r.UserRating),
		PeakMemoryMB:      r.PeakMemoryMB,
		CPUTimeSeconds:    r.CPUTimeSeconds,
		SolutionSummary:   r.SolutionSummary,
	}

	if r.HasEmbedding() {
		row.Embedding = types.EncodeVector(r.Embedding)
	}
	if len(r.Metadata) > 0 {
		b, err := json.Marshal(r.Metadata)
		if err != nil {
			return executionRow{}, fmt.Errorf("marshal metadata for %s: %w", r.TaskID, err)
		}
		row.Metadata = string(b)
	}

	return row, nil
}

// RowToRecord converts a Parquet row back to an execution record.
func RowToRecord(row *executionRow) (*types.ExecutionRecord, error) {
	rec := &types.ExecutionRecord{
		TaskID:            row.TaskID,
		Timestamp:         time.UnixMilli(row.TimestampMs).UTC(),
		TaskType:          row.TaskType,
		TaskDescription:   row.TaskDescription,
		Repo:              row.Repo,
		FileCount:         int(row.FileCount),
		EstimatedTokens:   int(row.EstimatedTokens),
		ModelTier:         row.ModelTier,
		PoolType:          row.PoolType,
		SwarmTopology:     row.SwarmTopology,
		RoutingConfidence: row.RoutingConfidence,
		ComplexityScore:   row.ComplexityScore,
		Success:           row.Success,
		DurationSeconds:   row.DurationSeconds,
		QualityScore:      row.QualityScore,
		CostEstimate:      row.CostEstimate,
		ActualCost:        row.ActualCost,
		ErrorType:         row.ErrorType,
		ErrorMessage:      row.ErrorMessage,
		UserAccepted:      row.UserAccepted,
		UserRating:        int(row.UserRating),
		PeakMemoryMB:      row.PeakMemoryMB,
		CPUTimeSeconds:    row.CPUTimeSeconds,
		SolutionSummary:   row.SolutionSummary,
	}

	if len(row.Embedding) > 0 {
		vec, err := types.DecodeVector(row.Embedding)
		if err != nil {
			return nil, fmt.Errorf("decode embedding for %s: %w", row.TaskID, err)
		}
		rec.Embedding = vec
	}
	if row.Metadata != "" {
		if err := json.Unmarshal([]byte(row.Metadata), &rec.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata for %s: %w", row.TaskID, err)
		}
	}

	return rec, nil
}

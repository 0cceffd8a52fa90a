// Package archive implements Parquet archival for expired execution records.
//
// The package provides:
//   - Writer/Reader for execution record archive files
//   - Support for multiple compression algorithms (snappy, zstd, lz4, gzip)
//   - Deterministic archive file naming by retention cutoff date
//   - File inspection for verification and listing
package archive

// Package retention enforces the bounded data horizon on the executions
// table.
//
// A cycle selects rows strictly older than the cutoff, archives them to
// one Parquet file named by the cutoff date, verifies the archive by
// reopening it, deletes the selected rows, and checkpoints the database
// to reclaim space. Verification failures abort the cycle before the
// delete so no row is lost to a bad archive. Concurrent cycles for the
// same cutoff coalesce; overlapping cycles for different cutoffs are
// rejected.
package retention

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/execledger/execledger/internal/archive"
	"github.com/execledger/execledger/internal/config"
	"github.com/execledger/execledger/internal/errors"
	"github.com/execledger/execledger/internal/logging"
	"github.com/execledger/execledger/internal/store"
	"github.com/execledger/execledger/internal/types"
)

// archiveBatchSize bounds memory while streaming rows into the archive.
const archiveBatchSize = 1000

// Manager runs retention cycles against one store.
type Manager struct {
	config     config.RetentionConfig
	archiveDir string
	store      *store.Store

	// Coalesces concurrent cycles for the same cutoff date.
	group   singleflight.Group
	running atomic.Bool

	mu    sync.RWMutex
	stats Stats

	log *slog.Logger
}

// Stats holds cumulative retention statistics.
type Stats struct {
	LastRunTime  time.Time `json:"last_run_time"`
	CyclesRun    int64     `json:"cycles_run"`
	RowsArchived int64     `json:"rows_archived"`
	RowsDeleted  int64     `json:"rows_deleted"`
	Errors       int64     `json:"errors"`
}

// Result reports one retention cycle.
type Result struct {
	Cutoff        time.Time     `json:"cutoff"`
	ArchivedCount int64         `json:"archived_count"`
	DeletedCount  int64         `json:"deleted_count"`
	DaysCleaned   int           `json:"days_cleaned"`
	ArchivePath   string        `json:"archive_path,omitempty"`
	DryRun        bool          `json:"dry_run,omitempty"`
	Elapsed       time.Duration `json:"elapsed"`
}

// New creates a retention manager. The archive directory is only used
// when archival is enabled.
func New(cfg config.RetentionConfig, archiveDir string, st *store.Store) *Manager {
	return &Manager{
		config:     cfg,
		archiveDir: archiveDir,
		store:      st,
		log:        logging.Component("retention"),
	}
}

// cutoff returns the retention boundary for the given instant.
func (m *Manager) cutoff(now time.Time) time.Time {
	return now.UTC().Add(-time.Duration(m.config.Days) * 24 * time.Hour)
}

// Run executes one retention cycle. Concurrent calls sharing a cutoff
// date coalesce into a single cycle and share its result; a call that
// overlaps a cycle for a different cutoff fails with ErrRetentionRunning.
func (m *Manager) Run(ctx context.Context) (*Result, error) {
	cutoff := m.cutoff(time.Now())
	key := cutoff.Format("2006-01-02")

	v, err, _ := m.group.Do(key, func() (interface{}, error) {
		if !m.running.CompareAndSwap(false, true) {
			return nil, errors.Wrapf(errors.ErrRetentionRunning, "cycle %s", key)
		}
		defer m.running.Store(false)

		return m.cycle(ctx, cutoff)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Result), nil
}

// DryRun reports what a cycle would archive and delete without writing
// anything.
func (m *Manager) DryRun(ctx context.Context) (*Result, error) {
	cutoff := m.cutoff(time.Now())
	result := &Result{Cutoff: cutoff, DryRun: true}

	count, err := m.store.CountOlderThan(ctx, cutoff)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return result, nil
	}

	days, err := m.store.DistinctDaysOlderThan(ctx, cutoff)
	if err != nil {
		return nil, err
	}

	if m.config.Archive.Enabled {
		result.ArchivedCount = count
		result.ArchivePath = archive.FilePath(m.archiveDir, cutoff)
	}
	result.DeletedCount = count
	result.DaysCleaned = days

	return result, nil
}

// IsRunning reports whether a cycle is in flight.
func (m *Manager) IsRunning() bool {
	return m.running.Load()
}

// Archives lists the archive files written so far, oldest cutoff first.
func (m *Manager) Archives() ([]*archive.FileInfo, error) {
	return archive.List(m.archiveDir)
}

// Stats returns cumulative statistics.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

// =============================================================================
// Cycle
// =============================================================================

// cycle performs one full retention pass for the given cutoff.
func (m *Manager) cycle(ctx context.Context, cutoff time.Time) (*Result, error) {
	started := time.Now()
	result := &Result{Cutoff: cutoff}

	count, err := m.store.CountOlderThan(ctx, cutoff)
	if err != nil {
		m.recordError()
		return nil, err
	}
	if count == 0 {
		m.recordRun(result)
		m.log.Debug("retention: nothing older than cutoff", "cutoff", cutoff)
		return result, nil
	}

	// Captured before the delete removes the evidence. The selected set
	// is stable meanwhile: inserts are always newer than the cutoff and
	// deletes are serialized on the maintenance worker.
	days, err := m.store.DistinctDaysOlderThan(ctx, cutoff)
	if err != nil {
		m.recordError()
		return nil, err
	}

	if m.config.Archive.Enabled {
		path, archived, err := m.archive(ctx, cutoff, count)
		if err != nil {
			m.recordError()
			return nil, err
		}
		result.ArchivedCount = archived
		result.ArchivePath = path
	}

	deleted, err := m.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		m.recordError()
		return nil, err
	}
	result.DeletedCount = deleted
	result.DaysCleaned = days

	// Space reclaim failure does not undo a completed cycle.
	if err := m.store.Checkpoint(ctx); err != nil {
		m.log.Warn("checkpoint after retention failed", "error", err)
	}

	result.Elapsed = time.Since(started)
	m.recordRun(result)

	m.log.Info("retention cycle complete",
		"cutoff", cutoff.Format("2006-01-02"),
		"archived", result.ArchivedCount,
		"deleted", result.DeletedCount,
		"days_cleaned", result.DaysCleaned,
		"elapsed", result.Elapsed)

	return result, nil
}

// archive streams the rows older than the cutoff into one Parquet file
// and verifies it. Returns the file path and the archived row count.
func (m *Manager) archive(ctx context.Context, cutoff time.Time, expect int64) (string, int64, error) {
	opts := archive.Options{
		Compression:      archive.ParseCompressionType(m.config.Archive.Compression),
		CompressionLevel: m.config.Archive.CompressionLevel,
	}
	path := archive.FilePath(m.archiveDir, cutoff)

	w, err := archive.NewWriter(path, opts)
	if err != nil {
		return "", 0, errors.Wrap(err, "create archive")
	}

	batch := make([]*types.ExecutionRecord, 0, archiveBatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := w.Write(batch); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}

	err = m.store.ForEachOlderThan(ctx, cutoff, func(rec *types.ExecutionRecord) error {
		batch = append(batch, rec)
		if len(batch) == archiveBatchSize {
			return flush()
		}
		return nil
	})
	if err == nil {
		err = flush()
	}
	if err != nil {
		w.Abort()
		return "", 0, errors.Wrap(err, "write archive")
	}

	if err := w.Close(); err != nil {
		w.Abort()
		return "", 0, errors.Wrap(err, "close archive")
	}

	if err := m.verify(path, expect); err != nil {
		if rmErr := os.Remove(path); rmErr != nil {
			m.log.Warn("failed to remove unverified archive",
				"path", path, "error", rmErr)
		}
		return "", 0, err
	}

	return path, w.RowCount(), nil
}

// verify reopens the archive and checks the row count and readability.
func (m *Manager) verify(path string, expect int64) error {
	info, err := archive.Inspect(path)
	if err != nil {
		return errors.Wrapf(errors.ErrArchiveVerification, "inspect %s: %v", path, err)
	}
	if info.NumRows != expect {
		return errors.Wrapf(errors.ErrArchiveVerification,
			"%s holds %d rows, want %d", path, info.NumRows, expect)
	}

	r, err := archive.NewReader(path)
	if err != nil {
		return errors.Wrapf(errors.ErrArchiveVerification, "reopen %s: %v", path, err)
	}
	defer r.Close()

	var read int64
	for {
		recs, err := r.Read(archiveBatchSize)
		read += int64(len(recs))
		if err != nil {
			break
		}
		if len(recs) == 0 {
			break
		}
	}
	if read != expect {
		return errors.Wrapf(errors.ErrArchiveVerification,
			"%s readable rows %d, want %d", path, read, expect)
	}

	return nil
}

func (m *Manager) recordRun(result *Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats.LastRunTime = time.Now().UTC()
	m.stats.CyclesRun++
	m.stats.RowsArchived += result.ArchivedCount
	m.stats.RowsDeleted += result.DeletedCount
}

func (m *Manager) recordError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats.Errors++
}

// Package store provides DuckDB-backed persistence for execution telemetry.
//
// This package owns the executions table and all SQL against it: single and
// batch inserts, filtered queries, aggregate scans for rollups and status
// reporting, and the retention primitives (select, delete, checkpoint). All
// operations pass through a fixed-size connection gate so concurrent callers
// never exceed the configured slot count.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/execledger/execledger/internal/errors"
	"github.com/execledger/execledger/internal/logging"
)

// =============================================================================
// Store Configuration
// =============================================================================

// Config holds store configuration options.
type Config struct {
	// Path is the database file location. Empty opens an in-memory database.
	Path string

	// ReadOnly opens the database without write access. Used by the console
	// so inspection never interferes with a running daemon.
	ReadOnly bool

	// MemoryLimit caps DuckDB's memory usage, e.g. "512MB". Empty keeps the
	// engine default.
	MemoryLimit string

	// Threads is the number of threads DuckDB may use. Zero keeps the
	// engine default.
	Threads int

	// PoolSize is the number of gate slots for concurrent operations.
	PoolSize int

	// AcquireTimeout is how long a caller waits for a gate slot before the
	// operation fails with errors.ErrPoolExhausted.
	AcquireTimeout time.Duration

	// QueryTimeout is the default timeout for queries.
	QueryTimeout time.Duration

	// MaxRows caps the result size of ad-hoc SQL execution.
	MaxRows int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		PoolSize:       4,
		AcquireTimeout: 5 * time.Second,
		QueryTimeout:   30 * time.Second,
		MaxRows:        10000,
	}
}

// =============================================================================
// Store
// =============================================================================

// Store provides database operations.
//
// Store is safe for concurrent use.
type Store struct {
	db     *sql.DB
	gate   *Gate
	config Config
	log    *slog.Logger
	mu     sync.RWMutex
	closed bool
}

// New creates a new Store with the given configuration, applies engine
// settings, and runs schema migrations (unless read-only).
func New(cfg Config) (*Store, error) {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = DefaultConfig().PoolSize
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = DefaultConfig().QueryTimeout
	}

	dsn := cfg.Path
	if cfg.ReadOnly {
		dsn += "?access_mode=read_only"
	}

	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.PoolSize)
	db.SetMaxIdleConns(cfg.PoolSize)
	db.SetConnMaxLifetime(0)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := applySettings(ctx, db, cfg); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{
		db:     db,
		gate:   NewGate(cfg.PoolSize, cfg.AcquireTimeout),
		config: cfg,
		log:    logging.Component("store"),
	}

	if !cfg.ReadOnly {
		if err := s.migrate(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate schema: %w", err)
		}
	}

	return s, nil
}

// applySettings pushes engine-level options into the DuckDB session.
func applySettings(ctx context.Context, db *sql.DB, cfg Config) error {
	if cfg.MemoryLimit != "" {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("SET memory_limit = '%s'", cfg.MemoryLimit)); err != nil {
			return fmt.Errorf("set memory_limit: %w", err)
		}
	}
	if cfg.Threads > 0 {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("SET threads TO %d", cfg.Threads)); err != nil {
			return fmt.Errorf("set threads: %w", err)
		}
	}
	return nil
}

// Close closes the store. Pending operations holding gate slots finish
// against the open handle; new operations fail once the handle is closed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.config.Path
}

// PoolStats returns connection gate counters.
func (s *Store) PoolStats() GateStats {
	return s.gate.Stats()
}

// SizeBytes returns the on-disk size of the database file, including the
// write-ahead log if one is present. In-memory databases report zero.
func (s *Store) SizeBytes() (int64, error) {
	if s.config.Path == "" {
		return 0, nil
	}

	info, err := os.Stat(s.config.Path)
	if err != nil {
		return 0, fmt.Errorf("stat database: %w", err)
	}
	size := info.Size()

	if wal, err := os.Stat(s.config.Path + ".wal"); err == nil {
		size += wal.Size()
	}
	return size, nil
}

// =============================================================================
// Transaction Support
// =============================================================================

// Transaction executes a function within a database transaction.
//
// If the function returns an error, the transaction is rolled back.
// If the function returns nil, the transaction is committed.
func (s *Store) Transaction(fn func(*sql.Tx) error) error {
	return s.TransactionContext(context.Background(), fn)
}

// TransactionContext executes a function within a database transaction,
// holding a gate slot for the duration. The transaction sees a single
// consistent snapshot of the database.
func (s *Store) TransactionContext(ctx context.Context, fn func(*sql.Tx) error) error {
	return s.gate.Run(ctx, func(ctx context.Context) error {
		return s.transact(ctx, fn)
	})
}

// transact runs fn inside a transaction on the current gate slot.
func (s *Store) transact(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

// =============================================================================
// Gated Query Helpers
// =============================================================================

// withSlot runs fn while holding a gate slot and applies the configured
// query timeout when the caller's context has no deadline.
func (s *Store) withSlot(ctx context.Context, fn func(context.Context) error) error {
	return s.gate.Run(ctx, func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); !ok && s.config.QueryTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.config.QueryTimeout)
			defer cancel()
		}
		return fn(ctx)
	})
}

// =============================================================================
// Health Check
// =============================================================================

// Health checks database connectivity through the gate, so exhaustion
// surfaces as an error rather than a silent wait.
func (s *Store) Health(ctx context.Context) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return errors.ErrClosed
	}
	s.mu.RUnlock()

	return s.withSlot(ctx, func(ctx context.Context) error {
		return s.db.PingContext(ctx)
	})
}

// Checkpoint forces DuckDB to flush the write-ahead log and reclaim space
// freed by deletes. Called after retention cycles.
func (s *Store) Checkpoint(ctx context.Context) error {
	return s.withSlot(ctx, func(ctx context.Context) error {
		if _, err := s.db.ExecContext(ctx, "CHECKPOINT"); err != nil {
			return fmt.Errorf("checkpoint: %w", err)
		}
		return nil
	})
}

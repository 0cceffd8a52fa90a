package store

import (
	"context"
	"database/sql"
	"fmt"
)

// =============================================================================
// Schema Migrations
// =============================================================================

// migrations are applied in order on startup. Every statement is idempotent
// so reopening an existing database is a no-op.
var migrations = []struct {
	name string
	sql  string
}{
	{
		name: "create_executions",
		sql: `CREATE TABLE IF NOT EXISTS executions (
			task_id            VARCHAR PRIMARY KEY,
			ts                 TIMESTAMP NOT NULL,
			task_type          VARCHAR NOT NULL,
			task_description   VARCHAR DEFAULT '',
			repo               VARCHAR DEFAULT '',
			file_count         INTEGER DEFAULT 0,
			estimated_tokens   INTEGER DEFAULT 0,
			model_tier         VARCHAR NOT NULL,
			pool_type          VARCHAR NOT NULL,
			swarm_topology     VARCHAR DEFAULT '',
			routing_confidence DOUBLE  DEFAULT 0,
			complexity_score   DOUBLE  DEFAULT 0,
			success            BOOLEAN NOT NULL,
			duration_seconds   DOUBLE  DEFAULT 0,
			quality_score      DOUBLE  DEFAULT 0,
			cost_estimate      DOUBLE  DEFAULT 0,
			actual_cost        DOUBLE  DEFAULT 0,
			error_type         VARCHAR DEFAULT '',
			error_message      VARCHAR DEFAULT '',
			user_accepted      BOOLEAN DEFAULT false,
			user_rating        INTEGER DEFAULT 0,
			peak_memory_mb     DOUBLE  DEFAULT 0,
			cpu_time_seconds   DOUBLE  DEFAULT 0,
			solution_summary   VARCHAR DEFAULT '',
			embedding          BLOB,
			metadata           JSON,
			created_at         TIMESTAMP DEFAULT now()
		)`,
	},
	{
		name: "index_repo_type_ts",
		sql: `CREATE INDEX IF NOT EXISTS idx_exec_repo_type_ts
			ON executions (repo, task_type, ts)`,
	},
	{
		name: "index_tier_success_ts",
		sql: `CREATE INDEX IF NOT EXISTS idx_exec_tier_success_ts
			ON executions (model_tier, success, ts)`,
	},
	{
		name: "index_pool_success_duration",
		sql: `CREATE INDEX IF NOT EXISTS idx_exec_pool_success_dur
			ON executions (pool_type, success, duration_seconds)`,
	},
	{
		name: "index_repo_quality_ts",
		sql: `CREATE INDEX IF NOT EXISTS idx_exec_repo_quality_ts
			ON executions (repo, quality_score, ts)`,
	},
	{
		name: "index_ts",
		sql: `CREATE INDEX IF NOT EXISTS idx_exec_ts
			ON executions (ts)`,
	},
	{
		// Single-row bookkeeping table. CHECK (id = 1) keeps it single-row.
		name: "create_schema_state",
		sql: `CREATE TABLE IF NOT EXISTS schema_state (
			id          INTEGER PRIMARY KEY CHECK (id = 1),
			version     INTEGER NOT NULL DEFAULT 0,
			migrated_at TIMESTAMP DEFAULT now()
		)`,
	},
	{
		name: "init_schema_state",
		sql: `INSERT INTO schema_state (id, version) VALUES (1, 0)
			ON CONFLICT DO NOTHING`,
	},
}

// migrate applies all schema migrations and records the resulting version.
func (s *Store) migrate(ctx context.Context) error {
	for _, m := range migrations {
		if _, err := s.db.ExecContext(ctx, m.sql); err != nil {
			return fmt.Errorf("migration %s: %w", m.name, err)
		}
		s.log.Debug("applied migration", "name", m.name)
	}

	_, err := s.db.ExecContext(ctx,
		`UPDATE schema_state SET version = ?, migrated_at = now() WHERE id = 1`,
		len(migrations))
	if err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}

	return nil
}

// SchemaVersion returns the migration count recorded at startup.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	err := s.withSlot(ctx, func(ctx context.Context) error {
		row := s.db.QueryRowContext(ctx, `SELECT version FROM schema_state WHERE id = 1`)
		if err := row.Scan(&version); err != nil {
			if err == sql.ErrNoRows {
				version = 0
				return nil
			}
			return fmt.Errorf("read schema version: %w", err)
		}
		return nil
	})
	return version, err
}

package migration

import (
	"context"

	"simagg/internal/errors"

	"github.com/jmoiron/sqlx"
)

// Migrator defines the interface for database migration operations
type Migrator interface {
	Run(ctx context.Context, db *sqlx.DB) error
	Version() string
}

// MigrationRunner handles database schema migrations. The statements stay
// within the subset understood by both SQLite and PostgreSQL.
type MigrationRunner struct {
	version string
}

// NewRunner creates a new migration runner
func NewRunner() *MigrationRunner {
	return &MigrationRunner{
		version: "1.0.0",
	}
}

// Version returns the migration version
func (r *MigrationRunner) Version() string {
	return r.version
}

// Run executes all database migrations in the correct order
func (r *MigrationRunner) Run(ctx context.Context, db *sqlx.DB) error {
	if err := r.createBatchesTable(ctx, db); err != nil {
		return errors.Wrap(err, "failed to create convergence_batches table")
	}

	if err := r.createRecordsTable(ctx, db); err != nil {
		return errors.Wrap(err, "failed to create convergence_records table")
	}

	if err := r.createIndexes(ctx, db); err != nil {
		return errors.Wrap(err, "failed to create indexes")
	}

	return nil
}

func (r *MigrationRunner) createBatchesTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS convergence_batches (
			id VARCHAR(64) PRIMARY KEY,
			experiment VARCHAR(255) NOT NULL,
			metric VARCHAR(255) NOT NULL,
			threshold DOUBLE PRECISION NOT NULL,
			group_by TEXT NOT NULL,
			run_count INTEGER NOT NULL DEFAULT 0,
			created_at BIGINT NOT NULL
		)
	`)
	return err
}

func (r *MigrationRunner) createRecordsTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS convergence_records (
			batch_id VARCHAR(64) NOT NULL REFERENCES convergence_batches(id) ON DELETE CASCADE,
			position INTEGER NOT NULL,
			group_values TEXT NOT NULL,
			mean_time DOUBLE PRECISION,
			min_time DOUBLE PRECISION,
			max_time DOUBLE PRECISION,
			runs INTEGER NOT NULL,
			PRIMARY KEY (batch_id, position)
		)
	`)
	return err
}

func (r *MigrationRunner) createIndexes(ctx context.Context, db *sqlx.DB) error {
	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_convergence_batches_lookup ON convergence_batches(experiment, metric, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_convergence_records_batch ON convergence_records(batch_id)`,
	}
	for _, stmt := range indexes {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

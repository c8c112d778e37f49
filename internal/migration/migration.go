package migration

import (
	"context"

	"gommrm/internal/errors"

	"github.com/jmoiron/sqlx"
)

// Migrator defines the interface for database migration operations
type Migrator interface {
	Run(ctx context.Context, db *sqlx.DB) error
	Version() string
}

// MigrationRunner handles the result-ledger schema migrations
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
	if err := r.createFitsTable(ctx, db); err != nil {
		return errors.Wrap(err, "failed to create fits table")
	}

	if err := r.createContrastResultsTable(ctx, db); err != nil {
		return errors.Wrap(err, "failed to create contrast_results table")
	}

	if err := r.createRunManifestsTable(ctx, db); err != nil {
		return errors.Wrap(err, "failed to create run_manifests table")
	}

	if err := r.createIndexes(ctx, db); err != nil {
		return errors.Wrap(err, "failed to create indexes")
	}

	return nil
}

func (r *MigrationRunner) createFitsTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS fits (
			id VARCHAR(64) PRIMARY KEY,
			structure VARCHAR(32) NOT NULL,
			num_obs INTEGER NOT NULL,
			num_coef INTEGER NOT NULL,
			num_theta INTEGER NOT NULL,
			neg_log_lik DOUBLE PRECISION NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)
	`)
	return err
}

func (r *MigrationRunner) createContrastResultsTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS contrast_results (
			id BIGSERIAL PRIMARY KEY,
			fit_id VARCHAR(64) NOT NULL REFERENCES fits(id) ON DELETE CASCADE,
			label TEXT NOT NULL,
			method VARCHAR(32) NOT NULL,
			estimate DOUBLE PRECISION NOT NULL,
			se DOUBLE PRECISION NOT NULL,
			df DOUBLE PRECISION NOT NULL,
			t_stat DOUBLE PRECISION NOT NULL,
			p_value DOUBLE PRECISION NOT NULL,
			lower_bound DOUBLE PRECISION NOT NULL,
			upper_bound DOUBLE PRECISION NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)
	`)
	return err
}

func (r *MigrationRunner) createRunManifestsTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS run_manifests (
			fit_id VARCHAR(64) PRIMARY KEY REFERENCES fits(id) ON DELETE CASCADE,
			fingerprint VARCHAR(64) NOT NULL,
			manifest JSONB NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)
	`)
	return err
}

func (r *MigrationRunner) createIndexes(ctx context.Context, db *sqlx.DB) error {
	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_contrast_results_fit_id ON contrast_results(fit_id)`,
		`CREATE INDEX IF NOT EXISTS idx_contrast_results_method ON contrast_results(method)`,
		`CREATE INDEX IF NOT EXISTS idx_run_manifests_fingerprint ON run_manifests(fingerprint)`,
	}
	for _, stmt := range indexes {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Package postgres persists fit summaries and contrast results.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"gommrm/domain/core"
	"gommrm/domain/run"
	apperrors "gommrm/internal/errors"
	"gommrm/ports"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// resultLedger implements the ResultLedger interface on Postgres.
type resultLedger struct {
	db *sqlx.DB
}

// NewResultLedger creates a ledger over an open connection pool.
func NewResultLedger(db *sqlx.DB) ports.ResultLedger {
	return &resultLedger{db: db}
}

// Connect opens a pool against the given DSN and verifies it.
func Connect(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to open database")
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, apperrors.Wrap(err, "failed to ping database")
	}
	return db, nil
}

// StoreFit appends one fit summary.
func (r *resultLedger) StoreFit(ctx context.Context, rec ports.FitRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	query := `INSERT INTO fits (
		id, structure, num_obs, num_coef, num_theta, neg_log_lik, created_at
	) VALUES (
		:id, :structure, :num_obs, :num_coef, :num_theta, :neg_log_lik, :created_at
	)`

	if _, err := r.db.NamedExecContext(ctx, query, rec); err != nil {
		return apperrors.Wrapf(err, "failed to store fit %s", rec.ID)
	}
	return nil
}

// GetFit retrieves one fit summary by ID.
func (r *resultLedger) GetFit(ctx context.Context, id core.FitID) (*ports.FitRecord, error) {
	query := `SELECT id, structure, num_obs, num_coef, num_theta, neg_log_lik, created_at
	FROM fits WHERE id = $1`

	var rec ports.FitRecord
	if err := r.db.GetContext(ctx, &rec, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.DataError("fit not found: " + string(id))
		}
		return nil, apperrors.Wrapf(err, "failed to get fit %s", id)
	}
	return &rec, nil
}

// StoreContrast appends one contrast result. Results are never
// updated; a rerun writes under a new fit ID.
func (r *resultLedger) StoreContrast(ctx context.Context, rec ports.ContrastRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	query := `INSERT INTO contrast_results (
		fit_id, label, method, estimate, se, df, t_stat, p_value, lower_bound, upper_bound, created_at
	) VALUES (
		:fit_id, :label, :method, :estimate, :se, :df, :t_stat, :p_value, :lower_bound, :upper_bound, :created_at
	)`

	if _, err := r.db.NamedExecContext(ctx, query, rec); err != nil {
		return apperrors.Wrapf(err, "failed to store contrast %q for fit %s", rec.Label, rec.FitID)
	}
	return nil
}

// ListContrasts returns every contrast result recorded for a fit, in
// insertion order.
func (r *resultLedger) ListContrasts(ctx context.Context, fitID core.FitID) ([]ports.ContrastRecord, error) {
	query := `SELECT fit_id, label, method, estimate, se, df, t_stat, p_value, lower_bound, upper_bound, created_at
	FROM contrast_results
	WHERE fit_id = $1
	ORDER BY created_at ASC`

	var recs []ports.ContrastRecord
	if err := r.db.SelectContext(ctx, &recs, query, fitID); err != nil {
		return nil, apperrors.Wrapf(err, "failed to list contrasts for fit %s", fitID)
	}
	return recs, nil
}

// StoreManifest appends the run manifest for a fit.
func (r *resultLedger) StoreManifest(ctx context.Context, m *run.Manifest) error {
	if err := m.Validate(); err != nil {
		return apperrors.Wrap(err, "refusing to store invalid manifest")
	}
	payload, err := json.Marshal(m)
	if err != nil {
		return apperrors.Wrapf(err, "failed to encode manifest for fit %s", m.FitID)
	}

	query := `INSERT INTO run_manifests (fit_id, fingerprint, manifest, created_at)
	VALUES ($1, $2, $3, $4)`
	if _, err := r.db.ExecContext(ctx, query, m.FitID, m.Fingerprint.String(), payload, m.CreatedAt.Time().UTC()); err != nil {
		return apperrors.Wrapf(err, "failed to store manifest for fit %s", m.FitID)
	}
	return nil
}

// GetManifest retrieves the run manifest recorded for a fit.
func (r *resultLedger) GetManifest(ctx context.Context, fitID core.FitID) (*run.Manifest, error) {
	var payload []byte
	query := `SELECT manifest FROM run_manifests WHERE fit_id = $1`
	if err := r.db.GetContext(ctx, &payload, query, fitID); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.DataError("manifest not found for fit: " + string(fitID))
		}
		return nil, apperrors.Wrapf(err, "failed to get manifest for fit %s", fitID)
	}

	var m run.Manifest
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, apperrors.Wrapf(err, "failed to decode manifest for fit %s", fitID)
	}
	return &m, nil
}

package ports

import (
	"context"
	"time"

	"gommrm/domain/core"
	"gommrm/domain/run"
)

// FitRecord is the persisted summary of one completed fit.
type FitRecord struct {
	ID        core.FitID `db:"id"`
	Structure string     `db:"structure"`
	NumObs    int        `db:"num_obs"`
	NumCoef   int        `db:"num_coef"`
	NumTheta  int        `db:"num_theta"`
	NegLogLik float64    `db:"neg_log_lik"`
	CreatedAt time.Time  `db:"created_at"`
}

// ContrastRecord is the persisted outcome of one contrast test.
type ContrastRecord struct {
	FitID     core.FitID `db:"fit_id"`
	Label     string     `db:"label"`
	Method    string     `db:"method"`
	Estimate  float64    `db:"estimate"`
	SE        float64    `db:"se"`
	DF        float64    `db:"df"`
	TStat     float64    `db:"t_stat"`
	PValue    float64    `db:"p_value"`
	Lower     float64    `db:"lower_bound"`
	Upper     float64    `db:"upper_bound"`
	CreatedAt time.Time  `db:"created_at"`
}

// ResultLedger is append-only storage for fits and their contrast
// results. Results are never updated in place; a rerun appends under
// a fresh fit ID.
type ResultLedger interface {
	StoreFit(ctx context.Context, rec FitRecord) error
	GetFit(ctx context.Context, id core.FitID) (*FitRecord, error)
	StoreContrast(ctx context.Context, rec ContrastRecord) error
	ListContrasts(ctx context.Context, fitID core.FitID) ([]ContrastRecord, error)
	StoreManifest(ctx context.Context, m *run.Manifest) error
	GetManifest(ctx context.Context, fitID core.FitID) (*run.Manifest, error)
}

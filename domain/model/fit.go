package model

import (
	"context"
	"fmt"

	"gommrm/domain/core"
	"gommrm/domain/covariance"

	"gonum.org/v1/gonum/mat"
)

// Subject holds one cluster's slice of the stacked design: the row
// indices it owns and the visit index of each row. Rows within a
// subject are correlated; subjects are independent.
type Subject struct {
	Key    core.SubjectKey
	Rows   []int
	Visits []int
	Group  int
}

// Objective evaluates the (restricted) negative log-likelihood at an
// arbitrary theta. The fitting collaborator supplies it; this core only
// differentiates through it numerically.
type Objective func(ctx context.Context, theta []float64) (float64, error)

// CovBetaFunc recovers the naive coefficient covariance implied by an
// arbitrary theta for a fixed design. Optional; when absent the engine
// assembles (XᵗWX)⁻¹ through the covariance structure itself.
type CovBetaFunc func(ctx context.Context, theta []float64) (*mat.SymDense, error)

// FitConfig carries everything the external optimizer produced.
type FitConfig struct {
	Design    *mat.Dense
	Response  []float64
	Weights   []float64 // optional, defaults to 1
	Subjects  []Subject
	Beta      []float64
	Theta     []float64
	Structure covariance.Structure
	NegLogLik Objective
	CovBeta   CovBetaFunc // optional override
}

// Fit is a read-only view over one completed model fit. It is created
// once by the fitting collaborator and never mutated; every estimator
// and adjustment in this module consumes it concurrently without locks.
type Fit struct {
	id        core.FitID
	x         *mat.Dense
	y         []float64
	weights   []float64
	subjects  []Subject
	beta      []float64
	theta     []float64
	structure covariance.Structure
	negLogLik Objective
	covBeta   CovBetaFunc
	residuals []float64
}

// NewFit validates the optimizer's output and freezes it into a Fit.
func NewFit(cfg FitConfig) (*Fit, error) {
	if cfg.Design == nil {
		return nil, fmt.Errorf("design matrix is required")
	}
	n, p := cfg.Design.Dims()
	if len(cfg.Response) != n {
		return nil, core.NewDimensionError("response", len(cfg.Response), n)
	}
	if len(cfg.Beta) != p {
		return nil, core.NewDimensionError("beta", len(cfg.Beta), p)
	}
	if cfg.Structure == nil {
		return nil, fmt.Errorf("covariance structure is required")
	}
	if len(cfg.Theta) != cfg.Structure.NumTheta() {
		return nil, core.NewDimensionError("theta", len(cfg.Theta), cfg.Structure.NumTheta())
	}
	if cfg.NegLogLik == nil {
		return nil, fmt.Errorf("objective callback is required")
	}

	weights := cfg.Weights
	if weights == nil {
		weights = make([]float64, n)
		for i := range weights {
			weights[i] = 1
		}
	} else if len(weights) != n {
		return nil, core.NewDimensionError("weights", len(weights), n)
	}
	for i, w := range weights {
		if w <= 0 {
			return nil, fmt.Errorf("weight for row %d must be positive, got %g", i, w)
		}
	}

	m := cfg.Structure.NumVisits()
	covered := make([]bool, n)
	for _, s := range cfg.Subjects {
		if len(s.Rows) != len(s.Visits) {
			return nil, core.NewDimensionError("subject visit set", len(s.Visits), len(s.Rows))
		}
		seen := make(map[int]bool, len(s.Visits))
		for i, r := range s.Rows {
			if r < 0 || r >= n {
				return nil, fmt.Errorf("subject %s references row %d outside design", s.Key, r)
			}
			if covered[r] {
				return nil, fmt.Errorf("row %d assigned to more than one subject", r)
			}
			covered[r] = true
			v := s.Visits[i]
			if v < 0 || v >= m {
				return nil, fmt.Errorf("subject %s visit index %d outside 0..%d", s.Key, v, m-1)
			}
			if seen[v] {
				return nil, fmt.Errorf("%w: subject %s visit %d", core.ErrDuplicateVisit, s.Key, v)
			}
			seen[v] = true
		}
	}

	residuals := make([]float64, n)
	for i := 0; i < n; i++ {
		fitted := 0.0
		for j := 0; j < p; j++ {
			fitted += cfg.Design.At(i, j) * cfg.Beta[j]
		}
		residuals[i] = cfg.Response[i] - fitted
	}

	return &Fit{
		id:        core.NewFitID(),
		x:         cfg.Design,
		y:         cfg.Response,
		weights:   weights,
		subjects:  cfg.Subjects,
		beta:      cfg.Beta,
		theta:     cfg.Theta,
		structure: cfg.Structure,
		negLogLik: cfg.NegLogLik,
		covBeta:   cfg.CovBeta,
		residuals: residuals,
	}, nil
}

// ID returns the fit identifier.
func (f *Fit) ID() core.FitID { return f.id }

// NumObs returns the number of stacked observations.
func (f *Fit) NumObs() int {
	n, _ := f.x.Dims()
	return n
}

// NumCoef returns the number of fixed-effect coefficients p.
func (f *Fit) NumCoef() int {
	_, p := f.x.Dims()
	return p
}

// NumTheta returns the number of variance parameters q.
func (f *Fit) NumTheta() int { return len(f.theta) }

// Design returns the stacked design matrix. Callers must not mutate it.
func (f *Fit) Design() *mat.Dense { return f.x }

// Response returns the stacked response vector.
func (f *Fit) Response() []float64 { return f.y }

// Weights returns the per-observation weights.
func (f *Fit) Weights() []float64 { return f.weights }

// Subjects returns the per-cluster row blocks.
func (f *Fit) Subjects() []Subject { return f.subjects }

// Beta returns the fixed-effect point estimate.
func (f *Fit) Beta() []float64 { return f.beta }

// Theta returns the variance-parameter point estimate.
func (f *Fit) Theta() []float64 { return f.theta }

// Structure returns the covariance structure bound at construction.
func (f *Fit) Structure() covariance.Structure { return f.structure }

// Residuals returns y - X*beta for the stacked design.
func (f *Fit) Residuals() []float64 { return f.residuals }

// NegLogLik evaluates the restricted negative log-likelihood at theta.
func (f *Fit) NegLogLik(ctx context.Context, theta []float64) (float64, error) {
	return f.negLogLik(ctx, theta)
}

// CovBetaOverride returns the caller-supplied coefficient-covariance
// capability, or nil when the engine should assemble it itself.
func (f *Fit) CovBetaOverride() CovBetaFunc { return f.covBeta }

// SubjectDesign returns subject i's rows of the design matrix.
func (f *Fit) SubjectDesign(i int) *mat.Dense {
	s := f.subjects[i]
	_, p := f.x.Dims()
	xi := mat.NewDense(len(s.Rows), p, nil)
	for a, r := range s.Rows {
		for j := 0; j < p; j++ {
			xi.Set(a, j, f.x.At(r, j))
		}
	}
	return xi
}

// SubjectResiduals returns subject i's residual vector.
func (f *Fit) SubjectResiduals(i int) []float64 {
	s := f.subjects[i]
	out := make([]float64, len(s.Rows))
	for a, r := range s.Rows {
		out[a] = f.residuals[r]
	}
	return out
}

// SubjectWeights returns subject i's observation weights.
func (f *Fit) SubjectWeights(i int) []float64 {
	s := f.subjects[i]
	out := make([]float64, len(s.Rows))
	for a, r := range s.Rows {
		out[a] = f.weights[r]
	}
	return out
}

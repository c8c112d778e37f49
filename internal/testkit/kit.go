// Package testkit provides deterministic fixtures for the estimator
// and degrees-of-freedom tests: seeded synthetic panels, surrogate
// objectives with known Hessians, and covariance capabilities with
// known derivatives.
package testkit

import (
	"context"
	"fmt"
	"math/rand"

	"gommrm/domain/core"
	"gommrm/domain/covariance"
	"gommrm/domain/dataset"
	"gommrm/domain/model"

	"gonum.org/v1/gonum/mat"
)

// PanelConfig configures the synthetic panel generator.
type PanelConfig struct {
	Subjects  int
	Visits    int
	Intercept float64
	TreatEff  float64
	TreatFrac float64
	Sigma     float64
	Seed      int64
}

// DefaultPanelConfig returns a small balanced two-arm panel.
func DefaultPanelConfig() PanelConfig {
	return PanelConfig{
		Subjects:  40,
		Visits:    3,
		Intercept: 10,
		TreatEff:  -2,
		TreatFrac: 0.5,
		Sigma:     1,
		Seed:      42,
	}
}

// GeneratePanel draws a complete seeded panel: every subject observed
// at every visit, independent Gaussian noise, a binary treatment
// covariate fixed per subject.
func GeneratePanel(cfg PanelConfig) (*dataset.Panel, error) {
	if cfg.Subjects < 2 || cfg.Visits < 1 {
		return nil, fmt.Errorf("panel needs at least 2 subjects and 1 visit")
	}
	rng := rand.New(rand.NewSource(cfg.Seed))

	levels := make([]string, cfg.Visits)
	for v := range levels {
		levels[v] = fmt.Sprintf("VIS%d", v+1)
	}

	records := make([]dataset.Record, 0, cfg.Subjects*cfg.Visits)
	for s := 0; s < cfg.Subjects; s++ {
		treat := 0.0
		if float64(s) < cfg.TreatFrac*float64(cfg.Subjects) {
			treat = 1
		}
		for v := 0; v < cfg.Visits; v++ {
			records = append(records, dataset.Record{
				Subject:    core.SubjectKey(fmt.Sprintf("SUBJ-%03d", s+1)),
				Visit:      core.VisitKey(levels[v]),
				Response:   cfg.Intercept + cfg.TreatEff*treat + cfg.Sigma*rng.NormFloat64(),
				Covariates: map[string]float64{"treatment": treat},
			})
		}
	}
	return dataset.NewPanel(records, levels)
}

// QuadraticObjective returns f(theta) = ½ (theta−center)ᵀ H (theta−center),
// whose Hessian is exactly H everywhere. Central differences recover H
// up to rounding, which makes theta-covariance assertions exact.
func QuadraticObjective(h *mat.SymDense, center []float64) model.Objective {
	q := len(center)
	return func(ctx context.Context, theta []float64) (float64, error) {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if len(theta) != q {
			return 0, fmt.Errorf("objective got %d parameters, want %d", len(theta), q)
		}
		d := make([]float64, q)
		for i := range d {
			d[i] = theta[i] - center[i]
		}
		val := 0.0
		for i := 0; i < q; i++ {
			for j := 0; j < q; j++ {
				val += 0.5 * d[i] * h.At(i, j) * d[j]
			}
		}
		return val, nil
	}
}

// LinearCovBeta returns covbeta(theta) = base + Σ_k theta_k · slopes[k].
// Its derivative in direction k is exactly slopes[k], so Jacobian
// assertions need no finite-difference tolerance beyond rounding.
func LinearCovBeta(base *mat.SymDense, slopes []*mat.SymDense) model.CovBetaFunc {
	p := base.SymmetricDim()
	return func(ctx context.Context, theta []float64) (*mat.SymDense, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(theta) != len(slopes) {
			return nil, fmt.Errorf("covbeta got %d parameters, want %d", len(theta), len(slopes))
		}
		out := mat.NewSymDense(p, nil)
		for i := 0; i < p; i++ {
			for j := i; j < p; j++ {
				v := base.At(i, j)
				for k, s := range slopes {
					v += theta[k] * s.At(i, j)
				}
				out.SetSym(i, j, v)
			}
		}
		return out, nil
	}
}

// ConstantObjective is a stand-in for fits whose objective is never
// evaluated by the test.
func ConstantObjective() model.Objective {
	return func(ctx context.Context, theta []float64) (float64, error) {
		return 0, nil
	}
}

// NewFitFromPanel assembles a Fit from a panel with the identity-noise
// objective surrogate: the quadratic objective centered at theta with
// an identity Hessian, so the theta covariance comes out as identity.
func NewFitFromPanel(panel *dataset.Panel, terms []string, structure covariance.Structure, beta, theta []float64) (*model.Fit, error) {
	x, err := panel.DesignMatrix(terms)
	if err != nil {
		return nil, err
	}
	h := mat.NewSymDense(len(theta), nil)
	for i := range theta {
		h.SetSym(i, i, 1)
	}
	return model.NewFit(model.FitConfig{
		Design:    x,
		Response:  panel.Response(),
		Weights:   panel.Weights(),
		Subjects:  panel.Subjects(),
		Beta:      beta,
		Theta:     theta,
		Structure: structure,
		NegLogLik: QuadraticObjective(h, theta),
	})
}

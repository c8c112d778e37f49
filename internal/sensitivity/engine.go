// Package sensitivity numerically differentiates through a fitted
// model: the Hessian of the restricted negative log-likelihood (whose
// inverse is the variance-parameter covariance) and the per-parameter
// derivatives of the coefficient covariance (the Jacobian list the
// Satterthwaite machinery consumes).
package sensitivity

import (
	"context"
	"fmt"
	"math"

	"gommrm/domain/core"
	"gommrm/domain/model"
	"gommrm/internal"
	"gommrm/internal/config"

	"golang.org/x/sync/semaphore"
	"gonum.org/v1/gonum/mat"
)

// Engine owns the differentiation tunables. Step sizes are
// configuration because coefficient-covariance surfaces can be badly
// scaled; validate them against an independent reference fit rather
// than trusting any fixed constant.
type Engine struct {
	cfg    config.NumericConfig
	logger *internal.Logger
}

// NewEngine creates a sensitivity engine.
func NewEngine(cfg config.NumericConfig, logger *internal.Logger) *Engine {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &Engine{cfg: cfg, logger: logger}
}

// JacobianResult holds the q coefficient-covariance derivatives.
// Entries that failed are nil in Matrices, with the per-index cause in
// Failures; callers may retry just those indices with another step.
type JacobianResult struct {
	Matrices []*mat.Dense
	Failures []*core.JacobianEntryError
}

// Complete reports whether every directional derivative succeeded.
func (r *JacobianResult) Complete() bool {
	return len(r.Failures) == 0
}

// ThetaCovariance inverts the numeric Hessian of the objective at
// theta. The inversion goes through a symmetric eigendecomposition so
// the result is exactly symmetric and ill-conditioning shows up as a
// near-zero eigenvalue rather than a garbage solve.
func (e *Engine) ThetaCovariance(ctx context.Context, obj model.Objective, theta []float64) (*mat.SymDense, error) {
	q := len(theta)
	eval := func(t []float64) (float64, error) {
		evalCtx, cancel := context.WithTimeout(ctx, e.cfg.EvalBudget)
		defer cancel()
		return obj(evalCtx, t)
	}

	f0, err := eval(theta)
	if err != nil {
		return nil, fmt.Errorf("objective at theta: %w", err)
	}

	step := make([]float64, q)
	for k := range step {
		step[k] = e.cfg.HessianStepScale * math.Max(1, math.Abs(theta[k]))
	}

	shifted := func(deltas map[int]float64) []float64 {
		t := make([]float64, q)
		copy(t, theta)
		for k, d := range deltas {
			t[k] += d
		}
		return t
	}

	hess := mat.NewSymDense(q, nil)
	for k := 0; k < q; k++ {
		tp := shifted(map[int]float64{k: step[k]})
		tm := shifted(map[int]float64{k: -step[k]})
		fp, err := eval(tp)
		if err != nil {
			return nil, fmt.Errorf("objective at theta[%d]+h: %w", k, err)
		}
		fm, err := eval(tm)
		if err != nil {
			return nil, fmt.Errorf("objective at theta[%d]-h: %w", k, err)
		}
		hess.SetSym(k, k, (fp-2*f0+fm)/(step[k]*step[k]))

		for l := k + 1; l < q; l++ {
			tpp := shifted(map[int]float64{k: step[k], l: step[l]})
			tpm := shifted(map[int]float64{k: step[k], l: -step[l]})
			tmp := shifted(map[int]float64{k: -step[k], l: step[l]})
			tmm := shifted(map[int]float64{k: -step[k], l: -step[l]})
			fpp, err := eval(tpp)
			if err != nil {
				return nil, fmt.Errorf("objective at theta[%d,%d] shift: %w", k, l, err)
			}
			fpm, err := eval(tpm)
			if err != nil {
				return nil, fmt.Errorf("objective at theta[%d,%d] shift: %w", k, l, err)
			}
			fmp, err := eval(tmp)
			if err != nil {
				return nil, fmt.Errorf("objective at theta[%d,%d] shift: %w", k, l, err)
			}
			fmm, err := eval(tmm)
			if err != nil {
				return nil, fmt.Errorf("objective at theta[%d,%d] shift: %w", k, l, err)
			}
			hess.SetSym(k, l, (fpp-fpm-fmp+fmm)/(4*step[k]*step[l]))
		}
	}

	return e.InvertSym(hess)
}

// InvertSym inverts a symmetric matrix via eigendecomposition:
// decompose, invert eigenvalues, reconstruct. An eigenvalue at or
// below the relative threshold means the fit sits at a saddle point or
// boundary and aborts the computation.
func (e *Engine) InvertSym(h *mat.SymDense) (*mat.SymDense, error) {
	q, _ := h.Dims()
	var es mat.EigenSym
	if !es.Factorize(h, true) {
		return nil, core.NewNonPositiveHessianError(math.NaN(), 0)
	}
	vals := es.Values(nil)
	var vecs mat.Dense
	es.VectorsTo(&vecs)

	maxEig := vals[0]
	for _, v := range vals {
		if v > maxEig {
			maxEig = v
		}
	}
	tol := e.cfg.EigenvalueTol * math.Max(maxEig, 0)
	for _, v := range vals {
		if v <= tol {
			return nil, core.NewNonPositiveHessianError(v, tol)
		}
	}

	inv := mat.NewSymDense(q, nil)
	for i := 0; i < q; i++ {
		for j := i; j < q; j++ {
			s := 0.0
			for k := 0; k < q; k++ {
				s += vecs.At(i, k) * vecs.At(j, k) / vals[k]
			}
			inv.SetSym(i, j, s)
		}
	}
	return inv, nil
}

// JacobianList differentiates covbeta with respect to each theta
// component by central differences. The q directions are independent,
// so they fan out across a bounded worker pool sized to the configured
// capacity; one failed direction is isolated per index instead of
// aborting the rest.
func (e *Engine) JacobianList(ctx context.Context, covbeta model.CovBetaFunc, theta []float64, p int) (*JacobianResult, error) {
	q := len(theta)
	result := &JacobianResult{Matrices: make([]*mat.Dense, q)}

	sem := semaphore.NewWeighted(int64(e.cfg.Workers))
	type entry struct {
		index int
		m     *mat.Dense
		err   error
	}
	out := make(chan entry, q)

	for k := 0; k < q; k++ {
		go func(k int) {
			if err := sem.Acquire(ctx, 1); err != nil {
				out <- entry{index: k, err: err}
				return
			}
			defer sem.Release(1)
			m, err := e.directional(ctx, covbeta, theta, k, p)
			out <- entry{index: k, m: m, err: err}
		}(k)
	}

	for i := 0; i < q; i++ {
		en := <-out
		if en.err != nil {
			result.Failures = append(result.Failures, &core.JacobianEntryError{Index: en.index, Cause: en.err})
			continue
		}
		result.Matrices[en.index] = en.m
	}

	if !result.Complete() {
		e.logger.Warn("jacobian list incomplete: %d of %d directions failed", len(result.Failures), q)
	}
	return result, nil
}

// Directional recomputes a single Jacobian entry, used to retry one
// failed index with an overridden step scale.
func (e *Engine) Directional(ctx context.Context, covbeta model.CovBetaFunc, theta []float64, k, p int, stepScale float64) (*mat.Dense, error) {
	e2 := *e
	if stepScale > 0 {
		e2.cfg.StepScale = stepScale
	}
	return e2.directional(ctx, covbeta, theta, k, p)
}

func (e *Engine) directional(ctx context.Context, covbeta model.CovBetaFunc, theta []float64, k, p int) (*mat.Dense, error) {
	h := e.cfg.StepScale * math.Max(1, math.Abs(theta[k]))

	eval := func(t []float64) (*mat.SymDense, error) {
		evalCtx, cancel := context.WithTimeout(ctx, e.cfg.EvalBudget)
		defer cancel()
		return covbeta(evalCtx, t)
	}

	tp := make([]float64, len(theta))
	tm := make([]float64, len(theta))
	copy(tp, theta)
	copy(tm, theta)
	tp[k] += h
	tm[k] -= h

	cp, err := eval(tp)
	if err != nil {
		return nil, err
	}
	cm, err := eval(tm)
	if err != nil {
		return nil, err
	}

	jac := mat.NewDense(p, p, nil)
	for i := 0; i < p; i++ {
		for j := 0; j < p; j++ {
			jac.Set(i, j, (cp.At(i, j)-cm.At(i, j))/(2*h))
		}
	}
	return jac, nil
}

package gommrm

import (
	"context"
	"errors"
	"sync"
	"time"

	"gommrm/domain/model"
	"gommrm/internal"
	"gommrm/internal/config"
	"gommrm/internal/kenwardroger"
	"gommrm/internal/satterthwaite"
	"gommrm/internal/sensitivity"
	"gommrm/internal/vcov"

	"gonum.org/v1/gonum/mat"
)

// Covariance is an estimated coefficient covariance. Degenerate marks
// a rank-deficient empirical estimate that should not be trusted for
// inference without a second look at the clustering.
type Covariance struct {
	Matrix     *mat.SymDense
	Degenerate bool
}

// Option tunes an Inference at construction time.
type Option func(*options)

type options struct {
	cfg    config.NumericConfig
	logger *internal.Logger
}

// WithStepScale overrides the relative step for the covariance
// Jacobian differences.
func WithStepScale(s float64) Option {
	return func(o *options) { o.cfg.StepScale = s }
}

// WithHessianStepScale overrides the relative step for the objective
// Hessian and the covariance derivatives.
func WithHessianStepScale(s float64) Option {
	return func(o *options) { o.cfg.HessianStepScale = s }
}

// WithEigenvalueTol overrides the relative eigenvalue threshold used
// when inverting the objective Hessian.
func WithEigenvalueTol(tol float64) Option {
	return func(o *options) { o.cfg.EigenvalueTol = tol }
}

// WithLeverageTol overrides the determinant threshold below which a
// jackknife leverage block is treated as singular.
func WithLeverageTol(tol float64) Option {
	return func(o *options) { o.cfg.LeverageTol = tol }
}

// WithWorkers bounds the Jacobian worker pool.
func WithWorkers(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.cfg.Workers = n
		}
	}
}

// WithEvalBudget caps the wall time of a single objective or
// covariance evaluation.
func WithEvalBudget(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.cfg.EvalBudget = d
		}
	}
}

// Inference binds the estimator and degrees-of-freedom engines to one
// fit. The expensive per-fit quantities, the q covariance Jacobians,
// the variance-parameter covariance and the Kenward-Roger adjustment,
// are computed at most once and reused by every contrast tested
// against the same fit. An Inference is safe for concurrent use.
type Inference struct {
	fit    *model.Fit
	cfg    config.NumericConfig
	logger *internal.Logger

	vc   *vcov.Engine
	sens *sensitivity.Engine
	sw   *satterthwaite.Engine
	kr   *kenwardroger.Engine

	mu        sync.Mutex
	jacobians []*mat.Dense
	jacErr    error
	jacDone   bool
	thetaCov  *mat.SymDense
	thetaErr  error
	thetaDone bool
	adj       *kenwardroger.Adjustment
	adjErr    error
	adjDone   bool
	covs      map[model.Method]*Covariance
}

// New creates an Inference over a completed fit.
func New(fit *model.Fit, opts ...Option) *Inference {
	o := options{cfg: config.DefaultNumeric(), logger: internal.DefaultLogger}
	for _, opt := range opts {
		opt(&o)
	}
	return &Inference{
		fit:    fit,
		cfg:    o.cfg,
		logger: o.logger,
		vc:     vcov.NewEngine(o.cfg, o.logger),
		sens:   sensitivity.NewEngine(o.cfg, o.logger),
		sw:     satterthwaite.NewEngine(o.logger),
		kr:     kenwardroger.NewEngine(o.cfg, o.logger),
		covs:   make(map[model.Method]*Covariance),
	}
}

// Fit returns the underlying fit.
func (inf *Inference) Fit() *model.Fit { return inf.fit }

// covbeta is the coefficient-covariance capability the Jacobian is
// differentiated through: the caller's override when one was supplied,
// otherwise the model-based (XᵗWX)⁻¹ assembled from the structure.
func (inf *Inference) covbeta(ctx context.Context, theta []float64) (*mat.SymDense, error) {
	if f := inf.fit.CovBetaOverride(); f != nil {
		return f(ctx, theta)
	}
	return inf.vc.Asymptotic(inf.fit, theta)
}

// CoefficientCovariance estimates the covariance of the fixed-effect
// estimates under the selected method.
func (inf *Inference) CoefficientCovariance(ctx context.Context, method model.Method) (*Covariance, error) {
	inf.mu.Lock()
	if c, ok := inf.covs[method]; ok {
		inf.mu.Unlock()
		return c, nil
	}
	inf.mu.Unlock()

	var c *Covariance
	switch method {
	case model.MethodKenwardRoger:
		adj, err := inf.adjustment(ctx)
		if err != nil {
			return nil, err
		}
		c = &Covariance{Matrix: adj.PhiA}
	case model.MethodAsymptotic:
		m, err := inf.covbeta(ctx, inf.fit.Theta())
		if err != nil {
			return nil, err
		}
		c = &Covariance{Matrix: m}
	default:
		res, err := inf.vc.Compute(inf.fit, method)
		if err != nil {
			return nil, err
		}
		c = &Covariance{Matrix: res.Matrix, Degenerate: res.Degenerate}
	}

	inf.mu.Lock()
	inf.covs[method] = c
	inf.mu.Unlock()
	return c, nil
}

// JacobianList returns the q derivatives of the coefficient covariance
// with respect to the variance parameters, computed once per fit. A
// direction that fails under the default step is retried once with a
// ten times larger one before the whole list is reported failed.
func (inf *Inference) JacobianList(ctx context.Context) ([]*mat.Dense, error) {
	inf.mu.Lock()
	defer inf.mu.Unlock()
	if inf.jacDone {
		return inf.jacobians, inf.jacErr
	}

	theta := inf.fit.Theta()
	p := inf.fit.NumCoef()
	res, err := inf.sens.JacobianList(ctx, inf.covbeta, theta, p)
	if err == nil && !res.Complete() {
		var remaining []error
		for _, f := range res.Failures {
			m, rerr := inf.sens.Directional(ctx, inf.covbeta, theta, f.Index, p, 10*inf.cfg.StepScale)
			if rerr != nil {
				remaining = append(remaining, f)
				continue
			}
			inf.logger.Warn("jacobian direction %d recovered with enlarged step", f.Index)
			res.Matrices[f.Index] = m
		}
		if len(remaining) > 0 {
			err = errors.Join(remaining...)
		}
	}

	inf.jacDone = true
	if err != nil {
		inf.jacErr = err
		return nil, err
	}
	inf.jacobians = res.Matrices
	return inf.jacobians, nil
}

// ThetaCovariance returns the covariance of the variance-parameter
// estimates, the inverse of the numeric objective Hessian, computed
// once per fit.
func (inf *Inference) ThetaCovariance(ctx context.Context) (*mat.SymDense, error) {
	inf.mu.Lock()
	defer inf.mu.Unlock()
	if inf.thetaDone {
		return inf.thetaCov, inf.thetaErr
	}
	inf.thetaCov, inf.thetaErr = inf.sens.ThetaCovariance(ctx, inf.fit.NegLogLik, inf.fit.Theta())
	inf.thetaDone = true
	return inf.thetaCov, inf.thetaErr
}

func (inf *Inference) adjustment(ctx context.Context) (*kenwardroger.Adjustment, error) {
	thetaCov, err := inf.ThetaCovariance(ctx)
	if err != nil {
		return nil, err
	}

	inf.mu.Lock()
	defer inf.mu.Unlock()
	if inf.adjDone {
		return inf.adj, inf.adjErr
	}
	inf.adj, inf.adjErr = inf.kr.Adjust(inf.fit, thetaCov)
	inf.adjDone = true
	return inf.adj, inf.adjErr
}

// satterthwaiteInputs assembles the shared per-fit quantities with the
// selected method's covariance plugged in. The Jacobians and the theta
// covariance always come from the model-based capability regardless of
// which covariance the contrast variance uses.
func (inf *Inference) satterthwaiteInputs(ctx context.Context, method model.Method) (*satterthwaite.Inputs, error) {
	cov, err := inf.CoefficientCovariance(ctx, method)
	if err != nil {
		return nil, err
	}
	jac, err := inf.JacobianList(ctx)
	if err != nil {
		return nil, err
	}
	thetaCov, err := inf.ThetaCovariance(ctx)
	if err != nil {
		return nil, err
	}
	return &satterthwaite.Inputs{
		Beta:      inf.fit.Beta(),
		CovBeta:   cov.Matrix,
		Jacobians: jac,
		ThetaCov:  thetaCov,
	}, nil
}

// TestOneDim tests the single linear contrast L·beta = 0 with the
// selected covariance method. Kenward-Roger uses its own moment-based
// degrees of freedom; every other method uses Satterthwaite.
func (inf *Inference) TestOneDim(ctx context.Context, method model.Method, contrast model.Contrast) (*model.OneDimResult, error) {
	if method == model.MethodKenwardRoger {
		adj, err := inf.adjustment(ctx)
		if err != nil {
			return nil, err
		}
		return inf.kr.OneDim(adj, contrast)
	}
	in, err := inf.satterthwaiteInputs(ctx, method)
	if err != nil {
		return nil, err
	}
	return inf.sw.OneDim(in, contrast)
}

// TestMultiDim jointly tests the rows of a contrast matrix with an
// F statistic.
func (inf *Inference) TestMultiDim(ctx context.Context, method model.Method, cm *model.ContrastMatrix) (*model.MultiDimResult, error) {
	if method == model.MethodKenwardRoger {
		adj, err := inf.adjustment(ctx)
		if err != nil {
			return nil, err
		}
		return inf.kr.MultiDim(adj, cm)
	}
	in, err := inf.satterthwaiteInputs(ctx, method)
	if err != nil {
		return nil, err
	}
	return inf.sw.MultiDim(in, cm)
}

// Package vcov computes coefficient-covariance matrices for a fitted
// marginal model: the model-based asymptotic estimator, the empirical
// sandwich, and the leave-one-cluster-out jackknife. All three consume
// the same per-subject precision blocks and differ only by method tag.
package vcov

import (
	"fmt"
	"math"

	"gommrm/domain/core"
	"gommrm/domain/covariance"
	"gommrm/domain/model"
	"gommrm/internal"
	"gommrm/internal/config"

	"gonum.org/v1/gonum/mat"
)

// Result carries an estimated coefficient covariance. Degenerate marks
// a rank-deficient empirical estimate (fewer than two subjects
// contributed); it is reported, never silently returned as a clean
// matrix.
type Result struct {
	Matrix     *mat.SymDense
	Degenerate bool
}

// Engine evaluates coefficient-covariance estimators against one fit.
type Engine struct {
	cfg    config.NumericConfig
	logger *internal.Logger
}

// NewEngine creates an estimator engine with the given tunables.
func NewEngine(cfg config.NumericConfig, logger *internal.Logger) *Engine {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &Engine{cfg: cfg, logger: logger}
}

// Compute is the shared entry point: any method can be requested
// against the same fit without refitting.
func (e *Engine) Compute(fit *model.Fit, method model.Method) (*Result, error) {
	switch method {
	case model.MethodAsymptotic:
		m, err := e.Asymptotic(fit, fit.Theta())
		if err != nil {
			return nil, err
		}
		return &Result{Matrix: m}, nil
	case model.MethodEmpirical:
		return e.Empirical(fit)
	case model.MethodJackknife:
		m, err := e.Jackknife(fit)
		if err != nil {
			return nil, err
		}
		return &Result{Matrix: m}, nil
	default:
		return nil, fmt.Errorf("unknown covariance method: %s", method)
	}
}

// SubjectBlock holds subject i's slice of the weighted model:
// L is the lower Cholesky factor of the subject covariance, W = (L*Lᵀ)⁻¹.
type SubjectBlock struct {
	X     *mat.Dense
	L     *mat.TriDense
	W     *mat.SymDense
	Resid []float64
}

// Blocks assembles the per-subject design, covariance factor and
// precision at an arbitrary theta. A subject observed at a subset of
// visits gets the principal submatrix of the full covariance.
func (e *Engine) Blocks(fit *model.Fit, theta []float64) ([]SubjectBlock, error) {
	st := fit.Structure()

	// One full factor per group; every subject reuses its group's.
	groupFactor := map[int]*mat.TriDense{}
	buildGroup := func(g int) (*mat.TriDense, error) {
		if l, ok := groupFactor[g]; ok {
			return l, nil
		}
		var l *mat.TriDense
		var ok bool
		if gb, grouped := st.(covariance.GroupBuilder); grouped {
			l, ok = gb.BuildGroup(theta, g)
		} else {
			l, ok = st.Build(theta)
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s at group %d", core.ErrInvalidTheta, st.Kind(), g)
		}
		groupFactor[g] = l
		return l, nil
	}

	subjects := fit.Subjects()
	blocks := make([]SubjectBlock, len(subjects))
	for i, s := range subjects {
		full, err := buildGroup(s.Group)
		if err != nil {
			return nil, err
		}
		li, ok := covariance.Subset(full, s.Visits)
		if !ok {
			return nil, core.NewUnstableError(
				fmt.Sprintf("subject %s covariance submatrix", s.Key), 0, 0)
		}

		// Weights scale the subject covariance: Sigma* = D^-1/2 Sigma D^-1/2.
		wts := fit.SubjectWeights(i)
		ni := len(s.Rows)
		for a := 0; a < ni; a++ {
			scale := 1 / math.Sqrt(wts[a])
			for b := 0; b <= a; b++ {
				li.SetTri(a, b, li.At(a, b)*scale)
			}
		}

		sigma := covariance.FullCovariance(li)
		var ch mat.Cholesky
		if !ch.Factorize(sigma) {
			return nil, core.NewUnstableError(
				fmt.Sprintf("subject %s covariance factorization", s.Key), 0, 0)
		}
		w := mat.NewSymDense(ni, nil)
		if err := ch.InverseTo(w); err != nil {
			return nil, core.NewUnstableError(
				fmt.Sprintf("subject %s precision", s.Key), ch.Cond(), 0)
		}

		blocks[i] = SubjectBlock{
			X:     fit.SubjectDesign(i),
			L:     li,
			W:     w,
			Resid: fit.SubjectResiduals(i),
		}
	}
	return blocks, nil
}

// Asymptotic returns (XᵗWX)⁻¹ evaluated at an arbitrary theta. This is
// also the default covbeta capability the sensitivity engine
// differentiates through.
func (e *Engine) Asymptotic(fit *model.Fit, theta []float64) (*mat.SymDense, error) {
	blocks, err := e.Blocks(fit, theta)
	if err != nil {
		return nil, err
	}
	xtwx := Information(fit.NumCoef(), blocks)
	return InvertSPD(xtwx, "X'WX")
}

// Empirical returns the sandwich estimator
// (XᵗWX)⁻¹ [Σ XᵢᵗWᵢεᵢεᵢᵗWᵢXᵢ] (XᵗWX)⁻¹, robust to covariance
// misspecification.
func (e *Engine) Empirical(fit *model.Fit) (*Result, error) {
	blocks, err := e.Blocks(fit, fit.Theta())
	if err != nil {
		return nil, err
	}
	p := fit.NumCoef()
	bread, err := InvertSPD(Information(p, blocks), "X'WX")
	if err != nil {
		return nil, err
	}

	meat := mat.NewDense(p, p, nil)
	contributing := 0
	for _, b := range blocks {
		we := matVec(b.W, b.Resid)
		if vecNorm(we) > 0 {
			contributing++
		}
		// score_i = Xᵢᵗ Wᵢ εᵢ
		score := make([]float64, p)
		for j := 0; j < p; j++ {
			for a := range we {
				score[j] += b.X.At(a, j) * we[a]
			}
		}
		addOuter(meat, score)
	}

	degenerate := contributing < 2
	if degenerate {
		e.logger.Warn("empirical covariance is rank deficient: %d contributing subjects", contributing)
	}

	return &Result{Matrix: sandwich(bread, meat), Degenerate: degenerate}, nil
}

// Jackknife returns the leave-one-cluster-out estimator with the
// per-subject leverage correction (I - Hᵢᵢ)⁻¹, Hᵢᵢ = Xᵢ(XᵗX)⁻¹Xᵢᵗ.
// No (n-1)/n small-sample scale factor is applied. A subject whose
// covariates nearly span the column space alone makes I - Hᵢᵢ
// singular; that is surfaced as an error, never as Inf.
func (e *Engine) Jackknife(fit *model.Fit) (*mat.SymDense, error) {
	blocks, err := e.Blocks(fit, fit.Theta())
	if err != nil {
		return nil, err
	}
	p := fit.NumCoef()
	bread, err := InvertSPD(Information(p, blocks), "X'WX")
	if err != nil {
		return nil, err
	}

	// Unweighted cross-product for the leverage blocks.
	xtx := mat.NewSymDense(p, nil)
	for _, b := range blocks {
		ni, _ := b.X.Dims()
		for j := 0; j < p; j++ {
			for k := j; k < p; k++ {
				v := xtx.At(j, k)
				for a := 0; a < ni; a++ {
					v += b.X.At(a, j) * b.X.At(a, k)
				}
				xtx.SetSym(j, k, v)
			}
		}
	}
	xtxInv, err := InvertSPD(xtx, "X'X")
	if err != nil {
		return nil, err
	}

	meat := mat.NewDense(p, p, nil)
	for i, b := range blocks {
		ni, _ := b.X.Dims()

		// I - Hᵢᵢ
		var h mat.Dense
		h.Mul(b.X, xtxInv)
		h.Mul(&h, b.X.T())
		imh := mat.NewSymDense(ni, nil)
		for a := 0; a < ni; a++ {
			for c := a; c < ni; c++ {
				v := -0.5 * (h.At(a, c) + h.At(c, a))
				if a == c {
					v++
				}
				imh.SetSym(a, c, v)
			}
		}

		var ch mat.Cholesky
		if !ch.Factorize(imh) {
			return nil, core.NewUnstableError(
				fmt.Sprintf("subject %d leverage block I-H", i), 0, e.cfg.LeverageTol)
		}
		if det := ch.Det(); det <= e.cfg.LeverageTol {
			return nil, core.NewUnstableError(
				fmt.Sprintf("subject %d leverage block determinant", i), det, e.cfg.LeverageTol)
		}
		imhInv := mat.NewSymDense(ni, nil)
		if err := ch.InverseTo(imhInv); err != nil {
			return nil, core.NewUnstableError(
				fmt.Sprintf("subject %d leverage inverse", i), ch.Cond(), e.cfg.LeverageTol)
		}

		// score_i = Xᵢᵗ Lᵢ (I-Hᵢᵢ)⁻¹ Lᵢᵗ εᵢ
		lte := make([]float64, ni)
		for a := 0; a < ni; a++ {
			for c := a; c < ni; c++ {
				lte[a] += b.L.At(c, a) * b.Resid[c]
			}
		}
		mid := matVec(imhInv, lte)
		lmid := make([]float64, ni)
		for a := 0; a < ni; a++ {
			for c := 0; c <= a; c++ {
				lmid[a] += b.L.At(a, c) * mid[c]
			}
		}
		score := make([]float64, p)
		for j := 0; j < p; j++ {
			for a := 0; a < ni; a++ {
				score[j] += b.X.At(a, j) * lmid[a]
			}
		}
		addOuter(meat, score)
	}

	return sandwich(bread, meat), nil
}

// Information accumulates XᵗWX over subjects.
func Information(p int, blocks []SubjectBlock) *mat.SymDense {
	xtwx := mat.NewSymDense(p, nil)
	for _, b := range blocks {
		var wx mat.Dense
		wx.Mul(b.W, b.X)
		for j := 0; j < p; j++ {
			for k := j; k < p; k++ {
				v := xtwx.At(j, k)
				ni, _ := b.X.Dims()
				for a := 0; a < ni; a++ {
					v += b.X.At(a, j) * wx.At(a, k)
				}
				xtwx.SetSym(j, k, v)
			}
		}
	}
	return xtwx
}

// InvertSPD inverts a symmetric positive definite matrix through its
// Cholesky factorization, failing with a singular-design error when the
// factorization does not exist.
func InvertSPD(s *mat.SymDense, label string) (*mat.SymDense, error) {
	var ch mat.Cholesky
	if !ch.Factorize(s) {
		return nil, core.NewSingularDesignError(label)
	}
	n, _ := s.Dims()
	inv := mat.NewSymDense(n, nil)
	if err := ch.InverseTo(inv); err != nil {
		return nil, core.NewSingularDesignError(label)
	}
	return inv, nil
}

// sandwich symmetrizes bread * meat * bread.
func sandwich(bread *mat.SymDense, meat *mat.Dense) *mat.SymDense {
	var tmp, full mat.Dense
	tmp.Mul(bread, meat)
	full.Mul(&tmp, bread)
	p, _ := full.Dims()
	out := mat.NewSymDense(p, nil)
	for i := 0; i < p; i++ {
		for j := i; j < p; j++ {
			out.SetSym(i, j, 0.5*(full.At(i, j)+full.At(j, i)))
		}
	}
	return out
}

func matVec(m *mat.SymDense, v []float64) []float64 {
	n := len(v)
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			out[i] += m.At(i, j) * v[j]
		}
	}
	return out
}

func vecNorm(v []float64) float64 {
	s := 0.0
	for _, x := range v {
		s += x * x
	}
	return math.Sqrt(s)
}

func addOuter(dst *mat.Dense, v []float64) {
	for i := range v {
		for j := range v {
			dst.Set(i, j, dst.At(i, j)+v[i]*v[j])
		}
	}
}

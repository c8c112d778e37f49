// Package kenwardroger implements the small-sample correction that
// adjusts both the coefficient covariance and the denominator degrees
// of freedom, using first- and second-order derivatives of the
// marginal covariance with respect to the variance parameters. It is a
// drop-in alternative to the asymptotic covariance: selecting it
// changes which matrix and which df formula downstream tests use, not
// their call contract.
package kenwardroger

import (
	"fmt"
	"math"

	"gommrm/domain/core"
	"gommrm/domain/covariance"
	"gommrm/domain/model"
	"gommrm/internal"
	"gommrm/internal/config"
	"gommrm/internal/vcov"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Engine computes Kenward-Roger adjustments.
type Engine struct {
	cfg    config.NumericConfig
	vc     *vcov.Engine
	logger *internal.Logger
}

// NewEngine creates a Kenward-Roger engine sharing the estimator
// engine's per-subject block assembly.
func NewEngine(cfg config.NumericConfig, logger *internal.Logger) *Engine {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &Engine{cfg: cfg, vc: vcov.NewEngine(cfg, logger), logger: logger}
}

// Adjustment holds the corrected covariance and the per-parameter
// information derivatives reused by every contrast tested against the
// same fit.
type Adjustment struct {
	Phi      *mat.SymDense // asymptotic (XᵗWX)⁻¹
	PhiA     *mat.SymDense // small-sample corrected covariance
	beta     []float64
	thetaCov *mat.SymDense
	p        []*mat.Dense // P_k = Xᵗ (∂W/∂θ_k) X
}

// Adjust computes the corrected coefficient covariance
// Φ_A = Φ + 2Φ{Σ_kl W_kl (Q_kl − P_kΦP_l − ¼R_kl)}Φ
// where W is the variance-parameter covariance, P, Q and R are built
// from first and second derivatives of the subject covariances.
func (e *Engine) Adjust(fit *model.Fit, thetaCov *mat.SymDense) (*Adjustment, error) {
	theta := fit.Theta()
	q := len(theta)
	pDim := fit.NumCoef()

	blocks, err := e.vc.Blocks(fit, theta)
	if err != nil {
		return nil, err
	}
	phi, err := vcov.InvertSPD(vcov.Information(pDim, blocks), "X'WX")
	if err != nil {
		return nil, err
	}

	dSigma, d2Sigma, err := e.covarianceDerivatives(fit)
	if err != nil {
		return nil, err
	}

	// Per-subject precision-weighted design and derivative pieces.
	subjects := fit.Subjects()
	pMats := make([]*mat.Dense, q)
	qMats := make([][]*mat.Dense, q)
	rMats := make([][]*mat.Dense, q)
	for k := 0; k < q; k++ {
		pMats[k] = mat.NewDense(pDim, pDim, nil)
		qMats[k] = make([]*mat.Dense, q)
		rMats[k] = make([]*mat.Dense, q)
		for l := 0; l < q; l++ {
			qMats[k][l] = mat.NewDense(pDim, pDim, nil)
			rMats[k][l] = mat.NewDense(pDim, pDim, nil)
		}
	}

	for i, b := range blocks {
		s := subjects[i]
		wts := fit.SubjectWeights(i)

		var wx mat.Dense // Wᵢ Xᵢ
		wx.Mul(b.W, b.X)

		// dWX_k = Wᵢ dΣᵢ_k Wᵢ Xᵢ reused across P, Q.
		dwx := make([]*mat.Dense, q)
		dsub := make([]*mat.Dense, q)
		for k := 0; k < q; k++ {
			dsub[k] = subsetScaled(dSigma[s.Group][k], s.Visits, wts)
			var t mat.Dense
			t.Mul(dsub[k], &wx)
			dwx[k] = &mat.Dense{}
			dwx[k].Mul(b.W, &t)

			// P_k += -Xᵢᵗ Wᵢ dΣᵢ_k Wᵢ Xᵢ
			var pk mat.Dense
			pk.Mul(b.X.T(), dwx[k])
			pk.Scale(-1, &pk)
			pMats[k].Add(pMats[k], &pk)
		}

		for k := 0; k < q; k++ {
			for l := 0; l < q; l++ {
				// Q_kl += Xᵢᵗ Wᵢ dΣᵢ_k Wᵢ dΣᵢ_l Wᵢ Xᵢ
				var t, qkl mat.Dense
				t.Mul(dsub[k], dwx[l])
				t.Mul(b.W, &t)
				qkl.Mul(b.X.T(), &t)
				qMats[k][l].Add(qMats[k][l], &qkl)

				// R_kl += Xᵢᵗ Wᵢ d²Σᵢ_kl Wᵢ Xᵢ
				d2 := subsetScaled(d2Sigma[s.Group][k][l], s.Visits, wts)
				var u, rkl mat.Dense
				u.Mul(d2, &wx)
				u.Mul(b.W, &u)
				rkl.Mul(b.X.T(), &u)
				rMats[k][l].Add(rMats[k][l], &rkl)
			}
		}
	}

	// Correction term Σ_kl W_kl (Q_kl − P_kΦP_l − ¼R_kl)
	corr := mat.NewDense(pDim, pDim, nil)
	for k := 0; k < q; k++ {
		for l := 0; l < q; l++ {
			w := thetaCov.At(k, l)
			if w == 0 {
				continue
			}
			var pp mat.Dense
			pp.Mul(pMats[k], phi)
			pp.Mul(&pp, pMats[l])

			term := mat.NewDense(pDim, pDim, nil)
			term.Sub(qMats[k][l], &pp)
			var quarter mat.Dense
			quarter.Scale(0.25, rMats[k][l])
			term.Sub(term, &quarter)
			term.Scale(w, term)
			corr.Add(corr, term)
		}
	}

	var adj mat.Dense
	adj.Mul(phi, corr)
	adj.Mul(&adj, phi)
	adj.Scale(2, &adj)

	phiA := mat.NewSymDense(pDim, nil)
	for i := 0; i < pDim; i++ {
		for j := i; j < pDim; j++ {
			v := phi.At(i, j) + 0.5*(adj.At(i, j)+adj.At(j, i))
			phiA.SetSym(i, j, v)
		}
	}

	return &Adjustment{
		Phi:      phi,
		PhiA:     phiA,
		beta:     fit.Beta(),
		thetaCov: thetaCov,
		p:        pMats,
	}, nil
}

// OneDim tests a single contrast against the adjusted covariance with
// the Kenward-Roger denominator df at rank 1.
func (e *Engine) OneDim(adj *Adjustment, contrast model.Contrast) (*model.OneDimResult, error) {
	if err := contrast.Validate(len(adj.beta)); err != nil {
		return nil, err
	}

	estimate := 0.0
	for i, c := range contrast {
		estimate += c * adj.beta[i]
	}
	variance := quadForm(adj.PhiA, contrast)
	if variance <= 0 {
		return nil, core.NewDegenerateContrastError(variance)
	}

	cm := model.NewContrastMatrix([][]float64{contrast})
	df, _, err := adj.denominator(cm, 1)
	if err != nil {
		return nil, err
	}

	se := math.Sqrt(variance)
	t := estimate / se
	var pval, crit float64
	if math.IsInf(df, 1) {
		pval = math.Erfc(math.Abs(t) / math.Sqrt2)
		crit = distuv.Normal{Mu: 0, Sigma: 1}.Quantile(0.975)
	} else {
		dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
		pval = 2 * dist.Survival(math.Abs(t))
		crit = dist.Quantile(0.975)
	}

	return &model.OneDimResult{
		Estimate: estimate,
		SE:       se,
		DF:       df,
		TStat:    t,
		PValue:   pval,
		Lower:    estimate - crit*se,
		Upper:    estimate + crit*se,
	}, nil
}

// MultiDim tests a joint contrast with the scaled Kenward-Roger F.
func (e *Engine) MultiDim(adj *Adjustment, cm *model.ContrastMatrix) (*model.MultiDimResult, error) {
	pDim := len(adj.beta)
	if err := cm.Validate(pDim); err != nil {
		return nil, err
	}
	rank := cm.NumRows()

	l := cm.Dense(pDim)
	var cb mat.VecDense
	beta := mat.NewVecDense(pDim, adj.beta)
	cb.MulVec(l, beta)

	var lp, cpc mat.Dense
	lp.Mul(l, adj.PhiA)
	cpc.Mul(&lp, l.T())
	cpcSym := mat.NewSymDense(rank, nil)
	for i := 0; i < rank; i++ {
		for j := i; j < rank; j++ {
			cpcSym.SetSym(i, j, 0.5*(cpc.At(i, j)+cpc.At(j, i)))
		}
	}
	cpcInv, err := vcov.InvertSPD(cpcSym, "contrast covariance")
	if err != nil {
		return nil, core.NewDegenerateContrastError(0)
	}

	wald := 0.0
	for i := 0; i < rank; i++ {
		for j := 0; j < rank; j++ {
			wald += cb.AtVec(i) * cpcInv.At(i, j) * cb.AtVec(j)
		}
	}
	fstat := wald / float64(rank)

	df, lambda, err := adj.denominator(cm, rank)
	if err != nil {
		return nil, err
	}
	scaled := lambda * fstat

	var pval float64
	if math.IsInf(df, 1) {
		chi := distuv.ChiSquared{K: float64(rank)}
		pval = chi.Survival(scaled * float64(rank))
	} else {
		fdist := distuv.F{D1: float64(rank), D2: df}
		pval = fdist.Survival(scaled)
	}

	return &model.MultiDimResult{
		NumDF:   rank,
		DenomDF: df,
		FStat:   scaled,
		PValue:  pval,
	}, nil
}

// denominator computes the Kenward-Roger denominator df and F scale
// for a contrast of the given rank via the A1/A2 moment quantities.
func (adj *Adjustment) denominator(cm *model.ContrastMatrix, rank int) (df, lambda float64, err error) {
	pDim := len(adj.beta)
	l := cm.Dense(pDim)

	var lp, cpc mat.Dense
	lp.Mul(l, adj.Phi)
	cpc.Mul(&lp, l.T())
	cpcSym := mat.NewSymDense(rank, nil)
	for i := 0; i < rank; i++ {
		for j := i; j < rank; j++ {
			cpcSym.SetSym(i, j, 0.5*(cpc.At(i, j)+cpc.At(j, i)))
		}
	}
	cpcInv, err := vcov.InvertSPD(cpcSym, "contrast covariance")
	if err != nil {
		return 0, 0, core.NewDegenerateContrastError(0)
	}

	// Theta = Lᵗ (LΦLᵗ)⁻¹ L
	var ci, theta mat.Dense
	ci.Mul(cpcInv, l)
	theta.Mul(l.T(), &ci)

	q := len(adj.p)
	// tr(ΘΦP_kΦ) per k, and the paired traces for A2.
	tp := make([]*mat.Dense, q)
	for k := 0; k < q; k++ {
		var t mat.Dense
		t.Mul(&theta, adj.Phi)
		t.Mul(&t, adj.p[k])
		t.Mul(&t, adj.Phi)
		tp[k] = &mat.Dense{}
		tp[k].CloneFrom(&t)
	}

	a1, a2 := 0.0, 0.0
	for k := 0; k < q; k++ {
		for lidx := 0; lidx < q; lidx++ {
			w := adj.thetaCov.At(k, lidx)
			if w == 0 {
				continue
			}
			a1 += w * trace(tp[k]) * trace(tp[lidx])
			var prod mat.Dense
			prod.Mul(tp[k], tp[lidx])
			a2 += w * trace(&prod)
		}
	}

	ell := float64(rank)
	if a2 <= 0 {
		// No curvature information: fall back to the asymptotic test.
		return math.Inf(1), 1, nil
	}

	g := ((ell+1)*a1 - (ell+4)*a2) / ((ell + 2) * a2)
	den := 3*ell + 2*(1-g)
	c1 := g / den
	c2 := (ell - g) / den
	c3 := (ell + 2 - g) / den
	b := (a1 + 6*a2) / (2 * ell)

	eStar := 1 / (1 - a2/ell)
	vStar := (2 / ell) * (1 + c1*b) / ((1 - c2*b) * (1 - c2*b) * (1 - c3*b))
	rho := vStar / (2 * eStar * eStar)

	if ell*rho <= 1 {
		return math.Inf(1), 1 / eStar, nil
	}
	df = 4 + (ell+2)/(ell*rho-1)
	lambda = df / (eStar * (df - 2))
	return df, lambda, nil
}

// covarianceDerivatives builds, per group, the first and second
// finite-difference derivatives of the full visit-level covariance.
func (e *Engine) covarianceDerivatives(fit *model.Fit) (map[int][]*mat.SymDense, map[int][][]*mat.SymDense, error) {
	st := fit.Structure()
	theta := fit.Theta()
	q := len(theta)

	groups := map[int]bool{}
	for _, s := range fit.Subjects() {
		groups[s.Group] = true
	}

	covAt := func(t []float64, g int) (*mat.SymDense, error) {
		var l *mat.TriDense
		var ok bool
		if gb, grouped := st.(covariance.GroupBuilder); grouped {
			l, ok = gb.BuildGroup(t, g)
		} else {
			l, ok = st.Build(t)
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s during differentiation", core.ErrInvalidTheta, st.Kind())
		}
		return covariance.FullCovariance(l), nil
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

	first := map[int][]*mat.SymDense{}
	second := map[int][][]*mat.SymDense{}
	for g := range groups {
		base, err := covAt(theta, g)
		if err != nil {
			return nil, nil, err
		}

		first[g] = make([]*mat.SymDense, q)
		second[g] = make([][]*mat.SymDense, q)
		for k := 0; k < q; k++ {
			second[g][k] = make([]*mat.SymDense, q)
		}

		for k := 0; k < q; k++ {
			cp, err := covAt(shifted(map[int]float64{k: step[k]}), g)
			if err != nil {
				return nil, nil, err
			}
			cm, err := covAt(shifted(map[int]float64{k: -step[k]}), g)
			if err != nil {
				return nil, nil, err
			}
			first[g][k] = symCombine(cp, cm, nil, nil, 1/(2*step[k]), -1/(2*step[k]), 0, 0)

			h2 := step[k] * step[k]
			second[g][k][k] = symCombine(cp, cm, base, nil, 1/h2, 1/h2, -2/h2, 0)

			for l := k + 1; l < q; l++ {
				cpp, err := covAt(shifted(map[int]float64{k: step[k], l: step[l]}), g)
				if err != nil {
					return nil, nil, err
				}
				cpm, err := covAt(shifted(map[int]float64{k: step[k], l: -step[l]}), g)
				if err != nil {
					return nil, nil, err
				}
				cmp, err := covAt(shifted(map[int]float64{k: -step[k], l: step[l]}), g)
				if err != nil {
					return nil, nil, err
				}
				cmm, err := covAt(shifted(map[int]float64{k: -step[k], l: -step[l]}), g)
				if err != nil {
					return nil, nil, err
				}
				s := 1 / (4 * step[k] * step[l])
				d2 := symCombine(cpp, cmm, cpm, cmp, s, s, -s, -s)
				second[g][k][l] = d2
				second[g][l][k] = d2
			}
		}
	}
	return first, second, nil
}

// symCombine returns a*A + b*B + c*C + d*D over symmetric matrices,
// skipping nil terms.
func symCombine(ma, mb, mc, md *mat.SymDense, a, b, c, d float64) *mat.SymDense {
	n, _ := ma.Dims()
	out := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := a*ma.At(i, j) + b*mb.At(i, j)
			if mc != nil {
				v += c * mc.At(i, j)
			}
			if md != nil {
				v += d * md.At(i, j)
			}
			out.SetSym(i, j, v)
		}
	}
	return out
}

// subsetScaled selects the principal submatrix of a derivative at the
// subject's observed visits and applies the weight scaling used for
// the subject covariance itself.
func subsetScaled(d *mat.SymDense, visits []int, weights []float64) *mat.Dense {
	ni := len(visits)
	out := mat.NewDense(ni, ni, nil)
	for a := 0; a < ni; a++ {
		for b := 0; b < ni; b++ {
			out.Set(a, b, d.At(visits[a], visits[b])/math.Sqrt(weights[a]*weights[b]))
		}
	}
	return out
}

func quadForm(s *mat.SymDense, v []float64) float64 {
	out := 0.0
	for i := range v {
		for j := range v {
			out += v[i] * s.At(i, j) * v[j]
		}
	}
	return out
}

func trace(d *mat.Dense) float64 {
	n, _ := d.Dims()
	t := 0.0
	for i := 0; i < n; i++ {
		t += d.At(i, i)
	}
	return t
}

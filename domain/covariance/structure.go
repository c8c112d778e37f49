package covariance

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Kind names a parametric covariance family
type Kind string

const (
	KindUnstructured       Kind = "unstructured"
	KindToeplitz           Kind = "toeplitz"
	KindAutoregressive     Kind = "ar1"
	KindCompoundSymmetry   Kind = "compound_symmetry"
	KindAnteDependence     Kind = "ante_dependence"
	KindSpatialExponential Kind = "spatial_exponential"
)

// Structure maps an unconstrained theta vector to the lower Cholesky
// factor of the full per-subject covariance over all visit levels.
// The mapping is smooth in theta so downstream delta-method machinery
// can differentiate through it.
type Structure interface {
	Kind() Kind

	// NumVisits returns the number of distinct visit levels m.
	NumVisits() int

	// NumTheta returns the required length of the theta vector.
	NumTheta() int

	// Build returns L with Sigma = L*Lᵀ. ok is false when theta implies
	// a covariance that is not positive definite; callers reject such
	// theta during optimization instead of crashing.
	Build(theta []float64) (l *mat.TriDense, ok bool)
}

// Recoverer is implemented by structures whose parametrization can be
// inverted from a Cholesky factor, used to verify round-trip fidelity.
type Recoverer interface {
	Recover(l *mat.TriDense) []float64
}

// mapCorrelation maps an unconstrained value into (-1, 1).
func mapCorrelation(x float64) float64 {
	return x / math.Sqrt(1+x*x)
}

// unmapCorrelation inverts mapCorrelation for r in (-1, 1).
func unmapCorrelation(r float64) float64 {
	return r / math.Sqrt(1-r*r)
}

// lowerFactor factorizes a symmetric matrix and returns its lower
// Cholesky factor, or ok=false when it is not positive definite.
func lowerFactor(sigma *mat.SymDense) (*mat.TriDense, bool) {
	var ch mat.Cholesky
	if !ch.Factorize(sigma) {
		return nil, false
	}
	var l mat.TriDense
	ch.LTo(&l)
	return &l, true
}

// scaledCovariance assembles sigma[i][j] = sd[i]*sd[j]*corr(i, j).
func scaledCovariance(sd []float64, corr func(i, j int) float64) *mat.SymDense {
	m := len(sd)
	sigma := mat.NewSymDense(m, nil)
	for i := 0; i < m; i++ {
		sigma.SetSym(i, i, sd[i]*sd[i])
		for j := i + 1; j < m; j++ {
			sigma.SetSym(i, j, sd[i]*sd[j]*corr(i, j))
		}
	}
	return sigma
}

// standardDeviations expands theta's variance block into per-visit
// standard deviations: one shared value when homogeneous, m values
// otherwise. Variance parameters live on the log scale.
func standardDeviations(theta []float64, m int, heterogeneous bool) []float64 {
	sd := make([]float64, m)
	if heterogeneous {
		for i := 0; i < m; i++ {
			sd[i] = math.Exp(theta[i])
		}
		return sd
	}
	s := math.Exp(theta[0])
	for i := 0; i < m; i++ {
		sd[i] = s
	}
	return sd
}

// varianceParams returns the number of theta entries consumed by the
// variance block.
func varianceParams(m int, heterogeneous bool) int {
	if heterogeneous {
		return m
	}
	return 1
}

// FullCovariance reconstructs Sigma = L*Lᵀ from a lower factor.
func FullCovariance(l *mat.TriDense) *mat.SymDense {
	m, _ := l.Dims()
	sigma := mat.NewSymDense(m, nil)
	for i := 0; i < m; i++ {
		for j := 0; j <= i; j++ {
			var v float64
			for k := 0; k <= j; k++ {
				v += l.At(i, k) * l.At(j, k)
			}
			sigma.SetSym(i, j, v)
		}
	}
	return sigma
}

// Subset factors the principal submatrix of the full covariance
// selected by a subject's observed visit indices. A subject observed
// at fewer visits than the full design always uses this submatrix,
// never a separately parametrized smaller structure.
func Subset(l *mat.TriDense, idx []int) (*mat.TriDense, bool) {
	m, _ := l.Dims()
	if len(idx) == m {
		contiguous := true
		for i, v := range idx {
			if v != i {
				contiguous = false
				break
			}
		}
		if contiguous {
			out := mat.NewTriDense(m, mat.Lower, nil)
			out.Copy(l)
			return out, true
		}
	}
	sigma := FullCovariance(l)
	sub := mat.NewSymDense(len(idx), nil)
	for a, i := range idx {
		for b := a; b < len(idx); b++ {
			sub.SetSym(a, b, sigma.At(i, idx[b]))
		}
	}
	return lowerFactor(sub)
}

package covariance

import (
	"gonum.org/v1/gonum/mat"
)

// Toeplitz assigns one correlation per lag: corr(i, j) = rho_|i-j|.
// Mapping each lag correlation into (-1, 1) does not guarantee a
// positive definite matrix, so Build validates through the Cholesky
// factorization and reports invalid theta instead of crashing.
type Toeplitz struct {
	m             int
	heterogeneous bool
}

// NewToeplitz creates a Toeplitz covariance over m visits.
func NewToeplitz(m int, heterogeneous bool) *Toeplitz {
	return &Toeplitz{m: m, heterogeneous: heterogeneous}
}

func (t *Toeplitz) Kind() Kind     { return KindToeplitz }
func (t *Toeplitz) NumVisits() int { return t.m }

func (t *Toeplitz) NumTheta() int {
	return varianceParams(t.m, t.heterogeneous) + t.m - 1
}

func (t *Toeplitz) Build(theta []float64) (*mat.TriDense, bool) {
	if len(theta) != t.NumTheta() {
		return nil, false
	}
	nv := varianceParams(t.m, t.heterogeneous)
	sd := standardDeviations(theta, t.m, t.heterogeneous)
	rho := make([]float64, t.m)
	rho[0] = 1
	for lag := 1; lag < t.m; lag++ {
		rho[lag] = mapCorrelation(theta[nv+lag-1])
	}
	sigma := scaledCovariance(sd, func(i, j int) float64 {
		lag := i - j
		if lag < 0 {
			lag = -lag
		}
		return rho[lag]
	})
	return lowerFactor(sigma)
}

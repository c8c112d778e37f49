package covariance

import (
	"gonum.org/v1/gonum/mat"
)

// AnteDependence chains one correlation per adjacent visit pair:
// corr(i, j) = prod of rho_k for k between i and j. With each rho_k
// mapped into (-1, 1) the implied matrix is always positive definite.
type AnteDependence struct {
	m             int
	heterogeneous bool
}

// NewAnteDependence creates a first-order ante-dependence covariance
// over m visits.
func NewAnteDependence(m int, heterogeneous bool) *AnteDependence {
	return &AnteDependence{m: m, heterogeneous: heterogeneous}
}

func (a *AnteDependence) Kind() Kind     { return KindAnteDependence }
func (a *AnteDependence) NumVisits() int { return a.m }

func (a *AnteDependence) NumTheta() int {
	return varianceParams(a.m, a.heterogeneous) + a.m - 1
}

func (a *AnteDependence) Build(theta []float64) (*mat.TriDense, bool) {
	if len(theta) != a.NumTheta() {
		return nil, false
	}
	nv := varianceParams(a.m, a.heterogeneous)
	sd := standardDeviations(theta, a.m, a.heterogeneous)
	rho := make([]float64, a.m-1)
	for k := range rho {
		rho[k] = mapCorrelation(theta[nv+k])
	}
	sigma := scaledCovariance(sd, func(i, j int) float64 {
		lo, hi := i, j
		if lo > hi {
			lo, hi = hi, lo
		}
		r := 1.0
		for k := lo; k < hi; k++ {
			r *= rho[k]
		}
		return r
	})
	return lowerFactor(sigma)
}

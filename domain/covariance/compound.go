package covariance

import (
	"gonum.org/v1/gonum/mat"
)

// CompoundSymmetry shares one correlation across every visit pair:
// corr(i, j) = rho for i != j. The mapped rho lives in (-1, 1) but the
// family is only positive definite for rho > -1/(m-1), so Build can
// legitimately report an invalid theta.
type CompoundSymmetry struct {
	m             int
	heterogeneous bool
}

// NewCompoundSymmetry creates a compound-symmetry covariance over m visits.
func NewCompoundSymmetry(m int, heterogeneous bool) *CompoundSymmetry {
	return &CompoundSymmetry{m: m, heterogeneous: heterogeneous}
}

func (c *CompoundSymmetry) Kind() Kind     { return KindCompoundSymmetry }
func (c *CompoundSymmetry) NumVisits() int { return c.m }

func (c *CompoundSymmetry) NumTheta() int {
	return varianceParams(c.m, c.heterogeneous) + 1
}

func (c *CompoundSymmetry) Build(theta []float64) (*mat.TriDense, bool) {
	if len(theta) != c.NumTheta() {
		return nil, false
	}
	sd := standardDeviations(theta, c.m, c.heterogeneous)
	rho := mapCorrelation(theta[len(theta)-1])
	sigma := scaledCovariance(sd, func(i, j int) float64 {
		return rho
	})
	return lowerFactor(sigma)
}

package covariance

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Autoregressive implements the first-order autoregressive family:
// corr(i, j) = rho^|i-j| with rho mapped into (-1, 1). Homogeneous
// variance uses theta = (log sd, rho*); heterogeneous replaces the
// single log sd with one per visit.
type Autoregressive struct {
	m             int
	heterogeneous bool
}

// NewAutoregressive creates an AR(1) covariance over m visits.
func NewAutoregressive(m int, heterogeneous bool) *Autoregressive {
	return &Autoregressive{m: m, heterogeneous: heterogeneous}
}

func (a *Autoregressive) Kind() Kind     { return KindAutoregressive }
func (a *Autoregressive) NumVisits() int { return a.m }

func (a *Autoregressive) NumTheta() int {
	return varianceParams(a.m, a.heterogeneous) + 1
}

func (a *Autoregressive) Build(theta []float64) (*mat.TriDense, bool) {
	if len(theta) != a.NumTheta() {
		return nil, false
	}
	sd := standardDeviations(theta, a.m, a.heterogeneous)
	rho := mapCorrelation(theta[len(theta)-1])
	sigma := scaledCovariance(sd, func(i, j int) float64 {
		return math.Pow(rho, math.Abs(float64(i-j)))
	})
	return lowerFactor(sigma)
}

// Recover inverts the homogeneous parametrization from a lower factor.
// Heterogeneous recovery is not supported.
func (a *Autoregressive) Recover(l *mat.TriDense) []float64 {
	if a.heterogeneous {
		return nil
	}
	sigma := FullCovariance(l)
	sd := math.Sqrt(sigma.At(0, 0))
	rho := sigma.At(0, 1) / sigma.At(0, 0)
	return []float64{math.Log(sd), unmapCorrelation(rho)}
}

package covariance

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// SpatialExponential decays correlation with the distance between
// visit coordinates: corr(i, j) = rho^d(i, j) with rho mapped into
// (0, 1). Coordinates default to unit spacing when none are supplied.
type SpatialExponential struct {
	m             int
	heterogeneous bool
	coords        []float64
}

// NewSpatialExponential creates a spatial exponential covariance over
// m visits. coords holds one coordinate per visit; nil means visits
// are equally spaced.
func NewSpatialExponential(m int, heterogeneous bool, coords []float64) *SpatialExponential {
	if coords == nil {
		coords = make([]float64, m)
		for i := range coords {
			coords[i] = float64(i)
		}
	}
	return &SpatialExponential{m: m, heterogeneous: heterogeneous, coords: coords}
}

func (s *SpatialExponential) Kind() Kind     { return KindSpatialExponential }
func (s *SpatialExponential) NumVisits() int { return s.m }
func (s *SpatialExponential) NumTheta() int  { return varianceParams(s.m, s.heterogeneous) + 1 }

func (s *SpatialExponential) Build(theta []float64) (*mat.TriDense, bool) {
	if len(theta) != s.NumTheta() || len(s.coords) != s.m {
		return nil, false
	}
	sd := standardDeviations(theta, s.m, s.heterogeneous)
	// Logistic map keeps the decay base strictly inside (0, 1).
	rho := 1 / (1 + math.Exp(-theta[len(theta)-1]))
	sigma := scaledCovariance(sd, func(i, j int) float64 {
		return math.Pow(rho, math.Abs(s.coords[i]-s.coords[j]))
	})
	return lowerFactor(sigma)
}

package covariance

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Unstructured parametrizes the covariance directly through its lower
// Cholesky factor: the first m theta entries are log diagonal entries,
// the remainder fill the strict lower triangle row by row. Every theta
// vector is valid, which keeps the optimizer unconstrained.
type Unstructured struct {
	m int
}

// NewUnstructured creates an unstructured covariance over m visits.
func NewUnstructured(m int) *Unstructured {
	return &Unstructured{m: m}
}

func (u *Unstructured) Kind() Kind     { return KindUnstructured }
func (u *Unstructured) NumVisits() int { return u.m }

func (u *Unstructured) NumTheta() int {
	return u.m * (u.m + 1) / 2
}

func (u *Unstructured) Build(theta []float64) (*mat.TriDense, bool) {
	if len(theta) != u.NumTheta() {
		return nil, false
	}
	l := mat.NewTriDense(u.m, mat.Lower, nil)
	for i := 0; i < u.m; i++ {
		l.SetTri(i, i, math.Exp(theta[i]))
	}
	k := u.m
	for i := 1; i < u.m; i++ {
		for j := 0; j < i; j++ {
			l.SetTri(i, j, theta[k])
			k++
		}
	}
	return l, true
}

// Recover inverts the parametrization from a lower factor.
func (u *Unstructured) Recover(l *mat.TriDense) []float64 {
	theta := make([]float64, u.NumTheta())
	for i := 0; i < u.m; i++ {
		theta[i] = math.Log(l.At(i, i))
	}
	k := u.m
	for i := 1; i < u.m; i++ {
		for j := 0; j < i; j++ {
			theta[k] = l.At(i, j)
			k++
		}
	}
	return theta
}

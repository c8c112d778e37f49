package sensitivity

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"gommrm/domain/core"
	"gommrm/internal/config"
	"gommrm/internal/testkit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func newTestEngine() *Engine {
	return NewEngine(config.DefaultNumeric(), nil)
}

func TestThetaCovarianceQuadratic(t *testing.T) {
	// a quadratic objective has Hessian H everywhere, so the numeric
	// inverse must match inv(H) closely
	h := mat.NewSymDense(2, []float64{2, 0.5, 0.5, 1})
	center := []float64{0.3, -0.7}
	obj := testkit.QuadraticObjective(h, center)

	cov, err := newTestEngine().ThetaCovariance(context.Background(), obj, center)
	require.NoError(t, err)

	// inv([[2, 0.5], [0.5, 1]]) = [[1, -0.5], [-0.5, 2]] / 1.75
	want := [][]float64{{1 / 1.75, -0.5 / 1.75}, {-0.5 / 1.75, 2 / 1.75}}
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			assert.InDelta(t, want[i][j], cov.At(i, j), 1e-5, "entry (%d, %d)", i, j)
		}
	}
}

func TestThetaCovarianceIndefiniteHessian(t *testing.T) {
	h := mat.NewSymDense(2, []float64{1, 0, 0, -1})
	obj := testkit.QuadraticObjective(h, []float64{0, 0})

	_, err := newTestEngine().ThetaCovariance(context.Background(), obj, []float64{0, 0})
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrNonPositiveHessian), "got %v", err)
}

func TestThetaCovarianceObjectiveError(t *testing.T) {
	obj := func(ctx context.Context, theta []float64) (float64, error) {
		return 0, fmt.Errorf("likelihood unavailable")
	}
	_, err := newTestEngine().ThetaCovariance(context.Background(), obj, []float64{0})
	assert.Error(t, err)
}

func TestInvertSymThreshold(t *testing.T) {
	e := newTestEngine()

	// near-singular: one eigenvalue at 1e-20 against a unit-scale one
	h := mat.NewSymDense(2, []float64{1, 0, 0, 1e-20})
	_, err := e.InvertSym(h)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrNonPositiveHessian))

	// identity inverts to identity
	id := mat.NewSymDense(2, []float64{1, 0, 0, 1})
	inv, err := e.InvertSym(id)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, inv.At(0, 0), 1e-12)
	assert.InDelta(t, 0.0, inv.At(0, 1), 1e-12)
}

func TestJacobianListLinear(t *testing.T) {
	// covbeta linear in theta: every directional derivative is exactly
	// the corresponding slope matrix
	base := mat.NewSymDense(2, []float64{1, 0, 0, 1})
	slopes := []*mat.SymDense{
		mat.NewSymDense(2, []float64{1, 0, 0, 2}),
		mat.NewSymDense(2, []float64{0, 1, 1, 0}),
	}
	covbeta := testkit.LinearCovBeta(base, slopes)
	theta := []float64{0.3, -0.2}

	res, err := newTestEngine().JacobianList(context.Background(), covbeta, theta, 2)
	require.NoError(t, err)
	require.True(t, res.Complete())
	require.Len(t, res.Matrices, 2)

	for k, want := range slopes {
		for i := 0; i < 2; i++ {
			for j := 0; j < 2; j++ {
				assert.InDelta(t, want.At(i, j), res.Matrices[k].At(i, j), 1e-8,
					"jacobian %d entry (%d, %d)", k, i, j)
			}
		}
	}
}

func TestJacobianListEntryIsolation(t *testing.T) {
	// the capability fails whenever direction 1 is perturbed; the
	// other direction must still come back
	base := mat.NewSymDense(1, []float64{1})
	covbeta := func(ctx context.Context, theta []float64) (*mat.SymDense, error) {
		if theta[1] != 0.5 {
			return nil, fmt.Errorf("covariance assembly failed")
		}
		return base, nil
	}

	res, err := newTestEngine().JacobianList(context.Background(), covbeta, []float64{0, 0.5}, 1)
	require.NoError(t, err)
	assert.False(t, res.Complete())
	require.Len(t, res.Failures, 1)
	assert.Equal(t, 1, res.Failures[0].Index)
	assert.NotNil(t, res.Matrices[0])
	assert.Nil(t, res.Matrices[1])
	assert.True(t, core.IsJacobianEntryError(res.Failures[0]))
}

func TestDirectionalStepOverride(t *testing.T) {
	base := mat.NewSymDense(1, []float64{1})
	slopes := []*mat.SymDense{mat.NewSymDense(1, []float64{3})}
	covbeta := testkit.LinearCovBeta(base, slopes)

	// a linear capability differentiates exactly under any step
	jac, err := newTestEngine().Directional(context.Background(), covbeta, []float64{0.1}, 0, 1, 1e-2)
	require.NoError(t, err)
	assert.InDelta(t, 3.0, jac.At(0, 0), 1e-10)
}

func TestJacobianListCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	base := mat.NewSymDense(1, []float64{1})
	covbeta := testkit.LinearCovBeta(base, []*mat.SymDense{mat.NewSymDense(1, []float64{1})})

	res, err := newTestEngine().JacobianList(ctx, covbeta, []float64{0}, 1)
	require.NoError(t, err)
	assert.False(t, res.Complete())
}

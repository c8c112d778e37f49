package core

import (
	"errors"
	"fmt"
)

// Domain errors - centralized error definitions
var (
	// Structural errors: the whole computation for a fit is aborted.
	ErrSingularDesign     = errors.New("design matrix is rank deficient")
	ErrNonPositiveHessian = errors.New("variance-parameter hessian is not positive definite")

	// Numerical errors: an explicit threshold was crossed during a
	// factorization or inversion. Never inferred from NaN propagation.
	ErrNumericallyUnstable = errors.New("computation is numerically unstable")
	ErrDegenerateContrast  = errors.New("contrast has zero or negative variance")

	// Input errors
	ErrDimensionMismatch = errors.New("dimension mismatch")
	ErrDuplicateVisit    = errors.New("duplicate visit within subject")
	ErrInvalidTheta      = errors.New("theta does not yield a positive definite covariance")
	ErrInsufficientData  = errors.New("insufficient data for analysis")
)

// JacobianEntryError marks the failure of one directional derivative of
// the coefficient covariance. Other entries remain usable; callers may
// retry the failed index with a different step size.
type JacobianEntryError struct {
	Index int
	Cause error
}

func (e *JacobianEntryError) Error() string {
	return fmt.Sprintf("jacobian entry %d failed: %v", e.Index, e.Cause)
}

func (e *JacobianEntryError) Unwrap() error {
	return e.Cause
}

// Error constructors with context
func NewSingularDesignError(matrix string) error {
	return fmt.Errorf("%w: %s is not invertible", ErrSingularDesign, matrix)
}

func NewNonPositiveHessianError(eigenvalue, threshold float64) error {
	return fmt.Errorf("%w: eigenvalue %.6g at or below threshold %.6g", ErrNonPositiveHessian, eigenvalue, threshold)
}

func NewUnstableError(quantity string, value, threshold float64) error {
	return fmt.Errorf("%w: %s = %.6g crossed threshold %.6g", ErrNumericallyUnstable, quantity, value, threshold)
}

func NewDegenerateContrastError(variance float64) error {
	return fmt.Errorf("%w: variance = %.6g", ErrDegenerateContrast, variance)
}

func NewDimensionError(what string, got, want int) error {
	return fmt.Errorf("%w: %s has length %d, want %d", ErrDimensionMismatch, what, got, want)
}

// Error checking helpers
func IsStructuralError(err error) bool {
	return errors.Is(err, ErrSingularDesign) ||
		errors.Is(err, ErrNonPositiveHessian)
}

func IsNumericalError(err error) bool {
	return errors.Is(err, ErrNumericallyUnstable) ||
		errors.Is(err, ErrDegenerateContrast)
}

func IsJacobianEntryError(err error) bool {
	var je *JacobianEntryError
	return errors.As(err, &je)
}

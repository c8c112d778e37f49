package model

import (
	"gommrm/domain/core"

	"gonum.org/v1/gonum/mat"
)

// Contrast is a single linear combination of the fixed-effect
// coefficients being tested.
type Contrast []float64

// Validate checks the contrast against the coefficient length.
func (c Contrast) Validate(p int) error {
	if len(c) != p {
		return core.NewDimensionError("contrast", len(c), p)
	}
	return nil
}

// ContrastMatrix stacks several contrasts for a joint hypothesis. Rank
// deficiency is allowed; the testing machinery detects it numerically.
type ContrastMatrix struct {
	rows [][]float64
}

// NewContrastMatrix builds a contrast matrix from row vectors.
func NewContrastMatrix(rows [][]float64) *ContrastMatrix {
	return &ContrastMatrix{rows: rows}
}

// Validate checks every row against the coefficient length.
func (cm *ContrastMatrix) Validate(p int) error {
	if len(cm.rows) == 0 {
		return core.NewDimensionError("contrast matrix rows", 0, 1)
	}
	for _, r := range cm.rows {
		if len(r) != p {
			return core.NewDimensionError("contrast row", len(r), p)
		}
	}
	return nil
}

// NumRows returns the number of stacked contrasts.
func (cm *ContrastMatrix) NumRows() int { return len(cm.rows) }

// Row returns the i-th contrast.
func (cm *ContrastMatrix) Row(i int) Contrast { return cm.rows[i] }

// Dense returns the k×p matrix form.
func (cm *ContrastMatrix) Dense(p int) *mat.Dense {
	d := mat.NewDense(len(cm.rows), p, nil)
	for i, r := range cm.rows {
		for j := 0; j < p; j++ {
			d.Set(i, j, r[j])
		}
	}
	return d
}

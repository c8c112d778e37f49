package covariance

import (
	"fmt"
	"strings"
)

// Spec selects a structure by name at model-construction time.
type Spec struct {
	Name          string
	Visits        int
	Heterogeneous bool
	Groups        int       // 0 or 1 means a single shared structure
	Coords        []float64 // spatial families only
}

// GetStructure returns a configured structure from a spec. Names accept
// the common short aliases used in mixed-model software.
func GetStructure(spec Spec) (Structure, error) {
	if spec.Visits < 1 {
		return nil, fmt.Errorf("structure needs at least one visit, got %d", spec.Visits)
	}

	name := strings.ToLower(strings.TrimSpace(spec.Name))
	het := spec.Heterogeneous
	// the trailing-h aliases always mean per-visit variances
	switch name {
	case "toeph", "ar1h", "csh", "adh", "sp_exph":
		het = true
	}

	var base Structure
	switch name {
	case "unstructured", "us":
		base = NewUnstructured(spec.Visits)

	case "toeplitz", "toep", "toeph":
		base = NewToeplitz(spec.Visits, het)

	case "ar1", "autoregressive", "ar1h":
		base = NewAutoregressive(spec.Visits, het)

	case "compound_symmetry", "cs", "csh":
		base = NewCompoundSymmetry(spec.Visits, het)

	case "ante_dependence", "ad", "adh":
		base = NewAnteDependence(spec.Visits, het)

	case "spatial_exponential", "sp_exp", "sp_exph":
		base = NewSpatialExponential(spec.Visits, het, spec.Coords)

	default:
		return nil, fmt.Errorf("unknown covariance structure: %s", spec.Name)
	}

	if spec.Groups > 1 {
		return NewGrouped(base, spec.Groups), nil
	}
	return base, nil
}

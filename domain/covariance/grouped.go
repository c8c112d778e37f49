package covariance

import (
	"gonum.org/v1/gonum/mat"
)

// Grouped gives each group its own copy of a base structure with an
// independent theta block. The structure is selected once at model
// construction and never switched afterwards.
type Grouped struct {
	base   Structure
	groups int
}

// NewGrouped wraps base with one theta block per group.
func NewGrouped(base Structure, groups int) *Grouped {
	return &Grouped{base: base, groups: groups}
}

func (g *Grouped) Kind() Kind     { return g.base.Kind() }
func (g *Grouped) NumVisits() int { return g.base.NumVisits() }
func (g *Grouped) NumGroups() int { return g.groups }

func (g *Grouped) NumTheta() int {
	return g.groups * g.base.NumTheta()
}

// Build returns the first group's factor, satisfying Structure for
// callers that are unaware of grouping.
func (g *Grouped) Build(theta []float64) (*mat.TriDense, bool) {
	return g.BuildGroup(theta, 0)
}

// BuildGroup builds the factor for one group from its theta block.
func (g *Grouped) BuildGroup(theta []float64, group int) (*mat.TriDense, bool) {
	if len(theta) != g.NumTheta() || group < 0 || group >= g.groups {
		return nil, false
	}
	q := g.base.NumTheta()
	return g.base.Build(theta[group*q : (group+1)*q])
}

// GroupBuilder is implemented by structures that vary by group.
type GroupBuilder interface {
	NumGroups() int
	BuildGroup(theta []float64, group int) (*mat.TriDense, bool)
}

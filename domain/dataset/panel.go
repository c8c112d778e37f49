// Package dataset holds the long-format representation of repeated
// measures data and its translation into the stacked design the model
// layer consumes.
package dataset

import (
	"fmt"
	"sort"

	"gommrm/domain/core"
	"gommrm/domain/model"

	"gonum.org/v1/gonum/mat"
)

// Record is one observed visit of one subject in long format.
type Record struct {
	Subject    core.SubjectKey
	Visit      core.VisitKey
	Group      string // optional grouping factor for grouped covariances
	Response   float64
	Weight     float64
	Covariates map[string]float64
}

// Panel is a validated long-format dataset. Record order is frozen at
// construction and defines the row order of every derived matrix.
type Panel struct {
	Records        []Record
	VisitLevels    []string
	CovariateNames []string

	visitIndex map[string]int
}

// NewPanel validates records against the ordered visit levels. A
// subject observed twice at the same visit is rejected; a zero weight
// defaults to 1.
func NewPanel(records []Record, visitLevels []string) (*Panel, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: no records", core.ErrInsufficientData)
	}
	if len(visitLevels) == 0 {
		return nil, fmt.Errorf("visit levels are required")
	}

	visitIndex := make(map[string]int, len(visitLevels))
	for i, v := range visitLevels {
		if _, dup := visitIndex[v]; dup {
			return nil, fmt.Errorf("visit level %q listed twice", v)
		}
		visitIndex[v] = i
	}

	covs := make(map[string]bool)
	seen := make(map[string]bool, len(records))
	for i := range records {
		r := &records[i]
		if r.Subject == "" {
			return nil, fmt.Errorf("record %d has no subject key", i)
		}
		if _, ok := visitIndex[string(r.Visit)]; !ok {
			return nil, fmt.Errorf("record %d: unknown visit level %q", i, r.Visit)
		}
		key := string(r.Subject) + "\x00" + string(r.Visit)
		if seen[key] {
			return nil, fmt.Errorf("%w: subject %s visit %s", core.ErrDuplicateVisit, r.Subject, r.Visit)
		}
		seen[key] = true
		if r.Weight == 0 {
			r.Weight = 1
		}
		if r.Weight < 0 {
			return nil, fmt.Errorf("record %d: negative weight %g", i, r.Weight)
		}
		for name := range r.Covariates {
			covs[name] = true
		}
	}

	names := make([]string, 0, len(covs))
	for name := range covs {
		names = append(names, name)
	}
	sort.Strings(names)

	return &Panel{
		Records:        records,
		VisitLevels:    visitLevels,
		CovariateNames: names,
		visitIndex:     visitIndex,
	}, nil
}

// NumVisits returns the number of visit levels.
func (p *Panel) NumVisits() int { return len(p.VisitLevels) }

// VisitIndex maps a visit level to its position in the ordering.
func (p *Panel) VisitIndex(visit string) (int, bool) {
	i, ok := p.visitIndex[visit]
	return i, ok
}

// Response returns the stacked response vector in record order.
func (p *Panel) Response() []float64 {
	y := make([]float64, len(p.Records))
	for i, r := range p.Records {
		y[i] = r.Response
	}
	return y
}

// Weights returns the stacked observation weights in record order.
func (p *Panel) Weights() []float64 {
	w := make([]float64, len(p.Records))
	for i, r := range p.Records {
		w[i] = r.Weight
	}
	return w
}

// Subjects groups the records into model subjects, in order of first
// appearance. Row indices point into the record order, so the result
// lines up with Response, Weights and DesignMatrix.
func (p *Panel) Subjects() []model.Subject {
	groupIndex := make(map[string]int)
	for i, g := range p.Groups() {
		groupIndex[g] = i
	}

	byKey := make(map[core.SubjectKey]int)
	var subjects []model.Subject
	for i, r := range p.Records {
		idx, ok := byKey[r.Subject]
		if !ok {
			idx = len(subjects)
			byKey[r.Subject] = idx
			subjects = append(subjects, model.Subject{Key: r.Subject, Group: groupIndex[r.Group]})
		}
		subjects[idx].Rows = append(subjects[idx].Rows, i)
		subjects[idx].Visits = append(subjects[idx].Visits, p.visitIndex[string(r.Visit)])
	}
	return subjects
}

// Groups returns the distinct group labels in order of first
// appearance, or nil when no record carries one.
func (p *Panel) Groups() []string {
	seen := make(map[string]bool)
	var groups []string
	for _, r := range p.Records {
		if r.Group == "" || seen[r.Group] {
			continue
		}
		seen[r.Group] = true
		groups = append(groups, r.Group)
	}
	return groups
}

// Hash fingerprints the panel's responses and weights, keyed by
// subject and visit so record order does not matter.
func (p *Panel) Hash() core.PanelHash {
	rows := make(map[string]float64, len(p.Records))
	weights := make(map[string]float64, len(p.Records))
	for _, r := range p.Records {
		key := string(r.Subject) + "|" + string(r.Visit)
		rows[key] = r.Response
		weights[key] = r.Weight
	}
	return core.ComputePanelHash(rows, weights)
}

// DesignMatrix assembles the fixed-effects design from a term list.
// "1" produces an intercept column, "visit:<level>" an indicator for
// that visit level, and any other term is looked up in the record
// covariates. A covariate missing from a record is an error rather
// than an implicit zero.
func (p *Panel) DesignMatrix(terms []string) (*mat.Dense, error) {
	if len(terms) == 0 {
		return nil, fmt.Errorf("design terms are required")
	}
	n := len(p.Records)
	x := mat.NewDense(n, len(terms), nil)
	for j, term := range terms {
		for i, r := range p.Records {
			switch {
			case term == "1":
				x.Set(i, j, 1)
			case len(term) > 6 && term[:6] == "visit:":
				level := term[6:]
				if _, ok := p.visitIndex[level]; !ok {
					return nil, fmt.Errorf("design term %q: unknown visit level", term)
				}
				if string(r.Visit) == level {
					x.Set(i, j, 1)
				}
			default:
				v, ok := r.Covariates[term]
				if !ok {
					return nil, fmt.Errorf("record %d is missing covariate %q", i, term)
				}
				x.Set(i, j, v)
			}
		}
	}
	return x, nil
}

package run

import (
	"fmt"
	"strings"

	"gommrm/domain/core"
)

// Manifest is the complete specification of one inference run. It is
// written to the ledger alongside the fit record so a result can be
// traced back to the exact data, design and covariance choices that
// produced it.
type Manifest struct {
	FitID       core.FitID      `json:"fit_id"`
	PanelHash   core.PanelHash  `json:"panel_hash"`
	DesignHash  core.DesignHash `json:"design_hash"`
	Structure   string          `json:"structure"`
	VisitLevels []string        `json:"visit_levels"`
	Terms       []string        `json:"terms"`
	Methods     []string        `json:"methods"`
	NumSubjects int             `json:"num_subjects"`
	NumObs      int             `json:"num_obs"`
	CodeVersion string          `json:"code_version"`
	Fingerprint core.Hash       `json:"fingerprint"`
	CreatedAt   core.Timestamp  `json:"created_at"`
}

// NewManifest builds a manifest and stamps its fingerprint.
func NewManifest(
	fitID core.FitID,
	panelHash core.PanelHash,
	designHash core.DesignHash,
	structure string,
	visitLevels, terms, methods []string,
	numSubjects, numObs int,
	codeVersion string,
) *Manifest {
	m := &Manifest{
		FitID:       fitID,
		PanelHash:   panelHash,
		DesignHash:  designHash,
		Structure:   structure,
		VisitLevels: visitLevels,
		Terms:       terms,
		Methods:     methods,
		NumSubjects: numSubjects,
		NumObs:      numObs,
		CodeVersion: codeVersion,
		CreatedAt:   core.Now(),
	}
	m.Fingerprint = m.fingerprint()
	return m
}

// fingerprint collapses the determinism-relevant fields into one hash.
// CreatedAt is deliberately excluded so reruns of the same analysis
// fingerprint identically.
func (m *Manifest) fingerprint() core.Hash {
	var data strings.Builder
	data.WriteString(m.PanelHash.String())
	data.WriteString(m.DesignHash.String())
	data.WriteString(m.Structure)
	data.WriteString(strings.Join(m.Methods, ","))
	data.WriteString(m.CodeVersion)
	data.WriteString(fmt.Sprintf("%d|%d", m.NumSubjects, m.NumObs))
	return core.NewHash([]byte(data.String()))
}

// Replayable reports whether another manifest describes the same
// analysis of the same data.
func (m *Manifest) Replayable(other *Manifest) bool {
	return m.Fingerprint.Equals(other.Fingerprint)
}

// Validate checks if the manifest is complete
func (m *Manifest) Validate() error {
	if core.ID(m.FitID).IsEmpty() {
		return fmt.Errorf("run manifest: fit_id cannot be empty")
	}
	if core.Hash(m.PanelHash).IsEmpty() {
		return fmt.Errorf("run manifest: panel_hash cannot be empty")
	}
	if m.Structure == "" {
		return fmt.Errorf("run manifest: structure cannot be empty")
	}
	if len(m.Methods) == 0 {
		return fmt.Errorf("run manifest: at least one covariance method required")
	}
	if m.NumSubjects < 1 || m.NumObs < m.NumSubjects {
		return fmt.Errorf("run manifest: implausible counts (%d subjects, %d observations)", m.NumSubjects, m.NumObs)
	}
	return nil
}

package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Hash represents a cryptographic hash
type Hash string

// NewHash creates a new hash from data
func NewHash(data []byte) Hash {
	sum := sha256.Sum256(data)
	return Hash(hex.EncodeToString(sum[:]))
}

// String returns the string representation
func (h Hash) String() string {
	return string(h)
}

// IsEmpty checks if the hash is empty
func (h Hash) IsEmpty() bool {
	return h == ""
}

// Equals checks if two hashes are equal
func (h Hash) Equals(other Hash) bool {
	return h == other
}

// Domain-specific hash types
type (
	// PanelHash fingerprints the long-format observations a fit was
	// estimated from.
	PanelHash Hash

	// DesignHash fingerprints the design terms and visit levels, the
	// part of a run that determines coefficient meaning.
	DesignHash Hash
)

// Constructors
func NewPanelHash(data []byte) PanelHash   { return PanelHash(NewHash(data)) }
func NewDesignHash(data []byte) DesignHash { return DesignHash(NewHash(data)) }

// String conversions
func (h PanelHash) String() string  { return Hash(h).String() }
func (h DesignHash) String() string { return Hash(h).String() }

// ComputePanelHash fingerprints observations keyed by subject and
// visit. Rows are serialized in sorted key order so the hash does not
// depend on input ordering.
func ComputePanelHash(rows map[string]float64, weights map[string]float64) PanelHash {
	keys := make([]string, 0, len(rows))
	for k := range rows {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var data strings.Builder
	for _, key := range keys {
		data.WriteString(key)
		data.WriteString(strconv.FormatFloat(rows[key], 'g', -1, 64))
		if w, ok := weights[key]; ok {
			data.WriteString(strconv.FormatFloat(w, 'g', -1, 64))
		}
	}

	return NewPanelHash([]byte(data.String()))
}

// ComputeDesignHash fingerprints the model-matrix recipe.
func ComputeDesignHash(terms, visitLevels []string) DesignHash {
	var data strings.Builder
	for _, t := range terms {
		data.WriteString(t)
		data.WriteString("\x1f")
	}
	data.WriteString("\x1e")
	for _, v := range visitLevels {
		data.WriteString(v)
		data.WriteString("\x1f")
	}
	return NewDesignHash([]byte(data.String()))
}

// ComputeConfigHash fingerprints arbitrary key-value settings.
func ComputeConfigHash(settings map[string]interface{}) Hash {
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var data strings.Builder
	for _, key := range keys {
		data.WriteString(key)
		data.WriteString(fmt.Sprintf("%v", settings[key]))
	}
	return NewHash([]byte(data.String()))
}

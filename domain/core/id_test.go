package core

import (
	"testing"
)

// TestNewIDUniqueness tests that NewID generates unique identifiers
func TestNewIDUniqueness(t *testing.T) {
	const numIDs = 10000

	// Generate many IDs
	ids := make(map[ID]bool, numIDs)
	for i := 0; i < numIDs; i++ {
		id := NewID()
		if id.IsEmpty() {
			t.Errorf("Generated empty ID at iteration %d", i)
		}
		if ids[id] {
			t.Errorf("Generated duplicate ID: %s", id)
		}
		ids[id] = true
	}

	if len(ids) != numIDs {
		t.Errorf("Expected %d unique IDs, got %d", numIDs, len(ids))
	}
}

// TestIDString tests ID string conversion
func TestIDString(t *testing.T) {
	id := ID("test-123")
	if id.String() != "test-123" {
		t.Errorf("Expected String() to return 'test-123', got '%s'", id.String())
	}
}

// TestIDIsEmpty tests ID emptiness check
func TestIDIsEmpty(t *testing.T) {
	emptyID := ID("")
	if !emptyID.IsEmpty() {
		t.Error("Expected empty ID to be empty")
	}

	nonEmptyID := ID("not-empty")
	if nonEmptyID.IsEmpty() {
		t.Error("Expected non-empty ID to not be empty")
	}
}

// TestParseFitID tests fit ID parsing
func TestParseFitID(t *testing.T) {
	tests := []struct {
		input    string
		expected FitID
		hasError bool
	}{
		{"fit-123", FitID("fit-123"), false},
		{"", "", true},
		{"   ", "", true},
	}

	for _, test := range tests {
		result, err := ParseFitID(test.input)
		if test.hasError && err == nil {
			t.Errorf("Expected error for input '%s', but got none", test.input)
		}
		if !test.hasError && err != nil {
			t.Errorf("Unexpected error for input '%s': %v", test.input, err)
		}
		if result != test.expected {
			t.Errorf("Expected %s, got %s", test.expected, result)
		}
	}
}

// TestParseSubjectKey tests subject key parsing
func TestParseSubjectKey(t *testing.T) {
	tests := []struct {
		input    string
		expected SubjectKey
		hasError bool
	}{
		{"SUBJ-001", SubjectKey("SUBJ-001"), false},
		{"", "", true},
	}

	for _, test := range tests {
		result, err := ParseSubjectKey(test.input)
		if test.hasError && err == nil {
			t.Errorf("Expected error for input '%s', but got none", test.input)
		}
		if !test.hasError && err != nil {
			t.Errorf("Unexpected error for input '%s': %v", test.input, err)
		}
		if result != test.expected {
			t.Errorf("Expected %s, got %s", test.expected, result)
		}
	}
}

// TestComputePanelHashOrderInvariance tests that row order does not
// change the panel fingerprint
func TestComputePanelHashOrderInvariance(t *testing.T) {
	a := ComputePanelHash(
		map[string]float64{"S1|VIS1": 1.5, "S1|VIS2": 2.0},
		map[string]float64{"S1|VIS1": 1, "S1|VIS2": 1},
	)
	b := ComputePanelHash(
		map[string]float64{"S1|VIS2": 2.0, "S1|VIS1": 1.5},
		map[string]float64{"S1|VIS2": 1, "S1|VIS1": 1},
	)
	if !Hash(a).Equals(Hash(b)) {
		t.Error("Expected identical panels to hash identically")
	}

	c := ComputePanelHash(
		map[string]float64{"S1|VIS1": 1.5, "S1|VIS2": 2.5},
		map[string]float64{"S1|VIS1": 1, "S1|VIS2": 1},
	)
	if Hash(a).Equals(Hash(c)) {
		t.Error("Expected differing responses to change the hash")
	}
}

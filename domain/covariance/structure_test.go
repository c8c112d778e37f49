package covariance

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

const tol = 1e-10

func sigmaFrom(t *testing.T, s Structure, theta []float64) *mat.SymDense {
	t.Helper()
	l, ok := s.Build(theta)
	if !ok {
		t.Fatalf("Build rejected theta %v", theta)
	}
	return FullCovariance(l)
}

// TestUnstructuredIdentity checks that the zero vector maps to the
// identity covariance.
func TestUnstructuredIdentity(t *testing.T) {
	u := NewUnstructured(3)
	if u.NumTheta() != 6 {
		t.Fatalf("Expected 6 parameters for m=3, got %d", u.NumTheta())
	}
	sigma := sigmaFrom(t, u, make([]float64, 6))
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			want := 0.0
			if i == j {
				want = 1
			}
			if math.Abs(sigma.At(i, j)-want) > tol {
				t.Errorf("Sigma[%d][%d] = %g, want %g", i, j, sigma.At(i, j), want)
			}
		}
	}
}

// TestUnstructuredRoundTrip checks Build followed by Recover returns
// the original theta.
func TestUnstructuredRoundTrip(t *testing.T) {
	u := NewUnstructured(4)
	theta := []float64{0.1, -0.3, 0.2, 0.4, 0.5, -0.7, 1.1, 0.0, -0.2, 0.6}
	l, ok := u.Build(theta)
	if !ok {
		t.Fatal("Build rejected a valid unstructured theta")
	}
	got := u.Recover(l)
	for k := range theta {
		if math.Abs(got[k]-theta[k]) > tol {
			t.Errorf("theta[%d] round-tripped to %g, want %g", k, got[k], theta[k])
		}
	}
}

// TestAutoregressiveCovariance checks the AR(1) pattern sd²·rho^|i−j|.
func TestAutoregressiveCovariance(t *testing.T) {
	a := NewAutoregressive(4, false)
	theta := []float64{math.Log(2), 0.75}
	rho := 0.75 / math.Sqrt(1+0.75*0.75)
	sigma := sigmaFrom(t, a, theta)
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			want := 4 * math.Pow(rho, math.Abs(float64(i-j)))
			if math.Abs(sigma.At(i, j)-want) > 1e-8 {
				t.Errorf("Sigma[%d][%d] = %g, want %g", i, j, sigma.At(i, j), want)
			}
		}
	}
}

// TestAutoregressiveRoundTrip checks homogeneous AR(1) recovery.
func TestAutoregressiveRoundTrip(t *testing.T) {
	a := NewAutoregressive(3, false)
	theta := []float64{0.4, -0.6}
	l, ok := a.Build(theta)
	if !ok {
		t.Fatal("Build rejected a valid AR(1) theta")
	}
	got := a.Recover(l)
	for k := range theta {
		if math.Abs(got[k]-theta[k]) > 1e-8 {
			t.Errorf("theta[%d] round-tripped to %g, want %g", k, got[k], theta[k])
		}
	}
}

// TestRecovererInterface checks the invertible families expose
// parameter recovery through the shared interface and that Recover
// inverts Build.
func TestRecovererInterface(t *testing.T) {
	cases := []struct {
		s     Structure
		theta []float64
	}{
		{NewUnstructured(3), []float64{0.2, -0.1, 0.3, 0.5, -0.4, 0.25}},
		{NewAutoregressive(3, false), []float64{0.4, -0.6}},
	}
	for _, c := range cases {
		rec, ok := c.s.(Recoverer)
		if !ok {
			t.Fatalf("%s does not implement Recoverer", c.s.Kind())
		}
		l, ok := c.s.Build(c.theta)
		if !ok {
			t.Fatalf("%s rejected theta %v", c.s.Kind(), c.theta)
		}
		got := rec.Recover(l)
		if len(got) != len(c.theta) {
			t.Fatalf("%s recovered %d parameters, want %d", c.s.Kind(), len(got), len(c.theta))
		}
		for k := range c.theta {
			if math.Abs(got[k]-c.theta[k]) > 1e-8 {
				t.Errorf("%s theta[%d] round-tripped to %g, want %g", c.s.Kind(), k, got[k], c.theta[k])
			}
		}
	}
}

// TestCompoundSymmetrySharedCorrelation checks every off-diagonal pair
// shares one correlation.
func TestCompoundSymmetrySharedCorrelation(t *testing.T) {
	c := NewCompoundSymmetry(4, false)
	sigma := sigmaFrom(t, c, []float64{0, 0.5})
	ref := sigma.At(0, 1)
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			if i == j {
				continue
			}
			if math.Abs(sigma.At(i, j)-ref) > tol {
				t.Errorf("Sigma[%d][%d] = %g, want shared %g", i, j, sigma.At(i, j), ref)
			}
		}
	}
}

// TestCompoundSymmetryRejectsInfeasibleRho checks that a strongly
// negative shared correlation fails positive definiteness for m=4.
func TestCompoundSymmetryRejectsInfeasibleRho(t *testing.T) {
	c := NewCompoundSymmetry(4, false)
	// mapCorrelation(-3) is about -0.95, far below -1/3
	if _, ok := c.Build([]float64{0, -3}); ok {
		t.Error("Expected Build to reject rho far below -1/(m-1)")
	}
}

// TestToeplitzBands checks one correlation per lag.
func TestToeplitzBands(t *testing.T) {
	tp := NewToeplitz(4, false)
	if tp.NumTheta() != 4 {
		t.Fatalf("Expected 4 parameters for homogeneous m=4, got %d", tp.NumTheta())
	}
	sigma := sigmaFrom(t, tp, []float64{0, 0.5, 0.2, 0.1})
	for lag := 1; lag < 4; lag++ {
		ref := sigma.At(0, lag)
		for i := 0; i+lag < 4; i++ {
			if math.Abs(sigma.At(i, i+lag)-ref) > tol {
				t.Errorf("lag %d entry at row %d = %g, want %g", lag, i, sigma.At(i, i+lag), ref)
			}
		}
	}
}

// TestAnteDependenceProductCorrelation checks corr(0, 2) is the
// product of the two adjacent correlations.
func TestAnteDependenceProductCorrelation(t *testing.T) {
	ad := NewAnteDependence(3, false)
	theta := []float64{0, 0.8, -0.4}
	sigma := sigmaFrom(t, ad, theta)
	r1 := mapCorrelation(0.8)
	r2 := mapCorrelation(-0.4)
	if got, want := sigma.At(0, 2), r1*r2; math.Abs(got-want) > tol {
		t.Errorf("corr(0, 2) = %g, want %g", got, want)
	}
}

// TestHeterogeneousStandardDeviations checks per-visit diagonals.
func TestHeterogeneousStandardDeviations(t *testing.T) {
	c := NewCompoundSymmetry(3, true)
	if c.NumTheta() != 4 {
		t.Fatalf("Expected 4 parameters for heterogeneous m=3, got %d", c.NumTheta())
	}
	theta := []float64{math.Log(1), math.Log(2), math.Log(3), 0.3}
	sigma := sigmaFrom(t, c, theta)
	for i, sd := range []float64{1, 2, 3} {
		if math.Abs(sigma.At(i, i)-sd*sd) > 1e-8 {
			t.Errorf("Sigma[%d][%d] = %g, want %g", i, i, sigma.At(i, i), sd*sd)
		}
	}
}

// TestSpatialExponentialDecay checks correlation decays with
// coordinate distance and the base stays inside (0, 1).
func TestSpatialExponentialDecay(t *testing.T) {
	sp := NewSpatialExponential(3, false, []float64{0, 1, 3})
	sigma := sigmaFrom(t, sp, []float64{0, 0.5})
	rho := 1 / (1 + math.Exp(-0.5))
	if got, want := sigma.At(0, 1), rho; math.Abs(got-want) > tol {
		t.Errorf("corr at distance 1 = %g, want %g", got, want)
	}
	if got, want := sigma.At(0, 2), math.Pow(rho, 3); math.Abs(got-want) > tol {
		t.Errorf("corr at distance 3 = %g, want %g", got, want)
	}
	if sigma.At(0, 1) <= sigma.At(0, 2) {
		t.Error("Expected correlation to decay with distance")
	}
}

// TestSpatialExponentialHeterogeneous checks per-visit variances with
// the shared distance decay.
func TestSpatialExponentialHeterogeneous(t *testing.T) {
	sp := NewSpatialExponential(3, true, []float64{0, 1, 3})
	if sp.NumTheta() != 4 {
		t.Fatalf("Expected 4 parameters for heterogeneous m=3, got %d", sp.NumTheta())
	}
	theta := []float64{math.Log(1), math.Log(2), math.Log(3), 0.5}
	sigma := sigmaFrom(t, sp, theta)
	for i, sd := range []float64{1, 2, 3} {
		if math.Abs(sigma.At(i, i)-sd*sd) > 1e-8 {
			t.Errorf("Sigma[%d][%d] = %g, want %g", i, i, sigma.At(i, i), sd*sd)
		}
	}
	rho := 1 / (1 + math.Exp(-0.5))
	if got, want := sigma.At(0, 1), 1*2*rho; math.Abs(got-want) > 1e-8 {
		t.Errorf("Sigma[0][1] = %g, want %g", got, want)
	}
	if got, want := sigma.At(0, 2), 1*3*math.Pow(rho, 3); math.Abs(got-want) > 1e-8 {
		t.Errorf("Sigma[0][2] = %g, want %g", got, want)
	}
}

// TestSubsetPrincipalSubmatrix checks a ragged subject's factor
// reproduces the principal submatrix of the full covariance.
func TestSubsetPrincipalSubmatrix(t *testing.T) {
	u := NewUnstructured(3)
	theta := []float64{0.2, -0.1, 0.3, 0.5, -0.4, 0.25}
	l, ok := u.Build(theta)
	if !ok {
		t.Fatal("Build rejected a valid theta")
	}
	full := FullCovariance(l)

	idx := []int{0, 2}
	sub, ok := Subset(l, idx)
	if !ok {
		t.Fatal("Subset failed on a positive definite covariance")
	}
	got := FullCovariance(sub)
	for a, i := range idx {
		for b, j := range idx {
			if math.Abs(got.At(a, b)-full.At(i, j)) > tol {
				t.Errorf("subset[%d][%d] = %g, want full[%d][%d] = %g", a, b, got.At(a, b), i, j, full.At(i, j))
			}
		}
	}
}

// TestSubsetFullIndexIsCopy checks that selecting every visit returns
// the factor unchanged.
func TestSubsetFullIndexIsCopy(t *testing.T) {
	u := NewUnstructured(2)
	l, _ := u.Build([]float64{0.1, -0.2, 0.4})
	sub, ok := Subset(l, []int{0, 1})
	if !ok {
		t.Fatal("Subset failed on the full index set")
	}
	for i := 0; i < 2; i++ {
		for j := 0; j <= i; j++ {
			if sub.At(i, j) != l.At(i, j) {
				t.Errorf("subset[%d][%d] = %g, want %g", i, j, sub.At(i, j), l.At(i, j))
			}
		}
	}
}

// TestGroupedThetaBlocks checks each group consumes its own block.
func TestGroupedThetaBlocks(t *testing.T) {
	g := NewGrouped(NewAutoregressive(2, false), 2)
	if g.NumTheta() != 4 {
		t.Fatalf("Expected 4 parameters for 2 groups, got %d", g.NumTheta())
	}
	theta := []float64{math.Log(1), 0, math.Log(2), 0}

	l0, ok := g.BuildGroup(theta, 0)
	if !ok {
		t.Fatal("BuildGroup(0) failed")
	}
	l1, ok := g.BuildGroup(theta, 1)
	if !ok {
		t.Fatal("BuildGroup(1) failed")
	}
	if got := FullCovariance(l0).At(0, 0); math.Abs(got-1) > tol {
		t.Errorf("group 0 variance = %g, want 1", got)
	}
	if got := FullCovariance(l1).At(0, 0); math.Abs(got-4) > tol {
		t.Errorf("group 1 variance = %g, want 4", got)
	}
	if _, ok := g.BuildGroup(theta, 2); ok {
		t.Error("Expected BuildGroup to reject an out-of-range group")
	}
}

// TestGetStructure covers name aliases and parameter counts.
func TestGetStructure(t *testing.T) {
	tests := []struct {
		name     string
		visits   int
		kind     Kind
		numTheta int
	}{
		{"us", 3, KindUnstructured, 6},
		{"unstructured", 2, KindUnstructured, 3},
		{"toep", 4, KindToeplitz, 4},
		{"toeph", 4, KindToeplitz, 7},
		{"ar1", 5, KindAutoregressive, 2},
		{"ar1h", 5, KindAutoregressive, 6},
		{"cs", 3, KindCompoundSymmetry, 2},
		{"csh", 3, KindCompoundSymmetry, 4},
		{"ad", 3, KindAnteDependence, 3},
		{"adh", 3, KindAnteDependence, 5},
		{"sp_exp", 4, KindSpatialExponential, 2},
		{"sp_exph", 4, KindSpatialExponential, 5},
	}

	for _, test := range tests {
		s, err := GetStructure(Spec{Name: test.name, Visits: test.visits})
		if err != nil {
			t.Errorf("GetStructure(%q) returned error: %v", test.name, err)
			continue
		}
		if s.Kind() != test.kind {
			t.Errorf("GetStructure(%q) kind = %s, want %s", test.name, s.Kind(), test.kind)
		}
		if s.NumTheta() != test.numTheta {
			t.Errorf("GetStructure(%q) NumTheta = %d, want %d", test.name, s.NumTheta(), test.numTheta)
		}
	}
}

// TestGetStructureErrors covers rejection paths.
func TestGetStructureErrors(t *testing.T) {
	if _, err := GetStructure(Spec{Name: "banded", Visits: 3}); err == nil {
		t.Error("Expected error for unknown structure name")
	}
	if _, err := GetStructure(Spec{Name: "us", Visits: 0}); err == nil {
		t.Error("Expected error for zero visits")
	}
}

// TestGetStructureGrouped checks the grouped wrapper is applied.
func TestGetStructureGrouped(t *testing.T) {
	s, err := GetStructure(Spec{Name: "ar1", Visits: 3, Groups: 2})
	if err != nil {
		t.Fatalf("GetStructure returned error: %v", err)
	}
	gb, ok := s.(GroupBuilder)
	if !ok {
		t.Fatal("Expected a grouped structure")
	}
	if gb.NumGroups() != 2 {
		t.Errorf("NumGroups = %d, want 2", gb.NumGroups())
	}
}

// TestBuildRejectsWrongLength checks every family validates theta
// length.
func TestBuildRejectsWrongLength(t *testing.T) {
	structures := []Structure{
		NewUnstructured(3),
		NewToeplitz(3, false),
		NewAutoregressive(3, true),
		NewCompoundSymmetry(3, false),
		NewAnteDependence(3, true),
		NewSpatialExponential(3, false, nil),
	}
	for _, s := range structures {
		bad := make([]float64, s.NumTheta()+1)
		if _, ok := s.Build(bad); ok {
			t.Errorf("%s accepted theta of wrong length", s.Kind())
		}
	}
}

package model

// Method selects which coefficient-covariance estimator and which
// degrees-of-freedom formula downstream tests use. The call contract is
// identical across methods; no refit is needed to switch.
type Method string

const (
	MethodAsymptotic   Method = "asymptotic"
	MethodEmpirical    Method = "empirical"
	MethodJackknife    Method = "jackknife"
	MethodKenwardRoger Method = "kenward-roger"
)

// OneDimResult reports a single-contrast test.
type OneDimResult struct {
	Estimate float64
	SE       float64
	DF       float64
	TStat    float64
	PValue   float64
	Lower    float64 // 95% confidence bound
	Upper    float64
}

// MultiDimResult reports a joint contrast test.
type MultiDimResult struct {
	NumDF   int
	DenomDF float64
	FStat   float64
	PValue  float64
}

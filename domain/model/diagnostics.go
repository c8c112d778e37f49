package model

import (
	"math"

	"github.com/montanaflynn/stats"
)

// ResidualSummary condenses the stacked residuals into the quantities
// the stability warnings look at.
type ResidualSummary struct {
	Mean         float64
	StdDev       float64
	Median       float64
	Q25          float64
	Q75          float64
	OutlierCount int
	MaxAbs       float64
}

// Diagnostics summarizes the fit residuals. A heavy outlier share or a
// residual spread far from the structure's implied scale is the usual
// precursor of an unstable Hessian, so callers log this before running
// the adjustment machinery.
func (f *Fit) Diagnostics() ResidualSummary {
	r := f.residuals

	mean, _ := stats.Mean(r)
	sd, _ := stats.StandardDeviation(r)
	median, _ := stats.Median(r)
	q25, _ := stats.Percentile(r, 25)
	q75, _ := stats.Percentile(r, 75)

	iqr := q75 - q25
	lower := q25 - 1.5*iqr
	upper := q75 + 1.5*iqr

	outliers := 0
	maxAbs := 0.0
	for _, v := range r {
		if v < lower || v > upper {
			outliers++
		}
		if a := math.Abs(v); a > maxAbs {
			maxAbs = a
		}
	}

	return ResidualSummary{
		Mean:         mean,
		StdDev:       sd,
		Median:       median,
		Q25:          q25,
		Q75:          q75,
		OutlierCount: outliers,
		MaxAbs:       maxAbs,
	}
}

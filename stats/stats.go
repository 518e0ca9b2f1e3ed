// Package stats holds summary statistics for repeated metric observations.
package stats

import (
	"math"
	"sort"
)

type Summary struct {
	Count  int
	Mean   float64
	Median float64
	StdDev float64
	Min    float64
	Max    float64
}

// Summarize computes summary statistics over the observed values.
// Returns the zero Summary for an empty input.
func Summarize(values []float64) Summary {
	n := len(values)
	if n == 0 {
		return Summary{}
	}

	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	sum := 0.0
	for _, v := range sorted {
		sum += v
	}
	mean := sum / float64(n)

	variance := 0.0
	for _, v := range sorted {
		variance += (v - mean) * (v - mean)
	}
	stddev := 0.0
	if n > 1 {
		stddev = math.Sqrt(variance / float64(n-1))
	}

	return Summary{
		Count:  n,
		Mean:   mean,
		Median: Percentile(sorted, 0.5),
		StdDev: stddev,
		Min:    sorted[0],
		Max:    sorted[n-1],
	}
}

// Percentile returns the p-th percentile (0 <= p <= 1) of already-sorted
// values, using the nearest-rank method.
func Percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)) * p)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSummarize(t *testing.T) {
	s := Summarize([]float64{4, 1, 3, 2})

	assert.Equal(t, 4, s.Count)
	assert.Equal(t, 2.5, s.Mean)
	assert.Equal(t, 3.0, s.Median)
	assert.Equal(t, 1.0, s.Min)
	assert.Equal(t, 4.0, s.Max)
	assert.InDelta(t, 1.2909, s.StdDev, 1e-4)
}

func TestSummarizeSingleValue(t *testing.T) {
	s := Summarize([]float64{7.5})

	assert.Equal(t, 7.5, s.Mean)
	assert.Equal(t, 0.0, s.StdDev)
}

func TestSummarizeEmpty(t *testing.T) {
	assert.Equal(t, Summary{}, Summarize(nil))
}

func TestPercentile(t *testing.T) {
	sorted := make([]float64, 100)
	for i := range sorted {
		sorted[i] = float64(i)
	}

	assert.Equal(t, 50.0, Percentile(sorted, 0.5))
	assert.Equal(t, 90.0, Percentile(sorted, 0.9))
	assert.Equal(t, 99.0, Percentile(sorted, 0.99))
	assert.Equal(t, 99.0, Percentile(sorted, 1.0))
}

func TestPercentileEmpty(t *testing.T) {
	assert.Equal(t, 0.0, Percentile(nil, 0.5))
}

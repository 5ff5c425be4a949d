package stats

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// StepsizeBinsV are the lower edges (in volts) of the step-size buckets. The
// last bucket is open ended.
var StepsizeBinsV = []float64{0, 1e-8, 1e-7, 1e-6, 1e-5, 1e-4, 1e-3, 1e-2, 1e-1, 1}

// StepsizeClassifier counts the magnitudes of differences between
// consecutive samples. A healthy ADC capture spreads over several buckets; a
// capture dominated by one bucket points at quantization or a stuck input.
type StepsizeClassifier struct {
	binsV    []float64
	dividers []float64
	counts   []int64
	hist     []float64
	steps    []float64
}

// NewStepsizeClassifier creates a classifier with the StepsizeBinsV buckets.
func NewStepsizeClassifier() *StepsizeClassifier {
	binsV := make([]float64, len(StepsizeBinsV))
	copy(binsV, StepsizeBinsV)

	return &StepsizeClassifier{
		binsV:    binsV,
		dividers: append(append([]float64{}, binsV...), math.Inf(1)),
		counts:   make([]int64, len(binsV)),
		hist:     make([]float64, len(binsV)),
	}
}

// Add classifies |x[i+1]-x[i]| for all consecutive pairs of samples. Steps
// that are not finite are not counted.
func (c *StepsizeClassifier) Add(samples []float64) {
	if len(samples) < 2 {
		return
	}

	c.steps = c.steps[:0]
	for i := 1; i < len(samples); i++ {
		step := math.Abs(samples[i] - samples[i-1])
		if math.IsNaN(step) || math.IsInf(step, 0) {
			continue
		}
		c.steps = append(c.steps, step)
	}
	sort.Float64s(c.steps)

	stat.Histogram(c.hist, c.dividers, c.steps, nil)
	for i, n := range c.hist {
		c.counts[i] += int64(n)
	}
}

// Counts returns a copy of the per-bucket counts.
func (c *StepsizeClassifier) Counts() []int64 {
	counts := make([]int64, len(c.counts))
	copy(counts, c.counts)
	return counts
}

// BinsV returns a copy of the bucket lower edges.
func (c *StepsizeClassifier) BinsV() []float64 {
	binsV := make([]float64, len(c.binsV))
	copy(binsV, c.binsV)
	return binsV
}

// Total returns the number of steps classified so far.
func (c *StepsizeClassifier) Total() int64 {
	var total int64
	for _, n := range c.counts {
		total += n
	}
	return total
}

package filters

import (
	"fmt"
)

const (
	// DecimatorOrder and DecimatorRippleDB describe the anti-aliasing low
	// pass, cut off at 80% of the decimated Nyquist frequency.
	DecimatorOrder    = 8
	DecimatorRippleDB = 0.05
	decimatorPassband = 0.8
)

// Decimator low-pass filters a block with zero phase (a forward pass then a
// backward pass) and keeps every factor-th sample.
//
// Each block is processed independently: both passes start in steady state
// for the first sample they see, and callers are expected to discard the
// block edges, where the filter has no real history.
type Decimator struct {
	factor   int
	sections []BiquadCoefficients
	gain     float64
}

// NewDecimator creates a decimator for an integer factor >= 2.
func NewDecimator(factor int) (*Decimator, error) {
	if factor < 2 {
		return nil, fmt.Errorf("decimation factor must be at least 2, got %d", factor)
	}

	cutoff := decimatorPassband * 0.5 / float64(factor)
	sections, gain, err := Chebyshev1LP(DecimatorOrder, DecimatorRippleDB, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to design decimation filter: %w", err)
	}

	return &Decimator{
		factor:   factor,
		sections: sections,
		gain:     gain,
	}, nil
}

// Factor returns the decimation factor.
func (d *Decimator) Factor() int {
	return d.factor
}

// OutputLength returns the number of samples Decimate yields for n input samples.
func (d *Decimator) OutputLength(n int) int {
	return (n + d.factor - 1) / d.factor
}

// Decimate returns the filtered, down-sampled copy of input. input is not modified.
func (d *Decimator) Decimate(input []float64) []float64 {
	if len(input) == 0 {
		return []float64{}
	}

	work := make([]float64, len(input))
	copy(work, input)

	forward := NewCascade(d.sections, d.gain)
	forward.SettleTo(work[0])
	forward.ProcessBlock(work)

	backward := NewCascade(d.sections, d.gain)
	backward.SettleTo(work[len(work)-1])
	backward.ProcessBlockReverse(work)

	out := make([]float64, d.OutputLength(len(work)))
	for i := range out {
		out[i] = work[i*d.factor]
	}
	return out
}

package windowing

import (
	"fmt"
	"math"
)

// Window is a tapering function applied to a fixed-size block before an FFT.
type Window interface {
	// ApplyInPlace multiplies signal by the window coefficients.
	ApplyInPlace(signal []float64) error
	// SumSquares is Σw², needed for density scaling of a periodogram.
	SumSquares() float64
	GetSize() int
	GetType() string
}

// Hamming represents a Hamming window function.
//
// Periodic windows (symmetric=false) are the ones to use for spectral
// estimation; symmetric windows suit FIR design.
type Hamming struct {
	size         int
	symmetric    bool
	coefficients []float64
	sumSquares   float64
}

// NewHamming creates a new Hamming window
func NewHamming(size int, symmetric bool) *Hamming {
	h := &Hamming{
		size:      size,
		symmetric: symmetric,
	}
	h.generate()
	return h
}

func (h *Hamming) generate() {
	h.coefficients = make([]float64, h.size)
	if h.size == 1 {
		h.coefficients[0] = 1
		h.sumSquares = 1
		return
	}

	denominator := float64(h.size)
	if h.symmetric {
		denominator = float64(h.size - 1)
	}

	h.sumSquares = 0
	for i := range h.size {
		w := 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/denominator)
		h.coefficients[i] = w
		h.sumSquares += w * w
	}
}

// ApplyInPlace applies the window to a signal in-place
func (h *Hamming) ApplyInPlace(signal []float64) error {
	if len(signal) != h.size {
		return fmt.Errorf("signal length (%d) doesn't match window size (%d)", len(signal), h.size)
	}

	for i, w := range h.coefficients {
		signal[i] *= w
	}
	return nil
}

// SumSquares returns Σw² over all coefficients.
func (h *Hamming) SumSquares() float64 {
	return h.sumSquares
}

// GetCoefficients returns a copy of the window coefficients
func (h *Hamming) GetCoefficients() []float64 {
	coeffs := make([]float64, len(h.coefficients))
	copy(coeffs, h.coefficients)
	return coeffs
}

// GetSize returns the window size
func (h *Hamming) GetSize() int {
	return h.size
}

// GetType returns the window type
func (h *Hamming) GetType() string {
	if h.symmetric {
		return "hamming_symmetric"
	}
	return "hamming"
}

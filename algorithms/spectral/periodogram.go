package spectral

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/RyanBlaney/sonido-density/algorithms/windowing"
)

// Periodogram computes one-sided power spectral densities (V²/Hz) of fixed
// size blocks sampled every dtS seconds. Each block is linearly detrended
// and Hamming windowed before the transform.
type Periodogram struct {
	size        int
	dtS         float64
	window      windowing.Window
	fft         *FFT
	scale       float64
	frequencies []float64
	ramp        []float64
	scratch     []float64
}

// NewPeriodogram prepares a periodogram for blocks of size samples.
func NewPeriodogram(size int, dtS float64) (*Periodogram, error) {
	if size < 2 {
		return nil, fmt.Errorf("periodogram size must be at least 2, got %d", size)
	}
	if dtS <= 0 {
		return nil, fmt.Errorf("sample interval must be positive, got %g", dtS)
	}

	window := windowing.NewHamming(size, false)
	p := &Periodogram{
		size:   size,
		dtS:    dtS,
		window: window,
		fft:    NewFFT(),
		// 1/(fs*Σw²)
		scale:   dtS / window.SumSquares(),
		ramp:    make([]float64, size),
		scratch: make([]float64, size),
	}
	for i := range p.ramp {
		p.ramp[i] = float64(i)
	}

	df := 1.0 / (float64(size) * dtS)
	p.frequencies = make([]float64, size/2+1)
	for k := range p.frequencies {
		p.frequencies[k] = float64(k) * df
	}
	return p, nil
}

// Size returns the block length.
func (p *Periodogram) Size() int {
	return p.size
}

// Frequencies returns the frequency of every output bin (shared, do not modify).
func (p *Periodogram) Frequencies() []float64 {
	return p.frequencies
}

// Compute returns the density of one block. samples is not modified.
func (p *Periodogram) Compute(samples []float64) ([]float64, error) {
	if len(samples) != p.size {
		return nil, fmt.Errorf("periodogram expects %d samples, got %d", p.size, len(samples))
	}

	detrended := p.scratch
	Detrend(detrended, samples, p.ramp)
	if err := p.window.ApplyInPlace(detrended); err != nil {
		return nil, fmt.Errorf("failed to apply window: %w", err)
	}

	pxx := p.fft.PowerOneSided(detrended)
	floats.Scale(p.scale, pxx)

	// fold negative frequencies; DC and Nyquist (even size) appear once
	last := len(pxx) - 1
	if p.size%2 != 0 {
		last = len(pxx)
	}
	for k := 1; k < last; k++ {
		pxx[k] *= 2
	}
	return pxx, nil
}

// Detrend writes y minus its least squares line into dst. ramp holds the
// abscissa 0..n-1 and must have the same length as y.
func Detrend(dst, y, ramp []float64) {
	alpha, beta := stat.LinearRegression(ramp, y, nil, false)
	for i, v := range y {
		dst[i] = v - (alpha + beta*ramp[i])
	}
}

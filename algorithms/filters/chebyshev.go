package filters

import (
	"fmt"
	"math"
)

// BiquadCoefficients holds one normalized second-order section (a0 = 1).
//
// Direct Form II Transposed:
//
//	y  = B0*x + d0
//	d0 = B1*x - A1*y + d1
//	d1 = B2*x - A2*y
type BiquadCoefficients struct {
	B0, B1, B2 float64
	A1, A2     float64
}

// DCGain returns H(z=1) of the section.
func (c BiquadCoefficients) DCGain() float64 {
	return (c.B0 + c.B1 + c.B2) / (1 + c.A1 + c.A2)
}

// Biquad is one second-order section with state.
type Biquad struct {
	BiquadCoefficients

	d0, d1 float64
}

// ProcessSample filters one sample.
func (s *Biquad) ProcessSample(x float64) float64 {
	y := s.B0*x + s.d0
	s.d0 = s.B1*x - s.A1*y + s.d1
	s.d1 = s.B2*x - s.A2*y
	return y
}

// SettleTo loads the state the section would reach after an infinitely
// long constant input x0, so a block starting at x0 produces no step
// transient.
func (s *Biquad) SettleTo(x0 float64) {
	y := s.DCGain() * x0
	s.d1 = s.B2*x0 - s.A2*y
	s.d0 = y - s.B0*x0
}

// Cascade is a chain of biquad sections processed in series.
type Cascade struct {
	sections []Biquad
	gain     float64
}

// NewCascade builds a cascade. gain is applied to the input of the first section.
func NewCascade(coeffs []BiquadCoefficients, gain float64) *Cascade {
	c := &Cascade{sections: make([]Biquad, len(coeffs)), gain: gain}
	for i := range coeffs {
		c.sections[i].BiquadCoefficients = coeffs[i]
	}
	return c
}

// Order returns the filter order.
func (c *Cascade) Order() int {
	order := 0
	for _, s := range c.sections {
		if s.B2 == 0 && s.A2 == 0 {
			order++
		} else {
			order += 2
		}
	}
	return order
}

// Gain returns the overall input gain.
func (c *Cascade) Gain() float64 {
	return c.gain
}

// SettleTo puts every section in steady state for a constant input x0.
func (c *Cascade) SettleTo(x0 float64) {
	x := x0 * c.gain
	for i := range c.sections {
		c.sections[i].SettleTo(x)
		x *= c.sections[i].DCGain()
	}
}

// ProcessBlock filters buf in place.
func (c *Cascade) ProcessBlock(buf []float64) {
	for i, x := range buf {
		x *= c.gain
		for j := range c.sections {
			x = c.sections[j].ProcessSample(x)
		}
		buf[i] = x
	}
}

// ProcessBlockReverse filters buf in place from the last sample to the first.
func (c *Cascade) ProcessBlockReverse(buf []float64) {
	for i := len(buf) - 1; i >= 0; i-- {
		x := buf[i] * c.gain
		for j := range c.sections {
			x = c.sections[j].ProcessSample(x)
		}
		buf[i] = x
	}
}

// Chebyshev1LP designs a Chebyshev type I lowpass by bilinear transform of
// the analog prototype. cutoff is relative to the sample rate (0 < cutoff < 0.5),
// rippleDB is the passband ripple. Even orders have DC gain 10^(-rippleDB/20),
// which is folded into the returned gain, matching the classic design.
func Chebyshev1LP(order int, rippleDB, cutoff float64) ([]BiquadCoefficients, float64, error) {
	if order <= 0 {
		return nil, 0, fmt.Errorf("filter order must be positive, got %d", order)
	}
	if rippleDB <= 0 {
		return nil, 0, fmt.Errorf("passband ripple must be positive, got %g dB", rippleDB)
	}
	if cutoff <= 0 || cutoff >= 0.5 {
		return nil, 0, fmt.Errorf("cutoff must be in (0, 0.5) of the sample rate, got %g", cutoff)
	}

	k := math.Tan(math.Pi * cutoff)
	k2 := k * k
	eps := math.Sqrt(math.Pow(10, rippleDB/10) - 1)
	mu := math.Asinh(1/eps) / float64(order)
	sinhMu, coshMu := math.Sinh(mu), math.Cosh(mu)

	sections := make([]BiquadCoefficients, 0, (order+1)/2)
	for i := range order / 2 {
		theta := math.Pi * float64(2*i+1) / float64(2*order)
		sigma := sinhMu * math.Sin(theta)
		omega := coshMu * math.Cos(theta)
		w2 := sigma*sigma + omega*omega

		a0 := 1 + 2*sigma*k + w2*k2
		b := w2 * k2 / a0
		sections = append(sections, BiquadCoefficients{
			B0: b,
			B1: 2 * b,
			B2: b,
			A1: 2 * (w2*k2 - 1) / a0,
			A2: (1 - 2*sigma*k + w2*k2) / a0,
		})
	}

	gain := 1.0
	if order%2 != 0 {
		// real pole of the prototype
		a0 := 1 + sinhMu*k
		sections = append(sections, BiquadCoefficients{
			B0: sinhMu * k / a0,
			B1: sinhMu * k / a0,
			A1: (sinhMu*k - 1) / a0,
		})
	} else {
		gain = math.Pow(10, -rippleDB/20)
	}
	return sections, gain, nil
}

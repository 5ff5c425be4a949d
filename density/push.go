package density

import (
	"math"
)

const (
	// DecimateFactor is the rate reduction of every FIR stage.
	DecimateFactor = 2

	// SamplesLeft and SamplesRight are trimmed (before decimation) from each
	// filtered block to drop the filter edge transients. Both must be
	// divisible by DecimateFactor.
	SamplesLeft      = 128
	SamplesRight     = 128
	SamplesLeftRight = SamplesLeft + SamplesRight

	// SamplesDensity is the length of every periodogram window.
	SamplesDensity = 1 << 12

	// PeriodogramOverlap bounds the overlap of consecutive fifo-mode windows
	// and thereby the smallest push size.
	PeriodogramOverlap = 4

	// SamplesSelectMax bounds the largest push size.
	SamplesSelectMax = 1 << 16

	// PushDurationS is the wall clock duration a push should cover at any rate.
	PushDurationS = 0.5

	// UsefulPart is the fraction of the Nyquist frequency of a stage that is
	// trusted when spectra are merged.
	UsefulPart = 0.75

	// DecimationCorrection compensates the gain loss measured on the
	// decimation filter (passband ripple, applied twice).
	DecimationCorrection = 1.01

	// MaxFlushCalls bounds the drain rounds of Pipeline.Flush.
	MaxFlushCalls = 30
)

const (
	minPushSize = SamplesDensity / PeriodogramOverlap
	maxPushSize = SamplesSelectMax / 2
)

// PushCalculator holds the block sizes of a stage running at DtS.
type PushCalculator struct {
	DtS float64

	// PushSizeSamples is the block size at this rate.
	PushSizeSamples int
	// PreviousFirSamplesSelect is the number of new samples the upstream FIR
	// stage consumes to produce one block.
	PreviousFirSamplesSelect int
	// PreviousFirSamplesInput is PreviousFirSamplesSelect plus the trimmed
	// filter edges: the length actually run through the decimation filter.
	PreviousFirSamplesInput int
}

// NewPushCalculator computes the block sizes for a stage sampled every dtS seconds.
func NewPushCalculator(dtS float64) PushCalculator {
	push := pushSize(dtS)
	return PushCalculator{
		DtS:                      dtS,
		PushSizeSamples:          push,
		PreviousFirSamplesSelect: push * DecimateFactor,
		PreviousFirSamplesInput:  push*DecimateFactor + SamplesLeftRight,
	}
}

func pushSize(dtS float64) int {
	reference := PushDurationS / dtS
	if math.IsNaN(reference) || reference <= minPushSize {
		return minPushSize
	}
	if math.IsInf(reference, 1) || reference >= maxPushSize {
		return maxPushSize
	}
	push := 1 << int(math.Round(math.Log2(reference)))
	return min(max(push, minPushSize), maxPushSize)
}

package density

import (
	"fmt"
	"math"
	"strings"
)

// WarmupPolicy decides what a FIR stage filters in front of the first real
// samples, where no history exists yet. The samples it fabricates travel
// down the cascade; density stages skip them using VirtualSamples.
type WarmupPolicy interface {
	// Prefix returns the samples placed in front of first, or nil.
	Prefix(first []float64, n int) []float64
	// VirtualSamples is the number of fabricated samples at the head of the
	// stream seen by the density stage at index stage.
	VirtualSamples(stage int) int
	Name() string
}

// ParseWarmup maps a configuration name to a policy.
func ParseWarmup(name string) (WarmupPolicy, error) {
	switch strings.ToLower(name) {
	case "", "mirror":
		return MirrorWarmup{}, nil
	case "zero":
		return ZeroWarmup{}, nil
	case "discard":
		return DiscardWarmup{}, nil
	default:
		return nil, fmt.Errorf("unknown warmup policy %q", name)
	}
}

// MirrorWarmup prefixes the first samples in reverse order. The first
// windows of every stage after the first carry a short transient.
type MirrorWarmup struct{}

func (MirrorWarmup) Prefix(first []float64, n int) []float64 {
	prefix := make([]float64, n)
	if len(first) == 0 {
		return prefix
	}
	for i := range prefix {
		prefix[i] = first[min(n-1-i, len(first)-1)]
	}
	return prefix
}

func (MirrorWarmup) VirtualSamples(stage int) int {
	return virtualSamples(stage)
}

func (MirrorWarmup) Name() string { return "mirror" }

// ZeroWarmup prefixes zeros.
type ZeroWarmup struct{}

func (ZeroWarmup) Prefix(_ []float64, n int) []float64 {
	return make([]float64, n)
}

func (ZeroWarmup) VirtualSamples(stage int) int {
	return virtualSamples(stage)
}

func (ZeroWarmup) Name() string { return "zero" }

// DiscardWarmup fabricates nothing: a FIR stage waits until real samples
// fill its first filter block, so every stage starts one block later.
type DiscardWarmup struct{}

func (DiscardWarmup) Prefix(_ []float64, _ int) []float64 { return nil }

func (DiscardWarmup) VirtualSamples(int) int { return 0 }

func (DiscardWarmup) Name() string { return "discard" }

// virtualSamples is SamplesLeft - SamplesLeft/DecimateFactor^stage: every
// FIR stage contributes SamplesLeft/DecimateFactor prefix samples at its
// output, halved again by each following stage.
func virtualSamples(stage int) int {
	if stage <= 0 {
		return 0
	}
	scale := math.Pow(DecimateFactor, float64(stage))
	return SamplesLeft - int(float64(SamplesLeft)/scale)
}

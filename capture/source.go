package capture

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"strconv"
	"time"

	"gonum.org/v1/gonum/stat/distuv"
)

// Source produces sample blocks into a Sink until ctx is cancelled, the
// sink refuses a block, or the source is exhausted (nil error).
type Source interface {
	Run(ctx context.Context, sink Sink) error
}

// SyntheticSource emits OffsetV + AmplitudeV*sin(2π FrequencyHz t) plus
// white noise with a one-sided density of NoiseVrtHz.
type SyntheticSource struct {
	DtS         float64
	BlockSize   int
	AmplitudeV  float64
	FrequencyHz float64
	NoiseVrtHz  float64
	OffsetV     float64
	Seed        uint64
	// Realtime paces blocks at the sampling rate and never waits for the
	// consumer, like an instrument would.
	Realtime bool
	// Limit stops the source after this many samples; zero runs until cancelled.
	Limit int64
}

// NoiseSigma is the per-sample standard deviation giving a one-sided
// density of densityVrtHz at sample interval dtS.
func NoiseSigma(densityVrtHz, dtS float64) float64 {
	return densityVrtHz / math.Sqrt(2*dtS)
}

func (s *SyntheticSource) Run(ctx context.Context, sink Sink) error {
	if !(s.DtS > 0) || s.BlockSize <= 0 {
		return fmt.Errorf("synthetic source needs dt_s > 0 and block size > 0, got %g and %d", s.DtS, s.BlockSize)
	}
	noise := distuv.Normal{
		Mu:    0,
		Sigma: NoiseSigma(s.NoiseVrtHz, s.DtS),
		Src:   rand.NewPCG(s.Seed, s.Seed^0x9e3779b97f4a7c15),
	}

	var ticker *time.Ticker
	if s.Realtime {
		period := time.Duration(float64(s.BlockSize) * s.DtS * float64(time.Second))
		ticker = time.NewTicker(max(period, time.Millisecond))
		defer ticker.Stop()
	}

	var n int64
	for s.Limit == 0 || n < s.Limit {
		size := s.BlockSize
		if s.Limit > 0 {
			size = int(min(int64(size), s.Limit-n))
		}
		block := make([]float64, size)
		for i := range block {
			t := float64(n+int64(i)) * s.DtS
			block[i] = s.OffsetV + s.AmplitudeV*math.Sin(2*math.Pi*s.FrequencyHz*t)
			if noise.Sigma > 0 {
				block[i] += noise.Rand()
			}
		}
		n += int64(size)

		if s.Realtime {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
			if !sink.Put(block) {
				return ErrQueueFull
			}
			continue
		}
		if err := sink.PutWait(ctx, block); err != nil {
			return err
		}
	}
	return nil
}

// ReaderSource parses whitespace separated voltages, e.g. from stdin.
type ReaderSource struct {
	Reader    io.Reader
	BlockSize int
}

func (s *ReaderSource) Run(ctx context.Context, sink Sink) error {
	if s.BlockSize <= 0 {
		return fmt.Errorf("reader source needs block size > 0, got %d", s.BlockSize)
	}
	scanner := bufio.NewScanner(s.Reader)
	scanner.Split(bufio.ScanWords)

	block := make([]float64, 0, s.BlockSize)
	flush := func() error {
		if len(block) == 0 {
			return nil
		}
		err := sink.PutWait(ctx, block)
		block = make([]float64, 0, s.BlockSize)
		return err
	}

	for scanner.Scan() {
		v, err := strconv.ParseFloat(scanner.Text(), 64)
		if err != nil {
			return fmt.Errorf("failed to parse sample %q: %w", scanner.Text(), err)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("failed to parse sample %q: %w", scanner.Text(), ErrNonFinite)
		}
		block = append(block, v)
		if len(block) == s.BlockSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read samples: %w", err)
	}
	return flush()
}

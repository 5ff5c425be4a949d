package density

import (
	"fmt"

	"gonum.org/v1/gonum/floats"

	"github.com/RyanBlaney/sonido-density/algorithms/filters"
	"github.com/RyanBlaney/sonido-density/logging"
)

// FIR low-pass filters and decimates its input by DecimateFactor.
//
// Blocks of PreviousFirSamplesInput samples are filtered; the decimated
// result loses SamplesLeft/DecimateFactor samples at the front and
// SamplesRight/DecimateFactor at the back, so consecutive outputs join
// without gaps while the input window advances by PreviousFirSamplesSelect.
type FIR struct {
	env    *Env
	logger logging.Logger

	in        Rate
	push      PushCalculator
	decimator *filters.Decimator

	buf     []float64
	started bool

	samplesIn  int64
	samplesOut int64
}

// NewFIR creates an uninitialized FIR stage.
func NewFIR(env *Env) *FIR {
	return &FIR{env: env.withDefaults()}
}

func (f *FIR) Init(in Rate) (Rate, error) {
	decimator, err := filters.NewDecimator(DecimateFactor)
	if err != nil {
		return Rate{}, fmt.Errorf("fir stage %d: %w", in.Stage, err)
	}

	f.in = in
	f.push = NewPushCalculator(in.DtS * DecimateFactor)
	f.decimator = decimator
	f.buf = make([]float64, 0, f.push.PreviousFirSamplesInput+f.push.PreviousFirSamplesSelect)
	f.logger = f.env.Logger.WithFields(logging.Fields{
		"component": "fir",
		"stage":     in.Stage,
	})
	f.logger.Debug("Initialized", logging.Fields{
		"dt_s":         in.DtS,
		"push_size":    f.push.PushSizeSamples,
		"input_size":   f.push.PreviousFirSamplesInput,
		"select_size":  f.push.PreviousFirSamplesSelect,
		"warmup":       f.env.Warmup.Name(),
		"decimated_dt": f.push.DtS,
	})

	return Rate{Stage: in.Stage + 1, DtS: f.push.DtS}, nil
}

// PushCalculator returns the block sizes at the decimated rate.
func (f *FIR) PushCalculator() PushCalculator {
	return f.push
}

func (f *FIR) Push(samples []float64) ([][]float64, Status, error) {
	if f.decimator == nil {
		return nil, StatusFailed, ErrUninitialized
	}
	if samples == nil {
		return f.decimate(), StatusContinue, nil
	}
	if len(samples) == 0 || f.push.PreviousFirSamplesSelect%len(samples) != 0 {
		panic(fmt.Sprintf("fir stage %d: push of %d samples does not divide select size %d",
			f.in.Stage, len(samples), f.push.PreviousFirSamplesSelect))
	}

	if !f.started {
		f.started = true
		f.buf = append(f.buf, f.env.Warmup.Prefix(samples, SamplesLeftRight)...)
	}
	f.buf = append(f.buf, samples...)
	f.samplesIn += int64(len(samples))

	return f.decimate(), StatusContinue, nil
}

// decimate filters one block if enough samples are buffered.
func (f *FIR) decimate() [][]float64 {
	if !f.Pending() {
		return nil
	}

	filtered := f.decimator.Decimate(f.buf[:f.push.PreviousFirSamplesInput])
	out := filtered[SamplesLeft/DecimateFactor : len(filtered)-SamplesRight/DecimateFactor]
	floats.Scale(DecimationCorrection, out)

	n := copy(f.buf, f.buf[f.push.PreviousFirSamplesSelect:])
	f.buf = f.buf[:n]
	f.samplesOut += int64(len(out))

	return [][]float64{out}
}

func (f *FIR) Pending() bool {
	return len(f.buf) >= f.push.PreviousFirSamplesInput && len(f.buf) > SamplesLeftRight
}

func (f *FIR) Done() error {
	if f.logger != nil {
		f.logger.Info("Done", logging.Fields{
			"samples_in":  f.samplesIn,
			"samples_out": f.samplesOut,
			"buffered":    len(f.buf),
		})
	}
	return nil
}

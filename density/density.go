package density

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/RyanBlaney/sonido-density/algorithms/spectral"
	"github.com/RyanBlaney/sonido-density/algorithms/stats"
	"github.com/RyanBlaney/sonido-density/logging"
	"github.com/RyanBlaney/sonido-density/spectrumfile"
)

// DensityOptions configures a density stage.
type DensityOptions struct {
	Stepname        string
	FirCountSkipped int
	// SaveInterval throttles persisting; zero saves after every periodogram.
	SaveInterval time.Duration
}

// Density averages periodograms of the samples flowing through it and
// persists the running average. Samples are passed downstream unchanged.
//
// In fifo mode (push size below SamplesDensity) windows overlap by
// SamplesDensity/push size; in direct mode every push is cut into
// SamplesDensity windows.
type Density struct {
	env    *Env
	opts   DensityOptions
	logger logging.Logger

	in          Rate
	push        PushCalculator
	fifo        bool
	periodogram *spectral.Periodogram
	stepsize    *stats.StepsizeClassifier

	buf     []float64
	started bool

	pxxSum    []float64
	pxxN      int
	lastWin   []float64
	lastSave  time.Time
	unsaved   bool
	samplesIn int64
	rejected  int
}

// NewDensity creates an uninitialized density stage.
func NewDensity(env *Env, opts DensityOptions) *Density {
	return &Density{env: env.withDefaults(), opts: opts}
}

func (d *Density) Init(in Rate) (Rate, error) {
	periodogram, err := spectral.NewPeriodogram(SamplesDensity, in.DtS)
	if err != nil {
		return Rate{}, fmt.Errorf("density stage %d: %w", in.Stage, err)
	}

	d.in = in
	d.push = NewPushCalculator(in.DtS)
	d.fifo = d.push.PushSizeSamples < SamplesDensity
	d.periodogram = periodogram
	d.stepsize = stats.NewStepsizeClassifier()
	d.pxxSum = make([]float64, len(periodogram.Frequencies()))
	d.lastWin = make([]float64, SamplesDensity)
	if d.fifo {
		d.buf = make([]float64, 0, SamplesDensity+d.push.PushSizeSamples)
	}
	d.logger = d.env.Logger.WithFields(logging.Fields{
		"component": "density",
		"stage":     in.Stage,
		"step":      d.opts.Stepname,
	})
	d.logger.Debug("Initialized", logging.Fields{
		"dt_s":      in.DtS,
		"push_size": d.push.PushSizeSamples,
		"fifo":      d.fifo,
		"skip":      d.Skip(),
	})

	return in, nil
}

// Skip reports whether this stage is excluded from default aggregation.
func (d *Density) Skip() bool {
	return d.in.Stage < d.opts.FirCountSkipped
}

// FifoMode reports whether windows are collected across pushes.
func (d *Density) FifoMode() bool {
	return d.fifo
}

// PushCalculator returns the block sizes at this stage's rate.
func (d *Density) PushCalculator() PushCalculator {
	return d.push
}

// Count returns the number of periodograms averaged so far.
func (d *Density) Count() int {
	return d.pxxN
}

// Average returns PxxSum/PxxN, or nil before the first periodogram.
func (d *Density) Average() []float64 {
	if d.pxxN == 0 {
		return nil
	}
	avg := make([]float64, len(d.pxxSum))
	floats.ScaleTo(avg, 1/float64(d.pxxN), d.pxxSum)
	return avg
}

func (d *Density) Push(samples []float64) ([][]float64, Status, error) {
	if d.periodogram == nil {
		return nil, StatusFailed, ErrUninitialized
	}
	if samples == nil {
		if d.Pending() {
			if err := d.window(d.buf[:SamplesDensity]); err != nil {
				return nil, StatusFailed, err
			}
			d.shift()
		}
		return nil, StatusContinue, nil
	}

	d.samplesIn += int64(len(samples))
	d.env.Observer.SamplesIn(d.in.Stage, len(samples))

	var err error
	if d.fifo {
		err = d.pushFifo(samples)
	} else {
		err = d.pushDirect(samples)
	}
	if err != nil {
		return nil, StatusFailed, err
	}
	return [][]float64{samples}, StatusContinue, nil
}

func (d *Density) pushFifo(samples []float64) error {
	if !d.started {
		d.started = true
		skip := min(d.env.Warmup.VirtualSamples(d.in.Stage), len(samples))
		samples = samples[skip:]
	}
	d.buf = append(d.buf, samples...)

	if !d.Pending() {
		return nil
	}
	if err := d.window(d.buf[:SamplesDensity]); err != nil {
		return err
	}
	d.shift()
	return nil
}

func (d *Density) shift() {
	n := copy(d.buf, d.buf[d.push.PushSizeSamples:])
	d.buf = d.buf[:n]
}

func (d *Density) pushDirect(samples []float64) error {
	if len(samples)%SamplesDensity != 0 {
		panic(fmt.Sprintf("density stage %d: direct mode push of %d samples is not a multiple of %d",
			d.in.Stage, len(samples), SamplesDensity))
	}
	for start := 0; start < len(samples); start += SamplesDensity {
		if err := d.window(samples[start : start+SamplesDensity]); err != nil {
			return err
		}
	}
	return nil
}

// window adds the periodogram of exactly SamplesDensity samples to the average.
func (d *Density) window(samples []float64) error {
	if !allFinite(samples) {
		d.rejected++
		d.logger.Warn("Window with non-finite samples dropped", logging.Fields{
			"rejected": d.rejected,
			"pxx_n":    d.pxxN,
		})
		return nil
	}
	pxx, err := d.periodogram.Compute(samples)
	if err != nil {
		return fmt.Errorf("density stage %d: %w", d.in.Stage, err)
	}

	floats.Add(d.pxxSum, pxx)
	d.pxxN++
	d.stepsize.Add(samples)
	copy(d.lastWin, samples)
	d.unsaved = true
	d.env.Observer.Periodogram(d.in.Stage)

	now := d.env.Now()
	if d.opts.SaveInterval > 0 && now.Sub(d.lastSave) < d.opts.SaveInterval {
		return nil
	}
	return d.save(now)
}

func allFinite(samples []float64) bool {
	for _, v := range samples {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Rejected returns the number of windows dropped for non-finite samples.
func (d *Density) Rejected() int {
	return d.rejected
}

// Record returns the persisted form of the current state.
func (d *Density) Record() *spectrumfile.Record {
	return &spectrumfile.Record{
		Stepname:          d.opts.Stepname,
		Stage:             d.in.Stage,
		DtS:               d.in.DtS,
		Frequencies:       append([]float64(nil), d.periodogram.Frequencies()...),
		PxxN:              d.pxxN,
		PxxSum:            append([]float64(nil), d.pxxSum...),
		Skip:              d.Skip(),
		StepsizeBinsCount: d.stepsize.Counts(),
		StepsizeBinsV:     d.stepsize.BinsV(),
		SamplesV:          append([]float64(nil), d.lastWin...),
	}
}

func (d *Density) save(now time.Time) error {
	d.lastSave = now
	d.unsaved = false
	if d.env.Store == nil {
		return nil
	}
	if err := d.env.Store.Save(d.Record()); err != nil {
		return fmt.Errorf("density stage %d: failed to save spectrum: %w", d.in.Stage, err)
	}
	d.env.Observer.Saved(d.in.Stage)
	return nil
}

func (d *Density) Pending() bool {
	return d.fifo && len(d.buf) >= SamplesDensity
}

func (d *Density) Done() error {
	if d.periodogram == nil {
		return nil
	}
	d.logger.Info("Done", logging.Fields{
		"samples_in": d.samplesIn,
		"pxx_n":      d.pxxN,
	})
	if !d.unsaved {
		return nil
	}
	return d.save(d.env.Now())
}

// Package capture runs the configured acquisition steps: a producer
// goroutine fills a bounded queue, one worker drives the density pipeline.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/RyanBlaney/sonido-density/aggregate"
	"github.com/RyanBlaney/sonido-density/config"
	"github.com/RyanBlaney/sonido-density/density"
	"github.com/RyanBlaney/sonido-density/logging"
	"github.com/RyanBlaney/sonido-density/spectrumfile"
)

// SourceFactory creates the producer for one step.
type SourceFactory func(step config.StepConfig) (Source, error)

// Options are the collaborators of a Runner. Zero values get defaults.
type Options struct {
	Logger     logging.Logger
	Controller density.Controller
	Metrics    *Metrics
	Sources    SourceFactory
	RunID      string
	Now        func() time.Time
}

// Runner executes the steps of a configuration in order.
type Runner struct {
	cfg     *config.Config
	logger  logging.Logger
	control density.Controller
	metrics *Metrics
	sources SourceFactory
	store   *spectrumfile.Store
	runID   string
	now     func() time.Time
}

// Result summarizes a finished run.
type Result struct {
	RunID string
	// Steps lists the steps that ran to completion.
	Steps []string
	// StoppedSoft is set when the operator ended the run early.
	StoppedSoft bool
	Summary     *aggregate.Summary
	SummaryPath string
}

// StepEnd tells how a step finished without error.
type StepEnd int

const (
	StepCompleted StepEnd = iota
	StepSettled
	StepStoppedSoft
	StepExhausted
)

// NewRunner validates cfg and prepares the capture directory.
func NewRunner(cfg *config.Config, opts Options) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	store, err := spectrumfile.NewStore(cfg.Storage.Dir, cfg.Storage.Compress)
	if err != nil {
		return nil, err
	}

	r := &Runner{
		cfg:     cfg,
		logger:  opts.Logger,
		control: opts.Controller,
		metrics: opts.Metrics,
		sources: opts.Sources,
		store:   store,
		runID:   opts.RunID,
		now:     opts.Now,
	}
	if r.runID == "" {
		r.runID = uuid.NewString()
	}
	if r.logger == nil {
		r.logger = logging.GetGlobalLogger()
	}
	r.logger = r.logger.WithFields(logging.Fields{"run_id": r.runID})
	if r.control == nil {
		fc := NewFileController(cfg.ControllerDir(), cfg.PollInterval(), r.logger)
		if err := fc.Reset(); err != nil {
			return nil, fmt.Errorf("failed to prepare controller directory: %w", err)
		}
		r.control = fc
	}
	if r.sources == nil {
		r.sources = DefaultSources(cfg.Capture, os.Stdin)
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r, nil
}

// DefaultSources builds the source selected by capture.source.
func DefaultSources(c config.CaptureConfig, stdin io.Reader) SourceFactory {
	return func(step config.StepConfig) (Source, error) {
		switch c.Source {
		case "synthetic":
			return &SyntheticSource{
				DtS:         step.DtS,
				BlockSize:   c.BlockSize,
				AmplitudeV:  c.Synthetic.AmplitudeV,
				FrequencyHz: c.Synthetic.FrequencyHz,
				NoiseVrtHz:  c.Synthetic.NoiseVrtHz,
				OffsetV:     c.Synthetic.OffsetV,
				Seed:        c.Synthetic.Seed,
				Realtime:    c.Synthetic.Realtime,
			}, nil
		case "stdin":
			return &ReaderSource{Reader: stdin, BlockSize: c.BlockSize}, nil
		default:
			return nil, fmt.Errorf("unknown capture source %q", c.Source)
		}
	}
}

// RunID identifies this run in logs and in the summary.
func (r *Runner) RunID() string {
	return r.runID
}

// Run executes every step, then aggregates the capture directory if
// configured. A soft stop ends the run early without error.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	res := &Result{RunID: r.runID}
	r.logger.Info("Run started", logging.Fields{
		"steps": len(r.cfg.Steps),
		"dir":   r.cfg.Storage.Dir,
	})

	for _, step := range r.cfg.Steps {
		var end StepEnd
		var err error
		if step.Settle {
			end, err = r.RunSettle(ctx, step)
		} else {
			end, err = r.RunCapture(ctx, step)
		}
		if err != nil {
			r.metrics.stepDone("failed")
			return res, fmt.Errorf("step %s: %w", step.Name, err)
		}
		r.metrics.stepDone("ok")
		res.Steps = append(res.Steps, step.Name)
		if end == StepStoppedSoft {
			res.StoppedSoft = true
			break
		}
	}

	if r.cfg.Capture.Aggregate {
		summary, path, err := r.Aggregate()
		if err != nil {
			return res, err
		}
		res.Summary, res.SummaryPath = summary, path
	}
	r.logger.Info("Run finished", logging.Fields{"steps_done": len(res.Steps)})
	return res, nil
}

// Aggregate merges the spectra written so far into the summary file.
func (r *Runner) Aggregate() (*aggregate.Summary, string, error) {
	series, err := aggregate.ParseSeries(r.cfg.Capture.Series)
	if err != nil {
		return nil, "", err
	}
	summary, err := aggregate.NewAggregator(
		aggregate.WithSeries(series),
		aggregate.WithLogger(r.logger),
	).Aggregate(r.cfg.Storage.Dir)
	if err != nil {
		return nil, "", fmt.Errorf("failed to aggregate: %w", err)
	}
	summary.RunID = r.runID

	path, err := aggregate.Write(r.cfg.Storage.Dir, summary, r.cfg.Storage.Compress)
	if err != nil {
		return nil, "", err
	}
	r.logger.Info("Summary written", logging.Fields{
		"file":   path,
		"points": len(summary.Points),
	})
	return summary, path, nil
}

func (r *Runner) env(step config.StepConfig) (*density.Env, error) {
	warmup, err := density.ParseWarmup(step.Warmup)
	if err != nil {
		return nil, err
	}
	return &density.Env{
		Logger:   r.logger.WithFields(logging.Fields{"step": step.Name}),
		Control:  r.control,
		Store:    r.store,
		Observer: r.metrics,
		Warmup:   warmup,
		Now:      r.now,
	}, nil
}

// RunSettle waits until the input settles. It fails with ErrSettleFailed
// when the step duration elapses first.
func (r *Runner) RunSettle(ctx context.Context, step config.StepConfig) (StepEnd, error) {
	env, err := r.env(step)
	if err != nil {
		return 0, err
	}
	p, err := density.NewSettlePipeline(env, step.Name, step.DtS, step.SettleOptions())
	if err != nil {
		return 0, err
	}
	defer p.Done()

	if sc, ok := r.control.(interface{ ResetSkipSettle() }); ok {
		defer sc.ResetSkipSettle()
	}

	end, status, err := r.drive(ctx, step, p, false)
	if err != nil {
		return end, err
	}
	switch {
	case end == StepStoppedSoft:
		return end, nil
	case status == density.StatusSettled:
		return StepSettled, nil
	default:
		return end, fmt.Errorf("%w after %.1fs", ErrSettleFailed, step.DurationS)
	}
}

// RunCapture streams step.DurationS seconds of samples through a density
// pipeline and persists the per-stage spectra.
func (r *Runner) RunCapture(ctx context.Context, step config.StepConfig) (StepEnd, error) {
	env, err := r.env(step)
	if err != nil {
		return 0, err
	}
	p, err := density.NewPipeline(env, step.PipelineOptions(r.cfg.Storage))
	if err != nil {
		return 0, err
	}

	end, _, err := r.drive(ctx, step, p, true)
	if err != nil {
		// Whatever was averaged so far is still worth keeping, except on
		// a hard stop.
		if !errors.Is(err, ErrStopHard) {
			if doneErr := p.Done(); doneErr != nil {
				r.logger.Error(doneErr, "Failed to save spectra")
			}
		}
		return end, err
	}

	if err := p.Flush(); err != nil {
		return end, err
	}
	if err := p.Done(); err != nil {
		return end, fmt.Errorf("failed to finish pipeline: %w", err)
	}
	return end, nil
}

// drive runs the producer in its own goroutine and pushes every block it
// queues through p until the step ends.
func (r *Runner) drive(ctx context.Context, step config.StepConfig, p *density.Pipeline, bounded bool) (StepEnd, density.Status, error) {
	source, err := r.sources(step)
	if err != nil {
		return 0, density.StatusFailed, err
	}

	ctx, cancel := context.WithCancel(ctx)
	queue := NewQueue(r.cfg.Queue.SoftMax, r.cfg.Queue.HardMax, r.logger, r.metrics)
	var wg sync.WaitGroup
	var sourceErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer queue.Close()
		sourceErr = source.Run(ctx, queue)
	}()
	// Cancel before waiting: the producer may be blocked in PutWait.
	defer wg.Wait()
	defer cancel()

	logger := r.logger.WithFields(logging.Fields{"step": step.Name})
	logger.Info("Step started", logging.Fields{
		"settle":     step.Settle,
		"dt_s":       step.DtS,
		"duration_s": step.DurationS,
	})

	total := int64(math.Round(step.DurationS / step.DtS))
	var consumed int64
	for {
		block, err := queue.Get(ctx)
		switch {
		case errors.Is(err, io.EOF):
			cancel()
			wg.Wait()
			if sourceErr != nil && !errors.Is(sourceErr, context.Canceled) {
				return 0, p.Status(), fmt.Errorf("sample source failed: %w", sourceErr)
			}
			logger.Warn("Source exhausted", logging.Fields{"samples": consumed})
			return StepExhausted, p.Status(), nil
		case err != nil:
			return 0, density.StatusFailed, err
		}

		if r.control.RequestedStopHard() {
			return 0, p.Status(), ErrStopHard
		}
		if r.control.RequestedStopSoft() {
			logger.Info("Soft stop", logging.Fields{"samples": consumed})
			return StepStoppedSoft, p.Status(), nil
		}

		if bounded && consumed+int64(len(block)) > total {
			block = block[:total-consumed]
		}
		start := r.now()
		status, err := p.Push(block)
		r.metrics.observePush(r.now().Sub(start))
		if err != nil {
			return 0, status, err
		}
		consumed += int64(len(block))

		if bounded {
			r.control.UpdateStatus(fmt.Sprintf("%s: %.1fs of %.1fs captured (run %s)",
				step.Name, float64(consumed)*step.DtS, step.DurationS, r.runID))
		}
		if status != density.StatusContinue {
			logger.Info("Step ended", logging.Fields{"status": status.String()})
			return StepCompleted, status, nil
		}
		if bounded && consumed >= total {
			logger.Info("Step completed", logging.Fields{"samples": consumed})
			return StepCompleted, status, nil
		}
	}
}

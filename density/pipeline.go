package density

import (
	"errors"
	"fmt"
	"time"

	"github.com/RyanBlaney/sonido-density/logging"
)

// ErrPipelineDone is returned when a pipeline is pushed after Done.
var ErrPipelineDone = errors.New("pipeline already done")

// StepOptions describes one capture step.
type StepOptions struct {
	Name string
	DtS  float64
	// FirCount is the number of density stages; FirCount-1 FIR stages sit
	// between them.
	FirCount int
	// FirCountSkipped marks the first stages as unreliable.
	FirCountSkipped int
	SaveInterval    time.Duration
}

func (o StepOptions) validate() error {
	switch {
	case o.Name == "":
		return errors.New("step name is empty")
	case !(o.DtS > 0):
		return fmt.Errorf("step %s: dt_s must be positive, got %g", o.Name, o.DtS)
	case o.FirCount < 1:
		return fmt.Errorf("step %s: fir_count must be at least 1, got %d", o.Name, o.FirCount)
	case o.FirCountSkipped < 0:
		return fmt.Errorf("step %s: fir_count_skipped must not be negative, got %d", o.Name, o.FirCountSkipped)
	}
	return nil
}

type pipelineState int

const (
	stateStreaming pipelineState = iota
	stateDrained
	stateDone
)

// Pipeline is an ordered chain of stages driven by a single goroutine.
// Blocks returned by stage i are pushed into stage i+1; blocks returned by
// the last stage are dropped.
type Pipeline struct {
	env    *Env
	logger logging.Logger
	stages []Stage

	state  pipelineState
	status Status
}

// NewPipeline builds Reblocker → Density0 → FIR0 → Density1 → … →
// Density(FirCount-1) for a capture step and initializes it at rate
// (0, step.DtS).
func NewPipeline(env *Env, step StepOptions) (*Pipeline, error) {
	if err := step.validate(); err != nil {
		return nil, err
	}
	env = env.withDefaults()

	stages := []Stage{NewReblocker(env)}
	for stage := 0; stage < step.FirCount; stage++ {
		stages = append(stages, NewDensity(env, DensityOptions{
			Stepname:        step.Name,
			FirCountSkipped: step.FirCountSkipped,
			SaveInterval:    step.SaveInterval,
		}))
		if stage < step.FirCount-1 {
			stages = append(stages, NewFIR(env))
		}
	}

	return newPipeline(env, step.Name, step.DtS, stages)
}

// NewSettlePipeline builds the settle phase of a step. Settle takes blocks of
// any length, so it sees every producer block as soon as it arrives.
func NewSettlePipeline(env *Env, name string, dtS float64, opts SettleOptions) (*Pipeline, error) {
	if !(dtS > 0) {
		return nil, fmt.Errorf("settle %s: dt_s must be positive, got %g", name, dtS)
	}
	env = env.withDefaults()
	return newPipeline(env, name, dtS, []Stage{NewSettle(env, opts)})
}

func newPipeline(env *Env, name string, dtS float64, stages []Stage) (*Pipeline, error) {
	p := &Pipeline{
		env:    env,
		stages: stages,
		logger: env.Logger.WithFields(logging.Fields{
			"component": "pipeline",
			"step":      name,
		}),
	}

	rate := Rate{Stage: 0, DtS: dtS}
	for i, s := range stages {
		next, err := s.Init(rate)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize stage %d of %s: %w", i, name, err)
		}
		rate = next
	}

	p.logger.Debug("Pipeline built", logging.Fields{
		"stages":     len(stages),
		"dt_s":       dtS,
		"final_dt_s": rate.DtS,
	})
	return p, nil
}

// Stages returns the chain in push order.
func (p *Pipeline) Stages() []Stage {
	return p.stages
}

// Densities returns the density stages, fastest first.
func (p *Pipeline) Densities() []*Density {
	var out []*Density
	for _, s := range p.stages {
		if d, ok := s.(*Density); ok {
			out = append(out, d)
		}
	}
	return out
}

// Status returns the terminal status reported by a stage, or StatusContinue.
func (p *Pipeline) Status() Status {
	return p.status
}

// Push feeds one producer block through the chain.
func (p *Pipeline) Push(samples []float64) (Status, error) {
	if p.state == stateDone {
		return StatusFailed, ErrPipelineDone
	}
	if samples == nil {
		return p.status, p.Flush()
	}
	if p.status != StatusContinue {
		return p.status, nil
	}
	p.state = stateStreaming
	if err := p.pushFrom(0, samples); err != nil {
		p.status = StatusFailed
		return p.status, err
	}
	return p.status, nil
}

func (p *Pipeline) pushFrom(i int, samples []float64) error {
	out, status, err := p.stages[i].Push(samples)
	if err != nil {
		return err
	}
	if status != StatusContinue && p.status == StatusContinue {
		p.status = status
	}
	if i+1 >= len(p.stages) {
		return nil
	}
	for _, block := range out {
		if err := p.pushFrom(i+1, block); err != nil {
			return err
		}
	}
	return nil
}

// Pending reports whether any stage could make progress without new input.
func (p *Pipeline) Pending() bool {
	for _, s := range p.stages {
		if s.Pending() {
			return true
		}
	}
	return false
}

// Flush sends drain requests through the chain until no stage has pending
// work, for at most MaxFlushCalls rounds.
func (p *Pipeline) Flush() error {
	if p.state == stateDone {
		return ErrPipelineDone
	}

	rounds := 0
	for ; rounds < MaxFlushCalls && p.Pending(); rounds++ {
		for i, s := range p.stages {
			out, _, err := s.Push(nil)
			if err != nil {
				return fmt.Errorf("failed to drain stage %d: %w", i, err)
			}
			if i+1 >= len(p.stages) {
				continue
			}
			for _, block := range out {
				if err := p.pushFrom(i+1, block); err != nil {
					return fmt.Errorf("failed to drain stage %d: %w", i, err)
				}
			}
		}
	}

	if p.Pending() {
		p.logger.Warn("Flush stopped with pending work", logging.Fields{"rounds": rounds})
	} else {
		p.logger.Debug("Flushed", logging.Fields{"rounds": rounds})
	}
	p.state = stateDrained
	return nil
}

// Done ends the stream for every stage. The pipeline cannot be used afterwards.
func (p *Pipeline) Done() error {
	if p.state == stateDone {
		return nil
	}
	p.state = stateDone

	var errs []error
	for i, s := range p.stages {
		if err := s.Done(); err != nil {
			errs = append(errs, fmt.Errorf("stage %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

package density

import (
	"errors"
	"time"

	"github.com/RyanBlaney/sonido-density/logging"
	"github.com/RyanBlaney/sonido-density/spectrumfile"
)

// Status is returned by every push to tell the driving loop whether to go on.
type Status int

const (
	StatusContinue Status = iota
	StatusSettled
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusContinue:
		return "continue"
	case StatusSettled:
		return "settled"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ErrUninitialized is returned when a pipeline is used before it was built.
var ErrUninitialized = errors.New("stage used before initialization")

// Rate identifies a position in the decimation cascade.
type Rate struct {
	Stage int
	DtS   float64
}

// Stage is one element of a pipeline. The pipeline initializes stages in
// order, handing the rate returned by one stage to the next, and forwards
// every block a stage returns from Push to the following stage.
type Stage interface {
	// Init binds the stage to its input rate and returns the rate of its output.
	Init(in Rate) (Rate, error)
	// Push consumes a block and returns the blocks for the next stage. A nil
	// block is a drain request: the stage works off at most one pending
	// block without new input.
	Push(samples []float64) ([][]float64, Status, error)
	// Pending reports whether a drain request would produce work.
	Pending() bool
	// Done is called once at end of stream.
	Done() error
}

// Controller is the operator side of a capture: stop requests and a status line.
type Controller interface {
	RequestedStopSoft() bool
	RequestedStopHard() bool
	RequestedSkipSettle() bool
	UpdateStatus(text string)
}

// RecordStore persists per-stage spectra.
type RecordStore interface {
	Save(rec *spectrumfile.Record) error
}

// Observer receives pipeline events, typically to feed metrics.
type Observer interface {
	SamplesIn(stage int, n int)
	Periodogram(stage int)
	Saved(stage int)
}

// Env carries the collaborators shared by all stages of one capture run.
// Nil fields are replaced by inert defaults when a pipeline is built.
type Env struct {
	Logger   logging.Logger
	Control  Controller
	Store    RecordStore
	Observer Observer
	Warmup   WarmupPolicy
	Now      func() time.Time
}

func (e *Env) withDefaults() *Env {
	out := Env{}
	if e != nil {
		out = *e
	}
	if out.Logger == nil {
		out.Logger = &logging.NoOpLogger{}
	}
	if out.Control == nil {
		out.Control = nopController{}
	}
	if out.Observer == nil {
		out.Observer = nopObserver{}
	}
	if out.Warmup == nil {
		out.Warmup = MirrorWarmup{}
	}
	if out.Now == nil {
		out.Now = time.Now
	}
	return &out
}

type nopController struct{}

func (nopController) RequestedStopSoft() bool   { return false }
func (nopController) RequestedStopHard() bool   { return false }
func (nopController) RequestedSkipSettle() bool { return false }
func (nopController) UpdateStatus(string)       {}

type nopObserver struct{}

func (nopObserver) SamplesIn(int, int) {}
func (nopObserver) Periodogram(int)    {}
func (nopObserver) Saved(int)          {}

package density

import (
	"errors"
	"fmt"
	"math"

	"github.com/RyanBlaney/sonido-density/logging"
)

// ErrSettleTimeout is logged when the settle duration elapses.
var ErrSettleTimeout = errors.New("input did not settle before timeout")

// SettleOptions configures a settle stage.
type SettleOptions struct {
	// InputRangeV is the full scale of the acquisition.
	InputRangeV float64
	// InputPart is the fraction of InputRangeV the signal must stay within.
	InputPart float64
	// TimeOkS is the dwell time inside the band required to settle.
	TimeOkS float64
	// DurationS is the timeout; reaching it without settling fails.
	DurationS float64
}

func (o SettleOptions) validate() error {
	switch {
	case o.InputRangeV <= 0:
		return fmt.Errorf("settle input range must be positive, got %g", o.InputRangeV)
	case o.InputPart <= 0:
		return fmt.Errorf("settle input part must be positive, got %g", o.InputPart)
	case o.TimeOkS < 0:
		return fmt.Errorf("settle time must not be negative, got %g", o.TimeOkS)
	case o.DurationS <= 0:
		return fmt.Errorf("settle duration must be positive, got %g", o.DurationS)
	}
	return nil
}

// Settle waits until the input stays within ±InputRangeV*InputPart for
// TimeOkS seconds. It is the last stage of a settle pipeline and emits nothing.
type Settle struct {
	env    *Env
	opts   SettleOptions
	logger logging.Logger

	in      Rate
	okRange float64

	samples     int64
	lastOutside float64
	status      Status
}

// NewSettle creates an uninitialized settle stage.
func NewSettle(env *Env, opts SettleOptions) *Settle {
	return &Settle{env: env.withDefaults(), opts: opts}
}

func (s *Settle) Init(in Rate) (Rate, error) {
	if err := s.opts.validate(); err != nil {
		return Rate{}, err
	}
	if in.DtS <= 0 {
		return Rate{}, fmt.Errorf("settle: dt_s must be positive, got %g", in.DtS)
	}
	s.in = in
	s.okRange = s.opts.InputRangeV * s.opts.InputPart
	s.status = StatusContinue
	s.logger = s.env.Logger.WithFields(logging.Fields{
		"component": "settle",
	})
	s.logger.Debug("Initialized", logging.Fields{
		"ok_range_V": s.okRange,
		"time_ok_s":  s.opts.TimeOkS,
		"duration_s": s.opts.DurationS,
	})
	return in, nil
}

// NowS returns the stream time covered so far.
func (s *Settle) NowS() float64 {
	return float64(s.samples) * s.in.DtS
}

// TimeLeftS is the dwell time still required inside the band.
func (s *Settle) TimeLeftS() float64 {
	return s.opts.TimeOkS + s.lastOutside - s.NowS()
}

func (s *Settle) Push(samples []float64) ([][]float64, Status, error) {
	if s.logger == nil {
		return nil, StatusFailed, ErrUninitialized
	}
	if s.status != StatusContinue || samples == nil {
		return nil, s.status, nil
	}

	for i, v := range samples {
		if math.Abs(v) > s.okRange || math.IsNaN(v) {
			s.lastOutside = float64(s.samples+int64(i)+1) * s.in.DtS
		}
	}
	s.samples += int64(len(samples))

	now := s.NowS()
	timeLeft := s.TimeLeftS()
	s.env.Control.UpdateStatus(fmt.Sprintf("settle: %.1fs left (%.1fs timeout)",
		math.Max(timeLeft, 0), math.Max(s.opts.DurationS-now, 0)))

	switch {
	case s.env.Control.RequestedSkipSettle():
		s.logger.Warn("Settle skipped by operator", logging.Fields{"now_s": now})
		s.status = StatusSettled
	case timeLeft < 0:
		s.logger.Info("Settled", logging.Fields{"now_s": now})
		s.status = StatusSettled
	case now >= s.opts.DurationS:
		s.logger.Error(ErrSettleTimeout, "Settle failed", logging.Fields{
			"now_s":          now,
			"last_outside_s": s.lastOutside,
		})
		s.status = StatusFailed
	}
	return nil, s.status, nil
}

func (s *Settle) Pending() bool {
	return false
}

func (s *Settle) Done() error {
	return nil
}

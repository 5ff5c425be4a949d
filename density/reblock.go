package density

import (
	"github.com/RyanBlaney/sonido-density/logging"
)

// Reblocker cuts a stream of arbitrarily sized producer blocks into blocks
// of the push size of the rate it is initialized with.
type Reblocker struct {
	env    *Env
	logger logging.Logger

	size int
	buf  []float64

	samplesIn int64
	blocksOut int64
}

// NewReblocker creates an uninitialized re-blocker.
func NewReblocker(env *Env) *Reblocker {
	return &Reblocker{env: env.withDefaults()}
}

func (r *Reblocker) Init(in Rate) (Rate, error) {
	r.size = NewPushCalculator(in.DtS).PushSizeSamples
	r.buf = make([]float64, 0, 2*r.size)
	r.logger = r.env.Logger.WithFields(logging.Fields{
		"component": "reblocker",
	})
	r.logger.Debug("Initialized", logging.Fields{"block_size": r.size})
	return in, nil
}

// BlockSize is the length of every emitted block.
func (r *Reblocker) BlockSize() int {
	return r.size
}

// Buffered returns the number of samples waiting for a complete block.
func (r *Reblocker) Buffered() int {
	return len(r.buf)
}

func (r *Reblocker) Push(samples []float64) ([][]float64, Status, error) {
	if r.size == 0 {
		return nil, StatusFailed, ErrUninitialized
	}
	if samples == nil {
		return nil, StatusContinue, nil
	}
	r.samplesIn += int64(len(samples))

	var out [][]float64
	if len(r.buf) == 0 {
		// Whole blocks are cut straight out of the producer's slice.
		for len(samples) >= r.size {
			out = append(out, append([]float64(nil), samples[:r.size]...))
			samples = samples[r.size:]
		}
	}
	r.buf = append(r.buf, samples...)
	for len(r.buf) >= r.size {
		out = append(out, append([]float64(nil), r.buf[:r.size]...))
		n := copy(r.buf, r.buf[r.size:])
		r.buf = r.buf[:n]
	}
	r.blocksOut += int64(len(out))
	return out, StatusContinue, nil
}

// Pending is always false: an incomplete block needs more input.
func (r *Reblocker) Pending() bool {
	return false
}

func (r *Reblocker) Done() error {
	if r.logger != nil {
		r.logger.Info("Done", logging.Fields{
			"samples_in": r.samplesIn,
			"blocks_out": r.blocksOut,
			"dropped":    len(r.buf),
		})
	}
	return nil
}

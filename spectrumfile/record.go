// Package spectrumfile persists the averaged spectrum of one density stage.
package spectrumfile

import (
	"errors"
	"fmt"
	"math"
)

// Record is the persisted state of one density stage. Field names are the
// on-disk format read by the aggregator and the plotting tools.
type Record struct {
	Stepname    string    `json:"stepname"`
	Stage       int       `json:"stage"`
	DtS         float64   `json:"dt_s"`
	Frequencies []float64 `json:"frequencies"`
	PxxN        int       `json:"Pxx_n"`
	PxxSum      []float64 `json:"Pxx_sum"`
	Skip        bool      `json:"skip"`

	StepsizeBinsCount []int64   `json:"stepsize_bins_count"`
	StepsizeBinsV     []float64 `json:"stepsize_bins_V"`

	// SamplesV is the last window transformed.
	SamplesV []float64 `json:"samples_V"`
}

// ErrInvalidRecord wraps every consistency failure found by Validate.
var ErrInvalidRecord = errors.New("invalid spectrum record")

// Validate checks the invariants a reader relies on.
func (r *Record) Validate() error {
	switch {
	case r.Stepname == "":
		return fmt.Errorf("%w: empty stepname", ErrInvalidRecord)
	case r.Stage < 0:
		return fmt.Errorf("%w: negative stage %d", ErrInvalidRecord, r.Stage)
	case !(r.DtS > 0) || math.IsInf(r.DtS, 0):
		return fmt.Errorf("%w: dt_s %g", ErrInvalidRecord, r.DtS)
	case r.PxxN < 0:
		return fmt.Errorf("%w: negative Pxx_n %d", ErrInvalidRecord, r.PxxN)
	case len(r.Frequencies) != len(r.PxxSum):
		return fmt.Errorf("%w: %d frequencies but %d Pxx_sum values",
			ErrInvalidRecord, len(r.Frequencies), len(r.PxxSum))
	case len(r.StepsizeBinsCount) != len(r.StepsizeBinsV):
		return fmt.Errorf("%w: %d step-size counts but %d bins",
			ErrInvalidRecord, len(r.StepsizeBinsCount), len(r.StepsizeBinsV))
	}
	return nil
}

// Average returns the mean periodogram PxxSum/PxxN, or nil when PxxN is zero.
func (r *Record) Average() []float64 {
	if r.PxxN <= 0 {
		return nil
	}
	avg := make([]float64, len(r.PxxSum))
	for i, v := range r.PxxSum {
		avg[i] = v / float64(r.PxxN)
	}
	return avg
}

// Df returns the bin spacing of the frequency axis.
func (r *Record) Df() float64 {
	if len(r.Frequencies) < 2 {
		return 0
	}
	return r.Frequencies[1] - r.Frequencies[0]
}

// Filename returns densitystep_<stepname>_<stage>[_SKIP].json, with a .zst
// suffix when compressed.
func Filename(stepname string, stage int, skip, compress bool) string {
	name := fmt.Sprintf(filePrefix+"%s_%02d", stepname, stage)
	if skip {
		name += skipSuffix
	}
	name += ".json"
	if compress {
		name += zstdSuffix
	}
	return name
}

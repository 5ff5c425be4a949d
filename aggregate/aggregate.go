// Package aggregate merges the per-stage spectra of a capture directory into
// one noise density curve on an E-series frequency grid.
package aggregate

import (
	"fmt"
	"math"
	"path/filepath"
	"sort"

	"github.com/RyanBlaney/sonido-density/density"
	"github.com/RyanBlaney/sonido-density/logging"
	"github.com/RyanBlaney/sonido-density/spectrumfile"
)

// SummaryFilename is the base name of the merged spectrum artifact.
const SummaryFilename = "summary_lsd.json"

// Point is one sample of the merged curve.
type Point struct {
	F       float64 `json:"f_Hz"`
	Density float64 `json:"density_V_rtHz"`
	Enbw    float64 `json:"enbw_Hz"`

	Stepname string `json:"stepname"`
	Stage    int    `json:"stage"`
}

// StageInfo describes one stage that took part in the aggregation.
type StageInfo struct {
	Stepname string  `json:"stepname"`
	Stage    int     `json:"stage"`
	DtS      float64 `json:"dt_s"`
	PxxN     int     `json:"Pxx_n"`
	Skip     bool    `json:"skip"`
	File     string  `json:"file"`

	// BandLowHz and BandHighHz delimit the frequencies attributed to this
	// stage; BandHighHz is nil for the open ended fastest stage.
	BandLowHz  float64  `json:"band_low_Hz"`
	BandHighHz *float64 `json:"band_high_Hz,omitempty"`

	StepsizeBinsCount []int64   `json:"stepsize_bins_count"`
	StepsizeBinsV     []float64 `json:"stepsize_bins_V"`
	SamplesV          []float64 `json:"samples_V"`
}

// Summary is the merged spectrum of a capture directory.
type Summary struct {
	RunID  string      `json:"run_id,omitempty"`
	Series string      `json:"series"`
	Trace  bool        `json:"trace"`
	Points []Point     `json:"points"`
	Stages []StageInfo `json:"stages"`
	// Corrupt lists the files that could not be read.
	Corrupt []string `json:"corrupt,omitempty"`
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithTrace emits every periodogram bin of every stage, skipped stages
// included, instead of the merged curve.
func WithTrace() Option {
	return func(a *Aggregator) { a.trace = true }
}

// WithSeries selects the frequency grid. The default is E12.
func WithSeries(s Series) Option {
	return func(a *Aggregator) { a.series = s }
}

// WithLogger sets the logger reporting skipped files.
func WithLogger(l logging.Logger) Option {
	return func(a *Aggregator) {
		if l != nil {
			a.logger = l
		}
	}
}

// Aggregator merges per-stage spectra. The slowest stage is authoritative
// for the lowest frequencies; every faster stage takes over above the
// useful band of the one before.
type Aggregator struct {
	logger logging.Logger
	series Series
	trace  bool
}

// NewAggregator creates an aggregator.
func NewAggregator(opts ...Option) *Aggregator {
	a := &Aggregator{
		logger: logging.WithFields(logging.Fields{"component": "aggregate"}),
		series: E12,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type stageRecord struct {
	rec  *spectrumfile.Record
	file string
	avg  []float64
}

// Aggregate reads all spectrum files of dir. Unreadable files are logged
// and skipped.
func (a *Aggregator) Aggregate(dir string) (*Summary, error) {
	paths, err := spectrumfile.List(dir)
	if err != nil {
		return nil, err
	}

	var corrupt []string
	var records []stageRecord
	for _, path := range paths {
		rec, err := spectrumfile.Load(path)
		if err != nil {
			a.logger.Warn("Skipping unreadable spectrum file", logging.Fields{
				"file":  filepath.Base(path),
				"error": err.Error(),
			})
			corrupt = append(corrupt, filepath.Base(path))
			continue
		}
		records = append(records, stageRecord{rec: rec, file: filepath.Base(path)})
	}

	summary := a.aggregate(records)
	summary.Corrupt = corrupt
	return summary, nil
}

// AggregateRecords merges records already in memory.
func (a *Aggregator) AggregateRecords(records []*spectrumfile.Record) *Summary {
	stages := make([]stageRecord, 0, len(records))
	for _, rec := range records {
		stages = append(stages, stageRecord{rec: rec})
	}
	return a.aggregate(stages)
}

func (a *Aggregator) aggregate(records []stageRecord) *Summary {
	summary := &Summary{
		Series: a.series.String(),
		Trace:  a.trace,
		Points: []Point{},
		Stages: []StageInfo{},
	}

	var stages []stageRecord
	for _, sr := range records {
		if sr.rec.PxxN <= 0 || len(sr.rec.Frequencies) < 2 {
			continue
		}
		if sr.rec.Skip && !a.trace {
			continue
		}
		sr.avg = sr.rec.Average()
		stages = append(stages, sr)
	}
	sortStages(stages)

	if a.trace {
		a.tracePoints(summary, stages)
	} else {
		a.mergePoints(summary, stages)
	}
	return summary
}

// sortStages orders slowest first; equal rates by stepname, then stage.
func sortStages(stages []stageRecord) {
	sort.SliceStable(stages, func(i, j int) bool {
		ri, rj := stages[i].rec, stages[j].rec
		if ri.DtS != rj.DtS {
			return ri.DtS > rj.DtS
		}
		if ri.Stepname != rj.Stepname {
			return ri.Stepname < rj.Stepname
		}
		return ri.Stage < rj.Stage
	})
}

// UsefulLimitHz is the highest frequency of a stage sampled every dtS
// seconds that is trusted.
func UsefulLimitHz(dtS float64) float64 {
	return density.UsefulPart / (2 * dtS)
}

func (a *Aggregator) mergePoints(summary *Summary, stages []stageRecord) {
	if len(stages) == 0 {
		return
	}

	// band i is (lows[i], highs[i]]
	lows := make([]float64, len(stages))
	highs := make([]float64, len(stages))
	lower := 0.0
	for i, sr := range stages {
		lows[i] = lower
		highs[i] = math.Inf(1)
		if i < len(stages)-1 {
			highs[i] = math.Max(UsefulLimitHz(sr.rec.DtS), lower)
		}
		lower = highs[i]
	}

	fMin, fMax := math.Inf(1), 0.0
	for _, sr := range stages {
		freqs := sr.rec.Frequencies
		fMin = math.Min(fMin, freqs[1])
		fMax = math.Max(fMax, freqs[len(freqs)-1])
	}

	i := 0
	for _, gp := range a.series.Points(fMin, fMax) {
		for i < len(stages)-1 && gp.F > highs[i] {
			i++
		}
		if gp.F <= lows[i] {
			continue
		}
		if p, ok := gridValue(stages[i], gp, lows[i], highs[i]); ok {
			summary.Points = append(summary.Points, p)
		}
	}

	for i, sr := range stages {
		info := stageInfo(sr)
		info.BandLowHz = lows[i]
		if !math.IsInf(highs[i], 1) {
			high := highs[i]
			info.BandHighHz = &high
		}
		summary.Stages = append(summary.Stages, info)
	}
}

// gridValue averages the non-DC bins of sr inside [gp.Left, gp.Right) that
// also lie in the stage band (low, high]. Bins past the band edge are left
// out: above it the anti-alias filter of the stage already rolls off.
func gridValue(sr stageRecord, gp GridPoint, low, high float64) (Point, bool) {
	freqs := sr.rec.Frequencies
	lo := max(sort.SearchFloat64s(freqs, gp.Left), 1,
		sort.Search(len(freqs), func(k int) bool { return freqs[k] > low }))
	hi := min(sort.SearchFloat64s(freqs, gp.Right),
		sort.Search(len(freqs), func(k int) bool { return freqs[k] > high }))
	if hi <= lo {
		return Point{}, false
	}

	var sum float64
	for k := lo; k < hi; k++ {
		sum += sr.avg[k]
	}
	count := hi - lo
	return Point{
		F:        gp.F,
		Density:  math.Sqrt(sum / float64(count)),
		Enbw:     float64(count) * sr.rec.Df(),
		Stepname: sr.rec.Stepname,
		Stage:    sr.rec.Stage,
	}, true
}

func (a *Aggregator) tracePoints(summary *Summary, stages []stageRecord) {
	for _, sr := range stages {
		df := sr.rec.Df()
		for k := 1; k < len(sr.avg); k++ {
			summary.Points = append(summary.Points, Point{
				F:        sr.rec.Frequencies[k],
				Density:  math.Sqrt(sr.avg[k]),
				Enbw:     df,
				Stepname: sr.rec.Stepname,
				Stage:    sr.rec.Stage,
			})
		}
		info := stageInfo(sr)
		high := sr.rec.Frequencies[len(sr.rec.Frequencies)-1]
		info.BandLowHz = sr.rec.Frequencies[1]
		info.BandHighHz = &high
		summary.Stages = append(summary.Stages, info)
	}
}

func stageInfo(sr stageRecord) StageInfo {
	return StageInfo{
		Stepname:          sr.rec.Stepname,
		Stage:             sr.rec.Stage,
		DtS:               sr.rec.DtS,
		PxxN:              sr.rec.PxxN,
		Skip:              sr.rec.Skip,
		File:              sr.file,
		StepsizeBinsCount: sr.rec.StepsizeBinsCount,
		StepsizeBinsV:     sr.rec.StepsizeBinsV,
		SamplesV:          sr.rec.SamplesV,
	}
}

// Write stores summary in dir, zstd compressed if compress is set, and
// returns the path written.
func Write(dir string, summary *Summary, compress bool) (string, error) {
	name := SummaryFilename
	if compress {
		name += ".zst"
	}
	path := filepath.Join(dir, name)
	if err := spectrumfile.WriteJSON(path, summary); err != nil {
		return "", fmt.Errorf("failed to write summary: %w", err)
	}
	return path, nil
}

// Load reads a summary written by Write.
func Load(path string) (*Summary, error) {
	var summary Summary
	if err := spectrumfile.ReadJSON(path, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

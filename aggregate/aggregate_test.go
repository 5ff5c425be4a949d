package aggregate

import (
	"bytes"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/RyanBlaney/sonido-density/density"
	"github.com/RyanBlaney/sonido-density/logging"
	"github.com/RyanBlaney/sonido-density/spectrumfile"
)

// flatRecord has a white spectrum of psd V²/Hz at every bin.
func flatRecord(stepname string, stage int, dtS, psd float64, skip bool) *spectrumfile.Record {
	const n = density.SamplesDensity
	rec := &spectrumfile.Record{
		Stepname:          stepname,
		Stage:             stage,
		DtS:               dtS,
		Frequencies:       make([]float64, n/2+1),
		PxxN:              3,
		PxxSum:            make([]float64, n/2+1),
		Skip:              skip,
		StepsizeBinsCount: []int64{1},
		StepsizeBinsV:     []float64{0},
		SamplesV:          []float64{0},
	}
	for k := range rec.Frequencies {
		rec.Frequencies[k] = float64(k) / (n * dtS)
		rec.PxxSum[k] = 3 * psd
	}
	return rec
}

func cascade(stepname string, dtS float64, stages, skipped int, psd float64) []*spectrumfile.Record {
	var out []*spectrumfile.Record
	for i := 0; i < stages; i++ {
		out = append(out, flatRecord(stepname, i, dtS*math.Pow(2, float64(i)), psd, i < skipped))
	}
	return out
}

func TestAggregateFlatSpectrum(t *testing.T) {
	const psd = 4e-12
	a := NewAggregator(WithLogger(&logging.NoOpLogger{}))
	summary := a.AggregateRecords(cascade("s", 1e-5, 4, 0, psd))

	require.NotEmpty(t, summary.Points)
	for _, p := range summary.Points {
		assert.InDelta(t, math.Sqrt(psd), p.Density, 1e-12)
		assert.Greater(t, p.Enbw, 0.0)
	}
	require.Len(t, summary.Stages, 4)
	assert.Equal(t, 3, summary.Stages[0].Stage, "slowest stage first")
	assert.Equal(t, 0, summary.Stages[3].Stage)
	assert.Nil(t, summary.Stages[3].BandHighHz)
}

func TestAggregateBandsAreContiguous(t *testing.T) {
	records := cascade("s", 1e-5, 5, 0, 1e-12)
	summary := NewAggregator().AggregateRecords(records)

	order := map[int]int{}
	for i, st := range summary.Stages {
		order[st.Stage] = i
		if i > 0 {
			require.NotNil(t, summary.Stages[i-1].BandHighHz)
			assert.Equal(t, *summary.Stages[i-1].BandHighHz, st.BandLowHz, "no gap, no overlap")
		}
	}
	assert.Zero(t, summary.Stages[0].BandLowHz)

	for i := 1; i < len(summary.Points); i++ {
		prev, cur := summary.Points[i-1], summary.Points[i]
		assert.Greater(t, cur.F, prev.F, "frequencies increase")
		assert.GreaterOrEqual(t, order[cur.Stage], order[prev.Stage], "each stage owns one run of points")
	}

	for _, p := range summary.Points {
		band := summary.Stages[order[p.Stage]]
		assert.Greater(t, p.F, band.BandLowHz)
		if band.BandHighHz != nil {
			assert.LessOrEqual(t, p.F, *band.BandHighHz)
		}
	}
}

func TestAggregateStageBoundaries(t *testing.T) {
	records := cascade("s", 1e-4, 2, 0, 1e-12)
	summary := NewAggregator(WithSeries(E24)).AggregateRecords(records)
	require.Len(t, summary.Stages, 2)

	// The slow stage (dt=2e-4) is trusted up to 0.75 of its Nyquist.
	limit := UsefulLimitHz(2e-4)
	assert.InDelta(t, 1875, limit, 1e-9)
	for _, p := range summary.Points {
		if p.F <= limit {
			assert.Equal(t, 1, p.Stage, "f=%g", p.F)
		} else {
			assert.Equal(t, 0, p.Stage, "f=%g", p.F)
		}
	}
}

func TestAggregateClipsBinsToBand(t *testing.T) {
	records := cascade("s", 1e-4, 2, 0, 1e-12)
	slow := records[1]
	limit := UsefulLimitHz(slow.DtS)
	// Anything the slow stage reports above its band must not leak in.
	for k, f := range slow.Frequencies {
		if f > limit {
			slow.PxxSum[k] = 3 * 1e-6
		}
	}

	summary := NewAggregator(WithSeries(E24)).AggregateRecords(records)
	require.NotEmpty(t, summary.Points)
	var straddling bool
	for _, p := range summary.Points {
		assert.InDelta(t, 1e-6, p.Density, 1e-12, "f=%g stage=%d", p.F, p.Stage)
		if p.Stage == 1 && math.Abs(p.F-1800) < 1e-6 {
			straddling = true
			// Bins from the left border up to the band edge, not up to the
			// right border at sqrt(1800*2000) Hz.
			df := slow.Frequencies[1]
			assert.LessOrEqual(t, p.Enbw, limit-math.Sqrt(1600*1800)+df)
		}
	}
	assert.True(t, straddling, "grid point 1800 Hz comes from the slow stage")
}

func TestAggregateSkipAndTrace(t *testing.T) {
	records := cascade("s", 1e-5, 3, 1, 1e-12)

	summary := NewAggregator().AggregateRecords(records)
	for _, st := range summary.Stages {
		assert.False(t, st.Skip)
	}
	assert.Len(t, summary.Stages, 2)

	trace := NewAggregator(WithTrace()).AggregateRecords(records)
	assert.True(t, trace.Trace)
	assert.Len(t, trace.Stages, 3)
	assert.Len(t, trace.Points, 3*density.SamplesDensity/2)
	for _, p := range trace.Points {
		assert.Greater(t, p.F, 0.0, "DC is excluded")
	}
}

func TestAggregateOrderWithTwoSteps(t *testing.T) {
	records := append(cascade("b", 1e-5, 2, 0, 1e-12), cascade("a", 1e-5, 2, 0, 1e-12)...)
	summary := NewAggregator().AggregateRecords(records)

	var got []string
	for _, st := range summary.Stages {
		got = append(got, st.Stepname)
	}
	assert.Equal(t, []string{"a", "b", "a", "b"}, got, "equal rates ordered by stepname")
}

func TestAggregateIgnoresEmptyRecords(t *testing.T) {
	rec := flatRecord("s", 0, 1e-3, 1e-12, false)
	rec.PxxN = 0
	summary := NewAggregator().AggregateRecords([]*spectrumfile.Record{rec})
	assert.Empty(t, summary.Points)
	assert.Empty(t, summary.Stages)
}

func TestAggregateDirectoryIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	store, err := spectrumfile.NewStore(dir, true)
	require.NoError(t, err)
	for _, rec := range cascade("s", 1e-5, 3, 1, 2e-12) {
		require.NoError(t, store.Save(rec))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "densitystep_broken_00.json"), []byte("{"), 0o644))

	a := NewAggregator(WithLogger(&logging.NoOpLogger{}))
	first, err := a.Aggregate(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"densitystep_broken_00.json"}, first.Corrupt)
	assert.Len(t, first.Stages, 2)

	path, err := Write(dir, first, false)
	require.NoError(t, err)
	firstBytes, err := os.ReadFile(path)
	require.NoError(t, err)

	second, err := a.Aggregate(dir)
	require.NoError(t, err)
	_, err = Write(dir, second, false)
	require.NoError(t, err)
	secondBytes, err := os.ReadFile(path)
	require.NoError(t, err)

	assert.True(t, bytes.Equal(firstBytes, secondBytes))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, first.Points, loaded.Points)
}

func TestAggregateMissingDirectory(t *testing.T) {
	_, err := NewAggregator().Aggregate(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestAggregateEndToEnd(t *testing.T) {
	const (
		dtS   = 1e-4
		amp   = 0.1
		f0    = 47.0
		sigma = 0.01
	)
	dir := t.TempDir()
	store, err := spectrumfile.NewStore(dir, false)
	require.NoError(t, err)

	p, err := density.NewPipeline(&density.Env{Store: store}, density.StepOptions{
		Name: "e2e", DtS: dtS, FirCount: 3,
	})
	require.NoError(t, err)

	noise := distuv.Normal{Mu: 0, Sigma: sigma, Src: rand.NewPCG(5, 6)}
	block := make([]float64, 2500)
	n := 0
	for i := 0; i < 56; i++ {
		for j := range block {
			block[j] = amp*math.Sin(2*math.Pi*f0*float64(n)*dtS) + noise.Rand()
			n++
		}
		_, err := p.Push(block)
		require.NoError(t, err)
	}
	require.NoError(t, p.Flush())
	require.NoError(t, p.Done())

	summary, err := NewAggregator(WithSeries(E24)).Aggregate(dir)
	require.NoError(t, err)
	require.Len(t, summary.Stages, 3)
	for _, st := range summary.Stages {
		assert.GreaterOrEqual(t, st.PxxN, 10)
	}

	floor := math.Sqrt(2 * sigma * sigma * dtS)
	var peak Point
	for _, pt := range summary.Points {
		if pt.Density > peak.Density {
			peak = pt
		}
	}
	assert.InDelta(t, f0, peak.F, 5, "the sine dominates its grid point")
	assert.Greater(t, peak.Density, 10*floor)

	for _, pt := range summary.Points {
		if pt.F > 70 && pt.F < 3000 {
			ratio := pt.Density / floor
			assert.True(t, ratio > 0.5 && ratio < 2, "f=%g density %g floor %g", pt.F, pt.Density, floor)
		}
	}
}

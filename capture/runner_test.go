package capture

import (
	"bytes"
	"context"
	"math"
	"path/filepath"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RyanBlaney/sonido-density/aggregate"
	"github.com/RyanBlaney/sonido-density/config"
	"github.com/RyanBlaney/sonido-density/spectrumfile"
)

// stubController answers with fixed requests and records status lines.
type stubController struct {
	mu       sync.Mutex
	stopSoft bool
	stopHard bool
	skip     bool
	status   []string
	// gate, if set, is awaited before the first stop check returns.
	gate chan struct{}
}

func (c *stubController) RequestedStopSoft() bool { return c.stopSoft }

func (c *stubController) RequestedStopHard() bool {
	if c.gate != nil {
		<-c.gate
	}
	return c.stopHard
}

func (c *stubController) RequestedSkipSettle() bool { return c.skip }

func (c *stubController) UpdateStatus(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = append(c.status, text)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.Dir = t.TempDir()
	cfg.Capture.BlockSize = 3000
	cfg.Capture.Synthetic = config.SyntheticConfig{
		AmplitudeV:  0.1,
		FrequencyHz: 50,
		NoiseVrtHz:  1e-4,
		Seed:        11,
	}
	step := config.DefaultStep()
	step.Name = "fast"
	step.DtS = 1e-4
	step.FirCount = 2
	step.DurationS = float64(1<<16) * step.DtS
	cfg.Steps = []config.StepConfig{step}
	return cfg
}

func settleStep(name string, offsetOK bool) config.StepConfig {
	step := config.DefaultStep()
	step.Name = name
	step.Settle = true
	step.DtS = 1e-3
	step.DurationS = 2
	step.SettleTimeOkS = 0.5
	if !offsetOK {
		step.InputRangeV = 0.1
	}
	return step
}

func TestRunnerCaptureAndAggregate(t *testing.T) {
	cfg := testConfig(t)
	ctrl := &stubController{}
	metrics := NewMetrics(prometheus.NewRegistry())

	r, err := NewRunner(cfg, Options{Controller: ctrl, Metrics: metrics, RunID: "run-1"})
	require.NoError(t, err)

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "run-1", res.RunID)
	assert.Equal(t, []string{"fast"}, res.Steps)
	assert.False(t, res.StoppedSoft)

	paths, err := spectrumfile.List(cfg.Storage.Dir)
	require.NoError(t, err)
	require.Len(t, paths, 2)
	for stage, path := range paths {
		rec, err := spectrumfile.Load(path)
		require.NoError(t, err)
		assert.Equal(t, stage, rec.Stage)
		assert.Equal(t, "fast", rec.Stepname)
		assert.Positive(t, rec.PxxN)
	}

	require.NotNil(t, res.Summary)
	assert.Equal(t, filepath.Join(cfg.Storage.Dir, aggregate.SummaryFilename), res.SummaryPath)
	assert.Equal(t, "run-1", res.Summary.RunID)
	assert.NotEmpty(t, res.Summary.Points)
	assert.Len(t, res.Summary.Stages, 2)

	loaded, err := aggregate.Load(res.SummaryPath)
	require.NoError(t, err)
	assert.Equal(t, res.Summary.Points, loaded.Points)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.steps.WithLabelValues("ok")))
	assert.Equal(t, float64(1<<16), testutil.ToFloat64(metrics.samplesIn.WithLabelValues("0")))
	assert.NotEmpty(t, ctrl.status)
}

func TestRunnerNoiseFloorInSummary(t *testing.T) {
	cfg := testConfig(t)
	cfg.Capture.Synthetic.AmplitudeV = 0
	cfg.Storage.Compress = true

	r, err := NewRunner(cfg, Options{Controller: &stubController{}})
	require.NoError(t, err)
	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cfg.Storage.Dir, aggregate.SummaryFilename+".zst"), res.SummaryPath)

	require.NotEmpty(t, res.Summary.Points)
	var logSum float64
	for _, p := range res.Summary.Points {
		logSum += math.Log(p.Density)
	}
	mean := math.Exp(logSum / float64(len(res.Summary.Points)))
	// Averaged periodograms of white noise scatter well within a factor of two.
	assert.InDelta(t, 1e-4, mean, 0.5e-4)
}

func TestRunnerSettleThenCapture(t *testing.T) {
	cfg := testConfig(t)
	cfg.Capture.Aggregate = false
	cfg.Steps = append([]config.StepConfig{settleStep("settle", true)}, cfg.Steps...)

	r, err := NewRunner(cfg, Options{Controller: &stubController{}})
	require.NoError(t, err)
	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"settle", "fast"}, res.Steps)
	assert.Nil(t, res.Summary)
}

func TestRunnerSettleFailure(t *testing.T) {
	cfg := testConfig(t)
	cfg.Capture.Synthetic.OffsetV = 0.5
	cfg.Steps = append([]config.StepConfig{settleStep("settle", false)}, cfg.Steps...)
	metrics := NewMetrics(prometheus.NewRegistry())

	r, err := NewRunner(cfg, Options{Controller: &stubController{}, Metrics: metrics})
	require.NoError(t, err)
	res, err := r.Run(context.Background())
	assert.ErrorIs(t, err, ErrSettleFailed)
	assert.Empty(t, res.Steps)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.steps.WithLabelValues("failed")))

	paths, err := spectrumfile.List(cfg.Storage.Dir)
	require.NoError(t, err)
	assert.Empty(t, paths)
}

func TestRunnerSkipSettle(t *testing.T) {
	cfg := testConfig(t)
	cfg.Capture.Aggregate = false
	cfg.Capture.Synthetic.OffsetV = 0.5
	cfg.Steps = []config.StepConfig{settleStep("settle", false)}

	r, err := NewRunner(cfg, Options{Controller: &stubController{skip: true}})
	require.NoError(t, err)
	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"settle"}, res.Steps)
}

func TestRunnerHardStop(t *testing.T) {
	cfg := testConfig(t)

	r, err := NewRunner(cfg, Options{Controller: &stubController{stopHard: true}})
	require.NoError(t, err)
	_, err = r.Run(context.Background())
	assert.ErrorIs(t, err, ErrStopHard)

	paths, err := spectrumfile.List(cfg.Storage.Dir)
	require.NoError(t, err)
	assert.Empty(t, paths)
}

func TestRunnerSoftStopEndsRun(t *testing.T) {
	cfg := testConfig(t)
	cfg.Capture.Aggregate = false
	second := cfg.Steps[0]
	second.Name = "slow"
	second.DtS = 1e-3
	second.DurationS = float64(1<<15) * second.DtS
	cfg.Steps = append(cfg.Steps, second)

	r, err := NewRunner(cfg, Options{Controller: &stubController{stopSoft: true}})
	require.NoError(t, err)
	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, res.StoppedSoft)
	assert.Equal(t, []string{"fast"}, res.Steps)
}

// floodSource puts blocks without waiting, like an instrument whose
// consumer fell behind.
type floodSource struct {
	release chan struct{}
}

func (s *floodSource) Run(ctx context.Context, sink Sink) error {
	defer close(s.release)
	for {
		if !sink.Put(make([]float64, 100)) {
			return ErrQueueFull
		}
	}
}

func TestRunnerQueueOverflow(t *testing.T) {
	cfg := testConfig(t)
	cfg.Queue = config.QueueConfig{SoftMax: 2, HardMax: 8}
	gate := make(chan struct{})
	ctrl := &stubController{gate: gate}

	r, err := NewRunner(cfg, Options{
		Controller: ctrl,
		Sources: func(config.StepConfig) (Source, error) {
			return &floodSource{release: gate}, nil
		},
	})
	require.NoError(t, err)
	_, err = r.Run(context.Background())
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestRunnerReaderSourceExhausted(t *testing.T) {
	cfg := testConfig(t)
	cfg.Capture.Source = "stdin"

	samples := make([]byte, 0, 1<<16)
	for i := 0; i < 10_000; i++ {
		samples = append(samples, "0.001\n"...)
	}
	r, err := NewRunner(cfg, Options{
		Controller: &stubController{},
		Sources:    DefaultSources(cfg.Capture, bytes.NewReader(samples)),
	})
	require.NoError(t, err)

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"fast"}, res.Steps)
	assert.Empty(t, res.Summary.Corrupt)
}

func TestNewRunnerRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Steps = nil
	_, err := NewRunner(cfg, Options{})
	assert.Error(t, err)
}

func TestNewRunnerGeneratesRunID(t *testing.T) {
	cfg := testConfig(t)
	r, err := NewRunner(cfg, Options{Controller: &stubController{}})
	require.NoError(t, err)
	assert.Len(t, r.RunID(), 36)
}

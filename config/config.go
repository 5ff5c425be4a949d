// Package config loads the YAML description of a capture run.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/RyanBlaney/sonido-density/aggregate"
	"github.com/RyanBlaney/sonido-density/density"
	"github.com/RyanBlaney/sonido-density/logging"
)

// Config is the complete configuration of a capture run.
type Config struct {
	Capture    CaptureConfig    `yaml:"capture"`
	Steps      []StepConfig     `yaml:"steps"`
	Storage    StorageConfig    `yaml:"storage"`
	Queue      QueueConfig      `yaml:"queue"`
	Controller ControllerConfig `yaml:"controller"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// CaptureConfig selects the sample source and what happens after the last step.
type CaptureConfig struct {
	Source    string          `yaml:"source"`     // "synthetic" or "stdin"
	BlockSize int             `yaml:"block_size"` // samples per producer block
	Synthetic SyntheticConfig `yaml:"synthetic"`
	Aggregate bool            `yaml:"aggregate"` // write the summary after the last step
	Series    string          `yaml:"series"`    // "E6", "E12", "E24"
}

// SyntheticConfig describes the test signal: a sine plus white noise.
type SyntheticConfig struct {
	AmplitudeV  float64 `yaml:"amplitude_V"`
	FrequencyHz float64 `yaml:"frequency_Hz"`
	NoiseVrtHz  float64 `yaml:"noise_V_rtHz"` // one-sided density
	OffsetV     float64 `yaml:"offset_V"`
	Seed        uint64  `yaml:"seed"`
	// Realtime paces the source at the sampling rate.
	Realtime bool `yaml:"realtime"`
}

// StepConfig describes one acquisition step. A settle step only waits for
// the input to calm down; any other step captures spectra.
type StepConfig struct {
	Name            string  `yaml:"name"`
	DtS             float64 `yaml:"dt_s"`
	FirCount        int     `yaml:"fir_count"`
	FirCountSkipped int     `yaml:"fir_count_skipped"`
	DurationS       float64 `yaml:"duration_s"`

	Settle          bool    `yaml:"settle"`
	SettleTimeOkS   float64 `yaml:"settle_time_ok_s"`
	SettleInputPart float64 `yaml:"settle_input_part"`
	InputRangeV     float64 `yaml:"input_range_V"`

	Warmup string `yaml:"warmup"` // "mirror", "zero", "discard"
}

// StorageConfig places the capture directory.
type StorageConfig struct {
	Dir           string  `yaml:"dir"`
	Compress      bool    `yaml:"compress"`
	SaveIntervalS float64 `yaml:"save_interval_s"` // 0 saves after every periodogram
}

// QueueConfig bounds the producer queue, in blocks.
type QueueConfig struct {
	SoftMax int `yaml:"soft_max"`
	HardMax int `yaml:"hard_max"`
}

// ControllerConfig locates the operator marker files.
type ControllerConfig struct {
	Dir           string  `yaml:"dir"` // defaults to the storage directory
	PollIntervalS float64 `yaml:"poll_interval_s"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Colors bool   `yaml:"colors"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"` // empty disables the /metrics endpoint
}

// Default returns a configuration that captures a synthetic signal.
func Default() *Config {
	return &Config{
		Capture: CaptureConfig{
			Source:    "synthetic",
			BlockSize: 1000,
			Synthetic: SyntheticConfig{
				AmplitudeV:  0.1,
				FrequencyHz: 47,
				NoiseVrtHz:  1e-4,
				Seed:        1,
			},
			Aggregate: true,
			Series:    "E12",
		},
		Steps: []StepConfig{DefaultStep()},
		Storage: StorageConfig{
			Dir: "capture",
		},
		Queue: QueueConfig{
			SoftMax: 16,
			HardMax: 1024,
		},
		Controller: ControllerConfig{
			PollIntervalS: 0.5,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// DefaultStep returns the defaults every configured step starts from.
func DefaultStep() StepConfig {
	return StepConfig{
		Name:            "fast",
		DtS:             1e-4,
		FirCount:        6,
		FirCountSkipped: 0,
		DurationS:       10,
		SettleTimeOkS:   1,
		SettleInputPart: 0.5,
		InputRangeV:     1,
		Warmup:          "mirror",
	}
}

// Load reads path over the defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result. Unknown
// top level keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// UnmarshalYAML fills the fields a step leaves out from DefaultStep.
func (s *StepConfig) UnmarshalYAML(value *yaml.Node) error {
	type plain StepConfig
	step := plain(DefaultStep())
	step.Name = ""
	if err := value.Decode(&step); err != nil {
		return err
	}
	*s = StepConfig(step)
	return nil
}

// Validate checks the configuration for values the capture cannot run with.
func (c *Config) Validate() error {
	if len(c.Steps) == 0 {
		return errors.New("no steps configured")
	}
	names := map[string]bool{}
	for i := range c.Steps {
		step := &c.Steps[i]
		if err := step.Validate(); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
		if names[step.Name] {
			return fmt.Errorf("step %d: duplicate name %q", i, step.Name)
		}
		names[step.Name] = true
	}

	switch c.Capture.Source {
	case "synthetic", "stdin":
	default:
		return fmt.Errorf("unknown capture source %q", c.Capture.Source)
	}
	if c.Capture.BlockSize <= 0 {
		return fmt.Errorf("capture block_size must be positive, got %d", c.Capture.BlockSize)
	}
	if _, err := aggregate.ParseSeries(c.Capture.Series); err != nil {
		return err
	}
	if c.Storage.Dir == "" {
		return errors.New("storage dir is empty")
	}
	if c.Storage.SaveIntervalS < 0 {
		return fmt.Errorf("storage save_interval_s must not be negative, got %g", c.Storage.SaveIntervalS)
	}
	if c.Queue.SoftMax <= 0 || c.Queue.HardMax < c.Queue.SoftMax {
		return fmt.Errorf("queue needs 0 < soft_max <= hard_max, got %d and %d", c.Queue.SoftMax, c.Queue.HardMax)
	}
	if c.Controller.PollIntervalS < 0 {
		return fmt.Errorf("controller poll_interval_s must not be negative, got %g", c.Controller.PollIntervalS)
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	return nil
}

// Validate checks a single step.
func (s *StepConfig) Validate() error {
	switch {
	case s.Name == "":
		return errors.New("name is empty")
	case strings.ContainsAny(s.Name, `/\`+"\x00"):
		return fmt.Errorf("name %q must not contain path separators", s.Name)
	case !(s.DtS > 0):
		return fmt.Errorf("%s: dt_s must be positive, got %g", s.Name, s.DtS)
	case !(s.DurationS > 0):
		return fmt.Errorf("%s: duration_s must be positive, got %g", s.Name, s.DurationS)
	}
	if s.Settle {
		opts := s.SettleOptions()
		if _, err := density.NewSettle(nil, opts).Init(density.Rate{DtS: s.DtS}); err != nil {
			return fmt.Errorf("%s: %w", s.Name, err)
		}
		return nil
	}
	if s.FirCount < 1 {
		return fmt.Errorf("%s: fir_count must be at least 1, got %d", s.Name, s.FirCount)
	}
	if s.FirCountSkipped < 0 || s.FirCountSkipped > s.FirCount {
		return fmt.Errorf("%s: fir_count_skipped must be within [0, %d], got %d", s.Name, s.FirCount, s.FirCountSkipped)
	}
	if _, err := density.ParseWarmup(s.Warmup); err != nil {
		return fmt.Errorf("%s: %w", s.Name, err)
	}
	return nil
}

// PipelineOptions converts a capture step for density.NewPipeline.
func (s *StepConfig) PipelineOptions(storage StorageConfig) density.StepOptions {
	return density.StepOptions{
		Name:            s.Name,
		DtS:             s.DtS,
		FirCount:        s.FirCount,
		FirCountSkipped: s.FirCountSkipped,
		SaveInterval:    time.Duration(storage.SaveIntervalS * float64(time.Second)),
	}
}

// SettleOptions converts a settle step for density.NewSettlePipeline.
func (s *StepConfig) SettleOptions() density.SettleOptions {
	return density.SettleOptions{
		InputRangeV: s.InputRangeV,
		InputPart:   s.SettleInputPart,
		TimeOkS:     s.SettleTimeOkS,
		DurationS:   s.DurationS,
	}
}

// ControllerDir is the marker file directory.
func (c *Config) ControllerDir() string {
	if c.Controller.Dir != "" {
		return c.Controller.Dir
	}
	return c.Storage.Dir
}

// PollInterval is the minimum time between two marker file checks.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Controller.PollIntervalS * float64(time.Second))
}

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/RyanBlaney/sonido-density/capture"
	"github.com/RyanBlaney/sonido-density/config"
	"github.com/RyanBlaney/sonido-density/logging"
)

// LogFilename receives a copy of the log inside the capture directory.
const LogFilename = "lsd.log"

var (
	captureDir      string
	captureSource   string
	captureCompress bool
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Run the configured settle and capture steps",
	Long: `Run every step of the configuration in order. Settle steps wait for the input
to stay inside its range; capture steps write one spectrum file per stage.
The summary is written when the last step ends or after a soft stop.

Exit codes: 0 ok, 1 error, 2 queue overflow, 3 settle failure, 4 hard stop.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		applyCaptureFlags(cmd, cfg)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runCapture(ctx, cmd, cfg)
	},
}

func init() {
	captureCmd.Flags().StringVarP(&captureDir, "dir", "d", "", "capture directory (overrides storage.dir)")
	captureCmd.Flags().StringVar(&captureSource, "source", "", "sample source: synthetic or stdin (overrides capture.source)")
	captureCmd.Flags().BoolVar(&captureCompress, "compress", false, "zstd-compress spectrum and summary files")
}

func applyCaptureFlags(cmd *cobra.Command, cfg *config.Config) {
	if captureDir != "" {
		cfg.Storage.Dir = captureDir
	}
	if captureSource != "" {
		cfg.Capture.Source = captureSource
	}
	if cmd.Flags().Changed("compress") {
		cfg.Storage.Compress = captureCompress
	}
	if metricsAddr != "" {
		cfg.Metrics.Addr = metricsAddr
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
}

func runCapture(ctx context.Context, cmd *cobra.Command, cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.Storage.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create capture directory: %w", err)
	}

	logFile, err := os.OpenFile(filepath.Join(cfg.Storage.Dir, LogFilename), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer logFile.Close()

	logger := logging.NewWriterLogger(
		io.MultiWriter(os.Stdout, logFile),
		io.MultiWriter(os.Stderr, logFile),
	)
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	logger.SetLevel(level)
	logging.SetGlobalLogger(logger)

	reg := prometheus.NewRegistry()
	serveMetrics(cfg.Metrics.Addr, reg)

	runner, err := capture.NewRunner(cfg, capture.Options{
		Logger:  logger,
		Metrics: capture.NewMetrics(reg),
	})
	if err != nil {
		return err
	}

	res, err := runner.Run(ctx)
	if err != nil {
		return err
	}
	if res.StoppedSoft {
		logger.Warn("Run stopped by operator", logging.Fields{"steps_done": len(res.Steps)})
	}
	if res.SummaryPath != "" {
		printPath(cmd, "summary", res.SummaryPath)
	}
	return nil
}

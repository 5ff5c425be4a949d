// Command lsd captures linear spectral densities in decimation cascades and
// merges the per-stage spectra into one summary.
package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/RyanBlaney/sonido-density/config"
	"github.com/RyanBlaney/sonido-density/logging"
)

var (
	configPath  string
	logLevel    string
	metricsAddr string
	noColor     bool
)

var rootCmd = &cobra.Command{
	Use:   "lsd",
	Short: "Linear spectral density capture",
	Long: `lsd streams samples through a cascade of decimating FIR stages, averages a
periodogram per stage and merges the stages into one density on an E-series grid.

Operator control while a capture runs, in the capture directory:
  touch STOP_SOFT     finish the current step, save and aggregate
  touch STOP_HARD     abort without saving
  touch SKIP_SETTLE   end a settle step as settled
Progress is written to status.txt.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if noColor {
			logging.DisableColors()
		}
		if logLevel == "" {
			return nil
		}
		level, err := logging.ParseLevel(logLevel)
		if err != nil {
			return err
		}
		logging.SetLevel(level)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored log output")

	rootCmd.AddCommand(captureCmd)
	rootCmd.AddCommand(aggregateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logging.Error(err, "lsd failed")
		os.Exit(exitCode(err))
	}
}

// loadConfig reads --config, or returns the defaults when it is not set.
func loadConfig() (*config.Config, error) {
	if configPath == "" {
		return config.Default(), nil
	}
	return config.Load(configPath)
}

// serveMetrics exposes reg on addr until the process exits. An empty addr
// disables the endpoint.
func serveMetrics(addr string, reg *prometheus.Registry) {
	if addr == "" {
		return
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logging.Info("Metrics endpoint listening", logging.Fields{"addr": addr})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error(err, "Metrics endpoint failed", logging.Fields{"addr": addr})
		}
	}()
}

func printPath(cmd *cobra.Command, what, path string) {
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", what, path)
}

package main

import (
	"github.com/spf13/cobra"

	"github.com/RyanBlaney/sonido-density/aggregate"
	"github.com/RyanBlaney/sonido-density/logging"
)

var (
	aggregateTrace    bool
	aggregateSeries   string
	aggregateCompress bool
)

var aggregateCmd = &cobra.Command{
	Use:   "aggregate <dir>",
	Short: "Merge the per-stage spectra of a capture directory",
	Long: `Merge every densitystep_*.json[.zst] file in dir into summary_lsd.json.
Each stage contributes the part of the spectrum it resolves best; the density
is averaged on an E-series grid. With --trace every raw bin of every stage is
written instead, including stages marked as skipped.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := args[0]
		series, err := aggregate.ParseSeries(aggregateSeries)
		if err != nil {
			return err
		}

		opts := []aggregate.Option{aggregate.WithSeries(series)}
		if aggregateTrace {
			opts = append(opts, aggregate.WithTrace())
		}
		summary, err := aggregate.NewAggregator(opts...).Aggregate(dir)
		if err != nil {
			return err
		}
		path, err := aggregate.Write(dir, summary, aggregateCompress)
		if err != nil {
			return err
		}

		logging.Info("Summary written", logging.Fields{
			"points":  len(summary.Points),
			"stages":  len(summary.Stages),
			"corrupt": len(summary.Corrupt),
		})
		printPath(cmd, "summary", path)
		return nil
	},
}

func init() {
	aggregateCmd.Flags().BoolVar(&aggregateTrace, "trace", false, "write every bin of every stage instead of the merged grid")
	aggregateCmd.Flags().StringVar(&aggregateSeries, "series", "E12", "frequency grid: E6, E12 or E24")
	aggregateCmd.Flags().BoolVar(&aggregateCompress, "compress", false, "zstd-compress the summary")
}

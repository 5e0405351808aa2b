package cli

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/VictoriaMetrics/metrics"
	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/fastcollection/pkg/fastcollection"
)

// MetricsCmd returns the metrics command.
func MetricsCmd(cfg Config, log *slog.Logger) *Command {
	fs := flag.NewFlagSet("metrics", flag.ContinueOnError)
	name := fs.String("name", "", "Value of the collection label (default: file name without extension)")

	return &Command{
		Flags: fs,
		Usage: "metrics <path> [--name <label>]",
		Short: "Print Prometheus metrics for a collection",
		Long: `Attach to the collection and print its gauges in the Prometheus text
format. Operation counters only cover this short-lived handle, so they
are mostly useful from the repl or a long-running program.`,
		Exec: func(_ context.Context, o *IO, args []string) error {
			args, err := requireArgs(args, "path")
			if err != nil {
				return err
			}

			opts := cfg.options(args[0], log)
			opts.SweepInterval = 0

			h, err := openExisting(opts)
			if err != nil {
				return err
			}

			defer func() { _ = h.Close() }()

			label := *name
			if label == "" {
				base := filepath.Base(opts.Path)
				label = strings.TrimSuffix(base, filepath.Ext(base))
			}

			writeMetrics(o, label, h)

			return nil
		},
	}
}

func writeMetrics(o *IO, label string, src fastcollection.StatsSource) {
	set := metrics.NewSet()
	fastcollection.RegisterMetrics(set, label, src)
	set.WritePrometheus(o.Out())
}

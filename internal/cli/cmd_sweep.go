package cli

import (
	"context"
	"log/slog"
	"time"

	flag "github.com/spf13/pflag"
)

// SweepCmd returns the sweep command.
func SweepCmd(cfg Config, log *slog.Logger) *Command {
	fs := flag.NewFlagSet("sweep", flag.ContinueOnError)
	watch := fs.Duration("watch", 0, "Keep sweeping at this interval until interrupted")

	return &Command{
		Flags: fs,
		Usage: "sweep <path> [--watch <interval>]",
		Short: "Remove expired elements",
		Long:  "Remove every expired element from the collection and print how many were removed.",
		Exec: func(ctx context.Context, o *IO, args []string) error {
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

			for {
				removed, err := h.RemoveExpired()
				if err != nil {
					return err
				}

				n, err := h.Len()
				if err != nil {
					return err
				}

				o.Printf("removed=%d len=%d\n", removed, n)

				if *watch <= 0 {
					return h.Flush()
				}

				select {
				case <-ctx.Done():
					return h.Flush()
				case <-time.After(*watch):
				}
			}
		},
	}
}

package cli

import (
	"context"

	flag "github.com/spf13/pflag"
)

// PrintConfigCmd returns the print-config command.
func PrintConfigCmd(cfg *Config) *Command {
	return &Command{
		Flags: flag.NewFlagSet("print-config", flag.ContinueOnError),
		Usage: "print-config",
		Short: "Show resolved configuration",
		Long:  "Display the effective configuration and which files it was loaded from.",
		Exec: func(_ context.Context, io *IO, _ []string) error {
			return execPrintConfig(io, cfg)
		},
	}
}

func execPrintConfig(io *IO, cfg *Config) error {
	io.Println("effective_cwd=" + cfg.EffectiveCwd)
	io.Println("initial_size=" + formatSize(cfg.InitialSize))
	io.Println("max_size=" + formatSize(cfg.MaxSize))
	io.Printf("bucket_count=%d\n", cfg.BucketCount)
	io.Println("sweep_interval=" + cfg.SweepInterval.String())
	io.Println("log_level=" + cfg.LogLevel.String())

	if cfg.HistoryFile != "" {
		io.Println("history_file=" + cfg.HistoryFile)
	}

	io.Println("")
	io.Println("# sources")

	if cfg.Sources.Global == "" && cfg.Sources.Project == "" {
		io.Println("(defaults only)")
	} else {
		if cfg.Sources.Global != "" {
			io.Println("global_config=" + cfg.Sources.Global)
		}

		if cfg.Sources.Project != "" {
			io.Println("project_config=" + cfg.Sources.Project)
		}
	}

	return nil
}

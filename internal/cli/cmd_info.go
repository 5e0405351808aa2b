package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/fastcollection/pkg/fastcollection"
)

// InfoCmd returns the info command.
func InfoCmd(cfg Config) *Command {
	return &Command{
		Flags: flag.NewFlagSet("info", flag.ContinueOnError),
		Usage: "info <path>",
		Short: "Show header fields of a collection file",
		Long: `Print the header of a collection file as key=value lines. The file is
read, not attached, so counters may lag a writer in another process.`,
		Exec: func(_ context.Context, o *IO, args []string) error {
			args, err := requireArgs(args, "path")
			if err != nil {
				return err
			}

			info, err := fastcollection.Inspect(cfg.resolvePath(args[0]))
			if err != nil {
				return err
			}

			printInfo(o, info)

			return nil
		},
	}
}

func printInfo(o *IO, info fastcollection.FileInfo) {
	o.Println("path=" + info.Path)
	o.Println("kind=" + info.Kind.String())
	o.Printf("version=%d\n", info.Version)
	o.Printf("len=%d\n", info.Len)

	if info.BucketCount > 0 {
		o.Printf("buckets=%d\n", info.BucketCount)
	}

	o.Printf("file_size=%d\n", info.FileSize)
	o.Printf("total_size=%d\n", info.TotalSize)
	o.Printf("max_size=%d\n", info.MaxSize)
	o.Printf("highwater=%d\n", info.Highwater)
	o.Printf("used_bytes=%d\n", info.UsedBytes)
	o.Printf("free_bytes=%d\n", info.FreeBytes)
	o.Println("created=" + info.CreatedAt.UTC().Format(time.RFC3339))
}

// CheckCmd returns the check command.
func CheckCmd(cfg Config, log *slog.Logger) *Command {
	return &Command{
		Flags: flag.NewFlagSet("check", flag.ContinueOnError),
		Usage: "check <path>...",
		Short: "Validate collection files",
		Long: `Validate the header of each file, then attach to it and follow every
element link. Prints "ok" per valid file and exits non-zero if any file
is damaged.`,
		Exec: func(_ context.Context, o *IO, args []string) error {
			if len(args) == 0 {
				return ErrPathRequired
			}

			failed := 0

			for _, p := range args {
				n, err := checkFile(cfg, log, p)
				if err != nil {
					failed++

					o.Printf("FAIL %s: %v\n", p, err)

					continue
				}

				o.Printf("ok %s (%d live elements)\n", p, n)
			}

			if failed > 0 {
				return fmt.Errorf("%w: %d of %d files", ErrCheckFailed, failed, len(args))
			}

			return nil
		},
	}
}

func checkFile(cfg Config, log *slog.Logger, path string) (int, error) {
	opts := cfg.options(path, log)
	opts.SweepInterval = 0

	h, err := openExisting(opts)
	if err != nil {
		return 0, err
	}

	defer func() { _ = h.Close() }()

	return h.walk()
}

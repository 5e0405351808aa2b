package cli

import (
	"context"
	"fmt"
	"log/slog"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/fastcollection/pkg/fastcollection"
)

// CreateCmd returns the create command.
func CreateCmd(cfg Config, log *slog.Logger) *Command {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	initialSize := fs.String("initial-size", "", "Size of the new file (e.g. 64MiB)")
	maxSize := fs.String("max-size", "", "Largest size the file may grow to")
	buckets := fs.Int("buckets", 0, "Hash buckets for set and map files")
	force := fs.BoolP("force", "f", false, "Replace an existing file")

	return &Command{
		Flags: fs,
		Usage: "create <kind> <path> [flags]",
		Short: "Create an empty collection file",
		Long: `Create an empty collection file of the given kind (list, set, map,
queue or stack). Fails if the file exists unless --force is set.
Sizes default to the configured initial_size and max_size.`,
		Exec: func(_ context.Context, o *IO, args []string) error {
			args, err := requireArgs(args, "kind", "path")
			if err != nil {
				return err
			}

			kind, err := fastcollection.ParseKind(args[0])
			if err != nil {
				return err
			}

			opts := cfg.options(args[1], log)
			opts.SweepInterval = 0
			opts.CreateNew = *force
			opts.BucketCount = cfg.BucketCount

			if !*force && fastcollection.IsValidFile(opts.Path) {
				return fmt.Errorf("%s already exists (use --force to replace it)", opts.Path)
			}

			if *initialSize != "" {
				if opts.InitialSize, err = parseSize(*initialSize); err != nil {
					return err
				}
			}

			if *maxSize != "" {
				if opts.MaxSize, err = parseSize(*maxSize); err != nil {
					return err
				}
			}

			if *buckets != 0 {
				opts.BucketCount = *buckets
			}

			h, err := openHandle(kind, opts)
			if err != nil {
				return err
			}

			st, statsErr := h.Stats()
			closeErr := h.Close()

			if statsErr != nil {
				return statsErr
			}

			if closeErr != nil {
				return closeErr
			}

			o.Printf("created %s %s (%s", kind, opts.Path, formatSize(int64(st.TotalSize)))

			if st.BucketCount > 0 {
				o.Printf(", %d buckets", st.BucketCount)
			}

			o.Println(")")

			return nil
		},
	}
}

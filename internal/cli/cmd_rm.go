package cli

import (
	"context"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/fastcollection/pkg/fastcollection"
)

// RmCmd returns the rm command.
func RmCmd(cfg Config) *Command {
	fs := flag.NewFlagSet("rm", flag.ContinueOnError)
	force := fs.BoolP("force", "f", false, "Remove files that are not valid collection files too")

	return &Command{
		Flags: fs,
		Usage: "rm <path>... [--force]",
		Short: "Delete collection files and their lock files",
		Long: `Delete each collection file and the lock file next to it. Files that
do not look like collection files are skipped with a warning unless
--force is set.`,
		Exec: func(_ context.Context, o *IO, args []string) error {
			if len(args) == 0 {
				return ErrPathRequired
			}

			for _, p := range args {
				path := cfg.resolvePath(p)

				if !*force && !fastcollection.IsValidFile(path) {
					o.Warn("skipped "+p, "not a valid collection file (use --force to remove it anyway)")

					continue
				}

				if err := fastcollection.Remove(path); err != nil {
					return err
				}

				o.Println("removed", p)
			}

			return nil
		},
	}
}

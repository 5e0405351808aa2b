package cli

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"

	"github.com/peterh/liner"
	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/fastcollection/internal/fs"
	"github.com/calvinalkan/fastcollection/pkg/fastcollection"
)

// ReplCmd returns the repl command.
func ReplCmd(cfg Config, log *slog.Logger) *Command {
	flags := flag.NewFlagSet("repl", flag.ContinueOnError)
	noHistory := flags.Bool("no-history", false, "Neither read nor write the history file")

	return &Command{
		Flags: flags,
		Usage: "repl <kind> <path>",
		Short: "Interactive shell on a collection",
		Long: `Open (or create) a collection and read commands from stdin, one per
line. Type help for the commands of the collection's kind. On a
terminal, line editing and history are available; history is saved to
the configured history_file on exit.`,
		Exec: func(ctx context.Context, o *IO, args []string) error {
			args, err := requireArgs(args, "kind", "path")
			if err != nil {
				return err
			}

			kind, err := fastcollection.ParseKind(args[0])
			if err != nil {
				return err
			}

			h, err := openHandle(kind, cfg.options(args[1], log))
			if err != nil {
				return err
			}

			defer func() { _ = h.Close() }()

			sess := newReplSession(h, o)

			if f, ok := o.in.(*os.File); ok && isTerminal(f) && liner.TerminalSupported() {
				history := cfg.HistoryFile
				if *noHistory {
					history = ""
				}

				return runLiner(ctx, sess, history, log)
			}

			return runScanner(ctx, sess, o.in)
		},
	}
}

func isTerminal(f *os.File) bool {
	fi, err := f.Stat()

	return err == nil && fi.Mode()&os.ModeCharDevice != 0
}

// runScanner executes lines from a non-interactive reader.
func runScanner(ctx context.Context, sess *replSession, in io.Reader) error {
	if in == nil {
		return nil
	}

	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64<<10), fastcollection.MaxPayloadSize+1024)

	for sc.Scan() {
		if ctx.Err() != nil {
			return nil
		}

		if sess.exec(sc.Text()) {
			return nil
		}
	}

	return sc.Err()
}

// runLiner runs an interactive session with line editing.
func runLiner(ctx context.Context, sess *replSession, history string, log *slog.Logger) error {
	line := liner.NewLiner()
	defer func() { _ = line.Close() }()

	line.SetCtrlCAborts(true)
	line.SetCompleter(sess.complete)

	rfs := fs.NewReal()

	if history != "" {
		if data, err := rfs.ReadFile(history); err == nil {
			if _, err := line.ReadHistory(bytes.NewReader(data)); err != nil {
				log.Debug("history unreadable", "path", history, "error", err)
			}
		}
	}

	prompt := sess.h.Kind().String() + "> "

	for ctx.Err() == nil {
		input, err := line.Prompt(prompt)
		if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return err
		}

		if input != "" {
			line.AppendHistory(input)
		}

		if sess.exec(input) {
			break
		}
	}

	if history == "" {
		return nil
	}

	var buf bytes.Buffer
	if _, err := line.WriteHistory(&buf); err != nil {
		return err
	}

	return rfs.WriteFileAtomic(history, buf.Bytes(), 0o600)
}

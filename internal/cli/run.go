package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	flag "github.com/spf13/pflag"
)

// Run is the main entry point. Returns exit code.
//
// A value on sigCh cancels the running command's context; commands that
// loop (bench, repl, sweep --watch) stop and return cleanly.
func Run(in io.Reader, out io.Writer, errOut io.Writer, args []string, env map[string]string, sigCh <-chan os.Signal) int {
	globals := flag.NewFlagSet("fcol", flag.ContinueOnError)
	globals.SetInterspersed(false)
	globals.SetOutput(&strings.Builder{})

	flagHelp := globals.BoolP("help", "h", false, "Show help")
	flagCwd := globals.StringP("cwd", "C", "", "Run as if started in `dir`")
	flagConfig := globals.StringP("config", "c", "", "Use specified config `file`")
	flagVerbose := globals.BoolP("verbose", "v", false, "Log debug events to stderr")

	if len(args) > 0 {
		args = args[1:]
	}

	if err := globals.Parse(args); err != nil {
		fprintln(errOut, "error:", err)
		printUsage(errOut, globals, nil)

		return 1
	}

	cfg, err := LoadConfig(LoadConfigInput{
		WorkDirOverride: *flagCwd,
		ConfigPath:      *flagConfig,
		Env:             env,
	})
	if err != nil {
		fprintln(errOut, "error:", err)

		return 1
	}

	level := cfg.LogLevel
	if *flagVerbose {
		level = slog.LevelDebug
	}

	log := slog.New(slog.NewTextHandler(errOut, &slog.HandlerOptions{Level: level}))

	commands := allCommands(cfg, log)

	rest := globals.Args()
	if *flagHelp || len(rest) == 0 {
		printUsage(out, globals, commands)

		return 0
	}

	var cmd *Command

	for _, c := range commands {
		if c.Name() == rest[0] {
			cmd = c

			break
		}
	}

	if cmd == nil {
		fprintln(errOut, "error:", fmt.Errorf("%w: %s", ErrUnknownCommand, rest[0]))
		printUsage(errOut, globals, commands)

		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if sigCh != nil {
		go func() {
			select {
			case <-sigCh:
				log.Debug("interrupted")
				cancel()
			case <-ctx.Done():
			}
		}()
	}

	o := NewIO(in, out, errOut)

	if code := cmd.Run(ctx, o, rest[1:]); code != 0 {
		return code
	}

	return o.Finish()
}

// allCommands returns every command in help order.
func allCommands(cfg Config, log *slog.Logger) []*Command {
	return []*Command{
		CreateCmd(cfg, log),
		InfoCmd(cfg),
		CheckCmd(cfg, log),
		SweepCmd(cfg, log),
		MetricsCmd(cfg, log),
		BenchCmd(cfg, log),
		RmCmd(cfg),
		ReplCmd(cfg, log),
		PrintConfigCmd(&cfg),
	}
}

func fprintln(w io.Writer, a ...any) {
	_, _ = fmt.Fprintln(w, a...)
}

func printUsage(w io.Writer, globals *flag.FlagSet, commands []*Command) {
	fprintln(w, `fcol - inspect and drive memory-mapped collection files

Usage: fcol [global flags] <command> [args]

Global flags:`)

	globals.SetOutput(w)
	globals.PrintDefaults()

	if len(commands) == 0 {
		return
	}

	fprintln(w)
	fprintln(w, "Commands:")

	for _, c := range commands {
		fprintln(w, c.HelpLine())
	}
}

// requireArgs returns the first n positional args or an error naming what
// is missing.
func requireArgs(args []string, names ...string) ([]string, error) {
	if len(args) < len(names) {
		missing := names[len(args)]

		switch missing {
		case "kind":
			return nil, ErrKindRequired
		case "path":
			return nil, ErrPathRequired
		default:
			return nil, fmt.Errorf("%s is required", missing)
		}
	}

	if len(args) > len(names) {
		return nil, fmt.Errorf("unexpected argument %q", args[len(names)])
	}

	return args, nil
}

// isCanceled reports whether err only says the command was interrupted.
func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}

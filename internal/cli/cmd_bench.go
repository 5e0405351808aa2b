package cli

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/calvinalkan/fastcollection/pkg/fastcollection"
)

// BenchCmd returns the bench command.
func BenchCmd(cfg Config, log *slog.Logger) *Command {
	fs := flag.NewFlagSet("bench", flag.ContinueOnError)
	ops := fs.IntP("ops", "n", 100_000, "Total write+read pairs to run")
	workers := fs.IntP("workers", "w", 4, "Concurrent workers")
	perSec := fs.Float64("rate", 0, "Limit to this many pairs per second across all workers (0 = unlimited)")
	valueSize := fs.Int("value-size", 64, "Bytes per value")
	ttlFlag := fs.String("ttl", "never", "TTL of written elements")
	keep := fs.Bool("keep", false, "Keep the written elements instead of clearing the collection")

	return &Command{
		Flags: fs,
		Usage: "bench <kind> <path> [flags]",
		Short: "Measure throughput against a collection file",
		Long: `Run write+read pairs from concurrent workers against a collection
(creating it if needed) and print the throughput. Each pair is
add+get-last for lists, offer+poll for queues, push+pop for stacks,
add+contains for sets and put+get for maps.`,
		Exec: func(ctx context.Context, o *IO, args []string) error {
			args, err := requireArgs(args, "kind", "path")
			if err != nil {
				return err
			}

			kind, err := fastcollection.ParseKind(args[0])
			if err != nil {
				return err
			}

			ttl, err := parseTTL(*ttlFlag)
			if err != nil {
				return err
			}

			if *ops <= 0 || *workers <= 0 || *valueSize < 0 || *perSec < 0 {
				return fmt.Errorf("--ops and --workers must be positive, --value-size and --rate not negative")
			}

			opts := cfg.options(args[1], log)
			opts.SweepInterval = 0

			h, err := openHandle(kind, opts)
			if err != nil {
				return err
			}

			defer func() { _ = h.Close() }()

			b := bench{h: h, ttl: ttl, value: make([]byte, *valueSize)}

			if *perSec > 0 {
				b.limiter = rate.NewLimiter(rate.Limit(*perSec), *workers)
			}

			start := time.Now()
			runErr := b.run(ctx, *ops, *workers)
			elapsed := time.Since(start)

			if runErr != nil && !isCanceled(runErr) {
				return runErr
			}

			done := b.done.Load()
			o.Printf("kind=%s workers=%d pairs=%d elapsed=%s pairs_per_sec=%.0f\n",
				kind, *workers, done, elapsed.Round(time.Millisecond), float64(done)/elapsed.Seconds())

			st, err := h.Stats()
			if err != nil {
				return err
			}

			o.Printf("len=%d total_size=%d used_bytes=%d free_bytes=%d hits=%d misses=%d\n",
				st.Len, st.TotalSize, st.UsedBytes, st.FreeBytes, st.Hits, st.Misses)

			if runErr != nil {
				o.Warn("bench interrupted", fmt.Sprintf("only %d of %d pairs ran", done, *ops))
			}

			if *keep {
				return h.Flush()
			}

			return h.Clear()
		},
	}
}

type bench struct {
	h       *handle
	ttl     time.Duration
	value   []byte
	limiter *rate.Limiter
	done    atomic.Int64
}

func (b *bench) run(ctx context.Context, ops, workers int) error {
	g, ctx := errgroup.WithContext(ctx)

	for w := range workers {
		n := ops / workers
		if w < ops%workers {
			n++
		}

		g.Go(func() error {
			key := make([]byte, 0, 32)

			for i := range n {
				if b.limiter != nil {
					if err := b.limiter.Wait(ctx); err != nil {
						return err
					}
				} else if err := ctx.Err(); err != nil {
					return err
				}

				key = fmt.Appendf(key[:0], "bench-%d-%d", w, i)

				if err := b.pair(key); err != nil {
					return err
				}

				b.done.Add(1)
			}

			return nil
		})
	}

	return g.Wait()
}

// pair runs one write and one read.
func (b *bench) pair(key []byte) error {
	h := b.h

	var err error

	switch {
	case h.list != nil:
		if err = h.list.Add(b.value, b.ttl); err == nil {
			_, _, err = h.list.GetLast()
		}
	case h.queue != nil:
		if err = h.queue.Offer(b.value, b.ttl); err == nil {
			_, _, err = h.queue.Poll()
		}
	case h.stack != nil:
		if err = h.stack.Push(b.value, b.ttl); err == nil {
			_, _, err = h.stack.Pop()
		}
	case h.set != nil:
		if _, err = h.set.Add(key, b.ttl); err == nil {
			_, err = h.set.Contains(key)
		}
	case h.m != nil:
		if err = h.m.Put(key, b.value, b.ttl); err == nil {
			_, _, err = h.m.Get(key)
		}
	}

	return err
}

// parseTTL parses a duration, with "never" (or "-1") meaning no expiry.
func parseTTL(s string) (time.Duration, error) {
	if s == "never" || s == "-1" || s == "-" {
		return fastcollection.NoExpiry, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTTL, s)
	}

	return d, nil
}

// formatTTL renders a remaining TTL the way parseTTL reads it.
func formatTTL(d time.Duration) string {
	if d < 0 {
		return "never"
	}

	return d.String()
}

package fastcollection

import (
	"errors"
	"log/slog"
	"sync/atomic"
	"time"
)

// sweeper calls a collection's RemoveExpired on a timer.
type sweeper struct {
	every time.Duration
	sweep func() (int, error)
	log   *slog.Logger

	running atomic.Bool
	quit    chan struct{}
	done    chan struct{}
}

func newSweeper(every time.Duration, sweep func() (int, error), log *slog.Logger) *sweeper {
	return &sweeper{
		every: every,
		sweep: sweep,
		log:   log,
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// start launches the loop. Calling it again does nothing.
func (s *sweeper) start() {
	if s.running.CompareAndSwap(false, true) {
		go s.loop()
	}
}

// stop ends the loop and waits for an in-flight sweep to finish. A stopped
// sweeper can't be started again.
func (s *sweeper) stop() {
	if s.running.CompareAndSwap(true, false) {
		close(s.quit)
		<-s.done
	}
}

func (s *sweeper) loop() {
	defer close(s.done)

	timer := time.NewTimer(s.every)
	defer timer.Stop()

	for {
		select {
		case <-s.quit:
			return
		case <-timer.C:
		}

		removed, err := s.sweep()

		switch {
		case errors.Is(err, ErrClosed):
			return
		case err != nil:
			s.log.Warn("expiry sweep failed", "error", err)
		case removed > 0:
			s.log.Debug("expiry sweep", "removed", removed)
		}

		timer.Reset(s.every)
	}
}

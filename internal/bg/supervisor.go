// Package bg supervises the long-running background loops of the process —
// the audit and media worker pools and the outcome-recalibration and
// feed-auto-ingest tickers — the way internal/serverutil supervises the HTTP
// listener in the teacher repo: one cancellable context, one error group, a
// clean shutdown path.
package bg

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Loop is one supervised background routine. It must return promptly once
// ctx is cancelled; a Loop that returns nil on cancellation is treated as a
// clean shutdown, not a failure.
type Loop func(ctx context.Context) error

// Supervisor runs a fixed set of Loops under one errgroup so that a fatal
// error in any of them cancels the others, and a shutdown signal stops all
// of them together.
type Supervisor struct {
	logger *slog.Logger
	loops  []namedLoop
}

type namedLoop struct {
	name string
	loop Loop
}

// New constructs a Supervisor that logs loop lifecycle events on logger.
func New(logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{logger: logger}
}

// Add registers a named loop to run when Run is called. Add must be called
// before Run; it is not safe to add loops once the supervisor is running.
func (s *Supervisor) Add(name string, loop Loop) {
	s.loops = append(s.loops, namedLoop{name: name, loop: loop})
}

// Run starts every registered loop and blocks until ctx is cancelled or one
// loop returns a non-nil error, in which case the remaining loops are
// cancelled and the first error is returned.
func (s *Supervisor) Run(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)
	for _, nl := range s.loops {
		nl := nl
		group.Go(func() error {
			s.logger.Info("background loop starting", "loop", nl.name)
			err := nl.loop(groupCtx)
			if err != nil {
				s.logger.Error("background loop exited with error", "loop", nl.name, "error", err)
				return err
			}
			s.logger.Info("background loop stopped", "loop", nl.name)
			return nil
		})
	}
	return group.Wait()
}

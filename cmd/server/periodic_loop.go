package main

import (
	"context"
	"time"

	"pulsebench/internal/bg"
)

// intervalTicker abstracts time.Ticker so tests can drive periodicLoop
// without waiting on real wall-clock time.
type intervalTicker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	ticker *time.Ticker
}

func (t timeTicker) C() <-chan time.Time {
	return t.ticker.C
}

func (t timeTicker) Stop() {
	t.ticker.Stop()
}

type tickerFactory func(time.Duration) intervalTicker

func newRealTicker(d time.Duration) intervalTicker {
	return timeTicker{ticker: time.NewTicker(d)}
}

// periodicLoop adapts a periodic no-error callback into a bg.Loop: it runs
// task immediately, then again every interval, until ctx is cancelled. It
// backs every recurring background job this process runs (feed auto-ingest,
// outcome recalibration, audit/media stale-job recovery) rather than each
// one hand-rolling its own ticker select loop.
func periodicLoop(interval time.Duration, task func(), newTicker tickerFactory) bg.Loop {
	if newTicker == nil {
		newTicker = newRealTicker
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return func(ctx context.Context) error {
		task()
		ticker := newTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C():
				task()
			}
		}
	}
}

// Package worker implements the Periodic Worker (spec §4.8): a single
// cooperatively-scheduled loop that invokes the Rhythm Analyzer on a fixed
// cadence and exits promptly on cancellation.
package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Worker runs one Analyzer invocation per tick. Only one Worker runs per
// process (spec §4.8).
type Worker struct {
	analyze     func(ctx context.Context, windowSec int) (novelCount, frequencyCount int, err error)
	intervalSec int
	windowSec   int
	logger      *zap.Logger

	tick func() <-chan time.Time
}

// New creates a Worker. analyze is the analysis call, reduced to the
// counts the worker needs to log so this package stays decoupled from
// internal/analysis's full result type. intervalSec is the sleep cadence
// between invocations (ANALYSIS_INTERVAL_SEC); windowSec is the lookback
// window passed to analyze on each invocation (ANALYSIS_WINDOW_SEC) — the
// two are configured independently (spec §9).
func New(intervalSec, windowSec int, logger *zap.Logger, analyze func(ctx context.Context, windowSec int) (novelCount, frequencyCount int, err error)) *Worker {
	return &Worker{
		analyze:     analyze,
		intervalSec: intervalSec,
		windowSec:   windowSec,
		logger:      logger,
		tick:        nil,
	}
}

// Run executes the worker loop until ctx is cancelled (spec §4.8): invoke,
// log, sleep interval_sec, repeat; any invocation error is logged and the
// loop continues rather than exiting.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("periodic worker starting",
		zap.Int("interval_sec", w.intervalSec), zap.Int("window_sec", w.windowSec))
	interval := time.Duration(w.intervalSec) * time.Second

	for {
		w.runOnce(ctx)

		select {
		case <-ctx.Done():
			w.logger.Info("periodic worker stopping")
			return
		case <-w.after(interval):
		}
	}
}

func (w *Worker) after(d time.Duration) <-chan time.Time {
	if w.tick != nil {
		return w.tick()
	}
	return time.After(d)
}

func (w *Worker) runOnce(ctx context.Context) {
	novel, frequency, err := w.analyze(ctx, w.windowSec)
	if err != nil {
		w.logger.Error("rhythm analysis invocation failed", zap.Error(err))
		return
	}
	w.logger.Info("rhythm analysis complete",
		zap.Int("novel_anomalies", novel),
		zap.Int("frequency_anomalies", frequency),
	)
}

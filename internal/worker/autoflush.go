package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/hyperengineering/vitalsync/internal/types"
)

// AutoFlushWorker periodically flushes the queue.
type AutoFlushWorker struct {
	flusher  Flusher
	notifier Notifier
	interval time.Duration
}

// NewAutoFlushWorker creates a worker flushing every interval.
// notifier may be nil.
func NewAutoFlushWorker(flusher Flusher, interval time.Duration, notifier Notifier) *AutoFlushWorker {
	return &AutoFlushWorker{
		flusher:  flusher,
		notifier: notifier,
		interval: interval,
	}
}

// Run starts the worker loop. Blocks until ctx is cancelled.
// Does NOT flush immediately on start.
func (w *AutoFlushWorker) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "auto-flush",
		"interval", w.interval.String(),
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "auto-flush",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			runFlush(ctx, w.flusher, w.notifier, types.SourceAuto, "auto-flush")
		}
	}
}

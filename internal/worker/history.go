package worker

import (
	"context"
	"log/slog"
	"time"
)

// HistoryStore defines the store operations needed by the history pruner.
type HistoryStore interface {
	PruneFlushHistory(ctx context.Context, before time.Time) (int64, error)
}

// HistoryPruner periodically deletes flush history older than a retention window.
type HistoryPruner struct {
	store     HistoryStore
	interval  time.Duration
	retention time.Duration
	now       func() time.Time
}

// NewHistoryPruner creates a pruner running every interval and keeping
// retention worth of history.
func NewHistoryPruner(store HistoryStore, interval, retention time.Duration) *HistoryPruner {
	return &HistoryPruner{
		store:     store,
		interval:  interval,
		retention: retention,
		now:       time.Now,
	}
}

// Run starts the worker loop. Blocks until ctx is cancelled.
// Does NOT run immediately on start.
func (w *HistoryPruner) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "history-prune",
		"interval", w.interval.String(),
		"retention", w.retention.String(),
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "history-prune",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			w.Prune(ctx)
		}
	}
}

// Prune executes a single prune cycle.
func (w *HistoryPruner) Prune(ctx context.Context) {
	start := w.now()
	cutoff := start.Add(-w.retention)

	deleted, err := w.store.PruneFlushHistory(ctx, cutoff)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Error("history prune failed",
			"component", "worker",
			"action", "prune_failed",
			"error", err,
		)
		return
	}

	slog.Debug("history prune completed",
		"component", "worker",
		"action", "prune_complete",
		"cutoff", cutoff.UTC().Format(time.RFC3339),
		"deleted", deleted,
		"duration_ms", w.now().Sub(start).Milliseconds(),
	)
}

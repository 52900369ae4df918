package worker

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hyperengineering/vitalsync/internal/flush"
	"github.com/hyperengineering/vitalsync/internal/types"
)

// Flusher runs one flush cycle.
type Flusher interface {
	Flush(ctx context.Context, source types.SyncSource) (types.FlushSummary, error)
}

// Notifier receives the outcome of every cycle a worker triggers.
type Notifier interface {
	Notify(source types.SyncSource, outcome flush.Outcome, summary types.FlushSummary)
}

// LogNotifier reports outcomes through slog.
type LogNotifier struct{}

// Notify implements Notifier.
func (LogNotifier) Notify(source types.SyncSource, outcome flush.Outcome, summary types.FlushSummary) {
	level := slog.LevelInfo
	if outcome == flush.OutcomeAllFailed || outcome == flush.OutcomePartial {
		level = slog.LevelWarn
	}
	slog.Log(context.Background(), level, outcome.Message(summary),
		"component", "worker",
		"action", "flush_outcome",
		"source", source,
		"outcome", outcome,
	)
}

// runFlush triggers one cycle and notifies its outcome. A cycle already
// in flight is skipped silently.
func runFlush(ctx context.Context, f Flusher, n Notifier, source types.SyncSource, worker string) {
	summary, err := f.Flush(ctx, source)
	if err != nil {
		if errors.Is(err, flush.ErrFlushInProgress) || ctx.Err() != nil {
			slog.Debug("flush skipped",
				"component", "worker",
				"worker", worker,
				"reason", err.Error(),
			)
			return
		}
		slog.Error("flush failed",
			"component", "worker",
			"worker", worker,
			"action", "flush_failed",
			"error", err,
		)
		return
	}
	if n != nil {
		n.Notify(source, flush.Classify(summary), summary)
	}
}

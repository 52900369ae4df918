// Package flush drains the local write queue to the remote list: batch
// orchestration with a two-pass retry, per-item backoff between cycles, and
// the flush cycle that commits the post-flush queue.
package flush

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hyperengineering/vitalsync/internal/queue"
	"github.com/hyperengineering/vitalsync/internal/state"
	"github.com/hyperengineering/vitalsync/internal/types"
)

var (
	// ErrFlushInProgress is returned when a cycle is already pending.
	ErrFlushInProgress = errors.New("flush already in progress")
	// ErrAllFailed marks a completed cycle in which no item was delivered.
	ErrAllFailed = errors.New("all items failed to send")
)

// Prober checks that the remote is reachable before any item is sent.
type Prober interface {
	Ping(ctx context.Context) error
}

// History records finished cycles for diagnostics.
type History interface {
	RecordFlush(ctx context.Context, source types.SyncSource, status types.SyncStatus, summary *types.FlushSummary, err error) error
}

// EngineOptions holds the optional collaborators of an Engine.
type EngineOptions struct {
	Prober  Prober
	History History
	Summary SummaryProvider
	Now     func() time.Time
}

// Engine runs flush cycles over one queue. At most one cycle runs at a
// time; the state store's pending status is the lock.
type Engine struct {
	queue     *queue.Queue
	batch     *Batch
	state     *state.Store
	prober    Prober
	history   History
	summaries SummaryProvider
	now       func() time.Time
}

// NewEngine creates an Engine.
func NewEngine(q *queue.Queue, b *Batch, st *state.Store, opts EngineOptions) *Engine {
	if opts.Summary == nil {
		opts.Summary = LiveSummary{}
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Engine{
		queue:     q,
		batch:     b,
		state:     st,
		prober:    opts.Prober,
		history:   opts.History,
		summaries: opts.Summary,
		now:       opts.Now,
	}
}

// Flush runs one cycle triggered by source. Due items are sent; delivered
// items leave the queue, failed items are rescheduled with backoff, held
// items and items added during the cycle are kept unchanged. A failure
// before any result leaves the queue untouched and returns the error.
func (e *Engine) Flush(ctx context.Context, source types.SyncSource) (types.FlushSummary, error) {
	if !e.state.BeginPending(source) {
		return types.FlushSummary{}, ErrFlushInProgress
	}

	startedAt := e.now()
	snapshot := e.queue.All()
	due, held := partition(snapshot, startedAt)

	if len(due) == 0 {
		summary := e.summaries.Summarize(summarize(nil, len(held), nil, len(snapshot), startedAt, e.now().Sub(startedAt)))
		e.finish(ctx, source, summary, nil)
		return summary, nil
	}

	if e.prober != nil {
		if err := e.prober.Ping(ctx); err != nil {
			return e.abort(ctx, source, fmt.Errorf("remote unreachable: %w", err))
		}
	}

	results, err := e.batch.Flush(ctx, due)
	if err != nil {
		return e.abort(ctx, source, err)
	}

	remaining := e.commit(snapshot, results)
	summary := e.summaries.Summarize(summarize(due, len(held), results, remaining, startedAt, e.now().Sub(startedAt)))

	var cycleErr error
	if Classify(summary) == OutcomeAllFailed {
		cycleErr = ErrAllFailed
	}
	e.finish(ctx, source, summary, cycleErr)
	return summary, nil
}

// commit writes the post-flush queue and returns its size. The merge runs
// under the queue lock against the live contents, so items added during
// the cycle survive.
func (e *Engine) commit(snapshot []types.QueueItem, results map[string]types.UpsertResult) int {
	now := e.now()
	inSnapshot := make(map[string]struct{}, len(snapshot))
	for _, it := range snapshot {
		inSnapshot[it.IdempotencyKey] = struct{}{}
	}

	var remaining int
	e.queue.Update(func(current []types.QueueItem) []types.QueueItem {
		next := make([]types.QueueItem, 0, len(current))
		for _, it := range current {
			if _, ok := inSnapshot[it.IdempotencyKey]; !ok {
				next = append(next, it)
				continue
			}
			res, attempted := results[it.IdempotencyKey]
			switch {
			case !attempted:
				next = append(next, it)
			case res.OK:
				// delivered
			default:
				retried := ScheduleNext(it, now)
				retried.LastError = res.Error
				next = append(next, retried)
			}
		}
		remaining = len(next)
		return next
	})
	return remaining
}

func (e *Engine) finish(ctx context.Context, source types.SyncSource, summary types.FlushSummary, cycleErr error) {
	status := types.StatusSuccess
	if cycleErr != nil {
		status = types.StatusError
		e.state.MarkError(cycleErr, &summary)
	} else {
		e.state.MarkSuccess(summary)
	}

	slog.Info("flush cycle completed",
		"component", "flush",
		"action", "cycle_complete",
		"source", source,
		"due", summary.Due,
		"held", summary.Held,
		"sent", summary.Sent,
		"remaining", summary.Remaining,
		"attempts", summary.TotalAttempts,
		"duration_ms", summary.Duration.Milliseconds(),
	)
	e.record(ctx, source, status, &summary, cycleErr)
}

func (e *Engine) abort(ctx context.Context, source types.SyncSource, err error) (types.FlushSummary, error) {
	e.state.MarkError(err, nil)
	slog.Warn("flush cycle failed",
		"component", "flush",
		"action", "cycle_failed",
		"source", source,
		"error", err,
	)
	e.record(ctx, source, types.StatusError, nil, err)
	return types.FlushSummary{}, err
}

func (e *Engine) record(ctx context.Context, source types.SyncSource, status types.SyncStatus, summary *types.FlushSummary, err error) {
	if e.history == nil {
		return
	}
	// Recording must happen even when the cycle was cancelled.
	if ctx.Err() != nil {
		ctx = context.WithoutCancel(ctx)
	}
	if herr := e.history.RecordFlush(ctx, source, status, summary, err); herr != nil {
		slog.Warn("failed to record flush history",
			"component", "flush",
			"error", herr,
		)
	}
}

// partition splits items into those due at now and those held for later.
func partition(items []types.QueueItem, now time.Time) (due, held []types.QueueItem) {
	for _, it := range items {
		if it.DueAt(now) {
			due = append(due, it)
		} else {
			held = append(held, it)
		}
	}
	return due, held
}

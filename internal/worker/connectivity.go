package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hyperengineering/vitalsync/internal/types"
)

// Prober reports whether the remote is reachable.
type Prober interface {
	Ping(ctx context.Context) error
}

// PendingChecker exposes whether a flush is already in flight.
type PendingChecker interface {
	Pending() bool
}

// ConnectivityWatcher probes the remote on an interval and flushes with
// source online-event when it comes back after being unreachable. The
// first probe only establishes the baseline.
type ConnectivityWatcher struct {
	prober   Prober
	flusher  Flusher
	pending  PendingChecker
	notifier Notifier
	interval time.Duration

	mu     sync.Mutex
	known  bool
	online bool
}

// NewConnectivityWatcher creates a watcher. pending and notifier may be nil.
func NewConnectivityWatcher(prober Prober, flusher Flusher, pending PendingChecker, interval time.Duration, notifier Notifier) *ConnectivityWatcher {
	return &ConnectivityWatcher{
		prober:   prober,
		flusher:  flusher,
		pending:  pending,
		notifier: notifier,
		interval: interval,
	}
}

// Online reports the last observed connectivity. It is false until the
// first probe completes.
func (w *ConnectivityWatcher) Online() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.known && w.online
}

// Run starts the watcher loop. Blocks until ctx is cancelled.
func (w *ConnectivityWatcher) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "connectivity",
		"interval", w.interval.String(),
	)

	w.Check(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "connectivity",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			w.Check(ctx)
		}
	}
}

// Check probes once and triggers an online-event flush on an
// offline to online transition.
func (w *ConnectivityWatcher) Check(ctx context.Context) {
	err := w.prober.Ping(ctx)
	if ctx.Err() != nil {
		return
	}
	online := err == nil

	w.mu.Lock()
	cameBack := w.known && !w.online && online
	changed := !w.known || w.online != online
	w.known, w.online = true, online
	w.mu.Unlock()

	if changed {
		attrs := []any{
			"component", "worker",
			"worker", "connectivity",
			"action", "connectivity_changed",
			"online", online,
		}
		if err != nil {
			attrs = append(attrs, "error", err)
		}
		slog.Info("connectivity changed", attrs...)
	}

	if !cameBack {
		return
	}
	if w.pending != nil && w.pending.Pending() {
		slog.Debug("online flush suppressed",
			"component", "worker",
			"worker", "connectivity",
			"reason", "flush_pending",
		)
		return
	}
	runFlush(ctx, w.flusher, w.notifier, types.SourceOnlineEvent, "connectivity")
}

package vitalsync

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hyperengineering/vitalsync/internal/flush"
	"github.com/hyperengineering/vitalsync/internal/idempotency"
	"github.com/hyperengineering/vitalsync/internal/listclient"
	"github.com/hyperengineering/vitalsync/internal/queue"
	"github.com/hyperengineering/vitalsync/internal/state"
	"github.com/hyperengineering/vitalsync/internal/store"
	"github.com/hyperengineering/vitalsync/internal/transport"
	"github.com/hyperengineering/vitalsync/internal/types"
	"github.com/hyperengineering/vitalsync/internal/upsert"
	"github.com/hyperengineering/vitalsync/internal/validation"
	"github.com/hyperengineering/vitalsync/internal/worker"
	"github.com/oklog/ulid/v2"
)

// Client is the vitalsync client for recording and syncing observations
type Client struct {
	config   Config
	store    *store.SQLiteStore
	queue    *queue.Queue
	state    *state.Store
	remote   *listclient.Client
	engine   *flush.Engine
	deviceID string
	timeZone string
	now      func() time.Time

	mu      sync.RWMutex
	closed  bool
	cancel  context.CancelFunc
	workers sync.WaitGroup
}

// New creates a new client, restoring any queue persisted at DBPath.
func New(config Config) (*Client, error) {
	if strings.TrimSpace(config.RemoteURL) != "" && strings.TrimSpace(config.List) == "" {
		return nil, fmt.Errorf("list name is required when a remote URL is set")
	}
	if config.Source == "" {
		config.Source = "vitalsync"
	}

	timeZone := time.Local.String()
	if config.TimeZone != "" {
		loc, err := time.LoadLocation(config.TimeZone)
		if err != nil {
			return nil, fmt.Errorf("load time zone: %w", err)
		}
		timeZone = loc.String()
	}

	summaries, err := flush.NewSummaryProvider(config.SummaryMode)
	if err != nil {
		return nil, err
	}

	dbPath := config.DBPath
	if dbPath == "" {
		dbPath = ":memory:"
	}
	db, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, err
	}

	deviceID, err := resolveDeviceID(db, config.DeviceID)
	if err != nil {
		db.Close()
		return nil, err
	}

	httpClient := config.HTTPClient
	if httpClient == nil && config.RequestTimeout > 0 {
		httpClient = &http.Client{Timeout: config.RequestTimeout}
	}
	remote := listclient.New(listclient.Options{
		BaseURL:    config.RemoteURL,
		List:       config.List,
		APIKey:     config.APIKey,
		HTTPClient: httpClient,
		Transport: transport.Options{
			MaxAttempts: config.MaxAttempts,
			BaseDelay:   config.BaseDelay,
			MaxJitter:   config.MaxJitter,
		},
	})

	q := queue.New(db, queue.Options{
		Capacity:   config.Capacity,
		WarnAt:     config.WarnAt,
		StorageKey: config.StorageKey,
	})
	st := state.NewStore()
	batch := flush.NewBatch(upsert.New(remote), flush.Provenance{
		Source:    config.Source,
		DeviceID:  deviceID,
		CreatedBy: config.CreatedBy,
	}, flush.BatchOptions{
		ChunkSize:   config.ChunkSize,
		Concurrency: config.Concurrency,
	})
	engine := flush.NewEngine(q, batch, st, flush.EngineOptions{
		Prober:  remote,
		History: db,
		Summary: summaries,
	})

	return &Client{
		config:   config,
		store:    db,
		queue:    q,
		state:    st,
		remote:   remote,
		engine:   engine,
		deviceID: deviceID,
		timeZone: timeZone,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// resolveDeviceID returns configured, or the id persisted in db, generating
// and persisting one on first use.
func resolveDeviceID(db *store.SQLiteStore, configured string) (string, error) {
	if configured = strings.TrimSpace(configured); configured != "" {
		return configured, nil
	}
	raw, err := db.Load(DeviceIDKey)
	if err != nil {
		return "", fmt.Errorf("load device id: %w", err)
	}
	if len(raw) > 0 {
		return string(raw), nil
	}
	id := ulid.Make().String()
	if err := db.Save(DeviceIDKey, []byte(id)); err != nil {
		return "", fmt.Errorf("save device id: %w", err)
	}
	return id, nil
}

// DeviceID returns the id stamped on records written by this client.
func (c *Client) DeviceID() string {
	return c.deviceID
}

// Record validates an observation and queues it for the next flush.
func (c *Client) Record(params RecordParams) (*Recorded, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, ErrClosed
	}

	if params.Kind == "" {
		params.Kind = types.KindObservation
	}
	params.SubjectID = strings.TrimSpace(params.SubjectID)
	errs := validation.ValidateObservation(params.SubjectID, params.Kind, params.Payload)
	// A retried entry must rebuild the same key, so its time cannot default to now.
	if strings.TrimSpace(params.ClientID) != "" && params.ObservedAt.IsZero() {
		errs = append(errs, validation.ValidationError{Field: "observedAt", Message: "is required with clientId"})
	}
	if len(errs) > 0 {
		return nil, &ValidationFailedError{Fields: errs}
	}

	observedAt := params.ObservedAt
	if observedAt.IsZero() {
		observedAt = c.now()
	}
	observedAt = observedAt.UTC()

	disambiguator := strings.TrimSpace(params.ClientID)
	if disambiguator == "" {
		disambiguator = idempotency.NewDisambiguator()
	}

	item := types.QueueItem{
		IdempotencyKey: idempotency.BuildKey(params.SubjectID, string(params.Kind), observedAt, disambiguator),
		Kind:           params.Kind,
		SubjectID:      params.SubjectID,
		Payload:        params.Payload,
		ObservedAt:     observedAt,
		LocalTimeZone:  c.timeZone,
	}
	res := c.queue.Add(item)

	slog.Debug("observation recorded",
		"component", "client",
		"action", "record",
		"subject_id", item.SubjectID,
		"kind", item.Kind,
		"added", res.Added,
		"queue_size", res.Size,
	)
	return &Recorded{Item: item, Queue: res}, nil
}

// Flush runs one manual flush cycle.
func (c *Client) Flush(ctx context.Context) (types.FlushSummary, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return types.FlushSummary{}, ErrClosed
	}
	return c.engine.Flush(ctx, types.SourceManual)
}

// State returns the current sync state.
func (c *Client) State() types.SyncState {
	return c.state.Snapshot()
}

// Subscribe registers fn for sync state changes. The returned function
// removes the subscription.
func (c *Client) Subscribe(fn func(types.SyncState)) func() {
	return c.state.Subscribe(fn)
}

// SubscribeQueue registers fn for queue size changes.
func (c *Client) SubscribeQueue(fn func(size int)) func() {
	return c.queue.Subscribe(fn)
}

// Queue returns a snapshot of the pending items, oldest first.
func (c *Client) Queue() []types.QueueItem {
	return c.queue.All()
}

// QueueLen returns the number of pending items.
func (c *Client) QueueLen() int {
	return c.queue.Len()
}

// QueueCapacity returns the maximum number of pending items.
func (c *Client) QueueCapacity() int {
	return c.queue.Capacity()
}

// Discard removes the pending items with the given idempotency keys and
// returns how many were removed. It is meant for entries the remote keeps
// rejecting.
func (c *Client) Discard(keys ...string) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return 0, ErrClosed
	}
	drop := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		drop[k] = struct{}{}
	}

	var removed int
	c.queue.Update(func(current []types.QueueItem) []types.QueueItem {
		next := current[:0]
		for _, it := range current {
			if _, ok := drop[it.IdempotencyKey]; ok {
				removed++
				continue
			}
			next = append(next, it)
		}
		return next
	})

	if removed > 0 {
		slog.Info("queue items discarded",
			"component", "client",
			"action", "discard",
			"removed", removed,
		)
	}
	return removed, nil
}

// RecentFlushes returns up to limit finished cycles, newest first.
func (c *Client) RecentFlushes(ctx context.Context, limit int) ([]store.FlushRecord, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, ErrClosed
	}
	return c.store.RecentFlushes(ctx, limit)
}

// HealthCheck returns the health status
func (c *Client) HealthCheck(ctx context.Context) HealthStatus {
	status := HealthStatus{LocalStore: true}

	if err := c.remote.Ping(ctx); err != nil {
		status.LastError = err.Error()
	} else {
		status.Remote = true
	}
	return status
}

// StartWorkers launches the auto flush worker, the connectivity watcher
// and the history pruner for the configured non-zero intervals. notifier
// may be nil.
// Workers stop on Close or when ctx is cancelled.
func (c *Client) StartWorkers(ctx context.Context, notifier worker.Notifier) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.cancel != nil {
		return fmt.Errorf("workers already started")
	}

	ctx, c.cancel = context.WithCancel(ctx)
	if c.config.AutoFlushInterval > 0 {
		w := worker.NewAutoFlushWorker(workerFlusher{c}, c.config.AutoFlushInterval, notifier)
		c.goWorker(ctx, w.Run)
	}
	if c.config.ProbeInterval > 0 {
		w := worker.NewConnectivityWatcher(c.remote, workerFlusher{c}, c.state, c.config.ProbeInterval, notifier)
		c.goWorker(ctx, w.Run)
	}
	if c.config.HistoryRetention > 0 {
		w := worker.NewHistoryPruner(c.store, HistoryPruneInterval, c.config.HistoryRetention)
		c.goWorker(ctx, w.Run)
	}
	return nil
}

func (c *Client) goWorker(ctx context.Context, run func(context.Context)) {
	c.workers.Add(1)
	go func() {
		defer c.workers.Done()
		run(ctx)
	}()
}

// workerFlusher runs worker-triggered cycles under the client's lifecycle.
type workerFlusher struct {
	c *Client
}

func (f workerFlusher) Flush(ctx context.Context, source types.SyncSource) (types.FlushSummary, error) {
	f.c.mu.RLock()
	defer f.c.mu.RUnlock()

	if f.c.closed {
		return types.FlushSummary{}, ErrClosed
	}
	return f.c.engine.Flush(ctx, source)
}

// Close stops any workers and closes the local database. Queued items
// stay persisted for the next session.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.workers.Wait()
	return c.store.Close()
}

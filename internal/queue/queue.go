// Package queue implements the durable, capacity-bounded local write queue.
package queue

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/hyperengineering/vitalsync/internal/types"
)

// Defaults for Options fields left at zero.
const (
	DefaultCapacity   = 500
	DefaultWarnAt     = 400
	DefaultStorageKey = "vitalsync.queue.v1"
)

// Options configures a Queue.
type Options struct {
	Capacity   int    // hard maximum number of items
	WarnAt     int    // size at which Add starts reporting Warned
	StorageKey string // key the JSON array is stored under
}

// AddResult reports what Add did.
type AddResult struct {
	Added   bool     // false when the key was already queued
	Warned  bool     // queue is at or above the warning watermark
	Evicted []string // keys dropped to make room, oldest first
	Size    int      // queue size after the call
}

// Queue is the local write queue. It owns its state; all mutation goes
// through Add, Replace and Update. Persistence is best effort: storage
// failures are logged and never block the in-memory queue.
type Queue struct {
	mu       sync.Mutex
	items    []types.QueueItem
	storage  Storage
	key      string
	capacity int
	warnAt   int

	deliverMu sync.Mutex // held from mutation to delivery, keeps sizes in order
	subMu     sync.Mutex
	subs      map[int]func(size int)
	nextSub   int
}

// New creates a Queue and restores any previously persisted items.
// Unreadable or corrupted persisted data yields an empty queue.
func New(storage Storage, opts Options) *Queue {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.WarnAt <= 0 || opts.WarnAt > opts.Capacity {
		opts.WarnAt = min(DefaultWarnAt, opts.Capacity)
	}
	if opts.StorageKey == "" {
		opts.StorageKey = DefaultStorageKey
	}
	if storage == nil {
		storage = NewMemoryStorage()
	}

	q := &Queue{
		storage:  storage,
		key:      opts.StorageKey,
		capacity: opts.Capacity,
		warnAt:   opts.WarnAt,
		subs:     make(map[int]func(int)),
	}
	q.items = q.restore()
	return q
}

// Capacity returns the maximum queue size.
func (q *Queue) Capacity() int {
	return q.capacity
}

// Add appends item unless an item with the same idempotency key is queued.
// When the queue is full the oldest items are evicted first.
func (q *Queue) Add(item types.QueueItem) AddResult {
	q.mu.Lock()
	for _, existing := range q.items {
		if existing.IdempotencyKey == item.IdempotencyKey {
			res := AddResult{Size: len(q.items), Warned: len(q.items) >= q.warnAt}
			q.mu.Unlock()
			return res
		}
	}

	var evicted []string
	for len(q.items) >= q.capacity {
		evicted = append(evicted, q.items[0].IdempotencyKey)
		q.items = q.items[1:]
	}
	q.items = append(q.items, item)
	size := len(q.items)
	q.persistLocked()
	q.deliverMu.Lock()
	q.mu.Unlock()
	defer q.deliverMu.Unlock()

	if len(evicted) > 0 {
		slog.Warn("queue full, evicted oldest items",
			"component", "queue",
			"action", "evict",
			"evicted", len(evicted),
			"capacity", q.capacity,
		)
	}
	q.notify(size)

	return AddResult{
		Added:   true,
		Warned:  len(evicted) > 0 || size >= q.warnAt,
		Evicted: evicted,
		Size:    size,
	}
}

// All returns a snapshot of the queued items in insertion order.
func (q *Queue) All() []types.QueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]types.QueueItem, len(q.items))
	copy(out, q.items)
	return out
}

// Len returns the current queue size.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Replace atomically overwrites the queue with items.
func (q *Queue) Replace(items []types.QueueItem) {
	q.Update(func([]types.QueueItem) []types.QueueItem {
		return items
	})
}

// Update replaces the queue with fn(current) under the queue lock, so a
// read-modify-write cannot lose a concurrent Add. Duplicate keys in the
// result are dropped and the oldest items are trimmed past capacity.
func (q *Queue) Update(fn func(current []types.QueueItem) []types.QueueItem) {
	q.mu.Lock()
	current := make([]types.QueueItem, len(q.items))
	copy(current, q.items)
	next := normalize(fn(current), q.capacity)
	q.items = next
	size := len(next)
	q.persistLocked()
	q.deliverMu.Lock()
	q.mu.Unlock()
	defer q.deliverMu.Unlock()

	q.notify(size)
}

// Subscribe registers fn to be called with the queue size after every
// mutation, in mutation order. fn must not mutate the queue. The returned
// function removes the subscription.
func (q *Queue) Subscribe(fn func(size int)) func() {
	q.subMu.Lock()
	id := q.nextSub
	q.nextSub++
	q.subs[id] = fn
	q.subMu.Unlock()

	return func() {
		q.subMu.Lock()
		delete(q.subs, id)
		q.subMu.Unlock()
	}
}

func (q *Queue) notify(size int) {
	q.subMu.Lock()
	fns := make([]func(int), 0, len(q.subs))
	for _, fn := range q.subs {
		fns = append(fns, fn)
	}
	q.subMu.Unlock()

	for _, fn := range fns {
		fn(size)
	}
}

func (q *Queue) persistLocked() {
	data, err := json.Marshal(q.items)
	if err != nil {
		slog.Warn("failed to encode queue",
			"component", "queue",
			"action", "persist_failed",
			"error", err,
		)
		return
	}
	if err := q.storage.Save(q.key, data); err != nil {
		slog.Warn("failed to persist queue",
			"component", "queue",
			"action", "persist_failed",
			"error", err,
		)
	}
}

func (q *Queue) restore() []types.QueueItem {
	data, err := q.storage.Load(q.key)
	if err != nil {
		slog.Warn("failed to load persisted queue, starting empty",
			"component", "queue",
			"action", "restore_failed",
			"error", err,
		)
		return nil
	}
	if len(data) == 0 {
		return nil
	}

	var items []types.QueueItem
	if err := json.Unmarshal(data, &items); err != nil {
		slog.Warn("discarding corrupted persisted queue",
			"component", "queue",
			"action", "restore_corrupt",
			"error", err,
		)
		return nil
	}
	return normalize(items, q.capacity)
}

// normalize drops items without a key, keeps the first occurrence of each
// key and trims the oldest items beyond capacity.
func normalize(items []types.QueueItem, capacity int) []types.QueueItem {
	seen := make(map[string]struct{}, len(items))
	out := make([]types.QueueItem, 0, len(items))
	for _, it := range items {
		if it.IdempotencyKey == "" {
			continue
		}
		if _, dup := seen[it.IdempotencyKey]; dup {
			continue
		}
		seen[it.IdempotencyKey] = struct{}{}
		out = append(out, it)
	}
	if len(out) > capacity {
		out = out[len(out)-capacity:]
	}
	return out
}

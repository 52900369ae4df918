package flush

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hyperengineering/vitalsync/internal/types"
)

// --- Mock Implementations ---

// scriptedUpserter returns scripted results per key, one per call, and
// succeeds once a key's script is exhausted.
type scriptedUpserter struct {
	mu      sync.Mutex
	scripts map[string][]types.UpsertResult
	calls   map[string]int
	records map[string]types.RemoteRecord

	inFlight    int32
	maxInFlight int32
	delay       time.Duration
	onCall      func(key string)
}

func newScriptedUpserter() *scriptedUpserter {
	return &scriptedUpserter{
		scripts: make(map[string][]types.UpsertResult),
		calls:   make(map[string]int),
		records: make(map[string]types.RemoteRecord),
	}
}

// failTimes makes key fail n times with status before succeeding.
func (s *scriptedUpserter) failTimes(key string, n, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < n; i++ {
		s.scripts[key] = append(s.scripts[key], types.UpsertResult{
			Error:    fmt.Sprintf("http %d", status),
			Status:   status,
			Attempts: 1,
		})
	}
}

func (s *scriptedUpserter) UpsertOne(ctx context.Context, key string, record types.RemoteRecord) types.UpsertResult {
	n := atomic.AddInt32(&s.inFlight, 1)
	for {
		m := atomic.LoadInt32(&s.maxInFlight)
		if n <= m || atomic.CompareAndSwapInt32(&s.maxInFlight, m, n) {
			break
		}
	}
	defer atomic.AddInt32(&s.inFlight, -1)

	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.onCall != nil {
		s.onCall(key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[key]++
	if script := s.scripts[key]; len(script) > 0 {
		s.scripts[key] = script[1:]
		return script[0]
	}
	_, existed := s.records[key]
	s.records[key] = record
	return types.UpsertResult{OK: true, Created: !existed, RemoteID: "r-" + key, Attempts: 1}
}

func (s *scriptedUpserter) callCount(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[key]
}

func (s *scriptedUpserter) totalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.calls {
		total += n
	}
	return total
}

func makeItems(n int) []types.QueueItem {
	items := make([]types.QueueItem, n)
	for i := range items {
		items[i] = types.QueueItem{
			IdempotencyKey: fmt.Sprintf("S%03d:observation:2026-01-01T00:00:00Z:k%03d", i%3, i),
			Kind:           types.KindObservation,
			SubjectID:      fmt.Sprintf("S%03d", i%3),
			ObservedAt:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		}
	}
	return items
}

// --- Tests ---

func TestBatchFlush_AllSucceed(t *testing.T) {
	up := newScriptedUpserter()
	b := NewBatch(up, Provenance{}, BatchOptions{})
	items := makeItems(5)

	results, err := b.Flush(context.Background(), items)
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if len(results) != 5 {
		t.Fatalf("results = %d, want 5", len(results))
	}
	for _, it := range items {
		res := results[it.IdempotencyKey]
		if !res.OK || res.Attempts != 1 {
			t.Errorf("%s: %+v", it.IdempotencyKey, res)
		}
	}
}

func TestBatchFlush_SecondPassRetriesOnlyFailures(t *testing.T) {
	// Given: one item fails once, then succeeds
	up := newScriptedUpserter()
	items := makeItems(3)
	up.failTimes(items[1].IdempotencyKey, 1, http.StatusServiceUnavailable)
	b := NewBatch(up, Provenance{}, BatchOptions{})

	// When
	results, err := b.Flush(context.Background(), items)
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}

	// Then: only the failed item was called twice and its attempts add up
	if up.callCount(items[0].IdempotencyKey) != 1 || up.callCount(items[2].IdempotencyKey) != 1 {
		t.Error("succeeded items were retried")
	}
	if up.callCount(items[1].IdempotencyKey) != 2 {
		t.Errorf("failed item calls = %d, want 2", up.callCount(items[1].IdempotencyKey))
	}
	res := results[items[1].IdempotencyKey]
	if !res.OK || res.Attempts != 2 {
		t.Errorf("retried result = %+v, want ok with 2 attempts", res)
	}
}

func TestBatchFlush_PersistentFailureReportedAfterTwoPasses(t *testing.T) {
	up := newScriptedUpserter()
	items := makeItems(2)
	up.failTimes(items[0].IdempotencyKey, 5, http.StatusBadRequest)
	b := NewBatch(up, Provenance{}, BatchOptions{})

	results, err := b.Flush(context.Background(), items)
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	res := results[items[0].IdempotencyKey]
	if res.OK || res.Status != http.StatusBadRequest || res.Attempts != 2 {
		t.Errorf("result = %+v, want 400 failure with 2 attempts", res)
	}
	if !results[items[1].IdempotencyKey].OK {
		t.Error("independent item should succeed")
	}
}

func TestBatchFlush_BoundedConcurrency(t *testing.T) {
	up := newScriptedUpserter()
	up.delay = 10 * time.Millisecond
	b := NewBatch(up, Provenance{}, BatchOptions{Concurrency: 3})

	if _, err := b.Flush(context.Background(), makeItems(12)); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if got := atomic.LoadInt32(&up.maxInFlight); got > 3 {
		t.Errorf("max in flight = %d, want <= 3", got)
	}
}

func TestBatchFlush_ChunksProcessedInOrder(t *testing.T) {
	up := newScriptedUpserter()
	b := NewBatch(up, Provenance{}, BatchOptions{ChunkSize: 2, Concurrency: 1})
	items := makeItems(5)

	var mu sync.Mutex
	var order []string
	up.onCall = func(key string) {
		mu.Lock()
		order = append(order, key)
		mu.Unlock()
	}

	if _, err := b.Flush(context.Background(), items); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if len(order) != 5 {
		t.Fatalf("calls = %d, want 5", len(order))
	}
	for i, it := range items {
		if order[i] != it.IdempotencyKey {
			t.Errorf("call %d = %s, want %s", i, order[i], it.IdempotencyKey)
		}
	}
}

func TestBatchFlush_CancelledBeforeStart(t *testing.T) {
	up := newScriptedUpserter()
	b := NewBatch(up, Provenance{}, BatchOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := b.Flush(ctx, makeItems(3)); err == nil {
		t.Fatal("expected error for cancelled context")
	}
	if up.totalCalls() != 0 {
		t.Errorf("calls = %d, want 0", up.totalCalls())
	}
}

func TestBatchFlush_CancelBetweenChunksLeavesRestUnattempted(t *testing.T) {
	// Given: cancellation happens while the first chunk is running
	up := newScriptedUpserter()
	ctx, cancel := context.WithCancel(context.Background())
	up.onCall = func(string) { cancel() }
	b := NewBatch(up, Provenance{}, BatchOptions{ChunkSize: 2, Concurrency: 1})
	items := makeItems(5)

	// When
	results, err := b.Flush(ctx, items)

	// Then: the first chunk has results and later chunks were never sent
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("results = %d, want 2", len(results))
	}
	if _, ok := results[items[4].IdempotencyKey]; ok {
		t.Error("item of an unstarted chunk has a result")
	}
}

func TestBatchFlush_Empty(t *testing.T) {
	b := NewBatch(newScriptedUpserter(), Provenance{}, BatchOptions{})
	results, err := b.Flush(context.Background(), nil)
	if err != nil || len(results) != 0 {
		t.Errorf("Flush(nil) = %v, %v", results, err)
	}
}

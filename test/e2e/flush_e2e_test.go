package e2e

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hyperengineering/vitalsync/internal/api"
	"github.com/hyperengineering/vitalsync/internal/flush"
	"github.com/hyperengineering/vitalsync/internal/types"
	"github.com/hyperengineering/vitalsync/pkg/vitalsync"
)

// --- Offline → Online ---

func TestFlush_OfflineThenOnline(t *testing.T) {
	// Given: observations captured while the remote is unreachable
	srv := startDevServer(t, nil)
	srv.setFault(func(r *http.Request, _ []byte) fault {
		return fault{status: http.StatusServiceUnavailable}
	})
	c := newClient(t, srv.URL)
	keys := recordN(t, c, "U001", 3)

	// When: a flush runs offline
	_, err := c.Flush(context.Background())

	// Then: nothing is lost and the state reports the error
	if err == nil {
		t.Fatal("expected flush to fail while offline")
	}
	if c.QueueLen() != 3 {
		t.Fatalf("QueueLen = %d, want 3", c.QueueLen())
	}
	for _, it := range c.Queue() {
		if it.RetryCount != 0 || it.NextEligibleAt != nil {
			t.Errorf("offline flush must not reschedule items: %+v", it)
		}
	}
	if st := c.State(); st.Status != types.StatusError {
		t.Errorf("state = %s, want error", st.Status)
	}

	// When: connectivity returns
	srv.setFault(nil)
	summary, err := c.Flush(context.Background())

	// Then: every observation lands exactly once
	if err != nil {
		t.Fatalf("online flush: %v", err)
	}
	if summary.Sent != 3 || c.QueueLen() != 0 {
		t.Errorf("sent = %d, queue = %d; want 3, 0", summary.Sent, c.QueueLen())
	}
	for _, key := range keys {
		if n := len(srv.remoteByKey(t, key)); n != 1 {
			t.Errorf("remote copies of %s = %d, want 1", key, n)
		}
	}
}

// --- Idempotency ---

func TestFlush_LostCreateResponseDoesNotDuplicate(t *testing.T) {
	// Given: the first POST reaches the server but its response is lost
	srv := startDevServer(t, nil)
	var lost bool
	srv.setFault(func(r *http.Request, _ []byte) fault {
		if r.Method == http.MethodPost && !lost {
			lost = true
			return fault{status: http.StatusBadGateway, afterForward: true}
		}
		return fault{}
	})
	c := newClient(t, srv.URL)
	keys := recordN(t, c, "U001", 1)

	// When
	summary, err := c.Flush(context.Background())

	// Then: the second pass finds the record and updates it
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if summary.Sent != 1 || c.QueueLen() != 0 {
		t.Errorf("summary = %+v", summary)
	}
	if n := len(srv.remoteByKey(t, keys[0])); n != 1 {
		t.Errorf("remote copies = %d, want 1", n)
	}
	if summary.Entries[0].Created != 0 {
		t.Errorf("Created = %d, want 0 (record was updated)", summary.Entries[0].Created)
	}
}

func TestFlush_TwoDevicesSameKey(t *testing.T) {
	// Given: two devices queue the same logical entry (same client id)
	srv := startDevServer(t, nil)
	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	params := vitalsync.RecordParams{
		SubjectID:  "U001",
		ObservedAt: at,
		ClientID:   "shared1",
		Payload:    types.Payload{Memo: "first"},
	}
	a := newClient(t, srv.URL, func(c *vitalsync.Config) { c.DeviceID = "device-a" })
	b := newClient(t, srv.URL, func(c *vitalsync.Config) { c.DeviceID = "device-b" })
	a.Record(params)
	params.Payload.Memo = "second"
	b.Record(params)

	// When
	if _, err := a.Flush(context.Background()); err != nil {
		t.Fatalf("a.Flush: %v", err)
	}
	if _, err := b.Flush(context.Background()); err != nil {
		t.Fatalf("b.Flush: %v", err)
	}

	// Then: one remote record carrying the last write
	items := srv.remoteByKey(t, "U001:observation:2026-03-01T08:00:00Z:shared1")
	if len(items) != 1 {
		t.Fatalf("remote copies = %d, want 1", len(items))
	}
	if items[0].Fields["Memo"] != "second" || items[0].Fields["DeviceId"] != "device-b" {
		t.Errorf("remote fields = %v", items[0].Fields)
	}
	if items[0].Version != 2 {
		t.Errorf("Version = %d, want 2", items[0].Version)
	}
}

// --- Partial Failure and Backoff ---

func TestFlush_PartialFailureBacksOff(t *testing.T) {
	// Given: the server rejects every write for U003
	srv := startDevServer(t, nil)
	srv.setFault(func(r *http.Request, body []byte) fault {
		if r.Method == http.MethodPost && strings.Contains(string(body), `"SubjectId":"U003"`) {
			return fault{status: http.StatusBadRequest}
		}
		return fault{}
	})
	c := newClient(t, srv.URL)
	recordN(t, c, "U001", 2)
	recordN(t, c, "U002", 2)
	failing := recordN(t, c, "U003", 1)

	// When
	summary, err := c.Flush(context.Background())

	// Then: healthy items are delivered, the failing one is rescheduled
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if flush.Classify(summary) != flush.OutcomePartial {
		t.Errorf("outcome = %s, want partial", flush.Classify(summary))
	}
	if summary.Sent != 4 || summary.Remaining != 1 {
		t.Errorf("sent = %d, remaining = %d; want 4, 1", summary.Sent, summary.Remaining)
	}
	if len(summary.Failures) != 1 || summary.Failures[0].Status != http.StatusBadRequest {
		t.Errorf("failures = %+v", summary.Failures)
	}
	pending := c.Queue()
	if len(pending) != 1 || pending[0].IdempotencyKey != failing[0] {
		t.Fatalf("pending = %+v", pending)
	}
	if pending[0].RetryCount != 1 || pending[0].NextEligibleAt == nil || pending[0].LastError == "" {
		t.Errorf("pending item not rescheduled: %+v", pending[0])
	}

	// When: flushing again immediately
	before := srv.requestCount()
	again, err := c.Flush(context.Background())

	// Then: the held item is not sent
	if err != nil {
		t.Fatalf("second Flush: %v", err)
	}
	if again.Due != 0 || again.Held != 1 {
		t.Errorf("second cycle due = %d, held = %d; want 0, 1", again.Due, again.Held)
	}
	if srv.requestCount() != before {
		t.Error("a held item must not reach the server")
	}
}

func TestFlush_AllFailedReportsError(t *testing.T) {
	srv := startDevServer(t, nil)
	srv.setFault(func(r *http.Request, _ []byte) fault {
		if r.Method == http.MethodPost {
			return fault{status: http.StatusInternalServerError}
		}
		return fault{}
	})
	c := newClient(t, srv.URL)
	recordN(t, c, "U001", 2)

	summary, err := c.Flush(context.Background())
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if flush.Classify(summary) != flush.OutcomeAllFailed {
		t.Errorf("outcome = %s, want all-failed", flush.Classify(summary))
	}
	if st := c.State(); st.Status != types.StatusError || st.LastSummary == nil {
		t.Errorf("state = %+v", st)
	}
	if c.QueueLen() != 2 {
		t.Errorf("QueueLen = %d, want 2", c.QueueLen())
	}
}

// --- Volume and Throttling ---

func TestFlush_ManyItemsAcrossChunks(t *testing.T) {
	srv := startDevServer(t, nil)
	c := newClient(t, srv.URL, func(c *vitalsync.Config) { c.ChunkSize = 40 })
	for i := 0; i < 5; i++ {
		recordN(t, c, "U00"+string(rune('1'+i)), 50)
	}

	summary, err := c.Flush(context.Background())
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if summary.Sent != 250 || c.QueueLen() != 0 {
		t.Errorf("sent = %d, queue = %d; want 250, 0", summary.Sent, c.QueueLen())
	}
	if srv.list(t).Len() != 250 {
		t.Errorf("remote items = %d, want 250", srv.list(t).Len())
	}
	if len(summary.Entries) != 5 {
		t.Errorf("entries = %d, want 5", len(summary.Entries))
	}
}

func TestFlush_RateLimitedWritesRetryAfterWait(t *testing.T) {
	// Given: a server allowing one write per 300ms
	srv := startDevServer(t, api.NewWriteRateLimiter(1, 300*time.Millisecond))
	c := newClient(t, srv.URL, func(c *vitalsync.Config) {
		c.MaxAttempts = 4
		c.Concurrency = 1
	})
	keys := recordN(t, c, "U001", 2)

	// When
	summary, err := c.Flush(context.Background())

	// Then: the 429 is retried after Retry-After and both land
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if summary.Sent != 2 {
		t.Errorf("sent = %d, want 2", summary.Sent)
	}
	for _, key := range keys {
		if n := len(srv.remoteByKey(t, key)); n != 1 {
			t.Errorf("remote copies of %s = %d, want 1", key, n)
		}
	}
}

// --- Restart Durability ---

func TestFlush_QueueSurvivesRestartThenDelivers(t *testing.T) {
	srv := startDevServer(t, nil)
	dbPath := t.TempDir() + "/vitalsync.db"
	setPath := func(c *vitalsync.Config) { c.DBPath = dbPath }

	first := newClient(t, srv.URL, setPath)
	keys := recordN(t, first, "U001", 2)
	first.Close()

	second := newClient(t, srv.URL, setPath)
	if second.QueueLen() != 2 {
		t.Fatalf("restored queue = %d, want 2", second.QueueLen())
	}
	if _, err := second.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	for _, key := range keys {
		if n := len(srv.remoteByKey(t, key)); n != 1 {
			t.Errorf("remote copies of %s = %d, want 1", key, n)
		}
	}
}

// --- Connectivity Watcher ---

func TestWorkers_OnlineEventFlushes(t *testing.T) {
	// Given: the remote is down when the watcher starts
	srv := startDevServer(t, nil)
	srv.setFault(func(r *http.Request, _ []byte) fault {
		return fault{status: http.StatusServiceUnavailable}
	})
	c := newClient(t, srv.URL, func(c *vitalsync.Config) { c.ProbeInterval = 20 * time.Millisecond })
	recordN(t, c, "U001", 1)

	var (
		once   sync.Once
		source types.SyncSource
	)
	done := make(chan struct{})
	unsubscribe := c.Subscribe(func(st types.SyncState) {
		if st.Status == types.StatusSuccess {
			once.Do(func() {
				source = st.Source
				close(done)
			})
		}
	})
	defer unsubscribe()

	if err := c.StartWorkers(context.Background(), nil); err != nil {
		t.Fatalf("StartWorkers: %v", err)
	}
	time.Sleep(60 * time.Millisecond)

	// When: connectivity returns
	srv.setFault(nil)

	// Then: the watcher flushes with the online-event source
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("no flush after the remote came back")
	}
	if source != types.SourceOnlineEvent {
		t.Errorf("source = %s, want online-event", source)
	}
	if c.QueueLen() != 0 {
		t.Errorf("QueueLen = %d, want 0", c.QueueLen())
	}
}

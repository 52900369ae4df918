package e2e

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hyperengineering/vitalsync/internal/api"
	"github.com/hyperengineering/vitalsync/internal/lists"
	"github.com/hyperengineering/vitalsync/internal/types"
	"github.com/hyperengineering/vitalsync/pkg/vitalsync"
)

const (
	testAPIKey = "e2e-test-api-key"
	testList   = "vitals"
)

// --- Fault Injection ---

// fault decides how one request is treated. A zero status forwards the
// request normally. With afterForward the request reaches the list server
// but the client sees status, simulating a lost response.
type fault struct {
	status       int
	afterForward bool
	retryAfter   string
}

type faultFunc func(r *http.Request, body []byte) fault

// devServer is the dev list server behind a fault-injecting front.
type devServer struct {
	*httptest.Server
	registry *lists.Registry

	mu       sync.Mutex
	inject   faultFunc
	requests int
}

func startDevServer(t *testing.T, limiter *api.WriteRateLimiter) *devServer {
	t.Helper()
	d := &devServer{registry: lists.NewRegistry(false, testList)}
	router := api.NewRouter(api.NewHandler(d.registry, testAPIKey, "e2e"), limiter)

	d.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		r.Body = io.NopCloser(bytes.NewReader(body))

		d.mu.Lock()
		d.requests++
		inject := d.inject
		d.mu.Unlock()

		var f fault
		if inject != nil {
			f = inject(r, body)
		}
		if f.status == 0 {
			router.ServeHTTP(w, r)
			return
		}
		if f.afterForward {
			router.ServeHTTP(httptest.NewRecorder(), r)
		}
		if f.retryAfter != "" {
			w.Header().Set("Retry-After", f.retryAfter)
		}
		w.WriteHeader(f.status)
	}))
	t.Cleanup(d.Close)
	return d
}

func (d *devServer) setFault(fn faultFunc) {
	d.mu.Lock()
	d.inject = fn
	d.mu.Unlock()
}

func (d *devServer) requestCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.requests
}

func (d *devServer) list(t *testing.T) *lists.List {
	t.Helper()
	l, err := d.registry.Get(testList)
	if err != nil {
		t.Fatalf("get list: %v", err)
	}
	return l
}

// remoteByKey returns the remote items carrying key.
func (d *devServer) remoteByKey(t *testing.T, key string) []lists.Item {
	t.Helper()
	return d.list(t).Find(lists.Query{Filter: lists.Filter{{Field: lists.FieldKey, Value: key}}})
}

// --- Client Helpers ---

func newClient(t *testing.T, baseURL string, mutate ...func(*vitalsync.Config)) *vitalsync.Client {
	t.Helper()
	cfg := vitalsync.Config{
		DBPath:      filepath.Join(t.TempDir(), "vitalsync.db"),
		RemoteURL:   baseURL,
		List:        testList,
		APIKey:      testAPIKey,
		MaxAttempts: 1,
		BaseDelay:   time.Millisecond,
		MaxJitter:   -1,
		TimeZone:    "UTC",
		DeviceID:    "e2e-device",
		CreatedBy:   "e2e",
	}
	for _, fn := range mutate {
		fn(&cfg)
	}
	c, err := vitalsync.New(cfg)
	if err != nil {
		t.Fatalf("vitalsync.New: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func f64(v float64) *float64 { return &v }

// recordN queues n observations for subject and returns their keys.
func recordN(t *testing.T, c *vitalsync.Client, subject string, n int) []string {
	t.Helper()
	keys := make([]string, 0, n)
	for i := 0; i < n; i++ {
		rec, err := c.Record(vitalsync.RecordParams{
			SubjectID: subject,
			Payload:   types.Payload{Pulse: f64(float64(60 + i%40))},
		})
		if err != nil {
			t.Fatalf("Record: %v", err)
		}
		keys = append(keys, rec.Item.IdempotencyKey)
	}
	return keys
}

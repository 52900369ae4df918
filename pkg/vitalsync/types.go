// Package vitalsync is the client used by capture UIs: it records
// observations into the durable local queue and flushes them to the remote
// list, reporting progress through an observable sync state.
package vitalsync

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hyperengineering/vitalsync/internal/config"
	"github.com/hyperengineering/vitalsync/internal/queue"
	"github.com/hyperengineering/vitalsync/internal/types"
	"github.com/hyperengineering/vitalsync/internal/validation"
)

const (
	// DeviceIDKey is the local storage key holding the generated device id.
	DeviceIDKey = "vitalsync.device.v1"
	// HistoryPruneInterval is how often old flush history is deleted.
	HistoryPruneInterval = time.Hour
)

var (
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("client is closed")
	// ErrInvalidObservation is wrapped by *ValidationFailedError.
	ErrInvalidObservation = errors.New("invalid observation")
)

// Config holds the client configuration.
type Config struct {
	DBPath     string // Local database path; empty keeps the queue in memory
	StorageKey string // Key the queue is persisted under
	Capacity   int    // Queue capacity (default: 500)
	WarnAt     int    // Queue warning watermark (default: 400)

	RemoteURL  string       // Base URL of the list service; empty means offline only
	List       string       // Remote list name
	APIKey     string       // Bearer token for the list service
	HTTPClient *http.Client // Optional; RequestTimeout applies when nil

	MaxAttempts    int
	BaseDelay      time.Duration
	MaxJitter      time.Duration
	RequestTimeout time.Duration

	ChunkSize   int
	Concurrency int
	SummaryMode string // "live" (default) or "demo"

	AutoFlushInterval time.Duration // Zero disables the auto flush worker
	ProbeInterval     time.Duration // Zero disables the connectivity watcher
	HistoryRetention  time.Duration // Zero disables flush history pruning

	DeviceID  string // Generated and persisted when empty
	Source    string // Provenance tag stamped on records
	CreatedBy string
	TimeZone  string // IANA name; defaults to the local zone
}

// FromConfig maps loaded application settings onto a client Config.
func FromConfig(cfg *config.Config) Config {
	return Config{
		DBPath:            cfg.Queue.DBPath,
		StorageKey:        cfg.Queue.StorageKey,
		Capacity:          cfg.Queue.Capacity,
		WarnAt:            cfg.Queue.WarnAt,
		RemoteURL:         cfg.Remote.BaseURL,
		List:              cfg.Remote.List,
		APIKey:            cfg.Remote.APIKey,
		MaxAttempts:       cfg.Transport.MaxAttempts,
		BaseDelay:         cfg.Transport.BaseDelay.Std(),
		MaxJitter:         cfg.Transport.MaxJitter.Std(),
		RequestTimeout:    cfg.Transport.RequestTimeout.Std(),
		ChunkSize:         cfg.Flush.ChunkSize,
		Concurrency:       cfg.Flush.Concurrency,
		SummaryMode:       cfg.Flush.SummaryMode,
		AutoFlushInterval: cfg.Flush.AutoInterval.Std(),
		ProbeInterval:     cfg.Flush.ProbeInterval.Std(),
		HistoryRetention:  cfg.Flush.HistoryRetention.Std(),
		DeviceID:          cfg.Device.ID,
		Source:            cfg.Device.Source,
		CreatedBy:         cfg.Device.CreatedBy,
		TimeZone:          cfg.Device.TimeZone,
	}
}

// RecordParams holds parameters for recording one observation.
type RecordParams struct {
	SubjectID  string        // Subject the observation belongs to
	Kind       types.Kind    // Defaults to observation
	Payload    types.Payload // Vitals, memo and tags
	ObservedAt time.Time     // Defaults to now; required with ClientID
	ClientID   string        // Reused by callers retrying the same entry
}

// Recorded is the result of Record.
type Recorded struct {
	Item  types.QueueItem
	Queue queue.AddResult
}

// ValidationFailedError lists the fields that rejected an observation.
type ValidationFailedError struct {
	Fields []validation.ValidationError
}

func (e *ValidationFailedError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + " " + f.Message
	}
	return fmt.Sprintf("%s: %s", ErrInvalidObservation, strings.Join(parts, "; "))
}

func (e *ValidationFailedError) Unwrap() error {
	return ErrInvalidObservation
}

// HealthStatus reports local and remote availability.
type HealthStatus struct {
	LocalStore bool
	Remote     bool
	LastError  string
}

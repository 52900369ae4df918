package types

import (
	"time"
)

// Kind identifies the operation a queue item performs against the remote list.
type Kind string

const (
	KindObservation  Kind = "observation"
	KindSeizureEvent Kind = "seizure-event"
)

// Valid reports whether k is a known operation kind.
func (k Kind) Valid() bool {
	switch k {
	case KindObservation, KindSeizureEvent:
		return true
	default:
		return false
	}
}

// Payload holds the operation-specific fields of a write.
// A nil vital means "not measured" and is omitted on the wire.
// An empty Memo or empty Tags is likewise omitted.
type Payload struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	SystolicBP      *float64 `json:"systolicBp,omitempty"`
	DiastolicBP     *float64 `json:"diastolicBp,omitempty"`
	Pulse           *float64 `json:"pulse,omitempty"`
	SpO2            *float64 `json:"spo2,omitempty"`
	RespiratoryRate *float64 `json:"respiratoryRate,omitempty"`
	Memo            string   `json:"memo,omitempty"`
	Tags            []string `json:"tags,omitempty"`
}

// QueueItem is one pending write in the local queue.
// IdempotencyKey and ObservedAt are immutable once created; RetryCount,
// NextEligibleAt and LastError are only changed by the flush cycle.
type QueueItem struct {
	IdempotencyKey string     `json:"idempotencyKey"`
	Kind           Kind       `json:"kind"`
	SubjectID      string     `json:"subjectId"`
	Payload        Payload    `json:"payload"`
	ObservedAt     time.Time  `json:"observedAtUtc"`
	LocalTimeZone  string     `json:"localTimeZone,omitempty"`
	RetryCount     int        `json:"retryCount"`
	NextEligibleAt *time.Time `json:"nextEligibleAt,omitempty"`
	LastError      string     `json:"lastError,omitempty"`
}

// DueAt reports whether the item may be sent at now.
// An item without NextEligibleAt is always due.
func (it QueueItem) DueAt(now time.Time) bool {
	return it.NextEligibleAt == nil || !it.NextEligibleAt.After(now)
}

// RemoteRecord is the wire shape persisted in the remote list.
// Pointer and omitempty fields are absent when the source value was not provided.
type RemoteRecord struct {
	SubjectID       string   `json:"SubjectId"`
	Kind            string   `json:"Kind"`
	ObservedAt      string   `json:"ObservedAt"` // ISO 8601, UTC
	Temperature     *float64 `json:"Temperature,omitempty"`
	SystolicBP      *float64 `json:"SystolicBp,omitempty"`
	DiastolicBP     *float64 `json:"DiastolicBp,omitempty"`
	Pulse           *float64 `json:"Pulse,omitempty"`
	SpO2            *float64 `json:"SpO2,omitempty"`
	RespiratoryRate *float64 `json:"RespiratoryRate,omitempty"`
	Memo            string   `json:"Memo,omitempty"`
	Tags            string   `json:"Tags,omitempty"` // comma-joined
	IdempotencyKey  string   `json:"IdempotencyKey"`
	Source          string   `json:"Source,omitempty"`
	LocalTimeZone   string   `json:"LocalTimeZone,omitempty"`
	CreatedBy       string   `json:"CreatedBy,omitempty"`
	DeviceID        string   `json:"DeviceId,omitempty"`
	PayloadJSON     string   `json:"PayloadJson,omitempty"`
}

// UpsertResult is the per-key outcome of the upsert protocol.
type UpsertResult struct {
	OK       bool   `json:"ok"`
	Created  bool   `json:"created"` // meaningful only when OK
	RemoteID string `json:"remoteId,omitempty"`
	Error    string `json:"error,omitempty"`
	Status   int    `json:"status,omitempty"`
	Attempts int    `json:"attempts"`
	Canceled bool   `json:"canceled,omitempty"` // stopped by cancellation, not by the remote
}

// EntryStatus is the per-subject outcome inside a flush summary.
type EntryStatus string

const (
	EntryOK      EntryStatus = "ok"
	EntryError   EntryStatus = "error"
	EntryPartial EntryStatus = "partial"
)

// SummaryEntry aggregates the results of one subject within a flush cycle.
type SummaryEntry struct {
	SubjectID string      `json:"subjectId"`
	Status    EntryStatus `json:"status"`
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
	Created   int         `json:"created"`
}

// FailureSample describes one failed item for diagnostics.
type FailureSample struct {
	IdempotencyKey string `json:"idempotencyKey"`
	SubjectID      string `json:"subjectId"`
	Status         int    `json:"status,omitempty"`
	Error          string `json:"error"`
	Attempts       int    `json:"attempts"`
}

// FlushSummary aggregates one flush cycle.
type FlushSummary struct {
	Due           int             `json:"due"`
	Held          int             `json:"held"`
	Sent          int             `json:"sent"`
	Remaining     int             `json:"remaining"`
	OK            int             `json:"ok"`
	Error         int             `json:"error"`
	Partial       int             `json:"partial"`
	Entries       []SummaryEntry  `json:"entries"`
	Duration      time.Duration   `json:"duration"`
	TotalAttempts int             `json:"totalAttempts"`
	Failures      []FailureSample `json:"failures,omitempty"`
	StartedAt     time.Time       `json:"startedAt"`
}

// SyncStatus is the coarse state of the sync engine.
type SyncStatus string

const (
	StatusIdle    SyncStatus = "idle"
	StatusPending SyncStatus = "pending"
	StatusSuccess SyncStatus = "success"
	StatusError   SyncStatus = "error"
)

// SyncSource records what triggered a flush.
type SyncSource string

const (
	SourceManual      SyncSource = "manual"
	SourceOnlineEvent SyncSource = "online-event"
	SourceAuto        SyncSource = "auto"
)

// SyncState is the observable sync status consumed by UI layers.
type SyncState struct {
	Status      SyncStatus    `json:"status"`
	Source      SyncSource    `json:"source,omitempty"`
	LastSummary *FlushSummary `json:"lastSummary,omitempty"`
	LastError   string        `json:"lastError,omitempty"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

// RemoteRef identifies a record in the remote list together with the
// version token used for optimistic concurrency.
type RemoteRef struct {
	ID   string `json:"Id"`
	ETag string `json:"@etag,omitempty"`
}

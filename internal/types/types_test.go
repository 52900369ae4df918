package types

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestKind_Valid(t *testing.T) {
	tests := []struct {
		kind Kind
		want bool
	}{
		{KindObservation, true},
		{KindSeizureEvent, true},
		{Kind(""), false},
		{Kind("behavior"), false},
	}
	for _, tt := range tests {
		if got := tt.kind.Valid(); got != tt.want {
			t.Errorf("Kind(%q).Valid() = %v, want %v", tt.kind, got, tt.want)
		}
	}
}

func TestQueueItem_DueAt(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Second)
	future := now.Add(time.Second)

	tests := []struct {
		name string
		next *time.Time
		want bool
	}{
		{"no schedule", nil, true},
		{"past schedule", &past, true},
		{"exactly now", &now, true},
		{"future schedule", &future, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := QueueItem{IdempotencyKey: "k", NextEligibleAt: tt.next}
			if got := item.DueAt(now); got != tt.want {
				t.Errorf("DueAt() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRemoteRecord_OmitsAbsentOptionalFields(t *testing.T) {
	pulse := 72.0
	rec := RemoteRecord{
		SubjectID:      "U001",
		Kind:           "observation",
		ObservedAt:     "2026-01-01T00:00:00Z",
		Pulse:          &pulse,
		IdempotencyKey: "U001:observation:2026-01-01T00:00:00Z:ab12",
	}

	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	s := string(data)

	for _, key := range []string{`"SubjectId"`, `"ObservedAt"`, `"Pulse":72`, `"IdempotencyKey"`} {
		if !strings.Contains(s, key) {
			t.Errorf("expected %s in %s", key, s)
		}
	}
	for _, key := range []string{`"Temperature"`, `"SpO2"`, `"Memo"`, `"Tags"`, `"PayloadJson"`} {
		if strings.Contains(s, key) {
			t.Errorf("did not expect %s in %s", key, s)
		}
	}
}

func TestQueueItem_JSONKeys(t *testing.T) {
	next := time.Date(2026, 1, 1, 0, 0, 8, 0, time.UTC)
	item := QueueItem{
		IdempotencyKey: "k1",
		Kind:           KindObservation,
		SubjectID:      "U001",
		ObservedAt:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		RetryCount:     2,
		NextEligibleAt: &next,
		LastError:      "http 503",
	}

	data, err := json.Marshal(item)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded QueueItem
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if decoded.NextEligibleAt == nil || !decoded.NextEligibleAt.Equal(next) {
		t.Errorf("NextEligibleAt: got %v, want %v", decoded.NextEligibleAt, next)
	}
	if !strings.Contains(string(data), `"observedAtUtc"`) {
		t.Errorf("expected observedAtUtc key in %s", data)
	}
}

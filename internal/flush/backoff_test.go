package flush

import (
	"testing"
	"time"

	"github.com/hyperengineering/vitalsync/internal/types"
)

func TestScheduleNext_FollowsDelayTable(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		retryCount int
		wantDelay  time.Duration
	}{
		{0, 2 * time.Second},
		{1, 4 * time.Second},
		{2, 8 * time.Second},
		{3, 8 * time.Second},
		{10, 8 * time.Second},
		{-1, 2 * time.Second},
	}
	for _, tt := range tests {
		got := ScheduleNext(types.QueueItem{RetryCount: tt.retryCount}, now)
		if got.NextEligibleAt == nil {
			t.Fatalf("retryCount %d: NextEligibleAt not set", tt.retryCount)
		}
		if d := got.NextEligibleAt.Sub(now); d != tt.wantDelay {
			t.Errorf("retryCount %d: delay = %v, want %v", tt.retryCount, d, tt.wantDelay)
		}
		if got.RetryCount != tt.retryCount+1 {
			t.Errorf("retryCount %d: RetryCount = %d, want %d", tt.retryCount, got.RetryCount, tt.retryCount+1)
		}
	}
}

func TestScheduleNext_DelaysNeverShrink(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	item := types.QueueItem{IdempotencyKey: "k"}

	var prev time.Duration
	for i := 0; i < 6; i++ {
		item = ScheduleNext(item, now)
		d := item.NextEligibleAt.Sub(now)
		if d < prev {
			t.Fatalf("failure %d: delay %v shorter than previous %v", i+1, d, prev)
		}
		prev = d
	}
	if item.RetryCount != 6 {
		t.Errorf("RetryCount = %d, want 6", item.RetryCount)
	}
}

func TestScheduleNext_DoesNotMutateInput(t *testing.T) {
	item := types.QueueItem{IdempotencyKey: "k"}
	_ = ScheduleNext(item, time.Now())
	if item.RetryCount != 0 || item.NextEligibleAt != nil {
		t.Errorf("input mutated: %+v", item)
	}
}

func TestScheduleNext_ResultIsUTC(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*3600)
	got := ScheduleNext(types.QueueItem{}, time.Date(2026, 1, 1, 9, 0, 0, 0, loc))
	if got.NextEligibleAt.Location() != time.UTC {
		t.Errorf("location = %v, want UTC", got.NextEligibleAt.Location())
	}
}

package flush

import (
	"time"

	"github.com/hyperengineering/vitalsync/internal/types"
)

// DelayTable holds the wait before the next flush cycle may retry an item,
// indexed by how many times it has already failed. The last entry repeats.
var DelayTable = []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}

// ScheduleNext returns item with RetryCount incremented and NextEligibleAt
// set from DelayTable. It is deterministic in item.RetryCount and now.
func ScheduleNext(item types.QueueItem, now time.Time) types.QueueItem {
	idx := item.RetryCount
	if idx < 0 {
		idx = 0
	}
	if idx > len(DelayTable)-1 {
		idx = len(DelayTable) - 1
	}
	next := now.Add(DelayTable[idx]).UTC()
	item.RetryCount++
	item.NextEligibleAt = &next
	return item
}

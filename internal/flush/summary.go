package flush

import (
	"fmt"
	"time"

	"github.com/hyperengineering/vitalsync/internal/types"
)

// MaxFailureSamples bounds the failures kept in a summary.
const MaxFailureSamples = 5

// Outcome classifies a flush summary for user-facing messaging.
type Outcome string

const (
	OutcomeNothingToSend Outcome = "nothing-to-send"
	OutcomeAllOK         Outcome = "all-ok"
	OutcomePartial       Outcome = "partial"
	OutcomeAllFailed     Outcome = "all-failed"
)

// Classify derives the outcome from the ok/error/partial entry counts.
func Classify(s types.FlushSummary) Outcome {
	switch {
	case s.OK+s.Error+s.Partial == 0:
		return OutcomeNothingToSend
	case s.Error == 0 && s.Partial == 0:
		return OutcomeAllOK
	case s.OK == 0 && s.Partial == 0:
		return OutcomeAllFailed
	default:
		return OutcomePartial
	}
}

// Message returns the text shown to the user for o.
func (o Outcome) Message(s types.FlushSummary) string {
	switch o {
	case OutcomeNothingToSend:
		if s.Held > 0 {
			return fmt.Sprintf("Nothing to send right now; %d item(s) waiting to retry", s.Held)
		}
		return "No items to send"
	case OutcomeAllOK:
		return fmt.Sprintf("Sent %d item(s)", s.Sent)
	case OutcomePartial:
		return fmt.Sprintf("Sent %d item(s); %d still pending and will retry", s.Sent, s.Remaining)
	default:
		return fmt.Sprintf("Could not send %d item(s); they will retry automatically", s.Due)
	}
}

// SummaryProvider turns the measured summary of a cycle into the summary
// that is published. It is chosen once, at construction.
type SummaryProvider interface {
	Summarize(actual types.FlushSummary) types.FlushSummary
}

// LiveSummary publishes the measured summary unchanged.
type LiveSummary struct{}

// Summarize implements SummaryProvider.
func (LiveSummary) Summarize(actual types.FlushSummary) types.FlushSummary {
	return actual
}

// DemoSummary publishes a fixed summary regardless of what happened. It
// exists for demos and UI testing against an empty or fake backend.
type DemoSummary struct {
	Fixed types.FlushSummary
}

// Summarize implements SummaryProvider.
func (d DemoSummary) Summarize(actual types.FlushSummary) types.FlushSummary {
	out := d.Fixed
	out.StartedAt = actual.StartedAt
	out.Duration = actual.Duration
	return out
}

// DefaultDemoSummary is a partial-success cycle over two subjects.
func DefaultDemoSummary() types.FlushSummary {
	return types.FlushSummary{
		Due:       3,
		Sent:      2,
		Remaining: 1,
		OK:        1,
		Partial:   1,
		Entries: []types.SummaryEntry{
			{SubjectID: "demo-001", Status: types.EntryOK, Succeeded: 1, Created: 1},
			{SubjectID: "demo-002", Status: types.EntryPartial, Succeeded: 1, Failed: 1, Created: 1},
		},
		TotalAttempts: 4,
		Failures: []types.FailureSample{
			{IdempotencyKey: "demo-002:observation:demo", SubjectID: "demo-002", Status: 503, Error: "http 503", Attempts: 2},
		},
	}
}

// NewSummaryProvider returns the provider for mode ("live" or "demo").
func NewSummaryProvider(mode string) (SummaryProvider, error) {
	switch mode {
	case "", "live":
		return LiveSummary{}, nil
	case "demo":
		return DemoSummary{Fixed: DefaultDemoSummary()}, nil
	default:
		return nil, fmt.Errorf("unknown summary mode %q", mode)
	}
}

// summarize builds the measured summary of one cycle. Entries are grouped
// per subject in order of first appearance in due.
func summarize(due []types.QueueItem, held int, results map[string]types.UpsertResult, remaining int, startedAt time.Time, duration time.Duration) types.FlushSummary {
	s := types.FlushSummary{
		Due:       len(due),
		Held:      held,
		Remaining: remaining,
		StartedAt: startedAt,
		Duration:  duration,
		Entries:   []types.SummaryEntry{},
	}

	index := make(map[string]int)
	for _, item := range due {
		res, attempted := results[item.IdempotencyKey]
		if !attempted {
			continue
		}
		s.TotalAttempts += res.Attempts

		i, ok := index[item.SubjectID]
		if !ok {
			i = len(s.Entries)
			index[item.SubjectID] = i
			s.Entries = append(s.Entries, types.SummaryEntry{SubjectID: item.SubjectID})
		}
		entry := &s.Entries[i]

		if res.OK {
			s.Sent++
			entry.Succeeded++
			if res.Created {
				entry.Created++
			}
			continue
		}
		entry.Failed++
		if len(s.Failures) < MaxFailureSamples {
			s.Failures = append(s.Failures, types.FailureSample{
				IdempotencyKey: item.IdempotencyKey,
				SubjectID:      item.SubjectID,
				Status:         res.Status,
				Error:          res.Error,
				Attempts:       res.Attempts,
			})
		}
	}

	for i := range s.Entries {
		e := &s.Entries[i]
		switch {
		case e.Failed == 0:
			e.Status = types.EntryOK
			s.OK++
		case e.Succeeded == 0:
			e.Status = types.EntryError
			s.Error++
		default:
			e.Status = types.EntryPartial
			s.Partial++
		}
	}
	return s
}

// Package idempotency derives stable keys that identify one logical write.
package idempotency

import (
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// BuildKey returns the idempotency key for a write of kind on subjectID
// observed at ts. The result is deterministic for identical inputs.
//
// disambiguator distinguishes writes that legitimately share subject, kind
// and second (two manual entries within one second). Callers retrying the
// same logical action must reuse the disambiguator they were first given.
// An empty disambiguator yields a key without the trailing segment.
func BuildKey(subjectID, kind string, ts time.Time, disambiguator string) string {
	parts := []string{
		strings.TrimSpace(subjectID),
		strings.TrimSpace(kind),
		ts.UTC().Truncate(time.Second).Format(time.RFC3339),
	}
	if d := strings.TrimSpace(disambiguator); d != "" {
		parts = append(parts, d)
	}
	return strings.Join(parts, ":")
}

// NewDisambiguator returns a short random, lowercase suffix drawn from the
// entropy half of a fresh ULID.
func NewDisambiguator() string {
	id := ulid.Make().String()
	return strings.ToLower(id[len(id)-8:])
}

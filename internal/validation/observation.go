package validation

import (
	"strings"

	"github.com/hyperengineering/vitalsync/internal/types"
)

// Field limits for observations.
const (
	MaxSubjectIDLength = 64
	MaxMemoLength      = 2000
	MaxTags            = 20
	MaxTagLength       = 40
)

// vitalRange is the accepted range of one measured vital.
type vitalRange struct {
	field    string
	wire     string
	min, max float64
	value    func(types.Payload) *float64
}

var vitalRanges = []vitalRange{
	{"temperature", "Temperature", 25, 45, func(p types.Payload) *float64 { return p.Temperature }},
	{"systolicBp", "SystolicBp", 40, 300, func(p types.Payload) *float64 { return p.SystolicBP }},
	{"diastolicBp", "DiastolicBp", 20, 200, func(p types.Payload) *float64 { return p.DiastolicBP }},
	{"pulse", "Pulse", 20, 300, func(p types.Payload) *float64 { return p.Pulse }},
	{"spo2", "SpO2", 0, 100, func(p types.Payload) *float64 { return p.SpO2 }},
	{"respiratoryRate", "RespiratoryRate", 0, 100, func(p types.Payload) *float64 { return p.RespiratoryRate }},
}

var kinds = []string{string(types.KindObservation), string(types.KindSeizureEvent)}

// ValidateObservation checks a write before it is queued.
func ValidateObservation(subjectID string, kind types.Kind, p types.Payload) []ValidationError {
	var c Collector

	c.Add(ValidateRequired("subjectId", subjectID))
	c.Add(ValidateMaxLength("subjectId", subjectID, MaxSubjectIDLength))
	// The key builder joins parts with ':'.
	if strings.Contains(subjectID, ":") {
		c.Add(&ValidationError{Field: "subjectId", Message: "must not contain ':'"})
	}
	c.Add(ValidateEnum("kind", string(kind), kinds))
	validatePayload(&c, p)

	return c.Errors()
}

func validatePayload(c *Collector, p types.Payload) {
	for _, vr := range vitalRanges {
		if v := vr.value(p); v != nil {
			c.Add(ValidateRange(vr.field, *v, vr.min, vr.max))
		}
	}
	if p.SystolicBP != nil && p.DiastolicBP != nil && *p.DiastolicBP > *p.SystolicBP {
		c.Add(&ValidationError{Field: "diastolicBp", Message: "must not exceed systolicBp"})
	}

	c.Add(ValidateUTF8("memo", p.Memo))
	c.Add(ValidateNoNullBytes("memo", p.Memo))
	c.Add(ValidateMaxLength("memo", p.Memo, MaxMemoLength))

	if len(p.Tags) > MaxTags {
		c.Add(&ValidationError{Field: "tags", Message: "too many tags"})
	}
	for _, tag := range p.Tags {
		c.Add(ValidateRequired("tags", tag))
		c.Add(ValidateMaxLength("tags", tag, MaxTagLength))
		// Tags travel comma-joined.
		if strings.Contains(tag, ",") {
			c.Add(&ValidationError{Field: "tags", Message: "must not contain ','"})
		}
	}
}

// ValidateRecord checks a record received by the list server. Identity
// fields are required on create only; updates may be partial.
func ValidateRecord(rec types.RemoteRecord, create bool) []ValidationError {
	var c Collector

	if create {
		c.Add(ValidateRequired("IdempotencyKey", rec.IdempotencyKey))
		c.Add(ValidateRequired("SubjectId", rec.SubjectID))
		c.Add(ValidateRequired("ObservedAt", rec.ObservedAt))
	}
	if rec.Kind != "" || create {
		c.Add(ValidateEnum("Kind", rec.Kind, kinds))
	}
	c.Add(ValidateNoNullBytes("Memo", rec.Memo))
	c.Add(ValidateMaxLength("Memo", rec.Memo, MaxMemoLength))
	vitals := types.Payload{
		Temperature:     rec.Temperature,
		SystolicBP:      rec.SystolicBP,
		DiastolicBP:     rec.DiastolicBP,
		Pulse:           rec.Pulse,
		SpO2:            rec.SpO2,
		RespiratoryRate: rec.RespiratoryRate,
	}
	for _, vr := range vitalRanges {
		if v := vr.value(vitals); v != nil {
			c.Add(ValidateRange(vr.wire, *v, vr.min, vr.max))
		}
	}

	return c.Errors()
}

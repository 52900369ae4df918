package validation

import (
	"math"
	"strings"
	"testing"

	"github.com/hyperengineering/vitalsync/internal/types"
)

func f64(v float64) *float64 { return &v }

func hasField(errs []ValidationError, field string) bool {
	for _, e := range errs {
		if e.Field == field {
			return true
		}
	}
	return false
}

// --- Helper validators ---

func TestValidateUTF8(t *testing.T) {
	if err := ValidateUTF8("memo", "体温 36.6"); err != nil {
		t.Errorf("ValidateUTF8(valid) = %v, want nil", err)
	}
	err := ValidateUTF8("memo", string([]byte{0xff, 0xfe}))
	if err == nil || err.Field != "memo" {
		t.Errorf("ValidateUTF8(invalid) = %v, want memo error", err)
	}
}

func TestValidateNoNullBytes(t *testing.T) {
	if err := ValidateNoNullBytes("memo", "calm"); err != nil {
		t.Errorf("ValidateNoNullBytes(clean) = %v", err)
	}
	if err := ValidateNoNullBytes("memo", "ca\x00lm"); err == nil {
		t.Error("ValidateNoNullBytes(with null) = nil, want error")
	}
}

func TestValidateMaxLength_CountsRunes(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		max     int
		wantErr bool
	}{
		{"within", "abc", 5, false},
		{"at limit", "abcde", 5, false},
		{"exceeds", "abcdef", 5, true},
		{"multibyte at limit", "体温体温体", 5, false},
		{"multibyte exceeds", "体温体温体温", 5, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMaxLength("memo", tt.value, tt.max)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateMaxLength(%q, %d) = %v, wantErr %v", tt.value, tt.max, err, tt.wantErr)
			}
		})
	}
}

func TestValidateULID(t *testing.T) {
	if err := ValidateULID("id", "01ARZ3NDEKTSV4RRFFQ69G5FAV"); err != nil {
		t.Errorf("ValidateULID(valid) = %v", err)
	}
	for _, bad := range []string{"", "01ARZ3NDEK", "01ARZ3NDEKTSV4RRFFQ69G5FAVX", "01ARZ3NDEKTSV4RRFFQ69G5FA!"} {
		if err := ValidateULID("id", bad); err == nil {
			t.Errorf("ValidateULID(%q) = nil, want error", bad)
		}
	}
}

func TestValidateRequired(t *testing.T) {
	if err := ValidateRequired("subjectId", "U001"); err != nil {
		t.Errorf("ValidateRequired(U001) = %v", err)
	}
	for _, v := range []string{"", "   ", "\t\n"} {
		if err := ValidateRequired("subjectId", v); err == nil {
			t.Errorf("ValidateRequired(%q) = nil, want error", v)
		}
	}
}

func TestValidateEnum_CaseSensitive(t *testing.T) {
	allowed := []string{"observation", "seizure-event"}
	if err := ValidateEnum("kind", "observation", allowed); err != nil {
		t.Errorf("ValidateEnum(observation) = %v", err)
	}
	err := ValidateEnum("kind", "Observation", allowed)
	if err == nil || !strings.Contains(err.Message, "observation, seizure-event") {
		t.Errorf("ValidateEnum(Observation) = %v, want error listing allowed values", err)
	}
}

func TestValidateRange(t *testing.T) {
	tests := []struct {
		name    string
		value   float64
		wantErr bool
	}{
		{"min", 0, false},
		{"max", 100, false},
		{"middle", 97, false},
		{"below", -0.1, true},
		{"above", 100.1, true},
		{"nan", math.NaN(), true},
		{"inf", math.Inf(1), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRange("spo2", tt.value, 0, 100)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateRange(%v) = %v, wantErr %v", tt.value, err, tt.wantErr)
			}
		})
	}
}

func TestCollector(t *testing.T) {
	var c Collector
	if c.HasErrors() {
		t.Error("new collector has errors")
	}
	c.Add(nil)
	c.Add(&ValidationError{Field: "a", Message: "x"})
	c.Add(nil)
	c.Add(&ValidationError{Field: "b", Message: "y"})
	if !c.HasErrors() || len(c.Errors()) != 2 {
		t.Errorf("Errors() = %v, want 2", c.Errors())
	}
}

// --- Observations ---

func TestValidateObservation_Valid(t *testing.T) {
	errs := ValidateObservation("U001", types.KindObservation, types.Payload{
		Temperature: f64(36.6),
		SystolicBP:  f64(120),
		DiastolicBP: f64(80),
		SpO2:        f64(98),
		Memo:        "after lunch",
		Tags:        []string{"rest"},
	})
	if len(errs) != 0 {
		t.Errorf("errors = %v, want none", errs)
	}
}

func TestValidateObservation_SeizureEventWithoutVitals(t *testing.T) {
	if errs := ValidateObservation("U002", types.KindSeizureEvent, types.Payload{Memo: "tonic 30s"}); len(errs) != 0 {
		t.Errorf("errors = %v, want none", errs)
	}
}

func TestValidateObservation_Invalid(t *testing.T) {
	tests := []struct {
		name      string
		subjectID string
		kind      types.Kind
		payload   types.Payload
		wantField string
	}{
		{"missing subject", "", types.KindObservation, types.Payload{}, "subjectId"},
		{"colon in subject", "U:1", types.KindObservation, types.Payload{}, "subjectId"},
		{"unknown kind", "U001", types.Kind("meal"), types.Payload{}, "kind"},
		{"temperature too high", "U001", types.KindObservation, types.Payload{Temperature: f64(50)}, "temperature"},
		{"pulse nan", "U001", types.KindObservation, types.Payload{Pulse: f64(math.NaN())}, "pulse"},
		{"diastolic above systolic", "U001", types.KindObservation, types.Payload{SystolicBP: f64(90), DiastolicBP: f64(100)}, "diastolicBp"},
		{"memo too long", "U001", types.KindObservation, types.Payload{Memo: strings.Repeat("a", MaxMemoLength+1)}, "memo"},
		{"comma in tag", "U001", types.KindObservation, types.Payload{Tags: []string{"a,b"}}, "tags"},
		{"empty tag", "U001", types.KindObservation, types.Payload{Tags: []string{" "}}, "tags"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := ValidateObservation(tt.subjectID, tt.kind, tt.payload)
			if !hasField(errs, tt.wantField) {
				t.Errorf("errors = %v, want one for %s", errs, tt.wantField)
			}
		})
	}
}

// --- Records ---

func TestValidateRecord_CreateRequiresIdentity(t *testing.T) {
	errs := ValidateRecord(types.RemoteRecord{}, true)
	for _, field := range []string{"IdempotencyKey", "SubjectId", "ObservedAt", "Kind"} {
		if !hasField(errs, field) {
			t.Errorf("missing error for %s in %v", field, errs)
		}
	}
}

func TestValidateRecord_UpdateMayBePartial(t *testing.T) {
	if errs := ValidateRecord(types.RemoteRecord{Memo: "updated"}, false); len(errs) != 0 {
		t.Errorf("errors = %v, want none", errs)
	}
}

func TestValidateRecord_VitalOutOfRangeUsesWireName(t *testing.T) {
	errs := ValidateRecord(types.RemoteRecord{SpO2: f64(120)}, false)
	if !hasField(errs, "SpO2") {
		t.Errorf("errors = %v, want SpO2", errs)
	}
}

package effect

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/PaesslerAG/jsonpath"
)

func TestTypeName(t *testing.T) {
	if got := TypeName("OBSERVATION", MethodCreate); got != "CREATE_OBSERVATION" {
		t.Errorf("expected CREATE_OBSERVATION, got %s", got)
	}
	if got := TypeName("EXTERNAL_EVENT", MethodUpdate); got != "UPDATE_EXTERNAL_EVENT" {
		t.Errorf("expected UPDATE_EXTERNAL_EVENT, got %s", got)
	}
}

func TestNew_WrapsValuesInData(t *testing.T) {
	e, err := New("OBSERVATION", MethodCreate, map[string]interface{}{
		"name":    "Blood Pressure",
		"note_id": 456,
		"units":   nil,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if e.Type != "CREATE_OBSERVATION" {
		t.Errorf("expected CREATE_OBSERVATION, got %s", e.Type)
	}

	data, err := e.Data()
	if err != nil {
		t.Fatalf("Data: %v", err)
	}
	name, err := jsonpath.Get("$.name", data)
	if err != nil || name != "Blood Pressure" {
		t.Errorf("expected name Blood Pressure, got %v (%v)", name, err)
	}
	note, err := jsonpath.Get("$.note_id", data)
	if err != nil || note != float64(456) {
		t.Errorf("expected note_id 456, got %v (%v)", note, err)
	}
	if v, ok := data["units"]; !ok || v != nil {
		t.Errorf("expected units null, got %v (present=%v)", v, ok)
	}
}

func TestNew_NilValues(t *testing.T) {
	e, err := New("OBSERVATION", MethodUpdate, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if e.Payload != `{"data":{}}` {
		t.Errorf("unexpected payload: %s", e.Payload)
	}
}

func TestNew_UnencodableValue(t *testing.T) {
	_, err := New("OBSERVATION", MethodCreate, map[string]interface{}{"bad": make(chan int)})
	if err == nil {
		t.Error("expected marshal error")
	}
}

func TestFormatDateTime(t *testing.T) {
	tests := []struct {
		in   time.Time
		want string
	}{
		{time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC), "2024-01-15T10:30:00"},
		{time.Date(2024, 1, 15, 10, 30, 0, 250000000, time.UTC), "2024-01-15T10:30:00.250000"},
		{time.Date(2024, 1, 15, 10, 30, 0, 0, time.FixedZone("EST", -5*3600)), "2024-01-15T10:30:00-05:00"},
	}
	for _, tt := range tests {
		if got := FormatDateTime(tt.in); got != tt.want {
			t.Errorf("FormatDateTime(%v) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestParseDateTime(t *testing.T) {
	want := time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)
	for _, in := range []string{"2024-03-15T10:30:00Z", "2024-03-15T10:30:00", "2024-03-15 10:30:00", "2024-03-15T05:30:00-05:00"} {
		got, err := ParseDateTime(in)
		if err != nil {
			t.Errorf("ParseDateTime(%q): %v", in, err)
			continue
		}
		if !got.Equal(want) {
			t.Errorf("ParseDateTime(%q) = %v, want %v", in, got, want)
		}
	}

	if _, err := ParseDateTime("15/03/2024"); err == nil {
		t.Error("expected error for unsupported format")
	}
}

func TestValidate(t *testing.T) {
	if err := Validate("OBSERVATION", MethodCreate, nil); err != nil {
		t.Errorf("expected nil for no details, got %v", err)
	}

	err := Validate("OBSERVATION", MethodCreate, []ErrorDetail{
		NewDetail(DetailValue, "name", "Name is required when creating a new observation.", nil),
		NewDetail(DetailMissing, "patient_id", "Patient ID is required.", ""),
	})

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if len(verr.Details) != 2 {
		t.Errorf("expected 2 details, got %d", len(verr.Details))
	}
	msg := verr.Error()
	if !strings.HasPrefix(msg, "2 validation errors for CREATE_OBSERVATION") {
		t.Errorf("unexpected error header: %s", msg)
	}
	if !strings.Contains(msg, "name: Name is required when creating a new observation.") {
		t.Errorf("expected name detail in message: %s", msg)
	}
}

func TestValidationError_Outcome(t *testing.T) {
	verr := &ValidationError{
		Effect: "EXTERNAL_EVENT",
		Method: MethodCreate,
		Details: []ErrorDetail{
			NewDetail(DetailValue, "external_event_id", "should not be set", "e-1"),
			NewDetail(DetailMissing, "event_type", "is required", nil),
		},
	}
	o := verr.Outcome()
	if len(o.Issue) != 2 {
		t.Fatalf("expected 2 issues, got %d", len(o.Issue))
	}
	if o.Issue[0].Code != "value" || o.Issue[1].Code != "required" {
		t.Errorf("unexpected issue codes: %s, %s", o.Issue[0].Code, o.Issue[1].Code)
	}
	if o.Issue[1].Expression[0] != "event_type" {
		t.Errorf("expected expression event_type, got %v", o.Issue[1].Expression)
	}
	if !o.HasErrors() {
		t.Error("expected outcome to carry errors")
	}
}

package effect

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"
)

func TestTracker_OrderAndDuplicates(t *testing.T) {
	var tr Tracker
	tr.Mark("name")
	tr.Mark("value")
	tr.Mark("name")

	if got := tr.Dirty(); !reflect.DeepEqual(got, []string{"name", "value"}) {
		t.Errorf("expected [name value], got %v", got)
	}
	if !tr.IsDirty("value") {
		t.Error("expected value to be dirty")
	}
	if tr.IsDirty("units") {
		t.Error("expected units to be clean")
	}

	tr.Reset()
	if len(tr.Dirty()) != 0 || tr.IsDirty("name") {
		t.Error("expected Reset to clear all fields")
	}
}

func TestFields_ExplicitNilIsDirty(t *testing.T) {
	var f Fields
	f.Set("units", nil)

	if !f.IsDirty("units") {
		t.Fatal("expected nil assignment to mark the field dirty")
	}
	if f.Present("units") {
		t.Error("nil value should not count as present")
	}

	values := f.Values()
	v, ok := values["units"]
	if !ok || v != nil {
		t.Errorf("expected units: nil in values, got %v (present=%v)", v, ok)
	}
}

func TestFields_Present(t *testing.T) {
	var f Fields
	f.Set("empty", "")
	f.Set("name", "Weight")
	f.Set("note_id", int64(0))

	if f.Present("empty") {
		t.Error("empty string should not count as present")
	}
	if !f.Present("name") {
		t.Error("expected name to be present")
	}
	if !f.Present("note_id") {
		t.Error("a zero integer is still an assigned value")
	}
	if f.Present("missing") {
		t.Error("unset field should not be present")
	}
	if f.String("note_id") != "" {
		t.Error("String of a non-string field should be empty")
	}
}

func TestFields_ValuesOnlyDirty(t *testing.T) {
	var f Fields
	f.Set("value", "125/85")
	f.Set("effective_datetime", time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC))

	values := f.Values()
	if len(values) != 2 {
		t.Fatalf("expected 2 values, got %d: %v", len(values), values)
	}
	if values["effective_datetime"] != "2024-01-15T10:30:00" {
		t.Errorf("unexpected datetime rendering: %v", values["effective_datetime"])
	}

	f.Reset()
	if len(f.Values()) != 0 {
		t.Error("expected no values after Reset")
	}
}

func TestDecode(t *testing.T) {
	var f Fields
	var name string
	var note int64
	var at time.Time
	setters := map[string]Setter{
		"name":               StringSetter(func(s string) { name = s; f.Set("name", s) }),
		"note_id":            IntSetter(func(n int64) { note = n; f.Set("note_id", n) }),
		"effective_datetime": DateTimeSetter(func(t time.Time) { at = t; f.Set("effective_datetime", t) }),
		"units":              StringSetter(func(s string) { f.Set("units", s) }),
	}

	body := []byte(`{"name":"Weight","note_id":42,"effective_datetime":"2024-03-15T10:30:00Z","units":null}`)
	if err := Decode(body, &f, setters); err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if name != "Weight" || note != 42 {
		t.Errorf("unexpected decoded values: name=%q note=%d", name, note)
	}
	if !at.Equal(time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)) {
		t.Errorf("unexpected datetime: %v", at)
	}
	if v, ok := f.Get("units"); !ok || v != nil {
		t.Errorf("expected units to be an explicit nil, got %v (set=%v)", v, ok)
	}
	if got := f.Dirty(); !reflect.DeepEqual(got, []string{"effective_datetime", "name", "note_id", "units"}) {
		t.Errorf("expected keys applied in sorted order, got %v", got)
	}
}

func TestDecode_Errors(t *testing.T) {
	setters := map[string]Setter{
		"note_id": IntSetter(func(int64) {}),
	}
	tests := []struct {
		name string
		body string
	}{
		{"not an object", `[1,2]`},
		{"unknown field", `{"colour":"red"}`},
		{"wrong type", `{"note_id":"abc"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var f Fields
			if err := Decode([]byte(tt.body), &f, setters); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestDecode_BadDateTime(t *testing.T) {
	var f Fields
	setters := map[string]Setter{
		"event_datetime": DateTimeSetter(func(time.Time) {}),
	}
	raw, _ := json.Marshal(map[string]string{"event_datetime": "yesterday"})
	if err := Decode(raw, &f, setters); err == nil {
		t.Error("expected error for unparseable datetime")
	}
}

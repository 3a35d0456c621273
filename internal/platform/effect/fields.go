package effect

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Tracker records which fields were assigned, in first-assignment order.
// The zero value is ready to use.
type Tracker struct {
	order []string
	set   map[string]struct{}
}

func (t *Tracker) Mark(field string) {
	if t.set == nil {
		t.set = make(map[string]struct{})
	}
	if _, ok := t.set[field]; ok {
		return
	}
	t.set[field] = struct{}{}
	t.order = append(t.order, field)
}

func (t *Tracker) IsDirty(field string) bool {
	_, ok := t.set[field]
	return ok
}

func (t *Tracker) Dirty() []string {
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}

func (t *Tracker) Reset() {
	t.order = nil
	t.set = nil
}

// Fields stores the assigned values of an effect builder alongside their
// dirty state. A field set to nil is dirty and serializes as null.
type Fields struct {
	Tracker
	values map[string]interface{}
}

func (f *Fields) Set(name string, v interface{}) {
	if f.values == nil {
		f.values = make(map[string]interface{})
	}
	f.values[name] = v
	f.Mark(name)
}

func (f *Fields) Get(name string) (interface{}, bool) {
	v, ok := f.values[name]
	return v, ok
}

// String returns the field as a string, or "" when unset, nil or not a string.
func (f *Fields) String(name string) string {
	s, _ := f.values[name].(string)
	return s
}

// Present reports whether the field holds a usable value: set, not nil and
// not an empty string.
func (f *Fields) Present(name string) bool {
	v, ok := f.values[name]
	if !ok || v == nil {
		return false
	}
	if s, isStr := v.(string); isStr {
		return s != ""
	}
	return true
}

func (f *Fields) Reset() {
	f.Tracker.Reset()
	f.values = nil
}

// Values returns the dirty fields ready for JSON encoding.
func (f *Fields) Values() map[string]interface{} {
	out := make(map[string]interface{}, len(f.order))
	for _, name := range f.order {
		switch v := f.values[name].(type) {
		case time.Time:
			out[name] = FormatDateTime(v)
		default:
			out[name] = v
		}
	}
	return out
}

// Setter decodes one JSON field and assigns it.
type Setter func(raw json.RawMessage) error

// Decode applies a JSON object to a builder. Keys are applied in sorted
// order; null assigns an explicit nil; unknown keys are rejected.
func Decode(data []byte, f *Fields, setters map[string]Setter) error {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("decode effect body: %w", err)
	}

	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		set, ok := setters[k]
		if !ok {
			return fmt.Errorf("unknown field %q", k)
		}
		raw := doc[k]
		if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			f.Set(k, nil)
			continue
		}
		if err := set(raw); err != nil {
			return fmt.Errorf("field %q: %w", k, err)
		}
	}
	return nil
}

func StringSetter(assign func(string)) Setter {
	return func(raw json.RawMessage) error {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		assign(s)
		return nil
	}
}

func IntSetter(assign func(int64)) Setter {
	return func(raw json.RawMessage) error {
		var n int64
		if err := json.Unmarshal(raw, &n); err != nil {
			return err
		}
		assign(n)
		return nil
	}
}

func DateTimeSetter(assign func(time.Time)) Setter {
	return func(raw json.RawMessage) error {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		t, err := ParseDateTime(s)
		if err != nil {
			return err
		}
		assign(t)
		return nil
	}
}

// JSONSetter decodes the raw value into T.
func JSONSetter[T any](assign func(T)) Setter {
	return func(raw json.RawMessage) error {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		assign(v)
		return nil
	}
}

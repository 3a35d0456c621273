package observation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/canvas-medical/canvas-plugins-sub000/internal/platform/effect"
)

// EffectType is the command suffix for observation effects.
const EffectType = "OBSERVATION"

// CodingData is a coding attached to an observation effect. Every key is
// always serialized.
type CodingData struct {
	Code         string `json:"code"`
	Display      string `json:"display"`
	System       string `json:"system"`
	Version      string `json:"version"`
	UserSelected bool   `json:"user_selected"`
}

// ComponentData is one component of an observation effect. Codings
// serializes as null when not given.
type ComponentData struct {
	ValueQuantity     string       `json:"value_quantity"`
	ValueQuantityUnit string       `json:"value_quantity_unit"`
	Name              string       `json:"name"`
	Codings           []CodingData `json:"codings"`
}

// Effect builds CREATE_OBSERVATION and UPDATE_OBSERVATION commands. Only
// assigned fields are sent.
type Effect struct {
	fields effect.Fields
	lookup effect.Existence
}

// NewEffect returns an empty builder. lookup answers whether an observation
// id exists; it backs the update and parent checks.
func NewEffect(lookup effect.Existence) *Effect {
	return &Effect{lookup: lookup}
}

func (e *Effect) SetObservationID(id string) *Effect {
	e.fields.Set("observation_id", id)
	return e
}

func (e *Effect) SetPatientID(id string) *Effect {
	e.fields.Set("patient_id", id)
	return e
}

func (e *Effect) SetIsMemberOfID(id string) *Effect {
	e.fields.Set("is_member_of_id", id)
	return e
}

func (e *Effect) SetCategory(category string) *Effect {
	e.fields.Set("category", category)
	return e
}

func (e *Effect) SetUnits(units string) *Effect {
	e.fields.Set("units", units)
	return e
}

func (e *Effect) SetValue(value string) *Effect {
	e.fields.Set("value", value)
	return e
}

func (e *Effect) SetNoteID(id int64) *Effect {
	e.fields.Set("note_id", id)
	return e
}

func (e *Effect) SetName(name string) *Effect {
	e.fields.Set("name", name)
	return e
}

func (e *Effect) SetEffectiveDatetime(t time.Time) *Effect {
	e.fields.Set("effective_datetime", t)
	return e
}

// SetCategories sends category as a list.
func (e *Effect) SetCategories(categories []string) *Effect {
	setList(&e.fields, "category", categories)
	return e
}

func (e *Effect) SetCodings(codings []CodingData) *Effect {
	setList(&e.fields, "codings", codings)
	return e
}

func (e *Effect) SetComponents(components []ComponentData) *Effect {
	setList(&e.fields, "components", components)
	return e
}

func (e *Effect) SetValueCodings(codings []CodingData) *Effect {
	setList(&e.fields, "value_codings", codings)
	return e
}

// setList stores a copy of v. A nil list is sent as null and an empty one
// as [].
func setList[T any](f *effect.Fields, name string, v []T) {
	if v == nil {
		f.Set(name, nil)
		return
	}
	cp := make([]T, len(v))
	copy(cp, v)
	f.Set(name, cp)
}

// Clear sends field as an explicit null.
func (e *Effect) Clear(field string) *Effect {
	e.fields.Set(field, nil)
	return e
}

// DirtyFields lists assigned fields in assignment order.
func (e *Effect) DirtyFields() []string { return e.fields.Dirty() }

// Values returns the assigned fields as they will be serialized.
func (e *Effect) Values() map[string]interface{} { return e.fields.Values() }

func (e *Effect) Create(ctx context.Context) (*effect.Effect, error) {
	details, err := e.validateCreate(ctx)
	if err != nil {
		return nil, err
	}
	return e.build(effect.MethodCreate, details)
}

func (e *Effect) Update(ctx context.Context) (*effect.Effect, error) {
	details, err := e.validateUpdate(ctx)
	if err != nil {
		return nil, err
	}
	return e.build(effect.MethodUpdate, details)
}

func (e *Effect) build(method effect.Method, details []effect.ErrorDetail) (*effect.Effect, error) {
	if err := effect.Validate(EffectType, method, details); err != nil {
		return nil, err
	}
	return effect.New(EffectType, method, e.Values())
}

func (e *Effect) validateCreate(ctx context.Context) ([]effect.ErrorDetail, error) {
	var details []effect.ErrorDetail
	if e.fields.Present("observation_id") {
		id, _ := e.fields.Get("observation_id")
		details = append(details, effect.NewDetail(effect.DetailValue, "observation_id",
			"Observation ID should not be set when creating a new observation.", id))
	}
	required := []struct{ field, message string }{
		{"patient_id", "Patient ID is required when creating a new observation."},
		{"name", "Name is required when creating a new observation."},
		{"effective_datetime", "Effective datetime is required when creating a new observation."},
	}
	for _, r := range required {
		if !e.fields.Present(r.field) {
			v, _ := e.fields.Get(r.field)
			details = append(details, effect.NewDetail(effect.DetailValue, r.field, r.message, v))
		}
	}
	return e.validateParent(ctx, details)
}

func (e *Effect) validateUpdate(ctx context.Context) ([]effect.ErrorDetail, error) {
	var details []effect.ErrorDetail
	if !e.fields.Present("observation_id") {
		v, _ := e.fields.Get("observation_id")
		details = append(details, effect.NewDetail(effect.DetailValue, "observation_id",
			"Observation ID must be set when updating an existing observation.", v))
	} else {
		id := e.fields.String("observation_id")
		ok, err := e.lookup.Exists(ctx, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			details = append(details, effect.NewDetail(effect.DetailValue, "observation_id",
				fmt.Sprintf("Observation with ID %s does not exist.", id), id))
		}
	}
	return e.validateParent(ctx, details)
}

func (e *Effect) validateParent(ctx context.Context, details []effect.ErrorDetail) ([]effect.ErrorDetail, error) {
	if !e.fields.Present("is_member_of_id") {
		return details, nil
	}
	id := e.fields.String("is_member_of_id")
	ok, err := e.lookup.Exists(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		details = append(details, effect.NewDetail(effect.DetailValue, "is_member_of_id",
			fmt.Sprintf("Parent observation with ID %s does not exist.", id), id))
	}
	return details, nil
}

// Decode assigns the fields of a JSON object. Unknown keys are rejected and
// null clears a field.
func (e *Effect) Decode(data []byte) error {
	return effect.Decode(data, &e.fields, map[string]effect.Setter{
		"observation_id":     effect.StringSetter(func(s string) { e.SetObservationID(s) }),
		"patient_id":         effect.StringSetter(func(s string) { e.SetPatientID(s) }),
		"is_member_of_id":    effect.StringSetter(func(s string) { e.SetIsMemberOfID(s) }),
		"category":           e.decodeCategory,
		"units":              effect.StringSetter(func(s string) { e.SetUnits(s) }),
		"value":              effect.StringSetter(func(s string) { e.SetValue(s) }),
		"note_id":            effect.IntSetter(func(n int64) { e.SetNoteID(n) }),
		"name":               effect.StringSetter(func(s string) { e.SetName(s) }),
		"effective_datetime": effect.DateTimeSetter(func(t time.Time) { e.SetEffectiveDatetime(t) }),
		"codings":            effect.JSONSetter(func(v []CodingData) { e.SetCodings(v) }),
		"components":         effect.JSONSetter(func(v []ComponentData) { e.SetComponents(v) }),
		"value_codings":      effect.JSONSetter(func(v []CodingData) { e.SetValueCodings(v) }),
	})
}

func (e *Effect) decodeCategory(raw json.RawMessage) error {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		e.SetCategory(s)
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return fmt.Errorf("category must be a string or a list of strings")
	}
	e.SetCategories(list)
	return nil
}

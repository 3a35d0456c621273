package externalevent

import (
	"context"
	"fmt"
	"time"

	"github.com/canvas-medical/canvas-plugins-sub000/internal/platform/effect"
)

// EffectType is the command suffix for external event effects.
const EffectType = "EXTERNAL_EVENT"

// Effect builds CREATE_EXTERNAL_EVENT and UPDATE_EXTERNAL_EVENT commands for
// events received from ADT feeds.
type Effect struct {
	fields effect.Fields
	lookup effect.Existence
}

func NewEffect(lookup effect.Existence) *Effect {
	return &Effect{lookup: lookup}
}

func (e *Effect) SetExternalEventID(id string) *Effect {
	e.fields.Set("external_event_id", id)
	return e
}

func (e *Effect) SetPatientID(id string) *Effect {
	e.fields.Set("patient_id", id)
	return e
}

func (e *Effect) SetVisitIdentifier(v string) *Effect {
	e.fields.Set("visit_identifier", v)
	return e
}

func (e *Effect) SetMessageControlID(id string) *Effect {
	e.fields.Set("message_control_id", id)
	return e
}

// SetEventType takes the HL7 message type, e.g. "ADT^A01".
func (e *Effect) SetEventType(t string) *Effect {
	e.fields.Set("event_type", t)
	return e
}

func (e *Effect) SetEventDatetime(t time.Time) *Effect {
	e.fields.Set("event_datetime", t)
	return e
}

func (e *Effect) SetEventCancelationDatetime(t time.Time) *Effect {
	e.fields.Set("event_cancelation_datetime", t)
	return e
}

func (e *Effect) SetMessageDatetime(t time.Time) *Effect {
	e.fields.Set("message_datetime", t)
	return e
}

func (e *Effect) SetInformationSource(s string) *Effect {
	e.fields.Set("information_source", s)
	return e
}

func (e *Effect) SetFacilityName(s string) *Effect {
	e.fields.Set("facility_name", s)
	return e
}

func (e *Effect) SetRawMessage(s string) *Effect {
	e.fields.Set("raw_message", s)
	return e
}

// Clear sends field as an explicit null.
func (e *Effect) Clear(field string) *Effect {
	e.fields.Set(field, nil)
	return e
}

func (e *Effect) DirtyFields() []string { return e.fields.Dirty() }

func (e *Effect) Values() map[string]interface{} { return e.fields.Values() }

func (e *Effect) Create(ctx context.Context) (*effect.Effect, error) {
	var details []effect.ErrorDetail
	if e.fields.Present("external_event_id") {
		id, _ := e.fields.Get("external_event_id")
		details = append(details, effect.NewDetail(effect.DetailValue, "external_event_id",
			"External event ID should not be set when creating a new external event.", id))
	}
	for _, field := range []string{"patient_id", "visit_identifier", "message_control_id", "event_type"} {
		if !e.fields.Present(field) {
			v, _ := e.fields.Get(field)
			details = append(details, effect.NewDetail(effect.DetailMissing, field,
				fmt.Sprintf("Field '%s' is required to create an external event.", field), v))
		}
	}
	return e.build(effect.MethodCreate, details)
}

func (e *Effect) Update(ctx context.Context) (*effect.Effect, error) {
	var details []effect.ErrorDetail
	if !e.fields.Present("external_event_id") {
		v, _ := e.fields.Get("external_event_id")
		details = append(details, effect.NewDetail(effect.DetailMissing, "external_event_id",
			"Field 'external_event_id' is required to update an external event.", v))
	} else {
		id := e.fields.String("external_event_id")
		ok, err := e.lookup.Exists(ctx, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			details = append(details, effect.NewDetail(effect.DetailValue, "external_event_id",
				fmt.Sprintf("External event with ID %s does not exist.", id), id))
		}
	}
	return e.build(effect.MethodUpdate, details)
}

func (e *Effect) build(method effect.Method, details []effect.ErrorDetail) (*effect.Effect, error) {
	if err := effect.Validate(EffectType, method, details); err != nil {
		return nil, err
	}
	return effect.New(EffectType, method, e.Values())
}

// Decode assigns the fields of a JSON object; see effect.Decode.
func (e *Effect) Decode(data []byte) error {
	str := func(field string) effect.Setter {
		return effect.StringSetter(func(s string) { e.fields.Set(field, s) })
	}
	datetime := func(field string) effect.Setter {
		return effect.DateTimeSetter(func(t time.Time) { e.fields.Set(field, t) })
	}
	return effect.Decode(data, &e.fields, map[string]effect.Setter{
		"external_event_id":          str("external_event_id"),
		"patient_id":                 str("patient_id"),
		"visit_identifier":           str("visit_identifier"),
		"message_control_id":         str("message_control_id"),
		"event_type":                 str("event_type"),
		"event_datetime":             datetime("event_datetime"),
		"event_cancelation_datetime": datetime("event_cancelation_datetime"),
		"message_datetime":           datetime("message_datetime"),
		"information_source":         str("information_source"),
		"facility_name":              str("facility_name"),
		"raw_message":                str("raw_message"),
	})
}

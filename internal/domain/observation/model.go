package observation

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/canvas-medical/canvas-plugins-sub000/internal/platform/fhir"
)

// Observation maps to canvas_sdk_data_api_observation_001. PatientKey and
// IsMemberOfID are the joined public identifiers, not the foreign keys.
type Observation struct {
	DBID              int64      `json:"-"`
	ID                uuid.UUID  `json:"id"`
	Created           time.Time  `json:"created"`
	Modified          time.Time  `json:"modified"`
	OriginatorID      *int64     `json:"originator_id,omitempty"`
	CommitterID       *int64     `json:"committer_id,omitempty"`
	EnteredInErrorID  *int64     `json:"entered_in_error_id,omitempty"`
	Deleted           bool       `json:"deleted"`
	PatientKey        string     `json:"patient_id,omitempty"`
	IsMemberOfID      *uuid.UUID `json:"is_member_of_id,omitempty"`
	Category          string     `json:"category"`
	Units             string     `json:"units"`
	Value             string     `json:"value"`
	NoteID            *int64     `json:"note_id,omitempty"`
	Name              string     `json:"name"`
	EffectiveDatetime *time.Time `json:"effective_datetime,omitempty"`
}

// Committed reports a signed-off observation that was not entered in error.
func (o *Observation) Committed() bool {
	return o.CommitterID != nil && o.EnteredInErrorID == nil
}

// Coding maps to the observation, value and component coding tables.
type Coding struct {
	System       string `json:"system"`
	Version      string `json:"version"`
	Code         string `json:"code"`
	Display      string `json:"display"`
	UserSelected bool   `json:"user_selected"`
}

// Component maps to canvas_sdk_data_api_observationcomponent_001.
type Component struct {
	DBID              int64     `json:"-"`
	Created           time.Time `json:"created"`
	Modified          time.Time `json:"modified"`
	ValueQuantity     string    `json:"value_quantity"`
	ValueQuantityUnit string    `json:"value_quantity_unit"`
	Name              string    `json:"name"`
	Codings           []Coding  `json:"codings"`
}

// Detail is an observation with its child rows loaded.
type Detail struct {
	*Observation
	Codings      []Coding       `json:"codings"`
	ValueCodings []Coding       `json:"value_codings"`
	Components   []Component    `json:"components"`
	Members      []*Observation `json:"members"`
}

func (o *Observation) status() string {
	switch {
	case o.EnteredInErrorID != nil:
		return "entered-in-error"
	case o.CommitterID != nil:
		return "final"
	default:
		return "preliminary"
	}
}

func toFHIRCodings(codings []Coding) []fhir.Coding {
	out := make([]fhir.Coding, 0, len(codings))
	for _, c := range codings {
		fc := fhir.Coding{System: c.System, Version: c.Version, Code: c.Code, Display: c.Display}
		if c.UserSelected {
			selected := true
			fc.UserSelected = &selected
		}
		out = append(out, fc)
	}
	return out
}

// quantity returns a valueQuantity when value is numeric, else nil.
func quantity(value, unit string) *fhir.Quantity {
	v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return nil
	}
	return &fhir.Quantity{Value: v, Unit: unit}
}

// ToFHIR renders the observation as a FHIR R4 Observation. Child rows are
// included when present on the Detail. Group membership is carried by the
// parent's hasMember only.
func (d *Detail) ToFHIR() map[string]interface{} {
	o := d.Observation
	result := map[string]interface{}{
		"resourceType": "Observation",
		"id":           o.ID.String(),
		"status":       o.status(),
		"code":         fhir.CodeableConcept{Coding: toFHIRCodings(d.Codings), Text: o.Name},
		"meta":         fhir.Meta{LastUpdated: &o.Modified},
	}
	if o.PatientKey != "" {
		result["subject"] = fhir.Reference{Reference: fhir.FormatReference("Patient", o.PatientKey)}
	}
	if o.Category != "" {
		result["category"] = []fhir.CodeableConcept{{
			Coding: []fhir.Coding{{
				System: "http://terminology.hl7.org/CodeSystem/observation-category",
				Code:   o.Category,
			}},
		}}
	}
	if o.EffectiveDatetime != nil {
		result["effectiveDateTime"] = o.EffectiveDatetime.Format(time.RFC3339)
	}
	switch {
	case len(d.ValueCodings) > 0:
		result["valueCodeableConcept"] = fhir.CodeableConcept{Coding: toFHIRCodings(d.ValueCodings), Text: o.Value}
	case quantity(o.Value, o.Units) != nil:
		result["valueQuantity"] = quantity(o.Value, o.Units)
	case o.Value != "":
		result["valueString"] = o.Value
	}
	if len(d.Members) > 0 {
		members := make([]fhir.Reference, len(d.Members))
		for i, m := range d.Members {
			members[i] = fhir.Reference{Reference: fhir.FormatReference("Observation", m.ID.String())}
		}
		result["hasMember"] = members
	}
	if len(d.Components) > 0 {
		comps := make([]map[string]interface{}, 0, len(d.Components))
		for _, c := range d.Components {
			comp := map[string]interface{}{
				"code": fhir.CodeableConcept{Coding: toFHIRCodings(c.Codings), Text: c.Name},
			}
			if q := quantity(c.ValueQuantity, c.ValueQuantityUnit); q != nil {
				comp["valueQuantity"] = q
			} else if c.ValueQuantity != "" {
				comp["valueString"] = c.ValueQuantity
			}
			comps = append(comps, comp)
		}
		result["component"] = comps
	}
	return result
}

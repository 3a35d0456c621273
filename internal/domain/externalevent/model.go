package externalevent

import (
	"time"

	"github.com/google/uuid"
)

// ExternalEvent maps to canvas_sdk_data_api_externalevent_001: one ADT
// message (admission, discharge, transfer) received from an outside feed.
type ExternalEvent struct {
	DBID                     int64      `json:"-"`
	ID                       uuid.UUID  `json:"id"`
	Created                  time.Time  `json:"created"`
	Modified                 time.Time  `json:"modified"`
	PatientKey               string     `json:"patient_id,omitempty"`
	VisitIdentifier          string     `json:"visit_identifier"`
	MessageControlID         string     `json:"message_control_id"`
	EventType                string     `json:"event_type"`
	EventDatetime            *time.Time `json:"event_datetime,omitempty"`
	EventCancelationDatetime *time.Time `json:"event_cancelation_datetime,omitempty"`
	MessageDatetime          *time.Time `json:"message_datetime,omitempty"`
	InformationSource        string     `json:"information_source"`
	FacilityName             string     `json:"facility_name"`
	RawMessage               string     `json:"raw_message,omitempty"`
}

// Canceled reports whether a cancelation was recorded for the event.
func (e *ExternalEvent) Canceled() bool {
	return e.EventCancelationDatetime != nil
}

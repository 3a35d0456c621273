package externalevent

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/canvas-medical/canvas-plugins-sub000/internal/platform/effect"
	"github.com/canvas-medical/canvas-plugins-sub000/internal/platform/hl7v2"
)

// Cancel triggers: A11 cancel admit, A12 cancel transfer, A13 cancel
// discharge, A27 cancel pending admit, A38 cancel pre-admit.
var cancelTriggers = map[string]bool{"A11": true, "A12": true, "A13": true, "A27": true, "A38": true}

// FromADT fills a create effect from an ADT message:
//
//	patient_id          PID-3.1 (first identifier)
//	visit_identifier    PV1-19.1
//	message_control_id  MSH-10
//	event_type          MSH-9 message code and trigger, e.g. "ADT^A01"
//	event_datetime      EVN-6, else EVN-2
//	message_datetime    MSH-7
//	information_source  MSH-3
//	facility_name       PV1-3.4, else MSH-4
//
// Cancel triggers also set event_cancelation_datetime. Absent segments
// leave their fields unset so Create reports them.
func FromADT(e *Effect, msg *hl7v2.Message, raw []byte) *Effect {
	pid := msg.Segment("PID")
	pv1 := msg.Segment("PV1")
	evn := msg.Segment("EVN")

	setIf(pid.Component(3, 1), e.SetPatientID)
	setIf(pv1.Component(19, 1), e.SetVisitIdentifier)
	setIf(msg.ControlID, e.SetMessageControlID)
	if code, trigger := msg.MessageCode(), msg.TriggerEvent(); code != "" {
		if trigger != "" {
			code += "^" + trigger
		}
		e.SetEventType(code)
	}

	eventAt := timestamp(evn.Field(6))
	if eventAt.IsZero() {
		eventAt = timestamp(evn.Field(2))
	}
	if !eventAt.IsZero() {
		e.SetEventDatetime(eventAt)
		if cancelTriggers[msg.TriggerEvent()] {
			e.SetEventCancelationDatetime(eventAt)
		}
	}
	if !msg.Timestamp.IsZero() {
		e.SetMessageDatetime(msg.Timestamp)
	}

	setIf(msg.SendingApp, e.SetInformationSource)
	facility := pv1.Component(3, 4)
	if facility == "" {
		facility = msg.SendingFac
	}
	setIf(facility, e.SetFacilityName)
	setIf(strings.TrimSpace(string(raw)), e.SetRawMessage)
	return e
}

func setIf(v string, set func(string) *Effect) {
	if v != "" {
		set(v)
	}
}

func timestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := hl7v2.ParseTimestamp(s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Intake answers ADT messages arriving over MLLP. Each accepted message
// yields a CREATE_EXTERNAL_EVENT effect handed to the sink.
type Intake struct {
	svc    *Service
	sink   func(context.Context, *effect.Effect) error
	logger zerolog.Logger
}

// NewIntake returns an intake that passes effects to sink. A nil sink
// only logs them.
func NewIntake(svc *Service, sink func(context.Context, *effect.Effect) error, logger zerolog.Logger) *Intake {
	if sink == nil {
		sink = func(context.Context, *effect.Effect) error { return nil }
	}
	return &Intake{svc: svc, sink: sink, logger: logger.With().Str("component", "adt-intake").Logger()}
}

// Handle is an hl7v2.MessageHandler. Non-ADT messages are rejected with
// AR, validation failures answered with AE and the failure messages.
func (i *Intake) Handle(ctx context.Context, msg *hl7v2.Message, raw []byte) *hl7v2.Message {
	log := i.logger.With().Str("control_id", msg.ControlID).Str("type", msg.Type).Logger()
	if msg.MessageCode() != "ADT" {
		log.Warn().Msg("non-ADT message rejected")
		return hl7v2.ACK(msg, hl7v2.AckReject, "unsupported message type "+msg.MessageCode())
	}

	out, err := i.svc.Emit(ctx, FromADT(i.svc.NewEffect(), msg, raw), effect.MethodCreate)
	var verr *effect.ValidationError
	if errors.As(err, &verr) {
		msgs := make([]string, 0, len(verr.Details))
		for _, d := range verr.Details {
			msgs = append(msgs, d.Message)
		}
		log.Info().Int("errors", len(msgs)).Msg("adt message failed validation")
		return hl7v2.ACK(msg, hl7v2.AckError, strings.Join(msgs, " "))
	}
	if err != nil {
		log.Error().Err(err).Msg("adt intake failed")
		return hl7v2.ACK(msg, hl7v2.AckError, "internal error")
	}
	if err := i.sink(ctx, out); err != nil {
		log.Error().Err(err).Msg("effect delivery failed")
		return hl7v2.ACK(msg, hl7v2.AckError, "effect delivery failed")
	}
	return hl7v2.ACK(msg, hl7v2.AckAccept, "")
}

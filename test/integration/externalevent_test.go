//go:build integration

package integration

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/canvas-medical/canvas-plugins-sub000/internal/domain/externalevent"
)

func TestExternalEventRepo(t *testing.T) {
	ctx := context.Background()
	instance := createInstance(t, ctx, "evt")
	repo := externalevent.NewRepoPG(globalPool)

	patient := insertPatient(t, ctx, instance, "0123456789abcdef0123456789abcdef")
	admitID, dischargeID, deletedID := uuid.New(), uuid.New(), uuid.New()
	mustExec(t, ctx, instance, `
		INSERT INTO canvas_sdk_data_api_externalevent_001
			(id, patient_id, visit_identifier, message_control_id, event_type, event_datetime, facility_name)
		VALUES ($1, $3, 'visit-1', 'msg-1', 'ADT^A01', $4, 'Main Building'),
		       ($2, $3, 'visit-1', 'msg-2', 'ADT^A03', $5, 'Main Building')`,
		admitID, dischargeID, patient,
		time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC),
		time.Date(2024, 3, 18, 16, 0, 0, 0, time.UTC))
	mustExec(t, ctx, instance, `
		INSERT INTO canvas_sdk_data_api_externalevent_001
			(id, patient_id, visit_identifier, message_control_id, event_type, event_datetime, deleted)
		VALUES ($1, $2, 'visit-1', 'msg-3', 'ADT^A08', $3, TRUE)`,
		deletedID, patient, time.Date(2024, 3, 20, 9, 0, 0, 0, time.UTC))

	err := withInstanceConn(ctx, instance, func(ctx context.Context) error {
		ev, err := repo.GetByID(ctx, admitID)
		if err != nil {
			return err
		}
		if ev.PatientKey != "0123456789abcdef0123456789abcdef" || ev.EventType != "ADT^A01" || ev.Canceled() {
			t.Errorf("unexpected event %+v", ev)
		}

		if _, err := repo.GetByID(ctx, uuid.New()); err != externalevent.ErrNotFound {
			t.Errorf("expected ErrNotFound, got %v", err)
		}

		ok, err := repo.Exists(ctx, dischargeID.String())
		if err != nil || !ok {
			t.Errorf("expected discharge to exist: %v %v", ok, err)
		}
		if ok, _ := repo.Exists(ctx, deletedID.String()); ok {
			t.Error("deleted events must not exist")
		}
		if _, err := repo.GetByID(ctx, deletedID); err != externalevent.ErrNotFound {
			t.Errorf("expected ErrNotFound for a deleted event, got %v", err)
		}
		if ok, _ := repo.Exists(ctx, "event-123"); ok {
			t.Error("non-UUID ids must not exist")
		}

		items, total, err := repo.ListByPatient(ctx, "0123456789abcdef0123456789abcdef", 10, 0)
		if err != nil {
			return err
		}
		if total != 2 || items[0].ID != dischargeID {
			t.Errorf("expected discharge first of 2, got %d", total)
		}
		_, total, err = repo.ListByPatient(ctx, "nobody", 10, 0)
		if err != nil {
			return err
		}
		if total != 0 {
			t.Errorf("expected no events for unknown patient, got %d", total)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

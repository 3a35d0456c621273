package externalevent

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/canvas-medical/canvas-plugins-sub000/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const eventFrom = `
	FROM canvas_sdk_data_api_externalevent_001 e
	LEFT JOIN canvas_sdk_data_api_patient_001 p ON p.dbid = e.patient_id`

const eventCols = `e.dbid, e.id, e.created, e.modified, COALESCE(p.key, ''),
	e.visit_identifier, e.message_control_id, e.event_type, e.event_datetime,
	e.event_cancelation_datetime, e.message_datetime, e.information_source,
	e.facility_name, e.raw_message`

func scanEvent(row pgx.Row) (*ExternalEvent, error) {
	var e ExternalEvent
	err := row.Scan(&e.DBID, &e.ID, &e.Created, &e.Modified, &e.PatientKey,
		&e.VisitIdentifier, &e.MessageControlID, &e.EventType, &e.EventDatetime,
		&e.EventCancelationDatetime, &e.MessageDatetime, &e.InformationSource,
		&e.FacilityName, &e.RawMessage)
	return &e, err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*ExternalEvent, error) {
	e, err := scanEvent(r.conn(ctx).QueryRow(ctx, `SELECT `+eventCols+eventFrom+` WHERE e.id = $1 AND e.deleted = FALSE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get external event %s: %w", id, err)
	}
	return e, nil
}

func (r *repoPG) Exists(ctx context.Context, id string) (bool, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return false, nil
	}
	var exists bool
	err = r.conn(ctx).QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM canvas_sdk_data_api_externalevent_001 WHERE id = $1 AND deleted = FALSE)`, uid).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check external event %s: %w", id, err)
	}
	return exists, nil
}

func (r *repoPG) ListByPatient(ctx context.Context, patientKey string, limit, offset int) ([]*ExternalEvent, int, error) {
	where := ` WHERE e.deleted = FALSE AND ($1 = '' OR p.key = $1)`

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*)`+eventFrom+where, patientKey).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count external events: %w", err)
	}

	rows, err := r.conn(ctx).Query(ctx, `SELECT `+eventCols+eventFrom+where+`
		ORDER BY e.event_datetime DESC NULLS LAST, e.dbid DESC LIMIT $2 OFFSET $3`,
		patientKey, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list external events: %w", err)
	}
	defer rows.Close()
	var items []*ExternalEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan external event: %w", err)
		}
		items = append(items, e)
	}
	return items, total, rows.Err()
}

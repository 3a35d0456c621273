package observation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/canvas-medical/canvas-plugins-sub000/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const obsFrom = `
	FROM canvas_sdk_data_api_observation_001 o
	LEFT JOIN canvas_sdk_data_api_patient_001 p ON p.dbid = o.patient_id
	LEFT JOIN canvas_sdk_data_api_observation_001 parent ON parent.dbid = o.is_member_of_id`

const obsCols = `o.dbid, o.id, o.created, o.modified, o.originator_id, o.committer_id,
	o.entered_in_error_id, o.deleted, COALESCE(p.key, ''), parent.id,
	o.category, o.units, o.value, o.note_id, o.name, o.effective_datetime`

func scanObservation(row pgx.Row) (*Observation, error) {
	var o Observation
	err := row.Scan(&o.DBID, &o.ID, &o.Created, &o.Modified, &o.OriginatorID, &o.CommitterID,
		&o.EnteredInErrorID, &o.Deleted, &o.PatientKey, &o.IsMemberOfID,
		&o.Category, &o.Units, &o.Value, &o.NoteID, &o.Name, &o.EffectiveDatetime)
	return &o, err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Observation, error) {
	o, err := scanObservation(r.conn(ctx).QueryRow(ctx,
		`SELECT `+obsCols+obsFrom+` WHERE o.id = $1 AND o.deleted = FALSE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get observation %s: %w", id, err)
	}
	return o, nil
}

func (r *repoPG) Exists(ctx context.Context, id string) (bool, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return false, nil
	}
	var exists bool
	err = r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM canvas_sdk_data_api_observation_001 WHERE id = $1 AND deleted = FALSE)`,
		uid).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check observation %s: %w", id, err)
	}
	return exists, nil
}

// where collects SQL conditions and numbers their arguments.
type where struct {
	clauses []string
	args    []interface{}
}

func (w *where) arg(v interface{}) string {
	w.args = append(w.args, v)
	return fmt.Sprintf("$%d", len(w.args))
}

func (w *where) add(clause string) {
	w.clauses = append(w.clauses, clause)
}

func (w *where) String() string {
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

func buildWhere(f Filter) *where {
	w := &where{}
	w.add("o.deleted = FALSE")
	if f.PatientKey != "" {
		w.add("p.key = " + w.arg(f.PatientKey))
	}
	if f.Committed {
		w.add("o.committer_id IS NOT NULL AND o.entered_in_error_id IS NULL")
	}
	if f.Category != "" {
		w.add("o.category = " + w.arg(f.Category))
	}
	if f.MemberOf != nil {
		w.add("parent.id = " + w.arg(*f.MemberOf))
	}
	if f.EffectiveFrom != nil {
		w.add("o.effective_datetime >= " + w.arg(*f.EffectiveFrom))
	}
	if f.EffectiveTo != nil {
		w.add("o.effective_datetime <= " + w.arg(*f.EffectiveTo))
	}
	if len(f.Codings) > 0 {
		ors := make([]string, 0, len(f.Codings))
		for _, sc := range f.Codings {
			ors = append(ors, fmt.Sprintf("(c.system = %s AND c.code = ANY(%s))", w.arg(sc.System), w.arg(sc.Codes)))
		}
		w.add(`EXISTS (SELECT 1 FROM canvas_sdk_data_api_observationcoding_001 c
			WHERE c.observation_id = o.dbid AND (` + strings.Join(ors, " OR ") + `))`)
	}
	return w
}

func (r *repoPG) Search(ctx context.Context, f Filter, limit, offset int) ([]*Observation, int, error) {
	w := buildWhere(f)

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*)`+obsFrom+w.String(), w.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count observations: %w", err)
	}

	query := `SELECT ` + obsCols + obsFrom + w.String() +
		` ORDER BY o.effective_datetime DESC NULLS LAST, o.dbid DESC LIMIT ` + w.arg(limit) + ` OFFSET ` + w.arg(offset)
	items, err := r.queryObservations(ctx, query, w.args...)
	if err != nil {
		return nil, 0, fmt.Errorf("search observations: %w", err)
	}
	return items, total, nil
}

func (r *repoPG) Members(ctx context.Context, id uuid.UUID) ([]*Observation, error) {
	items, err := r.queryObservations(ctx,
		`SELECT `+obsCols+obsFrom+` WHERE parent.id = $1 AND o.deleted = FALSE ORDER BY o.dbid`, id)
	if err != nil {
		return nil, fmt.Errorf("list members of %s: %w", id, err)
	}
	return items, nil
}

func (r *repoPG) queryObservations(ctx context.Context, query string, args ...interface{}) ([]*Observation, error) {
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Observation
	for rows.Next() {
		o, err := scanObservation(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, o)
	}
	return items, rows.Err()
}

func (r *repoPG) Codings(ctx context.Context, id uuid.UUID) ([]Coding, error) {
	return r.queryCodings(ctx, `
		SELECT c.system, c.version, c.code, c.display, c.user_selected
		FROM canvas_sdk_data_api_observationcoding_001 c
		JOIN canvas_sdk_data_api_observation_001 o ON o.dbid = c.observation_id
		WHERE o.id = $1 ORDER BY c.dbid`, id)
}

func (r *repoPG) ValueCodings(ctx context.Context, id uuid.UUID) ([]Coding, error) {
	return r.queryCodings(ctx, `
		SELECT c.system, c.version, c.code, c.display, c.user_selected
		FROM canvas_sdk_data_api_observationvaluecoding_001 c
		JOIN canvas_sdk_data_api_observation_001 o ON o.dbid = c.observation_id
		WHERE o.id = $1 ORDER BY c.dbid`, id)
}

func (r *repoPG) queryCodings(ctx context.Context, query string, args ...interface{}) ([]Coding, error) {
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query codings: %w", err)
	}
	defer rows.Close()
	codings := []Coding{}
	for rows.Next() {
		var c Coding
		if err := rows.Scan(&c.System, &c.Version, &c.Code, &c.Display, &c.UserSelected); err != nil {
			return nil, fmt.Errorf("scan coding: %w", err)
		}
		codings = append(codings, c)
	}
	return codings, rows.Err()
}

func (r *repoPG) Components(ctx context.Context, id uuid.UUID) ([]Component, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT c.dbid, c.created, c.modified, c.value_quantity, c.value_quantity_unit, c.name
		FROM canvas_sdk_data_api_observationcomponent_001 c
		JOIN canvas_sdk_data_api_observation_001 o ON o.dbid = c.observation_id
		WHERE o.id = $1 ORDER BY c.dbid`, id)
	if err != nil {
		return nil, fmt.Errorf("query components: %w", err)
	}
	components := []Component{}
	index := map[int64]int{}
	for rows.Next() {
		var c Component
		if err := rows.Scan(&c.DBID, &c.Created, &c.Modified, &c.ValueQuantity, &c.ValueQuantityUnit, &c.Name); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan component: %w", err)
		}
		c.Codings = []Coding{}
		index[c.DBID] = len(components)
		components = append(components, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query components: %w", err)
	}
	if len(components) == 0 {
		return components, nil
	}

	ids := make([]int64, 0, len(components))
	for _, c := range components {
		ids = append(ids, c.DBID)
	}
	crows, err := r.conn(ctx).Query(ctx, `
		SELECT observation_component_id, system, version, code, display, user_selected
		FROM canvas_sdk_data_api_observationcomponentcoding_001
		WHERE observation_component_id = ANY($1) ORDER BY dbid`, ids)
	if err != nil {
		return nil, fmt.Errorf("query component codings: %w", err)
	}
	defer crows.Close()
	for crows.Next() {
		var compID int64
		var c Coding
		if err := crows.Scan(&compID, &c.System, &c.Version, &c.Code, &c.Display, &c.UserSelected); err != nil {
			return nil, fmt.Errorf("scan component coding: %w", err)
		}
		i := index[compID]
		components[i].Codings = append(components[i].Codings, c)
	}
	return components, crows.Err()
}

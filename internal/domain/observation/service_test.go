package observation

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/canvas-medical/canvas-plugins-sub000/internal/domain/valueset"
	"github.com/canvas-medical/canvas-plugins-sub000/internal/platform/effect"
)

// =========== Mock Repository ===========

type mockRepo struct {
	store        map[uuid.UUID]*Observation
	codings      map[uuid.UUID][]Coding
	valueCodings map[uuid.UUID][]Coding
	components   map[uuid.UUID][]Component
	lastFilter   Filter
	searchErr    error
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		store:        make(map[uuid.UUID]*Observation),
		codings:      make(map[uuid.UUID][]Coding),
		valueCodings: make(map[uuid.UUID][]Coding),
		components:   make(map[uuid.UUID][]Component),
	}
}

func (m *mockRepo) add(o *Observation, codings ...Coding) *Observation {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	m.store[o.ID] = o
	m.codings[o.ID] = codings
	return o
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Observation, error) {
	o, ok := m.store[id]
	if !ok || o.Deleted {
		return nil, ErrNotFound
	}
	return o, nil
}

func (m *mockRepo) Exists(_ context.Context, id string) (bool, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return false, nil
	}
	o, ok := m.store[uid]
	return ok && !o.Deleted, nil
}

func (m *mockRepo) matches(o *Observation, f Filter) bool {
	if o.Deleted {
		return false
	}
	if f.PatientKey != "" && o.PatientKey != f.PatientKey {
		return false
	}
	if f.Committed && !o.Committed() {
		return false
	}
	if f.Category != "" && o.Category != f.Category {
		return false
	}
	if f.MemberOf != nil && (o.IsMemberOfID == nil || *o.IsMemberOfID != *f.MemberOf) {
		return false
	}
	if f.EffectiveFrom != nil && (o.EffectiveDatetime == nil || o.EffectiveDatetime.Before(*f.EffectiveFrom)) {
		return false
	}
	if f.EffectiveTo != nil && (o.EffectiveDatetime == nil || o.EffectiveDatetime.After(*f.EffectiveTo)) {
		return false
	}
	if len(f.Codings) == 0 {
		return true
	}
	for _, c := range m.codings[o.ID] {
		for _, sc := range f.Codings {
			if c.System != sc.System {
				continue
			}
			for _, code := range sc.Codes {
				if c.Code == code {
					return true
				}
			}
		}
	}
	return false
}

func (m *mockRepo) Search(_ context.Context, f Filter, limit, offset int) ([]*Observation, int, error) {
	m.lastFilter = f
	if m.searchErr != nil {
		return nil, 0, m.searchErr
	}
	var result []*Observation
	for _, o := range m.store {
		if m.matches(o, f) {
			result = append(result, o)
		}
	}
	return result, len(result), nil
}

func (m *mockRepo) Codings(_ context.Context, id uuid.UUID) ([]Coding, error) {
	return m.codings[id], nil
}

func (m *mockRepo) ValueCodings(_ context.Context, id uuid.UUID) ([]Coding, error) {
	return m.valueCodings[id], nil
}

func (m *mockRepo) Components(_ context.Context, id uuid.UUID) ([]Component, error) {
	return m.components[id], nil
}

func (m *mockRepo) Members(_ context.Context, id uuid.UUID) ([]*Observation, error) {
	var result []*Observation
	for _, o := range m.store {
		if o.IsMemberOfID != nil && *o.IsMemberOfID == id && !o.Deleted {
			result = append(result, o)
		}
	}
	return result, nil
}

func newTestService(t *testing.T) (*Service, *mockRepo) {
	t.Helper()
	catalog, err := valueset.Default()
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	repo := newMockRepo()
	return NewService(repo, catalog, zerolog.Nop()), repo
}

func int64Ptr(v int64) *int64 { return &v }

func timePtr(t time.Time) *time.Time { return &t }

// =========== Service Tests ===========

func TestService_Search_ByValueSet(t *testing.T) {
	svc, repo := newTestService(t)
	weight := repo.add(&Observation{PatientKey: "abc", Name: "Weight"},
		Coding{System: "http://loinc.org", Code: "29463-7"})
	repo.add(&Observation{PatientKey: "abc", Name: "Height"},
		Coding{System: "http://loinc.org", Code: "8302-2"})

	items, total, err := svc.Search(context.Background(), Query{ValueSets: []string{"v2026.Weight"}}, 20, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if total != 1 || items[0].ID != weight.ID {
		t.Errorf("expected only the weight observation, got %d", total)
	}
	if len(repo.lastFilter.Codings) != 1 || repo.lastFilter.Codings[0].System != "http://loinc.org" {
		t.Errorf("expected value set resolved to LOINC codings, got %+v", repo.lastFilter.Codings)
	}
}

func TestService_Search_UnionOfValueSets(t *testing.T) {
	svc, repo := newTestService(t)
	repo.add(&Observation{Name: "Weight"}, Coding{System: "http://loinc.org", Code: "29463-7"})
	repo.add(&Observation{Name: "Colonoscopy"}, Coding{System: "http://www.ama-assn.org/go/cpt", Code: "45378"})

	_, total, err := svc.Search(context.Background(), Query{ValueSets: []string{"v2026.Weight", "Colonoscopy"}}, 20, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if total != 2 {
		t.Errorf("expected both observations, got %d", total)
	}
}

func TestService_Search_UnmappedValueSet(t *testing.T) {
	svc, repo := newTestService(t)
	repo.add(&Observation{Name: "Ethnicity"}, Coding{System: "CDCREC", Code: "2135-2"})

	items, total, err := svc.Search(context.Background(), Query{ValueSets: []string{"v2026.Ethnicity"}}, 20, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if total != 0 || len(items) != 0 || items == nil {
		t.Errorf("expected an empty result, got %d", total)
	}
}

func TestService_Search_ValueSetErrors(t *testing.T) {
	svc, _ := newTestService(t)
	if _, _, err := svc.Search(context.Background(), Query{ValueSets: []string{"Weight"}}, 20, 0); !errors.Is(err, valueset.ErrAmbiguous) {
		t.Errorf("expected ErrAmbiguous, got %v", err)
	}
	if _, _, err := svc.Search(context.Background(), Query{ValueSets: []string{"Nope"}}, 20, 0); !errors.Is(err, valueset.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestService_Search_CommittedForPatient(t *testing.T) {
	svc, repo := newTestService(t)
	repo.add(&Observation{PatientKey: "abc", CommitterID: int64Ptr(1)})
	repo.add(&Observation{PatientKey: "abc", CommitterID: int64Ptr(1), EnteredInErrorID: int64Ptr(2)})
	repo.add(&Observation{PatientKey: "abc"})
	repo.add(&Observation{PatientKey: "xyz", CommitterID: int64Ptr(1)})
	repo.add(&Observation{PatientKey: "abc", CommitterID: int64Ptr(1), Deleted: true})

	_, total, err := svc.Search(context.Background(), Query{PatientKey: "abc", Committed: true}, 20, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if total != 1 {
		t.Errorf("expected 1 committed observation for abc, got %d", total)
	}
}

func TestService_Search_EffectiveRange(t *testing.T) {
	svc, repo := newTestService(t)
	repo.add(&Observation{EffectiveDatetime: timePtr(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))})
	repo.add(&Observation{EffectiveDatetime: timePtr(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))})

	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	_, total, _ := svc.Search(context.Background(), Query{EffectiveFrom: &from}, 20, 0)
	if total != 1 {
		t.Errorf("expected 1 observation after March, got %d", total)
	}
}

func TestService_Search_RepoError(t *testing.T) {
	svc, repo := newTestService(t)
	repo.searchErr = errors.New("boom")
	if _, _, err := svc.Search(context.Background(), Query{}, 20, 0); err == nil {
		t.Error("expected repository error")
	}
}

func TestService_Get(t *testing.T) {
	svc, repo := newTestService(t)
	parent := repo.add(&Observation{Name: "Blood Pressure"}, Coding{System: "http://loinc.org", Code: "85354-9"})
	repo.add(&Observation{Name: "Systolic", IsMemberOfID: &parent.ID})
	repo.components[parent.ID] = []Component{{Name: "Systolic Blood Pressure", ValueQuantity: "120"}}

	d, err := svc.Get(context.Background(), parent.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(d.Codings) != 1 || len(d.Components) != 1 || len(d.Members) != 1 {
		t.Errorf("expected children loaded, got %d codings %d components %d members",
			len(d.Codings), len(d.Components), len(d.Members))
	}

	if _, err := svc.Get(context.Background(), uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestService_Emit(t *testing.T) {
	svc, repo := newTestService(t)
	existing := repo.add(&Observation{Name: "Weight"})

	e := svc.NewEffect().SetObservationID(existing.ID.String()).SetValue("72")
	out, err := svc.Emit(context.Background(), e, effect.MethodUpdate)
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if out.Type != "UPDATE_OBSERVATION" {
		t.Errorf("expected UPDATE_OBSERVATION, got %s", out.Type)
	}

	_, err = svc.Emit(context.Background(), svc.NewEffect().SetObservationID("not-a-uuid"), effect.MethodUpdate)
	var verr *effect.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error for a malformed id, got %v", err)
	}
	if verr.Details[0].Message != "Observation with ID not-a-uuid does not exist." {
		t.Errorf("unexpected message %s", verr.Details[0].Message)
	}

	if _, err := svc.Emit(context.Background(), svc.NewEffect(), effect.Method("delete")); err == nil {
		t.Error("expected error for unsupported method")
	}
}

func TestService_Emit_LogsAtInfo(t *testing.T) {
	catalog, err := valueset.Default()
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	var buf bytes.Buffer
	svc := NewService(newMockRepo(), catalog, zerolog.New(&buf).Level(zerolog.InfoLevel))

	e := svc.NewEffect().SetPatientID("patient-1").SetName("Weight").SetEffectiveDatetime(time.Now())
	if _, err := svc.Emit(context.Background(), e, effect.MethodCreate); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if !strings.Contains(buf.String(), `"level":"info"`) || !strings.Contains(buf.String(), `"effect":"CREATE_OBSERVATION"`) {
		t.Errorf("expected an info line for the emitted effect, got %q", buf.String())
	}
}

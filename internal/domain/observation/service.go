package observation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/canvas-medical/canvas-plugins-sub000/internal/domain/valueset"
	"github.com/canvas-medical/canvas-plugins-sub000/internal/platform/effect"
)

// Query is a search expressed in public identifiers; the service resolves
// value set keys against the catalog.
type Query struct {
	PatientKey    string
	ValueSets     []string
	Category      string
	Committed     bool
	MemberOf      *uuid.UUID
	EffectiveFrom *time.Time
	EffectiveTo   *time.Time
}

type Service struct {
	repo    Repository
	catalog *valueset.Catalog
	logger  zerolog.Logger
}

func NewService(repo Repository, catalog *valueset.Catalog, logger zerolog.Logger) *Service {
	return &Service{repo: repo, catalog: catalog, logger: logger.With().Str("component", "observation").Logger()}
}

func (s *Service) Search(ctx context.Context, q Query, limit, offset int) ([]*Observation, int, error) {
	f := Filter{
		PatientKey:    q.PatientKey,
		Committed:     q.Committed,
		Category:      q.Category,
		MemberOf:      q.MemberOf,
		EffectiveFrom: q.EffectiveFrom,
		EffectiveTo:   q.EffectiveTo,
	}
	if len(q.ValueSets) > 0 {
		vs, err := s.catalog.Resolve(q.ValueSets...)
		if err != nil {
			return nil, 0, err
		}
		f.Codings = vs.Codings()
		// Only unmapped systems: nothing stored can match.
		if len(f.Codings) == 0 {
			return []*Observation{}, 0, nil
		}
	}

	items, total, err := s.repo.Search(ctx, f, limit, offset)
	if err != nil {
		s.logger.Error().Err(err).Msg("observation search failed")
		return nil, 0, err
	}
	if items == nil {
		items = []*Observation{}
	}
	return items, total, nil
}

// Get loads an observation with its codings, components and members.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Detail, error) {
	o, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.detail(ctx, o)
}

// SearchDetails runs Search and loads the child rows of each result.
func (s *Service) SearchDetails(ctx context.Context, q Query, limit, offset int) ([]*Detail, int, error) {
	items, total, err := s.Search(ctx, q, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	out := make([]*Detail, 0, len(items))
	for _, o := range items {
		d, err := s.detail(ctx, o)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, d)
	}
	return out, total, nil
}

func (s *Service) detail(ctx context.Context, o *Observation) (*Detail, error) {
	var err error
	d := &Detail{Observation: o}
	if d.Codings, err = s.repo.Codings(ctx, o.ID); err != nil {
		return nil, err
	}
	if d.ValueCodings, err = s.repo.ValueCodings(ctx, o.ID); err != nil {
		return nil, err
	}
	if d.Components, err = s.repo.Components(ctx, o.ID); err != nil {
		return nil, err
	}
	if d.Members, err = s.repo.Members(ctx, o.ID); err != nil {
		return nil, err
	}
	if d.Members == nil {
		d.Members = []*Observation{}
	}
	return d, nil
}

// NewEffect returns a builder whose existence checks use the repository.
func (s *Service) NewEffect() *Effect {
	return NewEffect(s.repo)
}

// Emit validates the builder for method and returns the serialized effect.
func (s *Service) Emit(ctx context.Context, e *Effect, method effect.Method) (*effect.Effect, error) {
	var (
		out *effect.Effect
		err error
	)
	switch method {
	case effect.MethodCreate:
		out, err = e.Create(ctx)
	case effect.MethodUpdate:
		out, err = e.Update(ctx)
	default:
		return nil, fmt.Errorf("unsupported method %q", method)
	}

	var verr *effect.ValidationError
	switch {
	case errors.As(err, &verr):
		s.logger.Debug().Str("effect", effect.TypeName(EffectType, method)).Int("errors", len(verr.Details)).Msg("effect rejected")
	case err != nil:
		s.logger.Error().Err(err).Str("effect", effect.TypeName(EffectType, method)).Msg("effect validation failed")
	default:
		s.logger.Info().Str("effect", out.Type).Strs("fields", e.DirtyFields()).Msg("effect emitted")
	}
	return out, err
}

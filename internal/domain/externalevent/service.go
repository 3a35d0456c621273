package externalevent

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/canvas-medical/canvas-plugins-sub000/internal/platform/effect"
)

type Service struct {
	repo   Repository
	logger zerolog.Logger
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger.With().Str("component", "externalevent").Logger()}
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*ExternalEvent, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, patientKey string, limit, offset int) ([]*ExternalEvent, int, error) {
	items, total, err := s.repo.ListByPatient(ctx, patientKey, limit, offset)
	if err != nil {
		s.logger.Error().Err(err).Str("patient", patientKey).Msg("external event list failed")
		return nil, 0, err
	}
	if items == nil {
		items = []*ExternalEvent{}
	}
	return items, total, nil
}

func (s *Service) NewEffect() *Effect {
	return NewEffect(s.repo)
}

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

	name := effect.TypeName(EffectType, method)
	var verr *effect.ValidationError
	switch {
	case errors.As(err, &verr):
		s.logger.Debug().Str("effect", name).Int("errors", len(verr.Details)).Msg("effect rejected")
	case err != nil:
		s.logger.Error().Err(err).Str("effect", name).Msg("effect validation failed")
	default:
		s.logger.Info().Str("effect", name).Str("event_type", e.fields.String("event_type")).Msg("external event effect emitted")
	}
	return out, err
}

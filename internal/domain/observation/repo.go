package observation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/canvas-medical/canvas-plugins-sub000/internal/domain/valueset"
)

var ErrNotFound = errors.New("observation not found")

// Filter narrows Search. Zero fields do not filter. Soft-deleted rows are
// never returned.
type Filter struct {
	PatientKey string
	// Committed keeps observations with a committer and no entered-in-error.
	Committed bool
	// Codings matches observations having any coding whose system is one of
	// the entries and whose code is in that entry's codes.
	Codings       []valueset.SystemCodes
	Category      string
	MemberOf      *uuid.UUID
	EffectiveFrom *time.Time
	EffectiveTo   *time.Time
}

type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Observation, error)
	// Exists treats ids that are not UUIDs as absent.
	Exists(ctx context.Context, id string) (bool, error)
	Search(ctx context.Context, f Filter, limit, offset int) ([]*Observation, int, error)
	Codings(ctx context.Context, id uuid.UUID) ([]Coding, error)
	ValueCodings(ctx context.Context, id uuid.UUID) ([]Coding, error)
	Components(ctx context.Context, id uuid.UUID) ([]Component, error)
	Members(ctx context.Context, id uuid.UUID) ([]*Observation, error)
}

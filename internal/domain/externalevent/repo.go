package externalevent

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("external event not found")

type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*ExternalEvent, error)
	// Exists treats ids that are not UUIDs as absent.
	Exists(ctx context.Context, id string) (bool, error)
	// ListByPatient returns the patient's events, newest first. An empty
	// key lists every event.
	ListByPatient(ctx context.Context, patientKey string, limit, offset int) ([]*ExternalEvent, int, error)
}

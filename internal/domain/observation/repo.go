package observation

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/pstell2002/jupyterhealth-exchange/internal/platform/fhir"
)

var ErrNotFound = errors.New("observation not found")

type Repository interface {
	Create(ctx context.Context, o *Observation) error
	GetByID(ctx context.Context, id uuid.UUID) (*Observation, error)
	Search(ctx context.Context, q *fhir.SearchQuery, limit, offset int) ([]*Observation, int, error)
	ScopeCodeByCoding(ctx context.Context, system, code string) (*ScopeCode, error)
	PatientUserID(ctx context.Context, patientID uuid.UUID) (uuid.UUID, error)
}

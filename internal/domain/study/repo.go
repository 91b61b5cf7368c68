package study

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/pstell2002/jupyterhealth-exchange/internal/domain/access"
)

type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Study, error)
	ListForPatient(ctx context.Context, patientID uuid.UUID) ([]*Study, error)
	PatientUserID(ctx context.Context, patientID uuid.UUID) (uuid.UUID, error)
	EnrollmentID(ctx context.Context, studyID, patientID uuid.UUID) (uuid.UUID, error)
	Enroll(ctx context.Context, studyID, patientID uuid.UUID) (*access.Enrollment, error)
	AddScopeRequest(ctx context.Context, studyID, scopeCodeID uuid.UUID) error
	ListScopeRequests(ctx context.Context, studyID uuid.UUID) ([]ScopeRequest, error)
	ListDataSources(ctx context.Context, studyID uuid.UUID) ([]StudyDataSource, error)
	AddDataSource(ctx context.Context, studyID, dataSourceID uuid.UUID) error
	// RemoveDataSource returns ErrNotFound when the study has not opted in.
	RemoveDataSource(ctx context.Context, studyID, dataSourceID uuid.UUID) error
	// UpsertConsent stores the consent unless the existing row is newer. It
	// reports whether the row was written.
	UpsertConsent(ctx context.Context, studyPatientID, scopeCodeID uuid.UUID, consented bool, at time.Time) (bool, error)
}

package access

import (
	"context"

	"github.com/google/uuid"
)

// Store is the read model the engine evaluates against. Lookups of a single
// entity return ErrNotFound when it does not exist.
type Store interface {
	OrganizationEdges(ctx context.Context) ([]OrgEdge, error)
	UserOrganizationIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
	StudyOrganizationID(ctx context.Context, studyID uuid.UUID) (uuid.UUID, error)
	PatientOrganizationID(ctx context.Context, patientID uuid.UUID) (uuid.UUID, error)
	ObservationPatientID(ctx context.Context, observationID uuid.UUID) (uuid.UUID, error)
	FindEnrollment(ctx context.Context, studyID, patientID uuid.UUID) (*Enrollment, error)
	ScopeRequested(ctx context.Context, studyID, scopeCodeID uuid.UUID) (bool, error)
	LatestConsent(ctx context.Context, studyPatientID, scopeCodeID uuid.UUID) (*Consent, error)
	StudyEnrollments(ctx context.Context, studyID uuid.UUID) ([]Enrollment, error)
	StudyScopeCodeIDs(ctx context.Context, studyID uuid.UUID) ([]uuid.UUID, error)
	StudyConsents(ctx context.Context, studyID uuid.UUID) ([]Consent, error)
	GrantedStudyCount(ctx context.Context, patientID, scopeCodeID uuid.UUID) (int, error)
}

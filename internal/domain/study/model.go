package study

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/pstell2002/jupyterhealth-exchange/internal/domain/access"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrForbidden = errors.New("forbidden")
	ErrInvalid   = errors.New("invalid request")
	ErrConflict  = errors.New("already exists")
)

type Study struct {
	ID             uuid.UUID `db:"id" json:"id"`
	Name           string    `db:"name" json:"name"`
	Description    *string   `db:"description" json:"description,omitempty"`
	OrganizationID uuid.UUID `db:"organization_id" json:"organization_id"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// ConsentInput records one patient's answer for one requested scope.
// ConsentedTime defaults to the time of the request.
type ConsentInput struct {
	PatientID     uuid.UUID  `json:"patient_id"`
	ScopeCodeID   uuid.UUID  `json:"scope_code_id"`
	Consented     *bool      `json:"consented"`
	ConsentedTime *time.Time `json:"consented_time,omitempty"`
}

func (in ConsentInput) validate() error {
	switch {
	case in.PatientID == uuid.Nil:
		return errors.New("patient_id is required")
	case in.ScopeCodeID == uuid.Nil:
		return errors.New("scope_code_id is required")
	case in.Consented == nil:
		return errors.New("consented is required")
	}
	return nil
}

type EnrollInput struct {
	PatientIDs []uuid.UUID `json:"patient_ids"`
}

type ScopeRequestInput struct {
	ScopeCodeID uuid.UUID `json:"scope_code_id"`
}

// DataSourceInput names a data source a study opts in to or out of.
type DataSourceInput struct {
	DataSourceID uuid.UUID `json:"data_source_id"`
}

// StudyDataSource is a data source a study accepts observations from. ID is
// the data source's id.
type StudyDataSource struct {
	ID   uuid.UUID `db:"id" json:"id"`
	Name string    `db:"name" json:"name"`
	Type string    `db:"type" json:"type"`
}

// ScopeRequest is a scope code a study collects.
type ScopeRequest struct {
	ID           uuid.UUID `db:"id" json:"id"`
	CodingSystem string    `db:"coding_system" json:"coding_system"`
	CodingCode   string    `db:"coding_code" json:"coding_code"`
	Text         *string   `db:"text" json:"text"`
}

// ConsentSummary groups a study's consent states for collection UIs.
type ConsentSummary struct {
	StudyID uuid.UUID             `json:"study_id"`
	Pending []access.ScopeConsent `json:"pending"`
	Granted []access.ScopeConsent `json:"granted"`
}

// PatientStudyConsents lists one patient's consent states within a study.
type PatientStudyConsents struct {
	Study  *Study                `json:"study"`
	Scopes []access.ScopeConsent `json:"scopes"`
}

package access

import (
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
)

// ConsentState is a patient's consent for one scope within one study.
type ConsentState string

const (
	ConsentPending  ConsentState = "PENDING"
	ConsentGranted  ConsentState = "GRANTED"
	ConsentDeclined ConsentState = "DECLINED"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrPatientNotInStudy = errors.New("patient is not enrolled in study")
	ErrScopeNotRequested = errors.New("scope was not requested by study")
)

// OrgEdge is one organization and its parent, if any.
type OrgEdge struct {
	ID     uuid.UUID
	PartOf *uuid.UUID
}

// Consent is the authoritative consent row for a (study patient, scope) key.
type Consent struct {
	StudyPatientID uuid.UUID
	PatientID      uuid.UUID
	ScopeCodeID    uuid.UUID
	Consented      bool
	ConsentedTime  time.Time
}

// Enrollment is a StudyPatient edge.
type Enrollment struct {
	ID        uuid.UUID `json:"id"`
	StudyID   uuid.UUID `json:"study_id"`
	PatientID uuid.UUID `json:"patient_id"`
}

// ScopeConsent is the computed state of one (patient, scope) pair in a study.
type ScopeConsent struct {
	StudyID       uuid.UUID    `json:"study_id"`
	PatientID     uuid.UUID    `json:"patient_id"`
	ScopeCodeID   uuid.UUID    `json:"scope_code_id"`
	State         ConsentState `json:"state"`
	ConsentedTime *time.Time   `json:"consented_time,omitempty"`
}

// OrgSet is a set of organization ids.
type OrgSet map[uuid.UUID]struct{}

func (s OrgSet) Contains(id uuid.UUID) bool {
	_, ok := s[id]
	return ok
}

// IDs returns the members in a stable order.
func (s OrgSet) IDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

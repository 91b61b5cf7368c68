package access

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type mockStore struct {
	orgs          map[uuid.UUID]*uuid.UUID
	memberships   map[uuid.UUID][]uuid.UUID
	studies       map[uuid.UUID]uuid.UUID
	patients      map[uuid.UUID]uuid.UUID
	observations  map[uuid.UUID]uuid.UUID
	enrollments   []Enrollment
	scopeRequests map[uuid.UUID][]uuid.UUID
	consents      []Consent
	edgeLoads     int
}

func newMockStore() *mockStore {
	return &mockStore{
		orgs:          make(map[uuid.UUID]*uuid.UUID),
		memberships:   make(map[uuid.UUID][]uuid.UUID),
		studies:       make(map[uuid.UUID]uuid.UUID),
		patients:      make(map[uuid.UUID]uuid.UUID),
		observations:  make(map[uuid.UUID]uuid.UUID),
		scopeRequests: make(map[uuid.UUID][]uuid.UUID),
	}
}

func (m *mockStore) addOrg(parent *uuid.UUID) uuid.UUID {
	id := uuid.New()
	m.orgs[id] = parent
	return id
}

func (m *mockStore) enroll(studyID, patientID uuid.UUID) Enrollment {
	e := Enrollment{ID: uuid.New(), StudyID: studyID, PatientID: patientID}
	m.enrollments = append(m.enrollments, e)
	return e
}

func (m *mockStore) consent(e Enrollment, scope uuid.UUID, consented bool, at time.Time) {
	m.consents = append(m.consents, Consent{
		StudyPatientID: e.ID,
		PatientID:      e.PatientID,
		ScopeCodeID:    scope,
		Consented:      consented,
		ConsentedTime:  at,
	})
}

func (m *mockStore) OrganizationEdges(ctx context.Context) ([]OrgEdge, error) {
	m.edgeLoads++
	edges := make([]OrgEdge, 0, len(m.orgs))
	for id, parent := range m.orgs {
		edges = append(edges, OrgEdge{ID: id, PartOf: parent})
	}
	return edges, nil
}

func (m *mockStore) UserOrganizationIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	return m.memberships[userID], nil
}

func (m *mockStore) StudyOrganizationID(ctx context.Context, studyID uuid.UUID) (uuid.UUID, error) {
	org, ok := m.studies[studyID]
	if !ok {
		return uuid.Nil, ErrNotFound
	}
	return org, nil
}

func (m *mockStore) PatientOrganizationID(ctx context.Context, patientID uuid.UUID) (uuid.UUID, error) {
	org, ok := m.patients[patientID]
	if !ok {
		return uuid.Nil, ErrNotFound
	}
	return org, nil
}

func (m *mockStore) ObservationPatientID(ctx context.Context, observationID uuid.UUID) (uuid.UUID, error) {
	p, ok := m.observations[observationID]
	if !ok {
		return uuid.Nil, ErrNotFound
	}
	return p, nil
}

func (m *mockStore) FindEnrollment(ctx context.Context, studyID, patientID uuid.UUID) (*Enrollment, error) {
	for _, e := range m.enrollments {
		if e.StudyID == studyID && e.PatientID == patientID {
			e := e
			return &e, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockStore) ScopeRequested(ctx context.Context, studyID, scopeCodeID uuid.UUID) (bool, error) {
	for _, s := range m.scopeRequests[studyID] {
		if s == scopeCodeID {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockStore) LatestConsent(ctx context.Context, studyPatientID, scopeCodeID uuid.UUID) (*Consent, error) {
	var latest *Consent
	for i := range m.consents {
		c := &m.consents[i]
		if c.StudyPatientID != studyPatientID || c.ScopeCodeID != scopeCodeID {
			continue
		}
		if latest == nil || c.ConsentedTime.After(latest.ConsentedTime) {
			latest = c
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return latest, nil
}

func (m *mockStore) StudyEnrollments(ctx context.Context, studyID uuid.UUID) ([]Enrollment, error) {
	var out []Enrollment
	for _, e := range m.enrollments {
		if e.StudyID == studyID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *mockStore) StudyScopeCodeIDs(ctx context.Context, studyID uuid.UUID) ([]uuid.UUID, error) {
	return m.scopeRequests[studyID], nil
}

func (m *mockStore) StudyConsents(ctx context.Context, studyID uuid.UUID) ([]Consent, error) {
	enrolled := map[uuid.UUID]bool{}
	for _, e := range m.enrollments {
		if e.StudyID == studyID {
			enrolled[e.ID] = true
		}
	}
	var out []Consent
	for _, c := range m.consents {
		if enrolled[c.StudyPatientID] {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *mockStore) GrantedStudyCount(ctx context.Context, patientID, scopeCodeID uuid.UUID) (int, error) {
	n := 0
	for _, e := range m.enrollments {
		if e.PatientID != patientID {
			continue
		}
		requested, _ := m.ScopeRequested(ctx, e.StudyID, scopeCodeID)
		c, err := m.LatestConsent(ctx, e.ID, scopeCodeID)
		if requested && err == nil && c.Consented {
			n++
		}
	}
	return n, nil
}

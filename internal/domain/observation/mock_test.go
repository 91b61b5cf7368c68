package observation

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/pstell2002/jupyterhealth-exchange/internal/domain/access"
	"github.com/pstell2002/jupyterhealth-exchange/internal/platform/fhir"
)

// -- Mock Repository --

type mockRepo struct {
	data         map[uuid.UUID]*Observation
	scopes       map[string]*ScopeCode
	patientUsers map[uuid.UUID]uuid.UUID
	lastQuery    *fhir.SearchQuery
	createErr    error
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		data:         make(map[uuid.UUID]*Observation),
		scopes:       make(map[string]*ScopeCode),
		patientUsers: make(map[uuid.UUID]uuid.UUID),
	}
}

func (m *mockRepo) Create(_ context.Context, o *Observation) error {
	if m.createErr != nil {
		return m.createErr
	}
	if o.IdentifierSystem != nil && o.IdentifierValue != nil {
		for _, existing := range m.data {
			if existing.IdentifierSystem != nil && existing.IdentifierValue != nil &&
				*existing.IdentifierSystem == *o.IdentifierSystem && *existing.IdentifierValue == *o.IdentifierValue {
				return &pgconn.PgError{
					Code:           "23505",
					Message:        "duplicate key value violates unique constraint",
					ConstraintName: "observation_identifier_key",
				}
			}
		}
	}
	o.ID = uuid.New()
	o.LastUpdated = time.Now().UTC()
	m.data[o.ID] = o
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Observation, error) {
	if o, ok := m.data[id]; ok {
		return o, nil
	}
	return nil, ErrNotFound
}

func (m *mockRepo) Search(_ context.Context, q *fhir.SearchQuery, limit, offset int) ([]*Observation, int, error) {
	m.lastQuery = q
	var out []*Observation
	for _, o := range m.data {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastUpdated.Before(out[j].LastUpdated) })
	total := len(out)
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out, total, nil
}

func (m *mockRepo) ScopeCodeByCoding(_ context.Context, system, code string) (*ScopeCode, error) {
	if sc, ok := m.scopes[system+"|"+code]; ok {
		return sc, nil
	}
	return nil, ErrNotFound
}

func (m *mockRepo) PatientUserID(_ context.Context, patientID uuid.UUID) (uuid.UUID, error) {
	if id, ok := m.patientUsers[patientID]; ok {
		return id, nil
	}
	return uuid.Nil, ErrNotFound
}

// -- Mock Authorizer --

type pair [2]uuid.UUID

type mockAuthz struct {
	orgs         access.OrgSet
	studies      map[uuid.UUID]bool
	patients     map[pair]bool
	observations map[uuid.UUID]bool
	enrolled     map[pair]bool
	granted      map[pair]bool
	err          error
}

func newMockAuthz() *mockAuthz {
	return &mockAuthz{
		orgs:         access.OrgSet{},
		studies:      make(map[uuid.UUID]bool),
		patients:     make(map[pair]bool),
		observations: make(map[uuid.UUID]bool),
		enrolled:     make(map[pair]bool),
		granted:      make(map[pair]bool),
	}
}

func (m *mockAuthz) OrganizationsAuthorizedFor(_ context.Context, _ uuid.UUID) (access.OrgSet, error) {
	return m.orgs, m.err
}
func (m *mockAuthz) IsStudyAuthorized(_ context.Context, _, studyID uuid.UUID) (bool, error) {
	return m.studies[studyID], m.err
}
func (m *mockAuthz) IsPatientAuthorized(_ context.Context, userID, patientID uuid.UUID) (bool, error) {
	return m.patients[pair{userID, patientID}], m.err
}
func (m *mockAuthz) IsObservationAuthorized(_ context.Context, _, id uuid.UUID) (bool, error) {
	return m.observations[id], m.err
}
func (m *mockAuthz) IsPatientInStudy(_ context.Context, studyID, patientID uuid.UUID) (bool, error) {
	return m.enrolled[pair{studyID, patientID}], m.err
}
func (m *mockAuthz) HasGrantedScope(_ context.Context, patientID, scopeCodeID uuid.UUID) (bool, error) {
	return m.granted[pair{patientID, scopeCodeID}], m.err
}

// -- Fakes --

type fakeTx struct{ calls int }

func (f *fakeTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	f.calls++
	return fn(ctx)
}

type fakePublisher struct {
	subjects []string
	payloads []interface{}
	err      error
}

func (f *fakePublisher) Publish(_ context.Context, subject string, payload interface{}) error {
	if f.err != nil {
		return f.err
	}
	f.subjects = append(f.subjects, subject)
	f.payloads = append(f.payloads, payload)
	return nil
}

var errBoom = errors.New("connection reset")

const (
	testSystem = "https://w3id.org/openmhealth"
	testCode   = "omh:blood-glucose:4.0"
)

type fixture struct {
	svc          *Service
	repo         *mockRepo
	authz        *mockAuthz
	tx           *fakeTx
	events       *fakePublisher
	patientID    uuid.UUID
	patientUser  uuid.UUID
	practitioner uuid.UUID
	scope        *ScopeCode
}

// newFixture wires a patient whose practitioner is authorized and who has
// granted the blood glucose scope.
func newFixture() *fixture {
	f := &fixture{
		repo:         newMockRepo(),
		authz:        newMockAuthz(),
		tx:           &fakeTx{},
		events:       &fakePublisher{},
		patientID:    uuid.New(),
		patientUser:  uuid.New(),
		practitioner: uuid.New(),
	}
	text := "Blood glucose"
	f.scope = &ScopeCode{ID: uuid.New(), CodingSystem: testSystem, CodingCode: testCode, Text: &text}
	f.repo.scopes[testSystem+"|"+testCode] = f.scope
	f.repo.patientUsers[f.patientID] = f.patientUser
	f.authz.patients[pair{f.practitioner, f.patientID}] = true
	f.authz.granted[pair{f.patientID, f.scope.ID}] = true
	f.svc = NewService(f.repo, f.authz, f.tx, f.events, zerolog.Nop())
	return f
}

// resource returns an internal-form observation for patientID.
func resource(patientID uuid.UUID, identifier string) map[string]interface{} {
	r := map[string]interface{}{
		"resource_type": "Observation",
		"status":        "final",
		"subject":       map[string]interface{}{"reference": "Patient/" + patientID.String()},
		"code": map[string]interface{}{
			"coding": []interface{}{
				map[string]interface{}{"system": testSystem, "code": testCode},
			},
		},
		"value_attachment": map[string]interface{}{
			"content_type": "application/json",
			"data":         map[string]interface{}{"blood_glucose": map[string]interface{}{"value": 110, "unit": "mg/dL"}},
		},
	}
	if identifier != "" {
		r["identifier"] = []interface{}{
			map[string]interface{}{"system": "https://example.org/ids", "value": identifier},
		}
	}
	return r
}

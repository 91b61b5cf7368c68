package study

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/pstell2002/jupyterhealth-exchange/internal/domain/access"
)

type pair [2]uuid.UUID

type consentRow struct {
	consented bool
	at        time.Time
}

// world is an in-memory Repository and Authorizer over the same data.
type world struct {
	studies       map[uuid.UUID]*Study
	patientUsers  map[uuid.UUID]uuid.UUID
	studyAccess   map[uuid.UUID]bool
	patientAccess map[uuid.UUID]bool
	enrollments   map[pair]uuid.UUID
	enrollOrder   []pair
	knownScopes   map[uuid.UUID]bool
	scopeRequests map[uuid.UUID][]uuid.UUID
	sources       map[uuid.UUID]StudyDataSource
	studySources  map[uuid.UUID][]uuid.UUID
	consents      map[pair]consentRow
	txCalls       int
}

func newWorld() *world {
	return &world{
		studies:       make(map[uuid.UUID]*Study),
		patientUsers:  make(map[uuid.UUID]uuid.UUID),
		studyAccess:   make(map[uuid.UUID]bool),
		patientAccess: make(map[uuid.UUID]bool),
		enrollments:   make(map[pair]uuid.UUID),
		knownScopes:   make(map[uuid.UUID]bool),
		scopeRequests: make(map[uuid.UUID][]uuid.UUID),
		sources:       make(map[uuid.UUID]StudyDataSource),
		studySources:  make(map[uuid.UUID][]uuid.UUID),
		consents:      make(map[pair]consentRow),
	}
}

func (w *world) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	w.txCalls++
	return fn(ctx)
}

// -- Repository --

func (w *world) GetByID(_ context.Context, id uuid.UUID) (*Study, error) {
	if s, ok := w.studies[id]; ok {
		return s, nil
	}
	return nil, ErrNotFound
}

func (w *world) ListForPatient(_ context.Context, patientID uuid.UUID) ([]*Study, error) {
	var out []*Study
	for _, k := range w.enrollOrder {
		if k[1] == patientID {
			out = append(out, w.studies[k[0]])
		}
	}
	return out, nil
}

func (w *world) PatientUserID(_ context.Context, patientID uuid.UUID) (uuid.UUID, error) {
	if id, ok := w.patientUsers[patientID]; ok {
		return id, nil
	}
	return uuid.Nil, ErrNotFound
}

func (w *world) EnrollmentID(_ context.Context, studyID, patientID uuid.UUID) (uuid.UUID, error) {
	if id, ok := w.enrollments[pair{studyID, patientID}]; ok {
		return id, nil
	}
	return uuid.Nil, ErrNotFound
}

func (w *world) Enroll(_ context.Context, studyID, patientID uuid.UUID) (*access.Enrollment, error) {
	k := pair{studyID, patientID}
	id, ok := w.enrollments[k]
	if !ok {
		id = uuid.New()
		w.enrollments[k] = id
		w.enrollOrder = append(w.enrollOrder, k)
	}
	return &access.Enrollment{ID: id, StudyID: studyID, PatientID: patientID}, nil
}

func (w *world) AddScopeRequest(_ context.Context, studyID, scopeCodeID uuid.UUID) error {
	if !w.knownScopes[scopeCodeID] {
		return &pgconn.PgError{Code: "23503", Message: "insert violates foreign key constraint"}
	}
	for _, s := range w.scopeRequests[studyID] {
		if s == scopeCodeID {
			return nil
		}
	}
	w.scopeRequests[studyID] = append(w.scopeRequests[studyID], scopeCodeID)
	return nil
}

func (w *world) ListScopeRequests(_ context.Context, studyID uuid.UUID) ([]ScopeRequest, error) {
	out := []ScopeRequest{}
	for _, id := range w.scopeRequests[studyID] {
		out = append(out, ScopeRequest{ID: id, CodingSystem: "https://w3id.org/openmhealth", CodingCode: "omh:" + id.String()})
	}
	return out, nil
}

func (w *world) ListDataSources(_ context.Context, studyID uuid.UUID) ([]StudyDataSource, error) {
	out := []StudyDataSource{}
	for _, id := range w.studySources[studyID] {
		out = append(out, w.sources[id])
	}
	return out, nil
}

func (w *world) AddDataSource(_ context.Context, studyID, dataSourceID uuid.UUID) error {
	if _, ok := w.sources[dataSourceID]; !ok {
		return &pgconn.PgError{Code: "23503", Message: "insert violates foreign key constraint"}
	}
	for _, id := range w.studySources[studyID] {
		if id == dataSourceID {
			return &pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"}
		}
	}
	w.studySources[studyID] = append(w.studySources[studyID], dataSourceID)
	return nil
}

func (w *world) RemoveDataSource(_ context.Context, studyID, dataSourceID uuid.UUID) error {
	ids := w.studySources[studyID]
	for i, id := range ids {
		if id == dataSourceID {
			w.studySources[studyID] = append(ids[:i], ids[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (w *world) UpsertConsent(_ context.Context, studyPatientID, scopeCodeID uuid.UUID, consented bool, at time.Time) (bool, error) {
	k := pair{studyPatientID, scopeCodeID}
	if prev, ok := w.consents[k]; ok && prev.at.After(at) {
		return false, nil
	}
	w.consents[k] = consentRow{consented: consented, at: at}
	return true, nil
}

// -- Authorizer --

func (w *world) IsStudyAuthorized(_ context.Context, _, studyID uuid.UUID) (bool, error) {
	return w.studyAccess[studyID], nil
}

func (w *world) IsPatientAuthorized(_ context.Context, _, patientID uuid.UUID) (bool, error) {
	return w.patientAccess[patientID], nil
}

func (w *world) requested(studyID, scopeCodeID uuid.UUID) bool {
	for _, s := range w.scopeRequests[studyID] {
		if s == scopeCodeID {
			return true
		}
	}
	return false
}

func stateOf(c consentRow) access.ConsentState {
	if c.consented {
		return access.ConsentGranted
	}
	return access.ConsentDeclined
}

func (w *world) ConsentState(_ context.Context, studyID, patientID, scopeCodeID uuid.UUID) (access.ConsentState, error) {
	enr, ok := w.enrollments[pair{studyID, patientID}]
	if !ok {
		return "", access.ErrPatientNotInStudy
	}
	if c, ok := w.consents[pair{enr, scopeCodeID}]; ok {
		return stateOf(c), nil
	}
	if !w.requested(studyID, scopeCodeID) {
		return "", access.ErrScopeNotRequested
	}
	return access.ConsentPending, nil
}

func (w *world) StudyConsents(_ context.Context, studyID uuid.UUID) ([]access.ScopeConsent, error) {
	var out []access.ScopeConsent
	for _, k := range w.enrollOrder {
		if k[0] != studyID {
			continue
		}
		enr := w.enrollments[k]
		for _, scope := range w.scopeRequests[studyID] {
			sc := access.ScopeConsent{StudyID: studyID, PatientID: k[1], ScopeCodeID: scope, State: access.ConsentPending}
			if c, ok := w.consents[pair{enr, scope}]; ok {
				sc.State = stateOf(c)
				at := c.at
				sc.ConsentedTime = &at
			}
			out = append(out, sc)
		}
	}
	return out, nil
}

func (w *world) filter(ctx context.Context, studyID uuid.UUID, state access.ConsentState) ([]access.ScopeConsent, error) {
	all, _ := w.StudyConsents(ctx, studyID)
	out := []access.ScopeConsent{}
	for _, sc := range all {
		if sc.State == state {
			out = append(out, sc)
		}
	}
	return out, nil
}

func (w *world) PendingScopeConsents(ctx context.Context, studyID uuid.UUID) ([]access.ScopeConsent, error) {
	return w.filter(ctx, studyID, access.ConsentPending)
}

func (w *world) ActiveScopeConsents(ctx context.Context, studyID uuid.UUID) ([]access.ScopeConsent, error) {
	return w.filter(ctx, studyID, access.ConsentGranted)
}

// -- Fixture --

type fixture struct {
	svc          *Service
	w            *world
	studyID      uuid.UUID
	patientID    uuid.UUID
	patientUser  uuid.UUID
	practitioner uuid.UUID
	scope        uuid.UUID
}

// newFixture enrolls one patient in one study that requests one scope. The
// practitioner is authorized for both.
func newFixture() *fixture {
	f := &fixture{
		w:            newWorld(),
		studyID:      uuid.New(),
		patientID:    uuid.New(),
		patientUser:  uuid.New(),
		practitioner: uuid.New(),
		scope:        uuid.New(),
	}
	f.w.studies[f.studyID] = &Study{ID: f.studyID, Name: "Glucose monitoring", OrganizationID: uuid.New()}
	f.w.patientUsers[f.patientID] = f.patientUser
	f.w.studyAccess[f.studyID] = true
	f.w.patientAccess[f.patientID] = true
	f.w.knownScopes[f.scope] = true
	f.w.scopeRequests[f.studyID] = []uuid.UUID{f.scope}
	f.w.Enroll(context.Background(), f.studyID, f.patientID)
	f.svc = NewService(f.w, f.w, f.w, zerolog.Nop())
	return f
}

func boolPtr(b bool) *bool { return &b }

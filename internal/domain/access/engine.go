package access

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Engine resolves what a practitioner may act on and what patients have
// consented to. Every operation takes the acting user explicitly.
type Engine struct {
	store Store
}

func NewEngine(store Store) *Engine {
	return &Engine{store: store}
}

func (e *Engine) hierarchy(ctx context.Context) (*Hierarchy, error) {
	m := memoFrom(ctx)
	if m != nil {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.hier != nil {
			return m.hier, nil
		}
	}

	edges, err := e.store.OrganizationEdges(ctx)
	if err != nil {
		return nil, fmt.Errorf("load organizations: %w", err)
	}
	h := NewHierarchy(edges)
	if m != nil {
		m.hier = h
	}
	return h, nil
}

// Hierarchy returns the organization forest.
func (e *Engine) Hierarchy(ctx context.Context) (*Hierarchy, error) {
	return e.hierarchy(ctx)
}

// OrganizationsAuthorizedFor returns the user's organization memberships plus
// every descendant organization.
func (e *Engine) OrganizationsAuthorizedFor(ctx context.Context, userID uuid.UUID) (OrgSet, error) {
	if m := memoFrom(ctx); m != nil {
		m.mu.Lock()
		set, ok := m.orgs[userID]
		m.mu.Unlock()
		if ok {
			return set, nil
		}
	}

	roots, err := e.store.UserOrganizationIDs(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load memberships: %w", err)
	}
	h, err := e.hierarchy(ctx)
	if err != nil {
		return nil, err
	}
	set := h.Union(roots)

	if m := memoFrom(ctx); m != nil {
		m.mu.Lock()
		m.orgs[userID] = set
		m.mu.Unlock()
	}
	return set, nil
}

// IsOrganizationAuthorized reports whether orgID is inside the user's reach.
func (e *Engine) IsOrganizationAuthorized(ctx context.Context, userID, orgID uuid.UUID) (bool, error) {
	set, err := e.OrganizationsAuthorizedFor(ctx, userID)
	if err != nil {
		return false, err
	}
	return set.Contains(orgID), nil
}

// IsStudyAuthorized reports whether the study's owning organization is
// authorized. Unknown studies are not authorized.
func (e *Engine) IsStudyAuthorized(ctx context.Context, userID, studyID uuid.UUID) (bool, error) {
	orgID, err := e.store.StudyOrganizationID(ctx, studyID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("resolve study organization: %w", err)
	}
	return e.IsOrganizationAuthorized(ctx, userID, orgID)
}

// IsPatientAuthorized reports whether the patient's owning organization is
// authorized. Unknown patients are not authorized.
func (e *Engine) IsPatientAuthorized(ctx context.Context, userID, patientID uuid.UUID) (bool, error) {
	orgID, err := e.store.PatientOrganizationID(ctx, patientID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("resolve patient organization: %w", err)
	}
	return e.IsOrganizationAuthorized(ctx, userID, orgID)
}

// IsObservationAuthorized applies the patient test to the observation's
// subject.
func (e *Engine) IsObservationAuthorized(ctx context.Context, userID, observationID uuid.UUID) (bool, error) {
	patientID, err := e.store.ObservationPatientID(ctx, observationID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("resolve observation subject: %w", err)
	}
	return e.IsPatientAuthorized(ctx, userID, patientID)
}

func (e *Engine) IsPatientInStudy(ctx context.Context, studyID, patientID uuid.UUID) (bool, error) {
	_, err := e.store.FindEnrollment(ctx, studyID, patientID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("find enrollment: %w", err)
	}
	return true, nil
}

// ConsentState returns the state of one (study, patient, scope) key. A
// recorded consent decides the state; otherwise the scope must have been
// requested by the study, giving PENDING, or ErrScopeNotRequested is
// returned.
func (e *Engine) ConsentState(ctx context.Context, studyID, patientID, scopeCodeID uuid.UUID) (ConsentState, error) {
	enr, err := e.store.FindEnrollment(ctx, studyID, patientID)
	if errors.Is(err, ErrNotFound) {
		return "", ErrPatientNotInStudy
	}
	if err != nil {
		return "", fmt.Errorf("find enrollment: %w", err)
	}

	c, err := e.store.LatestConsent(ctx, enr.ID, scopeCodeID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return "", fmt.Errorf("load consent: %w", err)
	}
	if c != nil {
		return stateOf(c), nil
	}

	requested, err := e.store.ScopeRequested(ctx, studyID, scopeCodeID)
	if err != nil {
		return "", fmt.Errorf("load scope request: %w", err)
	}
	if !requested {
		return "", ErrScopeNotRequested
	}
	return ConsentPending, nil
}

// HasGrantedScope reports whether the patient has granted scopeCodeID in at
// least one study.
func (e *Engine) HasGrantedScope(ctx context.Context, patientID, scopeCodeID uuid.UUID) (bool, error) {
	n, err := e.store.GrantedStudyCount(ctx, patientID, scopeCodeID)
	if err != nil {
		return false, fmt.Errorf("count granted consents: %w", err)
	}
	return n > 0, nil
}

// StudyConsents computes the state of every enrolled patient for every
// requested scope, ordered by enrollment then scope request.
func (e *Engine) StudyConsents(ctx context.Context, studyID uuid.UUID) ([]ScopeConsent, error) {
	enrollments, err := e.store.StudyEnrollments(ctx, studyID)
	if err != nil {
		return nil, fmt.Errorf("load enrollments: %w", err)
	}
	scopes, err := e.store.StudyScopeCodeIDs(ctx, studyID)
	if err != nil {
		return nil, fmt.Errorf("load scope requests: %w", err)
	}
	rows, err := e.store.StudyConsents(ctx, studyID)
	if err != nil {
		return nil, fmt.Errorf("load consents: %w", err)
	}

	type key struct{ studyPatient, scope uuid.UUID }
	latest := make(map[key]*Consent, len(rows))
	for i := range rows {
		c := &rows[i]
		k := key{c.StudyPatientID, c.ScopeCodeID}
		if prev, ok := latest[k]; !ok || !c.ConsentedTime.Before(prev.ConsentedTime) {
			latest[k] = c
		}
	}

	out := make([]ScopeConsent, 0, len(enrollments)*len(scopes))
	for _, enr := range enrollments {
		for _, scope := range scopes {
			sc := ScopeConsent{StudyID: studyID, PatientID: enr.PatientID, ScopeCodeID: scope, State: ConsentPending}
			if c, ok := latest[key{enr.ID, scope}]; ok {
				sc.State = stateOf(c)
				t := c.ConsentedTime
				sc.ConsentedTime = &t
			}
			out = append(out, sc)
		}
	}
	return out, nil
}

// PendingScopeConsents returns the PENDING subset of StudyConsents.
func (e *Engine) PendingScopeConsents(ctx context.Context, studyID uuid.UUID) ([]ScopeConsent, error) {
	return e.filterConsents(ctx, studyID, ConsentPending)
}

// ActiveScopeConsents returns the GRANTED subset of StudyConsents.
func (e *Engine) ActiveScopeConsents(ctx context.Context, studyID uuid.UUID) ([]ScopeConsent, error) {
	return e.filterConsents(ctx, studyID, ConsentGranted)
}

func (e *Engine) filterConsents(ctx context.Context, studyID uuid.UUID, state ConsentState) ([]ScopeConsent, error) {
	all, err := e.StudyConsents(ctx, studyID)
	if err != nil {
		return nil, err
	}
	out := make([]ScopeConsent, 0, len(all))
	for _, sc := range all {
		if sc.State == state {
			out = append(out, sc)
		}
	}
	return out, nil
}

func stateOf(c *Consent) ConsentState {
	if c.Consented {
		return ConsentGranted
	}
	return ConsentDeclined
}

package observation

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/google/uuid"

	"github.com/pstell2002/jupyterhealth-exchange/internal/domain/access"
	"github.com/pstell2002/jupyterhealth-exchange/internal/platform/fhir"
)

var (
	// ErrInvalidQuery marks a search that is malformed or names a patient
	// outside the requested study.
	ErrInvalidQuery = errors.New("invalid observation query")
	// ErrForbidden marks a search or read the caller is not authorized for.
	ErrForbidden = errors.New("forbidden")
)

// Study filter parameter names, in lookup order.
var studyParams = []string{
	"patient._has:Group:member:_id",
	"patient._has:_group:member:_id",
	"_has:Group:member:_id",
	"_has:_group:member:_id",
}

// Authorizer is the subset of the access engine the observation service needs.
type Authorizer interface {
	OrganizationsAuthorizedFor(ctx context.Context, userID uuid.UUID) (access.OrgSet, error)
	IsStudyAuthorized(ctx context.Context, userID, studyID uuid.UUID) (bool, error)
	IsPatientAuthorized(ctx context.Context, userID, patientID uuid.UUID) (bool, error)
	IsObservationAuthorized(ctx context.Context, userID, observationID uuid.UUID) (bool, error)
	IsPatientInStudy(ctx context.Context, studyID, patientID uuid.UUID) (bool, error)
	HasGrantedScope(ctx context.Context, patientID, scopeCodeID uuid.UUID) (bool, error)
}

// SearchParams are the decoded filters of an observation search.
type SearchParams struct {
	StudyID   *uuid.UUID
	PatientID *uuid.UUID
	Code      string
}

// ParseSearchParams decodes query parameters. Identifiers that are present
// but not UUIDs are reported as ErrInvalidQuery.
func ParseSearchParams(q url.Values) (SearchParams, error) {
	var p SearchParams
	for _, name := range studyParams {
		v := q.Get(name)
		if v == "" {
			continue
		}
		id, err := uuid.Parse(v)
		if err != nil {
			return p, fmt.Errorf("%w: invalid study id %q", ErrInvalidQuery, v)
		}
		p.StudyID = &id
		break
	}
	if v := q.Get("patient"); v != "" {
		id, err := ParsePatientRef(v)
		if err != nil {
			return p, fmt.Errorf("%w: %s", ErrInvalidQuery, err.Error())
		}
		p.PatientID = &id
	}
	p.Code = q.Get("code")
	return p, nil
}

// BuildSearch checks the search preconditions in order and returns the
// query restricted to the practitioner's organizations.
func BuildSearch(ctx context.Context, authz Authorizer, practitionerID uuid.UUID, p SearchParams) (*fhir.SearchQuery, error) {
	if p.StudyID == nil && p.PatientID == nil {
		return nil, fmt.Errorf("%w: request parameter patient._has:Group:member:_id=<study_id> or patient=<patient_id> must be provided", ErrInvalidQuery)
	}

	if p.StudyID != nil {
		ok, err := authz.IsStudyAuthorized(ctx, practitionerID, *p.StudyID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: study %s is not authorized", ErrForbidden, p.StudyID)
		}
	}

	if p.StudyID != nil && p.PatientID != nil {
		ok, err := authz.IsPatientInStudy(ctx, *p.StudyID, *p.PatientID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: patient %s is not in study %s", ErrInvalidQuery, p.PatientID, p.StudyID)
		}
	}

	var system, code string
	if p.Code != "" {
		var ok bool
		system, code, ok = fhir.SplitToken(p.Code)
		if !ok {
			return nil, fmt.Errorf("%w: code must be <system>|<code>", ErrInvalidQuery)
		}
	}

	orgs, err := authz.OrganizationsAuthorizedFor(ctx, practitionerID)
	if err != nil {
		return nil, err
	}

	q := fhir.NewSearchQuery(searchFrom, observationCols)
	q.Add(fmt.Sprintf("p.organization_id = ANY($%d)", q.Idx()), orgs.IDs())
	if p.StudyID != nil {
		q.Add(fmt.Sprintf(`EXISTS (SELECT 1 FROM study_patient sp
			JOIN study_patient_scope_consent c ON c.study_patient_id = sp.id
			WHERE sp.study_id = $%d AND sp.patient_id = o.subject_patient_id
				AND c.scope_code_id = o.codeable_concept_id AND c.consented)`, q.Idx()), *p.StudyID)
	}
	if p.PatientID != nil {
		q.AddEq("o.subject_patient_id", *p.PatientID)
	}
	if p.Code != "" {
		q.AddTokenPair("cc.coding_system", "cc.coding_code", system, code)
	}
	q.OrderBy("o.last_updated ASC, o.id ASC")
	return q, nil
}

package access

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pstell2002/jupyterhealth-exchange/internal/platform/db"
)

type storePG struct{ pool *pgxpool.Pool }

func NewStorePG(pool *pgxpool.Pool) Store {
	return &storePG{pool: pool}
}

func (s *storePG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, s.pool)
}

func (s *storePG) OrganizationEdges(ctx context.Context) ([]OrgEdge, error) {
	rows, err := s.conn(ctx).Query(ctx, `SELECT id, part_of FROM organization`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var edges []OrgEdge
	for rows.Next() {
		var e OrgEdge
		if err := rows.Scan(&e.ID, &e.PartOf); err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

func (s *storePG) UserOrganizationIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	return s.ids(ctx, `SELECT organization_id FROM jhe_user_organization WHERE jhe_user_id = $1`, userID)
}

func (s *storePG) StudyOrganizationID(ctx context.Context, studyID uuid.UUID) (uuid.UUID, error) {
	return s.id(ctx, `SELECT organization_id FROM study WHERE id = $1`, studyID)
}

func (s *storePG) PatientOrganizationID(ctx context.Context, patientID uuid.UUID) (uuid.UUID, error) {
	return s.id(ctx, `SELECT organization_id FROM patient WHERE id = $1`, patientID)
}

func (s *storePG) ObservationPatientID(ctx context.Context, observationID uuid.UUID) (uuid.UUID, error) {
	return s.id(ctx, `SELECT subject_patient_id FROM observation WHERE id = $1`, observationID)
}

func (s *storePG) FindEnrollment(ctx context.Context, studyID, patientID uuid.UUID) (*Enrollment, error) {
	var e Enrollment
	err := s.conn(ctx).QueryRow(ctx,
		`SELECT id, study_id, patient_id FROM study_patient WHERE study_id = $1 AND patient_id = $2`,
		studyID, patientID).Scan(&e.ID, &e.StudyID, &e.PatientID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *storePG) ScopeRequested(ctx context.Context, studyID, scopeCodeID uuid.UUID) (bool, error) {
	var ok bool
	err := s.conn(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM study_scope_request WHERE study_id = $1 AND scope_code_id = $2)`,
		studyID, scopeCodeID).Scan(&ok)
	return ok, err
}

func (s *storePG) LatestConsent(ctx context.Context, studyPatientID, scopeCodeID uuid.UUID) (*Consent, error) {
	var c Consent
	err := s.conn(ctx).QueryRow(ctx, `
		SELECT spsc.study_patient_id, sp.patient_id, spsc.scope_code_id, spsc.consented, spsc.consented_time
		FROM study_patient_scope_consent spsc
		JOIN study_patient sp ON sp.id = spsc.study_patient_id
		WHERE spsc.study_patient_id = $1 AND spsc.scope_code_id = $2
		ORDER BY spsc.consented_time DESC
		LIMIT 1`,
		studyPatientID, scopeCodeID).Scan(&c.StudyPatientID, &c.PatientID, &c.ScopeCodeID, &c.Consented, &c.ConsentedTime)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *storePG) StudyEnrollments(ctx context.Context, studyID uuid.UUID) ([]Enrollment, error) {
	rows, err := s.conn(ctx).Query(ctx,
		`SELECT id, study_id, patient_id FROM study_patient WHERE study_id = $1 ORDER BY id`, studyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Enrollment
	for rows.Next() {
		var e Enrollment
		if err := rows.Scan(&e.ID, &e.StudyID, &e.PatientID); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *storePG) StudyScopeCodeIDs(ctx context.Context, studyID uuid.UUID) ([]uuid.UUID, error) {
	return s.ids(ctx, `SELECT scope_code_id FROM study_scope_request WHERE study_id = $1 ORDER BY id`, studyID)
}

func (s *storePG) StudyConsents(ctx context.Context, studyID uuid.UUID) ([]Consent, error) {
	rows, err := s.conn(ctx).Query(ctx, `
		SELECT spsc.study_patient_id, sp.patient_id, spsc.scope_code_id, spsc.consented, spsc.consented_time
		FROM study_patient_scope_consent spsc
		JOIN study_patient sp ON sp.id = spsc.study_patient_id
		WHERE sp.study_id = $1`, studyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Consent
	for rows.Next() {
		var c Consent
		if err := rows.Scan(&c.StudyPatientID, &c.PatientID, &c.ScopeCodeID, &c.Consented, &c.ConsentedTime); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *storePG) GrantedStudyCount(ctx context.Context, patientID, scopeCodeID uuid.UUID) (int, error) {
	var n int
	err := s.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(DISTINCT sp.study_id)
		FROM study_patient sp
		JOIN study_scope_request ssr ON ssr.study_id = sp.study_id AND ssr.scope_code_id = $2
		JOIN study_patient_scope_consent spsc ON spsc.study_patient_id = sp.id AND spsc.scope_code_id = $2
		WHERE sp.patient_id = $1 AND spsc.consented = TRUE`,
		patientID, scopeCodeID).Scan(&n)
	return n, err
}

func (s *storePG) id(ctx context.Context, sql string, arg uuid.UUID) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.conn(ctx).QueryRow(ctx, sql, arg).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, ErrNotFound
	}
	return id, err
}

func (s *storePG) ids(ctx context.Context, sql string, arg uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.conn(ctx).Query(ctx, sql, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

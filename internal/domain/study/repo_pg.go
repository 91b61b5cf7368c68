package study

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pstell2002/jupyterhealth-exchange/internal/domain/access"
	"github.com/pstell2002/jupyterhealth-exchange/internal/platform/db"
)

type studyRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &studyRepoPG{pool: pool}
}

func (r *studyRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const studyCols = `s.id, s.name, s.description, s.organization_id, s.created_at`

func (r *studyRepoPG) scanStudy(row pgx.Row) (*Study, error) {
	var s Study
	err := row.Scan(&s.ID, &s.Name, &s.Description, &s.OrganizationID, &s.CreatedAt)
	return &s, err
}

func (r *studyRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Study, error) {
	s, err := r.scanStudy(r.conn(ctx).QueryRow(ctx, `SELECT `+studyCols+` FROM study s WHERE s.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (r *studyRepoPG) ListForPatient(ctx context.Context, patientID uuid.UUID) ([]*Study, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+studyCols+` FROM study s
		JOIN study_patient sp ON sp.study_id = s.id
		WHERE sp.patient_id = $1
		ORDER BY s.name, s.id`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Study
	for rows.Next() {
		s, err := r.scanStudy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *studyRepoPG) PatientUserID(ctx context.Context, patientID uuid.UUID) (uuid.UUID, error) {
	var userID uuid.UUID
	err := r.conn(ctx).QueryRow(ctx, `SELECT jhe_user_id FROM patient WHERE id = $1`, patientID).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, ErrNotFound
	}
	return userID, err
}

func (r *studyRepoPG) EnrollmentID(ctx context.Context, studyID, patientID uuid.UUID) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT id FROM study_patient WHERE study_id = $1 AND patient_id = $2`, studyID, patientID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, ErrNotFound
	}
	return id, err
}

// Enroll is idempotent: re-enrolling returns the existing edge.
func (r *studyRepoPG) Enroll(ctx context.Context, studyID, patientID uuid.UUID) (*access.Enrollment, error) {
	e := &access.Enrollment{StudyID: studyID, PatientID: patientID}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO study_patient (study_id, patient_id) VALUES ($1, $2)
		ON CONFLICT (study_id, patient_id) DO UPDATE SET study_id = EXCLUDED.study_id
		RETURNING id`, studyID, patientID).Scan(&e.ID)
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (r *studyRepoPG) AddScopeRequest(ctx context.Context, studyID, scopeCodeID uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO study_scope_request (study_id, scope_code_id) VALUES ($1, $2)
		ON CONFLICT (study_id, scope_code_id) DO NOTHING`, studyID, scopeCodeID)
	return err
}

func (r *studyRepoPG) ListScopeRequests(ctx context.Context, studyID uuid.UUID) ([]ScopeRequest, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT cc.id, cc.coding_system, cc.coding_code, cc.text
		FROM study_scope_request ssr
		JOIN codeable_concept cc ON cc.id = ssr.scope_code_id
		WHERE ssr.study_id = $1
		ORDER BY cc.coding_system, cc.coding_code`, studyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []ScopeRequest{}
	for rows.Next() {
		var sr ScopeRequest
		if err := rows.Scan(&sr.ID, &sr.CodingSystem, &sr.CodingCode, &sr.Text); err != nil {
			return nil, err
		}
		out = append(out, sr)
	}
	return out, rows.Err()
}

func (r *studyRepoPG) ListDataSources(ctx context.Context, studyID uuid.UUID) ([]StudyDataSource, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT ds.id, ds.name, ds.type
		FROM study_data_source sds
		JOIN data_source ds ON ds.id = sds.data_source_id
		WHERE sds.study_id = $1
		ORDER BY ds.name`, studyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []StudyDataSource{}
	for rows.Next() {
		var ds StudyDataSource
		if err := rows.Scan(&ds.ID, &ds.Name, &ds.Type); err != nil {
			return nil, err
		}
		out = append(out, ds)
	}
	return out, rows.Err()
}

func (r *studyRepoPG) AddDataSource(ctx context.Context, studyID, dataSourceID uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx,
		`INSERT INTO study_data_source (study_id, data_source_id) VALUES ($1, $2)`, studyID, dataSourceID)
	return err
}

func (r *studyRepoPG) RemoveDataSource(ctx context.Context, studyID, dataSourceID uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM study_data_source WHERE study_id = $1 AND data_source_id = $2`, studyID, dataSourceID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *studyRepoPG) UpsertConsent(ctx context.Context, studyPatientID, scopeCodeID uuid.UUID, consented bool, at time.Time) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO study_patient_scope_consent (study_patient_id, scope_code_id, consented, consented_time)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (study_patient_id, scope_code_id) DO UPDATE
		SET consented = EXCLUDED.consented, consented_time = EXCLUDED.consented_time
		WHERE study_patient_scope_consent.consented_time <= EXCLUDED.consented_time`,
		studyPatientID, scopeCodeID, consented, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

package observation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pstell2002/jupyterhealth-exchange/internal/platform/db"
	"github.com/pstell2002/jupyterhealth-exchange/internal/platform/fhir"
)

type observationRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &observationRepoPG{pool: pool}
}

func (r *observationRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const searchFrom = `observation o
	JOIN patient p ON p.id = o.subject_patient_id
	JOIN codeable_concept cc ON cc.id = o.codeable_concept_id`

const observationCols = `o.id, o.subject_patient_id, o.codeable_concept_id, cc.coding_system, cc.coding_code, cc.text,
	o.status, o.identifier_system, o.identifier_value, o.value_attachment, o.last_updated`

func scanObservation(row pgx.Row) (*Observation, error) {
	var o Observation
	var attachment []byte
	err := row.Scan(&o.ID, &o.SubjectPatientID, &o.CodeableConceptID, &o.CodingSystem, &o.CodingCode, &o.CodingText,
		&o.Status, &o.IdentifierSystem, &o.IdentifierValue, &attachment, &o.LastUpdated)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(attachment, &o.ValueAttachment); err != nil {
		return nil, fmt.Errorf("decode value_attachment: %w", err)
	}
	return &o, nil
}

func (r *observationRepoPG) Create(ctx context.Context, o *Observation) error {
	attachment, err := json.Marshal(o.ValueAttachment)
	if err != nil {
		return fmt.Errorf("encode value_attachment: %w", err)
	}
	o.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO observation (id, subject_patient_id, codeable_concept_id, status,
			identifier_system, identifier_value, value_attachment)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING last_updated`,
		o.ID, o.SubjectPatientID, o.CodeableConceptID, o.Status,
		o.IdentifierSystem, o.IdentifierValue, attachment).Scan(&o.LastUpdated)
}

func (r *observationRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Observation, error) {
	o, err := scanObservation(r.conn(ctx).QueryRow(ctx,
		`SELECT `+observationCols+` FROM `+searchFrom+` WHERE o.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return o, err
}

func (r *observationRepoPG) Search(ctx context.Context, q *fhir.SearchQuery, limit, offset int) ([]*Observation, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, q.CountSQL(), q.CountArgs()...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx, q.DataSQL(), q.DataArgs(limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Observation
	for rows.Next() {
		o, err := scanObservation(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, o)
	}
	return items, total, rows.Err()
}

func (r *observationRepoPG) ScopeCodeByCoding(ctx context.Context, system, code string) (*ScopeCode, error) {
	var sc ScopeCode
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT id, coding_system, coding_code, text FROM codeable_concept WHERE coding_system = $1 AND coding_code = $2`,
		system, code).Scan(&sc.ID, &sc.CodingSystem, &sc.CodingCode, &sc.Text)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sc, nil
}

func (r *observationRepoPG) PatientUserID(ctx context.Context, patientID uuid.UUID) (uuid.UUID, error) {
	var userID uuid.UUID
	err := r.conn(ctx).QueryRow(ctx, `SELECT jhe_user_id FROM patient WHERE id = $1`, patientID).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, ErrNotFound
	}
	return userID, err
}

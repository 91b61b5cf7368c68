package datasource

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pstell2002/jupyterhealth-exchange/internal/platform/db"
)

type dataSourceRepoPG struct {
	pool *pgxpool.Pool
}

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &dataSourceRepoPG{pool: pool}
}

func (r *dataSourceRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

// List returns every data source with its supported scopes. The catalog is
// small so it is loaded in one join.
func (r *dataSourceRepoPG) List(ctx context.Context) ([]*DataSource, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT ds.id, ds.name, ds.type, cc.id, cc.coding_system, cc.coding_code, cc.text
		FROM data_source ds
		LEFT JOIN data_source_supported_scope s ON s.data_source_id = ds.id
		LEFT JOIN codeable_concept cc ON cc.id = s.scope_code_id
		ORDER BY ds.name, ds.id, cc.text, cc.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*DataSource
	var cur *DataSource
	for rows.Next() {
		var (
			ds           DataSource
			scID         *uuid.UUID
			system, code *string
			text         *string
		)
		if err := rows.Scan(&ds.ID, &ds.Name, &ds.Type, &scID, &system, &code, &text); err != nil {
			return nil, err
		}
		if cur == nil || cur.ID != ds.ID {
			ds.SupportedScopes = []ScopeCode{}
			cur = &ds
			out = append(out, cur)
		}
		if scID != nil {
			cur.SupportedScopes = append(cur.SupportedScopes, ScopeCode{
				ID: *scID, CodingSystem: *system, CodingCode: *code, Text: text,
			})
		}
	}
	return out, rows.Err()
}

func (r *dataSourceRepoPG) ListScopeCodes(ctx context.Context) ([]ScopeCode, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT id, coding_system, coding_code, text FROM codeable_concept ORDER BY text, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []ScopeCode{}
	for rows.Next() {
		var sc ScopeCode
		if err := rows.Scan(&sc.ID, &sc.CodingSystem, &sc.CodingCode, &sc.Text); err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (r *dataSourceRepoPG) UpsertScopeCode(ctx context.Context, sc *ScopeCode) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO codeable_concept (coding_system, coding_code, text)
		VALUES ($1, $2, $3)
		ON CONFLICT (coding_system, coding_code) DO UPDATE SET text = EXCLUDED.text
		RETURNING id`,
		sc.CodingSystem, sc.CodingCode, sc.Text).Scan(&sc.ID)
}

func (r *dataSourceRepoPG) UpsertDataSource(ctx context.Context, ds *DataSource) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO data_source (name, type) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET type = EXCLUDED.type
		RETURNING id`,
		ds.Name, ds.Type).Scan(&ds.ID)
}

func (r *dataSourceRepoPG) AddSupportedScope(ctx context.Context, dataSourceID, scopeCodeID uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO data_source_supported_scope (data_source_id, scope_code_id) VALUES ($1, $2)
		ON CONFLICT (data_source_id, scope_code_id) DO NOTHING`,
		dataSourceID, scopeCodeID)
	return err
}

package organization

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pstell2002/jupyterhealth-exchange/internal/platform/db"
)

type orgRepoPG struct {
	pool *pgxpool.Pool
}

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &orgRepoPG{pool: pool}
}

func (r *orgRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const orgCols = `id, name, type, part_of`

func (r *orgRepoPG) List(ctx context.Context) ([]*Organization, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+orgCols+` FROM organization ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orgs []*Organization
	for rows.Next() {
		var o Organization
		if err := rows.Scan(&o.ID, &o.Name, &o.Type, &o.PartOf); err != nil {
			return nil, err
		}
		orgs = append(orgs, &o)
	}
	return orgs, rows.Err()
}

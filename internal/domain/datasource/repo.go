package datasource

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	List(ctx context.Context) ([]*DataSource, error)
	ListScopeCodes(ctx context.Context) ([]ScopeCode, error)
	UpsertScopeCode(ctx context.Context, sc *ScopeCode) error
	UpsertDataSource(ctx context.Context, ds *DataSource) error
	AddSupportedScope(ctx context.Context, dataSourceID, scopeCodeID uuid.UUID) error
}

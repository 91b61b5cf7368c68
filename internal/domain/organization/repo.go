package organization

import "context"

type Repository interface {
	List(ctx context.Context) ([]*Organization, error)
}

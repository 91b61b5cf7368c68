package organization

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/pstell2002/jupyterhealth-exchange/internal/domain/access"
)

// Authorizer is the subset of the access engine used here.
type Authorizer interface {
	IsOrganizationAuthorized(ctx context.Context, userID, orgID uuid.UUID) (bool, error)
	Hierarchy(ctx context.Context) (*access.Hierarchy, error)
}

type Service struct {
	repo  Repository
	authz Authorizer
}

func NewService(repo Repository, authz Authorizer) *Service {
	return &Service{repo: repo, authz: authz}
}

// Tree returns the organization rooted at id with all of its descendants.
// Unknown organizations are reported as forbidden.
func (s *Service) Tree(ctx context.Context, actor, id uuid.UUID) (*Node, error) {
	ok, err := s.authz.IsOrganizationAuthorized(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrForbidden, id)
	}

	h, err := s.authz.Hierarchy(ctx)
	if err != nil {
		return nil, err
	}
	orgs, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list organizations: %w", err)
	}
	byID := make(map[uuid.UUID]*Organization, len(orgs))
	for _, o := range orgs {
		byID[o.ID] = o
	}
	if _, ok := byID[id]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return build(id, byID, h, map[uuid.UUID]bool{}), nil
}

func build(id uuid.UUID, byID map[uuid.UUID]*Organization, h *access.Hierarchy, seen map[uuid.UUID]bool) *Node {
	seen[id] = true
	n := &Node{Organization: *byID[id], Children: []*Node{}}
	for _, child := range h.Children(id) {
		if seen[child] || byID[child] == nil {
			continue
		}
		n.Children = append(n.Children, build(child, byID, h, seen))
	}
	sort.Slice(n.Children, func(i, j int) bool {
		return n.Children[i].Name < n.Children[j].Name
	})
	return n
}

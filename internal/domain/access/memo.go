package access

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type memoKey struct{}

// memo caches organization topology for the lifetime of one request.
type memo struct {
	mu   sync.Mutex
	hier *Hierarchy
	orgs map[uuid.UUID]OrgSet
}

// WithMemo returns a context in which the engine reuses the organization
// hierarchy and per-user authorized sets it has already computed.
func WithMemo(ctx context.Context) context.Context {
	return context.WithValue(ctx, memoKey{}, &memo{orgs: map[uuid.UUID]OrgSet{}})
}

func memoFrom(ctx context.Context) *memo {
	m, _ := ctx.Value(memoKey{}).(*memo)
	return m
}

// MemoMiddleware scopes a memo to each request.
func MemoMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.SetRequest(c.Request().WithContext(WithMemo(c.Request().Context())))
			return next(c)
		}
	}
}

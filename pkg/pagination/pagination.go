package pagination

import (
	"net/url"
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Params holds pagination parameters extracted from a request.
type Params struct {
	Limit  int
	Offset int
}

// FromContext reads _count and _offset. Missing or invalid values fall back
// to the defaults and _count is capped at MaxLimit.
func FromContext(c echo.Context) Params {
	return Parse(c.QueryParams())
}

func Parse(q url.Values) Params {
	limit, _ := strconv.Atoi(q.Get("_count"))
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	offset, _ := strconv.Atoi(q.Get("_offset"))
	if offset < 0 {
		offset = 0
	}
	return Params{Limit: limit, Offset: offset}
}

// HasNext returns true if there are more results after the current page.
func (p Params) HasNext(total int) bool {
	return p.Offset+p.Limit < total
}

func (p Params) HasPrevious() bool {
	return p.Offset > 0
}

func (p Params) NextOffset() int {
	return p.Offset + p.Limit
}

// PreviousOffset returns the offset for the previous page, never below 0.
func (p Params) PreviousOffset() int {
	prev := p.Offset - p.Limit
	if prev < 0 {
		return 0
	}
	return prev
}

// WithoutPaging re-encodes q without _count and _offset so that links can
// append their own.
func WithoutPaging(q url.Values) string {
	out := url.Values{}
	for k, v := range q {
		if k == "_count" || k == "_offset" {
			continue
		}
		out[k] = v
	}
	return out.Encode()
}

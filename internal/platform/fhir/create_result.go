package fhir

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"
)

// CreateKind classifies the result of creating one resource.
type CreateKind int

const (
	CreateOK CreateKind = iota
	CreateConflict
	CreateForbidden
	CreateRejected
	CreateFailed
)

func (k CreateKind) String() string {
	switch k {
	case CreateOK:
		return "created"
	case CreateConflict:
		return "conflict"
	case CreateForbidden:
		return "forbidden"
	case CreateRejected:
		return "rejected"
	case CreateFailed:
		return "failed"
	default:
		return fmt.Sprintf("CreateKind(%d)", int(k))
	}
}

// CreateResult is the tagged result of a domain create. ID is set only for
// CreateOK; Err carries the underlying cause for CreateFailed.
type CreateResult struct {
	Kind    CreateKind
	ID      string
	Message string
	Err     error
}

func Created(id string) CreateResult    { return CreateResult{Kind: CreateOK, ID: id} }
func Conflict(msg string) CreateResult  { return CreateResult{Kind: CreateConflict, Message: msg} }
func Forbidden(msg string) CreateResult { return CreateResult{Kind: CreateForbidden, Message: msg} }
func Rejected(msg string) CreateResult  { return CreateResult{Kind: CreateRejected, Message: msg} }

func Failed(err error) CreateResult {
	return CreateResult{Kind: CreateFailed, Message: err.Error(), Err: err}
}

// StatusCode maps the result onto the HTTP status reported for its entry.
func (r CreateResult) StatusCode() int {
	switch r.Kind {
	case CreateOK:
		return http.StatusCreated
	case CreateConflict:
		return http.StatusConflict
	case CreateForbidden:
		return http.StatusForbidden
	case CreateRejected:
		return http.StatusBadRequest
	default:
		return http.StatusUnprocessableEntity
	}
}

// Entry encodes the result as a batch-response entry.
func (r CreateResult) Entry() (BundleEntry, error) {
	if r.Kind == CreateOK {
		return NewBatchEntry(r.StatusCode(), nil, r.ID)
	}
	return NewBatchEntry(r.StatusCode(), ErrorOutcome(r.Message), "")
}

// EntryCreator creates one resource, given in internal (snake_case) form, on
// behalf of actor. Implementations run each call in its own unit of work.
type EntryCreator interface {
	CreateFromResource(ctx context.Context, resource map[string]interface{}, actor uuid.UUID) CreateResult
}

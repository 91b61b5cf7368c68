package organization

import (
	"errors"

	"github.com/google/uuid"
)

var (
	ErrNotFound  = errors.New("organization not found")
	ErrForbidden = errors.New("organization not authorized")
)

// Organization maps to the organization table.
type Organization struct {
	ID     uuid.UUID  `db:"id" json:"id"`
	Name   string     `db:"name" json:"name"`
	Type   string     `db:"type" json:"type"`
	PartOf *uuid.UUID `db:"part_of" json:"part_of"`
}

// Node is an organization with its descendants nested below it.
type Node struct {
	Organization
	Children []*Node `json:"children"`
}

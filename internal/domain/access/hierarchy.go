package access

import (
	"github.com/google/uuid"
)

// Hierarchy indexes the organization forest by parent.
type Hierarchy struct {
	children map[uuid.UUID][]uuid.UUID
	known    map[uuid.UUID]bool
}

func NewHierarchy(edges []OrgEdge) *Hierarchy {
	h := &Hierarchy{
		children: make(map[uuid.UUID][]uuid.UUID, len(edges)),
		known:    make(map[uuid.UUID]bool, len(edges)),
	}
	for _, e := range edges {
		h.known[e.ID] = true
		if e.PartOf != nil {
			h.children[*e.PartOf] = append(h.children[*e.PartOf], e.ID)
		}
	}
	return h
}

// Children returns the direct children of id.
func (h *Hierarchy) Children(id uuid.UUID) []uuid.UUID {
	return h.children[id]
}

// Subtree adds root and all of its descendants to into. A cyclic part_of
// graph terminates because visited nodes are skipped.
func (h *Hierarchy) Subtree(root uuid.UUID, into OrgSet) {
	if !h.known[root] || into.Contains(root) {
		return
	}
	queue := []uuid.UUID{root}
	into[root] = struct{}{}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, child := range h.children[id] {
			if into.Contains(child) {
				continue
			}
			into[child] = struct{}{}
			queue = append(queue, child)
		}
	}
}

// Union returns the union of the subtrees rooted at roots.
func (h *Hierarchy) Union(roots []uuid.UUID) OrgSet {
	set := OrgSet{}
	for _, r := range roots {
		h.Subtree(r, set)
	}
	return set
}

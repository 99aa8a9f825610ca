package plan

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/fletcher-io/fletcher/internal/graph"
)

type (
	// PlanParam is the input form of a plan submission. Submissions are
	// incremental: products and dependencies merge with whatever is already
	// persisted for the dataset.
	PlanParam struct {
		Dataset      DatasetParam
		DataProducts []DataProductParam
		Dependencies []DependencyParam
	}

	// DatasetParam carries the dataset fields a caller may set.
	DatasetParam struct {
		ID     uuid.UUID
		Paused bool
		Extra  json.RawMessage
	}

	// DataProductParam carries the definition fields of a data product.
	// State and run fields are server-owned and absent here: inserts start
	// at waiting, updates leave them untouched.
	DataProductParam struct {
		ID          string
		Compute     Compute
		Name        string
		Version     string
		Eager       bool
		Passthrough json.RawMessage
		Extra       json.RawMessage
	}

	// DependencyParam declares a parent → child edge between two products
	// of the dataset.
	DependencyParam struct {
		ParentID string
		ChildID  string
		Extra    json.RawMessage
	}

	// StateParam is the input form of a state transition. Identifiers come
	// from the request path. Run fields are validated against the target
	// state and written verbatim, so transitions to non-run-bearing states
	// reset them to NULL.
	StateParam struct {
		State    State
		RunID    *uuid.UUID
		Link     *string
		Passback json.RawMessage
	}
)

// DuplicateProduct returns the first data product id that appears more than
// once in the submission, in insertion order. The second value is false when
// all ids are unique.
func (p *PlanParam) DuplicateProduct() (string, bool) {
	seen := make(map[string]struct{}, len(p.DataProducts))
	for _, dp := range p.DataProducts {
		if _, ok := seen[dp.ID]; ok {
			return dp.ID, true
		}

		seen[dp.ID] = struct{}{}
	}

	return "", false
}

// DuplicateDependency returns the first (parent, child) pair that appears
// more than once in the submission, in insertion order.
func (p *PlanParam) DuplicateDependency() (string, string, bool) {
	type pair struct {
		parent string
		child  string
	}

	seen := make(map[pair]struct{}, len(p.Dependencies))
	for _, dep := range p.Dependencies {
		key := pair{parent: dep.ParentID, child: dep.ChildID}
		if _, ok := seen[key]; ok {
			return dep.ParentID, dep.ChildID, true
		}

		seen[key] = struct{}{}
	}

	return "", "", false
}

// ProductIDs returns the submitted data product ids in submission order.
func (p *PlanParam) ProductIDs() []string {
	ids := make([]string, 0, len(p.DataProducts))
	for _, dp := range p.DataProducts {
		ids = append(ids, dp.ID)
	}

	return ids
}

// ParentIDs returns the parent id of every submitted dependency.
func (p *PlanParam) ParentIDs() []string {
	ids := make([]string, 0, len(p.Dependencies))
	for _, dep := range p.Dependencies {
		ids = append(ids, dep.ParentID)
	}

	return ids
}

// ChildIDs returns the child id of every submitted dependency.
func (p *PlanParam) ChildIDs() []string {
	ids := make([]string, 0, len(p.Dependencies))
	for _, dep := range p.Dependencies {
		ids = append(ids, dep.ChildID)
	}

	return ids
}

// DependencyEdges returns the submitted dependencies as weighted graph edges
// (weight 1), ready for the graph kernel.
func (p *PlanParam) DependencyEdges() []graph.Edge[string] {
	edges := make([]graph.Edge[string], 0, len(p.Dependencies))
	for _, dep := range p.Dependencies {
		edges = append(edges, graph.Edge[string]{From: dep.ParentID, To: dep.ChildID, Weight: 1})
	}

	return edges
}

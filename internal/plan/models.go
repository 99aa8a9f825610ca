// Package plan provides the domain model for dataset plans: the data
// products a dataset comprises, the dependencies among them, and the
// execution state machine for individual products.
//
// These are pure domain models without JSON tags. The API layer defines its
// own request/response shapes and maps to these types; the storage layer
// persists them inside a single transaction per operation.
package plan

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fletcher-io/fletcher/internal/graph"
)

type (
	// Plan is the aggregate view of one dataset: the dataset row, every data
	// product registered for it, and every dependency edge between products.
	// A Plan owns no storage; reads compose it from the three tables.
	Plan struct {
		Dataset      Dataset
		DataProducts []DataProduct
		Dependencies []Dependency
	}

	// Dataset is the unit of plan ownership. Pausing a dataset gates
	// non-terminal state advances for all of its data products.
	Dataset struct {
		ID           uuid.UUID
		Paused       bool
		Extra        json.RawMessage
		ModifiedBy   string
		ModifiedDate time.Time
	}

	// DataProduct is a named, versioned unit produced by one compute backend;
	// the scheduling atom of a plan.
	//
	// Definition fields (Compute, Name, Version, Eager, Passthrough, Extra)
	// are owned by plan submission. State fields (State, RunID, Link,
	// Passback) are owned by state transitions and are never touched by a
	// plan upsert.
	DataProduct struct {
		ID          string
		Compute     Compute
		Name        string
		Version     string
		Eager       bool
		Passthrough json.RawMessage

		// State and the run fields below change only through ChangeState.
		// RunID, Link and Passback are populated in run-bearing states
		// (running, success, failed) and are NULL otherwise.
		State    State
		RunID    *uuid.UUID
		Link     *string
		Passback json.RawMessage

		Extra        json.RawMessage
		ModifiedBy   string
		ModifiedDate time.Time
	}

	// Dependency is a directed edge stating that the child data product
	// consumes the parent within the same dataset.
	Dependency struct {
		ParentID     string
		ChildID      string
		Extra        json.RawMessage
		ModifiedBy   string
		ModifiedDate time.Time
	}

	// Compute identifies which backend executes a data product.
	Compute string

	// State is the execution status of a data product.
	State string
)

// Compute backends.
const (
	// ComputeCams runs the product on the CAMS backend.
	ComputeCams Compute = "cams"

	// ComputeDbxaas runs the product on the DBXaaS backend.
	ComputeDbxaas Compute = "dbxaas"
)

// Data product states. The happy path is waiting → queued → running →
// success; running may also end in failed. Any non-terminal product can be
// quarantined to disabled, and disabled re-enables back to waiting.
const (
	StateWaiting  State = "waiting"
	StateQueued   State = "queued"
	StateRunning  State = "running"
	StateSuccess  State = "success"
	StateFailed   State = "failed"
	StateDisabled State = "disabled"
)

// ValidComputes returns all valid compute backends.
func ValidComputes() []Compute {
	return []Compute{ComputeCams, ComputeDbxaas}
}

// IsValid checks if the Compute names a known backend.
func (c Compute) IsValid() bool {
	for _, valid := range ValidComputes() {
		if c == valid {
			return true
		}
	}

	return false
}

// ParseCompute converts a wire string into a Compute.
func ParseCompute(s string) (Compute, error) {
	c := Compute(s)
	if !c.IsValid() {
		return "", fmt.Errorf("unknown compute: %q", s)
	}

	return c, nil
}

// Value implements driver.Valuer so Compute maps onto the Postgres enum.
func (c Compute) Value() (driver.Value, error) {
	return string(c), nil
}

// Scan implements sql.Scanner for reading the Postgres enum column.
func (c *Compute) Scan(value interface{}) error {
	switch v := value.(type) {
	case []byte:
		*c = Compute(v)
	case string:
		*c = Compute(v)
	default:
		return fmt.Errorf("cannot scan %T into Compute", value)
	}

	if !c.IsValid() {
		return fmt.Errorf("unknown compute: %q", string(*c))
	}

	return nil
}

// ValidStates returns all valid data product states.
func ValidStates() []State {
	return []State{
		StateWaiting,
		StateQueued,
		StateRunning,
		StateSuccess,
		StateFailed,
		StateDisabled,
	}
}

// IsValid checks if the State is one of the enumerated states.
func (s State) IsValid() bool {
	for _, valid := range ValidStates() {
		if s == valid {
			return true
		}
	}

	return false
}

// IsTerminal returns true for states with no outgoing transitions besides
// the disabled → waiting re-enable. Success and failed are immutable;
// disabled only re-enables.
func (s State) IsTerminal() bool {
	return s == StateSuccess || s == StateFailed || s == StateDisabled
}

// IsRunBearing returns true for states in which run_id, link and passback
// may be populated.
func (s State) IsRunBearing() bool {
	return s == StateRunning || s == StateSuccess || s == StateFailed
}

// ParseState converts a wire string into a State.
func ParseState(s string) (State, error) {
	state := State(s)
	if !state.IsValid() {
		return "", fmt.Errorf("unknown state: %q", s)
	}

	return state, nil
}

// Value implements driver.Valuer so State maps onto the Postgres enum.
func (s State) Value() (driver.Value, error) {
	return string(s), nil
}

// Scan implements sql.Scanner for reading the Postgres enum column.
func (s *State) Scan(value interface{}) error {
	switch v := value.(type) {
	case []byte:
		*s = State(v)
	case string:
		*s = State(v)
	default:
		return fmt.Errorf("cannot scan %T into State", value)
	}

	if !s.IsValid() {
		return fmt.Errorf("unknown state: %q", string(*s))
	}

	return nil
}

// ProductIDs returns the id of every data product in the plan, in plan order.
func (p *Plan) ProductIDs() []string {
	ids := make([]string, 0, len(p.DataProducts))
	for _, dp := range p.DataProducts {
		ids = append(ids, dp.ID)
	}

	return ids
}

// DependencyEdges returns the plan's dependencies as weighted graph edges
// (weight 1), ready for the graph kernel.
func (p *Plan) DependencyEdges() []graph.Edge[string] {
	edges := make([]graph.Edge[string], 0, len(p.Dependencies))
	for _, dep := range p.Dependencies {
		edges = append(edges, graph.Edge[string]{From: dep.ParentID, To: dep.ChildID, Weight: 1})
	}

	return edges
}

// Package api provides HTTP API server implementation for the Fletcher service.
package api

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/fletcher-io/fletcher/internal/auth"
	"github.com/fletcher-io/fletcher/internal/plan"
)

type (
	// PlanRequest is the body of POST /api/plan_dag. Submissions are
	// incremental: products and dependencies merge with whatever is already
	// persisted for the dataset.
	//
	// These shapes are deliberately separate from the domain types so the
	// wire contract can stay stable while the domain evolves. Enum fields
	// travel as strings and are checked during mapping.
	PlanRequest struct {
		Dataset      DatasetRequest       `json:"dataset"`
		DataProducts []DataProductRequest `json:"data_products"` //nolint:tagliatelle
		Dependencies []DependencyRequest  `json:"dependencies"`
	}

	// DatasetRequest carries the dataset fields a caller may set.
	DatasetRequest struct {
		ID     uuid.UUID       `json:"id"`
		Paused bool            `json:"paused"`
		Extra  json.RawMessage `json:"extra,omitempty"`
	}

	// DataProductRequest carries the definition fields of a data product.
	// State and run fields are server-owned and absent here.
	DataProductRequest struct {
		ID          string          `json:"id"`
		Compute     string          `json:"compute"`
		Name        string          `json:"name"`
		Version     string          `json:"version"`
		Eager       bool            `json:"eager"`
		Passthrough json.RawMessage `json:"passthrough,omitempty"`
		Extra       json.RawMessage `json:"extra,omitempty"`
	}

	// DependencyRequest declares a parent → child edge between two products
	// of the dataset.
	DependencyRequest struct {
		ParentID string          `json:"parent_id"` //nolint:tagliatelle
		ChildID  string          `json:"child_id"`  //nolint:tagliatelle
		Extra    json.RawMessage `json:"extra,omitempty"`
	}

	// StateRequest is the body of POST /api/state/{dataset_id}/{data_product_id}.
	// Identifiers come from the path; run fields must match the target state.
	StateRequest struct {
		State    string          `json:"state"`
		RunID    *uuid.UUID      `json:"run_id,omitempty"` //nolint:tagliatelle
		Link     *string         `json:"link,omitempty"`
		Passback json.RawMessage `json:"passback,omitempty"`
	}

	// PauseRequest is the body of POST /api/pause/{dataset_id}.
	PauseRequest struct {
		Paused bool `json:"paused"`
	}

	// LoginRequest is the body of POST /api/auth/login.
	LoginRequest struct {
		Service string `json:"service"`
		Key     string `json:"key"`
	}
)

type (
	// PlanResponse echoes the persisted plan: the submitted values plus the
	// server-owned state and audit fields.
	PlanResponse struct {
		Dataset      DatasetResponse       `json:"dataset"`
		DataProducts []DataProductResponse `json:"data_products"` //nolint:tagliatelle
		Dependencies []DependencyResponse  `json:"dependencies"`
	}

	// DatasetResponse is the persisted dataset row.
	DatasetResponse struct {
		ID           uuid.UUID       `json:"id"`
		Paused       bool            `json:"paused"`
		Extra        json.RawMessage `json:"extra,omitempty"`
		ModifiedBy   string          `json:"modified_by"`   //nolint:tagliatelle
		ModifiedDate time.Time       `json:"modified_date"` //nolint:tagliatelle
	}

	// DataProductResponse is the persisted data product row, including the
	// state fields owned by state transitions.
	DataProductResponse struct {
		ID           string          `json:"id"`
		Compute      string          `json:"compute"`
		Name         string          `json:"name"`
		Version      string          `json:"version"`
		Eager        bool            `json:"eager"`
		Passthrough  json.RawMessage `json:"passthrough,omitempty"`
		State        string          `json:"state"`
		RunID        *uuid.UUID      `json:"run_id,omitempty"` //nolint:tagliatelle
		Link         *string         `json:"link,omitempty"`
		Passback     json.RawMessage `json:"passback,omitempty"`
		Extra        json.RawMessage `json:"extra,omitempty"`
		ModifiedBy   string          `json:"modified_by"`   //nolint:tagliatelle
		ModifiedDate time.Time       `json:"modified_date"` //nolint:tagliatelle
	}

	// DependencyResponse is the persisted dependency edge.
	DependencyResponse struct {
		ParentID     string          `json:"parent_id"` //nolint:tagliatelle
		ChildID      string          `json:"child_id"`  //nolint:tagliatelle
		Extra        json.RawMessage `json:"extra,omitempty"`
		ModifiedBy   string          `json:"modified_by"`   //nolint:tagliatelle
		ModifiedDate time.Time       `json:"modified_date"` //nolint:tagliatelle
	}

	// AuthenticatedResponse is the login result: the bearer token plus its
	// metadata. Issued, expires and ttl are unix seconds.
	AuthenticatedResponse struct {
		AccessToken string   `json:"access_token"` //nolint:tagliatelle
		Issued      int64    `json:"issued"`
		IssuedBy    string   `json:"issued_by"` //nolint:tagliatelle
		Expires     int64    `json:"expires"`
		Roles       []string `json:"roles"`
		Service     string   `json:"service"`
		TokenType   string   `json:"token_type"` //nolint:tagliatelle
		TTL         int64    `json:"ttl"`
	}
)

// mapPlanRequest maps the wire submission to the domain param, rejecting
// unknown compute values. Everything else (duplicates, dangling references,
// cycles) is the plan service's job; the mapping layer only guards the enum
// decode that JSON cannot.
func mapPlanRequest(req *PlanRequest) (plan.PlanParam, error) {
	param := plan.PlanParam{
		Dataset: plan.DatasetParam{
			ID:     req.Dataset.ID,
			Paused: req.Dataset.Paused,
			Extra:  req.Dataset.Extra,
		},
		DataProducts: make([]plan.DataProductParam, 0, len(req.DataProducts)),
		Dependencies: make([]plan.DependencyParam, 0, len(req.Dependencies)),
	}

	for i := range req.DataProducts {
		dp := &req.DataProducts[i]

		compute, err := plan.ParseCompute(dp.Compute)
		if err != nil {
			return plan.PlanParam{}, err
		}

		param.DataProducts = append(param.DataProducts, plan.DataProductParam{
			ID:          dp.ID,
			Compute:     compute,
			Name:        dp.Name,
			Version:     dp.Version,
			Eager:       dp.Eager,
			Passthrough: dp.Passthrough,
			Extra:       dp.Extra,
		})
	}

	for i := range req.Dependencies {
		dep := &req.Dependencies[i]
		param.Dependencies = append(param.Dependencies, plan.DependencyParam{
			ParentID: dep.ParentID,
			ChildID:  dep.ChildID,
			Extra:    dep.Extra,
		})
	}

	return param, nil
}

// mapStateRequest maps the wire state change to the domain param, rejecting
// unknown state values.
func mapStateRequest(req *StateRequest) (plan.StateParam, error) {
	state, err := plan.ParseState(req.State)
	if err != nil {
		return plan.StateParam{}, err
	}

	return plan.StateParam{
		State:    state,
		RunID:    req.RunID,
		Link:     req.Link,
		Passback: req.Passback,
	}, nil
}

// mapPlan maps a persisted plan to its response shape.
func mapPlan(p *plan.Plan) *PlanResponse {
	products := make([]DataProductResponse, 0, len(p.DataProducts))
	for i := range p.DataProducts {
		products = append(products, mapDataProduct(&p.DataProducts[i]))
	}

	dependencies := make([]DependencyResponse, 0, len(p.Dependencies))
	for i := range p.Dependencies {
		dep := &p.Dependencies[i]
		dependencies = append(dependencies, DependencyResponse{
			ParentID:     dep.ParentID,
			ChildID:      dep.ChildID,
			Extra:        dep.Extra,
			ModifiedBy:   dep.ModifiedBy,
			ModifiedDate: dep.ModifiedDate,
		})
	}

	return &PlanResponse{
		Dataset:      mapDataset(&p.Dataset),
		DataProducts: products,
		Dependencies: dependencies,
	}
}

// mapDataset maps a persisted dataset row to its response shape.
func mapDataset(d *plan.Dataset) DatasetResponse {
	return DatasetResponse{
		ID:           d.ID,
		Paused:       d.Paused,
		Extra:        d.Extra,
		ModifiedBy:   d.ModifiedBy,
		ModifiedDate: d.ModifiedDate,
	}
}

// mapDataProduct maps a persisted data product row to its response shape.
func mapDataProduct(dp *plan.DataProduct) DataProductResponse {
	return DataProductResponse{
		ID:           dp.ID,
		Compute:      string(dp.Compute),
		Name:         dp.Name,
		Version:      dp.Version,
		Eager:        dp.Eager,
		Passthrough:  dp.Passthrough,
		State:        string(dp.State),
		RunID:        dp.RunID,
		Link:         dp.Link,
		Passback:     dp.Passback,
		Extra:        dp.Extra,
		ModifiedBy:   dp.ModifiedBy,
		ModifiedDate: dp.ModifiedDate,
	}
}

// mapAuthenticated maps a login result to its response shape.
func mapAuthenticated(a *auth.Authenticated) *AuthenticatedResponse {
	roles := make([]string, 0, len(a.Roles))
	for _, role := range a.Roles {
		roles = append(roles, string(role))
	}

	return &AuthenticatedResponse{
		AccessToken: a.AccessToken,
		Issued:      a.Issued,
		IssuedBy:    a.IssuedBy,
		Expires:     a.Expires,
		Roles:       roles,
		Service:     a.Service,
		TokenType:   a.TokenType,
		TTL:         a.TTL,
	}
}

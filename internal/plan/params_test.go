package plan

import (
	"testing"

	"github.com/google/uuid"
)

func planParamWithProducts(ids ...string) PlanParam {
	param := PlanParam{Dataset: DatasetParam{ID: uuid.New()}}
	for _, id := range ids {
		param.DataProducts = append(param.DataProducts, DataProductParam{
			ID:      id,
			Compute: ComputeCams,
			Name:    "name-" + id,
			Version: "1.0.0",
		})
	}

	return param
}

func TestDuplicateProduct(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name    string
		ids     []string
		wantID  string
		wantDup bool
	}{
		{"empty submission", nil, "", false},
		{"all unique", []string{"a", "b", "c"}, "", false},
		{"adjacent duplicate", []string{"a", "a"}, "a", true},
		{"separated duplicate", []string{"a", "b", "a"}, "a", true},
		{"reports first duplicate seen", []string{"a", "b", "b", "a"}, "b", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			param := planParamWithProducts(tt.ids...)

			id, dup := param.DuplicateProduct()
			if dup != tt.wantDup || id != tt.wantID {
				t.Errorf("DuplicateProduct() = (%q, %v), want (%q, %v)", id, dup, tt.wantID, tt.wantDup)
			}
		})
	}
}

func TestDuplicateDependency(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name       string
		edges      [][2]string
		wantParent string
		wantChild  string
		wantDup    bool
	}{
		{"no dependencies", nil, "", "", false},
		{"all unique", [][2]string{{"a", "b"}, {"b", "c"}}, "", "", false},
		{"same parent different child", [][2]string{{"a", "b"}, {"a", "c"}}, "", "", false},
		{"reversed pair is distinct", [][2]string{{"a", "b"}, {"b", "a"}}, "", "", false},
		{"exact duplicate", [][2]string{{"a", "b"}, {"a", "b"}}, "a", "b", true},
		{"reports first duplicate seen", [][2]string{{"a", "b"}, {"c", "d"}, {"c", "d"}, {"a", "b"}}, "c", "d", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			param := PlanParam{Dataset: DatasetParam{ID: uuid.New()}}
			for _, e := range tt.edges {
				param.Dependencies = append(param.Dependencies, DependencyParam{ParentID: e[0], ChildID: e[1]})
			}

			parent, child, dup := param.DuplicateDependency()
			if dup != tt.wantDup || parent != tt.wantParent || child != tt.wantChild {
				t.Errorf("DuplicateDependency() = (%q, %q, %v), want (%q, %q, %v)",
					parent, child, dup, tt.wantParent, tt.wantChild, tt.wantDup)
			}
		})
	}
}

func TestPlanParamAccessors(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	param := planParamWithProducts("extract", "transform", "load")
	param.Dependencies = []DependencyParam{
		{ParentID: "extract", ChildID: "transform"},
		{ParentID: "transform", ChildID: "load"},
	}

	ids := param.ProductIDs()
	if len(ids) != 3 || ids[0] != "extract" || ids[1] != "transform" || ids[2] != "load" {
		t.Errorf("ProductIDs() = %v, want submission order preserved", ids)
	}

	parents := param.ParentIDs()
	if len(parents) != 2 || parents[0] != "extract" || parents[1] != "transform" {
		t.Errorf("ParentIDs() = %v", parents)
	}

	children := param.ChildIDs()
	if len(children) != 2 || children[0] != "transform" || children[1] != "load" {
		t.Errorf("ChildIDs() = %v", children)
	}

	edges := param.DependencyEdges()
	if len(edges) != 2 {
		t.Fatalf("DependencyEdges() returned %d edges, want 2", len(edges))
	}

	for i, e := range edges {
		if e.Weight != 1 {
			t.Errorf("edge %d has weight %d, want 1", i, e.Weight)
		}
	}

	if edges[0].From != "extract" || edges[0].To != "transform" {
		t.Errorf("edge 0 = %v -> %v", edges[0].From, edges[0].To)
	}
}

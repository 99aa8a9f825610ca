// Package graph provides a pure directed-graph kernel for dependency DAGs.
//
// The kernel is deliberately free of I/O and storage concerns: callers supply
// node identities (any comparable type) and weighted edges, and the kernel
// decides structural validity. Acyclicity is checked with Kahn's topological
// peel, which is linear in nodes plus edges.
//
// Build deduplicates its inputs with set semantics before constructing the
// graph, so repeated identical nodes or edges in a submission are not an
// error. The incremental AddNode/AddEdge methods reject duplicates instead,
// which keeps the two entry points distinguishable for callers.
//
// A Graph is not safe for concurrent mutation. Distinct Graph values share no
// state and may be built and queried concurrently.
package graph

import (
	"errors"
	"fmt"
)

// Sentinel errors for graph construction and validation.
// These can be used with errors.Is() for error checking.
var (
	// ErrNodeOutOfBounds is returned when an edge references a node that is
	// not part of the graph.
	ErrNodeOutOfBounds = errors.New("edge references a node not in the graph")

	// ErrDuplicateNode is returned when a node is added twice.
	ErrDuplicateNode = errors.New("node already present in the graph")

	// ErrDuplicateEdge is returned when an identical edge is added twice.
	ErrDuplicateEdge = errors.New("edge already present in the graph")

	// ErrCyclical is returned when the graph contains a directed cycle.
	ErrCyclical = errors.New("graph is cyclical")
)

// Edge is a directed, weighted edge between two nodes. The weight is
// irrelevant to acyclicity and is carried for future weighting schemes.
type Edge[N comparable] struct {
	From   N
	To     N
	Weight int
}

// edgeKey identifies an edge by its endpoints. Parallel edges between the
// same pair are rejected regardless of weight.
type edgeKey[N comparable] struct {
	from N
	to   N
}

// Graph is a simple directed graph over comparable node identities.
// Adjacency is kept in insertion order so traversals are deterministic.
type Graph[N comparable] struct {
	nodes map[N]struct{}
	order []N
	out   map[N][]N
	in    map[N][]N
	edges map[edgeKey[N]]int
}

// New returns an empty graph.
func New[N comparable]() *Graph[N] {
	return &Graph[N]{
		nodes: make(map[N]struct{}),
		out:   make(map[N][]N),
		in:    make(map[N][]N),
		edges: make(map[edgeKey[N]]int),
	}
}

// Build constructs a graph from nodes and edges and verifies it is acyclic.
//
// Inputs are deduplicated first (set semantics): repeated nodes and repeated
// identical edges collapse silently. After deduplication the graph is built
// incrementally, so the construction errors (ErrNodeOutOfBounds) and the
// final ErrCyclical check are the only failure modes reachable from here.
func Build[N comparable](nodes []N, edges []Edge[N]) (*Graph[N], error) {
	g := New[N]()

	seenNodes := make(map[N]struct{}, len(nodes))
	for _, node := range nodes {
		if _, ok := seenNodes[node]; ok {
			continue
		}

		seenNodes[node] = struct{}{}

		if err := g.AddNode(node); err != nil {
			return nil, err
		}
	}

	seenEdges := make(map[Edge[N]]struct{}, len(edges))
	for _, edge := range edges {
		if _, ok := seenEdges[edge]; ok {
			continue
		}

		seenEdges[edge] = struct{}{}

		if err := g.AddEdge(edge.From, edge.To, edge.Weight); err != nil {
			return nil, err
		}
	}

	if err := g.ValidateAcyclic(); err != nil {
		return nil, err
	}

	return g, nil
}

// AddNode adds a node to the graph.
// Returns ErrDuplicateNode if the node is already present.
func (g *Graph[N]) AddNode(node N) error {
	if _, ok := g.nodes[node]; ok {
		return fmt.Errorf("%w: %v", ErrDuplicateNode, node)
	}

	g.nodes[node] = struct{}{}
	g.order = append(g.order, node)

	return nil
}

// AddEdge adds a directed edge between two existing nodes.
// Returns ErrNodeOutOfBounds if either endpoint is unknown, and
// ErrDuplicateEdge if the (from, to) pair is already present. Self-loops are
// accepted here and surface as ErrCyclical during validation.
func (g *Graph[N]) AddEdge(from, to N, weight int) error {
	if _, ok := g.nodes[from]; !ok {
		return fmt.Errorf("%w: %v -> %v", ErrNodeOutOfBounds, from, to)
	}

	if _, ok := g.nodes[to]; !ok {
		return fmt.Errorf("%w: %v -> %v", ErrNodeOutOfBounds, from, to)
	}

	key := edgeKey[N]{from: from, to: to}
	if _, ok := g.edges[key]; ok {
		return fmt.Errorf("%w: %v -> %v", ErrDuplicateEdge, from, to)
	}

	g.edges[key] = weight
	g.out[from] = append(g.out[from], to)
	g.in[to] = append(g.in[to], from)

	return nil
}

// ValidateAcyclic reports whether the graph is a DAG.
// Returns ErrCyclical if any directed cycle (including a self-loop) exists.
func (g *Graph[N]) ValidateAcyclic() error {
	indegree := make(map[N]int, len(g.nodes))
	for _, node := range g.order {
		indegree[node] = len(g.in[node])
	}

	// Kahn's peel: repeatedly remove nodes with no remaining predecessors.
	queue := make([]N, 0, len(g.order))
	for _, node := range g.order {
		if indegree[node] == 0 {
			queue = append(queue, node)
		}
	}

	peeled := 0
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		peeled++

		for _, succ := range g.out[node] {
			indegree[succ]--
			if indegree[succ] == 0 {
				queue = append(queue, succ)
			}
		}
	}

	// Any node that survives the peel sits on a cycle.
	if peeled != len(g.nodes) {
		return ErrCyclical
	}

	return nil
}

// Downstream returns every node reachable from start, excluding start
// itself. The result is in depth-first discovery order. Unknown start nodes
// yield an empty slice.
func (g *Graph[N]) Downstream(start N) []N {
	if _, ok := g.nodes[start]; !ok {
		return nil
	}

	visited := map[N]struct{}{start: {}}
	stack := make([]N, 0, len(g.out[start]))
	result := make([]N, 0)

	for i := len(g.out[start]) - 1; i >= 0; i-- {
		stack = append(stack, g.out[start][i])
	}

	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if _, ok := visited[node]; ok {
			continue
		}

		visited[node] = struct{}{}
		result = append(result, node)

		for i := len(g.out[node]) - 1; i >= 0; i-- {
			stack = append(stack, g.out[node][i])
		}
	}

	return result
}

// Parents returns the direct predecessors of target in insertion order.
// Unknown targets yield an empty slice.
func (g *Graph[N]) Parents(target N) []N {
	if _, ok := g.nodes[target]; !ok {
		return nil
	}

	parents := make([]N, len(g.in[target]))
	copy(parents, g.in[target])

	return parents
}

// NodeCount returns the number of nodes in the graph.
func (g *Graph[N]) NodeCount() int {
	return len(g.nodes)
}

// EdgeCount returns the number of edges in the graph.
func (g *Graph[N]) EdgeCount() int {
	return len(g.edges)
}

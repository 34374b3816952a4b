package scheduler

import (
	"errors"
	"fmt"

	"github.com/agenthands/tsgcopilot/internal/config"
)

var ErrInvalidGraph = errors.New("invalid transition graph")

// Vertex is a participant in the transition graph.
type Vertex struct {
	Name  string
	Entry bool
}

// Edge allows To to speak right after From.
type Edge struct {
	From string
	To   string
}

// Graph is the immutable who-may-follow-whom relation.
type Graph struct {
	order   []string
	entries []string
	succ    map[string][]string
}

// NewGraph validates and builds a graph. It requires at least one entry
// vertex, known edge endpoints, and every vertex reachable from an entry.
func NewGraph(vertices []Vertex, edges []Edge) (*Graph, error) {
	g := &Graph{succ: make(map[string][]string, len(vertices))}

	for _, v := range vertices {
		if v.Name == "" {
			return nil, fmt.Errorf("%w: vertex with empty name", ErrInvalidGraph)
		}
		if _, dup := g.succ[v.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate vertex %q", ErrInvalidGraph, v.Name)
		}
		g.succ[v.Name] = nil
		g.order = append(g.order, v.Name)
		if v.Entry {
			g.entries = append(g.entries, v.Name)
		}
	}
	if len(g.entries) == 0 {
		return nil, fmt.Errorf("%w: no entry vertex", ErrInvalidGraph)
	}

	for _, e := range edges {
		if _, ok := g.succ[e.From]; !ok {
			return nil, fmt.Errorf("%w: edge from undeclared vertex %q", ErrInvalidGraph, e.From)
		}
		if _, ok := g.succ[e.To]; !ok {
			return nil, fmt.Errorf("%w: edge to undeclared vertex %q", ErrInvalidGraph, e.To)
		}
		if !contains(g.succ[e.From], e.To) {
			g.succ[e.From] = append(g.succ[e.From], e.To)
		}
	}

	seen := make(map[string]bool, len(g.order))
	queue := append([]string(nil), g.entries...)
	for _, name := range queue {
		seen[name] = true
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range g.succ[cur] {
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	for _, name := range g.order {
		if !seen[name] {
			return nil, fmt.Errorf("%w: vertex %q is unreachable from any entry", ErrInvalidGraph, name)
		}
	}

	return g, nil
}

// FromConfig builds the graph declared in the configuration file.
func FromConfig(cfg config.GraphConfig) (*Graph, error) {
	vertices := make([]Vertex, len(cfg.Nodes))
	for i, n := range cfg.Nodes {
		vertices[i] = Vertex{Name: n.Name, Entry: n.Entry}
	}
	edges := make([]Edge, len(cfg.Edges))
	for i, e := range cfg.Edges {
		edges[i] = Edge{From: e.From, To: e.To}
	}
	return NewGraph(vertices, edges)
}

func (g *Graph) Has(name string) bool {
	_, ok := g.succ[name]
	return ok
}

// Vertices returns names in declaration order.
func (g *Graph) Vertices() []string {
	return append([]string(nil), g.order...)
}

func (g *Graph) Entries() []string {
	return append([]string(nil), g.entries...)
}

func (g *Graph) Successors(name string) []string {
	return append([]string(nil), g.succ[name]...)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

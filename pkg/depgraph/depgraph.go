// Package depgraph models the resolved dependency graph of a scan and
// exports it for audit: JSON for machines, DOT/SVG/PNG for humans.
package depgraph

import (
	"sort"

	"github.com/matzehuels/depvet/pkg/resolver"
)

// Node is one package in the resolved graph.
type Node struct {
	Ref     string   `json:"ref"` // name@version
	Name    string   `json:"name"`
	Version string   `json:"version"`
	Direct  bool     `json:"direct"`
	Score   float64  `json:"score,omitempty"` // triage risk score, 0..1
	Flags   []string `json:"flags,omitempty"` // triage findings, e.g. "archived-repo"
}

// Edge is a dependency relation between two refs.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Graph is a resolved dependency graph. Not safe for concurrent mutation.
type Graph struct {
	nodes map[string]Node
	edges map[Edge]bool
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{nodes: make(map[string]Node), edges: make(map[Edge]bool)}
}

// FromPackages builds a graph from a resolver's package set.
func FromPackages(pkgs []resolver.Package) *Graph {
	g := New()
	for _, p := range pkgs {
		g.AddNode(Node{Ref: p.Ref(), Name: p.Name, Version: p.Version, Direct: p.Direct})
		for _, dep := range p.Deps {
			g.AddEdge(p.Ref(), dep)
		}
	}
	return g
}

// AddNode upserts a node by ref.
func (g *Graph) AddNode(n Node) { g.nodes[n.Ref] = n }

// AddEdge records a dependency relation. Endpoints need not exist yet.
func (g *Graph) AddEdge(from, to string) { g.edges[Edge{From: from, To: to}] = true }

// Node looks up a node by ref.
func (g *Graph) Node(ref string) (Node, bool) {
	n, ok := g.nodes[ref]
	return n, ok
}

// Nodes returns all nodes sorted by ref.
func (g *Graph) Nodes() []Node {
	out := make([]Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ref < out[j].Ref })
	return out
}

// Edges returns all edges sorted by (from, to).
func (g *Graph) Edges() []Edge {
	out := make([]Edge, 0, len(g.edges))
	for e := range g.edges {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].From != out[j].From {
			return out[i].From < out[j].From
		}
		return out[i].To < out[j].To
	})
	return out
}

// Stats summarizes a graph for reporting.
type Stats struct {
	Nodes      int `json:"nodes"`
	Edges      int `json:"edges"`
	Direct     int `json:"direct"`
	Transitive int `json:"transitive"`
	MaxDepth   int `json:"max_depth"` // longest path from any direct package
}

// Stats computes summary statistics. Depth is measured by breadth-first
// search from the direct packages; cycles (rare but possible in npm graphs)
// are cut at first revisit.
func (g *Graph) Stats() Stats {
	s := Stats{Nodes: len(g.nodes), Edges: len(g.edges)}

	children := make(map[string][]string)
	for e := range g.edges {
		children[e.From] = append(children[e.From], e.To)
	}

	depth := make(map[string]int, len(g.nodes))
	var queue []string
	for ref, n := range g.nodes {
		if n.Direct {
			s.Direct++
			depth[ref] = 1
			queue = append(queue, ref)
		} else {
			s.Transitive++
		}
	}

	for len(queue) > 0 {
		ref := queue[0]
		queue = queue[1:]
		if depth[ref] > s.MaxDepth {
			s.MaxDepth = depth[ref]
		}
		for _, child := range children[ref] {
			if _, visited := depth[child]; !visited {
				depth[child] = depth[ref] + 1
				queue = append(queue, child)
			}
		}
	}
	return s
}

package depgraph

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

type exportDoc struct {
	Stats Stats  `json:"stats"`
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// WriteJSON encodes the graph (nodes, edges, stats) as indented JSON.
// Output order is deterministic, so exports diff cleanly between scans.
func WriteJSON(g *Graph, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(exportDoc{Stats: g.Stats(), Nodes: g.Nodes(), Edges: g.Edges()}); err != nil {
		return fmt.Errorf("encode graph: %w", err)
	}
	return nil
}

// ExportJSON writes the graph to a JSON file at path.
func ExportJSON(g *Graph, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()
	return WriteJSON(g, f)
}

// ReadJSON decodes a graph previously written with WriteJSON.
func ReadJSON(r io.Reader) (*Graph, error) {
	var doc exportDoc
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode graph: %w", err)
	}
	g := New()
	for _, n := range doc.Nodes {
		g.AddNode(n)
	}
	for _, e := range doc.Edges {
		g.AddEdge(e.From, e.To)
	}
	return g, nil
}

package depgraph

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/goccy/go-graphviz"
)

// DotOptions configures DOT output.
type DotOptions struct {
	// Detailed includes version, score, and flags in node labels.
	Detailed bool

	// Threshold highlights nodes whose score is at or above it.
	// Zero disables highlighting.
	Threshold float64
}

// ToDOT converts a graph to Graphviz DOT format. Direct packages get a bold
// outline; packages at or above the score threshold are filled red.
func ToDOT(g *Graph, opts DotOptions) string {
	var buf bytes.Buffer
	buf.WriteString("digraph deps {\n")
	buf.WriteString("  rankdir=TB;\n")
	buf.WriteString("  bgcolor=\"transparent\";\n")
	buf.WriteString("  node [shape=box, style=\"rounded,filled\", fillcolor=white, fontsize=12, margin=\"0.15,0.08\"];\n")
	buf.WriteString("\n")

	for _, n := range g.Nodes() {
		attrs := []string{fmt.Sprintf("label=%q", nodeLabel(n, opts.Detailed))}
		if n.Direct {
			attrs = append(attrs, "penwidth=2")
		}
		if opts.Threshold > 0 && n.Score >= opts.Threshold {
			attrs = append(attrs, "fillcolor=\"#ffb3b3\"")
		}
		fmt.Fprintf(&buf, "  %q [%s];\n", n.Ref, strings.Join(attrs, ", "))
	}

	buf.WriteString("\n")
	for _, e := range g.Edges() {
		fmt.Fprintf(&buf, "  %q -> %q;\n", e.From, e.To)
	}

	buf.WriteString("}\n")
	return buf.String()
}

func nodeLabel(n Node, detailed bool) string {
	if !detailed {
		return n.Name
	}
	parts := []string{n.Ref}
	if n.Score > 0 {
		parts = append(parts, fmt.Sprintf("score: %.2f", n.Score))
	}
	parts = append(parts, n.Flags...)
	return strings.Join(parts, "\n")
}

// RenderSVG renders a DOT graph to SVG using Graphviz.
func RenderSVG(ctx context.Context, dot string) ([]byte, error) {
	return render(ctx, dot, graphviz.SVG)
}

// RenderPNG renders a DOT graph to PNG using Graphviz.
func RenderPNG(ctx context.Context, dot string) ([]byte, error) {
	return render(ctx, dot, graphviz.PNG)
}

func render(ctx context.Context, dot string, format graphviz.Format) ([]byte, error) {
	gv, err := graphviz.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("init graphviz: %w", err)
	}
	defer gv.Close()

	g, err := graphviz.ParseBytes([]byte(dot))
	if err != nil {
		return nil, fmt.Errorf("parse DOT: %w", err)
	}
	defer g.Close()

	var buf bytes.Buffer
	if err := gv.Render(ctx, g, format, &buf); err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}
	return buf.Bytes(), nil
}

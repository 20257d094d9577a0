package cli

import (
	"context"
	"testing"

	"github.com/matzehuels/depvet/pkg/stages"
)

func TestBuildGraph(t *testing.T) {
	store := auditStore(t)

	g, err := buildGraph(context.Background(), store)
	if err != nil {
		t.Fatalf("buildGraph: %v", err)
	}

	stats := g.Stats()
	if stats.Nodes != 2 || stats.Direct != 1 {
		t.Errorf("stats = %+v", stats)
	}

	n, ok := g.Node("leftpad@1.2.0")
	if !ok {
		t.Fatal("leftpad node missing")
	}
	if n.Score != 0.6 {
		t.Errorf("score = %v, want 0.6 from the score stage", n.Score)
	}
	if len(n.Flags) != 1 || n.Flags[0] != stages.FlagSingleMaintainer {
		t.Errorf("flags = %v", n.Flags)
	}

	// The unscored transitive package keeps a zero score.
	m, ok := g.Node("is-even@0.1.3")
	if !ok {
		t.Fatal("is-even node missing")
	}
	if m.Score != 0 || m.Direct {
		t.Errorf("is-even = %+v", m)
	}
}

func TestWriteGraphUnknownFormat(t *testing.T) {
	store := auditStore(t)
	g, err := buildGraph(context.Background(), store)
	if err != nil {
		t.Fatal(err)
	}
	if err := writeGraph(context.Background(), g, "out.bin", "bin", false, 0); err == nil {
		t.Error("unknown format should fail")
	}
}

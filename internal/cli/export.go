package cli

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/matzehuels/depvet/pkg/checkpoint"
	"github.com/matzehuels/depvet/pkg/depgraph"
	"github.com/matzehuels/depvet/pkg/errors"
	"github.com/matzehuels/depvet/pkg/pipeline"
	"github.com/matzehuels/depvet/pkg/resolver"
	"github.com/matzehuels/depvet/pkg/stages"
)

// exportCommand creates the export command.
func (c *CLI) exportCommand() *cobra.Command {
	var (
		store     storeFlags
		output    string
		format    string
		detailed  bool
		threshold float64
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the resolved dependency graph from a scanned store",
		Long: `Export reconstructs the dependency graph from the checkpoint store of a
completed scan and writes it as JSON, DOT, SVG, or PNG. Triage scores and
flags recorded by the scoring stage are attached to the graph nodes, so
rendered output highlights the packages worth investigating.`,
		Example: `  depvet export -o deps.json
  depvet export -o deps.svg --threshold 0.5
  depvet export -o deps.dot --detailed --store-path ./checkpoints`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			s, err := store.open(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			g, err := buildGraph(ctx, s)
			if err != nil {
				return err
			}
			stats := g.Stats()
			if stats.Nodes == 0 {
				printWarning("Store holds no resolved packages; run a scan first")
				return nil
			}

			if format == "" {
				format = strings.TrimPrefix(filepath.Ext(output), ".")
			}
			if err := writeGraph(ctx, g, output, format, detailed, threshold); err != nil {
				return err
			}

			printSuccess("Exported %s, %s", fmtCount(stats.Nodes, "package"), fmtCount(stats.Edges, "edge"))
			printDetail("%d direct, %d transitive, max depth %d", stats.Direct, stats.Transitive, stats.MaxDepth)
			printFile(output)
			return nil
		},
	}

	store.register(cmd)
	cmd.Flags().StringVarP(&output, "output", "o", "deps.json", "output file; extension selects the format")
	cmd.Flags().StringVar(&format, "format", "", "output format: json, dot, svg, or png (default from extension)")
	cmd.Flags().BoolVar(&detailed, "detailed", false, "include versions, scores, and flags in node labels")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "highlight nodes scoring at or above this value")

	return cmd
}

// buildGraph reconstructs the dependency graph from the store's resolve
// records and attaches scores from the score records.
func buildGraph(ctx context.Context, s checkpoint.Store) (*depgraph.Graph, error) {
	var pkgs []resolver.Package
	err := eachRecordItem(ctx, s, stages.StageResolve, func(item pipeline.Item) error {
		var pkg resolver.Package
		if err := item.DecodePayload(&pkg); err != nil {
			return errors.Wrap(errors.ErrCodeStorage, err, "resolve record for %s has no package payload", item.Identity())
		}
		pkgs = append(pkgs, pkg)
		return nil
	})
	if err != nil {
		return nil, err
	}

	g := depgraph.FromPackages(pkgs)

	err = eachRecordItem(ctx, s, stages.StageScore, func(item pipeline.Item) error {
		var f stages.Finding
		if err := item.DecodePayload(&f); err != nil {
			return nil // older records without findings are fine
		}
		if n, ok := g.Node(f.Meta.Package.Ref()); ok {
			n.Score = f.Score
			n.Flags = f.Flags
			g.AddNode(n)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return g, nil
}

// eachRecordItem invokes fn for every output item of every succeeded record
// in the given stage.
func eachRecordItem(ctx context.Context, s checkpoint.Store, stageID string, fn func(pipeline.Item) error) error {
	iter, err := s.Scan(ctx, stageID)
	if err != nil {
		return err
	}
	defer iter.Close()

	for {
		rec, err := iter.Next(ctx)
		if err != nil {
			return err
		}
		if rec == nil {
			return nil
		}
		if rec.Status != checkpoint.StatusSucceeded || len(rec.Payload) == 0 {
			continue
		}
		var items []pipeline.Item
		if err := json.Unmarshal(rec.Payload, &items); err != nil {
			return errors.Wrap(errors.ErrCodeStorage, err, "decode record %s", rec.Key)
		}
		for _, item := range items {
			if err := fn(item); err != nil {
				return err
			}
		}
	}
}

// writeGraph serializes the graph in the requested format.
func writeGraph(ctx context.Context, g *depgraph.Graph, output, format string, detailed bool, threshold float64) error {
	opts := depgraph.DotOptions{Detailed: detailed, Threshold: threshold}

	switch format {
	case "json":
		return depgraph.ExportJSON(g, output)
	case "dot":
		return os.WriteFile(output, []byte(depgraph.ToDOT(g, opts)), 0o644)
	case "svg":
		data, err := depgraph.RenderSVG(ctx, depgraph.ToDOT(g, opts))
		if err != nil {
			return err
		}
		return os.WriteFile(output, data, 0o644)
	case "png":
		data, err := depgraph.RenderPNG(ctx, depgraph.ToDOT(g, opts))
		if err != nil {
			return err
		}
		return os.WriteFile(output, data, 0o644)
	}
	return errors.New(errors.ErrCodeConfiguration, "unknown export format %q", format)
}

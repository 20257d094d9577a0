package resolver

import (
	"context"
	"encoding/json"
	"path"
	"path/filepath"
	"sort"

	"github.com/matzehuels/depvet/pkg/errors"
)

// resolveCargo resolves a Cargo dependency file via cargo metadata, which
// reports the full resolved graph from Cargo.lock without building.
func (r *Resolver) resolveCargo(ctx context.Context, checkout, depFile string) ([]Package, error) {
	dir := filepath.Join(checkout, filepath.FromSlash(path.Dir(depFile)))

	out, err := r.Runner.Run(ctx, dir, "cargo", "metadata", "--format-version", "1", "--locked")
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeTerminalCollaborator, err, "cargo metadata failed for %s", depFile)
	}

	var meta cargoMetadata
	if err := json.Unmarshal(out, &meta); err != nil {
		return nil, errors.Wrap(errors.ErrCodeMalformedManifest, err, "unparsable cargo metadata for %s", depFile)
	}

	byID := make(map[string]cargoPackage, len(meta.Packages))
	for _, p := range meta.Packages {
		byID[p.ID] = p
	}

	workspace := make(map[string]bool, len(meta.WorkspaceMembers))
	for _, id := range meta.WorkspaceMembers {
		workspace[id] = true
	}

	// Direct dependencies are the resolve-graph children of workspace
	// members; everything else reachable is transitive.
	direct := make(map[string]bool)
	nodeDeps := make(map[string][]string, len(meta.Resolve.Nodes))
	for _, n := range meta.Resolve.Nodes {
		nodeDeps[n.ID] = n.Dependencies
		if workspace[n.ID] {
			for _, dep := range n.Dependencies {
				direct[dep] = true
			}
		}
	}

	var packages []Package
	for _, n := range meta.Resolve.Nodes {
		if workspace[n.ID] {
			continue
		}
		info, ok := byID[n.ID]
		if !ok {
			continue
		}
		p := Package{Name: info.Name, Version: info.Version, Direct: direct[n.ID]}
		for _, depID := range n.Dependencies {
			if child, ok := byID[depID]; ok {
				p.Deps = append(p.Deps, child.Name+"@"+child.Version)
			}
		}
		sort.Strings(p.Deps)
		packages = append(packages, p)
	}
	sort.Slice(packages, func(i, j int) bool { return packages[i].Ref() < packages[j].Ref() })
	return packages, nil
}

type cargoMetadata struct {
	Packages         []cargoPackage `json:"packages"`
	WorkspaceMembers []string       `json:"workspace_members"`
	Resolve          struct {
		Nodes []struct {
			ID           string   `json:"id"`
			Dependencies []string `json:"dependencies"`
		} `json:"nodes"`
	} `json:"resolve"`
}

type cargoPackage struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Version string `json:"version"`
}

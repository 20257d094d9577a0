package resolver

import (
	"context"
	"encoding/json"
	"path"
	"path/filepath"
	"sort"

	"github.com/matzehuels/depvet/pkg/errors"
)

// resolveNPM resolves an npm dependency file by running npm ls in the
// directory containing it. npm reads package-lock.json or npm-shrinkwrap.json
// automatically when present, so lockfile and manifest items resolve the
// same way.
func (r *Resolver) resolveNPM(ctx context.Context, checkout, depFile, env string) ([]Package, error) {
	dir := filepath.Join(checkout, filepath.FromSlash(path.Dir(depFile)))

	args := []string{"ls", "--all", "--json"}
	if env == EnvProdOnly {
		args = append(args, "--omit=dev")
	}

	// npm ls exits non-zero for peer dependency problems while still
	// printing the full tree; only an unparsable output is fatal.
	out, runErr := r.Runner.Run(ctx, dir, "npm", args...)

	var tree npmNode
	if err := json.Unmarshal(out, &tree); err != nil {
		if runErr != nil {
			return nil, errors.Wrap(errors.ErrCodeTerminalCollaborator, runErr, "npm ls failed for %s", depFile)
		}
		return nil, errors.Wrap(errors.ErrCodeMalformedManifest, err, "unparsable npm ls output for %s", depFile)
	}

	seen := make(map[string]*Package)
	collectNPM(tree.Dependencies, true, seen)

	packages := make([]Package, 0, len(seen))
	for _, p := range seen {
		sort.Strings(p.Deps)
		packages = append(packages, *p)
	}
	sort.Slice(packages, func(i, j int) bool { return packages[i].Ref() < packages[j].Ref() })
	return packages, nil
}

// collectNPM flattens the npm ls tree into unique name@version packages.
// A package reached both directly and transitively stays direct.
func collectNPM(deps map[string]npmNode, direct bool, seen map[string]*Package) {
	for name, node := range deps {
		if node.Version == "" {
			// Unmet or link entries carry no version; nothing to analyze.
			continue
		}
		p := Package{Name: name, Version: node.Version, Direct: direct}
		for child, cnode := range node.Dependencies {
			if cnode.Version != "" {
				p.Deps = append(p.Deps, child+"@"+cnode.Version)
			}
		}

		ref := p.Ref()
		if existing, ok := seen[ref]; ok {
			existing.Direct = existing.Direct || direct
		} else {
			seen[ref] = &p
		}
		collectNPM(node.Dependencies, false, seen)
	}
}

type npmNode struct {
	Version      string             `json:"version"`
	Dependencies map[string]npmNode `json:"dependencies"`
}

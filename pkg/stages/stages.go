// Package stages provides the standard analyzer implementations wired into
// depvet's scan pipeline: dependency file discovery, package resolution,
// registry metadata enrichment, and triage scoring.
//
// Each analyzer is a thin binding between a provider (filesystem walker,
// package manager exec, registry client) and the pipeline's item model.
// Stage configuration structs participate in checkpoint fingerprints, so
// changing a threshold or checkout root invalidates exactly the affected
// stage's checkpoints.
package stages

import (
	"path/filepath"

	"github.com/matzehuels/depvet/pkg/pipeline"
)

// Standard stage identifiers. Renaming one orphans its checkpoints, so
// these are part of the persistent format.
const (
	StageDiscover = "discover"
	StageResolve  = "resolve"
	StageMetadata = "metadata"
	StageScore    = "score"
)

// checkoutPath locates the working copy for an item's repository under the
// configured checkout root.
func checkoutPath(root string, scope pipeline.Scope) string {
	return filepath.Join(root, scope.Org, scope.Repo)
}

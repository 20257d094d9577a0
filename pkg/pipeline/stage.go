package pipeline

import (
	"context"
	"time"

	"github.com/matzehuels/depvet/pkg/errors"
)

// Analyzer transforms one work item into zero or more output items.
//
// Returning an empty slice drops the item from downstream stages (a filter).
// Returning multiple items fans out (one lockfile becoming one item per
// resolved package). Returning an error fails the item at this stage without
// affecting sibling items.
//
// Analyzers must be deterministic given their inputs and collaborator
// responses: the same item plus the same collaborator answers must reproduce
// the same outputs, or replay cannot verify them. Analyzers must be safe for
// concurrent use; the runner invokes them from multiple worker goroutines.
type Analyzer interface {
	Analyze(ctx context.Context, item Item) ([]Item, error)
}

// AnalyzerFunc adapts a function to the Analyzer interface.
type AnalyzerFunc func(ctx context.Context, item Item) ([]Item, error)

// Analyze calls f.
func (f AnalyzerFunc) Analyze(ctx context.Context, item Item) ([]Item, error) {
	return f(ctx, item)
}

// Stage describes one step of a pipeline definition.
type Stage struct {
	// ID is the stable stage identifier, used as the checkpoint namespace.
	// Renaming a stage invalidates its checkpoints; that is deliberate and
	// preferable to silently reinterpreting another stage's records.
	ID string

	// Analyzer is the stage implementation.
	Analyzer Analyzer

	// Impure marks stages that perform external I/O (registry fetches,
	// container execs). Impure stages are wrapped in the retry policy; pure
	// stages run once, since re-running pure logic cannot change the result.
	Impure bool

	// Config is folded into the checkpoint fingerprint, so configuration
	// changes invalidate prior checkpoints for this stage. Must be
	// JSON-marshalable with deterministic encoding.
	Config any

	// Timeout bounds each attempt of this stage. Zero means no per-attempt
	// deadline. A timed-out attempt is classified retryable.
	Timeout time.Duration
}

// Definition is an ordered list of stages with a pipeline version.
// Stage order is the strict per-item execution order; the version
// participates in every checkpoint key, so bumping it after an analyzer
// logic change invalidates stale checkpoints for the whole pipeline.
type Definition struct {
	Version string
	Stages  []Stage
}

// Validate checks the definition before any item is processed.
// Violations are configuration errors and fatal at startup.
func (d Definition) Validate() error {
	if d.Version == "" {
		return errors.New(errors.ErrCodeConfiguration, "pipeline version is required")
	}
	if len(d.Stages) == 0 {
		return errors.New(errors.ErrCodeConfiguration, "pipeline has no stages")
	}

	seen := make(map[string]bool, len(d.Stages))
	for i, stage := range d.Stages {
		if stage.ID == "" {
			return errors.New(errors.ErrCodeConfiguration, "stage %d has an empty id", i)
		}
		if seen[stage.ID] {
			return errors.New(errors.ErrCodeConfiguration, "duplicate stage id %q", stage.ID)
		}
		seen[stage.ID] = true
		if stage.Analyzer == nil {
			return errors.New(errors.ErrCodeConfiguration, "stage %q has no analyzer", stage.ID)
		}
	}
	return nil
}

// StageIDs returns the ordered stage identifiers.
func (d Definition) StageIDs() []string {
	ids := make([]string, len(d.Stages))
	for i, s := range d.Stages {
		ids[i] = s.ID
	}
	return ids
}

package stages

import (
	"time"

	"github.com/matzehuels/depvet/pkg/pipeline"
	"github.com/matzehuels/depvet/pkg/resolver"
)

// PipelineConfig assembles the standard four-stage scan definition.
type PipelineConfig struct {
	// Version is the pipeline version folded into every checkpoint key.
	// Bump it when analyzer logic changes in a way that stales old results.
	Version string

	// CheckoutRoot holds repository working copies as <root>/<org>/<repo>.
	CheckoutRoot string

	// LockfilesOnly restricts discovery to lockfiles.
	LockfilesOnly bool

	// Score configures the triage scoring stage.
	Score ScoreConfig

	// StageTimeout bounds each attempt of the impure stages.
	// Zero means no per-attempt deadline.
	StageTimeout time.Duration
}

// NewDefinition builds the standard scan pipeline:
// discover -> resolve -> metadata -> score.
func NewDefinition(cfg PipelineConfig, res *resolver.Resolver, clients MetadataClients) pipeline.Definition {
	return pipeline.Definition{
		Version: cfg.Version,
		Stages: []pipeline.Stage{
			{
				ID:       StageDiscover,
				Analyzer: Discover(DiscoverConfig{CheckoutRoot: cfg.CheckoutRoot, LockfilesOnly: cfg.LockfilesOnly}),
				Config:   DiscoverConfig{CheckoutRoot: cfg.CheckoutRoot, LockfilesOnly: cfg.LockfilesOnly},
			},
			{
				ID:       StageResolve,
				Analyzer: Resolve(res, ResolveConfig{CheckoutRoot: cfg.CheckoutRoot}),
				Config:   ResolveConfig{CheckoutRoot: cfg.CheckoutRoot},
				Impure:   true,
				Timeout:  cfg.StageTimeout,
			},
			{
				ID:       StageMetadata,
				Analyzer: Metadata(clients),
				Impure:   true,
				Timeout:  cfg.StageTimeout,
			},
			{
				ID:       StageScore,
				Analyzer: Score(cfg.Score),
				Config:   cfg.Score,
			},
		},
	}
}

package stages

import (
	"context"

	"github.com/matzehuels/depvet/pkg/manifest"
	"github.com/matzehuels/depvet/pkg/pipeline"
)

// DiscoverConfig configures dependency file discovery.
type DiscoverConfig struct {
	// CheckoutRoot is the directory holding repository working copies,
	// laid out as <root>/<org>/<repo>.
	CheckoutRoot string `json:"checkout_root"`

	// LockfilesOnly restricts discovery to lockfiles, skipping manifests
	// whose resolution would require a network install.
	LockfilesOnly bool `json:"lockfiles_only"`
}

// Discover returns the discovery analyzer: a repository seed item fans out
// into one item per recognized dependency file in its checkout. It reads
// only the local working copy, so it runs unguarded during replay.
func Discover(cfg DiscoverConfig) pipeline.Analyzer {
	return pipeline.AnalyzerFunc(func(_ context.Context, item pipeline.Item) ([]pipeline.Item, error) {
		files, err := manifest.Discover(checkoutPath(cfg.CheckoutRoot, item.Scope))
		if err != nil {
			return nil, err
		}
		if cfg.LockfilesOnly {
			files = manifest.Lockfiles(files)
		}

		out := make([]pipeline.Item, 0, len(files))
		for _, f := range files {
			child := item
			child.Scope.DepFile = f.Path
			child, err := child.SetPayload(f)
			if err != nil {
				return nil, err
			}
			out = append(out, child)
		}
		return out, nil
	})
}

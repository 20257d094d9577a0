package stages

import (
	"context"

	"github.com/matzehuels/depvet/pkg/pipeline"
	"github.com/matzehuels/depvet/pkg/resolver"
)

// ResolveConfig configures dependency resolution.
type ResolveConfig struct {
	// CheckoutRoot is the directory holding repository working copies.
	CheckoutRoot string `json:"checkout_root"`
}

// Resolve returns the resolution analyzer: a dependency file item fans out
// into one item per resolved package, each carrying the package as payload
// and its name@version ref in the scope. Resolution execs the ecosystem's
// package manager, so the stage must be registered impure.
func Resolve(res *resolver.Resolver, cfg ResolveConfig) pipeline.Analyzer {
	return pipeline.AnalyzerFunc(func(ctx context.Context, item pipeline.Item) ([]pipeline.Item, error) {
		pkgs, err := res.Resolve(ctx, checkoutPath(cfg.CheckoutRoot, item.Scope), item.Scope.DepFile, item.Env)
		if err != nil {
			return nil, err
		}

		out := make([]pipeline.Item, 0, len(pkgs))
		for _, p := range pkgs {
			child := item
			child.Scope.DepPath = p.Ref()
			child, err := child.SetPayload(p)
			if err != nil {
				return nil, err
			}
			out = append(out, child)
		}
		return out, nil
	})
}

package stages

import (
	"context"
	"time"

	"github.com/matzehuels/depvet/pkg/errors"
	"github.com/matzehuels/depvet/pkg/integrations"
	"github.com/matzehuels/depvet/pkg/integrations/crates"
	"github.com/matzehuels/depvet/pkg/integrations/github"
	"github.com/matzehuels/depvet/pkg/integrations/npm"
	"github.com/matzehuels/depvet/pkg/integrations/npmsio"
	"github.com/matzehuels/depvet/pkg/manifest"
	"github.com/matzehuels/depvet/pkg/pipeline"
	"github.com/matzehuels/depvet/pkg/resolver"
)

// Meta is the ecosystem-neutral metadata gathered for one resolved package.
// It is the payload produced by the metadata stage and consumed by scoring.
type Meta struct {
	Ecosystem manifest.Ecosystem `json:"ecosystem"`
	Package   resolver.Package   `json:"package"`

	Description  string     `json:"description,omitempty"`
	License      string     `json:"license,omitempty"`
	Author       string     `json:"author,omitempty"`
	Repository   string     `json:"repository,omitempty"`
	Maintainers  int        `json:"maintainers,omitempty"`
	VersionCount int        `json:"version_count,omitempty"`
	Downloads    int        `json:"downloads,omitempty"`
	PublishedAt  *time.Time `json:"published_at,omitempty"`
	Deprecated   string     `json:"deprecated,omitempty"`

	RegistryScore *npmsio.Score       `json:"registry_score,omitempty"`
	Repo          *github.RepoMetrics `json:"repo,omitempty"`
}

// MetadataClients bundles the registry and forge clients the metadata
// stage consults. Nil clients disable the corresponding enrichment.
type MetadataClients struct {
	NPM    *npm.Client
	NPMSIO *npmsio.Client
	Crates *crates.Client
	GitHub *github.Client
}

// Metadata returns the enrichment analyzer: a resolved package item gains
// registry metadata, an npms.io analysis score (npm only), and repository
// metrics when the package links to GitHub. The stage performs network
// I/O and must be registered impure.
//
// Enrichment beyond the registry document is best-effort: a package whose
// score or repository lookup fails terminally still produces metadata, but
// transient failures propagate so the retry policy gets its chance.
func Metadata(clients MetadataClients) pipeline.Analyzer {
	return pipeline.AnalyzerFunc(func(ctx context.Context, item pipeline.Item) ([]pipeline.Item, error) {
		var pkg resolver.Package
		if err := item.DecodePayload(&pkg); err != nil {
			return nil, errors.Wrap(errors.ErrCodeInvalidInput, err, "item %s has no package payload", item.Identity())
		}

		file, ok := manifest.Classify(item.Scope.DepFile)
		if !ok {
			return nil, errors.New(errors.ErrCodeUnsupported, "unrecognized dependency file %s", item.Scope.DepFile)
		}

		meta := Meta{Ecosystem: file.Ecosystem, Package: pkg}
		var err error
		switch file.Ecosystem {
		case manifest.EcosystemNPM:
			err = fetchNPM(ctx, clients, pkg, &meta)
		case manifest.EcosystemCargo:
			err = fetchCargo(ctx, clients, pkg, &meta)
		default:
			err = errors.New(errors.ErrCodeUnsupported, "no metadata source for %s", file.Ecosystem)
		}
		if err != nil {
			return nil, err
		}

		if err := fetchRepo(ctx, clients, &meta); err != nil {
			return nil, err
		}

		out, err := item.SetPayload(meta)
		if err != nil {
			return nil, err
		}
		return []pipeline.Item{out}, nil
	})
}

func fetchNPM(ctx context.Context, clients MetadataClients, pkg resolver.Package, meta *Meta) error {
	if clients.NPM == nil {
		return errors.New(errors.ErrCodeConfiguration, "npm client not configured")
	}
	info, err := clients.NPM.FetchPackage(ctx, pkg.Name, pkg.Version)
	if err != nil {
		return err
	}

	meta.Description = info.Description
	meta.License = info.License
	meta.Author = info.Author
	meta.Repository = info.Repository
	meta.Maintainers = info.Maintainers
	meta.VersionCount = info.VersionCount
	meta.PublishedAt = info.PublishedAt
	meta.Deprecated = info.Deprecated

	if clients.NPMSIO != nil {
		scores, err := clients.NPMSIO.Scores(ctx, []string{pkg.Name})
		if err != nil {
			if errors.IsTransient(err) {
				return err
			}
		} else if s, ok := scores[pkg.Name]; ok {
			meta.RegistryScore = &s
		}
	}
	return nil
}

func fetchCargo(ctx context.Context, clients MetadataClients, pkg resolver.Package, meta *Meta) error {
	if clients.Crates == nil {
		return errors.New(errors.ErrCodeConfiguration, "crates client not configured")
	}
	info, err := clients.Crates.FetchCrate(ctx, pkg.Name, pkg.Version)
	if err != nil {
		return err
	}

	meta.Description = info.Description
	meta.License = info.License
	meta.Repository = info.Repository
	meta.Downloads = info.Downloads
	return nil
}

// fetchRepo enriches with GitHub metrics when the registry metadata points
// at a GitHub repository. Terminal lookup failures (moved, deleted, made
// private) leave Repo nil; transient ones propagate.
func fetchRepo(ctx context.Context, clients MetadataClients, meta *Meta) error {
	if clients.GitHub == nil || meta.Repository == "" {
		return nil
	}
	owner, repo, ok := integrations.ParseGitHubURL(meta.Repository)
	if !ok {
		return nil
	}

	m, err := clients.GitHub.Fetch(ctx, owner, repo)
	if err != nil {
		if errors.IsTransient(err) {
			return err
		}
		return nil
	}
	meta.Repo = m
	return nil
}

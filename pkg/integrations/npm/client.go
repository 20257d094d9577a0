// Package npm provides a client for the npm registry API.
package npm

import (
	"context"
	"strings"
	"time"

	"github.com/matzehuels/depvet/pkg/errors"
	"github.com/matzehuels/depvet/pkg/integrations"
)

// PackageInfo holds the registry metadata used to triage an npm package.
type PackageInfo struct {
	Name         string     `json:"name"`
	Version      string     `json:"version"`
	Description  string     `json:"description,omitempty"`
	License      string     `json:"license,omitempty"`
	Author       string     `json:"author,omitempty"`
	Repository   string     `json:"repository,omitempty"`
	HomePage     string     `json:"homepage,omitempty"`
	Dependencies []string   `json:"dependencies,omitempty"`
	Maintainers  int        `json:"maintainers"`
	VersionCount int        `json:"version_count"`
	PublishedAt  *time.Time `json:"published_at,omitempty"` // publish time of Version
	Deprecated   string     `json:"deprecated,omitempty"`
}

// Client provides access to the npm registry API.
type Client struct {
	*integrations.Client

	// BaseURL is the registry endpoint, overridable for tests and mirrors.
	BaseURL string
}

// NewClient creates an npm registry client on top of a shared HTTP client.
// Pass nil to build a standalone live client.
func NewClient(shared *integrations.Client) *Client {
	if shared == nil {
		shared = integrations.NewClient(nil)
	}
	return &Client{Client: shared, BaseURL: "https://registry.npmjs.org"}
}

// FetchPackage retrieves metadata for one npm package. When version is
// empty, the dist-tags latest version is described.
func (c *Client) FetchPackage(ctx context.Context, pkg, version string) (*PackageInfo, error) {
	pkg = strings.TrimSpace(pkg)
	if pkg == "" {
		return nil, errors.New(errors.ErrCodeInvalidInput, "empty package name")
	}

	var data registryResponse
	// Scoped names keep their @ but escape the inner slash.
	path := strings.ReplaceAll(pkg, "/", "%2F")
	if err := c.GetJSON(ctx, c.BaseURL+"/"+path, &data); err != nil {
		return nil, err
	}

	if version == "" {
		version = data.DistTags.Latest
	}
	v, ok := data.Versions[version]
	if !ok {
		return nil, errors.New(errors.ErrCodeNotFound, "npm package %s has no version %s", pkg, version)
	}

	info := &PackageInfo{
		Name:         data.Name,
		Version:      version,
		Description:  v.Description,
		License:      extractField(v.License, "type"),
		Author:       extractField(v.Author, "name"),
		Repository:   integrations.NormalizeRepoURL(extractField(v.Repository, "url")),
		HomePage:     v.HomePage,
		Maintainers:  len(data.Maintainers),
		VersionCount: len(data.Versions),
		Deprecated:   v.Deprecated,
	}
	for dep := range v.Dependencies {
		info.Dependencies = append(info.Dependencies, dep)
	}
	if t, ok := data.Time[version]; ok {
		info.PublishedAt = &t
	}
	return info, nil
}

// extractField pulls a string out of registry fields that are published
// either as plain strings or as objects ({"type": ...}, {"name": ...}).
func extractField(v any, field string) string {
	switch val := v.(type) {
	case string:
		return val
	case map[string]any:
		if s, ok := val[field].(string); ok {
			return s
		}
	}
	return ""
}

type registryResponse struct {
	Name        string                    `json:"name"`
	DistTags    distTags                  `json:"dist-tags"`
	Versions    map[string]versionDetails `json:"versions"`
	Time        map[string]time.Time      `json:"time"`
	Maintainers []struct {
		Name string `json:"name"`
	} `json:"maintainers"`
}

type distTags struct {
	Latest string `json:"latest"`
}

type versionDetails struct {
	Description  string            `json:"description"`
	License      any               `json:"license"`
	Author       any               `json:"author"`
	Repository   any               `json:"repository"`
	HomePage     string            `json:"homepage"`
	Dependencies map[string]string `json:"dependencies"`
	Deprecated   string            `json:"deprecated"`
}

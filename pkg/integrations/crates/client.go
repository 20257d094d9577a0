// Package crates provides a client for the crates.io registry API.
package crates

import (
	"context"
	"fmt"

	"github.com/matzehuels/depvet/pkg/errors"
	"github.com/matzehuels/depvet/pkg/integrations"
)

// CrateInfo holds the registry metadata used to triage a Rust crate.
// Dependencies include only normal (non-dev, non-optional) dependencies.
type CrateInfo struct {
	Name         string   `json:"name"`
	Version      string   `json:"version"`
	Description  string   `json:"description,omitempty"`
	License      string   `json:"license,omitempty"`
	Repository   string   `json:"repository,omitempty"`
	HomePage     string   `json:"homepage,omitempty"`
	Downloads    int      `json:"downloads"`
	Dependencies []string `json:"dependencies,omitempty"`
}

// Client provides access to the crates.io API.
// crates.io requires a User-Agent header; the client sets one.
type Client struct {
	*integrations.Client

	// BaseURL is the API endpoint, overridable for tests.
	BaseURL string
}

// NewClient creates a crates.io client.
func NewClient() *Client {
	headers := map[string]string{
		"User-Agent": "depvet (https://github.com/matzehuels/depvet)",
	}
	return &Client{
		Client:  integrations.NewClient(headers),
		BaseURL: "https://crates.io/api/v1",
	}
}

// FetchCrate retrieves metadata for one crate. When version is empty the
// registry's max_version is described. Dependency listing failures degrade
// to an empty list rather than failing the crate.
func (c *Client) FetchCrate(ctx context.Context, crate, version string) (*CrateInfo, error) {
	var data crateResponse
	if err := c.GetJSON(ctx, fmt.Sprintf("%s/crates/%s", c.BaseURL, crate), &data); err != nil {
		if errors.Is(err, errors.ErrCodeNotFound) {
			return nil, errors.Wrap(errors.ErrCodeNotFound, err, "crate %s", crate)
		}
		return nil, err
	}

	if version == "" {
		version = data.Crate.MaxVersion
	}
	deps, _ := c.fetchDeps(ctx, crate, version)

	return &CrateInfo{
		Name:         data.Crate.Name,
		Version:      version,
		Description:  data.Crate.Description,
		License:      data.Crate.License,
		Repository:   data.Crate.Repository,
		HomePage:     data.Crate.HomePage,
		Downloads:    data.Crate.Downloads,
		Dependencies: deps,
	}, nil
}

func (c *Client) fetchDeps(ctx context.Context, crate, version string) ([]string, error) {
	url := fmt.Sprintf("%s/crates/%s/%s/dependencies", c.BaseURL, crate, version)

	var data depsResponse
	if err := c.GetJSON(ctx, url, &data); err != nil {
		return nil, err
	}

	var deps []string
	for _, d := range data.Dependencies {
		if d.Kind == "normal" && !d.Optional {
			deps = append(deps, d.CrateID)
		}
	}
	return deps, nil
}

type crateResponse struct {
	Crate struct {
		Name        string `json:"name"`
		MaxVersion  string `json:"max_version"`
		Description string `json:"description"`
		License     string `json:"license"`
		Repository  string `json:"repository"`
		HomePage    string `json:"homepage"`
		Downloads   int    `json:"downloads"`
	} `json:"crate"`
}

type depsResponse struct {
	Dependencies []struct {
		CrateID  string `json:"crate_id"`
		Kind     string `json:"kind"`
		Optional bool   `json:"optional"`
	} `json:"dependencies"`
}

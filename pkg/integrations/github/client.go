// Package github provides a client for the GitHub REST API, used to enrich
// package metadata with repository maintenance and popularity signals.
package github

import (
	"context"
	"fmt"
	"time"

	"github.com/matzehuels/depvet/pkg/errors"
	"github.com/matzehuels/depvet/pkg/integrations"
)

// RepoMetrics holds repository-level signals for triage scoring.
type RepoMetrics struct {
	RepoURL       string        `json:"repo_url"`
	Owner         string        `json:"owner"`
	Stars         int           `json:"stars"`
	SizeKB        int           `json:"size_kb,omitempty"`
	LastCommitAt  *time.Time    `json:"last_commit_at,omitempty"`
	LastReleaseAt *time.Time    `json:"last_release_at,omitempty"`
	License       string        `json:"license,omitempty"`
	Contributors  []Contributor `json:"top_contributors,omitempty"`
	Language      string        `json:"language,omitempty"`
	Topics        []string      `json:"topics,omitempty"`
	Archived      bool          `json:"archived"`
}

// Contributor is a repository contributor with their commit count.
type Contributor struct {
	Login         string `json:"login"`
	Contributions int    `json:"contributions"`
}

// Client provides access to the GitHub API.
type Client struct {
	*integrations.Client

	// BaseURL is the API endpoint, overridable for tests and GHE.
	BaseURL string
}

// NewClient creates a GitHub API client. Pass an empty token for
// unauthenticated requests (much lower rate limits).
func NewClient(token string) *Client {
	headers := map[string]string{"Accept": "application/vnd.github.v3+json"}
	if token != "" {
		headers["Authorization"] = "Bearer " + token
	}
	return &Client{
		Client:  integrations.NewClient(headers),
		BaseURL: "https://api.github.com",
	}
}

// Fetch retrieves repository metrics (stars, contributors, activity).
// Missing releases or contributor lists degrade gracefully; a missing
// repository is a terminal not-found.
func (c *Client) Fetch(ctx context.Context, owner, repo string) (*RepoMetrics, error) {
	data, err := c.fetchRepo(ctx, owner, repo)
	if err != nil {
		return nil, err
	}

	m := &RepoMetrics{
		RepoURL:  fmt.Sprintf("https://github.com/%s/%s", owner, repo),
		Owner:    owner,
		Stars:    data.Stars,
		SizeKB:   data.Size,
		License:  data.License.SPDXID,
		Language: data.Language,
		Topics:   data.Topics,
		Archived: data.Archived,
	}
	if data.PushedAt != nil {
		m.LastCommitAt = data.PushedAt
	}
	if rel, err := c.fetchRelease(ctx, owner, repo); err == nil {
		m.LastReleaseAt = &rel.PublishedAt
	}
	if contribs, err := c.fetchContributors(ctx, owner, repo); err == nil {
		m.Contributors = contribs
	}
	return m, nil
}

func (c *Client) fetchRepo(ctx context.Context, owner, repo string) (*repoResponse, error) {
	var data repoResponse
	url := fmt.Sprintf("%s/repos/%s/%s", c.BaseURL, owner, repo)
	if err := c.GetJSON(ctx, url, &data); err != nil {
		if errors.Is(err, errors.ErrCodeNotFound) {
			return nil, errors.Wrap(errors.ErrCodeNotFound, err, "github repo %s/%s", owner, repo)
		}
		return nil, err
	}
	return &data, nil
}

func (c *Client) fetchRelease(ctx context.Context, owner, repo string) (*releaseResponse, error) {
	var data releaseResponse
	url := fmt.Sprintf("%s/repos/%s/%s/releases/latest", c.BaseURL, owner, repo)
	if err := c.GetJSON(ctx, url, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

func (c *Client) fetchContributors(ctx context.Context, owner, repo string) ([]Contributor, error) {
	var data []contributorResponse
	url := fmt.Sprintf("%s/repos/%s/%s/contributors?per_page=5", c.BaseURL, owner, repo)
	if err := c.GetJSON(ctx, url, &data); err != nil {
		return nil, err
	}

	var result []Contributor
	for _, cr := range data {
		if cr.Type != "Bot" {
			result = append(result, Contributor{
				Login:         cr.Login,
				Contributions: cr.Contributions,
			})
		}
	}
	return result, nil
}

type repoResponse struct {
	Stars    int        `json:"stargazers_count"`
	Size     int        `json:"size"`
	PushedAt *time.Time `json:"pushed_at"`
	License  struct {
		SPDXID string `json:"spdx_id"`
	} `json:"license"`
	Language string   `json:"language"`
	Topics   []string `json:"topics"`
	Archived bool     `json:"archived"`
}

type releaseResponse struct {
	PublishedAt time.Time `json:"published_at"`
}

type contributorResponse struct {
	Login         string `json:"login"`
	Contributions int    `json:"contributions"`
	Type          string `json:"type"`
}

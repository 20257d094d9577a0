// Package npmsio provides a client for the npms.io package scoring API.
package npmsio

import (
	"context"

	"github.com/matzehuels/depvet/pkg/integrations"
)

// mgetBatchSize is the API's documented limit of names per mget request.
const mgetBatchSize = 250

// Score holds the npms.io analysis score for one package.
type Score struct {
	Final       float64 `json:"final"`
	Quality     float64 `json:"quality"`
	Popularity  float64 `json:"popularity"`
	Maintenance float64 `json:"maintenance"`
}

// Client provides access to the npms.io API.
type Client struct {
	*integrations.Client

	// BaseURL is the API endpoint, overridable for tests.
	BaseURL string
}

// NewClient creates an npms.io client on top of a shared HTTP client.
// Pass nil to build a standalone live client.
func NewClient(shared *integrations.Client) *Client {
	if shared == nil {
		shared = integrations.NewClient(nil)
	}
	return &Client{Client: shared, BaseURL: "https://api.npms.io/v2"}
}

// Scores fetches analysis scores for the given package names, batching
// requests to respect the API's per-call limit. Names unknown to npms.io
// are simply absent from the result; that is not an error.
func (c *Client) Scores(ctx context.Context, names []string) (map[string]Score, error) {
	scores := make(map[string]Score, len(names))
	for start := 0; start < len(names); start += mgetBatchSize {
		batch := names[start:min(start+mgetBatchSize, len(names))]

		var resp map[string]packageResult
		if err := c.PostJSON(ctx, c.BaseURL+"/package/mget", batch, &resp); err != nil {
			return nil, err
		}
		for name, res := range resp {
			scores[name] = Score{
				Final:       res.Score.Final,
				Quality:     res.Score.Detail.Quality,
				Popularity:  res.Score.Detail.Popularity,
				Maintenance: res.Score.Detail.Maintenance,
			}
		}
	}
	return scores, nil
}

type packageResult struct {
	Score struct {
		Final  float64 `json:"final"`
		Detail struct {
			Quality     float64 `json:"quality"`
			Popularity  float64 `json:"popularity"`
			Maintenance float64 `json:"maintenance"`
		} `json:"detail"`
	} `json:"score"`
}

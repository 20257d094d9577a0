// Package integrations provides API clients for package registries and
// code forges used to enrich dependency work items.
//
// All clients share a common [Client] that maps HTTP failures onto the
// pipeline error taxonomy (so the retry policy can classify them), emits
// observability events, and optionally records or replays responses through
// a fixture set for offline runs.
package integrations

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/matzehuels/depvet/pkg/errors"
	"github.com/matzehuels/depvet/pkg/observability"
	"github.com/matzehuels/depvet/pkg/replay"
)

const httpTimeout = 30 * time.Second

// Mode selects how a client satisfies requests.
type Mode int

const (
	// ModeLive performs real HTTP requests.
	ModeLive Mode = iota

	// ModeRecord performs real requests and records every response body
	// into the fixture set for later offline replay.
	ModeRecord

	// ModeReplay serves every request from the fixture set; a request with
	// no recorded response fails terminally instead of going to the network.
	ModeReplay
)

// Client provides shared HTTP functionality for all registry and forge
// clients: default headers, error classification, fixtures, and events.
type Client struct {
	http     *http.Client
	headers  map[string]string
	fixtures *replay.Fixtures
	mode     Mode
}

// NewClient creates a live-mode Client with the given default headers.
// Pass nil for headers if no defaults are needed.
func NewClient(headers map[string]string) *Client {
	return &Client{
		http:    &http.Client{Timeout: httpTimeout},
		headers: headers,
	}
}

// WithFixtures switches the client into record or replay mode over the
// given fixture set and returns the client for chaining.
func (c *Client) WithFixtures(f *replay.Fixtures, mode Mode) *Client {
	c.fixtures = f
	c.mode = mode
	return c
}

// GetJSON performs an HTTP GET and decodes the JSON response into v.
func (c *Client) GetJSON(ctx context.Context, rawURL string, v any) error {
	return c.do(ctx, http.MethodGet, rawURL, nil, v)
}

// PostJSON performs an HTTP POST with a JSON-encoded body and decodes the
// JSON response into v.
func (c *Client) PostJSON(ctx context.Context, rawURL string, body any, v any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInvalidInput, err, "encoding request body for %s", rawURL)
	}
	return c.do(ctx, http.MethodPost, rawURL, payload, v)
}

func (c *Client) do(ctx context.Context, method, rawURL string, body []byte, v any) error {
	key := fixtureKey(method, rawURL, body)

	if c.mode == ModeReplay {
		var raw json.RawMessage
		ok, err := c.fixtures.Get(key, &raw)
		if err != nil {
			return err
		}
		if !ok {
			return errors.New(errors.ErrCodeTerminalCollaborator, "no recorded response for %s %s", method, rawURL)
		}
		return json.Unmarshal(raw, v)
	}

	raw, err := c.fetch(ctx, method, rawURL, body)
	if err != nil {
		return err
	}
	if c.mode == ModeRecord {
		if err := c.fixtures.Put(key, json.RawMessage(raw)); err != nil {
			return err
		}
	}
	return json.Unmarshal(raw, v)
}

func (c *Client) fetch(ctx context.Context, method, rawURL string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidInput, err, "building request for %s", rawURL)
	}
	for k, val := range c.headers {
		req.Header.Set(k, val)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	host, path := req.URL.Host, req.URL.Path
	observability.HTTP().OnRequest(ctx, method, host, path)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		observability.HTTP().OnError(ctx, method, host, path, err)
		return nil, classifyTransport(err, rawURL)
	}
	defer resp.Body.Close()
	observability.HTTP().OnResponse(ctx, method, host, path, resp.StatusCode, time.Since(start))

	if err := checkStatus(resp, rawURL); err != nil {
		return nil, err
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeNetwork, err, "reading response from %s", rawURL)
	}
	return raw, nil
}

// classifyTransport maps transport-level failures onto the error taxonomy:
// deadline hits become timeouts, everything else a network error. Both are
// transient, so the retry policy will attempt them again.
func classifyTransport(err error, rawURL string) error {
	var uerr *url.Error
	if stderrors.As(err, &uerr) && uerr.Timeout() {
		return errors.Wrap(errors.ErrCodeTimeout, err, "request to %s timed out", rawURL)
	}
	return errors.Wrap(errors.ErrCodeNetwork, err, "request to %s failed", rawURL)
}

// checkStatus maps HTTP status codes onto the error taxonomy. 404 is a
// terminal not-found, 429 and 5xx are transient, 401/403 are terminal
// unless the forge signals rate-limit exhaustion.
func checkStatus(resp *http.Response, rawURL string) error {
	code := resp.StatusCode
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound:
		return errors.New(errors.ErrCodeNotFound, "%s returned 404", rawURL)
	case code == http.StatusTooManyRequests:
		return errors.New(errors.ErrCodeRateLimited, "%s returned 429", rawURL)
	case code == http.StatusUnauthorized:
		return errors.New(errors.ErrCodeUnauthorized, "%s returned 401", rawURL)
	case code == http.StatusForbidden:
		// GitHub reports secondary rate limits as 403 with a drained quota.
		if resp.Header.Get("X-RateLimit-Remaining") == "0" {
			return errors.New(errors.ErrCodeRateLimited, "%s rate limit exhausted", rawURL)
		}
		return errors.New(errors.ErrCodeUnauthorized, "%s returned 403", rawURL)
	case code >= 500:
		return errors.New(errors.ErrCodeTransientCollaborator, "%s returned %d", rawURL, code)
	default:
		return errors.New(errors.ErrCodeTerminalCollaborator, "%s returned %d", rawURL, code)
	}
}

// fixtureKey identifies a request in the fixture set. POST bodies are
// folded in as a digest so distinct batch requests record separately.
func fixtureKey(method, rawURL string, body []byte) string {
	key := method + " " + rawURL
	if len(body) > 0 {
		sum := sha256.Sum256(body)
		key += "#" + hex.EncodeToString(sum[:8])
	}
	return key
}

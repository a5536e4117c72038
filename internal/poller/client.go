package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/JakeFAU/places-search/internal/search"
)

const maxErrorBody = 512

// ClientConfig points the API client at a placesearch server.
type ClientConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client reads job snapshots over the HTTP API.
type Client struct {
	base   *url.URL
	apiKey string
	http   *http.Client
}

// NewClient validates cfg and builds a Client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("api base url is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse api base url: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{base: base, apiKey: cfg.APIKey, http: &http.Client{Timeout: cfg.Timeout}}, nil
}

// ListForOwner fetches the owner's jobs, newest first.
func (c *Client) ListForOwner(ctx context.Context, owner string) ([]search.Job, error) {
	var out struct {
		Jobs []search.Job `json:"jobs"`
	}
	if err := c.get(ctx, "/v1/jobs", url.Values{"owner": {owner}}, &out); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	if out.Jobs == nil {
		out.Jobs = []search.Job{}
	}
	return out.Jobs, nil
}

// GetJob fetches one job; search.ErrNotFound on 404.
func (c *Client) GetJob(ctx context.Context, jobID string) (search.Job, error) {
	var out struct {
		Job search.Job `json:"job"`
	}
	if err := c.get(ctx, "/v1/jobs/"+url.PathEscape(jobID), nil, &out); err != nil {
		return search.Job{}, fmt.Errorf("get job %s: %w", jobID, err)
	}
	return out.Job, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, dst any) error {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawQuery = query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return search.ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("api returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

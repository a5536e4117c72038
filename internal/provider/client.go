// Package provider implements the JSON-over-HTTP adapter for the external
// places-search provider.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/JakeFAU/places-search/internal/search"
	"github.com/JakeFAU/places-search/internal/telemetry"
)

const maxErrorBody = 512

// Waiter throttles outbound requests; ratelimit.Limiter satisfies it.
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Config controls the provider client.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// StatusError is returned for non-2xx provider responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider returned status %d: %s", e.StatusCode, e.Body)
}

// Client calls the provider's places endpoint.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter Waiter
	logger  *zap.Logger
}

// New constructs a Client. limiter may be nil.
func New(cfg Config, limiter Waiter, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("provider base url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: limiter,
		logger:  logger,
	}, nil
}

type requestBody struct {
	Query string `json:"q"`
	Num   int    `json:"num,omitempty"`
	Page  int    `json:"page"`
}

// Search fetches one page. An absent places array decodes as an empty page.
func (c *Client) Search(ctx context.Context, req search.PageRequest) (search.PageResponse, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "provider.Search")
	defer span.End()
	span.SetAttributes(
		attribute.String("search_text", req.SearchText),
		attribute.Int("page", req.PageNumber),
	)

	start := time.Now()
	resp, err := c.do(ctx, req)
	switch {
	case err != nil:
		telemetry.ObserveProviderRequest("error", time.Since(start))
		span.RecordError(err)
	case len(resp.Places) == 0:
		telemetry.ObserveProviderRequest("empty", time.Since(start))
	default:
		telemetry.ObserveProviderRequest("ok", time.Since(start))
	}
	return resp, err
}

func (c *Client) do(ctx context.Context, req search.PageRequest) (search.PageResponse, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, c.cfg.BaseURL); err != nil {
			return search.PageResponse{}, err
		}
	}
	payload, err := json.Marshal(requestBody{
		Query: req.SearchText,
		Num:   req.PageSize,
		Page:  req.PageNumber,
	})
	if err != nil {
		return search.PageResponse{}, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(payload))
	if err != nil {
		return search.PageResponse{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("X-API-KEY", c.cfg.APIKey)
	}

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return search.PageResponse{}, fmt.Errorf("provider request: %w", err)
	}
	defer func() {
		if cerr := httpResp.Body.Close(); cerr != nil {
			c.logger.Debug("close provider response body", zap.Error(cerr))
		}
	}()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(httpResp.Body, maxErrorBody))
		return search.PageResponse{}, &StatusError{StatusCode: httpResp.StatusCode, Body: string(body)}
	}

	var out search.PageResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&out); err != nil {
		return search.PageResponse{}, fmt.Errorf("decode provider response: %w", err)
	}
	return out, nil
}

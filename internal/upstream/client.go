// Package upstream provides the authenticated, rate-limited HTTP client
// pull-mode listings run through, classifying platform responses into the
// ingestion error taxonomy.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/OrgLoop/orgloop-sub001/internal/ingest"
)

// Config holds upstream client configuration.
type Config struct {
	BaseURL string
	// Token, when set, is sent as an OAuth2 bearer token.
	Token string
	// RequestsPerSecond caps the outbound request rate. Zero means
	// unlimited.
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
}

// Client wraps http.Client with bearer auth, client-side rate limiting,
// and taxonomy-aware status handling.
type Client struct {
	http    *http.Client
	base    string
	limiter *rate.Limiter
}

// New creates an upstream client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("base URL: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	httpClient := &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	if cfg.Token != "" {
		src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
		httpClient.Transport = &oauth2.Transport{Source: src, Base: httpClient.Transport}
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &Client{http: httpClient, base: cfg.BaseURL, limiter: limiter}, nil
}

// GetJSON fetches base+path and decodes the response body into out.
// 401/403 map to UpstreamAuthError and 429 to UpstreamRateLimitError so
// the diff engine can hold its checkpoint; other non-2xx statuses are
// plain errors and propagate.
func (c *Client) GetJSON(ctx context.Context, path string, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("upstream request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		_, _ = io.Copy(io.Discard, resp.Body)
		return &ingest.UpstreamAuthError{Status: resp.StatusCode}
	case resp.StatusCode == http.StatusTooManyRequests:
		_, _ = io.Copy(io.Discard, resp.Body)
		return &ingest.UpstreamRateLimitError{RetryAfter: retryAfter(resp.Header)}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("upstream status %d for %s", resp.StatusCode, path)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode upstream response: %w", err)
	}
	return nil
}

func retryAfter(h http.Header) time.Duration {
	if v := h.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 0
}

// EntityLister lists entities from a JSON array endpoint, adapting it to
// the diff engine's Lister contract.
type EntityLister struct {
	client  *Client
	path    string
	idField string
}

// NewEntityLister creates a lister for the given endpoint. idField names
// the stable identifier inside each listed object (default "id").
func NewEntityLister(client *Client, path, idField string) *EntityLister {
	if idField == "" {
		idField = "id"
	}
	return &EntityLister{client: client, path: path, idField: idField}
}

// List performs one full listing. Objects without the id field are
// skipped; an unusable listing is the upstream's defect, not a crash.
func (l *EntityLister) List(ctx context.Context) ([]ingest.Entity, error) {
	var raw []map[string]any
	if err := l.client.GetJSON(ctx, l.path, &raw); err != nil {
		return nil, err
	}

	entities := make([]ingest.Entity, 0, len(raw))
	for _, obj := range raw {
		id, ok := obj[l.idField]
		if !ok || id == nil {
			continue
		}
		entities = append(entities, ingest.Entity{
			ID:     fmt.Sprintf("%v", id),
			Fields: obj,
		})
	}
	return entities, nil
}

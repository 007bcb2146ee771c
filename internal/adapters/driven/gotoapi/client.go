// Package gotoapi is a thin bearer-token client for the GoTo resource APIs.
package gotoapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/custodia-labs/callbridge/internal/core/domain"
	"github.com/custodia-labs/callbridge/internal/core/ports/driven"
)

// Ensure Client implements the interface.
var _ driven.ProviderAPI = (*Client)(nil)

const (
	defaultTimeout    = 15 * time.Second
	defaultMaxRetries = 2
	maxResponseBody   = 1 << 20
	maxRetryAfter     = 30 * time.Second
)

// Config holds client settings.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	Clock      clockwork.Clock
}

// Client performs GET requests against the GoTo API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	maxRetries int
	clock      clockwork.Clock
}

// NewClient creates a new GoTo API client.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = domain.GoToAPIBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	} else if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		maxRetries: cfg.MaxRetries,
		clock:      cfg.Clock,
	}
}

// Get fetches path with the bearer token and returns the response body.
// path is relative to the base URL unless it is an absolute http(s) URL.
// 429 and 5xx responses are retried; other non-2xx statuses are returned
// as *domain.ResourceError.
func (c *Client) Get(ctx context.Context, accessToken, path string, query url.Values) ([]byte, error) {
	target := path
	if !strings.HasPrefix(path, "https://") && !strings.HasPrefix(path, "http://") {
		target = c.baseURL + path
	}
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	for attempt := 0; ; attempt++ {
		status, body, retryAfter, err := c.do(ctx, accessToken, target)
		if err != nil {
			return nil, err
		}
		if status >= 200 && status < 300 {
			return body, nil
		}

		retryable := status == http.StatusTooManyRequests || status >= 500
		if !retryable || attempt >= c.maxRetries {
			return nil, &domain.ResourceError{Status: status, Path: path}
		}

		wait := time.Duration(attempt+1) * time.Second
		if retryAfter > 0 {
			wait = retryAfter
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.clock.After(wait):
		}
	}
}

func (c *Client) do(ctx context.Context, accessToken, target string) (int, []byte, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return 0, nil, 0, err
		}
		return 0, nil, 0, fmt.Errorf("%w: %w", domain.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return 0, nil, 0, fmt.Errorf("%w: read response: %w", domain.ErrProviderUnavailable, err)
	}
	return resp.StatusCode, body, parseRetryAfter(resp.Header.Get("Retry-After")), nil
}

// parseRetryAfter reads a delay-seconds Retry-After value, capped.
func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	d := time.Duration(secs) * time.Second
	if d > maxRetryAfter {
		return maxRetryAfter
	}
	return d
}

package shopify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/custodia-labs/bisync/internal/connectors/rest"
	"github.com/custodia-labs/bisync/internal/core/domain"
)

const (
	// HeaderAccessToken carries the Admin API token.
	HeaderAccessToken = "X-Shopify-Access-Token"

	// MaxRetries is the maximum number of retries for a page read.
	MaxRetries = 3

	// RetryDelay is the initial delay between page read retries.
	RetryDelay = time.Second
)

// tokenTransport adds the access token header to every request.
type tokenTransport struct {
	token string
	base  http.RoundTripper
}

func (t *tokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.Header.Set(HeaderAccessToken, t.token)
	r.Header.Set("Accept", "application/json")
	if r.Body != nil {
		r.Header.Set("Content-Type", "application/json")
	}
	return t.base.RoundTrip(r)
}

func (t *tokenTransport) CloseIdleConnections() {
	if ci, ok := t.base.(interface{ CloseIdleConnections() }); ok {
		ci.CloseIdleConnections()
	}
}

// Client handles Admin REST API communication with rate limiting.
type Client struct {
	http       *http.Client
	baseURL    string
	store      string
	limiter    *RateLimiter
	retryDelay time.Duration
}

// NewClient creates a client for cfg. A nil httpClient uses a default
// client with rest.DefaultTimeout.
func NewClient(cfg *Config, httpClient *http.Client) *Client {
	base := http.DefaultTransport
	timeout := rest.DefaultTimeout
	if httpClient != nil {
		if httpClient.Transport != nil {
			base = httpClient.Transport
		}
		timeout = httpClient.Timeout
	}
	return &Client{
		http: &http.Client{
			Transport: &tokenTransport{token: cfg.Token, base: base},
			Timeout:   timeout,
		},
		baseURL:    cfg.BaseURL,
		store:      cfg.Name,
		limiter:    NewRateLimiter(cfg.CallsPerMinute),
		retryDelay: RetryDelay,
	}
}

// RateLimiter returns the read rate limiter.
func (c *Client) RateLimiter() *RateLimiter {
	return c.limiter
}

// url builds an absolute API URL for a path such as "products.json".
func (c *Client) url(path string, q url.Values) string {
	u := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

// Do performs one request. Non-2xx responses become *domain.RemoteError;
// network failures become retryable transport errors.
func (c *Client) Do(ctx context.Context, method, rawURL string, body, out any) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	reader, err := rest.EncodeJSON(body)
	if err != nil {
		return nil, fmt.Errorf("encoding %s body: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, domain.NewTransportError(c.store, err)
	}
	defer resp.Body.Close()

	c.limiter.UpdateFromResponse(resp)

	if resp.StatusCode >= 400 {
		re := rest.ErrorFromResponse(c.store, resp)
		if re.RetryAfter > 0 {
			c.limiter.Pause(re.RetryAfter)
		}
		return resp, re
	}

	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := rest.DecodeJSON(resp.Body, out); err != nil {
			return resp, fmt.Errorf("decoding %s %s response: %w", method, req.URL.Path, err)
		}
	}
	return resp, nil
}

// getPage fetches one page, retrying retryable failures, and returns the
// next page URL from the Link header.
func (c *Client) getPage(ctx context.Context, rawURL string, out any) (string, error) {
	var next string
	err := rest.Retry(ctx, MaxRetries, c.retryDelay, func() error {
		resp, err := c.Do(ctx, http.MethodGet, rawURL, nil, out)
		if err != nil {
			return err
		}
		next = rest.ParseNextLink(resp.Header.Get("Link"))
		return nil
	})
	return next, err
}

package grist

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"

	"github.com/custodia-labs/bisync/internal/connectors/rest"
	"github.com/custodia-labs/bisync/internal/core/domain"
)

const (
	// MaxRetries is the maximum number of retries for a read.
	MaxRetries = 3

	// RetryDelay is the initial delay between read retries.
	RetryDelay = time.Second
)

// Client handles Grist REST API communication. The API key is sent as a
// bearer token.
type Client struct {
	http       *http.Client
	docURL     string
	store      string
	limiter    *rest.Limiter
	retryDelay time.Duration
}

// NewClient creates a client for cfg. A nil httpClient uses
// http.DefaultClient as the base transport.
func NewClient(ctx context.Context, cfg *Config, httpClient *http.Client) *Client {
	if httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.APIKey, TokenType: "Bearer"})
	hc := oauth2.NewClient(ctx, ts)
	hc.Timeout = rest.DefaultTimeout

	return &Client{
		http:       hc,
		docURL:     cfg.BaseURL + "/api/docs/" + url.PathEscape(cfg.DocID),
		store:      cfg.Name,
		limiter:    rest.NewLimiter(cfg.CallsPerMinute),
		retryDelay: RetryDelay,
	}
}

// tableURL builds a table endpoint URL, e.g. tableURL("Products", "records", nil).
func (c *Client) tableURL(table, endpoint string, q url.Values) string {
	u := c.docURL + "/tables/" + url.PathEscape(table) + "/" + endpoint
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

// Do performs one request. Non-2xx responses become *domain.RemoteError;
// network failures become retryable transport errors.
func (c *Client) Do(ctx context.Context, method, rawURL string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	reader, err := rest.EncodeJSON(body)
	if err != nil {
		return fmt.Errorf("encoding %s body: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return domain.NewTransportError(c.store, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		re := rest.ErrorFromResponse(c.store, resp)
		if re.RetryAfter > 0 {
			c.limiter.Pause(re.RetryAfter)
		}
		return re
	}

	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := rest.DecodeJSON(resp.Body, out); err != nil {
			return fmt.Errorf("decoding %s %s response: %w", method, req.URL.Path, err)
		}
	}
	return nil
}

// get performs a GET, retrying retryable failures.
func (c *Client) get(ctx context.Context, rawURL string, out any) error {
	return rest.Retry(ctx, MaxRetries, c.retryDelay, func() error {
		return c.Do(ctx, http.MethodGet, rawURL, nil, out)
	})
}

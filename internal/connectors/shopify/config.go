package shopify

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/custodia-labs/bisync/internal/core/domain"
)

const (
	// DefaultAPIVersion is the Admin REST API version used when none is configured.
	DefaultAPIVersion = "2024-10"

	// MaxPageSize is the largest page the Admin REST API returns.
	MaxPageSize = 250

	// DefaultCallsPerMinute matches the standard plan's 2 requests per second.
	DefaultCallsPerMinute = 120
)

// Config holds the parsed configuration for a Shopify store.
type Config struct {
	// Name is the store name used in reports and rate limits.
	Name string

	// ShopDomain is the myshopify.com domain, e.g. "acme.myshopify.com".
	ShopDomain string

	// Token is the Admin API access token.
	Token string

	// APIVersion is the Admin API version segment.
	APIVersion string

	// BaseURL overrides the API root. Derived from ShopDomain when empty.
	BaseURL string

	// PageSize is the number of records requested per page.
	PageSize int

	// CallsPerMinute is the documented call budget.
	CallsPerMinute int
}

// ParseConfig parses a store's settings map into a Config.
//
// Recognised settings: shop_domain, token, api_version, base_url,
// page_size, calls_per_minute.
func ParseConfig(sc domain.StoreConfig) (*Config, error) {
	cfg := &Config{
		Name:           sc.Name,
		ShopDomain:     strings.TrimSpace(sc.Settings["shop_domain"]),
		Token:          sc.Settings["token"],
		APIVersion:     sc.Settings["api_version"],
		BaseURL:        strings.TrimRight(sc.Settings["base_url"], "/"),
		PageSize:       MaxPageSize,
		CallsPerMinute: DefaultCallsPerMinute,
	}
	if cfg.Name == "" {
		cfg.Name = "shopify"
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}

	if cfg.Token == "" {
		return nil, fmt.Errorf("%w: shopify token is required (settings.token or BISYNC_SHOPIFY_TOKEN)", domain.ErrInvalidInput)
	}
	if cfg.BaseURL == "" {
		if cfg.ShopDomain == "" {
			return nil, fmt.Errorf("%w: shopify shop_domain is required", domain.ErrInvalidInput)
		}
		domainName := strings.TrimPrefix(strings.TrimPrefix(cfg.ShopDomain, "https://"), "http://")
		cfg.BaseURL = fmt.Sprintf("https://%s/admin/api/%s", strings.TrimRight(domainName, "/"), cfg.APIVersion)
	}

	if v := sc.Settings["page_size"]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > MaxPageSize {
			return nil, fmt.Errorf("%w: shopify page_size must be 1-%d, got %q", domain.ErrInvalidInput, MaxPageSize, v)
		}
		cfg.PageSize = n
	}
	if v := sc.Settings["calls_per_minute"]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("%w: shopify calls_per_minute must be positive, got %q", domain.ErrInvalidInput, v)
		}
		cfg.CallsPerMinute = n
	}

	return cfg, nil
}

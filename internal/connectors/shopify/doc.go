// Package shopify implements a store adapter for the Shopify Admin REST API.
//
// # Architecture
//
// The adapter follows the driven port pattern defined in [driven.StoreAdapter]
// and also implements [driven.Archiver], [driven.Deleter] and
// [driven.SchemaProvider]. It comprises:
//
//   - Store: maps entity operations onto REST resources
//   - Client: handles API communication, retries and rate limiting
//   - Config: parses and validates store settings
//   - RateLimiter: paces calls against the Shopify leaky bucket
//
// # Authentication
//
// Requests carry a custom app's Admin API access token in the
// X-Shopify-Access-Token header. The token is read from settings.token or
// the BISYNC_SHOPIFY_TOKEN environment variable.
//
// # Configuration
//
//   - shop_domain: the myshopify.com domain (required unless base_url is set)
//   - token: Admin API access token (required)
//   - api_version: Admin API version. Default: 2024-10
//   - base_url: API root override, mainly for tests
//   - page_size: records per page, 1-250. Default: 250
//   - calls_per_minute: call budget. Default: 120
//
// # Entities
//
//   - product: /products, archivable through status "archived"
//   - variant: read through /products, written under /products/{id}/variants
//   - order: /orders with status=any
//   - customer: /customers
//   - collection: /custom_collections
//
// # Rate Limiting
//
// Two strategies are combined:
//
//  1. Proactive throttling: a token bucket limits requests to the
//     configured calls per minute.
//
//  2. Reactive handling: the X-Shopify-Shop-Api-Call-Limit header reports
//     bucket usage. When fewer than MinBuffer slots remain, requests wait
//     for the bucket to drain. A 429 with Retry-After pauses every request.
//
// # Pagination
//
// List follows the cursor-based Link header (rel="next"). Incremental
// listings pass updated_at_min.
//
// # Error Handling
//
// Non-2xx responses become [domain.RemoteError]. Page reads retry
// retryable failures up to MaxRetries times; writes are retried by the
// engine's executor.
package shopify

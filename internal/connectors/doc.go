// Package connectors wires the store adapters into a driven.StoreFactory.
//
// Each subpackage implements driven.StoreAdapter for one backend:
//   - shopify: Shopify Admin REST API (source side)
//   - grist: Grist document tables
//   - sheets: Google Sheets via the Sheets v4 API
//   - rest: shared HTTP plumbing, error classification and call pacing
//
// The "memory" type is backed by the in-memory record store.
package connectors

// Package grist implements a store adapter for Grist documents.
//
// Each entity maps to one table of a document. Rows are addressed by
// Grist's integer row ID; column IDs are the native field names used in
// target paths.
//
// # Configuration
//
//   - doc_id: document ID (required)
//   - api_key: API key (required, or BISYNC_GRIST_API_KEY)
//   - base_url: server root. Default: https://docs.getgrist.com
//   - table_<entity>: table ID, e.g. table_product = "Products"
//   - archive_column: boolean column set on archive; archiving is
//     unsupported without it
//   - modified_column: DateTime column read as the modification time
//   - batch_size: rows per write call, 1-500. Default: 100
//   - calls_per_minute: call budget. Default: 300
//
// Writes are batched through [driven.BatchWriter]; after each write the
// rows are read back so the engine snapshots stored values.
package grist

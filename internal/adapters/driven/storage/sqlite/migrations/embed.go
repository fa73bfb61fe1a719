// Package migrations embeds the schema of the sync state database.
package migrations

import "embed"

// FS holds the numbered up/down migrations, applied in name order.
//
//go:embed *.sql
var FS embed.FS

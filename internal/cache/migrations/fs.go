// Package migrations embeds the sqlite cache schema.
package migrations

import "embed"

// FS holds the cache store schema files, applied in filename order.
//
//go:embed *.sql
var FS embed.FS

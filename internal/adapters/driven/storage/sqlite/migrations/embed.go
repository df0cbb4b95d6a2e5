// Package migrations holds the SQLite schema, applied in version order by
// the store on open.
package migrations

import "embed"

// Files are the numbered up and down scripts.
//
//go:embed *.sql
var Files embed.FS

// Package migrations embeds the PostgreSQL schema.
package migrations

import "embed"

// Files holds the numbered *.up.sql files. The token {{dimensions}} is
// replaced with the configured embedding width before execution.
//
//go:embed *.sql
var Files embed.FS

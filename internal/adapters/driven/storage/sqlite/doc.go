// Package sqlite provides the SQLite implementation of driven.Store.
//
// This adapter uses modernc.org/sqlite, a pure Go SQLite implementation that requires
// no CGO, enabling easy cross-compilation. One database file holds:
//
//   - Sources and connector definitions
//   - Ingestion jobs and their logs
//   - Documents, versions and chunks (embeddings as little-endian float32 blobs)
//   - chunks_fts: an FTS5 table used for bm25 lexical ranking
//
// # Tenant Isolation
//
// Every statement goes through scope, which binds the tenant as parameter
// ?1 and refuses statements that do not reference it. SQLite has no
// row-level security, so this is the only barrier and it fails closed.
//
// # Schema
//
// The database schema is managed through versioned migrations stored in the
// migrations/ directory. Each migration is a pair of .up.sql and .down.sql files.
//
// # Thread Safety
//
// All operations are safe for concurrent use. Write transactions take the
// database lock immediately (_txlock=immediate) and wait on busy_timeout.
package sqlite

// Package postgres implements driven.Store on PostgreSQL with pgvector.
//
// Every call runs in a transaction that sets app.tenant_id, and every
// table carries a row-level security policy on that setting. Statements
// are also required to bind the tenant as $1, so a missing filter fails
// before it reaches the server.
//
// Vector search uses the <=> cosine operator over an HNSW index. Hybrid
// queries add a ts_rank_cd ranking over a generated tsvector column and
// fuse both lists with reciprocal rank fusion.
package postgres

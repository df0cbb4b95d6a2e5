// Package domain holds the entities shared by every layer of sercha-ingest
// and the error taxonomy the pipeline classifies failures with.
//
// Every persisted entity carries a TenantID. A Source is one ingestible
// origin; a Job is one attempt at ingesting it. Each item a connector
// yields becomes a Document whose content lives in immutable
// DocumentVersions, and only the promoted version's Chunks are visible
// to retrieval.
//
// The package imports nothing outside the standard library. Ports,
// services and adapters depend on it, never the reverse.
package domain

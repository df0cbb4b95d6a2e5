// Package driven defines the interfaces that core calls OUT to infrastructure.
//
// These are the "driven" or "secondary" ports in hexagonal architecture.
// Core services depend on these interfaces, and infrastructure adapters
// implement them.
//
// # Required Interfaces
//
//   - Store: Tenant-scoped persistence for sources, jobs, versions and chunks
//   - Connector: Fetches raw items from a Source
//   - ConnectorFactory: Creates connectors from a Source
//   - Processor: Extracts plain text from raw items
//   - ProcessorRegistry: Selects a Processor by content type
//   - EmbeddingModel: The shared, long-lived embedding model handle
//
// # Optional Interfaces
//
//   - SecretResolver / Sealer: Connector credentials
//   - Transcriber: Audio to text for the transcription connector
//   - AnswerGenerator: Consumes assembled retrieval context
package driven

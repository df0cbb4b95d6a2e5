// Package fetch holds the transport helpers shared by network and
// database connectors: bounded retry with exponential backoff, HTTP status
// classification, client-side rate limiting and content type detection.
package fetch

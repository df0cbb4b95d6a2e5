// Package mcp exposes retrieval and job control for one tenant over the
// Model Context Protocol.
package mcp

import "errors"

// Errors returned by Ports.Validate.
var (
	ErrMissingRetrievalService = errors.New("mcp: retrieval service is required")
	ErrMissingJobService       = errors.New("mcp: job service is required")
)

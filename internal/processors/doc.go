// Package processors converts raw connector items into plain text.
//
// Each subpackage handles one family of content types and implements
// driven.Processor. The Registry picks the highest priority processor
// claiming a content type; plaintext is the catch-all.
//
// Processors do not chunk. Chunking is handled by the chunker in
// internal/postprocessors.
package processors

// Package secrets resolves connector credentials.
//
// Resolver handles credentials references of the form "env:NAME" and
// "file:/path". Sealer encrypts credentials stored on connector
// definitions with NaCl secretbox under a process-wide key.
package secrets

// Package connectors provides implementations of the Connector interface
// for the supported source kinds. Each subpackage knows how to fetch raw
// items from one kind of origin (a directory, a URL list, a SQL query, a
// JSON API, a folder of audio files).
//
// This package holds the helpers they share. Builders are registered
// with the ConnectorFactory at startup.
package connectors

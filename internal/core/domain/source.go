package domain

import "time"

// Source represents one ingestible origin for a tenant.
// Sources are created on first reference by a job submission and are
// soft-deleted only.
type Source struct {
	// ID is the unique identifier for the source.
	ID string

	// TenantID owns the source.
	TenantID TenantID

	// Kind identifies the connector variant.
	Kind ConnectorKind

	// Location is the directory, URL list, query target or endpoint.
	// Unique per tenant.
	Location string

	// DefinitionID optionally references a ConnectorDefinition.
	DefinitionID string

	// Params contains connector-specific configuration.
	Params map[string]string

	// Active is false while the source is paused.
	Active bool

	// SyncState is an opaque connector cursor.
	SyncState string

	// DeletedAt is set when the source is soft-deleted.
	DeletedAt *time.Time

	// CreatedAt is when the source was created.
	CreatedAt time.Time

	// UpdatedAt is when the source was last updated.
	UpdatedAt time.Time
}

// IsDeleted reports whether the source has been soft-deleted.
func (s *Source) IsDeleted() bool {
	return s.DeletedAt != nil
}

// SourceSpec describes a source for GetOrCreateSource.
type SourceSpec struct {
	Kind         ConnectorKind
	Location     string
	DefinitionID string
	Params       map[string]string
}

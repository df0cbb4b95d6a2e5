package domain

import (
	"fmt"
	"time"
)

// ConnectorKind identifies which connector variant fetches a Source.
// The kind is fixed when the Source is created.
type ConnectorKind string

// Supported connector kinds.
const (
	ConnectorLocalDir      ConnectorKind = "localdir"
	ConnectorURLList       ConnectorKind = "urllist"
	ConnectorDatabase      ConnectorKind = "database"
	ConnectorRestAPI       ConnectorKind = "restapi"
	ConnectorTranscription ConnectorKind = "transcription"
)

// ConnectorKinds lists every kind in display order.
func ConnectorKinds() []ConnectorKind {
	return []ConnectorKind{
		ConnectorLocalDir,
		ConnectorURLList,
		ConnectorDatabase,
		ConnectorRestAPI,
		ConnectorTranscription,
	}
}

// ParseConnectorKind validates a user supplied kind.
func ParseConnectorKind(s string) (ConnectorKind, error) {
	for _, k := range ConnectorKinds() {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: connector kind %q", ErrUnsupportedType, s)
}

// ConnectorDefinition is a reusable, named connector configuration.
// Many Sources may reference one definition. Secrets are never stored in
// Params: either CredentialsRef points at an external secret, or
// SealedCredentials holds an encrypted blob opened by a Sealer.
type ConnectorDefinition struct {
	ID       string
	TenantID TenantID

	// Name is unique per tenant.
	Name string

	Kind ConnectorKind

	// Params are merged under the Source's own params at fetch time.
	Params map[string]string

	// CredentialsRef is a resolver reference such as "env:PG_DSN".
	CredentialsRef string

	// SealedCredentials is ciphertext produced by a Sealer.
	SealedCredentials []byte

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasCredentials reports whether the definition carries any credentials.
func (d *ConnectorDefinition) HasCredentials() bool {
	return d.CredentialsRef != "" || len(d.SealedCredentials) > 0
}

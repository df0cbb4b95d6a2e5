package driven

import "context"

// SecretResolver resolves a credentials reference such as "env:PG_DSN"
// or "file:/run/secrets/token".
type SecretResolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

// Sealer encrypts and decrypts credentials stored on ConnectorDefinitions.
type Sealer interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(sealed []byte) ([]byte, error)
}

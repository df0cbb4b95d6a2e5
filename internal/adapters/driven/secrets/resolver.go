package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
)

// Ensure Resolver implements the interface.
var _ driven.SecretResolver = (*Resolver)(nil)

// Resolver resolves env: and file: references.
type Resolver struct {
	lookupEnv func(string) (string, bool)
	readFile  func(string) ([]byte, error)
}

// NewResolver creates a Resolver backed by the process environment and
// filesystem.
func NewResolver() *Resolver {
	return &Resolver{lookupEnv: os.LookupEnv, readFile: os.ReadFile}
}

// Resolve returns the secret a reference points to. Trailing newlines of
// file secrets are trimmed.
func (r *Resolver) Resolve(_ context.Context, ref string) (string, error) {
	scheme, target, ok := strings.Cut(strings.TrimSpace(ref), ":")
	if !ok || target == "" {
		return "", fmt.Errorf("%w: credentials reference %q", domain.ErrInvalidInput, ref)
	}

	switch scheme {
	case "env":
		v, ok := r.lookupEnv(target)
		if !ok || v == "" {
			return "", fmt.Errorf("env %s: %w", target, domain.ErrCredentialsUnavailable)
		}
		return v, nil
	case "file":
		data, err := r.readFile(target)
		if err != nil {
			return "", fmt.Errorf("file %s: %w: %w", target, domain.ErrCredentialsUnavailable, err)
		}
		return strings.TrimRight(string(data), "\r\n"), nil
	default:
		return "", fmt.Errorf("%w: credentials scheme %q", domain.ErrUnsupportedType, scheme)
	}
}

package services

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/custodia-labs/sercha-ingest/internal/connectors/database"
	"github.com/custodia-labs/sercha-ingest/internal/connectors/localdir"
	"github.com/custodia-labs/sercha-ingest/internal/connectors/restapi"
	"github.com/custodia-labs/sercha-ingest/internal/connectors/transcription"
	"github.com/custodia-labs/sercha-ingest/internal/connectors/urllist"
	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
)

// Ensure ConnectorRegistry implements the interface.
var _ driven.ConnectorFactory = (*ConnectorRegistry)(nil)

// ConnectorParam describes one parameter a connector kind understands.
type ConnectorParam struct {
	Key         string
	Description string
	Default     string
	Required    bool
}

// ConnectorInfo describes a connector kind.
type ConnectorInfo struct {
	Kind        domain.ConnectorKind
	Description string
	Location    string
	Params      []ConnectorParam
	// Credentials reports whether the kind reads a secret.
	Credentials bool
}

// connectorCatalogue documents the built-in connector kinds.
var connectorCatalogue = map[domain.ConnectorKind]ConnectorInfo{
	domain.ConnectorLocalDir: {
		Kind:        domain.ConnectorLocalDir,
		Description: "Files under a local directory",
		Location:    "directory path",
		Params: []ConnectorParam{
			{Key: "patterns", Description: "Glob patterns to include (e.g. *.md,*.pdf)"},
			{Key: "include_hidden", Description: "Walk dot files and directories", Default: "false"},
			{Key: "max_file_size", Description: "Skip files larger than this many bytes", Default: "67108864"},
		},
	},
	domain.ConnectorURLList: {
		Kind:        domain.ConnectorURLList,
		Description: "A fixed list of web pages or files",
		Location:    "comma or newline separated URLs",
		Params: []ConnectorParam{
			{Key: "urls", Description: "Additional URLs"},
			{Key: "requests_per_second", Description: "Client-side rate limit", Default: "2"},
			{Key: "max_attempts", Description: "Attempts per URL including the first", Default: "4"},
			{Key: "timeout_seconds", Description: "Per request timeout", Default: "30"},
		},
		Credentials: true,
	},
	domain.ConnectorDatabase: {
		Kind:        domain.ConnectorDatabase,
		Description: "Rows returned by one SQL query",
		Location:    "a name for the query target (sqlite: the database file)",
		Params: []ConnectorParam{
			{Key: "driver", Description: "sqlite, postgres or mysql", Default: "sqlite"},
			{Key: "query", Description: "SELECT statement to run", Required: true},
			{Key: "key_column", Description: "Column holding the natural key", Default: "first column"},
			{Key: "title_column", Description: "Column used as the document title"},
		},
		Credentials: true,
	},
	domain.ConnectorRestAPI: {
		Kind:        domain.ConnectorRestAPI,
		Description: "Elements of a paginated JSON endpoint",
		Location:    "URL of the first page",
		Params: []ConnectorParam{
			{Key: "items_path", Description: "Dot path of the item array"},
			{Key: "id_field", Description: "Dot path of each item's id", Default: "id"},
			{Key: "title_field", Description: "Dot path of each item's title"},
			{Key: "next_field", Description: "Dot path of the next page URL"},
			{Key: "max_pages", Description: "Pagination limit", Default: "100"},
		},
		Credentials: true,
	},
	domain.ConnectorTranscription: {
		Kind:        domain.ConnectorTranscription,
		Description: "Transcripts of audio recordings under a directory",
		Location:    "directory path",
		Params: []ConnectorParam{
			{Key: "patterns", Description: "Audio file patterns", Default: "*.mp3,*.wav,*.m4a,*.ogg,*.flac,*.webm,*.mp4"},
			{Key: "max_file_size", Description: "Skip recordings larger than this many bytes", Default: "26214400"},
		},
	},
}

// ConnectorRegistry builds connectors for sources. It merges the params of
// a source's connector definition under the source's own params and
// resolves the definition's credentials before calling the builder.
type ConnectorRegistry struct {
	definitions driven.DefinitionStore
	resolver    driven.SecretResolver
	sealer      driven.Sealer

	mu       sync.RWMutex
	builders map[domain.ConnectorKind]driven.ConnectorBuilder
	defaults map[string]string
}

// NewConnectorRegistry creates an empty registry. resolver and sealer may
// be nil, in which case definitions that need them fail with
// domain.ErrCredentialsUnavailable.
func NewConnectorRegistry(
	definitions driven.DefinitionStore,
	resolver driven.SecretResolver,
	sealer driven.Sealer,
) *ConnectorRegistry {
	return &ConnectorRegistry{
		definitions: definitions,
		resolver:    resolver,
		sealer:      sealer,
		builders:    make(map[domain.ConnectorKind]driven.ConnectorBuilder),
	}
}

// RegisterBuiltinConnectors registers every shipped connector kind.
// transcriber may be nil, leaving the transcription kind unregistered.
func RegisterBuiltinConnectors(r driven.ConnectorFactory, transcriber driven.Transcriber) {
	r.Register(domain.ConnectorLocalDir, localdir.Build)
	r.Register(domain.ConnectorURLList, urllist.Build)
	r.Register(domain.ConnectorDatabase, database.Build)
	r.Register(domain.ConnectorRestAPI, restapi.Build)
	if transcriber != nil {
		r.Register(domain.ConnectorTranscription, transcription.Builder(transcriber))
	}
}

// Register adds or replaces the builder for a kind.
func (r *ConnectorRegistry) Register(kind domain.ConnectorKind, builder driven.ConnectorBuilder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[kind] = builder
}

// SupportedKinds returns registered kinds in sorted order.
func (r *ConnectorRegistry) SupportedKinds() []domain.ConnectorKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.builders))
}

// Describe returns the catalogue entries of registered kinds.
func (r *ConnectorRegistry) Describe() []ConnectorInfo {
	kinds := r.SupportedKinds()
	out := make([]ConnectorInfo, 0, len(kinds))
	for _, k := range kinds {
		info, ok := connectorCatalogue[k]
		if !ok {
			info = ConnectorInfo{Kind: k}
		}
		out = append(out, info)
	}
	return out
}

// ValidateParams checks the kind is registered and every required param
// is present in params.
func (r *ConnectorRegistry) ValidateParams(kind domain.ConnectorKind, params map[string]string) error {
	r.mu.RLock()
	_, ok := r.builders[kind]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: connector kind %q", domain.ErrUnsupportedType, kind)
	}
	for _, p := range connectorCatalogue[kind].Params {
		if p.Required && params[p.Key] == "" {
			return fmt.Errorf("%w: %s connector requires param %q", domain.ErrInvalidInput, kind, p.Key)
		}
	}
	return nil
}

// SetDefaults sets params applied beneath every definition and source,
// such as a process-wide requests_per_second or max_attempts.
func (r *ConnectorRegistry) SetDefaults(params map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaults = maps.Clone(params)
}

// Create returns a connector for source.
func (r *ConnectorRegistry) Create(ctx context.Context, source domain.Source) (driven.Connector, error) {
	r.mu.RLock()
	builder, ok := r.builders[source.Kind]
	defaults := r.defaults
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: connector kind %q", domain.ErrUnsupportedType, source.Kind)
	}
	source.Params = mergeParams(defaults, source.Params)

	var creds driven.Credentials
	if source.DefinitionID != "" {
		def, err := r.definitions.GetConnectorDefinition(ctx, source.TenantID, source.DefinitionID)
		if err != nil {
			return nil, fmt.Errorf("get connector definition %s: %w", source.DefinitionID, err)
		}
		if def.Kind != source.Kind {
			return nil, fmt.Errorf("%w: definition %s is %s, source is %s",
				domain.ErrInvalidInput, def.Name, def.Kind, source.Kind)
		}
		source.Params = mergeParams(def.Params, source.Params)
		creds, err = r.credentials(ctx, def)
		if err != nil {
			return nil, fmt.Errorf("definition %s: %w", def.Name, err)
		}
	}

	conn, err := builder(source, creds)
	if err != nil {
		return nil, fmt.Errorf("build %s connector: %w", source.Kind, err)
	}
	return conn, nil
}

// credentials resolves a definition's secret. A reference wins over a
// sealed blob.
func (r *ConnectorRegistry) credentials(ctx context.Context, def *domain.ConnectorDefinition) (driven.Credentials, error) {
	switch {
	case def.CredentialsRef != "":
		if r.resolver == nil {
			return driven.Credentials{}, domain.ErrCredentialsUnavailable
		}
		secret, err := r.resolver.Resolve(ctx, def.CredentialsRef)
		if err != nil {
			return driven.Credentials{}, err
		}
		return driven.Credentials{Secret: secret}, nil
	case len(def.SealedCredentials) > 0:
		if r.sealer == nil {
			return driven.Credentials{}, domain.ErrCredentialsUnavailable
		}
		plain, err := r.sealer.Open(def.SealedCredentials)
		if err != nil {
			return driven.Credentials{}, fmt.Errorf("%w: %w", domain.ErrCredentialsUnavailable, err)
		}
		return driven.Credentials{Secret: string(plain)}, nil
	}
	return driven.Credentials{}, nil
}

// mergeParams overlays src on base without mutating either.
func mergeParams(base, src map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(src))
	maps.Copy(out, base)
	maps.Copy(out, src)
	return out
}

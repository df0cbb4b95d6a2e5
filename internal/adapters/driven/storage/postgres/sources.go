package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
)

const sourceColumns = `id, tenant_id, kind, location, COALESCE(definition_id, ''), params, active,
	sync_state, deleted_at, created_at, updated_at`

// GetOrCreateSource returns the source at spec.Location, creating or
// reactivating it.
func (s *Store) GetOrCreateSource(ctx context.Context, tenant domain.TenantID, spec domain.SourceSpec) (*domain.Source, error) {
	var defID *string
	if spec.DefinitionID != "" {
		defID = &spec.DefinitionID
	}

	var src *domain.Source
	err := s.inTx(ctx, tenant, func(sc *scope) error {
		if strings.TrimSpace(spec.Location) == "" {
			return fmt.Errorf("%w: source location required", domain.ErrInvalidInput)
		}
		if defID != nil {
			if _, err := getDefinition(ctx, sc, spec.DefinitionID); err != nil {
				return fmt.Errorf("connector definition %s: %w", spec.DefinitionID, err)
			}
		}
		// An active job pins the row it was submitted against.
		_, err := sc.exec(ctx, `
			INSERT INTO sources (id, tenant_id, kind, location, definition_id, params, active, created_at, updated_at)
			VALUES ($2, $1, $3, $4, $5, $6, TRUE, $7, $7)
			ON CONFLICT (tenant_id, location) DO UPDATE SET
				kind = EXCLUDED.kind,
				definition_id = EXCLUDED.definition_id,
				params = EXCLUDED.params,
				active = TRUE,
				deleted_at = NULL,
				updated_at = EXCLUDED.updated_at
			WHERE NOT EXISTS (
				SELECT 1 FROM ingestion_jobs j
				WHERE j.tenant_id = sources.tenant_id AND j.source_id = sources.id
				  AND j.status IN ('pending', 'running')
			)`,
			uuid.New().String(), string(spec.Kind), spec.Location, defID, orEmpty(spec.Params), now())
		if err != nil {
			return fmt.Errorf("upserting source: %w", err)
		}
		row, err := sc.queryRow(ctx, `SELECT `+sourceColumns+` FROM sources WHERE tenant_id = $1 AND location = $2`, spec.Location)
		if err != nil {
			return err
		}
		src, err = scanSource(row)
		return err
	})
	if err != nil {
		return nil, err
	}
	return src, nil
}

// GetSource retrieves a source by ID, including soft-deleted sources.
func (s *Store) GetSource(ctx context.Context, tenant domain.TenantID, id string) (*domain.Source, error) {
	var src *domain.Source
	err := s.inTx(ctx, tenant, func(sc *scope) error {
		row, err := sc.queryRow(ctx, `SELECT `+sourceColumns+` FROM sources WHERE tenant_id = $1 AND id = $2`, id)
		if err != nil {
			return err
		}
		src, err = scanSource(row)
		return err
	})
	return src, err
}

// ListSources returns live sources ordered by location.
func (s *Store) ListSources(ctx context.Context, tenant domain.TenantID) ([]domain.Source, error) {
	var sources []domain.Source
	err := s.inTx(ctx, tenant, func(sc *scope) error {
		rows, err := sc.query(ctx, `
			SELECT `+sourceColumns+` FROM sources
			WHERE tenant_id = $1 AND deleted_at IS NULL
			ORDER BY location
		`)
		if err != nil {
			return fmt.Errorf("querying sources: %w", err)
		}
		sources, err = collect(rows, scanSource)
		return err
	})
	return sources, err
}

// SoftDeleteSource marks a source deleted.
func (s *Store) SoftDeleteSource(ctx context.Context, tenant domain.TenantID, id string) error {
	return s.inTx(ctx, tenant, func(sc *scope) error {
		tag, err := sc.exec(ctx, `
			UPDATE sources SET deleted_at = $3, active = FALSE, updated_at = $3
			WHERE tenant_id = $1 AND id = $2 AND deleted_at IS NULL
		`, id, now())
		if err != nil {
			return fmt.Errorf("deleting source: %w", err)
		}
		return affected(tag)
	})
}

// SaveSyncState stores the connector cursor for a source.
func (s *Store) SaveSyncState(ctx context.Context, tenant domain.TenantID, sourceID, state string) error {
	return s.inTx(ctx, tenant, func(sc *scope) error {
		tag, err := sc.exec(ctx, `
			UPDATE sources SET sync_state = $3, updated_at = $4 WHERE tenant_id = $1 AND id = $2
		`, sourceID, state, now())
		if err != nil {
			return fmt.Errorf("saving sync state: %w", err)
		}
		return affected(tag)
	})
}

// collect scans every row with scan.
func collect[T any](rows pgx.Rows, scan func(pgx.Row) (*T, error)) ([]T, error) {
	defer rows.Close()
	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	return out, nil
}

func scanSource(row pgx.Row) (*domain.Source, error) {
	var (
		src       domain.Source
		tenant    string
		kind      string
		deletedAt *time.Time
	)
	if err := row.Scan(&src.ID, &tenant, &kind, &src.Location, &src.DefinitionID, &src.Params, &src.Active,
		&src.SyncState, &deletedAt, &src.CreatedAt, &src.UpdatedAt); err != nil {
		if notFound(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scanning source: %w", err)
	}
	src.TenantID = domain.TenantID(tenant)
	src.Kind = domain.ConnectorKind(kind)
	src.DeletedAt = utc(deletedAt)
	src.CreatedAt = src.CreatedAt.UTC()
	src.UpdatedAt = src.UpdatedAt.UTC()
	return &src, nil
}

// ==================== Connector Definitions ====================

const definitionColumns = `id, tenant_id, name, kind, params, credentials_ref, sealed_credentials, created_at, updated_at`

// SaveConnectorDefinition inserts or updates a definition by name.
func (s *Store) SaveConnectorDefinition(ctx context.Context, tenant domain.TenantID, def *domain.ConnectorDefinition) error {
	if def.ID == "" {
		def.ID = uuid.New().String()
	}
	ts := now()
	if def.CreatedAt.IsZero() {
		def.CreatedAt = ts
	}
	def.UpdatedAt = ts
	def.TenantID = tenant

	return s.inTx(ctx, tenant, func(sc *scope) error {
		if def.Name == "" {
			return fmt.Errorf("%w: definition name required", domain.ErrInvalidInput)
		}
		// On name conflict the existing row keeps its ID.
		row, err := sc.queryRow(ctx, `
			INSERT INTO connector_definitions (`+definitionColumns+`)
			VALUES ($2, $1, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (tenant_id, name) DO UPDATE SET
				kind = EXCLUDED.kind,
				params = EXCLUDED.params,
				credentials_ref = EXCLUDED.credentials_ref,
				sealed_credentials = EXCLUDED.sealed_credentials,
				updated_at = EXCLUDED.updated_at
			RETURNING id, created_at
		`, def.ID, def.Name, string(def.Kind), orEmpty(def.Params), def.CredentialsRef, def.SealedCredentials,
			def.CreatedAt, def.UpdatedAt)
		if err != nil {
			return err
		}
		if err := row.Scan(&def.ID, &def.CreatedAt); err != nil {
			return fmt.Errorf("saving connector definition: %w", err)
		}
		def.CreatedAt = def.CreatedAt.UTC()
		return nil
	})
}

// GetConnectorDefinition retrieves a definition by ID.
func (s *Store) GetConnectorDefinition(ctx context.Context, tenant domain.TenantID, id string) (*domain.ConnectorDefinition, error) {
	var def *domain.ConnectorDefinition
	err := s.inTx(ctx, tenant, func(sc *scope) error {
		var err error
		def, err = getDefinition(ctx, sc, id)
		return err
	})
	return def, err
}

func getDefinition(ctx context.Context, sc *scope, id string) (*domain.ConnectorDefinition, error) {
	row, err := sc.queryRow(ctx, `SELECT `+definitionColumns+` FROM connector_definitions WHERE tenant_id = $1 AND id = $2`, id)
	if err != nil {
		return nil, err
	}
	return scanDefinition(row)
}

// ListConnectorDefinitions returns definitions ordered by name.
func (s *Store) ListConnectorDefinitions(ctx context.Context, tenant domain.TenantID) ([]domain.ConnectorDefinition, error) {
	var defs []domain.ConnectorDefinition
	err := s.inTx(ctx, tenant, func(sc *scope) error {
		rows, err := sc.query(ctx, `SELECT `+definitionColumns+` FROM connector_definitions WHERE tenant_id = $1 ORDER BY name`)
		if err != nil {
			return fmt.Errorf("querying connector definitions: %w", err)
		}
		defs, err = collect(rows, scanDefinition)
		return err
	})
	return defs, err
}

// DeleteConnectorDefinition removes a definition no live source references.
func (s *Store) DeleteConnectorDefinition(ctx context.Context, tenant domain.TenantID, id string) error {
	return s.inTx(ctx, tenant, func(sc *scope) error {
		var refs int
		row, err := sc.queryRow(ctx, `
			SELECT COUNT(*) FROM sources WHERE tenant_id = $1 AND definition_id = $2 AND deleted_at IS NULL
		`, id)
		if err != nil {
			return err
		}
		if err := row.Scan(&refs); err != nil {
			return fmt.Errorf("counting references: %w", err)
		}
		if refs > 0 {
			return fmt.Errorf("connector definition %s: %w by %d source(s)", id, domain.ErrInUse, refs)
		}
		if _, err := sc.exec(ctx, `UPDATE sources SET definition_id = NULL WHERE tenant_id = $1 AND definition_id = $2`, id); err != nil {
			return fmt.Errorf("detaching sources: %w", err)
		}
		tag, err := sc.exec(ctx, `DELETE FROM connector_definitions WHERE tenant_id = $1 AND id = $2`, id)
		if err != nil {
			return fmt.Errorf("deleting connector definition: %w", err)
		}
		return affected(tag)
	})
}

func scanDefinition(row pgx.Row) (*domain.ConnectorDefinition, error) {
	var (
		def    domain.ConnectorDefinition
		tenant string
		kind   string
	)
	if err := row.Scan(&def.ID, &tenant, &def.Name, &kind, &def.Params, &def.CredentialsRef,
		&def.SealedCredentials, &def.CreatedAt, &def.UpdatedAt); err != nil {
		if notFound(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scanning connector definition: %w", err)
	}
	def.TenantID = domain.TenantID(tenant)
	def.Kind = domain.ConnectorKind(kind)
	def.CreatedAt = def.CreatedAt.UTC()
	def.UpdatedAt = def.UpdatedAt.UTC()
	return &def, nil
}

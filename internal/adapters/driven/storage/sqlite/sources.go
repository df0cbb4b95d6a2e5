package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
)

// ==================== Sources ====================

const sourceColumns = `id, tenant_id, kind, location, COALESCE(definition_id, ''), params, active,
	sync_state, deleted_at, created_at, updated_at`

// GetOrCreateSource returns the source at spec.Location, creating it on first use.
func (s *Store) GetOrCreateSource(ctx context.Context, tenant domain.TenantID, spec domain.SourceSpec) (*domain.Source, error) {
	sc, err := s.scoped(tenant)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(spec.Location) == "" {
		return nil, fmt.Errorf("%w: source location required", domain.ErrInvalidInput)
	}

	params, err := marshalMap(spec.Params)
	if err != nil {
		return nil, err
	}
	var defID any
	if spec.DefinitionID != "" {
		defID = spec.DefinitionID
	}

	var src *domain.Source
	err = s.inTx(ctx, sc, func(tx *scope) error {
		if defID != nil {
			if _, err := getDefinition(ctx, tx, spec.DefinitionID); err != nil {
				return fmt.Errorf("connector definition %s: %w", spec.DefinitionID, err)
			}
		}

		ts := now()
		// Reactivates soft-deleted rows; kind and params follow the latest
		// submission unless a pending or running job still reads them.
		_, err := tx.exec(ctx, `
			INSERT INTO sources (id, tenant_id, kind, location, definition_id, params, active, created_at, updated_at)
			VALUES (?2, ?1, ?3, ?4, ?5, ?6, 1, ?7, ?7)
			ON CONFLICT(tenant_id, location) DO UPDATE SET
				kind = excluded.kind,
				definition_id = excluded.definition_id,
				params = excluded.params,
				active = 1,
				deleted_at = NULL,
				updated_at = excluded.updated_at
			WHERE NOT EXISTS (
				SELECT 1 FROM ingestion_jobs j
				WHERE j.tenant_id = sources.tenant_id AND j.source_id = sources.id
				  AND j.status IN ('pending', 'running')
			)
		`, uuid.New().String(), string(spec.Kind), spec.Location, defID, params, ts)
		if err != nil {
			return fmt.Errorf("upserting source: %w", err)
		}

		row, err := tx.queryRow(ctx, `SELECT `+sourceColumns+` FROM sources WHERE tenant_id = ?1 AND location = ?2`, spec.Location)
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
	sc, err := s.scoped(tenant)
	if err != nil {
		return nil, err
	}
	row, err := sc.queryRow(ctx, `SELECT `+sourceColumns+` FROM sources WHERE tenant_id = ?1 AND id = ?2`, id)
	if err != nil {
		return nil, err
	}
	return scanSource(row)
}

// ListSources returns live sources ordered by location.
func (s *Store) ListSources(ctx context.Context, tenant domain.TenantID) ([]domain.Source, error) {
	sc, err := s.scoped(tenant)
	if err != nil {
		return nil, err
	}
	rows, err := sc.query(ctx, `
		SELECT `+sourceColumns+` FROM sources
		WHERE tenant_id = ?1 AND deleted_at IS NULL
		ORDER BY location
	`)
	if err != nil {
		return nil, fmt.Errorf("querying sources: %w", err)
	}
	defer rows.Close()

	var sources []domain.Source //nolint:prealloc // size unknown from query
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, *src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sources: %w", err)
	}
	return sources, nil
}

// SoftDeleteSource marks a source deleted. Its documents stay but are
// excluded from retrieval.
func (s *Store) SoftDeleteSource(ctx context.Context, tenant domain.TenantID, id string) error {
	sc, err := s.scoped(tenant)
	if err != nil {
		return err
	}
	ts := now()
	res, err := sc.exec(ctx, `
		UPDATE sources SET deleted_at = ?3, active = 0, updated_at = ?3
		WHERE tenant_id = ?1 AND id = ?2 AND deleted_at IS NULL
	`, id, ts)
	if err != nil {
		return fmt.Errorf("deleting source: %w", err)
	}
	return affected(res)
}

// SaveSyncState stores the connector cursor for a source.
func (s *Store) SaveSyncState(ctx context.Context, tenant domain.TenantID, sourceID, state string) error {
	sc, err := s.scoped(tenant)
	if err != nil {
		return err
	}
	res, err := sc.exec(ctx, `
		UPDATE sources SET sync_state = ?3, updated_at = ?4
		WHERE tenant_id = ?1 AND id = ?2
	`, sourceID, state, now())
	if err != nil {
		return fmt.Errorf("saving sync state: %w", err)
	}
	return affected(res)
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSource(row rowScanner) (*domain.Source, error) {
	var (
		src       domain.Source
		tenant    string
		kind      string
		params    string
		active    int
		deletedAt sql.NullTime
	)
	if err := row.Scan(&src.ID, &tenant, &kind, &src.Location, &src.DefinitionID, &params, &active,
		&src.SyncState, &deletedAt, &src.CreatedAt, &src.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scanning source: %w", err)
	}

	m, err := unmarshalMap[string](params)
	if err != nil {
		return nil, err
	}
	src.TenantID = domain.TenantID(tenant)
	src.Kind = domain.ConnectorKind(kind)
	src.Params = m
	src.Active = active == 1
	src.DeletedAt = nullTime(deletedAt)
	return &src, nil
}

// ==================== Connector Definitions ====================

const definitionColumns = `id, tenant_id, name, kind, params, credentials_ref, sealed_credentials, created_at, updated_at`

// SaveConnectorDefinition inserts or updates a definition by name.
func (s *Store) SaveConnectorDefinition(ctx context.Context, tenant domain.TenantID, def *domain.ConnectorDefinition) error {
	sc, err := s.scoped(tenant)
	if err != nil {
		return err
	}
	if def.Name == "" {
		return fmt.Errorf("%w: definition name required", domain.ErrInvalidInput)
	}
	params, err := marshalMap(def.Params)
	if err != nil {
		return err
	}
	if def.ID == "" {
		def.ID = uuid.New().String()
	}
	ts := now()
	if def.CreatedAt.IsZero() {
		def.CreatedAt = ts
	}
	def.UpdatedAt = ts
	def.TenantID = tenant

	return s.inTx(ctx, sc, func(tx *scope) error {
		_, err := tx.exec(ctx, `
			INSERT INTO connector_definitions (`+definitionColumns+`)
			VALUES (?2, ?1, ?3, ?4, ?5, ?6, ?7, ?8, ?9)
			ON CONFLICT(tenant_id, name) DO UPDATE SET
				kind = excluded.kind,
				params = excluded.params,
				credentials_ref = excluded.credentials_ref,
				sealed_credentials = excluded.sealed_credentials,
				updated_at = excluded.updated_at
		`, def.ID, def.Name, string(def.Kind), params, def.CredentialsRef, def.SealedCredentials, def.CreatedAt, def.UpdatedAt)
		if err != nil {
			return fmt.Errorf("saving connector definition: %w", err)
		}
		// On name conflict the existing row keeps its ID.
		row, err := tx.queryRow(ctx, `SELECT id, created_at FROM connector_definitions WHERE tenant_id = ?1 AND name = ?2`, def.Name)
		if err != nil {
			return err
		}
		return row.Scan(&def.ID, &def.CreatedAt)
	})
}

// GetConnectorDefinition retrieves a definition by ID.
func (s *Store) GetConnectorDefinition(ctx context.Context, tenant domain.TenantID, id string) (*domain.ConnectorDefinition, error) {
	sc, err := s.scoped(tenant)
	if err != nil {
		return nil, err
	}
	return getDefinition(ctx, sc, id)
}

func getDefinition(ctx context.Context, sc *scope, id string) (*domain.ConnectorDefinition, error) {
	row, err := sc.queryRow(ctx, `SELECT `+definitionColumns+` FROM connector_definitions WHERE tenant_id = ?1 AND id = ?2`, id)
	if err != nil {
		return nil, err
	}
	return scanDefinition(row)
}

// ListConnectorDefinitions returns definitions ordered by name.
func (s *Store) ListConnectorDefinitions(ctx context.Context, tenant domain.TenantID) ([]domain.ConnectorDefinition, error) {
	sc, err := s.scoped(tenant)
	if err != nil {
		return nil, err
	}
	rows, err := sc.query(ctx, `SELECT `+definitionColumns+` FROM connector_definitions WHERE tenant_id = ?1 ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("querying connector definitions: %w", err)
	}
	defer rows.Close()

	var defs []domain.ConnectorDefinition //nolint:prealloc // size unknown from query
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, err
		}
		defs = append(defs, *def)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating connector definitions: %w", err)
	}
	return defs, nil
}

// DeleteConnectorDefinition removes a definition no live source references.
func (s *Store) DeleteConnectorDefinition(ctx context.Context, tenant domain.TenantID, id string) error {
	sc, err := s.scoped(tenant)
	if err != nil {
		return err
	}
	return s.inTx(ctx, sc, func(tx *scope) error {
		var refs int
		row, err := tx.queryRow(ctx, `
			SELECT COUNT(*) FROM sources
			WHERE tenant_id = ?1 AND definition_id = ?2 AND deleted_at IS NULL
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

		// Soft-deleted sources keep their history but drop the reference.
		if _, err := tx.exec(ctx, `UPDATE sources SET definition_id = NULL WHERE tenant_id = ?1 AND definition_id = ?2`, id); err != nil {
			return fmt.Errorf("detaching sources: %w", err)
		}
		res, err := tx.exec(ctx, `DELETE FROM connector_definitions WHERE tenant_id = ?1 AND id = ?2`, id)
		if err != nil {
			return fmt.Errorf("deleting connector definition: %w", err)
		}
		return affected(res)
	})
}

func scanDefinition(row rowScanner) (*domain.ConnectorDefinition, error) {
	var (
		def    domain.ConnectorDefinition
		tenant string
		kind   string
		params string
	)
	if err := row.Scan(&def.ID, &tenant, &def.Name, &kind, &params, &def.CredentialsRef,
		&def.SealedCredentials, &def.CreatedAt, &def.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scanning connector definition: %w", err)
	}
	m, err := unmarshalMap[string](params)
	if err != nil {
		return nil, err
	}
	def.TenantID = domain.TenantID(tenant)
	def.Kind = domain.ConnectorKind(kind)
	def.Params = m
	return &def, nil
}

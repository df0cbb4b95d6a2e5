package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
)

const documentColumns = `id, tenant_id, source_id, natural_key, title, current_version,
	COALESCE(current_version_id, ''), created_at, updated_at`

// UpsertDocumentVersion creates the document on first sight and commits a
// staged version numbered previous + 1.
func (s *Store) UpsertDocumentVersion(ctx context.Context, tenant domain.TenantID, sourceID, naturalKey string,
	snap domain.VersionSnapshot) (*domain.Document, *domain.DocumentVersion, error) {
	var (
		doc *domain.Document
		ver *domain.DocumentVersion
	)
	err := s.inTx(ctx, tenant, func(sc *scope) error {
		if naturalKey == "" {
			return fmt.Errorf("%w: natural key required", domain.ErrInvalidInput)
		}
		var live int
		row, err := sc.queryRow(ctx, `
			SELECT COUNT(*) FROM sources WHERE tenant_id = $1 AND id = $2 AND deleted_at IS NULL
		`, sourceID)
		if err != nil {
			return err
		}
		if err := row.Scan(&live); err != nil {
			return fmt.Errorf("checking source: %w", err)
		}
		if live == 0 {
			return &domain.SourceNotFoundError{Entity: "source", ID: sourceID}
		}

		ts := now()
		// The row lock serialises version allocation per document.
		row, err = sc.queryRow(ctx, `
			INSERT INTO documents (id, tenant_id, source_id, natural_key, title, created_at, updated_at)
			VALUES ($2, $1, $3, $4, $5, $6, $6)
			ON CONFLICT (tenant_id, source_id, natural_key) DO UPDATE SET updated_at = EXCLUDED.updated_at
			RETURNING `+documentColumns,
			uuid.New().String(), sourceID, naturalKey, snap.Title, ts)
		if err != nil {
			return err
		}
		if doc, err = scanDocument(row); err != nil {
			return err
		}

		var next int
		row, err = sc.queryRow(ctx, `
			SELECT COALESCE(MAX(version), 0) + 1 FROM document_versions WHERE tenant_id = $1 AND document_id = $2
		`, doc.ID)
		if err != nil {
			return err
		}
		if err := row.Scan(&next); err != nil {
			return fmt.Errorf("allocating version: %w", err)
		}

		ver = &domain.DocumentVersion{
			ID:              uuid.New().String(),
			TenantID:        tenant,
			DocumentID:      doc.ID,
			Version:         next,
			State:           domain.VersionStaged,
			VersionSnapshot: snap,
			CreatedAt:       ts,
		}
		if _, err := sc.exec(ctx, `
			INSERT INTO document_versions (id, tenant_id, document_id, version, state, title, content_type,
				byte_size, page_count, record_count, content_hash, job_id, metadata, created_at)
			VALUES ($2, $1, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		`, ver.ID, doc.ID, next, string(ver.State), snap.Title, snap.ContentType, snap.ByteSize,
			snap.PageCount, snap.RecordCount, snap.ContentHash, snap.JobID, orEmpty(snap.Metadata), ts); err != nil {
			return fmt.Errorf("inserting version: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return doc, ver, nil
}

// InsertChunks bulk inserts chunks into a staged version with a pgx batch.
func (s *Store) InsertChunks(ctx context.Context, tenant domain.TenantID, versionID string, chunks []domain.Chunk) error {
	return s.inTx(ctx, tenant, func(sc *scope) error {
		for i := range chunks {
			if len(chunks[i].Embedding) != s.dimensions {
				return fmt.Errorf("chunk %d has %d dimensions, want %d: %w",
					chunks[i].Ordinal, len(chunks[i].Embedding), s.dimensions, domain.ErrDimensionMismatch)
			}
		}
		state, err := versionState(ctx, sc, versionID)
		if err != nil {
			return err
		}
		if state != domain.VersionStaged {
			return fmt.Errorf("version %s is %s: %w", versionID, state, domain.ErrInvalidTransition)
		}

		const insert = `
			INSERT INTO chunks (id, tenant_id, version_id, ordinal, content, start_offset, end_offset, embedding, metadata)
			VALUES ($2, $1, $3, $4, $5, $6, $7, $8, $9)`
		if _, err := sc.args(insert, nil); err != nil {
			return err
		}
		batch := &pgx.Batch{}
		for _, c := range chunks {
			id := c.ID
			if id == "" {
				id = uuid.New().String()
			}
			batch.Queue(insert, string(sc.tenant), id, versionID, c.Ordinal, c.Content, c.StartOffset, c.EndOffset,
				pgvector.NewVector(c.Embedding), orEmpty(c.Metadata))
		}
		if err := sc.tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("saving chunks: %w", err)
		}
		return nil
	})
}

func versionState(ctx context.Context, sc *scope, versionID string) (domain.VersionState, error) {
	row, err := sc.queryRow(ctx, `
		SELECT v.state FROM document_versions v
		JOIN documents d ON d.id = v.document_id AND d.tenant_id = $1
		JOIN sources s ON s.id = d.source_id AND s.tenant_id = $1
		WHERE v.tenant_id = $1 AND v.id = $2
		FOR UPDATE OF v
	`, versionID)
	if err != nil {
		return "", err
	}
	var state string
	if err := row.Scan(&state); err != nil {
		if notFound(err) {
			return "", &domain.SourceNotFoundError{Entity: "version", ID: versionID}
		}
		return "", fmt.Errorf("reading version state: %w", err)
	}
	return domain.VersionState(state), nil
}

// PromoteVersion makes a staged version current and deletes the previous
// version's chunks in the same transaction.
func (s *Store) PromoteVersion(ctx context.Context, tenant domain.TenantID, versionID string) error {
	return s.inTx(ctx, tenant, func(sc *scope) error {
		state, err := versionState(ctx, sc, versionID)
		if err != nil {
			return err
		}
		if state != domain.VersionStaged {
			return fmt.Errorf("version %s is not staged: %w", versionID, domain.ErrInvalidTransition)
		}

		var (
			docID, title, previous string
			version                int
		)
		row, err := sc.queryRow(ctx, `
			SELECT v.document_id, v.version, v.title, COALESCE(d.current_version_id, '')
			FROM document_versions v
			JOIN documents d ON d.id = v.document_id AND d.tenant_id = $1
			WHERE v.tenant_id = $1 AND v.id = $2
			FOR UPDATE OF d
		`, versionID)
		if err != nil {
			return err
		}
		if err := row.Scan(&docID, &version, &title, &previous); err != nil {
			return fmt.Errorf("reading version: %w", err)
		}

		if previous != "" {
			if _, err := sc.exec(ctx, `DELETE FROM chunks WHERE tenant_id = $1 AND version_id = $2`, previous); err != nil {
				return fmt.Errorf("deleting chunks: %w", err)
			}
			if _, err := sc.exec(ctx, `
				UPDATE document_versions SET state = 'superseded' WHERE tenant_id = $1 AND id = $2
			`, previous); err != nil {
				return fmt.Errorf("superseding version: %w", err)
			}
		}
		if _, err := sc.exec(ctx, `
			UPDATE document_versions SET state = 'current' WHERE tenant_id = $1 AND id = $2
		`, versionID); err != nil {
			return fmt.Errorf("promoting version: %w", err)
		}
		if _, err := sc.exec(ctx, `
			UPDATE documents SET current_version = $3, current_version_id = $4, title = $5, updated_at = $6
			WHERE tenant_id = $1 AND id = $2
		`, docID, version, versionID, title, now()); err != nil {
			return fmt.Errorf("updating document: %w", err)
		}
		return nil
	})
}

// DiscardVersion removes a staged version and its chunks.
func (s *Store) DiscardVersion(ctx context.Context, tenant domain.TenantID, versionID string) error {
	return s.inTx(ctx, tenant, func(sc *scope) error {
		return discardVersion(ctx, sc, versionID)
	})
}

// DiscardStagedVersions removes every staged version written by jobID.
func (s *Store) DiscardStagedVersions(ctx context.Context, tenant domain.TenantID, jobID string) (int, error) {
	var n int
	err := s.inTx(ctx, tenant, func(sc *scope) error {
		rows, err := sc.query(ctx, `
			SELECT id FROM document_versions WHERE tenant_id = $1 AND job_id = $2 AND state = 'staged'
		`, jobID)
		if err != nil {
			return fmt.Errorf("querying staged versions: %w", err)
		}
		ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return fmt.Errorf("reading staged versions: %w", err)
		}
		for _, id := range ids {
			if err := discardVersion(ctx, sc, id); err != nil {
				return err
			}
		}
		n = len(ids)
		return nil
	})
	return n, err
}

func discardVersion(ctx context.Context, sc *scope, versionID string) error {
	var docID, state string
	row, err := sc.queryRow(ctx, `SELECT document_id, state FROM document_versions WHERE tenant_id = $1 AND id = $2`, versionID)
	if err != nil {
		return err
	}
	if err := row.Scan(&docID, &state); err != nil {
		if notFound(err) {
			return nil
		}
		return fmt.Errorf("reading version: %w", err)
	}
	if domain.VersionState(state) != domain.VersionStaged {
		return fmt.Errorf("version %s is %s: %w", versionID, state, domain.ErrInvalidTransition)
	}

	// Chunks cascade with the version row.
	if _, err := sc.exec(ctx, `DELETE FROM document_versions WHERE tenant_id = $1 AND id = $2`, versionID); err != nil {
		return fmt.Errorf("deleting version: %w", err)
	}
	if _, err := sc.exec(ctx, `
		DELETE FROM documents d
		WHERE d.tenant_id = $1 AND d.id = $2 AND d.current_version_id IS NULL
			AND NOT EXISTS (SELECT 1 FROM document_versions v WHERE v.tenant_id = $1 AND v.document_id = $2)
	`, docID); err != nil {
		return fmt.Errorf("deleting empty document: %w", err)
	}
	return nil
}

// GetDocument retrieves a document by ID.
func (s *Store) GetDocument(ctx context.Context, tenant domain.TenantID, id string) (*domain.Document, error) {
	var doc *domain.Document
	err := s.inTx(ctx, tenant, func(sc *scope) error {
		row, err := sc.queryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE tenant_id = $1 AND id = $2`, id)
		if err != nil {
			return err
		}
		doc, err = scanDocument(row)
		return err
	})
	return doc, err
}

// ListDocuments returns the source's documents that have a current version.
func (s *Store) ListDocuments(ctx context.Context, tenant domain.TenantID, sourceID string) ([]domain.Document, error) {
	var docs []domain.Document
	err := s.inTx(ctx, tenant, func(sc *scope) error {
		rows, err := sc.query(ctx, `
			SELECT `+documentColumns+` FROM documents
			WHERE tenant_id = $1 AND source_id = $2 AND current_version_id IS NOT NULL
			ORDER BY natural_key
		`, sourceID)
		if err != nil {
			return fmt.Errorf("querying documents: %w", err)
		}
		docs, err = collect(rows, scanDocument)
		return err
	})
	return docs, err
}

// ListChunks returns the current version's chunks in ordinal order.
func (s *Store) ListChunks(ctx context.Context, tenant domain.TenantID, documentID string) ([]domain.Chunk, error) {
	var chunks []domain.Chunk
	err := s.inTx(ctx, tenant, func(sc *scope) error {
		rows, err := sc.query(ctx, `
			SELECT c.id, c.version_id, c.ordinal, c.content, c.start_offset, c.end_offset, c.embedding, c.metadata
			FROM chunks c
			JOIN documents d ON d.current_version_id = c.version_id AND d.tenant_id = $1
			WHERE c.tenant_id = $1 AND d.id = $2
			ORDER BY c.ordinal
		`, documentID)
		if err != nil {
			return fmt.Errorf("querying chunks: %w", err)
		}
		chunks, err = collect(rows, func(row pgx.Row) (*domain.Chunk, error) {
			var (
				c   domain.Chunk
				vec pgvector.Vector
			)
			if err := row.Scan(&c.ID, &c.VersionID, &c.Ordinal, &c.Content, &c.StartOffset, &c.EndOffset,
				&vec, &c.Metadata); err != nil {
				return nil, fmt.Errorf("scanning chunk: %w", err)
			}
			c.Embedding = vec.Slice()
			return &c, nil
		})
		return err
	})
	return chunks, err
}

func scanDocument(row pgx.Row) (*domain.Document, error) {
	var (
		doc    domain.Document
		tenant string
	)
	if err := row.Scan(&doc.ID, &tenant, &doc.SourceID, &doc.NaturalKey, &doc.Title, &doc.CurrentVersion,
		&doc.CurrentVersionID, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
		if notFound(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scanning document: %w", err)
	}
	doc.TenantID = domain.TenantID(tenant)
	doc.CreatedAt = doc.CreatedAt.UTC()
	doc.UpdatedAt = doc.UpdatedAt.UTC()
	return &doc, nil
}

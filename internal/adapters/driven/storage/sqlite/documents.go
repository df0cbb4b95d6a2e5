package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
)

// ==================== Documents & Versions ====================

const documentColumns = `id, tenant_id, source_id, natural_key, title, current_version,
	COALESCE(current_version_id, ''), created_at, updated_at`

// UpsertDocumentVersion creates the document on first sight and commits a
// staged version numbered previous + 1.
func (s *Store) UpsertDocumentVersion(ctx context.Context, tenant domain.TenantID, sourceID, naturalKey string,
	snap domain.VersionSnapshot) (*domain.Document, *domain.DocumentVersion, error) {
	sc, err := s.scoped(tenant)
	if err != nil {
		return nil, nil, err
	}
	if naturalKey == "" {
		return nil, nil, fmt.Errorf("%w: natural key required", domain.ErrInvalidInput)
	}
	meta, err := marshalMap(snap.Metadata)
	if err != nil {
		return nil, nil, err
	}

	var (
		doc *domain.Document
		ver *domain.DocumentVersion
	)
	err = s.inTx(ctx, sc, func(tx *scope) error {
		var live int
		row, err := tx.queryRow(ctx, `
			SELECT COUNT(*) FROM sources WHERE tenant_id = ?1 AND id = ?2 AND deleted_at IS NULL
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
		_, err = tx.exec(ctx, `
			INSERT INTO documents (id, tenant_id, source_id, natural_key, title, created_at, updated_at)
			VALUES (?2, ?1, ?3, ?4, ?5, ?6, ?6)
			ON CONFLICT(tenant_id, source_id, natural_key) DO UPDATE SET updated_at = excluded.updated_at
		`, uuid.New().String(), sourceID, naturalKey, snap.Title, ts)
		if err != nil {
			return fmt.Errorf("upserting document: %w", err)
		}

		row, err = tx.queryRow(ctx, `
			SELECT `+documentColumns+` FROM documents
			WHERE tenant_id = ?1 AND source_id = ?2 AND natural_key = ?3
		`, sourceID, naturalKey)
		if err != nil {
			return err
		}
		if doc, err = scanDocument(row); err != nil {
			return err
		}

		var next int
		row, err = tx.queryRow(ctx, `
			SELECT COALESCE(MAX(version), 0) + 1 FROM document_versions
			WHERE tenant_id = ?1 AND document_id = ?2
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
		_, err = tx.exec(ctx, `
			INSERT INTO document_versions (id, tenant_id, document_id, version, state, title, content_type,
				byte_size, page_count, record_count, content_hash, job_id, metadata, created_at)
			VALUES (?2, ?1, ?3, ?4, ?5, ?6, ?7, ?8, ?9, ?10, ?11, ?12, ?13, ?14)
		`, ver.ID, doc.ID, next, string(ver.State), snap.Title, snap.ContentType, snap.ByteSize,
			snap.PageCount, snap.RecordCount, snap.ContentHash, snap.JobID, meta, ts)
		if err != nil {
			return fmt.Errorf("inserting version: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return doc, ver, nil
}

// InsertChunks bulk inserts chunks and their lexical index rows into a
// staged version.
func (s *Store) InsertChunks(ctx context.Context, tenant domain.TenantID, versionID string, chunks []domain.Chunk) error {
	sc, err := s.scoped(tenant)
	if err != nil {
		return err
	}
	for i := range chunks {
		if s.dimensions > 0 && len(chunks[i].Embedding) != s.dimensions {
			return fmt.Errorf("chunk %d has %d dimensions, want %d: %w",
				chunks[i].Ordinal, len(chunks[i].Embedding), s.dimensions, domain.ErrDimensionMismatch)
		}
	}

	return s.inTx(ctx, sc, func(tx *scope) error {
		state, err := versionState(ctx, tx, versionID)
		if err != nil {
			return err
		}
		if state != domain.VersionStaged {
			return fmt.Errorf("version %s is %s: %w", versionID, state, domain.ErrInvalidTransition)
		}

		for _, c := range chunks {
			meta, err := marshalMap(c.Metadata)
			if err != nil {
				return err
			}
			id := c.ID
			if id == "" {
				id = uuid.New().String()
			}
			res, err := tx.exec(ctx, `
				INSERT INTO chunks (id, tenant_id, version_id, ordinal, content, start_offset, end_offset, embedding, metadata)
				VALUES (?2, ?1, ?3, ?4, ?5, ?6, ?7, ?8, ?9)
			`, id, versionID, c.Ordinal, c.Content, c.StartOffset, c.EndOffset, encodeVector(c.Embedding), meta)
			if err != nil {
				return fmt.Errorf("saving chunk: %w", err)
			}
			seq, err := res.LastInsertId()
			if err != nil {
				return fmt.Errorf("reading chunk rowid: %w", err)
			}
			if _, err := tx.exec(ctx, `INSERT INTO chunks_fts (rowid, content, tenant_id) VALUES (?2, ?3, ?1)`,
				seq, c.Content); err != nil {
				return fmt.Errorf("indexing chunk: %w", err)
			}
		}
		return nil
	})
}

// versionState returns a version's state or SourceNotFoundError.
func versionState(ctx context.Context, sc *scope, versionID string) (domain.VersionState, error) {
	row, err := sc.queryRow(ctx, `
		SELECT v.state FROM document_versions v
		JOIN documents d ON d.id = v.document_id AND d.tenant_id = ?1
		JOIN sources s ON s.id = d.source_id AND s.tenant_id = ?1
		WHERE v.tenant_id = ?1 AND v.id = ?2
	`, versionID)
	if err != nil {
		return "", err
	}
	var state string
	if err := row.Scan(&state); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", &domain.SourceNotFoundError{Entity: "version", ID: versionID}
		}
		return "", fmt.Errorf("reading version state: %w", err)
	}
	return domain.VersionState(state), nil
}

// PromoteVersion makes a staged version current. The previous version's
// chunks are deleted in the same transaction.
func (s *Store) PromoteVersion(ctx context.Context, tenant domain.TenantID, versionID string) error {
	sc, err := s.scoped(tenant)
	if err != nil {
		return err
	}

	return s.inTx(ctx, sc, func(tx *scope) error {
		var (
			docID, title, previous string
			version                int
		)
		row, err := tx.queryRow(ctx, `
			SELECT v.document_id, v.version, v.title, COALESCE(d.current_version_id, '')
			FROM document_versions v
			JOIN documents d ON d.id = v.document_id AND d.tenant_id = ?1
			WHERE v.tenant_id = ?1 AND v.id = ?2 AND v.state = 'staged'
		`, versionID)
		if err != nil {
			return err
		}
		if err := row.Scan(&docID, &version, &title, &previous); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				if _, serr := versionState(ctx, tx, versionID); serr != nil {
					return serr
				}
				return fmt.Errorf("version %s is not staged: %w", versionID, domain.ErrInvalidTransition)
			}
			return fmt.Errorf("reading version: %w", err)
		}

		if previous != "" {
			if err := deleteVersionChunks(ctx, tx, previous); err != nil {
				return err
			}
			if _, err := tx.exec(ctx, `
				UPDATE document_versions SET state = 'superseded' WHERE tenant_id = ?1 AND id = ?2
			`, previous); err != nil {
				return fmt.Errorf("superseding version: %w", err)
			}
		}

		if _, err := tx.exec(ctx, `
			UPDATE document_versions SET state = 'current' WHERE tenant_id = ?1 AND id = ?2
		`, versionID); err != nil {
			return fmt.Errorf("promoting version: %w", err)
		}
		if _, err := tx.exec(ctx, `
			UPDATE documents SET current_version = ?3, current_version_id = ?4, title = ?5, updated_at = ?6
			WHERE tenant_id = ?1 AND id = ?2
		`, docID, version, versionID, title, now()); err != nil {
			return fmt.Errorf("updating document: %w", err)
		}
		return nil
	})
}

// DiscardVersion removes a staged version and its chunks. A document left
// without any version is removed too.
func (s *Store) DiscardVersion(ctx context.Context, tenant domain.TenantID, versionID string) error {
	sc, err := s.scoped(tenant)
	if err != nil {
		return err
	}
	return s.inTx(ctx, sc, func(tx *scope) error {
		return discardVersion(ctx, tx, versionID)
	})
}

// DiscardStagedVersions removes every staged version written by jobID.
func (s *Store) DiscardStagedVersions(ctx context.Context, tenant domain.TenantID, jobID string) (int, error) {
	sc, err := s.scoped(tenant)
	if err != nil {
		return 0, err
	}

	var n int
	err = s.inTx(ctx, sc, func(tx *scope) error {
		rows, err := tx.query(ctx, `
			SELECT id FROM document_versions WHERE tenant_id = ?1 AND job_id = ?2 AND state = 'staged'
		`, jobID)
		if err != nil {
			return fmt.Errorf("querying staged versions: %w", err)
		}
		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("scanning version id: %w", err)
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterating staged versions: %w", err)
		}

		for _, id := range ids {
			if err := discardVersion(ctx, tx, id); err != nil {
				return err
			}
		}
		n = len(ids)
		return nil
	})
	return n, err
}

func discardVersion(ctx context.Context, sc *scope, versionID string) error {
	var (
		docID string
		state string
	)
	row, err := sc.queryRow(ctx, `SELECT document_id, state FROM document_versions WHERE tenant_id = ?1 AND id = ?2`, versionID)
	if err != nil {
		return err
	}
	if err := row.Scan(&docID, &state); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil // already gone
		}
		return fmt.Errorf("reading version: %w", err)
	}
	if domain.VersionState(state) != domain.VersionStaged {
		return fmt.Errorf("version %s is %s: %w", versionID, state, domain.ErrInvalidTransition)
	}

	if err := deleteVersionChunks(ctx, sc, versionID); err != nil {
		return err
	}
	if _, err := sc.exec(ctx, `DELETE FROM document_versions WHERE tenant_id = ?1 AND id = ?2`, versionID); err != nil {
		return fmt.Errorf("deleting version: %w", err)
	}
	if _, err := sc.exec(ctx, `
		DELETE FROM documents
		WHERE tenant_id = ?1 AND id = ?2 AND current_version_id IS NULL
			AND NOT EXISTS (SELECT 1 FROM document_versions v WHERE v.tenant_id = ?1 AND v.document_id = ?2)
	`, docID); err != nil {
		return fmt.Errorf("deleting empty document: %w", err)
	}
	return nil
}

func deleteVersionChunks(ctx context.Context, sc *scope, versionID string) error {
	if _, err := sc.exec(ctx, `
		DELETE FROM chunks_fts WHERE tenant_id = ?1
			AND rowid IN (SELECT seq FROM chunks WHERE tenant_id = ?1 AND version_id = ?2)
	`, versionID); err != nil {
		return fmt.Errorf("deleting lexical index rows: %w", err)
	}
	if _, err := sc.exec(ctx, `DELETE FROM chunks WHERE tenant_id = ?1 AND version_id = ?2`, versionID); err != nil {
		return fmt.Errorf("deleting chunks: %w", err)
	}
	return nil
}

// GetDocument retrieves a document by ID.
func (s *Store) GetDocument(ctx context.Context, tenant domain.TenantID, id string) (*domain.Document, error) {
	sc, err := s.scoped(tenant)
	if err != nil {
		return nil, err
	}
	row, err := sc.queryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE tenant_id = ?1 AND id = ?2`, id)
	if err != nil {
		return nil, err
	}
	return scanDocument(row)
}

// ListDocuments returns the source's documents that have a current version.
func (s *Store) ListDocuments(ctx context.Context, tenant domain.TenantID, sourceID string) ([]domain.Document, error) {
	sc, err := s.scoped(tenant)
	if err != nil {
		return nil, err
	}
	rows, err := sc.query(ctx, `
		SELECT `+documentColumns+` FROM documents
		WHERE tenant_id = ?1 AND source_id = ?2 AND current_version_id IS NOT NULL
		ORDER BY natural_key
	`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	defer rows.Close()

	var docs []domain.Document //nolint:prealloc // size unknown from query
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating documents: %w", err)
	}
	return docs, nil
}

// ListChunks returns the current version's chunks in ordinal order.
func (s *Store) ListChunks(ctx context.Context, tenant domain.TenantID, documentID string) ([]domain.Chunk, error) {
	sc, err := s.scoped(tenant)
	if err != nil {
		return nil, err
	}
	rows, err := sc.query(ctx, `
		SELECT c.id, c.version_id, c.ordinal, c.content, c.start_offset, c.end_offset, c.embedding, c.metadata
		FROM chunks c
		JOIN documents d ON d.current_version_id = c.version_id AND d.tenant_id = ?1
		WHERE c.tenant_id = ?1 AND d.id = ?2
		ORDER BY c.ordinal
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	defer rows.Close()

	var chunks []domain.Chunk //nolint:prealloc // size unknown from query
	for rows.Next() {
		var (
			c    domain.Chunk
			blob []byte
			meta string
		)
		if err := rows.Scan(&c.ID, &c.VersionID, &c.Ordinal, &c.Content, &c.StartOffset, &c.EndOffset, &blob, &meta); err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		c.Embedding = decodeVector(blob)
		if c.Metadata, err = unmarshalMap[any](meta); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chunks: %w", err)
	}
	return chunks, nil
}

func scanDocument(row rowScanner) (*domain.Document, error) {
	var (
		doc    domain.Document
		tenant string
	)
	if err := row.Scan(&doc.ID, &tenant, &doc.SourceID, &doc.NaturalKey, &doc.Title, &doc.CurrentVersion,
		&doc.CurrentVersionID, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scanning document: %w", err)
	}
	doc.TenantID = domain.TenantID(tenant)
	return &doc, nil
}

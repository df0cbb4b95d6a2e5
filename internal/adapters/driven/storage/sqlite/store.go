package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/custodia-labs/sercha-ingest/internal/adapters/driven/storage/schema"
	"github.com/custodia-labs/sercha-ingest/internal/adapters/driven/storage/sqlite/migrations"
	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
)

// DatabaseFile is the file name created inside the data directory.
const DatabaseFile = "ingest.db"

// Store is the SQLite implementation of driven.Store.
type Store struct {
	db         *sql.DB
	path       string
	dimensions int
}

var _ driven.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithDimensions rejects chunk embeddings and query vectors of any other size.
func WithDimensions(d int) Option {
	return func(s *Store) {
		s.dimensions = d
	}
}

// pragmas apply to every pooled connection. WAL lets retrieval read while
// a job writes. Immediate transactions take the write lock at BEGIN.
var pragmas = []string{
	"_pragma=journal_mode(WAL)",
	"_pragma=busy_timeout(5000)",
	"_pragma=foreign_keys(1)",
	"_txlock=immediate",
}

// NewStore opens the store file inside dataDir, creating the directory
// when missing.
func NewStore(dataDir string, opts ...Option) (*Store, error) {
	if dataDir == "" {
		return nil, fmt.Errorf("%w: data directory required", domain.ErrInvalidInput)
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return Open(filepath.Join(dataDir, DatabaseFile), opts...)
}

// Open opens or creates the database at path and brings its schema up
// to date.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?"+strings.Join(pragmas, "&"))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{db: db, path: path}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.migrate(migrations.Files); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// migrate applies pending schema versions, each in its own transaction.
func (s *Store) migrate(fsys fs.FS) error {
	if _, err := s.db.Exec(schema.TableDDL("DATETIME DEFAULT CURRENT_TIMESTAMP")); err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var applied int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&applied); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}
	pending, err := schema.Pending(fsys, applied)
	if err != nil {
		return err
	}

	for _, m := range pending {
		if err := s.apply(m); err != nil {
			return fmt.Errorf("migration %s: %w", m.Name, err)
		}
	}
	return nil
}

func (s *Store) apply(m schema.Migration) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck
	if _, err := tx.Exec(m.SQL); err != nil {
		return err
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.Version); err != nil {
		return err
	}
	return tx.Commit()
}

// ==================== Helper Functions ====================

// now returns the store's canonical timestamp.
func now() time.Time {
	return time.Now().UTC()
}

// encodeVector packs v as little-endian float32s, the BLOB layout of
// chunks.embedding.
func encodeVector(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, 0, 4*len(v))
	for _, f := range v {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(f))
	}
	return buf
}

func decodeVector(blob []byte) []float32 {
	n := len(blob) / 4
	if n == 0 {
		return nil
	}
	v := make([]float32, n)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[4*i:]))
	}
	return v
}

func marshalMap[V any](m map[string]V) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshalling map: %w", err)
	}
	return string(b), nil
}

func unmarshalMap[V any](s string) (map[string]V, error) {
	m := map[string]V{}
	if s == "" || s == "null" {
		return m, nil
	}
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, fmt.Errorf("unmarshaling map: %w", err)
	}
	return m, nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// isUniqueViolation reports a UNIQUE or PRIMARY KEY constraint failure.
func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

// inTx runs fn inside a transaction bound to the tenant scope.
func (s *Store) inTx(ctx context.Context, sc *scope, fn func(tx *scope) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(sc.with(tx)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

package postgres

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/custodia-labs/sercha-ingest/internal/adapters/driven/storage/postgres/migrations"
	"github.com/custodia-labs/sercha-ingest/internal/adapters/driven/storage/schema"
	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
)

// migrationLock is the advisory lock key held while migrating.
const migrationLock = 7301995

// uniqueViolation is the SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// Store is the PostgreSQL implementation of driven.Store.
type Store struct {
	pool       *pgxpool.Pool
	dimensions int
}

var _ driven.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithDimensions sets the width of the embedding column. Required.
func WithDimensions(d int) Option {
	return func(s *Store) {
		s.dimensions = d
	}
}

// New connects to dsn, applies pending migrations and returns a pooled store.
// The role behind dsn must not be a superuser or BYPASSRLS, otherwise the
// row-level policies are not enforced.
func New(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	s := &Store{}
	for _, opt := range opts {
		opt(s)
	}
	if s.dimensions <= 0 {
		return nil, fmt.Errorf("%w: embedding dimensions required", domain.ErrInvalidInput)
	}

	// Migrate on a plain connection first: the vector type must exist
	// before pooled connections register it.
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	err = s.migrate(ctx, conn, migrations.Files)
	conn.Close(ctx)
	if err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, c *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, c)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	s.pool = pool
	return s, nil
}

// Close closes the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// migrate applies pending versions in one transaction under an advisory
// lock so concurrent processes do not race.
func (s *Store) migrate(ctx context.Context, conn *pgx.Conn, fsys fs.FS) error {
	tx, err := conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLock); err != nil {
		return fmt.Errorf("acquiring migration lock: %w", err)
	}
	if _, err := tx.Exec(ctx, schema.TableDDL("TIMESTAMPTZ NOT NULL DEFAULT now()")); err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var applied int
	if err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&applied); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}
	pending, err := schema.Pending(fsys, applied)
	if err != nil {
		return err
	}

	width := strconv.Itoa(s.dimensions)
	for _, m := range pending {
		if _, err := tx.Exec(ctx, strings.ReplaceAll(m.SQL, "{{dimensions}}", width)); err != nil {
			return fmt.Errorf("executing migration %s: %w", m.Name, err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, m.Version); err != nil {
			return fmt.Errorf("recording migration %s: %w", m.Name, err)
		}
	}
	return tx.Commit(ctx)
}

// ==================== Tenant Scope ====================

// tenantParam matches the $1 placeholder that always carries the tenant.
var tenantParam = regexp.MustCompile(`tenant_id\s*=\s*\$1\b|VALUES\s*\([^)]*\$1\b`)

// scope wraps a transaction whose app.tenant_id setting is the tenant.
// Statements must reference $1, which it binds to the tenant.
type scope struct {
	tenant domain.TenantID
	tx     pgx.Tx
}

func (sc *scope) args(query string, args []any) ([]any, error) {
	if !tenantParam.MatchString(query) {
		return nil, fmt.Errorf("%w: %.60s", domain.ErrUnscopedQuery, query)
	}
	return append([]any{string(sc.tenant)}, args...), nil
}

func (sc *scope) exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	full, err := sc.args(query, args)
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	return sc.tx.Exec(ctx, query, full...)
}

func (sc *scope) query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	full, err := sc.args(query, args)
	if err != nil {
		return nil, err
	}
	return sc.tx.Query(ctx, query, full...)
}

func (sc *scope) queryRow(ctx context.Context, query string, args ...any) (pgx.Row, error) {
	full, err := sc.args(query, args)
	if err != nil {
		return nil, err
	}
	return sc.tx.QueryRow(ctx, query, full...), nil
}

// inTx runs fn in a transaction with row-level security bound to tenant.
func (s *Store) inTx(ctx context.Context, tenant domain.TenantID, fn func(sc *scope) error) error {
	if err := domain.RequireTenant(tenant); err != nil {
		return err
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `SELECT set_config('app.tenant_id', $1, true)`, string(tenant)); err != nil {
		return fmt.Errorf("binding tenant: %w", err)
	}
	if err := fn(&scope{tenant: tenant, tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// ==================== Helper Functions ====================

func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// affected returns ErrNotFound when a write touched no rows.
func affected(tag pgconn.CommandTag) error {
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func notFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// orEmpty keeps NOT NULL jsonb columns at '{}' instead of null.
func orEmpty[V any](m map[string]V) map[string]V {
	if m == nil {
		return map[string]V{}
	}
	return m
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

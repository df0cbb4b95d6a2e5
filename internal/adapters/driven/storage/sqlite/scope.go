package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// tenantParam matches the ?1 placeholder that always carries the tenant.
var tenantParam = regexp.MustCompile(`tenant_id\s*=\s*\?1\b|VALUES\s*\([^)]*\?1\b`)

// scope is the single path from the store to the database.
// It binds the tenant as parameter ?1 of every statement and refuses
// statements that do not reference it.
type scope struct {
	tenant domain.TenantID
	q      querier
}

// scoped returns a scope for tenant or domain.ErrMissingTenant.
func (s *Store) scoped(tenant domain.TenantID) (*scope, error) {
	if err := domain.RequireTenant(tenant); err != nil {
		return nil, err
	}
	return &scope{tenant: tenant, q: s.db}, nil
}

func (sc *scope) with(q querier) *scope {
	return &scope{tenant: sc.tenant, q: q}
}

func (sc *scope) args(query string, args []any) ([]any, error) {
	if !tenantParam.MatchString(query) {
		return nil, fmt.Errorf("%w: %.60s", domain.ErrUnscopedQuery, query)
	}
	return append([]any{string(sc.tenant)}, args...), nil
}

func (sc *scope) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	full, err := sc.args(query, args)
	if err != nil {
		return nil, err
	}
	return sc.q.ExecContext(ctx, query, full...)
}

func (sc *scope) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	full, err := sc.args(query, args)
	if err != nil {
		return nil, err
	}
	return sc.q.QueryContext(ctx, query, full...)
}

// queryRow returns an error instead of a *sql.Row when the statement is unscoped.
func (sc *scope) queryRow(ctx context.Context, query string, args ...any) (*sql.Row, error) {
	full, err := sc.args(query, args)
	if err != nil {
		return nil, err
	}
	return sc.q.QueryRowContext(ctx, query, full...), nil
}

// affected returns ErrNotFound when a write touched no rows.
func affected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

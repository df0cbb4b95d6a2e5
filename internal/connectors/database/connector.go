// Package database provides a connector that turns SQL query results
// into items, one per row.
package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql" // mysql driver
	_ "github.com/jackc/pgx/v5/stdlib" // postgres driver, registered as "pgx"
	_ "modernc.org/sqlite"             // sqlite driver

	"github.com/custodia-labs/sercha-ingest/internal/connectors"
	"github.com/custodia-labs/sercha-ingest/internal/connectors/fetch"
	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-ingest/internal/logger"
)

// Ensure Connector implements the interface.
var _ driven.Connector = (*Connector)(nil)

// Supported driver names and the database/sql driver each maps to.
var drivers = map[string]string{
	"sqlite":   "sqlite",
	"postgres": "pgx",
	"mysql":    "mysql",
}

// Config holds the database connector settings.
type Config struct {
	// Driver is one of sqlite, postgres, mysql.
	Driver string
	DSN    string
	Query  string
	// KeyColumn names the natural key column. Empty means the first column.
	KeyColumn string
	// TitleColumn optionally names a column used as the document title.
	TitleColumn string
	Retry       fetch.RetryPolicy
}

// Connector runs one query per fetch.
type Connector struct {
	cfg Config
	db  *sql.DB
}

// New opens (lazily) a connection pool for cfg.
func New(cfg Config) (*Connector, error) {
	name, ok := drivers[cfg.Driver]
	if !ok {
		return nil, fmt.Errorf("%w: database driver %q", domain.ErrInvalidInput, cfg.Driver)
	}
	if strings.TrimSpace(cfg.Query) == "" {
		return nil, fmt.Errorf("%w: query param required", domain.ErrInvalidInput)
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database connector: %w", domain.ErrCredentialsUnavailable)
	}
	db, err := sql.Open(name, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}
	db.SetMaxOpenConns(2)
	return &Connector{cfg: cfg, db: db}, nil
}

// Build is the ConnectorBuilder for database sources. Params: driver,
// query, key_column, title_column. The DSN comes from credentials; a
// sqlite source without credentials uses its location as the file path.
func Build(source domain.Source, creds driven.Credentials) (driven.Connector, error) {
	p := connectors.Params(source.Params)
	cfg := Config{
		Driver:      p.String("driver", "sqlite"),
		DSN:         creds.Secret,
		Query:       p.String("query", ""),
		KeyColumn:   p.String("key_column", ""),
		TitleColumn: p.String("title_column", ""),
	}
	if cfg.DSN == "" && cfg.Driver == "sqlite" {
		cfg.DSN = source.Location
	}
	return New(cfg)
}

// Kind returns the connector kind.
func (c *Connector) Kind() domain.ConnectorKind {
	return domain.ConnectorDatabase
}

// Validate pings the database, retrying transient failures.
func (c *Connector) Validate(ctx context.Context) error {
	err := fetch.Retry(ctx, c.cfg.Retry, func(ctx context.Context) error {
		return classify("ping", c.db.PingContext(ctx))
	})
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrConnectorValidation, err)
	}
	return nil
}

// Fetch runs the query and streams one item per row.
func (c *Connector) Fetch(ctx context.Context) (<-chan domain.RawItem, <-chan error) {
	items := make(chan domain.RawItem)
	errs := make(chan error, 1)

	go func() {
		defer close(items)
		defer close(errs)

		var rows *sql.Rows
		err := fetch.Retry(ctx, c.cfg.Retry, func(ctx context.Context) error {
			var err error
			rows, err = c.db.QueryContext(ctx, c.cfg.Query)
			return classify("query", err)
		})
		if err != nil {
			if ctx.Err() == nil {
				errs <- fmt.Errorf("running query: %w", err)
			}
			return
		}
		defer rows.Close()

		cols, err := rows.Columns()
		if err != nil {
			errs <- fmt.Errorf("reading columns: %w", err)
			return
		}
		keyIdx, titleIdx := 0, -1
		for i, col := range cols {
			if c.cfg.KeyColumn != "" && strings.EqualFold(col, c.cfg.KeyColumn) {
				keyIdx = i
			}
			if c.cfg.TitleColumn != "" && strings.EqualFold(col, c.cfg.TitleColumn) {
				titleIdx = i
			}
		}

		rowNum := 0
		for rows.Next() {
			rowNum++
			item := c.scan(rows, cols, keyIdx, titleIdx, rowNum)
			select {
			case items <- item:
			case <-ctx.Done():
				return
			}
		}
		if err := rows.Err(); err != nil && ctx.Err() == nil {
			errs <- fmt.Errorf("iterating rows: %w", err)
		}
	}()

	return items, errs
}

func (c *Connector) scan(rows *sql.Rows, cols []string, keyIdx, titleIdx, rowNum int) domain.RawItem {
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		key := "row:" + strconv.Itoa(rowNum)
		return domain.RawItem{NaturalKey: key, Err: &domain.TerminalItemError{ItemKey: key, Err: err}}
	}

	var sb strings.Builder
	for i, col := range cols {
		fmt.Fprintf(&sb, "%s: %s\n", col, render(values[i]))
	}

	key := render(values[keyIdx])
	if key == "" {
		key = "row:" + strconv.Itoa(rowNum)
	}
	meta := map[string]any{"driver": c.cfg.Driver, "row": rowNum, "key_column": cols[keyIdx]}
	if titleIdx >= 0 {
		meta["title"] = render(values[titleIdx])
	}

	return domain.RawItem{
		NaturalKey:  key,
		ContentType: "text/plain",
		Content:     []byte(sb.String()),
		Metadata:    meta,
	}
}

// render formats a driver value for text output.
func render(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(t)
	case string:
		return t
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprint(t)
	}
}

// classify marks connection-level failures transient.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, driver.ErrBadConn) || fetch.TransientNetError(err) {
		return &domain.TransientConnectorError{Op: op, Err: err}
	}
	return err
}

// Close closes the connection pool.
func (c *Connector) Close() error {
	if err := c.db.Close(); err != nil {
		logger.Warn("database connector: close: %v", err)
		return err
	}
	return nil
}

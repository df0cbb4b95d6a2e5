// Package urllist provides a connector that fetches a fixed list of URLs.
package urllist

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/custodia-labs/sercha-ingest/internal/connectors"
	"github.com/custodia-labs/sercha-ingest/internal/connectors/fetch"
	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
)

// Ensure Connector implements the interface.
var _ driven.Connector = (*Connector)(nil)

// DefaultRequestsPerSecond throttles fetches to one host-friendly rate.
const DefaultRequestsPerSecond = 2.0

// Connector fetches each URL once per run.
type Connector struct {
	urls   []string
	client *fetch.Client
	token  string
}

// Config holds the urllist connector settings.
type Config struct {
	// URLs to fetch, in order.
	URLs []string
	// Token, when set, is sent as a bearer token.
	Token string
	// Client settings: rate limit, retry, timeout.
	Client fetch.ClientConfig
}

// New creates a urllist connector.
func New(cfg Config) *Connector {
	if cfg.Client.RequestsPerSecond == 0 {
		cfg.Client.RequestsPerSecond = DefaultRequestsPerSecond
	}
	return &Connector{
		urls:   cfg.URLs,
		client: fetch.NewClient(cfg.Client),
		token:  cfg.Token,
	}
}

// Build is the ConnectorBuilder for urllist sources. The URL list comes
// from the location or the urls param. Params: requests_per_second,
// max_attempts, timeout_seconds.
func Build(source domain.Source, creds driven.Credentials) (driven.Connector, error) {
	p := connectors.Params(source.Params)
	urls := connectors.SplitList(source.Location)
	urls = append(urls, p.List("urls")...)

	rps, err := p.Float("requests_per_second", DefaultRequestsPerSecond)
	if err != nil {
		return nil, err
	}
	attempts, err := p.Int("max_attempts", 0)
	if err != nil {
		return nil, err
	}
	timeout, err := p.Int("timeout_seconds", 0)
	if err != nil {
		return nil, err
	}
	return New(Config{
		URLs:  urls,
		Token: creds.Secret,
		Client: fetch.ClientConfig{
			RequestsPerSecond: rps,
			Retry:             fetch.RetryPolicy{MaxAttempts: attempts},
			Timeout:           time.Duration(timeout) * time.Second,
		},
	}), nil
}

// Kind returns the connector kind.
func (c *Connector) Kind() domain.ConnectorKind {
	return domain.ConnectorURLList
}

// Validate checks every URL is an absolute http(s) URL.
// Reachability is checked per item during Fetch.
func (c *Connector) Validate(_ context.Context) error {
	if len(c.urls) == 0 {
		return fmt.Errorf("%w: no urls configured", domain.ErrConnectorValidation)
	}
	for _, raw := range c.urls {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w: invalid url %q", domain.ErrConnectorValidation, raw)
		}
	}
	return nil
}

// Fetch downloads each URL in order. Failures become item errors.
func (c *Connector) Fetch(ctx context.Context) (<-chan domain.RawItem, <-chan error) {
	items := make(chan domain.RawItem)
	errs := make(chan error, 1)

	go func() {
		defer close(items)
		defer close(errs)

		for _, u := range c.urls {
			item := c.get(ctx, u)
			if ctx.Err() != nil {
				return
			}
			select {
			case items <- item:
			case <-ctx.Done():
				return
			}
		}
	}()

	return items, errs
}

func (c *Connector) get(ctx context.Context, u string) domain.RawItem {
	item := domain.RawItem{NaturalKey: u}

	var header map[string][]string
	if c.token != "" {
		header = map[string][]string{"Authorization": {"Bearer " + c.token}}
	}
	resp, err := c.client.Get(ctx, u, header)
	if err != nil {
		item.Err = err
		return item
	}

	item.Content = resp.Body
	item.ContentType = fetch.ContentType(resp.ContentType, u, resp.Body)
	item.Metadata = map[string]any{
		"url":        u,
		"status":     resp.StatusCode,
		"fetched_at": time.Now().UTC(),
	}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		item.Metadata["last_modified"] = lm
	}
	return item
}

// Close releases resources.
func (c *Connector) Close() error {
	return nil
}

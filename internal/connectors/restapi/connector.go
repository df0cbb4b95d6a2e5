// Package restapi provides a connector for paginated JSON APIs.
//
// Each page is fetched with a GET, the item array is read at a dot path
// and every element becomes one item rendered as flattened "key: value"
// lines. Pagination follows a next-page URL found at another dot path.
package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/custodia-labs/sercha-ingest/internal/connectors"
	"github.com/custodia-labs/sercha-ingest/internal/connectors/fetch"
	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
)

// Ensure Connector implements the interface.
var _ driven.Connector = (*Connector)(nil)

// DefaultMaxPages bounds pagination.
const DefaultMaxPages = 100

// Config holds the restapi connector settings.
type Config struct {
	// URL is the first page.
	URL string
	// ItemsPath is the dot path of the item array. Empty means the
	// response body itself is the array.
	ItemsPath string
	// IDField is the dot path of each element's natural key.
	IDField string
	// TitleField optionally names the element field used as title.
	TitleField string
	// NextField is the dot path of the next page URL. Empty disables
	// pagination.
	NextField string
	MaxPages  int
	Token     string
	// OAuth, when enabled, replaces Token.
	OAuth  OAuth
	Client fetch.ClientConfig
}

// Connector walks the pages of one endpoint.
type Connector struct {
	cfg    Config
	client *fetch.Client
}

// New creates a restapi connector.
func New(cfg Config) *Connector {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = DefaultMaxPages
	}
	if cfg.IDField == "" {
		cfg.IDField = "id"
	}
	if cfg.OAuth.Enabled() && cfg.Client.HTTPClient == nil {
		cfg.Client.HTTPClient = cfg.OAuth.httpClient(cfg.Client.Timeout)
	}
	return &Connector{cfg: cfg, client: fetch.NewClient(cfg.Client)}
}

// Build is the ConnectorBuilder for restapi sources. Params: items_path,
// id_field, title_field, next_field, max_pages, requests_per_second,
// max_attempts. With token_url, client_id and optional scopes the
// credentials secret is used as the OAuth client secret.
func Build(source domain.Source, creds driven.Credentials) (driven.Connector, error) {
	p := connectors.Params(source.Params)
	pages, err := p.Int("max_pages", DefaultMaxPages)
	if err != nil {
		return nil, err
	}
	rps, err := p.Float("requests_per_second", 0)
	if err != nil {
		return nil, err
	}
	attempts, err := p.Int("max_attempts", 0)
	if err != nil {
		return nil, err
	}
	cfg := Config{
		URL:        strings.TrimSpace(source.Location),
		ItemsPath:  p.String("items_path", ""),
		IDField:    p.String("id_field", "id"),
		TitleField: p.String("title_field", ""),
		NextField:  p.String("next_field", ""),
		MaxPages:   pages,
		Token:      creds.Secret,
		Client: fetch.ClientConfig{
			RequestsPerSecond: rps,
			Retry:             fetch.RetryPolicy{MaxAttempts: attempts},
		},
	}
	if tokenURL := p.String("token_url", ""); tokenURL != "" {
		cfg.OAuth = OAuth{
			TokenURL:     tokenURL,
			ClientID:     p.String("client_id", ""),
			ClientSecret: creds.Secret,
			Scopes:       p.List("scopes"),
		}
		cfg.Token = ""
	}
	return New(cfg), nil
}

// Kind returns the connector kind.
func (c *Connector) Kind() domain.ConnectorKind {
	return domain.ConnectorRestAPI
}

// Validate checks the endpoint URL and OAuth settings.
func (c *Connector) Validate(_ context.Context) error {
	u, err := url.Parse(c.cfg.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: invalid endpoint %q", domain.ErrConnectorValidation, c.cfg.URL)
	}
	if c.cfg.OAuth.Enabled() {
		return c.cfg.OAuth.validate()
	}
	return nil
}

// Fetch walks pages until the next URL is empty, already seen or
// MaxPages is reached. An unreachable first page is a connector error.
// Any other page failure yields one item error and ends pagination.
func (c *Connector) Fetch(ctx context.Context) (<-chan domain.RawItem, <-chan error) {
	items := make(chan domain.RawItem)
	errs := make(chan error, 1)

	go func() {
		defer close(items)
		defer close(errs)

		send := func(item domain.RawItem) bool {
			select {
			case items <- item:
				return true
			case <-ctx.Done():
				return false
			}
		}

		seen := make(map[string]bool)
		next := c.cfg.URL
		for page := 1; next != "" && page <= c.cfg.MaxPages && !seen[next]; page++ {
			seen[next] = true
			elems, nextURL, err := c.page(ctx, next)
			if ctx.Err() != nil {
				return
			}
			if err != nil && page == 1 && domain.IsUnreachable(err) {
				errs <- fmt.Errorf("endpoint unreachable: %w", err)
				return
			}
			if err != nil {
				key := "page:" + next
				if !domain.IsItemScoped(err) {
					err = &domain.TerminalItemError{ItemKey: key, Err: err}
				}
				send(domain.RawItem{NaturalKey: key, Err: err})
				return
			}
			for i, elem := range elems {
				if !send(c.item(elem, next, page, i)) {
					return
				}
			}
			next = nextURL
		}
	}()

	return items, errs
}

func (c *Connector) page(ctx context.Context, pageURL string) ([]any, string, error) {
	header := map[string][]string{"Accept": {"application/json"}}
	if c.cfg.Token != "" {
		header["Authorization"] = []string{"Bearer " + c.cfg.Token}
	}
	resp, err := c.client.Get(ctx, pageURL, header)
	if err != nil {
		return nil, "", err
	}

	dec := json.NewDecoder(bytes.NewReader(resp.Body))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, "", fmt.Errorf("decoding page: %w", err)
	}

	raw, ok := Lookup(doc, c.cfg.ItemsPath)
	if !ok {
		return nil, "", fmt.Errorf("items path %q not found", c.cfg.ItemsPath)
	}
	elems, ok := raw.([]any)
	if !ok {
		return nil, "", fmt.Errorf("items path %q is not an array", c.cfg.ItemsPath)
	}

	var next string
	if c.cfg.NextField != "" {
		if v, ok := Lookup(doc, c.cfg.NextField); ok {
			next = resolve(pageURL, scalar(v))
		}
	}
	return elems, next, nil
}

func (c *Connector) item(elem any, pageURL string, page, index int) domain.RawItem {
	key := ""
	if v, ok := Lookup(elem, c.cfg.IDField); ok {
		key = scalar(v)
	}
	if key == "" {
		key = pageURL + "#" + strconv.Itoa(index)
	}

	meta := map[string]any{
		"url":        pageURL,
		"page":       page,
		"fetched_at": time.Now().UTC(),
	}
	if c.cfg.TitleField != "" {
		if v, ok := Lookup(elem, c.cfg.TitleField); ok {
			meta["title"] = scalar(v)
		}
	}

	return domain.RawItem{
		NaturalKey:  key,
		ContentType: "text/plain",
		Content:     []byte(Flatten(elem)),
		Metadata:    meta,
	}
}

// Close releases resources.
func (c *Connector) Close() error {
	return nil
}

// Lookup follows a dot path through decoded JSON. Numeric segments index
// arrays. An empty path returns v.
func Lookup(v any, path string) (any, bool) {
	if path == "" {
		return v, true
	}
	cur := v
	for _, part := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[part]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			i, err := strconv.Atoi(part)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

// Flatten renders decoded JSON as sorted "a.b: value" lines.
func Flatten(v any) string {
	var lines []string
	flatten("", v, &lines)
	sort.Strings(lines)
	return strings.Join(lines, "\n")
}

func flatten(prefix string, v any, lines *[]string) {
	join := func(k string) string {
		if prefix == "" {
			return k
		}
		return prefix + "." + k
	}
	switch node := v.(type) {
	case map[string]any:
		for k, child := range node {
			flatten(join(k), child, lines)
		}
	case []any:
		for i, child := range node {
			flatten(join(strconv.Itoa(i)), child, lines)
		}
	default:
		if prefix == "" {
			prefix = "value"
		}
		*lines = append(*lines, prefix+": "+scalar(v))
	}
}

func scalar(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

// resolve makes a next-page reference absolute against the current page.
func resolve(base, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	return b.ResolveReference(r).String()
}

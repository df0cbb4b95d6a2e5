package restapi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/custodia-labs/sercha-ingest/internal/connectors/fetch"
	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
)

// OAuth configures the client-credentials grant. When TokenURL is set,
// requests carry the access token issued by the token endpoint instead
// of a static bearer token.
type OAuth struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

// Enabled reports whether the grant is configured.
func (o OAuth) Enabled() bool {
	return o.TokenURL != ""
}

func (o OAuth) validate() error {
	u, err := url.Parse(o.TokenURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: invalid token_url %q", domain.ErrConnectorValidation, o.TokenURL)
	}
	if o.ClientID == "" || o.ClientSecret == "" {
		return fmt.Errorf("%w: client_id and a client secret are required with token_url", domain.ErrConnectorValidation)
	}
	return nil
}

// httpClient returns a client that fetches and refreshes tokens as
// needed. Tokens are cached until they expire.
func (o OAuth) httpClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = fetch.DefaultTimeout
	}
	cc := clientcredentials.Config{
		ClientID:     o.ClientID,
		ClientSecret: o.ClientSecret,
		TokenURL:     o.TokenURL,
		Scopes:       o.Scopes,
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, &http.Client{Timeout: timeout})
	return &http.Client{
		Timeout: timeout,
		Transport: &oauth2.Transport{
			Source: cc.TokenSource(ctx),
			Base:   http.DefaultTransport,
		},
	}
}

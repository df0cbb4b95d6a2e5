package mcp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/sercha-ingest/internal/logger"
)

// Version is the MCP server version.
const Version = "0.1.0"

const (
	readHeaderTimeout = 10 * time.Second
	drainTimeout      = 5 * time.Second
)

// Server exposes retrieval and job control for a single tenant.
type Server struct {
	ports *Ports
	mcp   *mcp.Server
}

// NewServer validates ports and registers the tools and resources.
func NewServer(ports *Ports) (*Server, error) {
	if err := ports.Validate(); err != nil {
		return nil, fmt.Errorf("validating ports: %w", err)
	}

	s := &Server{
		ports: ports,
		mcp: mcp.NewServer(&mcp.Implementation{
			Name:    "sercha-ingest",
			Title:   "sercha-ingest (" + string(ports.Tenant) + ")",
			Version: Version,
		}, &mcp.ServerOptions{
			Instructions: instructions(ports),
		}),
	}
	s.registerTools()
	s.registerResources()
	return s, nil
}

func instructions(p *Ports) string {
	text := fmt.Sprintf("All calls act on tenant %q. ", p.Tenant) +
		"Use retrieve to search ingested content and submit_job to ingest a new source."
	if p.Sources != nil {
		text += " Registered sources are listed under sercha://sources."
	}
	return text
}

// Handler serves the streamable HTTP transport.
func (s *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return s.mcp }, nil)
}

// Serve blocks until ctx is done. An empty addr speaks JSON-RPC on
// stdio; otherwise streamable HTTP is served on addr.
func (s *Server) Serve(ctx context.Context, addr string) error {
	if addr == "" {
		logger.Debug("mcp: serving tenant %s on stdio", s.ports.Tenant)
		return s.mcp.Run(ctx, &mcp.StdioTransport{})
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return s.serveHTTP(ctx, ln)
}

func (s *Server) serveHTTP(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: readHeaderTimeout}
	logger.Info("mcp: serving tenant %s on http://%s", s.ports.Tenant, ln.Addr())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		drain, cancel := context.WithTimeout(context.WithoutCancel(ctx), drainTimeout)
		defer cancel()
		return srv.Shutdown(drain)
	})
	return g.Wait()
}

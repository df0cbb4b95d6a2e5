package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
)

const (
	scheme = "sercha://"

	sourcesURI   = scheme + "sources"
	jobsURI      = scheme + "jobs"
	documentsURI = scheme + "sources/{id}/documents"

	recentJobs = 20
)

func (s *Server) registerResources() {
	s.mcp.AddResource(&mcp.Resource{
		URI:         sourcesURI,
		Name:        "sources",
		Description: "Sources registered for this tenant",
		MIMEType:    "application/json",
	}, s.readSources)

	s.mcp.AddResource(&mcp.Resource{
		URI:         jobsURI,
		Name:        "jobs",
		Description: "The most recent ingestion jobs, newest first",
		MIMEType:    "application/json",
	}, s.readJobs)

	s.mcp.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: documentsURI,
		Name:        "source-documents",
		Description: "Current documents of one source",
		MIMEType:    "application/json",
	}, s.readDocuments)
}

type sourceEntry struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Location  string    `json:"location"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type documentEntry struct {
	ID        string    `json:"id"`
	Key       string    `json:"key"`
	Title     string    `json:"title,omitempty"`
	Version   int       `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s *Server) readSources(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	entries := []sourceEntry{}
	if s.ports.Sources == nil {
		return asJSON(req.Params.URI, entries)
	}

	sources, err := s.ports.Sources.ListSources(ctx, s.ports.Tenant)
	if err != nil {
		return nil, fmt.Errorf("listing sources: %w", err)
	}
	for i := range sources {
		src := &sources[i]
		if src.IsDeleted() {
			continue
		}
		entries = append(entries, sourceEntry{
			ID:        src.ID,
			Kind:      string(src.Kind),
			Location:  src.Location,
			Active:    src.Active,
			CreatedAt: src.CreatedAt,
		})
	}
	return asJSON(req.Params.URI, entries)
}

func (s *Server) readJobs(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	jobs, err := s.ports.Jobs.List(ctx, s.ports.Tenant, domain.JobFilter{Limit: recentJobs})
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	out := make([]JobOutput, len(jobs))
	for i := range jobs {
		out[i] = toJobOutput(&jobs[i])
	}
	return asJSON(req.Params.URI, out)
}

func (s *Server) readDocuments(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	uri := req.Params.URI
	sourceID, ok := matchTemplate(documentsURI, uri)
	if !ok || s.ports.Sources == nil {
		return nil, mcp.ResourceNotFoundError(uri)
	}

	docs, err := s.ports.Sources.ListDocuments(ctx, s.ports.Tenant, sourceID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return nil, mcp.ResourceNotFoundError(uri)
	case err != nil:
		return nil, fmt.Errorf("listing documents: %w", err)
	}

	entries := make([]documentEntry, 0, len(docs))
	for i := range docs {
		d := &docs[i]
		entries = append(entries, documentEntry{
			ID:        d.ID,
			Key:       d.NaturalKey,
			Title:     d.Title,
			Version:   d.CurrentVersion,
			UpdatedAt: d.UpdatedAt,
		})
	}
	return asJSON(uri, entries)
}

// matchTemplate matches uri against a template holding one {id}
// placeholder and returns the value it stands for. The value may not
// contain a slash.
func matchTemplate(template, uri string) (string, bool) {
	before, after, found := strings.Cut(template, "{id}")
	if !found || len(uri) <= len(before)+len(after) ||
		!strings.HasPrefix(uri, before) || !strings.HasSuffix(uri, after) {
		return "", false
	}
	id := uri[len(before) : len(uri)-len(after)]
	if strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}

func asJSON(uri string, v any) (*mcp.ReadResourceResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", uri, err)
	}
	return &mcp.ReadResourceResult{Contents: []*mcp.ResourceContents{{
		URI:      uri,
		MIMEType: "application/json",
		Text:     string(data),
	}}}, nil
}

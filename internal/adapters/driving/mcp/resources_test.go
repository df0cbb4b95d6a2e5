package mcp

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
)

func TestMatchTemplate(t *testing.T) {
	tests := []struct {
		uri    string
		want   string
		wantOK bool
	}{
		{"sercha://sources/src-1/documents", "src-1", true},
		{"sercha://sources/src-1", "", false},
		{"sercha://sources//documents", "", false},
		{"sercha://sources/documents", "", false},
		{"sercha://sources/a/b/documents", "", false},
		{"other://sources/src-1/documents", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			got, ok := matchTemplate(documentsURI, tt.uri)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func readReq(uri string) *mcp.ReadResourceRequest {
	return &mcp.ReadResourceRequest{Params: &mcp.ReadResourceParams{URI: uri}}
}

func TestServer_readSources(t *testing.T) {
	ctx := context.Background()

	t.Run("no source service", func(t *testing.T) {
		s := newTestServer(t, &Ports{})

		res, err := s.readSources(ctx, readReq(sourcesURI))
		require.NoError(t, err)
		require.Len(t, res.Contents, 1)
		assert.Equal(t, "[]", res.Contents[0].Text)
		assert.Equal(t, "application/json", res.Contents[0].MIMEType)
	})

	t.Run("hides deleted sources", func(t *testing.T) {
		deleted := time.Now()
		sources := &mockSourceService{sources: []domain.Source{
			{ID: "src-1", Kind: domain.ConnectorLocalDir, Location: "/home/docs", Active: true},
			{ID: "src-2", Kind: domain.ConnectorURLList, Location: "https://old", DeletedAt: &deleted},
		}}
		s := newTestServer(t, &Ports{Sources: sources})

		res, err := s.readSources(ctx, readReq(sourcesURI))
		require.NoError(t, err)
		text := res.Contents[0].Text
		assert.Contains(t, text, `"id": "src-1"`)
		assert.Contains(t, text, `"kind": "localdir"`)
		assert.NotContains(t, text, "src-2")
	})

	t.Run("list failure", func(t *testing.T) {
		s := newTestServer(t, &Ports{Sources: &mockSourceService{err: errors.New("database error")}})

		_, err := s.readSources(ctx, readReq(sourcesURI))
		assert.ErrorContains(t, err, "listing sources")
	})
}

func TestServer_readJobs(t *testing.T) {
	ctx := context.Background()

	t.Run("recent jobs", func(t *testing.T) {
		jobs := &mockJobService{jobs: []domain.Job{
			{ID: "job-2", SourceID: "src-1", Status: domain.JobRunning},
			{ID: "job-1", SourceID: "src-1", Status: domain.JobFailed, LastError: "boom"},
		}}
		s := newTestServer(t, &Ports{Jobs: jobs})

		res, err := s.readJobs(ctx, readReq(jobsURI))
		require.NoError(t, err)
		assert.Equal(t, recentJobs, jobs.gotFilter.Limit)
		assert.Equal(t, domain.TenantID("acme"), jobs.gotTenant)
		text := res.Contents[0].Text
		assert.Less(t, strings.Index(text, "job-2"), strings.Index(text, "job-1"))
		assert.Contains(t, text, `"last_error": "boom"`)
	})

	t.Run("list failure", func(t *testing.T) {
		s := newTestServer(t, &Ports{Jobs: &mockJobService{err: errors.New("locked")}})

		_, err := s.readJobs(ctx, readReq(jobsURI))
		assert.ErrorContains(t, err, "listing jobs")
	})
}

func TestServer_readDocuments(t *testing.T) {
	ctx := context.Background()
	uri := "sercha://sources/s1/documents"

	t.Run("no source service", func(t *testing.T) {
		s := newTestServer(t, &Ports{})
		_, err := s.readDocuments(ctx, readReq(uri))
		assert.Error(t, err)
	})

	t.Run("malformed uri", func(t *testing.T) {
		sources := &mockSourceService{}
		s := newTestServer(t, &Ports{Sources: sources})
		_, err := s.readDocuments(ctx, readReq("sercha://sources/s1"))
		assert.Error(t, err)
		assert.Empty(t, sources.gotSourceID)
	})

	t.Run("lists documents", func(t *testing.T) {
		sources := &mockSourceService{documents: []domain.Document{
			{ID: "d1", NaturalKey: "/docs/a.txt", Title: "A", CurrentVersion: 2},
		}}
		s := newTestServer(t, &Ports{Sources: sources})

		res, err := s.readDocuments(ctx, readReq(uri))
		require.NoError(t, err)
		assert.Equal(t, "s1", sources.gotSourceID)
		assert.Contains(t, res.Contents[0].Text, `"key": "/docs/a.txt"`)
		assert.Contains(t, res.Contents[0].Text, `"version": 2`)
	})

	t.Run("unknown source", func(t *testing.T) {
		s := newTestServer(t, &Ports{Sources: &mockSourceService{err: domain.ErrNotFound}})
		_, err := s.readDocuments(ctx, readReq("sercha://sources/s9/documents"))
		require.Error(t, err)
		assert.NotContains(t, err.Error(), "listing documents")
	})
}

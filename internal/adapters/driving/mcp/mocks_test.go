package mcp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driving"
)

// mockRetrievalService is a mock implementation of driving.RetrievalService.
type mockRetrievalService struct {
	results []domain.RankedChunk
	err     error

	gotTenant domain.TenantID
	gotOpts   driving.RetrieveOptions
	gotMax    int
}

func (m *mockRetrievalService) Retrieve(
	_ context.Context,
	tenant domain.TenantID,
	_ string,
	opts driving.RetrieveOptions,
) ([]domain.RankedChunk, error) {
	m.gotTenant = tenant
	m.gotOpts = opts
	return m.results, m.err
}

func (m *mockRetrievalService) AssembleContext(
	question string,
	chunks []domain.RankedChunk,
	maxChars int,
) domain.RetrievalContext {
	m.gotMax = maxChars
	return domain.RetrievalContext{Question: question, Text: "context", Sources: chunks}
}

// mockJobService is a mock implementation of driving.JobService.
type mockJobService struct {
	job  *domain.Job
	jobs []domain.Job
	err  error

	gotTenant domain.TenantID
	gotReq    driving.SubmitRequest
	gotJobID  string
	gotFilter domain.JobFilter
}

func (m *mockJobService) Submit(_ context.Context, tenant domain.TenantID, req driving.SubmitRequest) (*domain.Job, error) {
	m.gotTenant = tenant
	m.gotReq = req
	return m.job, m.err
}

func (m *mockJobService) Status(_ context.Context, tenant domain.TenantID, jobID string) (*domain.Job, error) {
	m.gotTenant = tenant
	m.gotJobID = jobID
	return m.job, m.err
}

func (m *mockJobService) Logs(_ context.Context, _ domain.TenantID, _ string) ([]domain.JobLogEntry, error) {
	return nil, m.err
}

func (m *mockJobService) List(_ context.Context, tenant domain.TenantID, filter domain.JobFilter) ([]domain.Job, error) {
	m.gotTenant = tenant
	m.gotFilter = filter
	return m.jobs, m.err
}

func (m *mockJobService) Cancel(_ context.Context, tenant domain.TenantID, jobID string) (*domain.Job, error) {
	m.gotTenant = tenant
	m.gotJobID = jobID
	return m.job, m.err
}

func (m *mockJobService) Retry(_ context.Context, _ domain.TenantID, _ string) (*domain.Job, error) {
	return m.job, m.err
}

func (m *mockJobService) Wait(_ context.Context, _ domain.TenantID, _ string) (*domain.Job, error) {
	return m.job, m.err
}

func (m *mockJobService) Recover(_ context.Context, _ domain.TenantID) ([]string, error) {
	return nil, m.err
}

// mockSourceService is a mock implementation of driving.SourceService.
type mockSourceService struct {
	sources   []domain.Source
	documents []domain.Document
	err       error

	gotSourceID string
}

func (m *mockSourceService) ListSources(_ context.Context, _ domain.TenantID) ([]domain.Source, error) {
	return m.sources, m.err
}

func (m *mockSourceService) RemoveSource(_ context.Context, _ domain.TenantID, _ string) error {
	return m.err
}

func (m *mockSourceService) ListDocuments(_ context.Context, _ domain.TenantID, sourceID string) ([]domain.Document, error) {
	m.gotSourceID = sourceID
	return m.documents, m.err
}

func (m *mockSourceService) SaveDefinition(
	_ context.Context,
	_ domain.TenantID,
	_ driving.DefinitionRequest,
) (*domain.ConnectorDefinition, error) {
	return nil, m.err
}

func (m *mockSourceService) ListDefinitions(_ context.Context, _ domain.TenantID) ([]domain.ConnectorDefinition, error) {
	return nil, m.err
}

func (m *mockSourceService) RemoveDefinition(_ context.Context, _ domain.TenantID, _ string) error {
	return m.err
}

func newTestServer(t *testing.T, ports *Ports) *Server {
	t.Helper()
	if ports.Tenant == "" {
		ports.Tenant = "acme"
	}
	if ports.Retrieval == nil {
		ports.Retrieval = &mockRetrievalService{}
	}
	if ports.Jobs == nil {
		ports.Jobs = &mockJobService{}
	}
	s, err := NewServer(ports)
	require.NoError(t, err)
	return s
}

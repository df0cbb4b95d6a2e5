package cli

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driving"
	"github.com/custodia-labs/sercha-ingest/internal/core/services"
)

// mockJobService implements driving.JobService for testing.
type mockJobService struct {
	mu sync.Mutex

	job     *domain.Job
	final   *domain.Job
	jobs    []domain.Job
	logs    []domain.JobLogEntry
	ids     []string
	err     error
	waitErr error

	// waitFor, when set, blocks Wait until closed.
	waitFor chan struct{}

	gotTenant domain.TenantID
	gotReq    driving.SubmitRequest
	gotFilter domain.JobFilter
	cancelled []string
}

func (m *mockJobService) record(tenant domain.TenantID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gotTenant = tenant
}

func (m *mockJobService) Submit(_ context.Context, tenant domain.TenantID, req driving.SubmitRequest) (*domain.Job, error) {
	m.record(tenant)
	m.gotReq = req
	return m.job, m.err
}

func (m *mockJobService) Status(_ context.Context, tenant domain.TenantID, _ string) (*domain.Job, error) {
	m.record(tenant)
	return m.job, m.err
}

func (m *mockJobService) Logs(_ context.Context, tenant domain.TenantID, _ string) ([]domain.JobLogEntry, error) {
	m.record(tenant)
	return m.logs, m.err
}

func (m *mockJobService) List(_ context.Context, tenant domain.TenantID, filter domain.JobFilter) ([]domain.Job, error) {
	m.record(tenant)
	m.gotFilter = filter
	return m.jobs, m.err
}

func (m *mockJobService) Cancel(_ context.Context, tenant domain.TenantID, jobID string) (*domain.Job, error) {
	m.record(tenant)
	m.mu.Lock()
	m.cancelled = append(m.cancelled, jobID)
	m.mu.Unlock()
	return m.job, m.err
}

func (m *mockJobService) Retry(_ context.Context, tenant domain.TenantID, _ string) (*domain.Job, error) {
	m.record(tenant)
	return m.job, m.err
}

func (m *mockJobService) Wait(_ context.Context, _ domain.TenantID, _ string) (*domain.Job, error) {
	if m.waitFor != nil {
		<-m.waitFor
	}
	if m.waitErr != nil {
		return nil, m.waitErr
	}
	if m.final != nil {
		return m.final, nil
	}
	return m.job, nil
}

func (m *mockJobService) Recover(_ context.Context, tenant domain.TenantID) ([]string, error) {
	m.record(tenant)
	return m.ids, m.err
}

func (m *mockJobService) cancelledIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.cancelled...)
}

// mockRetrievalService implements driving.RetrievalService for testing.
type mockRetrievalService struct {
	results []domain.RankedChunk
	err     error

	gotQuery string
	gotOpts  driving.RetrieveOptions
	gotMax   int
}

func (m *mockRetrievalService) Retrieve(
	_ context.Context,
	_ domain.TenantID,
	query string,
	opts driving.RetrieveOptions,
) ([]domain.RankedChunk, error) {
	m.gotQuery = query
	m.gotOpts = opts
	return m.results, m.err
}

func (m *mockRetrievalService) AssembleContext(question string, chunks []domain.RankedChunk, maxChars int) domain.RetrievalContext {
	m.gotMax = maxChars
	return domain.RetrievalContext{Question: question, Text: "[1] context", Sources: chunks}
}

// mockSourceService implements driving.SourceService for testing.
type mockSourceService struct {
	sources     []domain.Source
	documents   []domain.Document
	definitions []domain.ConnectorDefinition
	err         error

	gotDefinition driving.DefinitionRequest
	removed       string
}

func (m *mockSourceService) ListSources(_ context.Context, _ domain.TenantID) ([]domain.Source, error) {
	return m.sources, m.err
}

func (m *mockSourceService) RemoveSource(_ context.Context, _ domain.TenantID, id string) error {
	m.removed = id
	return m.err
}

func (m *mockSourceService) ListDocuments(_ context.Context, _ domain.TenantID, _ string) ([]domain.Document, error) {
	return m.documents, m.err
}

func (m *mockSourceService) SaveDefinition(
	_ context.Context,
	tenant domain.TenantID,
	req driving.DefinitionRequest,
) (*domain.ConnectorDefinition, error) {
	// Secret is cleared by the real service after sealing; keep a copy.
	req.Secret = bytes.Clone(req.Secret)
	m.gotDefinition = req
	if m.err != nil {
		return nil, m.err
	}
	return &domain.ConnectorDefinition{ID: "def-1", TenantID: tenant, Name: req.Name, Kind: req.Kind}, nil
}

func (m *mockSourceService) ListDefinitions(_ context.Context, _ domain.TenantID) ([]domain.ConnectorDefinition, error) {
	return m.definitions, m.err
}

func (m *mockSourceService) RemoveDefinition(_ context.Context, _ domain.TenantID, id string) error {
	m.removed = id
	return m.err
}

// mockAnswerer implements driven.AnswerGenerator for testing.
type mockAnswerer struct {
	tokens []string
	err    error

	gotContext string
}

func (m *mockAnswerer) Generate(_ context.Context, _, contextText string, onToken func(string)) (string, error) {
	m.gotContext = contextText
	if m.err != nil {
		return "", m.err
	}
	var out string
	for _, tok := range m.tokens {
		if onToken != nil {
			onToken(tok)
		}
		out += tok
	}
	return out, nil
}

type mockCatalog struct {
	infos []services.ConnectorInfo
}

func (m *mockCatalog) Describe() []services.ConnectorInfo {
	return m.infos
}

// mockWorker blocks until ctx is done, like the dispatcher.
type mockWorker struct {
	started chan struct{}
}

func (m *mockWorker) Start(ctx context.Context) error {
	close(m.started)
	<-ctx.Done()
	return ctx.Err()
}

func (m *mockWorker) Stop() error { return nil }

type mockMetricsServer struct {
	gotAddr string
}

func (m *mockMetricsServer) Serve(ctx context.Context, addr string) error {
	m.gotAddr = addr
	<-ctx.Done()
	return nil
}

// withServices installs svc for the duration of the test.
func withServices(t *testing.T, svc *Services) {
	t.Helper()
	old := Services{
		Jobs:       jobService,
		Retrieval:  retrievalService,
		Sources:    sourceService,
		Connectors: connectorCatalog,
		Answerer:   answerGenerator,
		Embedder:   embedder,
		Dispatcher: dispatcher,
		Metrics:    metricsServer,
		Close:      closer,
	}
	useServices(svc)
	t.Cleanup(func() { useServices(&old) })
}

// resetFlags restores every flag to its default so tests sharing rootCmd
// do not leak values into each other.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if f.Value.Type() != "stringToString" {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// run executes rootCmd with args against a scratch data directory.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return execute(t, context.Background(), "", args...)
}

func execute(t *testing.T, ctx context.Context, stdin string, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	setContext(rootCmd, ctx)
	submitParams = map[string]string{}
	connectorParams = map[string]string{}

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(append(args, "--data-dir", t.TempDir()))
	defer func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetIn(nil)
	}()

	err := rootCmd.Execute()
	return buf.String(), err
}

// setContext overrides the context cobra caches on every command after
// the first execution.
func setContext(cmd *cobra.Command, ctx context.Context) {
	cmd.SetContext(ctx)
	for _, c := range cmd.Commands() {
		setContext(c, ctx)
	}
}

type mockModelChecker struct {
	err   error
	calls int
}

func (m *mockModelChecker) Init(context.Context) error {
	m.calls++
	return m.err
}

package mcp

import (
	"context"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driving"
)

// RetrieveInput is the input schema for the retrieve tool.
type RetrieveInput struct {
	Query    string `json:"query" jsonschema:"the question or text to find relevant passages for"`
	K        int    `json:"k,omitempty" jsonschema:"number of passages to return (server default when omitted)"`
	Hybrid   bool   `json:"hybrid,omitempty" jsonschema:"fuse keyword matching into the vector ranking"`
	MaxChars int    `json:"max_chars,omitempty" jsonschema:"character budget for the assembled context (0 for unbounded)"`
}

// RetrieveOutput is the output schema for the retrieve tool.
type RetrieveOutput struct {
	Context string          `json:"context"`
	Results []PassageOutput `json:"results"`
	Count   int             `json:"count"`
}

// PassageOutput is one ranked chunk with its citation.
type PassageOutput struct {
	ChunkID    string    `json:"chunk_id"`
	DocumentID string    `json:"document_id"`
	Key        string    `json:"key"`
	Title      string    `json:"title,omitempty"`
	SourceID   string    `json:"source_id"`
	Location   string    `json:"location"`
	Ordinal    int       `json:"ordinal"`
	Version    int       `json:"version"`
	VersionAt  time.Time `json:"version_at"`
	Distance   float64   `json:"distance"`
	Score      float64   `json:"score"`
	Content    string    `json:"content"`
}

// SubmitJobInput is the input schema for the submit_job tool.
type SubmitJobInput struct {
	Kind         string            `json:"kind,omitempty" jsonschema:"connector kind: localdir, urllist, database or restapi"`
	Location     string            `json:"location" jsonschema:"directory, URL list, database target or endpoint to ingest"`
	DefinitionID string            `json:"definition_id,omitempty" jsonschema:"stored connector definition to use"`
	Params       map[string]string `json:"params,omitempty" jsonschema:"connector parameters"`
}

// JobIDInput selects one job.
type JobIDInput struct {
	JobID string `json:"job_id" jsonschema:"the job identifier"`
}

// JobOutput is the output schema for the job tools.
type JobOutput struct {
	ID             string     `json:"id"`
	SourceID       string     `json:"source_id"`
	Status         string     `json:"status"`
	RetryOf        string     `json:"retry_of,omitempty"`
	ItemsSeen      int        `json:"items_seen"`
	ItemsProcessed int        `json:"items_processed"`
	ItemsSkipped   int        `json:"items_skipped"`
	ChunksWritten  int        `json:"chunks_written"`
	LastError      string     `json:"last_error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}

// registerTools registers all tool handlers with the MCP server.
func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "retrieve",
		Description: "Retrieve the passages most relevant to a question, with citations",
	}, s.handleRetrieve)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "submit_job",
		Description: "Start an ingestion job for a source",
	}, s.handleSubmitJob)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "job_status",
		Description: "Report the status and progress of an ingestion job",
	}, s.handleJobStatus)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "cancel_job",
		Description: "Request cancellation of an ingestion job",
	}, s.handleCancelJob)
}

func (s *Server) handleRetrieve(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input RetrieveInput,
) (*mcp.CallToolResult, RetrieveOutput, error) {
	chunks, err := s.ports.Retrieval.Retrieve(ctx, s.ports.Tenant, input.Query, driving.RetrieveOptions{
		K:      input.K,
		Hybrid: input.Hybrid,
	})
	if err != nil {
		return nil, RetrieveOutput{}, err
	}

	rc := s.ports.Retrieval.AssembleContext(input.Query, chunks, input.MaxChars)
	output := RetrieveOutput{
		Context: rc.Text,
		Results: make([]PassageOutput, len(chunks)),
		Count:   len(chunks),
	}
	for i := range chunks {
		output.Results[i] = toPassage(&chunks[i])
	}
	return nil, output, nil
}

func (s *Server) handleSubmitJob(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input SubmitJobInput,
) (*mcp.CallToolResult, JobOutput, error) {
	req := driving.SubmitRequest{
		Location:     input.Location,
		DefinitionID: input.DefinitionID,
		Params:       input.Params,
	}
	if input.Kind != "" {
		kind, err := domain.ParseConnectorKind(input.Kind)
		if err != nil {
			return nil, JobOutput{}, err
		}
		req.Kind = kind
	}

	job, err := s.ports.Jobs.Submit(ctx, s.ports.Tenant, req)
	if err != nil {
		return nil, JobOutput{}, err
	}
	return nil, toJobOutput(job), nil
}

func (s *Server) handleJobStatus(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input JobIDInput,
) (*mcp.CallToolResult, JobOutput, error) {
	job, err := s.ports.Jobs.Status(ctx, s.ports.Tenant, input.JobID)
	if err != nil {
		return nil, JobOutput{}, err
	}
	return nil, toJobOutput(job), nil
}

func (s *Server) handleCancelJob(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input JobIDInput,
) (*mcp.CallToolResult, JobOutput, error) {
	job, err := s.ports.Jobs.Cancel(ctx, s.ports.Tenant, input.JobID)
	if err != nil {
		return nil, JobOutput{}, err
	}
	return nil, toJobOutput(job), nil
}

func toPassage(c *domain.RankedChunk) PassageOutput {
	return PassageOutput{
		ChunkID:    c.ChunkID,
		DocumentID: c.DocumentID,
		Key:        c.NaturalKey,
		Title:      c.Title,
		SourceID:   c.SourceID,
		Location:   c.SourceLocation,
		Ordinal:    c.Ordinal,
		Version:    c.Version,
		VersionAt:  c.VersionAt,
		Distance:   c.Distance,
		Score:      c.Score,
		Content:    c.Content,
	}
}

func toJobOutput(j *domain.Job) JobOutput {
	return JobOutput{
		ID:             j.ID,
		SourceID:       j.SourceID,
		Status:         string(j.Status),
		RetryOf:        j.RetryOf,
		ItemsSeen:      j.Counters.ItemsSeen,
		ItemsProcessed: j.Counters.ItemsProcessed,
		ItemsSkipped:   j.Counters.ItemsSkipped,
		ChunksWritten:  j.Counters.ChunksWritten,
		LastError:      j.LastError,
		CreatedAt:      j.CreatedAt,
		StartedAt:      j.StartedAt,
		FinishedAt:     j.FinishedAt,
	}
}

package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/sercha-ingest/internal/adapters/driving/mcp"
)

var mcpAddr string

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Expose retrieval to assistants over the Model Context Protocol",
	Long: `Serves one tenant to MCP clients.

Tools: retrieve, submit_job, job_status, cancel_job.
Resources: sercha://sources and sercha://sources/{id}/documents.

Without --addr the server speaks JSON-RPC on stdio, which is what
desktop assistants launch. With --addr it serves streamable HTTP.

Examples:
  sercha-ingest mcp --tenant acme
  sercha-ingest mcp --tenant acme --addr 127.0.0.1:8080`,
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func init() {
	mcpCmd.Flags().StringVar(&mcpAddr, "addr", "", "serve streamable HTTP on this address instead of stdio")
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(cmd *cobra.Command, _ []string) error {
	if retrievalService == nil || jobService == nil {
		return errors.New("retrieval and job services not configured")
	}
	tenant, err := currentTenant()
	if err != nil {
		return err
	}

	if err := checkModel(cmd.Context()); err != nil {
		return err
	}

	server, err := mcp.NewServer(&mcp.Ports{
		Tenant:    tenant,
		Retrieval: retrievalService,
		Jobs:      jobService,
		Sources:   sourceService,
	})
	if err != nil {
		return err
	}
	return server.Serve(cmd.Context(), mcpAddr)
}

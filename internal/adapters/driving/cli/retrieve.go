package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driving"
)

var (
	retrieveK      int
	retrieveHybrid bool
	retrieveJSON   bool

	askK        int
	askHybrid   bool
	askMaxChars int
	askNoStream bool
)

var retrieveCmd = &cobra.Command{
	Use:   "retrieve <query>",
	Short: "Find the chunks most similar to a query",
	Long: `Embeds the query and ranks the tenant's current chunks by cosine
distance. --hybrid fuses a keyword ranking into the vector ranking.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRetrieve,
}

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer a question from retrieved context",
	Long: `Retrieves the most relevant chunks, assembles them into numbered
context and asks the configured language model to answer from it.
The answer streams as it is generated and ends with the cited sources.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	retrieveCmd.Flags().IntVarP(&retrieveK, "k", "k", 0, "number of results (default from config)")
	retrieveCmd.Flags().BoolVar(&retrieveHybrid, "hybrid", false, "fuse keyword and vector rankings")
	retrieveCmd.Flags().BoolVar(&retrieveJSON, "json", false, "output results as JSON")

	askCmd.Flags().IntVarP(&askK, "k", "k", 0, "number of chunks to retrieve (default from config)")
	askCmd.Flags().BoolVar(&askHybrid, "hybrid", false, "fuse keyword and vector rankings")
	askCmd.Flags().IntVar(&askMaxChars, "max-chars", 0, "context budget in characters (default from config)")
	askCmd.Flags().BoolVar(&askNoStream, "no-stream", false, "print the answer only when complete")

	rootCmd.AddCommand(retrieveCmd, askCmd)
}

func runRetrieve(cmd *cobra.Command, args []string) error {
	if retrievalService == nil {
		return errors.New("retrieval service not configured")
	}
	tenant, err := currentTenant()
	if err != nil {
		return err
	}

	query := strings.Join(args, " ")
	results, err := retrievalService.Retrieve(cmd.Context(), tenant, query, driving.RetrieveOptions{
		K:      retrieveK,
		Hybrid: retrieveHybrid,
	})
	if err != nil {
		return fmt.Errorf("retrieve failed: %w", err)
	}

	if retrieveJSON {
		return outputRetrieveJSON(cmd, results)
	}
	outputRetrieveTable(cmd, results)
	return nil
}

func outputRetrieveJSON(cmd *cobra.Command, results []domain.RankedChunk) error {
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}
	cmd.Println(string(data))
	return nil
}

func outputRetrieveTable(cmd *cobra.Command, results []domain.RankedChunk) {
	if len(results) == 0 {
		cmd.Println("No results found.")
		return
	}
	for i := range results {
		r := &results[i]
		cmd.Printf("  [%d] %s (%.3f)\n", i+1, displayName(r), r.Score)
		cmd.Printf("      %s, chunk %d, v%d (%s)\n", r.SourceLocation, r.Ordinal, r.Version,
			r.VersionAt.Format(time.RFC3339))
		cmd.Printf("      %s\n", snippet(r.Content, 160))
		cmd.Println()
	}
}

func runAsk(cmd *cobra.Command, args []string) error {
	if retrievalService == nil {
		return errors.New("retrieval service not configured")
	}
	if answerGenerator == nil {
		return errors.New("answer generator not configured")
	}
	tenant, err := currentTenant()
	if err != nil {
		return err
	}

	question := strings.Join(args, " ")
	chunks, err := retrievalService.Retrieve(cmd.Context(), tenant, question, driving.RetrieveOptions{
		K:      askK,
		Hybrid: askHybrid,
	})
	if err != nil {
		return fmt.Errorf("retrieve failed: %w", err)
	}
	if len(chunks) == 0 {
		cmd.Println("No relevant content found.")
		return nil
	}

	maxChars := askMaxChars
	if maxChars == 0 && appConfig != nil {
		maxChars = appConfig.Retrieval.MaxContextChars
	}
	rc := retrievalService.AssembleContext(question, chunks, maxChars)

	var onToken func(string)
	if !askNoStream {
		onToken = func(tok string) { cmd.Print(tok) }
	}
	answer, err := answerGenerator.Generate(cmd.Context(), question, rc.Text, onToken)
	if err != nil {
		return fmt.Errorf("generating answer: %w", err)
	}
	if askNoStream {
		cmd.Print(answer)
	}
	cmd.Println()
	cmd.Println()

	cmd.Println("Sources:")
	for i := range rc.Sources {
		s := &rc.Sources[i]
		cmd.Printf("  [%d] %s (%s, chunk %d, v%d)\n", i+1, displayName(s), s.SourceLocation, s.Ordinal, s.Version)
	}
	return nil
}

func displayName(r *domain.RankedChunk) string {
	if r.Title != "" {
		return r.Title
	}
	return r.NaturalKey
}

// snippet collapses whitespace and cuts s to at most n runes.
func snippet(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}

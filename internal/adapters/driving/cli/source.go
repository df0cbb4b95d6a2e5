package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
)

var sourceCmd = &cobra.Command{
	Use:   "source",
	Short: "Inspect and remove ingested sources",
	Long: `Sources are created by the first job submitted for a location.
Removing a source hides its documents from retrieval; its history is kept.`,
}

var sourceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sources",
	Args:  cobra.NoArgs,
	RunE:  runSourceList,
}

var sourceRemoveCmd = &cobra.Command{
	Use:   "remove <source-id>",
	Short: "Remove a source",
	Args:  cobra.ExactArgs(1),
	RunE:  runSourceRemove,
}

var sourceDocumentsCmd = &cobra.Command{
	Use:   "documents <source-id>",
	Short: "List the documents of a source",
	Args:  cobra.ExactArgs(1),
	RunE:  runSourceDocuments,
}

func init() {
	sourceCmd.AddCommand(sourceListCmd, sourceRemoveCmd, sourceDocumentsCmd)
	rootCmd.AddCommand(sourceCmd)
}

func sourceContext(cmd *cobra.Command) (context.Context, domain.TenantID, error) {
	if sourceService == nil {
		return nil, "", errors.New("source service not configured")
	}
	tenant, err := currentTenant()
	if err != nil {
		return nil, "", err
	}
	return cmd.Context(), tenant, nil
}

func runSourceList(cmd *cobra.Command, _ []string) error {
	ctx, tenant, err := sourceContext(cmd)
	if err != nil {
		return err
	}
	sources, err := sourceService.ListSources(ctx, tenant)
	if err != nil {
		return fmt.Errorf("list failed: %w", err)
	}

	shown := 0
	for i := range sources {
		src := &sources[i]
		if src.IsDeleted() {
			continue
		}
		shown++
		cmd.Printf("%s  %-9s  %s\n", src.ID, src.Kind, src.Location)
		if src.DefinitionID != "" {
			cmd.Printf("    definition: %s\n", src.DefinitionID)
		}
	}
	if shown == 0 {
		cmd.Println("No sources. Submit a job to create one.")
	}
	return nil
}

func runSourceRemove(cmd *cobra.Command, args []string) error {
	ctx, tenant, err := sourceContext(cmd)
	if err != nil {
		return err
	}
	err = sourceService.RemoveSource(ctx, tenant, args[0])
	var conflict *domain.ConflictError
	if errors.As(err, &conflict) {
		return fmt.Errorf("source %s has active job %s; cancel it first", conflict.SourceID, conflict.ActiveJobID)
	}
	if err != nil {
		return fmt.Errorf("remove failed: %w", err)
	}
	cmd.Printf("Source %s removed.\n", args[0])
	return nil
}

func runSourceDocuments(cmd *cobra.Command, args []string) error {
	ctx, tenant, err := sourceContext(cmd)
	if err != nil {
		return err
	}
	docs, err := sourceService.ListDocuments(ctx, tenant, args[0])
	if err != nil {
		return fmt.Errorf("list failed: %w", err)
	}
	if len(docs) == 0 {
		cmd.Println("No documents.")
		return nil
	}
	for i := range docs {
		d := &docs[i]
		name := d.NaturalKey
		if d.Title != "" && d.Title != d.NaturalKey {
			name = fmt.Sprintf("%s (%s)", d.Title, d.NaturalKey)
		}
		cmd.Printf("%s  v%d  %s  %s\n", d.ID, d.CurrentVersion, d.UpdatedAt.Format(time.DateOnly), name)
	}
	return nil
}

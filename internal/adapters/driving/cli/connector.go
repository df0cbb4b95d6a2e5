package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driving"
)

var (
	connectorKind        string
	connectorParams      map[string]string
	connectorCredentials string
	connectorSecretStdin bool
)

var connectorCmd = &cobra.Command{
	Use:   "connector",
	Short: "Manage connector kinds and stored definitions",
	Long: `A connector definition is a named, reusable set of parameters and
credentials for one connector kind. Jobs reference it with --definition.

Credentials are either a reference resolved at fetch time
(env:NAME, file:/path) or a secret read from stdin and sealed with the
key in secrets.key_file.`,
}

var connectorKindsCmd = &cobra.Command{
	Use:   "kinds",
	Short: "List connector kinds and their parameters",
	Args:  cobra.NoArgs,
	RunE:  runConnectorKinds,
}

var connectorAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Create or update a connector definition",
	Long: `Create or update a connector definition.

Examples:
  sercha-ingest connector add crm --kind database \
    --param driver=postgres --param "query=SELECT id, name, notes FROM accounts" \
    --credentials-ref env:CRM_DSN

  printf '%s' "$TOKEN" | sercha-ingest connector add wiki --kind restapi --secret-stdin`,
	Args: cobra.ExactArgs(1),
	RunE: runConnectorAdd,
}

var connectorListCmd = &cobra.Command{
	Use:   "list",
	Short: "List connector definitions",
	Args:  cobra.NoArgs,
	RunE:  runConnectorList,
}

var connectorRemoveCmd = &cobra.Command{
	Use:   "remove <definition-id>",
	Short: "Remove a connector definition",
	Args:  cobra.ExactArgs(1),
	RunE:  runConnectorRemove,
}

func init() {
	connectorAddCmd.Flags().StringVarP(&connectorKind, "kind", "k", "", "connector kind")
	connectorAddCmd.Flags().StringToStringVarP(&connectorParams, "param", "p", nil, "parameter key=value (repeatable)")
	connectorAddCmd.Flags().StringVar(&connectorCredentials, "credentials-ref", "", "credentials reference, e.g. env:NAME")
	connectorAddCmd.Flags().BoolVar(&connectorSecretStdin, "secret-stdin", false, "read a secret from stdin and seal it")
	_ = connectorAddCmd.MarkFlagRequired("kind")
	connectorAddCmd.MarkFlagsMutuallyExclusive("credentials-ref", "secret-stdin")

	connectorCmd.AddCommand(connectorKindsCmd, connectorAddCmd, connectorListCmd, connectorRemoveCmd)
	rootCmd.AddCommand(connectorCmd)
}

func runConnectorKinds(cmd *cobra.Command, _ []string) error {
	if connectorCatalog == nil {
		return errors.New("connector registry not configured")
	}
	for _, info := range connectorCatalog.Describe() {
		cmd.Printf("%s\n", info.Kind)
		if info.Description != "" {
			cmd.Printf("  %s\n", info.Description)
		}
		if info.Location != "" {
			cmd.Printf("  location: %s\n", info.Location)
		}
		if info.Credentials {
			cmd.Println("  credentials: optional secret")
		}
		for _, p := range info.Params {
			line := fmt.Sprintf("    %-20s %s", p.Key, p.Description)
			if p.Required {
				line += " (required)"
			} else if p.Default != "" {
				line += fmt.Sprintf(" [default: %s]", p.Default)
			}
			cmd.Println(line)
		}
		cmd.Println()
	}
	return nil
}

func definitionContext(cmd *cobra.Command) (context.Context, domain.TenantID, error) {
	if sourceService == nil {
		return nil, "", errors.New("source service not configured")
	}
	tenant, err := currentTenant()
	if err != nil {
		return nil, "", err
	}
	return cmd.Context(), tenant, nil
}

func runConnectorAdd(cmd *cobra.Command, args []string) error {
	ctx, tenant, err := definitionContext(cmd)
	if err != nil {
		return err
	}
	kind, err := domain.ParseConnectorKind(connectorKind)
	if err != nil {
		return err
	}

	req := driving.DefinitionRequest{
		Name:           args[0],
		Kind:           kind,
		Params:         connectorParams,
		CredentialsRef: connectorCredentials,
	}
	if connectorSecretStdin {
		secret, err := readSecret(cmd)
		if err != nil {
			return err
		}
		req.Secret = secret
	}

	def, err := sourceService.SaveDefinition(ctx, tenant, req)
	if err != nil {
		return fmt.Errorf("saving definition: %w", err)
	}
	cmd.Printf("Saved definition %s (%s)\n", def.ID, def.Name)
	return nil
}

// readSecret reads a secret from stdin, without echo when stdin is a
// terminal. One trailing newline is dropped.
func readSecret(cmd *cobra.Command) ([]byte, error) {
	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		cmd.Print("Secret: ")
		secret, err := term.ReadPassword(int(f.Fd()))
		cmd.Println()
		if err != nil {
			return nil, fmt.Errorf("reading secret: %w", err)
		}
		return secret, nil
	}

	data, err := io.ReadAll(in)
	if err != nil {
		return nil, fmt.Errorf("reading secret: %w", err)
	}
	data = bytes.TrimSuffix(data, []byte("\n"))
	data = bytes.TrimSuffix(data, []byte("\r"))
	if len(data) == 0 {
		return nil, errors.New("empty secret on stdin")
	}
	return data, nil
}

func runConnectorList(cmd *cobra.Command, _ []string) error {
	ctx, tenant, err := definitionContext(cmd)
	if err != nil {
		return err
	}
	defs, err := sourceService.ListDefinitions(ctx, tenant)
	if err != nil {
		return fmt.Errorf("list failed: %w", err)
	}
	if len(defs) == 0 {
		cmd.Println("No connector definitions.")
		return nil
	}
	for i := range defs {
		d := &defs[i]
		cmd.Printf("%s  %-9s  %s\n", d.ID, d.Kind, d.Name)
		if len(d.Params) > 0 {
			keys := slices.Sorted(maps.Keys(d.Params))
			cmd.Printf("    params: %s\n", strings.Join(keys, ", "))
		}
		switch {
		case d.CredentialsRef != "":
			cmd.Printf("    credentials: %s\n", d.CredentialsRef)
		case len(d.SealedCredentials) > 0:
			cmd.Println("    credentials: sealed")
		}
	}
	return nil
}

func runConnectorRemove(cmd *cobra.Command, args []string) error {
	ctx, tenant, err := definitionContext(cmd)
	if err != nil {
		return err
	}
	err = sourceService.RemoveDefinition(ctx, tenant, args[0])
	if errors.Is(err, domain.ErrInUse) {
		return fmt.Errorf("definition %s is used by a source; remove the source first", args[0])
	}
	if err != nil {
		return fmt.Errorf("remove failed: %w", err)
	}
	cmd.Printf("Definition %s removed.\n", args[0])
	return nil
}

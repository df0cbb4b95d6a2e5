package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/sercha-ingest/internal/adapters/driven/secrets"
	"github.com/custodia-labs/sercha-ingest/internal/config"
)

var configForce bool

var configCmd = &cobra.Command{
	Use:         "config",
	Short:       "Create and inspect configuration",
	Annotations: map[string]string{annotationNoServices: "true"},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file and credential key",
	Long: `Writes the defaults to <data-dir>/config.toml (or --config) and creates
the key that seals connector secrets if it does not exist yet.`,
	Args: cobra.NoArgs,
	RunE: runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long:  `Prints the merged configuration with API keys and DSNs redacted.`,
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "overwrite an existing config file")
	configCmd.AddCommand(configInitCmd, configShowCmd)
	rootCmd.AddCommand(configCmd)
}

func configPath() string {
	if configFile != "" {
		return configFile
	}
	return filepath.Join(appConfig.DataDir, config.FileName)
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	if appConfig == nil {
		return errors.New("configuration not loaded")
	}

	path := configPath()
	if err := config.WriteDefault(path, configForce); err != nil {
		return err
	}
	cmd.Printf("Wrote %s\n", path)

	keyFile := appConfig.Secrets.KeyFile
	if _, err := os.Stat(keyFile); err == nil {
		cmd.Printf("Using existing key %s\n", keyFile)
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(keyFile), 0o700); err != nil {
		return fmt.Errorf("creating key directory: %w", err)
	}
	if err := secrets.WriteKeyFile(keyFile); err != nil {
		return err
	}
	cmd.Printf("Wrote %s\n", keyFile)
	return nil
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	if appViper == nil {
		return errors.New("configuration not loaded")
	}
	out, err := config.Render(appViper)
	if err != nil {
		return err
	}
	cmd.Print(string(out))
	return nil
}

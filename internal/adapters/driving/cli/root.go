// Package cli implements the sercha-ingest command line.
//
// Commands reach the core through package-level service variables that
// the bootstrap function fills after configuration is loaded. Tests swap
// these variables for mocks.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/custodia-labs/sercha-ingest/internal/config"
	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driving"
	"github.com/custodia-labs/sercha-ingest/internal/core/services"
	"github.com/custodia-labs/sercha-ingest/internal/logger"
)

// Command annotations read by the root pre-run hook.
const (
	// annotationNoServices marks commands that only need configuration.
	annotationNoServices = "no-services"
	// annotationQueue marks commands whose --detach flag queues work for
	// a serve process instead of running it here.
	annotationQueue = "queue"
)

// ConnectorCatalog describes the registered connector kinds.
type ConnectorCatalog interface {
	Describe() []services.ConnectorInfo
}

// Worker is a blocking background loop.
type Worker interface {
	Start(ctx context.Context) error
	Stop() error
}

// ModelChecker checks the embedding model is reachable and sized for the
// store.
type ModelChecker interface {
	Init(ctx context.Context) error
}

// MetricsServer exposes metrics over HTTP until ctx is done.
type MetricsServer interface {
	Serve(ctx context.Context, addr string) error
}

// Services is what the bootstrap hands to the commands. Optional fields
// may be nil; commands that need them report "not configured".
type Services struct {
	Jobs       driving.JobService
	Retrieval  driving.RetrievalService
	Sources    driving.SourceService
	Connectors ConnectorCatalog
	Answerer   driven.AnswerGenerator
	Embedder   ModelChecker
	Dispatcher Worker
	Metrics    MetricsServer

	// Close releases everything above.
	Close func() error
}

// Bootstrap builds the services from the resolved configuration.
// queueOnly is set for detached submissions.
type Bootstrap func(ctx context.Context, cfg *config.Config, queueOnly bool) (*Services, error)

var (
	version   = "dev"
	bootstrap Bootstrap

	// Resolved per invocation.
	appViper  *viper.Viper
	appConfig *config.Config
	closer    func() error

	jobService       driving.JobService
	retrievalService driving.RetrievalService
	sourceService    driving.SourceService
	connectorCatalog ConnectorCatalog
	answerGenerator  driven.AnswerGenerator
	embedder         ModelChecker
	dispatcher       Worker
	metricsServer    MetricsServer
)

var (
	configFile string
	tenantFlag string
	dataDir    string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "sercha-ingest",
	Short: "Multi-tenant ingestion and retrieval",
	Long: `sercha-ingest pulls content from directories, URL lists, databases and
REST APIs, splits it into embedded chunks and answers tenant-scoped
retrieval queries over them.

Configuration is read from <data-dir>/config.toml, SERCHA_* environment
variables and flags, in increasing order of precedence.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "config file (default <data-dir>/config.toml)")
	flags.StringVarP(&tenantFlag, "tenant", "t", "", "tenant to act for (overrides config)")
	flags.StringVar(&dataDir, "data-dir", "", "data directory (default ~/.sercha-ingest)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// SetVersion sets the version reported by the version command.
func SetVersion(v string) {
	version = v
}

// SetBootstrap installs the function that builds the services.
func SetBootstrap(b Bootstrap) {
	bootstrap = b
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command
// context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer closeServices()
	return rootCmd.ExecuteContext(ctx)
}

func setup(cmd *cobra.Command, _ []string) error {
	v := config.New()
	if err := v.BindPFlag("tenant", cmd.Flags().Lookup("tenant")); err != nil {
		return err
	}
	if err := v.BindPFlag("data_dir", cmd.Flags().Lookup("data-dir")); err != nil {
		return err
	}
	cfg, err := config.Load(v, configFile)
	if err != nil {
		return err
	}
	appViper, appConfig = v, cfg

	logger.SetVerbose(verbose || cfg.Log.Level == "debug")
	logger.SetFormat(cfg.Log.Format)

	if !needsServices(cmd) || bootstrap == nil {
		return nil
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	svc, err := bootstrap(ctx, cfg, queueOnly(cmd))
	if err != nil {
		return fmt.Errorf("starting services: %w", err)
	}
	useServices(svc)
	return nil
}

func useServices(svc *Services) {
	jobService = svc.Jobs
	retrievalService = svc.Retrieval
	sourceService = svc.Sources
	connectorCatalog = svc.Connectors
	answerGenerator = svc.Answerer
	embedder = svc.Embedder
	dispatcher = svc.Dispatcher
	metricsServer = svc.Metrics
	closer = svc.Close
}

func closeServices() {
	if closer == nil {
		return
	}
	if err := closer(); err != nil {
		logger.Warn("closing services: %v", err)
	}
	closer = nil
	logger.Sync()
}

func needsServices(cmd *cobra.Command) bool {
	if cmd.Name() == "help" || cmd.Name() == cobra.ShellCompRequestCmd {
		return false
	}
	for c := cmd; c != nil; c = c.Parent() {
		if _, ok := c.Annotations[annotationNoServices]; ok {
			return false
		}
	}
	return true
}

func queueOnly(cmd *cobra.Command) bool {
	if _, ok := cmd.Annotations[annotationQueue]; !ok {
		return false
	}
	detach, err := cmd.Flags().GetBool("detach")
	return err == nil && detach
}

// checkModel fails fast when the embedding model cannot serve the store.
// Commands without a model skip the check.
func checkModel(ctx context.Context) error {
	if embedder == nil {
		return nil
	}
	if err := embedder.Init(ctx); err != nil {
		return fmt.Errorf("embedding model unusable: %w", err)
	}
	return nil
}

// currentTenant returns the tenant from --tenant, SERCHA_TENANT or the
// config file.
func currentTenant() (domain.TenantID, error) {
	var t domain.TenantID
	if appConfig != nil {
		t = domain.TenantID(appConfig.Tenant)
	}
	if tenantFlag != "" {
		t = domain.TenantID(tenantFlag)
	}
	if err := domain.RequireTenant(t); err != nil {
		if errors.Is(err, domain.ErrMissingTenant) {
			return "", errors.New("no tenant: pass --tenant or set SERCHA_TENANT")
		}
		return "", err
	}
	return t, nil
}

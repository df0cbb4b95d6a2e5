// Package config loads layered configuration: built-in defaults, a TOML
// file, SERCHA_ environment variables and bound command-line flags, in
// increasing order of precedence.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
)

// EnvPrefix prefixes environment overrides, e.g. SERCHA_STORE_DSN.
const EnvPrefix = "SERCHA"

// FileName is the config file name inside the data directory.
const FileName = "config.toml"

// Config is the resolved configuration.
type Config struct {
	DataDir string `mapstructure:"data_dir"`
	// Tenant is the default tenant for CLI commands.
	Tenant string `mapstructure:"tenant"`

	Log         LogConfig         `mapstructure:"log"`
	Store       StoreConfig       `mapstructure:"store"`
	Embedding   EmbeddingConfig   `mapstructure:"embedding"`
	Chunking    ChunkingConfig    `mapstructure:"chunking"`
	Jobs        JobsConfig        `mapstructure:"jobs"`
	Connectors  ConnectorsConfig  `mapstructure:"connectors"`
	PDF         PDFConfig         `mapstructure:"pdf"`
	Retrieval   RetrievalConfig   `mapstructure:"retrieval"`
	LLM         LLMConfig         `mapstructure:"llm"`
	Transcriber TranscriberConfig `mapstructure:"transcriber"`
	Secrets     SecretsConfig     `mapstructure:"secrets"`
	Serve       ServeConfig       `mapstructure:"serve"`
}

// LogConfig selects verbosity and encoding.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// StoreConfig selects the storage backend.
type StoreConfig struct {
	// Driver is sqlite or postgres.
	Driver string `mapstructure:"driver"`
	// DSN is the postgres connection string. Unused for sqlite.
	DSN string `mapstructure:"dsn"`
}

// EmbeddingConfig selects the embedding model.
type EmbeddingConfig struct {
	// Provider is ollama or openai (any OpenAI-compatible server).
	Provider    string        `mapstructure:"provider"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	APIKey      string        `mapstructure:"api_key"`
	Dimensions  int           `mapstructure:"dimensions"`
	BatchSize   int           `mapstructure:"batch_size"`
	Concurrency int           `mapstructure:"concurrency"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// ChunkingConfig sizes chunks in characters.
type ChunkingConfig struct {
	Size    int `mapstructure:"size"`
	Overlap int `mapstructure:"overlap"`
}

// JobsConfig sizes the worker pool.
type JobsConfig struct {
	Workers         int           `mapstructure:"workers"`
	ItemConcurrency int           `mapstructure:"item_concurrency"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
}

// ConnectorsConfig holds defaults applied beneath every source's params.
type ConnectorsConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	MaxAttempts       int     `mapstructure:"max_attempts"`
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"`
}

// PDFConfig controls the OCR fallback.
type PDFConfig struct {
	OCR              bool    `mapstructure:"ocr"`
	DensityThreshold float64 `mapstructure:"density_threshold"`
	Language         string  `mapstructure:"language"`
	DPI              int     `mapstructure:"dpi"`
}

// RetrievalConfig bounds retrieval.
type RetrievalConfig struct {
	DefaultK        int `mapstructure:"default_k"`
	MaxK            int `mapstructure:"max_k"`
	RRFK            int `mapstructure:"rrf_k"`
	CandidatePool   int `mapstructure:"candidate_pool"`
	MaxContextChars int `mapstructure:"max_context_chars"`
}

// LLMConfig configures the answer generator used by ask.
type LLMConfig struct {
	// Provider is openai (any OpenAI-compatible server), ollama or anthropic.
	Provider    string        `mapstructure:"provider"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	APIKey      string        `mapstructure:"api_key"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
}

// TranscriberConfig configures the speech-to-text endpoint. An empty
// base URL disables the transcription connector.
type TranscriberConfig struct {
	BaseURL  string        `mapstructure:"base_url"`
	Model    string        `mapstructure:"model"`
	APIKey   string        `mapstructure:"api_key"`
	Language string        `mapstructure:"language"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// SecretsConfig locates the key that seals connector credentials.
type SecretsConfig struct {
	KeyFile string `mapstructure:"key_file"`
}

// ServeConfig configures the long-running worker.
type ServeConfig struct {
	Tenants          []string      `mapstructure:"tenants"`
	DispatchInterval time.Duration `mapstructure:"dispatch_interval"`
	RecoverOnStart   bool          `mapstructure:"recover_on_start"`
	MetricsAddr      string        `mapstructure:"metrics_addr"`
}

// setting is one default value.
type setting struct {
	key   string
	value any
}

// defaults lists every key with its default. Durations are strings so
// the written file stays readable.
var defaults = []setting{
	{"data_dir", ""},
	{"tenant", ""},
	{"log.level", "info"},
	{"log.format", "console"},
	{"store.driver", "sqlite"},
	{"store.dsn", ""},
	{"embedding.provider", "ollama"},
	{"embedding.base_url", ""},
	{"embedding.model", ""},
	{"embedding.api_key", ""},
	{"embedding.dimensions", 768},
	{"embedding.batch_size", 32},
	{"embedding.concurrency", 2},
	{"embedding.timeout", "60s"},
	{"chunking.size", 1000},
	{"chunking.overlap", 200},
	{"jobs.workers", 4},
	{"jobs.item_concurrency", 4},
	{"jobs.poll_interval", "250ms"},
	{"connectors.requests_per_second", 2.0},
	{"connectors.max_attempts", 4},
	{"connectors.timeout_seconds", 30},
	{"pdf.ocr", false},
	{"pdf.density_threshold", 50.0},
	{"pdf.language", "eng"},
	{"pdf.dpi", 300},
	{"retrieval.default_k", 5},
	{"retrieval.max_k", 50},
	{"retrieval.rrf_k", domain.DefaultRRFK},
	{"retrieval.candidate_pool", 0},
	{"retrieval.max_context_chars", 12000},
	{"llm.provider", "openai"},
	{"llm.base_url", "http://localhost:11434/v1"},
	{"llm.model", "llama3.1"},
	{"llm.api_key", ""},
	{"llm.timeout", "120s"},
	{"llm.temperature", 0.2},
	{"llm.max_tokens", 1024},
	{"transcriber.base_url", ""},
	{"transcriber.model", "whisper-1"},
	{"transcriber.api_key", ""},
	{"transcriber.language", ""},
	{"transcriber.timeout", "10m"},
	{"secrets.key_file", ""},
	{"serve.tenants", []string{}},
	{"serve.dispatch_interval", "2s"},
	{"serve.recover_on_start", true},
	{"serve.metrics_addr", ":9464"},
}

// New returns a viper instance with defaults and environment binding.
func New() *viper.Viper {
	v := viper.New()
	for _, s := range defaults {
		v.SetDefault(s.key, s.value)
	}
	v.SetConfigType("toml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// DefaultDataDir returns ~/.sercha-ingest.
func DefaultDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".sercha-ingest"), nil
}

// Load reads file into v when it exists and decodes the result. An empty
// file path means <data_dir>/config.toml.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file == "" {
		dir, err := dataDir(v)
		if err != nil {
			return nil, err
		}
		file = filepath.Join(dir, FileName)
	}

	v.SetConfigFile(file)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("reading %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if cfg.DataDir == "" {
		dir, err := DefaultDataDir()
		if err != nil {
			return nil, err
		}
		cfg.DataDir = dir
	}
	if cfg.Secrets.KeyFile == "" {
		cfg.Secrets.KeyFile = filepath.Join(cfg.DataDir, "secret.key")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func dataDir(v *viper.Viper) (string, error) {
	if dir := v.GetString("data_dir"); dir != "" {
		return dir, nil
	}
	return DefaultDataDir()
}

// Validate checks values the components would otherwise reject later.
func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case "sqlite":
	case "postgres":
		if c.Store.DSN == "" {
			errs = append(errs, errors.New("store.dsn is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver %q: want sqlite or postgres", c.Store.Driver))
	}
	switch c.Embedding.Provider {
	case "ollama", "openai":
	default:
		errs = append(errs, fmt.Errorf("embedding.provider %q: want ollama or openai", c.Embedding.Provider))
	}
	switch c.LLM.Provider {
	case "openai", "ollama":
	case "anthropic":
		if c.LLM.APIKey == "" {
			errs = append(errs, errors.New("llm.api_key is required for anthropic"))
		}
	default:
		errs = append(errs, fmt.Errorf("llm.provider %q: want openai, ollama or anthropic", c.LLM.Provider))
	}
	if c.Embedding.Dimensions <= 0 {
		errs = append(errs, errors.New("embedding.dimensions must be positive"))
	}
	if c.Chunking.Size <= 0 || c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.Size {
		errs = append(errs, fmt.Errorf("chunking: need 0 <= overlap (%d) < size (%d)", c.Chunking.Overlap, c.Chunking.Size))
	}
	if c.Jobs.Workers <= 0 || c.Jobs.ItemConcurrency <= 0 {
		errs = append(errs, errors.New("jobs.workers and jobs.item_concurrency must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", domain.ErrInvalidInput, errors.Join(errs...))
	}
	return nil
}

// ConnectorDefaults renders the connector section as source params.
func (c *Config) ConnectorDefaults() map[string]string {
	return map[string]string{
		"requests_per_second": fmt.Sprint(c.Connectors.RequestsPerSecond),
		"max_attempts":        fmt.Sprint(c.Connectors.MaxAttempts),
		"timeout_seconds":     fmt.Sprint(c.Connectors.TimeoutSeconds),
	}
}

// Tenants returns the serve tenants as domain ids. With none listed it
// falls back to the default tenant.
func (c *Config) Tenants() []domain.TenantID {
	out := make([]domain.TenantID, 0, len(c.Serve.Tenants))
	for _, t := range c.Serve.Tenants {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, domain.TenantID(t))
		}
	}
	if len(out) == 0 && c.Tenant != "" {
		out = append(out, domain.TenantID(c.Tenant))
	}
	return out
}

const fileHeader = `# sercha-ingest configuration.
# Every key can be overridden by SERCHA_<SECTION>_<KEY>, e.g. SERCHA_STORE_DSN.
# Prefer env: or file: credential references over inline api keys.

`

// DefaultFile renders the defaults as a TOML document.
func DefaultFile() ([]byte, error) {
	tree := map[string]any{}
	for _, s := range defaults {
		setNested(tree, strings.Split(s.key, "."), s.value)
	}

	var buf bytes.Buffer
	buf.WriteString(fileHeader)
	enc := toml.NewEncoder(&buf)
	enc.SetIndentTables(true)
	if err := enc.Encode(tree); err != nil {
		return nil, fmt.Errorf("encoding defaults: %w", err)
	}
	return buf.Bytes(), nil
}

// Render encodes the effective settings of v as TOML.
func Render(v *viper.Viper) ([]byte, error) {
	settings := v.AllSettings()
	redact(settings)
	out, err := toml.Marshal(settings)
	if err != nil {
		return nil, fmt.Errorf("encoding settings: %w", err)
	}
	return out, nil
}

// WriteDefault writes the default file to path, refusing to overwrite
// unless force is set.
func WriteDefault(path string, force bool) error {
	data, err := DefaultFile()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !force {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(path, flags, 0o600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func setNested(tree map[string]any, path []string, value any) {
	for _, p := range path[:len(path)-1] {
		next, ok := tree[p].(map[string]any)
		if !ok {
			next = map[string]any{}
			tree[p] = next
		}
		tree = next
	}
	tree[path[len(path)-1]] = value
}

// redact masks secrets in a settings tree.
func redact(tree map[string]any) {
	for k, v := range tree {
		switch val := v.(type) {
		case map[string]any:
			redact(val)
		case string:
			if val != "" && (k == "api_key" || k == "dsn") {
				tree[k] = "********"
			}
		}
	}
}

package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/TobiSchelling/meddash/internal/llm"
	"github.com/TobiSchelling/meddash/internal/retry"
	"github.com/TobiSchelling/meddash/internal/rubric"
	"github.com/TobiSchelling/meddash/internal/source"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

// Backend names for classification.filter and classification.summary.
const (
	BackendRules = "rules"
	BackendLLM   = "llm"
)

// DefaultJournals are the PubMed journal abbreviations searched by default.
var DefaultJournals = []string{
	"N Engl J Med", "JAMA", "Ann Intern Med", "BMJ", "Lancet", "J Gen Intern Med",
	"Circulation", "Eur Heart J", "J Am Coll Cardiol", "Hypertension",
	"Am J Respir Crit Care Med", "Chest", "Kidney Int", "J Am Soc Nephrol",
	"Gastroenterology", "Gut", "Hepatology", "Clin Infect Dis", "J Infect Dis",
	"J Clin Endocrinol Metab", "Neurology", "Ann Neurol", "Ann Rheum Dis",
	"Arthritis Rheumatol", "Blood",
}

type Config struct {
	Sources        Sources        `yaml:"sources"`
	Classification Classification `yaml:"classification"`
	Rubric         rubric.Rubric  `yaml:"rubric"`
	Pipeline       Pipeline       `yaml:"pipeline"`
	Digest         Digest         `yaml:"digest"`
	Output         Output         `yaml:"output"`
	Server         Server         `yaml:"server"`
	Logging        Logging        `yaml:"logging"`
}

type Sources struct {
	PubMed                 PubMed        `yaml:"pubmed"`
	Feeds                  []source.Feed `yaml:"feeds"`
	EnrichMissingAbstracts bool          `yaml:"enrich_missing_abstracts"`
}

type PubMed struct {
	BaseURL           string                 `yaml:"base_url"`
	Email             string                 `yaml:"email"`
	APIKeyEnv         string                 `yaml:"api_key_env"`
	Journals          []string               `yaml:"journals"`
	BatchSize         int                    `yaml:"batch_size"`
	MaxResults        int                    `yaml:"max_results"`
	RequestsPerSecond float64                `yaml:"requests_per_second"`
	Timeout           time.Duration          `yaml:"timeout"`
	Prescreen         source.PrescreenConfig `yaml:"prescreen"`
}

type Classification struct {
	Filter      string `yaml:"filter"`
	Summary     string `yaml:"summary"`
	Provider    string `yaml:"provider"`
	Model       string `yaml:"model"`
	APIKeyEnv   string `yaml:"api_key_env"`
	OllamaURL   string `yaml:"ollama_url"`
	OpenAIModel string `yaml:"openai_model"`
	MaxTokens   int    `yaml:"max_tokens"`
}

type Pipeline struct {
	Workers         int           `yaml:"workers"`
	Timeout         time.Duration `yaml:"timeout"`
	PersistRejected bool          `yaml:"persist_rejected"`
	Retry           Retry         `yaml:"retry"`
}

type Retry struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

type Digest struct {
	TopN int `yaml:"top_n"`
	Days int `yaml:"days"`
}

type Output struct {
	DataDir string `yaml:"data_dir"`
}

type Server struct {
	Port int `yaml:"port"`
}

type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ConfigDir returns the XDG config directory for meddash.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "meddash")
}

// DataDir returns the XDG data directory for meddash.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "meddash")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/meddash/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'meddash init' to create a default config",
		xdgConfig,
	)
}

// Load reads, parses and validates a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Sources: Sources{
			PubMed: PubMed{
				BaseURL:    source.DefaultEutilsURL,
				APIKeyEnv:  "NCBI_API_KEY",
				Journals:   slices.Clone(DefaultJournals),
				BatchSize:  100,
				MaxResults: 1000,
				Timeout:    30 * time.Second,
				Prescreen:  source.DefaultPrescreen(),
			},
		},
		Classification: Classification{
			Filter:      BackendRules,
			Summary:     BackendRules,
			Provider:    "anthropic",
			APIKeyEnv:   "ANTHROPIC_API_KEY",
			OllamaURL:   "http://localhost:11434",
			OpenAIModel: "gpt-4o-mini",
			MaxTokens:   512,
		},
		Rubric: rubric.Default(),
		Pipeline: Pipeline{
			Workers:         4,
			Timeout:         60 * time.Second,
			PersistRejected: true,
			Retry: Retry{
				MaxAttempts:  2,
				InitialDelay: 500 * time.Millisecond,
				MaxDelay:     10 * time.Second,
			},
		},
		Digest:  Digest{TopN: 10, Days: 7},
		Server:  Server{Port: 8000},
		Logging: Logging{Level: "info", Format: "console"},
	}
}

// parse parses YAML bytes over the defaults and validates the result.
func parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate reports every setting that cannot be used.
func (c *Config) Validate() error {
	var errs []error
	for name, v := range map[string]string{
		"classification.filter":  c.Classification.Filter,
		"classification.summary": c.Classification.Summary,
	} {
		if v != BackendRules && v != BackendLLM {
			errs = append(errs, fmt.Errorf("%s must be %q or %q, got %q", name, BackendRules, BackendLLM, v))
		}
	}
	if c.Pipeline.Workers < 0 {
		errs = append(errs, errors.New("pipeline.workers must not be negative"))
	}
	if c.Pipeline.Timeout < 0 {
		errs = append(errs, errors.New("pipeline.timeout must not be negative"))
	}
	if c.Pipeline.Retry.MaxAttempts < 0 {
		errs = append(errs, errors.New("pipeline.retry.max_attempts must not be negative"))
	}
	if err := c.Rubric.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("rubric: %w", err))
	}
	return errors.Join(errs...)
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

// DBPath returns the SQLite database location.
func (c *Config) DBPath() string {
	return filepath.Join(c.GetDataDir(), "meddash.db")
}

// PubMedConfig resolves the PubMed client settings, reading the API key
// from the configured environment variable.
func (c *Config) PubMedConfig() source.PubMedConfig {
	p := c.Sources.PubMed
	var key string
	if p.APIKeyEnv != "" {
		key = strings.TrimSpace(os.Getenv(p.APIKeyEnv))
	}
	return source.PubMedConfig{
		BaseURL:           p.BaseURL,
		Email:             p.Email,
		APIKey:            key,
		Journals:          p.Journals,
		BatchSize:         p.BatchSize,
		MaxResults:        p.MaxResults,
		RequestsPerSecond: p.RequestsPerSecond,
		Timeout:           p.Timeout,
		Prescreen:         p.Prescreen,
	}
}

// LLMSettings returns the provider selection for generative backends.
func (c *Config) LLMSettings() llm.Settings {
	cl := c.Classification
	return llm.Settings{
		Provider:    cl.Provider,
		Model:       cl.Model,
		APIKeyEnv:   cl.APIKeyEnv,
		OllamaURL:   cl.OllamaURL,
		OpenAIModel: cl.OpenAIModel,
	}
}

// NeedsLLM reports whether any classification backend is generative.
func (c *Config) NeedsLLM() bool {
	return c.Classification.Filter == BackendLLM || c.Classification.Summary == BackendLLM
}

// RetryPolicy converts the retry section to a policy.
func (c *Config) RetryPolicy() retry.Policy {
	p := retry.Default()
	r := c.Pipeline.Retry
	if r.MaxAttempts > 0 {
		p.MaxAttempts = r.MaxAttempts
	}
	if r.InitialDelay > 0 {
		p.InitialDelay = r.InitialDelay
	}
	if r.MaxDelay > 0 {
		p.MaxDelay = r.MaxDelay
	}
	return p
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaultConfig(t *testing.T) {
	cfg, err := parse(DefaultConfigYAML)
	require.NoError(t, err)

	assert.Equal(t, DefaultJournals, cfg.Sources.PubMed.Journals)
	assert.Equal(t, 100, cfg.Sources.PubMed.BatchSize)
	assert.Equal(t, 30*time.Second, cfg.Sources.PubMed.Timeout)
	assert.NotEmpty(t, cfg.Sources.PubMed.Prescreen.TitleTerms, "built-in title terms kept")
	assert.Equal(t, BackendRules, cfg.Classification.Filter)
	assert.Equal(t, BackendRules, cfg.Classification.Summary)
	assert.Equal(t, 4, cfg.Pipeline.Workers)
	assert.Equal(t, 60*time.Second, cfg.Pipeline.Timeout)
	assert.True(t, cfg.Pipeline.PersistRejected)
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.NotEmpty(t, cfg.Rubric.Journals.Major, "built-in rubric kept")
	assert.False(t, cfg.NeedsLLM())
}

func TestParseMinimalConfig(t *testing.T) {
	cfg, err := parse([]byte(`
classification:
  filter: llm
  provider: ollama
  model: qwen2.5:7b
pipeline:
  workers: 2
  timeout: 5s
server:
  port: 9000
`))
	require.NoError(t, err)

	assert.Equal(t, BackendLLM, cfg.Classification.Filter)
	assert.Equal(t, BackendRules, cfg.Classification.Summary)
	assert.Equal(t, 2, cfg.Pipeline.Workers)
	assert.Equal(t, 5*time.Second, cfg.Pipeline.Timeout)
	assert.Equal(t, 9000, cfg.Server.Port)
	// Defaults still apply to unspecified fields.
	assert.Equal(t, "http://localhost:11434", cfg.Classification.OllamaURL)
	assert.Equal(t, 7, cfg.Digest.Days)
	assert.True(t, cfg.NeedsLLM())

	s := cfg.LLMSettings()
	assert.Equal(t, "ollama", s.Provider)
	assert.Equal(t, "qwen2.5:7b", s.Model)
}

func TestParseRubricOverride(t *testing.T) {
	cfg, err := parse([]byte(`
rubric:
  journals:
    major: [my journal]
  weights:
    novelty: 0
`))
	require.NoError(t, err)
	assert.Equal(t, []string{"my journal"}, cfg.Rubric.Journals.Major)
	assert.Zero(t, cfg.Rubric.Weights.Novelty)
	assert.Equal(t, 1.0, cfg.Rubric.Weights.Journal)
	assert.Equal(t, 1.0, cfg.Rubric.Weights.Prevalence)
}

func TestParsePrevalenceKeepsBuiltInTerms(t *testing.T) {
	cfg, err := parse([]byte(`
rubric:
  prevalence:
    high_points: 2
    medium_points: 1
`))
	require.NoError(t, err)
	assert.Equal(t, 2.0, cfg.Rubric.Prevalence.HighPoints)
	assert.Equal(t, 1.0, cfg.Rubric.Prevalence.MediumPoints)
	assert.Contains(t, cfg.Rubric.Prevalence.High, "sepsis")
	assert.Contains(t, cfg.Rubric.Hospitalization.Keywords, "icu")

	_, err = parse([]byte("rubric:\n  hospitalization:\n    points: 3\n"))
	assert.Error(t, err)
}

func TestParseRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"backend":  "classification:\n  filter: magic\n",
		"workers":  "pipeline:\n  workers: -1\n",
		"rubric":   "rubric:\n  weights:\n    design: -1\n",
		"duration": "pipeline:\n  timeout: soon\n",
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := parse([]byte(data))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, DefaultConfigYAML, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.Sources.PubMed.Journals)
}

func TestResolveConfigPathExplicitMissing(t *testing.T) {
	_, err := ResolveConfigPath(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "config file not found")
}

func TestGetDataDir(t *testing.T) {
	cfg := &Config{}
	assert.NotEmpty(t, cfg.GetDataDir())

	cfg.Output.DataDir = "/custom/path"
	assert.Equal(t, "/custom/path", cfg.GetDataDir())
	assert.Equal(t, filepath.Join("/custom/path", "meddash.db"), cfg.DBPath())
}

func TestPubMedConfigReadsKeyFromEnv(t *testing.T) {
	t.Setenv("TEST_NCBI_KEY", " secret ")
	cfg := Default()
	cfg.Sources.PubMed.APIKeyEnv = "TEST_NCBI_KEY"
	cfg.Sources.PubMed.Email = "ops@example.org"

	pc := cfg.PubMedConfig()
	assert.Equal(t, "secret", pc.APIKey)
	assert.Equal(t, "ops@example.org", pc.Email)
	assert.Equal(t, 1000, pc.MaxResults)
}

func TestRetryPolicy(t *testing.T) {
	cfg := Default()
	cfg.Pipeline.Retry = Retry{MaxAttempts: 3, InitialDelay: time.Second}
	p := cfg.RetryPolicy()
	assert.Equal(t, 3, p.MaxAttempts)
	assert.Equal(t, time.Second, p.InitialDelay)
	assert.Equal(t, 10*time.Second, p.MaxDelay)
}

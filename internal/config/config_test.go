package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoad_MissingFile(t *testing.T) {
	cfg, err := load(filepath.Join(t.TempDir(), "agent.yaml"), env(nil))
	require.NoError(t, err)
	require.Equal(t, DefaultProvider, cfg.LLM.Provider)
	require.Equal(t, DefaultTimeout, cfg.LLM.Timeout)
	require.Equal(t, DefaultRetryAttempts, cfg.LLM.RetryAttempts)
	require.Equal(t, DefaultMaxIterations, cfg.MaxIterations)
	require.Equal(t, DefaultPort, cfg.Port)
	require.ErrorIs(t, cfg.Validate(), ErrNoTools)
}

func TestLoad_PartialFile(t *testing.T) {
	path := writeFile(t, "agent.yaml", `
llm:
  provider: openai
  timeout_ms: 1500
  rate_limit: 2.5
  cache_ttl: 1m
max_iterations: 0
tools:
  - kind: sql
    name: cities
    description: Population and country of major cities
    sources: [testdata/cities.csv]
  - kind: documents
    name: essay
    description: An essay about the author's life
    sources: [essay.txt, https://example.com/essay.html]
    top_k: 3
`)
	cfg, err := load(path, env(map[string]string{"OPENAI_API_KEY": "sk-test"}))
	require.NoError(t, err)
	require.Equal(t, "openai", cfg.LLM.Provider)
	require.Equal(t, "sk-test", cfg.LLM.APIKey)
	require.Equal(t, 1500*time.Millisecond, cfg.LLM.Timeout)
	require.Equal(t, 2.5, cfg.LLM.RateLimit)
	require.Equal(t, time.Minute, cfg.LLM.CacheTTL)
	require.Equal(t, DefaultRetryAttempts, cfg.LLM.RetryAttempts)
	require.Equal(t, 0, cfg.MaxIterations)
	require.Equal(t, DefaultPort, cfg.Port)
	require.Len(t, cfg.Tools, 2)
	require.Equal(t, ToolConfig{
		Kind:        KindDocuments,
		Name:        "essay",
		Description: "An essay about the author's life",
		Sources:     []string{"essay.txt", "https://example.com/essay.html"},
		TopK:        3,
	}, cfg.Tools[1])
	require.NoError(t, cfg.Validate())
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "agent.yaml", "llm:\n  provider: openai\n  model: from-file\nport: 9000\n")
	cfg, err := load(path, env(map[string]string{
		"LLM_PROVIDER":        "Anthropic",
		"ANTHROPIC_API_KEY":   "ak",
		"OPENAI_API_KEY":      "ignored",
		"OPENAI_API_BASE":     "http://ignored",
		"LLM_MODEL":           "claude-test",
		"LLM_HTTP_TIMEOUT_MS": "2000",
		"MAX_ITERATIONS":      "4",
		"PORT":                "9100",
		"REDIS_URL":           "redis://localhost:6379/0",
		"API_JWT_SECRET":      "s3cret",
	}))
	require.NoError(t, err)
	require.Equal(t, "anthropic", cfg.LLM.Provider)
	require.Equal(t, "ak", cfg.LLM.APIKey)
	require.Equal(t, "claude-test", cfg.LLM.Model)
	require.Empty(t, cfg.LLM.BaseURL)
	require.Equal(t, 2*time.Second, cfg.LLM.Timeout)
	require.Equal(t, 4, cfg.MaxIterations)
	require.Equal(t, 9100, cfg.Port)
	require.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
	require.Equal(t, "s3cret", cfg.JWTSecret)
}

func TestLoad_InvalidValues(t *testing.T) {
	_, err := load("", env(map[string]string{"LLM_HTTP_TIMEOUT_MS": "soon"}))
	require.Error(t, err)
	_, err = load("", env(map[string]string{"PORT": "eighty"}))
	require.Error(t, err)
	_, err = load(writeFile(t, "bad.yaml", "llm: [unclosed"), env(nil))
	require.Error(t, err)
	_, err = load(writeFile(t, "ttl.yaml", "llm:\n  cache_ttl: forever\n"), env(nil))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name  string
		tools []ToolConfig
		ok    bool
	}{
		{"sql with database", []ToolConfig{{Kind: KindSQL, Name: "db", Database: "data.db"}}, true},
		{"llm without sources", []ToolConfig{{Kind: KindLLM, Name: "general"}}, true},
		{"missing name", []ToolConfig{{Kind: KindSQL, Sources: []string{"a.csv"}}}, false},
		{"duplicate", []ToolConfig{{Kind: KindDocuments, Name: "a", Sources: []string{"x"}}, {Kind: KindDocuments, Name: "a", Sources: []string{"y"}}}, false},
		{"documents without sources", []ToolConfig{{Kind: KindDocuments, Name: "a"}}, false},
		{"unknown kind", []ToolConfig{{Kind: "vector", Name: "a", Sources: []string{"x"}}}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cfg := defaults()
			cfg.Tools = c.tools
			if c.ok {
				require.NoError(t, cfg.Validate())
			} else {
				require.Error(t, cfg.Validate())
			}
		})
	}
}

func TestLoadDotEnvSkipsMissingFiles(t *testing.T) {
	require.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), ".env")))
	p := writeFile(t, ".env", "QUERY_AGENT_TEST_VAR=from-dotenv\n")
	t.Setenv("QUERY_AGENT_TEST_VAR", "")
	os.Unsetenv("QUERY_AGENT_TEST_VAR")
	require.NoError(t, LoadDotEnv(p))
	require.Equal(t, "from-dotenv", os.Getenv("QUERY_AGENT_TEST_VAR"))
}

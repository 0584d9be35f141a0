// Package config loads the agent configuration. Values come from a YAML file
// (absent fields keep their defaults), then from environment variables, which
// may be seeded from a .env file. CLI flags are applied last by the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultProvider      = "mock"
	DefaultTimeout       = 45 * time.Second
	DefaultRetryAttempts = 3
	DefaultMaxIterations = 10
	DefaultPort          = 8080
	DefaultCacheTTL      = 10 * time.Minute
)

const (
	KindSQL       = "sql"
	KindDocuments = "documents"
	KindLLM       = "llm"
)

var ErrNoTools = errors.New("at least one tool must be configured")

type LLMConfig struct {
	Provider      string
	APIKey        string
	Model         string
	BaseURL       string
	Timeout       time.Duration
	RetryAttempts int
	// RateLimit is requests per second; 0 disables limiting.
	RateLimit float64
	Burst     int
	CacheTTL  time.Duration
}

// ToolConfig describes one query tool. SQL tools load every CSV source into
// its own table (named after the file) of an in-memory SQLite database unless
// Database points at an existing one. Document tools index every source. LLM
// tools answer from the model itself, guided by Instructions.
type ToolConfig struct {
	Kind         string   `yaml:"kind"`
	Name         string   `yaml:"name"`
	Description  string   `yaml:"description"`
	Sources      []string `yaml:"sources"`
	Database     string   `yaml:"database"`
	TopK         int      `yaml:"top_k"`
	Instructions string   `yaml:"instructions"`
}

type Config struct {
	LLM           LLMConfig
	Tools         []ToolConfig
	MaxIterations int
	Port          int
	RedisURL      string
	JWTSecret     string
}

func defaults() Config {
	return Config{
		LLM: LLMConfig{
			Provider:      DefaultProvider,
			Timeout:       DefaultTimeout,
			RetryAttempts: DefaultRetryAttempts,
			CacheTTL:      DefaultCacheTTL,
		},
		MaxIterations: DefaultMaxIterations,
		Port:          DefaultPort,
	}
}

// partialConfig distinguishes absent fields (nil) from explicit zero values.
type partialConfig struct {
	LLM *struct {
		Provider      *string  `yaml:"provider"`
		Model         *string  `yaml:"model"`
		BaseURL       *string  `yaml:"base_url"`
		TimeoutMS     *int     `yaml:"timeout_ms"`
		RetryAttempts *int     `yaml:"retry_attempts"`
		RateLimit     *float64 `yaml:"rate_limit"`
		Burst         *int     `yaml:"burst"`
		CacheTTL      *string  `yaml:"cache_ttl"`
	} `yaml:"llm"`
	Tools         []ToolConfig `yaml:"tools"`
	MaxIterations *int         `yaml:"max_iterations"`
	Port          *int         `yaml:"port"`
	RedisURL      *string      `yaml:"redis_url"`
}

// LoadDotEnv loads .env files into the environment. Missing files are ignored
// and variables already set are kept.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads the YAML file at path (a missing file or empty path yields the
// defaults) and applies environment overrides.
func Load(path string) (*Config, error) {
	return load(path, os.Getenv)
}

func load(path string, getenv func(string) string) (*Config, error) {
	cfg := defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, err
		default:
			if err := cfg.overlay(data); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}
	if err := cfg.applyEnv(getenv); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) overlay(data []byte) error {
	var partial partialConfig
	if err := yaml.Unmarshal(data, &partial); err != nil {
		return err
	}
	if l := partial.LLM; l != nil {
		if l.Provider != nil {
			c.LLM.Provider = *l.Provider
		}
		if l.Model != nil {
			c.LLM.Model = *l.Model
		}
		if l.BaseURL != nil {
			c.LLM.BaseURL = *l.BaseURL
		}
		if l.TimeoutMS != nil {
			c.LLM.Timeout = time.Duration(*l.TimeoutMS) * time.Millisecond
		}
		if l.RetryAttempts != nil {
			c.LLM.RetryAttempts = *l.RetryAttempts
		}
		if l.RateLimit != nil {
			c.LLM.RateLimit = *l.RateLimit
		}
		if l.Burst != nil {
			c.LLM.Burst = *l.Burst
		}
		if l.CacheTTL != nil {
			d, err := time.ParseDuration(*l.CacheTTL)
			if err != nil {
				return fmt.Errorf("llm.cache_ttl: %w", err)
			}
			c.LLM.CacheTTL = d
		}
	}
	if partial.Tools != nil {
		c.Tools = partial.Tools
	}
	if partial.MaxIterations != nil {
		c.MaxIterations = *partial.MaxIterations
	}
	if partial.Port != nil {
		c.Port = *partial.Port
	}
	if partial.RedisURL != nil {
		c.RedisURL = *partial.RedisURL
	}
	return nil
}

var providerKeyVars = map[string]string{
	"openai":    "OPENAI_API_KEY",
	"anthropic": "ANTHROPIC_API_KEY",
	"gemini":    "GOOGLE_API_KEY",
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv("LLM_PROVIDER"); v != "" {
		c.LLM.Provider = v
	}
	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	if key, ok := providerKeyVars[c.LLM.Provider]; ok {
		c.LLM.APIKey = getenv(key)
	}
	if v := getenv("LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := getenv("OPENAI_API_BASE"); v != "" && c.LLM.Provider == "openai" {
		c.LLM.BaseURL = v
	}
	if v := getenv("LLM_HTTP_TIMEOUT_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms <= 0 {
			return fmt.Errorf("LLM_HTTP_TIMEOUT_MS: invalid value %q", v)
		}
		c.LLM.Timeout = time.Duration(ms) * time.Millisecond
	}
	if v := getenv("MAX_ITERATIONS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MAX_ITERATIONS: %w", err)
		}
		c.MaxIterations = n
	}
	if v := getenv("PORT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		c.Port = n
	}
	if v := getenv("REDIS_URL"); v != "" {
		c.RedisURL = v
	}
	if v := getenv("API_JWT_SECRET"); v != "" {
		c.JWTSecret = v
	}
	return nil
}

// Validate checks the tool list.
func (c *Config) Validate() error {
	if len(c.Tools) == 0 {
		return ErrNoTools
	}
	seen := map[string]bool{}
	for i, t := range c.Tools {
		if strings.TrimSpace(t.Name) == "" {
			return fmt.Errorf("tools[%d]: name is required", i)
		}
		if seen[t.Name] {
			return fmt.Errorf("tools[%d]: duplicate name %q", i, t.Name)
		}
		seen[t.Name] = true
		switch t.Kind {
		case KindSQL:
			if len(t.Sources) == 0 && t.Database == "" {
				return fmt.Errorf("tools[%d] %s: sql tool needs sources or a database", i, t.Name)
			}
		case KindDocuments:
			if len(t.Sources) == 0 {
				return fmt.Errorf("tools[%d] %s: documents tool needs sources", i, t.Name)
			}
		case KindLLM:
		default:
			return fmt.Errorf("tools[%d] %s: unknown kind %q", i, t.Name, t.Kind)
		}
	}
	return nil
}

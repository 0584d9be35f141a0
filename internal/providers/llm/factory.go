package llm

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Options selects and configures a provider.
// Supported providers: openai, anthropic, gemini, mock.
type Options struct {
	Provider string
	APIKey   string
	Model    string
	BaseURL  string
	Timeout  time.Duration
}

var defaultModels = map[string]string{
	"openai":    "gpt-4o-mini",
	"anthropic": "claude-3-5-sonnet-latest",
	"gemini":    "gemini-1.5-flash",
}

// New returns a Client for opts.Provider. An empty provider or a provider
// without an API key yields a MockClient.
func New(ctx context.Context, opts Options) (Client, error) {
	prov := strings.ToLower(strings.TrimSpace(opts.Provider))
	if prov == "" || prov == "mock" || strings.TrimSpace(opts.APIKey) == "" {
		return &MockClient{}, nil
	}
	model := opts.Model
	if model == "" {
		model = defaultModels[prov]
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	switch prov {
	case "openai":
		return NewOpenAI(opts.APIKey, model, opts.BaseURL, timeout), nil
	case "anthropic":
		return NewAnthropic(opts.APIKey, model, opts.BaseURL, timeout), nil
	case "gemini":
		c, err := NewGemini(ctx, opts.APIKey, model, timeout)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", opts.Provider)
	}
}

// Package app assembles the LLM client, the tool registry and the retry
// controller from a config.Config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/example/query-router-agent/internal/agents"
	"github.com/example/query-router-agent/internal/cache"
	"github.com/example/query-router-agent/internal/config"
	"github.com/example/query-router-agent/internal/orchestrator"
	"github.com/example/query-router-agent/internal/providers/llm"
	"github.com/example/query-router-agent/internal/telemetry"
	"github.com/example/query-router-agent/internal/tools"
)

const cachePrefix = "query-agent:"

type App struct {
	Config       *config.Config
	Client       llm.Client
	Registry     *tools.Registry
	Telemetry    *telemetry.Telemetry
	Orchestrator *orchestrator.Orchestrator

	closers []io.Closer
}

// New validates cfg and builds every component. The caller must Close the
// returned App.
func New(ctx context.Context, cfg *config.Config, logger telemetry.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &App{Config: cfg, Telemetry: telemetry.New(logger)}
	client, err := a.buildClient(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Client = client
	reg, err := a.buildRegistry(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Registry = reg

	agent := orchestrator.NewRetryAgent(agents.NewLLMRouter(client, reg), agents.NewLLMEvaluator(client), a.Telemetry)
	a.Orchestrator = orchestrator.New(orchestrator.NewController(agent, a.Telemetry))
	a.Orchestrator.MaxIterations = cfg.MaxIterations
	return a, nil
}

// Close releases databases, provider clients and cache connections.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) buildClient(ctx context.Context) (llm.Client, error) {
	lc := a.Config.LLM
	base, err := llm.New(ctx, llm.Options{
		Provider: lc.Provider,
		APIKey:   lc.APIKey,
		Model:    lc.Model,
		BaseURL:  lc.BaseURL,
		Timeout:  lc.Timeout,
	})
	if err != nil {
		return nil, err
	}
	if c, ok := base.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}
	if _, mock := base.(*llm.MockClient); mock {
		a.Telemetry.Log.Warn(ctx, "no LLM credentials configured, using mock client", "provider", lc.Provider)
	}

	var store cache.Store
	if lc.CacheTTL > 0 {
		if a.Config.RedisURL != "" {
			r, err := cache.NewRedis(ctx, a.Config.RedisURL, cachePrefix)
			if err != nil {
				return nil, err
			}
			a.closers = append(a.closers, r)
			store = r
		} else {
			store = cache.NewMemory()
		}
	}
	return llm.Chain(base,
		llm.Cached(store, lc.CacheTTL, a.Telemetry.Log),
		llm.RateLimited(lc.RateLimit, lc.Burst),
		llm.Retrying(lc.RetryAttempts),
	), nil
}

func (a *App) buildRegistry(ctx context.Context) (*tools.Registry, error) {
	reg := tools.NewRegistry()
	for _, tc := range a.Config.Tools {
		var (
			t   tools.Tool
			err error
		)
		switch tc.Kind {
		case config.KindSQL:
			t, err = a.buildSQLTool(ctx, tc)
		case config.KindDocuments:
			t, err = a.buildDocumentTool(ctx, tc)
		case config.KindLLM:
			at := tools.NewAnswerTool(tc.Name, tc.Description, a.Client)
			at.Instructions = tc.Instructions
			t = at
		default:
			err = fmt.Errorf("unknown tool kind %q", tc.Kind)
		}
		if err != nil {
			return nil, fmt.Errorf("tool %s: %w", tc.Name, err)
		}
		if err := reg.Register(t); err != nil {
			return nil, err
		}
		a.Telemetry.Log.Info(ctx, "tool registered", "name", tc.Name, "kind", tc.Kind, "sources", len(tc.Sources))
	}
	return reg, nil
}

func (a *App) buildSQLTool(ctx context.Context, tc config.ToolConfig) (tools.Tool, error) {
	db, err := tools.OpenSQLite(tc.Database)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, db)
	var tables []string
	for _, src := range tc.Sources {
		table := tools.TableName(src)
		r, err := openSource(ctx, src)
		if err != nil {
			return nil, err
		}
		n, err := tools.LoadCSV(ctx, db, table, r)
		r.Close()
		if err != nil {
			return nil, err
		}
		a.Telemetry.Log.Debug(ctx, "csv loaded", "tool", tc.Name, "table", table, "rows", n)
		tables = append(tables, table)
	}
	return tools.NewSQLTool(ctx, tc.Name, tc.Description, db, a.Client, tables...)
}

func (a *App) buildDocumentTool(ctx context.Context, tc config.ToolConfig) (tools.Tool, error) {
	idx := tools.NewLexicalIndex()
	for _, src := range tc.Sources {
		doc, err := tools.LoadDocument(ctx, src, tools.LoaderOptions{})
		if err != nil {
			return nil, err
		}
		chunks := idx.Add(doc)
		a.Telemetry.Log.Debug(ctx, "document indexed", "tool", tc.Name, "source", src, "chunks", chunks)
	}
	if idx.Len() == 0 {
		return nil, errors.New("sources contain no text")
	}
	t := tools.NewDocumentTool(tc.Name, tc.Description, idx, a.Client)
	if tc.TopK > 0 {
		t.TopK = tc.TopK
	}
	return t, nil
}

func openSource(ctx context.Context, src string) (io.ReadCloser, error) {
	lower := strings.ToLower(src)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		body, _, err := tools.FetchURL(ctx, src, 0)
		if err != nil {
			return nil, err
		}
		return io.NopCloser(strings.NewReader(body)), nil
	}
	return os.Open(src)
}

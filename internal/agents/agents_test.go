package agents

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/example/query-router-agent/internal/models"
	"github.com/example/query-router-agent/internal/tools"
)

type jsonClient struct {
	out     string
	err     error
	prompts []string
}

func (c *jsonClient) GenerateText(ctx context.Context, prompt string) (string, error) {
	return c.GenerateJSON(ctx, prompt)
}

func (c *jsonClient) GenerateJSON(_ context.Context, prompt string) (string, error) {
	c.prompts = append(c.prompts, prompt)
	return c.out, c.err
}

func constTool(name, desc, out string, err error) *tools.FuncTool {
	return &tools.FuncTool{ToolName: name, ToolDesc: desc, Fn: func(context.Context, string) (string, error) {
		return out, err
	}}
}

func registry(t *testing.T, ts ...tools.Tool) *tools.Registry {
	t.Helper()
	r := tools.NewRegistry()
	for _, tool := range ts {
		require.NoError(t, r.Register(tool))
	}
	return r
}

func TestRouterRunsSelectedTool(t *testing.T) {
	client := &jsonClient{out: "```json\n{\"choice\": 2, \"reason\": \"about essays\"}\n```"}
	r := NewLLMRouter(client, registry(t,
		constTool("cities", "Population of cities", "Tokyo", nil),
		constTool("essay", "Paul Graham essay", "He wrote Lisp", nil),
	))

	sel, err := r.SelectAndRun(context.Background(), "What did the author do?")
	require.NoError(t, err)
	require.Equal(t, Selection{Tool: "essay", Index: 1, Reason: "about essays", Response: "He wrote Lisp"}, sel)
	require.Contains(t, client.prompts[0], "(1) cities: Population of cities")
	require.Contains(t, client.prompts[0], "(2) essay: Paul Graham essay")
}

func TestRouterSingleToolSkipsSelection(t *testing.T) {
	client := &jsonClient{err: errors.New("should not be called")}
	r := NewLLMRouter(client, registry(t, constTool("only", "d", "out", nil)))

	sel, err := r.SelectAndRun(context.Background(), "q")
	require.NoError(t, err)
	require.Equal(t, "only", sel.Tool)
	require.Equal(t, "out", sel.Response)
	require.Empty(t, client.prompts)
}

func TestRouterFailsLoudly(t *testing.T) {
	two := func() *tools.Registry {
		return registry(t, constTool("a", "a", "", nil), constTool("b", "b", "", nil))
	}
	for _, raw := range []string{`{"choice": 3}`, `{"choice": 0}`, `{"reason": "none fits"}`, `{"choice": "one"}`, `no idea`} {
		_, err := NewLLMRouter(&jsonClient{out: raw}, two()).SelectAndRun(context.Background(), "q")
		require.ErrorIs(t, err, ErrNoToolSelected, raw)
	}
	_, err := NewLLMRouter(&jsonClient{}, tools.NewRegistry()).SelectAndRun(context.Background(), "q")
	require.ErrorIs(t, err, ErrNoToolSelected)
}

func TestRouterPropagatesToolError(t *testing.T) {
	boom := errors.New("boom")
	r := NewLLMRouter(&jsonClient{}, registry(t, constTool("a", "a", "", boom)))
	sel, err := r.SelectAndRun(context.Background(), "q")
	require.ErrorIs(t, err, boom)
	require.Equal(t, "a", sel.Tool)
}

func TestEvaluatorParsesVerdict(t *testing.T) {
	client := &jsonClient{out: `Here you go: {"has_error": true, "replacement_query": " What did the author do growing up? ", "explanation": "irrelevant {sic}"}`}
	ev, err := NewLLMEvaluator(client).Judge(context.Background(), "What did the author do?", "Tokyo", []models.Turn{
		{Role: models.RoleUser, Text: "What did the author do?"},
		{Role: models.RoleAssistant, Text: "Tokyo"},
	})
	require.NoError(t, err)
	require.Equal(t, models.Evaluation{HasError: true, ReplacementQuery: "What did the author do growing up?", Explanation: "irrelevant {sic}"}, ev)

	p := client.prompts[0]
	require.Contains(t, p, DefaultEvaluationPrompt)
	require.Contains(t, p, "user: What did the author do?\nassistant: Tokyo\n")
	require.Contains(t, p, "Response to evaluate: Tokyo")
}

func TestEvaluatorRejectsMalformedOutput(t *testing.T) {
	for _, raw := range []string{
		``,
		`not json`,
		`{"has_error": true, "explanation": "missing replacement"}`,
		`{"has_error": "yes", "replacement_query": "", "explanation": ""}`,
		`{"has_error": false, "replacement_query": null, "explanation": ""}`,
	} {
		_, err := NewLLMEvaluator(&jsonClient{out: raw}).Judge(context.Background(), "q", "r", nil)
		require.ErrorIs(t, err, ErrMalformedEvaluation, raw)
	}
}

func TestEvaluatorPropagatesClientError(t *testing.T) {
	boom := errors.New("boom")
	_, err := NewLLMEvaluator(&jsonClient{err: boom}).Judge(context.Background(), "q", "r", nil)
	require.ErrorIs(t, err, boom)
	require.NotErrorIs(t, err, ErrMalformedEvaluation)
}

func TestNormalizeJSONText(t *testing.T) {
	require.Equal(t, `{"a":1}`, normalizeJSONText("```json\n{\"a\":1}\n```"))
	require.Equal(t, `{"a":"}"}`, normalizeJSONText(`prefix {"a":"}"} suffix`))
	require.Equal(t, `plain`, normalizeJSONText(" plain "))
}

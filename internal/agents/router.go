package agents

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/example/query-router-agent/internal/providers/llm"
	"github.com/example/query-router-agent/internal/tools"
)

var ErrNoToolSelected = errors.New("router could not select a tool")

// Selection is the outcome of one routing decision.
type Selection struct {
	Tool     string
	Index    int
	Reason   string
	Response string
}

// Router picks exactly one tool for a query and returns its raw output.
type Router interface {
	SelectAndRun(ctx context.Context, query string) (Selection, error)
}

// LLMRouter asks an LLM to choose among the registered tools by description.
type LLMRouter struct {
	Client llm.Client
	Tools  *tools.Registry
}

func NewLLMRouter(client llm.Client, registry *tools.Registry) *LLMRouter {
	return &LLMRouter{Client: client, Tools: registry}
}

func (r *LLMRouter) SelectAndRun(ctx context.Context, query string) (Selection, error) {
	sel, tool, err := r.selectTool(ctx, query)
	if err != nil {
		return Selection{}, err
	}
	out, err := tool.Query(ctx, query)
	if err != nil {
		return sel, fmt.Errorf("tool %s: %w", sel.Tool, err)
	}
	sel.Response = out
	return sel, nil
}

func (r *LLMRouter) selectTool(ctx context.Context, query string) (Selection, tools.Tool, error) {
	all := r.Tools.All()
	switch len(all) {
	case 0:
		return Selection{}, nil, fmt.Errorf("%w: no tools registered", ErrNoToolSelected)
	case 1:
		return Selection{Tool: all[0].Name(), Index: 0, Reason: "only tool available"}, all[0], nil
	}
	raw, err := r.Client.GenerateJSON(ctx, buildSelectPrompt(all, query))
	if err != nil {
		return Selection{}, nil, fmt.Errorf("select tool: %w", err)
	}
	var choice struct {
		Choice int    `json:"choice"`
		Reason string `json:"reason"`
	}
	if err := decodeValidated(raw, selectionSchema, &choice); err != nil {
		return Selection{}, nil, fmt.Errorf("%w: %v (raw=%.200q)", ErrNoToolSelected, err, raw)
	}
	if choice.Choice < 1 || choice.Choice > len(all) {
		return Selection{}, nil, fmt.Errorf("%w: choice %d out of range 1..%d", ErrNoToolSelected, choice.Choice, len(all))
	}
	t := all[choice.Choice-1]
	return Selection{Tool: t.Name(), Index: choice.Choice - 1, Reason: choice.Reason}, t, nil
}

func buildSelectPrompt(all []tools.Tool, query string) string {
	var b strings.Builder
	b.WriteString("Some choices are given below. It is provided in a numbered list (1 to ")
	fmt.Fprintf(&b, "%d), where each item in the list corresponds to a summary.\n---------------------\n", len(all))
	for i, t := range all {
		fmt.Fprintf(&b, "(%d) %s: %s\n\n", i+1, t.Name(), strings.TrimSpace(t.Description()))
	}
	b.WriteString("---------------------\n")
	fmt.Fprintf(&b, "Using only the choices above and not prior knowledge, return the choice that is most relevant to the question: '%s'\n", query)
	b.WriteString(`Respond with JSON only: {"choice": <number of the choice>, "reason": "<why it is relevant>"}`)
	return b.String()
}

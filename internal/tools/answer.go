package tools

import (
	"context"
	"strings"

	"github.com/example/query-router-agent/internal/providers/llm"
)

// AnswerTool answers directly from the model's own knowledge. Instructions,
// when set, are prepended to the question.
type AnswerTool struct {
	name         string
	description  string
	client       llm.Client
	Instructions string
}

func NewAnswerTool(name, description string, client llm.Client) *AnswerTool {
	return &AnswerTool{name: name, description: description, client: client}
}

func (t *AnswerTool) Name() string        { return t.name }
func (t *AnswerTool) Description() string { return t.description }

func (t *AnswerTool) Query(ctx context.Context, text string) (string, error) {
	prompt := "Question: " + text
	if inst := strings.TrimSpace(t.Instructions); inst != "" {
		prompt = inst + "\n\n" + prompt
	}
	out, err := synthesize(ctx, t.client, prompt)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

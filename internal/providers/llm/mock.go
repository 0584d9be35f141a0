package llm

import (
	"context"
	"strings"
)

// MockClient is used when no real provider is configured. It always picks the
// first tool and accepts every response, which is enough to exercise the loop
// end to end offline.
type MockClient struct{}

func (m *MockClient) GenerateText(ctx context.Context, prompt string) (string, error) {
	p := strings.ToLower(prompt)
	if strings.Contains(p, "sqlite select statement") {
		return "SELECT 1 AS answer", nil
	}
	// echo the trailing question back
	if i := strings.LastIndex(prompt, "Question:"); i != -1 {
		return "mock answer: " + strings.TrimSpace(prompt[i+len("Question:"):]), nil
	}
	return "mock answer", nil
}

func (m *MockClient) GenerateJSON(ctx context.Context, prompt string) (string, error) {
	if strings.Contains(prompt, `"choice"`) {
		return `{"choice": 1, "reason": "mock selector always picks the first tool"}`, nil
	}
	return `{"has_error": false, "replacement_query": "", "explanation": "mock evaluator accepts every response"}`, nil
}

package agents

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/example/query-router-agent/internal/models"
	"github.com/example/query-router-agent/internal/providers/llm"
)

var ErrMalformedEvaluation = errors.New("malformed evaluation")

// DefaultEvaluationPrompt is prepended to the transcript on every evaluator call.
const DefaultEvaluationPrompt = `Given previous question/response pairs, please determine if an error has occurred in the response, and suggest a modified question that will not trigger the error.

Examples of modified questions:
- The question itself is modified to elicit a non-erroneous response.
- The question is augmented with context that will help the downstream system better answer the question.
- The question is augmented with examples of negative responses, or other negative questions.

An error means that either an exception has triggered, or the response is completely irrelevant to the question.

Please return the evaluation of the response as a single JSON object with exactly these fields:
- "has_error": boolean, true when the response is erroneous.
- "replacement_query": string, the modified question to ask next; empty when has_error is false.
- "explanation": string, a short justification.`

// Evaluator judges the last response of a run and proposes a replacement
// query when it is erroneous.
type Evaluator interface {
	Judge(ctx context.Context, original, response string, history []models.Turn) (models.Evaluation, error)
}

// LLMEvaluator asks an LLM for a structured verdict and validates it on receipt.
type LLMEvaluator struct {
	Client llm.Client
	// Prompt overrides DefaultEvaluationPrompt when set.
	Prompt string
}

func NewLLMEvaluator(client llm.Client) *LLMEvaluator {
	return &LLMEvaluator{Client: client}
}

func (e *LLMEvaluator) Judge(ctx context.Context, original, response string, history []models.Turn) (models.Evaluation, error) {
	raw, err := e.Client.GenerateJSON(ctx, e.buildPrompt(original, response, history))
	if err != nil {
		return models.Evaluation{}, fmt.Errorf("evaluate response: %w", err)
	}
	var ev models.Evaluation
	if err := decodeValidated(raw, evaluationSchema, &ev); err != nil {
		return models.Evaluation{}, fmt.Errorf("%w: %v (raw=%.200q)", ErrMalformedEvaluation, err, raw)
	}
	ev.ReplacementQuery = strings.TrimSpace(ev.ReplacementQuery)
	return ev, nil
}

func (e *LLMEvaluator) buildPrompt(original, response string, history []models.Turn) string {
	instr := e.Prompt
	if strings.TrimSpace(instr) == "" {
		instr = DefaultEvaluationPrompt
	}
	var b strings.Builder
	b.WriteString(instr)
	b.WriteString("\n\nJSON schema of the answer:\n")
	b.WriteString(evaluationSchemaJSON)
	b.WriteString("\n\nTranscript:\n")
	for _, t := range history {
		fmt.Fprintf(&b, "%s: %s\n", t.Role, t.Text)
	}
	fmt.Fprintf(&b, "\nOriginal question: %s\nResponse to evaluate: %s\n", original, response)
	return b.String()
}

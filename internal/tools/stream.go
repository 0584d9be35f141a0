package tools

import (
	"context"

	"github.com/example/query-router-agent/internal/providers/llm"
)

// TokenCallback is used to stream incremental text output.
type TokenCallback func(chunk string)

type ctxKey string

var ctxTokenCallbackKey ctxKey = "token_cb"

// WithTokenCallback attaches cb to ctx; tools that synthesize text with an LLM
// forward deltas to it.
func WithTokenCallback(ctx context.Context, cb TokenCallback) context.Context {
	return context.WithValue(ctx, ctxTokenCallbackKey, cb)
}

func tokenCallback(ctx context.Context) TokenCallback {
	cb, _ := ctx.Value(ctxTokenCallbackKey).(TokenCallback)
	return cb
}

// synthesize runs prompt through client, streaming deltas to the context's
// TokenCallback when one is attached.
func synthesize(ctx context.Context, client llm.Client, prompt string) (string, error) {
	cb := tokenCallback(ctx)
	if cb == nil {
		return client.GenerateText(ctx, prompt)
	}
	return llm.Stream(ctx, client, prompt, func(chunk string) error {
		cb(chunk)
		return nil
	})
}

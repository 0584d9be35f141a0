package llm

import (
	"context"
	"errors"
	"fmt"
)

// Client is the minimal interface used by the router, the evaluator and the
// query tools. Any provider implementation should satisfy this.
type Client interface {
	// GenerateText returns a free-form completion for prompt.
	GenerateText(ctx context.Context, prompt string) (string, error)
	// GenerateJSON returns a completion that the provider was asked to emit as a
	// single JSON object. Callers still validate the result.
	GenerateJSON(ctx context.Context, prompt string) (string, error)
}

// Streamer is implemented by clients that can emit incremental text.
type Streamer interface {
	GenerateTextStream(ctx context.Context, prompt string, onDelta func(chunk string) error) error
}

var ErrNoContent = errors.New("llm: empty completion")

// StatusError is a provider failure carrying the upstream HTTP status.
type StatusError struct {
	Provider string
	Code     int
	Err      error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s status %d: %v", e.Provider, e.Code, e.Err)
}

func (e *StatusError) Unwrap() error { return e.Err }

// Stream generates text through c, forwarding deltas to onDelta. Clients that
// do not stream deliver the whole completion as a single delta.
func Stream(ctx context.Context, c Client, prompt string, onDelta func(chunk string) error) (string, error) {
	var acc string
	collect := func(chunk string) error {
		acc += chunk
		return onDelta(chunk)
	}
	if s, ok := c.(Streamer); ok {
		if err := s.GenerateTextStream(ctx, prompt, collect); err != nil {
			return "", err
		}
		return acc, nil
	}
	txt, err := c.GenerateText(ctx, prompt)
	if err != nil {
		return "", err
	}
	if err := collect(txt); err != nil {
		return "", err
	}
	return acc, nil
}

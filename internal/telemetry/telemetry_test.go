package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"goa.design/clue/log"
)

func TestFieldersPairsKeysAndValues(t *testing.T) {
	got := fielders("step", []any{"index", 1, 42, "skipped", "tool"})
	require.Equal(t, []log.Fielder{
		log.KV{K: "msg", V: "step"},
		log.KV{K: "index", V: 1},
		log.KV{K: "tool", V: nil},
	}, got)
}

func TestTelemetryWithoutProvidersIsSafe(t *testing.T) {
	tel := New(NoopLogger{})
	ctx, span := tel.StartSpan(context.Background(), "run")
	tel.CountStep(ctx, "sql", true)
	tel.CountToolFailure(ctx, "sql")
	tel.CountOutcome(ctx, "COMPLETED")
	EndSpan(span, errors.New("boom"))
}

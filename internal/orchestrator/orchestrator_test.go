package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/query-router-agent/internal/agents"
	"github.com/example/query-router-agent/internal/models"
	"github.com/example/query-router-agent/internal/telemetry"
	"github.com/example/query-router-agent/internal/tools"
)

type cannedLLM struct{ out string }

func (c cannedLLM) GenerateText(context.Context, string) (string, error) { return c.out, nil }
func (c cannedLLM) GenerateJSON(context.Context, string) (string, error) { return c.out, nil }

func newTestOrchestrator(t *testing.T, e agents.Evaluator) *Orchestrator {
	t.Helper()
	idx := tools.NewLexicalIndex()
	idx.Add(tools.Document{Source: "essay", Text: "The author wrote short stories and programmed an IBM 1401."})
	reg := tools.NewRegistry()
	require.NoError(t, reg.Register(tools.NewDocumentTool("essay", "Essay about the author", idx, cannedLLM{out: "He wrote stories."})))
	tel := telemetry.New(telemetry.NoopLogger{})
	router := agents.NewLLMRouter(cannedLLM{}, reg)
	return New(NewController(NewRetryAgent(router, e, tel), tel))
}

func drain(ch <-chan []byte) []Event {
	var out []Event
	for {
		select {
		case b := <-ch:
			var ev Event
			if json.Unmarshal(b, &ev) == nil {
				out = append(out, ev)
			}
		default:
			return out
		}
	}
}

func eventNames(evs []Event) []string {
	names := make([]string, len(evs))
	for i, ev := range evs {
		names[i] = ev.Event
	}
	return names
}

func TestStartPublishesProgress(t *testing.T) {
	o := newTestOrchestrator(t, &fakeEvaluator{verdicts: []models.Evaluation{accept}})
	task, err := o.CreateTask("What did the author write?", 0, false)
	require.NoError(t, err)
	require.Equal(t, models.StatusPending, task.Status)
	require.Equal(t, DefaultMaxIterations, task.MaxIterations)

	ch, unsubscribe := o.Subscribe(task.ID)
	defer unsubscribe()

	out, err := o.Start(context.Background(), task.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusCompleted, out.Status)
	require.Equal(t, "He wrote stories.", out.Response)

	evs := drain(ch)
	names := eventNames(evs)
	require.Len(t, evs, 4)
	require.ElementsMatch(t, []string{"task_status", "step", "token", "task_status"}, names)
	require.Equal(t, map[string]any{"status": "RUNNING"}, evs[0].Payload)
	require.Equal(t, map[string]any{"status": "COMPLETED"}, evs[3].Payload)
	for _, ev := range evs {
		if ev.Event == "token" {
			require.Equal(t, map[string]any{"step_id": "step0", "chunk": "He wrote stories."}, ev.Payload)
		}
	}

	got, ok := o.GetTask(task.ID)
	require.True(t, ok)
	require.Equal(t, models.StatusCompleted, got.Status)
	require.Equal(t, "He wrote stories.", got.Response)
	require.Len(t, got.Steps, 1)
	require.Equal(t, "essay", got.Steps[0].Tool)
}

func TestStartRejectsUnknownAndRepeatedTasks(t *testing.T) {
	o := newTestOrchestrator(t, &fakeEvaluator{verdicts: []models.Evaluation{accept}})
	_, err := o.Start(context.Background(), "missing")
	require.ErrorIs(t, err, ErrTaskNotFound)

	task, err := o.CreateTask("q about the author", 2, true)
	require.NoError(t, err)
	_, err = o.Start(context.Background(), task.ID)
	require.NoError(t, err)
	_, err = o.Start(context.Background(), task.ID)
	require.ErrorIs(t, err, ErrTaskStarted)
}

func TestCreateTaskRejectsEmptyQuery(t *testing.T) {
	o := newTestOrchestrator(t, &fakeEvaluator{})
	_, err := o.CreateTask("   ", 0, false)
	require.ErrorIs(t, err, ErrEmptyQuery)
	require.Empty(t, o.ListTasks())
}

func TestRunRecordsEvaluatorFailure(t *testing.T) {
	o := newTestOrchestrator(t, &fakeEvaluator{err: errors.New("garbled")})
	task, out, err := o.Run(context.Background(), "What did the author write?", 3, false)
	require.ErrorIs(t, err, ErrEvaluation)
	require.Equal(t, models.StatusFailed, out.Status)
	require.Equal(t, models.StatusFailed, task.Status)
	require.Equal(t, "He wrote stories.", task.Response)
	require.Contains(t, task.Error, "garbled")
}

func TestConcurrentTasksDoNotShareState(t *testing.T) {
	o := newTestOrchestrator(t, &lockedEvaluator{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, out, err := o.Run(context.Background(), "What did the author write?", 2, false)
			if assert.NoError(t, err) {
				assert.Equal(t, models.StatusExhausted, out.Status)
				assert.Len(t, out.History, 4)
			}
		}()
	}
	wg.Wait()
	tasks := o.ListTasks()
	require.Len(t, tasks, 8)
	for i := 1; i < len(tasks); i++ {
		require.False(t, tasks[i].CreatedAt.Before(tasks[i-1].CreatedAt))
	}
}

// lockedEvaluator always asks for a retry and is safe for concurrent use.
type lockedEvaluator struct{}

func (lockedEvaluator) Judge(context.Context, string, string, []models.Turn) (models.Evaluation, error) {
	return models.Evaluation{HasError: true, ReplacementQuery: "What stories did the author write?"}, nil
}

func TestHubTokenCoalescing(t *testing.T) {
	h := NewHub()
	ch, unsubscribe := h.Subscribe("t1")
	appendTok := h.TokenAppender("t1")
	appendTok("s1", "Hel")
	appendTok("s1", "lo")
	appendTok("", "ignored")
	h.StopTokenAppender("t1")

	select {
	case b := <-ch:
		var ev Event
		require.NoError(t, json.Unmarshal(b, &ev))
		require.Equal(t, "token", ev.Event)
		require.Equal(t, map[string]any{"step_id": "s1", "chunk": "Hello"}, ev.Payload)
	case <-time.After(time.Second):
		t.Fatal("no token event")
	}
	unsubscribe()
	unsubscribe()
	h.Publish("t1", Event{Event: "late"})
}

func TestLaunchClaimsOnce(t *testing.T) {
	o := newTestOrchestrator(t, &fakeEvaluator{verdicts: []models.Evaluation{accept}})
	task, err := o.CreateTask("What did the author write?", 0, false)
	require.NoError(t, err)

	var wins, conflicts atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			switch err := o.Launch(context.Background(), task.ID); {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, ErrTaskStarted):
				conflicts.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), wins.Load())
	require.Equal(t, int32(7), conflicts.Load())
	require.ErrorIs(t, o.Launch(context.Background(), "missing"), ErrTaskNotFound)

	require.Eventually(t, func() bool {
		got, _ := o.GetTask(task.ID)
		return got.Status == models.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHubAlwaysDeliversStatus(t *testing.T) {
	h := NewHub()
	ch, unsubscribe := h.Subscribe("t1")
	defer unsubscribe()
	for i := 0; i < subscriberBuffer+10; i++ {
		h.Publish("t1", Event{Event: "step", TaskID: "t1", Payload: i})
	}
	h.Publish("t1", Event{Event: statusEvent, TaskID: "t1", Payload: map[string]any{"status": models.StatusCompleted}})

	evs := drain(ch)
	require.Len(t, evs, subscriberBuffer)
	require.Equal(t, statusEvent, evs[len(evs)-1].Event)
}

func TestHubTokensKeepStepOrder(t *testing.T) {
	h := NewHub()
	ch, unsubscribe := h.Subscribe("t1")
	defer unsubscribe()
	appendTok := h.TokenAppender("t1")
	appendTok("step2", "b")
	appendTok("step1", "a")
	appendTok("step2", "c")
	h.StopTokenAppender("t1")
	h.StopTokenAppender("t1")

	evs := drain(ch)
	require.Len(t, evs, 2)
	require.Equal(t, map[string]any{"step_id": "step2", "chunk": "bc"}, evs[0].Payload)
	require.Equal(t, map[string]any{"step_id": "step1", "chunk": "a"}, evs[1].Payload)
}

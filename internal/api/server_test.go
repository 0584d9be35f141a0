package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"goa.design/clue/log"

	"github.com/example/query-router-agent/internal/agents"
	"github.com/example/query-router-agent/internal/models"
	"github.com/example/query-router-agent/internal/orchestrator"
	"github.com/example/query-router-agent/internal/providers/llm"
	"github.com/example/query-router-agent/internal/telemetry"
	"github.com/example/query-router-agent/internal/tools"
)

func newTestServer(t *testing.T, secret string) *httptest.Server {
	t.Helper()
	reg := tools.NewRegistry()
	require.NoError(t, reg.Register(&tools.FuncTool{
		ToolName: "echo",
		ToolDesc: "Repeats the question",
		Fn: func(_ context.Context, text string) (string, error) {
			return "echo: " + text, nil
		},
	}))
	client := &llm.MockClient{}
	tel := telemetry.New(telemetry.NoopLogger{})
	agent := orchestrator.NewRetryAgent(agents.NewLLMRouter(client, reg), agents.NewLLMEvaluator(client), tel)
	orch := orchestrator.New(orchestrator.NewController(agent, tel))

	ctx := log.Context(context.Background(), log.WithOutput(io.Discard))
	srv := httptest.NewServer(NewServer(ctx, orch).Handler(secret))
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, "")
	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCreateAndGetTask(t *testing.T) {
	srv := newTestServer(t, "")
	resp := postJSON(t, srv.URL+"/tasks", taskRequest{Query: "What is 2+2?", MaxIterations: 3})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	task := decode[models.Task](t, resp)
	require.Equal(t, models.StatusPending, task.Status)
	require.Equal(t, 3, task.MaxIterations)

	resp, err := http.Get(srv.URL + "/tasks/" + task.ID)
	require.NoError(t, err)
	require.Equal(t, task.ID, decode[models.Task](t, resp).ID)

	resp, err = http.Get(srv.URL + "/tasks")
	require.NoError(t, err)
	require.Len(t, decode[[]models.Task](t, resp), 1)

	resp, err = http.Get(srv.URL + "/tasks/nope")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateTaskRejectsEmptyQuery(t *testing.T) {
	srv := newTestServer(t, "")
	resp := postJSON(t, srv.URL+"/tasks", taskRequest{Query: "  "})
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err := http.Post(srv.URL+"/tasks", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRunSync(t *testing.T) {
	srv := newTestServer(t, "")
	resp := postJSON(t, srv.URL+"/tasks/run", taskRequest{Query: "What is 2+2?"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[struct {
		Task    models.Task          `json:"task"`
		Outcome orchestrator.Outcome `json:"outcome"`
	}](t, resp)
	require.Equal(t, models.StatusCompleted, body.Task.Status)
	require.Equal(t, "echo: What is 2+2?", body.Outcome.Response)
	require.Equal(t, 1, body.Outcome.Steps)
	require.Len(t, body.Outcome.History, 2)
}

func TestStartStreamsEvents(t *testing.T) {
	srv := newTestServer(t, "")
	task := decode[models.Task](t, postJSON(t, srv.URL+"/tasks", taskRequest{Query: "hello"}))

	resp := postJSON(t, srv.URL+"/tasks/start/"+task.ID, nil)
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, err := http.Get(srv.URL + "/tasks/events/" + task.ID)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// the stream ends once the task is terminal
	var events []string
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		if name, ok := strings.CutPrefix(sc.Text(), "event: "); ok {
			events = append(events, name)
		}
	}
	require.NotEmpty(t, events)
	require.Equal(t, "snapshot", events[0])

	require.Eventually(t, func() bool {
		r, err := http.Get(srv.URL + "/tasks/" + task.ID)
		if err != nil {
			return false
		}
		return decode[models.Task](t, r).Status == models.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	resp = postJSON(t, srv.URL+"/tasks/start/"+task.ID, nil)
	resp.Body.Close()
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestWebSocketStreamsUntilTerminal(t *testing.T) {
	srv := newTestServer(t, "")
	task := decode[models.Task](t, postJSON(t, srv.URL+"/tasks", taskRequest{Query: "hello"}))

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/tasks/ws/" + task.ID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var first orchestrator.Event
	require.NoError(t, conn.ReadJSON(&first))
	require.Equal(t, "snapshot", first.Event)

	resp := postJSON(t, srv.URL+"/tasks/start/"+task.ID, nil)
	resp.Body.Close()

	var last wireEvent
	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			break
		}
		require.NoError(t, json.Unmarshal(b, &last))
	}
	require.Equal(t, "task_status", last.Event)
	require.Equal(t, models.StatusCompleted, last.Payload.Status)
}

func TestBearerAuth(t *testing.T) {
	srv := newTestServer(t, "s3cret")

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/tasks")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	bad, err := GenerateToken("other", "alice", time.Minute)
	require.NoError(t, err)
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/tasks", nil)
	req.Header.Set("Authorization", "Bearer "+bad)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	good, err := GenerateToken("s3cret", "alice", time.Minute)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+good)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/tasks?token=" + good)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	tok, err := GenerateToken("k", "bob", -time.Minute)
	require.NoError(t, err)
	_, err = ValidateToken("k", tok)
	require.Error(t, err)

	sub, err := ValidateToken("k", mustToken(t, "k", "bob"))
	require.NoError(t, err)
	require.Equal(t, "bob", sub)
}

func mustToken(t *testing.T, secret, sub string) string {
	t.Helper()
	tok, err := GenerateToken(secret, sub, time.Minute)
	require.NoError(t, err)
	return tok
}

func TestStartRaceHasOneWinner(t *testing.T) {
	srv := newTestServer(t, "")
	task := decode[models.Task](t, postJSON(t, srv.URL+"/tasks", taskRequest{Query: "hello"}))

	const n = 8
	codes := make(chan int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := http.Post(srv.URL+"/tasks/start/"+task.ID, "application/json", nil)
			if !assert.NoError(t, err) {
				return
			}
			resp.Body.Close()
			codes <- resp.StatusCode
		}()
	}
	wg.Wait()
	close(codes)

	counts := map[int]int{}
	for c := range codes {
		counts[c]++
	}
	require.Equal(t, map[int]int{http.StatusAccepted: 1, http.StatusConflict: n - 1}, counts)

	resp := postJSON(t, srv.URL+"/tasks/start/missing", nil)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"goa.design/clue/log"

	"github.com/example/query-router-agent/internal/models"
	"github.com/example/query-router-agent/internal/orchestrator"
)

const keepAliveInterval = 15 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// serveSSE streams task events as server-sent events until the task reaches a
// terminal status or the client goes away.
func (s *Server) serveSSE(w http.ResponseWriter, r *http.Request, id string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	ch, unsubscribe := s.orch.Subscribe(id)
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// current state first so late subscribers are not left waiting
	if t, ok := s.orch.GetTask(id); ok {
		b, _ := json.Marshal(orchestrator.Event{Event: "snapshot", TaskID: id, Payload: t})
		fmt.Fprintf(w, "event: snapshot\ndata: %s\n\n", b)
		flusher.Flush()
		if t.Status.Terminal() {
			return
		}
	}

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if t, ok := s.orch.GetTask(id); !ok || t.Status.Terminal() {
				return
			}
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case b, ok := <-ch:
			if !ok {
				return
			}
			name := eventName(b)
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, b)
			flusher.Flush()
			if isTerminal(b) {
				return
			}
		}
	}
}

// serveWebSocket relays the same events as serveSSE as text frames.
func (s *Server) serveWebSocket(w http.ResponseWriter, r *http.Request, id string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error(s.base, err, log.KV{K: "msg", V: "websocket upgrade failed"})
		return
	}
	defer conn.Close()
	ch, unsubscribe := s.orch.Subscribe(id)
	defer unsubscribe()

	// detect client close
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if t, ok := s.orch.GetTask(id); ok {
		if err := conn.WriteJSON(orchestrator.Event{Event: "snapshot", TaskID: id, Payload: t}); err != nil {
			return
		}
		if t.Status.Terminal() {
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"))
			return
		}
	}
	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case b, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
			if isTerminal(b) {
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"))
				return
			}
		}
	}
}

type wireEvent struct {
	Event   string `json:"event"`
	Payload struct {
		Status models.Status `json:"status"`
	} `json:"payload"`
}

func eventName(b []byte) string {
	var ev wireEvent
	if json.Unmarshal(b, &ev) != nil || ev.Event == "" {
		return "message"
	}
	return ev.Event
}

func isTerminal(b []byte) bool {
	var ev wireEvent
	if json.Unmarshal(b, &ev) != nil {
		return false
	}
	return ev.Event == "task_status" && ev.Payload.Status.Terminal()
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"goa.design/clue/log"

	"github.com/example/query-router-agent/internal/orchestrator"
)

// Server exposes the orchestrator over HTTP.
type Server struct {
	orch *orchestrator.Orchestrator
	// base is the context async runs derive from; it carries the logger.
	base context.Context
}

func NewServer(ctx context.Context, orch *orchestrator.Orchestrator) *Server {
	return &Server{orch: orch, base: ctx}
}

type taskRequest struct {
	Query         string `json:"query"`
	MaxIterations int    `json:"max_iterations,omitempty"`
	Verbose       bool   `json:"verbose,omitempty"`
}

// Handler returns the routed handler. When jwtSecret is set, every route but
// /health requires a bearer token signed with it.
func (s *Server) Handler(jwtSecret string) http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	logged := log.HTTP(s.base)(mux)
	var h http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// streams need the raw writer to flush and hijack
		if strings.HasPrefix(r.URL.Path, "/tasks/events/") || strings.HasPrefix(r.URL.Path, "/tasks/ws/") {
			mux.ServeHTTP(w, r)
			return
		}
		logged.ServeHTTP(w, r)
	})
	if jwtSecret != "" {
		h = BearerAuth(jwtSecret, "/health")(h)
	}
	return cors(h)
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("/tasks", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			respondJSON(w, http.StatusOK, s.orch.ListTasks())
		case http.MethodPost:
			req, ok := decodeTaskRequest(w, r)
			if !ok {
				return
			}
			t, err := s.orch.CreateTask(req.Query, req.MaxIterations, req.Verbose)
			if err != nil {
				respondError(w, err)
				return
			}
			respondJSON(w, http.StatusCreated, t)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/tasks/run", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		req, ok := decodeTaskRequest(w, r)
		if !ok {
			return
		}
		t, out, err := s.orch.Run(r.Context(), req.Query, req.MaxIterations, req.Verbose)
		if t == nil {
			respondError(w, err)
			return
		}
		// a failed evaluation still yields the task with its last response
		respondJSON(w, http.StatusOK, map[string]any{"task": t, "outcome": out})
	})

	mux.HandleFunc("/tasks/start/", func(w http.ResponseWriter, r *http.Request) {
		// path: /tasks/start/{id}
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		id := strings.TrimPrefix(r.URL.Path, "/tasks/start/")
		if err := s.orch.Launch(s.base, id); err != nil {
			respondError(w, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})

	mux.HandleFunc("/tasks/events/", func(w http.ResponseWriter, r *http.Request) {
		// path: /tasks/events/{id}
		id := strings.TrimPrefix(r.URL.Path, "/tasks/events/")
		if _, ok := s.orch.GetTask(id); !ok {
			http.NotFound(w, r)
			return
		}
		s.serveSSE(w, r, id)
	})

	mux.HandleFunc("/tasks/ws/", func(w http.ResponseWriter, r *http.Request) {
		// path: /tasks/ws/{id}
		id := strings.TrimPrefix(r.URL.Path, "/tasks/ws/")
		if _, ok := s.orch.GetTask(id); !ok {
			http.NotFound(w, r)
			return
		}
		s.serveWebSocket(w, r, id)
	})

	mux.HandleFunc("/tasks/", func(w http.ResponseWriter, r *http.Request) {
		// path: /tasks/{id}
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		id := strings.TrimPrefix(r.URL.Path, "/tasks/")
		t, ok := s.orch.GetTask(id)
		if !ok {
			http.NotFound(w, r)
			return
		}
		respondJSON(w, http.StatusOK, t)
	})
}

func decodeTaskRequest(w http.ResponseWriter, r *http.Request) (taskRequest, bool) {
	var req taskRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return req, false
	}
	return req, true
}

func respondJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

func respondError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, orchestrator.ErrEmptyQuery):
		code = http.StatusBadRequest
	case errors.Is(err, orchestrator.ErrTaskNotFound):
		code = http.StatusNotFound
	case errors.Is(err, orchestrator.ErrTaskStarted):
		code = http.StatusConflict
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		code = http.StatusServiceUnavailable
	}
	respondJSON(w, code, map[string]string{"error": err.Error()})
}

// cors allows any origin for local development.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"GuardianScope/internal/engine"
	"GuardianScope/internal/logger"
	"GuardianScope/internal/moderation"
)

// Provider exposes the operator state for observation.
type Provider interface {
	Snapshot() moderation.Snapshot
	Task(id moderation.TaskID) (moderation.TaskView, bool)
	Operators() []moderation.OperatorView
	Failures() []moderation.Failure
	Status() engine.Status
	Subscribe() (<-chan struct{}, func())
}

// Server is the read-only HTTP API server.
type Server struct {
	addr     string        // addr is the HTTP listen address
	provider Provider      // provider is the observed engine
	throttle time.Duration // throttle is the minimum gap between websocket pushes
	server   *http.Server  // server is the underlying HTTP server
}

// New creates a new HTTP API server.
func New(addr string, provider Provider) *Server {
	return &Server{
		addr:     addr,
		provider: provider,
		throttle: defaultThrottle,
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /snapshot", s.handleSnapshot)
	mux.HandleFunc("GET /tasks", s.handleTasks)
	mux.HandleFunc("GET /tasks/{id}", s.handleTask)
	mux.HandleFunc("GET /operators", s.handleOperators)
	mux.HandleFunc("GET /failures", s.handleFailures)
	mux.HandleFunc("GET /ws", s.handleWebsocket)
	mux.Handle("GET /metrics", promhttp.Handler())

	return mux
}

// Start starts the HTTP server in a goroutine.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:        s.addr,
		Handler:     s.Handler(),
		ReadTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("http api started", "component", "api", "addr", s.addr)

		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("http server error", "component", "api", "error", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// handleHealth handles GET /health requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// handleStatus handles GET /status requests.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.provider.Status())
}

// handleSnapshot handles GET /snapshot requests.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.provider.Snapshot())
}

// handleTasks handles GET /tasks requests, optionally filtered by ?status=.
func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	tasks := s.provider.Snapshot().Tasks

	if status := r.URL.Query().Get("status"); status != "" {
		filtered := make([]moderation.TaskView, 0, len(tasks))
		for _, t := range tasks {
			if t.Status == status {
				filtered = append(filtered, t)
			}
		}
		tasks = filtered
	}

	writeJSON(w, http.StatusOK, tasks)
}

// handleTask handles GET /tasks/{id} requests.
func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}

	task, ok := s.provider.Task(moderation.TaskID(id))
	if !ok {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}

	writeJSON(w, http.StatusOK, task)
}

// handleOperators handles GET /operators requests.
func (s *Server) handleOperators(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.provider.Operators())
}

// handleFailures handles GET /failures requests.
func (s *Server) handleFailures(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.provider.Failures())
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

// Package http serves live batch status, history, metrics and a progress WebSocket.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/saltfish/freqsweep/internal/db/repository"
	"github.com/saltfish/freqsweep/internal/domain"
	"github.com/saltfish/freqsweep/internal/pipeline"
)

// Version is reported by /health.
var Version = "dev"

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the optional collaborators of a Server. Nil fields disable the
// endpoints that need them.
type Deps struct {
	Tracker *pipeline.Tracker
	Hub     *Hub
	Metrics http.Handler
	Batches repository.BatchRepository
	DB      Pinger
}

// Server provides HTTP endpoints for health checks, batch status and metrics.
type Server struct {
	server *http.Server
	deps   Deps
	logger *zap.Logger
}

// NewServer creates a new HTTP server listening on address.
func NewServer(address string, deps Deps, logger *zap.Logger) *Server {
	s := &Server{
		deps:   deps,
		logger: logger,
	}

	s.server = &http.Server{
		Addr:         address,
		Handler:      s.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /health/live", s.handleLiveness)
	mux.HandleFunc("GET /health/ready", s.handleReadiness)
	mux.HandleFunc("GET /api/v1/batch", s.handleCurrentBatch)
	mux.HandleFunc("GET /api/v1/batches", s.handleListBatches)
	mux.HandleFunc("GET /api/v1/batches/{id}", s.handleGetBatch)
	mux.HandleFunc("GET /api/v1/units/{id}/history", s.handleUnitHistory)
	if s.deps.Metrics != nil {
		mux.Handle("GET /metrics", s.deps.Metrics)
	}
	if s.deps.Hub != nil {
		mux.HandleFunc("GET /ws", s.deps.Hub.ServeWS)
	}
	return mux
}

// Handler returns the server's router.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server. It returns http.ErrServerClosed after Stop.
func (s *Server) Start() error {
	s.logger.Info("HTTP server starting", zap.String("address", s.server.Addr))
	return s.server.ListenAndServe()
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("HTTP server stopping")
	return s.server.Shutdown(ctx)
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status   string            `json:"status"`
	Version  string            `json:"version"`
	Services map[string]string `json:"services"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	response := HealthResponse{
		Status:   "healthy",
		Version:  Version,
		Services: make(map[string]string),
	}

	if s.deps.DB != nil {
		if err := s.deps.DB.Ping(ctx); err != nil {
			response.Services["database"] = "unhealthy: " + err.Error()
			response.Status = "unhealthy"
		} else {
			response.Services["database"] = "healthy"
		}
	} else {
		response.Services["database"] = "not configured"
	}

	if s.deps.Hub != nil {
		response.Services["websocket"] = strconv.Itoa(s.deps.Hub.GetClientCount()) + " client(s)"
	}

	status := http.StatusOK
	if response.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, response)
}

// handleLiveness handles the /health/live endpoint (Kubernetes liveness probe).
func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// handleReadiness handles the /health/ready endpoint (Kubernetes readiness probe).
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if s.deps.DB != nil {
		if err := s.deps.DB.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"reason": "database unavailable: " + err.Error(),
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleCurrentBatch(w http.ResponseWriter, r *http.Request) {
	if s.deps.Tracker == nil {
		writeError(w, http.StatusNotFound, "no batch tracker configured")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Tracker.Snapshot())
}

func (s *Server) handleListBatches(w http.ResponseWriter, r *http.Request) {
	if s.deps.Batches == nil {
		writeError(w, http.StatusNotFound, "batch history is not enabled")
		return
	}

	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	summaries, err := s.deps.Batches.List(r.Context(), limit)
	if err != nil {
		s.logger.Error("Failed to list batches", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list batches")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"batches": summaries})
}

func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	if s.deps.Batches == nil {
		writeError(w, http.StatusNotFound, "batch history is not enabled")
		return
	}

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid batch id")
		return
	}

	result, err := s.deps.Batches.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.logger.Error("Failed to get batch", zap.String("batch_id", id.String()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to get batch")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleUnitHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.Batches == nil {
		writeError(w, http.StatusNotFound, "batch history is not enabled")
		return
	}

	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	unitID := r.PathValue("id")
	records, err := s.deps.Batches.UnitHistory(r.Context(), unitID, limit)
	if err != nil {
		s.logger.Error("Failed to load unit history", zap.String("unit_id", unitID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load unit history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"unit_id": unitID, "records": records})
}

func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return repository.DefaultListLimit, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return 0, false
	}
	return n, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rookline/chessync/internal/config"
	"github.com/rookline/chessync/internal/domain/model"
	"github.com/rookline/chessync/internal/domain/repository"
	inframetrics "github.com/rookline/chessync/internal/infrastructure/metrics"
	"github.com/rookline/chessync/internal/support/exception"
	"github.com/rookline/chessync/internal/support/logger"
	"github.com/rookline/chessync/internal/sync"
)

// AdminServer exposes the synchronization pipeline over a small HTTP API:
// run control (start/cancel), status, run history, integrity reports and
// Prometheus metrics.
type AdminServer struct {
	orchestrator *sync.Orchestrator
	repo         repository.SyncRepository
	httpServer   *http.Server
	router       *http.ServeMux
}

// NewAdminServer creates the admin HTTP server and wires its routes.
// The recorder's registry backs the /metrics endpoint.
func NewAdminServer(
	cfg *config.Config,
	orchestrator *sync.Orchestrator,
	repo repository.SyncRepository,
	recorder *inframetrics.PrometheusRecorder,
) *AdminServer {
	s := &AdminServer{
		orchestrator: orchestrator,
		repo:         repo,
		router:       http.NewServeMux(),
	}

	s.httpServer = &http.Server{
		Addr:         cfg.Chessync.Server.Addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.router.HandleFunc("GET /healthz", s.handleHealth)
	s.router.HandleFunc("POST /sync/start", s.handleStart)
	s.router.HandleFunc("POST /sync/cancel", s.handleCancel)
	s.router.HandleFunc("GET /sync/status", s.handleStatus)
	s.router.HandleFunc("GET /sync/runs", s.handleRuns)
	s.router.HandleFunc("GET /sync/runs/{id}", s.handleRunByID)
	s.router.HandleFunc("GET /sync/integrity", s.handleIntegrity)
	s.router.Handle("GET /metrics", promhttp.HandlerFor(recorder.GetRegistry(), promhttp.HandlerOpts{}))

	return s
}

// Start begins listening on the configured address. It returns once the
// listener goroutine is launched.
func (s *AdminServer) Start() {
	go func() {
		logger.Infof("Admin server listening on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("Admin server failed: %v", err)
		}
	}()
}

// Stop gracefully shuts the listener down.
func (s *AdminServer) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type startRequest struct {
	Mode   string `json:"mode"`
	Resume bool   `json:"resume"`
}

type startResponse struct {
	RunID string `json:"run_id"`
}

type cancelResponse struct {
	RunID string `json:"run_id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *AdminServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *AdminServer) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
			return
		}
	}

	mode := model.RunModeFull
	if req.Mode != "" {
		parsed, ok := model.ParseRunMode(req.Mode)
		if !ok {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "unknown mode: " + req.Mode})
			return
		}
		mode = parsed
	}

	runID, err := s.orchestrator.Start(mode, req.Resume)
	switch {
	case errors.Is(err, sync.ErrAlreadyRunning):
		status, statusErr := s.orchestrator.Status(r.Context())
		if statusErr != nil {
			writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusConflict, status)
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: exception.ExtractErrorMessage(err)})
	default:
		writeJSON(w, http.StatusAccepted, startResponse{RunID: runID})
	}
}

func (s *AdminServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	runID, err := s.orchestrator.Cancel()
	if errors.Is(err, sync.ErrNoActiveRun) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: exception.ExtractErrorMessage(err)})
		return
	}
	writeJSON(w, http.StatusAccepted, cancelResponse{RunID: runID})
}

func (s *AdminServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.orchestrator.Status(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: exception.ExtractErrorMessage(err)})
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *AdminServer) handleRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.repo.ListRuns(r.Context(), 50)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: exception.ExtractErrorMessage(err)})
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *AdminServer) handleRunByID(w http.ResponseWriter, r *http.Request) {
	run, err := s.repo.FindRunByID(r.Context(), r.PathValue("id"))
	if errors.Is(err, repository.ErrRunNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: exception.ExtractErrorMessage(err)})
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *AdminServer) handleIntegrity(w http.ResponseWriter, r *http.Request) {
	report, err := s.orchestrator.IntegrityReport(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: exception.ExtractErrorMessage(err)})
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Warnf("Admin server: failed to encode response: %v", err)
	}
}

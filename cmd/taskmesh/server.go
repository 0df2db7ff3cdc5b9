package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/taskmesh/taskmesh"
	"github.com/taskmesh/taskmesh/archive"
	"github.com/taskmesh/taskmesh/config"
	"github.com/taskmesh/taskmesh/internal/metrics"
	"github.com/taskmesh/taskmesh/internal/telemetry"
	"github.com/taskmesh/taskmesh/msglog"
	"github.com/taskmesh/taskmesh/types"
)

// Server hosts the scheduler behind an HTTP listener and runs the
// background expiry and cleanup sweeps.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger
	otel   *telemetry.Providers
	mesh   *taskmesh.Coordinator
	stats  *metrics.Collector
}

// NewServer builds the scheduler and its HTTP surface.
func NewServer(cfg *config.Config, logger *zap.Logger, otel *telemetry.Providers) (*Server, error) {
	collector := metrics.NewCollector("taskmesh", logger)

	var archiveStore *archive.Store
	if cfg.Archive.Enabled {
		var err error
		archiveStore, err = archive.Open(archive.Config(cfg.Archive), logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open archive: %w", err)
		}
	}

	mesh, err := taskmesh.New(taskmesh.Options{
		Config:     cfg,
		Logger:     logger,
		Archive:    archiveStore,
		Metrics:    collector,
		SeedRoster: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build coordinator: %w", err)
	}

	return &Server{
		cfg:    cfg,
		logger: logger,
		otel:   otel,
		mesh:   mesh,
		stats:  collector,
	}, nil
}

// Run starts the listener and sweeps, and blocks until SIGINT/SIGTERM.
func (s *Server) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		Handler:      s.routes(ctx),
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := s.mesh.Close(); err != nil {
			s.logger.Warn("failed to close coordinator", zap.Error(err))
		}
		return s.otel.Shutdown(shutdownCtx)
	})

	g.Go(func() error { return s.expiryLoop(ctx) })
	g.Go(func() error { return s.cleanupLoop(ctx) })

	return g.Wait()
}

// expiryLoop periodically retires delegations past their deadline.
func (s *Server) expiryLoop(ctx context.Context) error {
	interval := s.cfg.Delegation.ExpiryInterval
	if interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.mesh.ExpireStaleDelegations()
		}
	}
}

// cleanupLoop periodically discards terminal entities past retention.
func (s *Server) cleanupLoop(ctx context.Context) error {
	interval := s.cfg.Cleanup.Interval
	if interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.mesh.CleanupOldData(ctx, s.cfg.Cleanup.MaxAge); err != nil {
				s.logger.Warn("cleanup sweep failed", zap.Error(err))
			}
		}
	}
}

func (s *Server) routes(ctx context.Context) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": Version})
	})
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /v1/status", s.handleStatus)
	mux.HandleFunc("GET /v1/workloads", s.handleWorkloads)
	mux.HandleFunc("POST /v1/match", s.handleMatch)
	mux.HandleFunc("POST /v1/delegations", s.handleCreateDelegation)
	mux.HandleFunc("POST /v1/delegations/respond", s.handleRespondDelegation)
	mux.HandleFunc("GET /v1/delegations/pending", s.handlePendingDelegations)
	mux.HandleFunc("POST /v1/handoffs", s.handleCreateHandoff)
	mux.HandleFunc("POST /v1/handoffs/complete", s.handleCompleteHandoff)
	mux.HandleFunc("POST /v1/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /v1/sessions/{id}", s.handleSessionStatus)
	mux.HandleFunc("POST /v1/tasks/status", s.handleUpdateTask)
	mux.HandleFunc("POST /v1/messages", s.handleSendMessage)
	mux.HandleFunc("GET /v1/messages", s.handleAgentMessages)

	return Chain(mux,
		Recovery(s.logger),
		RequestLogger(s.logger, s.stats),
		RateLimiter(ctx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger),
	)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.mesh.SystemStatus(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleWorkloads(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.mesh.AgentWorkloadStatus())
}

func (s *Server) handleMatch(w http.ResponseWriter, r *http.Request) {
	var q taskmesh.MatchQuery
	if !decode(w, r, &q) {
		return
	}
	rec, err := s.mesh.FindBestAgent(r.Context(), q)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleCreateDelegation(w http.ResponseWriter, r *http.Request) {
	var p taskmesh.DelegationParams
	if !decode(w, r, &p) {
		return
	}
	req, err := s.mesh.CreateDelegation(r.Context(), p)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (s *Server) handleRespondDelegation(w http.ResponseWriter, r *http.Request) {
	var p taskmesh.DelegationResponse
	if !decode(w, r, &p) {
		return
	}
	req, err := s.mesh.RespondToDelegation(r.Context(), p)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handlePendingDelegations(w http.ResponseWriter, r *http.Request) {
	agent := r.URL.Query().Get("agent")
	if agent == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "agent query parameter is required"})
		return
	}
	writeJSON(w, http.StatusOK, s.mesh.PendingDelegationsFor(agent))
}

func (s *Server) handleCreateHandoff(w http.ResponseWriter, r *http.Request) {
	var p taskmesh.HandoffParams
	if !decode(w, r, &p) {
		return
	}
	h, err := s.mesh.CreateTaskHandoff(r.Context(), p)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, h)
}

func (s *Server) handleCompleteHandoff(w http.ResponseWriter, r *http.Request) {
	var p taskmesh.HandoffCompletion
	if !decode(w, r, &p) {
		return
	}
	h, err := s.mesh.CompleteHandoff(r.Context(), p)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var p taskmesh.SessionParams
	if !decode(w, r, &p) {
		return
	}
	res, err := s.mesh.CreateCollaborationSession(r.Context(), p)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.mesh.CollaborationStatus(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	var p taskmesh.TaskUpdate
	if !decode(w, r, &p) {
		return
	}
	task, err := s.mesh.UpdateTaskStatus(r.Context(), p)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var msg msglog.Message
	if !decode(w, r, &msg) {
		return
	}
	stored, err := s.mesh.SendMessage(r.Context(), msg)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, stored)
}

func (s *Server) handleAgentMessages(w http.ResponseWriter, r *http.Request) {
	agent := r.URL.Query().Get("agent")
	if agent == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "agent query parameter is required"})
		return
	}
	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "since must be RFC3339"})
			return
		}
		since = parsed
	}
	msgs, err := s.mesh.AgentMessages(r.Context(), agent, since)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps error codes to HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch types.GetErrorCode(err) {
	case types.ErrNotFound:
		status = http.StatusNotFound
	case types.ErrUnauthorized:
		status = http.StatusForbidden
	case types.ErrInvalidState:
		status = http.StatusConflict
	case types.ErrInvalidArgument, types.ErrNoCandidates:
		status = http.StatusUnprocessableEntity
	case types.ErrStoreUnavailable:
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/hostbridge/internal/bridge"
	"github.com/mattjoyce/hostbridge/internal/config"
	"github.com/mattjoyce/hostbridge/internal/host"
	"github.com/mattjoyce/hostbridge/internal/service"
)

const maxHistoryLimit = 500

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	st := s.svc.Status()
	status := "ok"
	if !st.Started {
		status = "starting"
	}
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        status,
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Host:          st.Host,
		HostVersion:   st.HostVersion,
		Commands:      st.Commands,
		Handles:       st.Handles,
		LastPass:      st.LastPass,
		LastLoad:      st.LastLoad,
	})
}

// handleListCommands handles GET /commands.
func (s *Server) handleListCommands(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, CommandsResponse{Commands: s.svc.Commands()})
}

// handleExecute handles POST /commands/{name}. The body, if any, is passed to
// the command verbatim as its parameters.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	var params json.RawMessage
	if len(body) > 0 {
		if !json.Valid(body) {
			s.writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		params = body
	}

	select {
	case s.execSlots <- struct{}{}:
		defer func() { <-s.execSlots }()
	default:
		s.writeError(w, http.StatusServiceUnavailable, "too many concurrent command executions")
		return
	}

	ctx := r.Context()
	if s.config.ExecTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.ExecTimeout)
		defer cancel()
	}

	start := time.Now()
	result, err := s.svc.Execute(ctx, name, params)
	if err != nil {
		code := executeStatus(err)
		s.logger.Warn("command execution failed",
			"command", name,
			"status", code,
			"error", err,
			"request_id", middleware.GetReqID(r.Context()),
		)
		s.writeError(w, code, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, ExecuteResponse{
		Command:    name,
		Result:     result,
		DurationMs: time.Since(start).Milliseconds(),
	})
}

// executeStatus maps an execution error to an HTTP status.
func executeStatus(err error) int {
	// Deadline first: a creation that timed out wraps both sentinels.
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, service.ErrUnknownCommand):
		return http.StatusNotFound
	case errors.Is(err, service.ErrNotStarted),
		errors.Is(err, bridge.ErrUninitialized),
		errors.Is(err, bridge.ErrHandleCreationFailed),
		errors.Is(err, host.ErrNotRunning),
		errors.Is(err, host.ErrQueueFull):
		return http.StatusServiceUnavailable
	case errors.Is(err, service.ErrCommandPanic):
		return http.StatusInternalServerError
	default:
		return http.StatusUnprocessableEntity
	}
}

// handleReload handles POST /reload.
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	summary, err := s.svc.Reload(r.Context())
	if err != nil {
		switch {
		case errors.Is(err, config.ErrConfigurationMissing):
			s.writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, service.ErrNotStarted):
			s.writeError(w, http.StatusServiceUnavailable, err.Error())
		default:
			s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		}
		return
	}
	s.logger.Info("commands reloaded via API", "registered", len(summary.Registered()))
	respondJSON(w, http.StatusOK, newReloadResponse(summary))
}

// handleHistory handles GET /history?limit=N.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	invocations, err := s.svc.History(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to read history", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read history")
		return
	}
	respondJSON(w, http.StatusOK, HistoryResponse{Invocations: invocations})
}

// handleOpenAPI handles GET /openapi.json.
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, buildOpenAPIDoc(s.svc.Commands()))
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/haasonsaas/tierroute/internal/experiments"
	"github.com/haasonsaas/tierroute/internal/models"
	"github.com/haasonsaas/tierroute/internal/pipeline"
	"github.com/haasonsaas/tierroute/internal/usage"
)

const maxBodyBytes = 1 << 20

type classifyRequest struct {
	Message string `json:"message"`
}

type classifyTaskRequest struct {
	Task string `json:"task"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type usageResponse struct {
	Total  usage.Usage          `json:"total"`
	Models []usage.ModelSummary `json:"models"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.startTime).Round(time.Second).String(),
	})
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	result, err := s.engine.Classify(r.Context(), req.Message, "")
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleClassifyTask(w http.ResponseWriter, r *http.Request) {
	var req classifyTaskRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Task) == "" {
		writeError(w, http.StatusBadRequest, "task is required")
		return
	}
	result, err := s.engine.Classify(r.Context(), "", req.Task)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req CompletionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	completion, err := s.engine.Complete(r.Context(), req)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, completion)
}

func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	manager := s.engine.Experiments()
	if manager == nil {
		writeError(w, http.StatusNotFound, "experiments are not configured")
		return
	}
	name := r.PathValue("name")
	assignment, err := manager.Assign(name)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	if assignment == nil {
		writeError(w, http.StatusNotFound, "no active experiment named "+name)
		return
	}
	writeJSON(w, http.StatusOK, assignment)
}

func (s *Server) handleListExperiments(w http.ResponseWriter, r *http.Request) {
	list := []experiments.Experiment{}
	if manager := s.engine.Experiments(); manager != nil {
		list = manager.List()
	}
	writeJSON(w, http.StatusOK, map[string]any{"experiments": list})
}

func (s *Server) handleDistribution(w http.ResponseWriter, r *http.Request) {
	manager := s.engine.Experiments()
	if manager == nil {
		writeError(w, http.StatusNotFound, "experiments are not configured")
		return
	}
	name := r.PathValue("name")
	stats, ok := manager.GetDistribution(name)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown experiment "+name)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"experiment": name, "variants": stats})
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if s.config.Usage == nil {
		writeJSON(w, http.StatusOK, usageResponse{Models: []usage.ModelSummary{}})
		return
	}
	writeJSON(w, http.StatusOK, usageResponse{
		Total:  s.config.Usage.Total(),
		Models: s.config.Usage.Summary(),
	})
}

func (s *Server) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "status", status, "error", err)
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	var timeout *pipeline.TimeoutError
	switch {
	case errors.Is(err, ErrEmptyRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrNoProvider):
		return http.StatusServiceUnavailable
	case errors.Is(err, experiments.ErrNoVariants):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrNoModelForTier):
		return http.StatusInternalServerError
	case errors.As(err, &timeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		// Client closed the request.
		return 499
	default:
		return http.StatusBadGateway
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// The client may already be gone.
	_ = json.NewEncoder(w).Encode(payload)
}

package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/user/nexus-ingest/internal/delivery/http/request"
	"github.com/user/nexus-ingest/internal/delivery/http/response"
	"github.com/user/nexus-ingest/internal/usecase"
)

const maxBodyBytes = 1 << 20

// Check reports the health of one dependency.
type Check func(ctx context.Context) error

type Handler struct {
	intake usecase.JobIntake
	checks map[string]Check
	logger *zap.Logger
}

func NewHandler(intake usecase.JobIntake, checks map[string]Check, logger *zap.Logger) *Handler {
	return &Handler{
		intake: intake,
		checks: checks,
		logger: logger,
	}
}

func (h *Handler) HandleIngest(w http.ResponseWriter, r *http.Request) {
	var req request.IngestRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		h.writeJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	jobID, err := h.intake.Submit(r.Context(), req.TenantID, req.SiteType, req.URLs)
	if err != nil {
		if errors.Is(err, usecase.ErrInvalidRequest) {
			h.writeJSONError(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Error("failed to submit job", zap.String("tenant_id", req.TenantID), zap.Error(err))
		h.writeJSONError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusAccepted, response.IngestResponse{JobID: jobID, Status: "queued"})
}

func (h *Handler) HandleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	status, err := h.intake.GetStatus(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, usecase.ErrJobNotFound) {
			h.writeJSONError(w, "Job not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to get job status", zap.String("job_id", jobID), zap.Error(err))
		h.writeJSONError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, response.NewJobStatusResponse(status))
}

func (h *Handler) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	resp := response.HealthResponse{Status: "ok", Checks: map[string]string{}}
	code := http.StatusOK
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			h.logger.Warn("health check failed", zap.String("check", name), zap.Error(err))
			resp.Checks[name] = "unavailable"
			resp.Status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	h.writeJSON(w, code, resp)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write JSON response", zap.Error(err))
	}
}

func (h *Handler) writeJSONError(w http.ResponseWriter, message string, status int) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

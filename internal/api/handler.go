// Package api provides HTTP handlers for the honeypot API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/ashureev/honeypot/internal/domain"
	"github.com/ashureev/honeypot/internal/honeypot"
	"github.com/ashureev/honeypot/internal/store"
)

// Orchestrator is the part of honeypot.Orchestrator the handlers use.
type Orchestrator interface {
	HandleTurn(ctx context.Context, req honeypot.TurnRequest) (honeypot.TurnResult, error)
	Finalize(ctx context.Context, sessionID string) (domain.Summary, error)
	Session(ctx context.Context, sessionID string) (*domain.Session, error)
}

// Handler serves the honeypot endpoints.
type Handler struct {
	orch    Orchestrator
	logger  *slog.Logger
	maxBody int64
}

// NewHandler creates a Handler around the orchestrator.
func NewHandler(orch Orchestrator, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{orch: orch, logger: logger, maxBody: maxBodyBytes}
}

// RegisterRoutes registers the honeypot routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/honeypot", h.Turn)
		r.Post("/finalize-session/{sessionID}", h.FinalizeSession)
		r.Get("/sessions/{sessionID}", h.GetSession)
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"status": "error", "error": message})
}

// FinalizeSession freezes a session and returns its summary.
func (h *Handler) FinalizeSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if !validSessionID(id) {
		Error(w, http.StatusBadRequest, "invalid session id")
		return
	}

	summary, err := h.orch.Finalize(r.Context(), id)
	switch {
	case errors.Is(err, honeypot.ErrSessionNotFound):
		Error(w, http.StatusNotFound, "session not found")
		return
	case errors.Is(err, store.ErrUnavailable):
		h.logger.Warn("Finalize failed, store unavailable",
			"session_id", id,
			"request_id", chiMiddleware.GetReqID(r.Context()),
			"error", err)
		Error(w, http.StatusServiceUnavailable, "session store unavailable")
		return
	case err != nil:
		h.logger.Error("Finalize failed",
			"session_id", id,
			"request_id", chiMiddleware.GetReqID(r.Context()),
			"error", err)
		Error(w, http.StatusInternalServerError, "failed to finalize session")
		return
	}

	JSON(w, http.StatusOK, finalizeResponse{Status: "success", Summary: summary})
}

type finalizeResponse struct {
	Status string `json:"status"`
	domain.Summary
}

// GetSession returns the stored state of a session.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if !validSessionID(id) {
		Error(w, http.StatusBadRequest, "invalid session id")
		return
	}

	sess, err := h.orch.Session(r.Context(), id)
	switch {
	case errors.Is(err, honeypot.ErrSessionNotFound):
		Error(w, http.StatusNotFound, "session not found")
		return
	case err != nil:
		h.logger.Warn("Session lookup failed", "session_id", id, "error", err)
		Error(w, http.StatusServiceUnavailable, "session store unavailable")
		return
	}
	JSON(w, http.StatusOK, sess)
}

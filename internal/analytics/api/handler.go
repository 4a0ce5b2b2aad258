package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"ms-registration/internal/analytics"
	"ms-registration/internal/auth"
	"ms-registration/internal/logger"
	"ms-registration/internal/utils"

	"github.com/go-chi/chi/v5"
)

type AnalyticsService interface {
	GetEventAnalytics(ctx context.Context, eventID int64) (*analytics.EventAnalytics, error)
}

// Handler handles analytics API requests
type Handler struct {
	Service   AnalyticsService
	StaffRole string
	Logger    *logger.Logger
}

func NewHandler(service AnalyticsService, staffRole string, log *logger.Logger) *Handler {
	return &Handler{
		Service:   service,
		StaffRole: staffRole,
		Logger:    log,
	}
}

// Routes mounts the staff-only analytics endpoints under /api/events.
func (h *Handler) Routes(r chi.Router) {
	r.With(auth.RequireRole(h.StaffRole)).Get("/{eventId}/analytics", h.GetEventAnalytics)
}

// GetEventAnalytics handles GET /{eventId}/analytics
func (h *Handler) GetEventAnalytics(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "eventId")
	eventID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || eventID <= 0 {
		utils.WriteError(w, http.StatusBadRequest, "Invalid event ID", fmt.Errorf("invalid eventId %q", raw))
		return
	}

	result, err := h.Service.GetEventAnalytics(r.Context(), eventID)
	if errors.Is(err, analytics.ErrEventNotFound) {
		utils.WriteError(w, http.StatusNotFound, "Event not found", err)
		return
	}
	if err != nil {
		h.Logger.Error("ANALYTICS", fmt.Sprintf("Failed to load analytics for event %d: %v", eventID, err))
		utils.WriteError(w, http.StatusInternalServerError, "Failed to load analytics", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Event analytics", result)
}

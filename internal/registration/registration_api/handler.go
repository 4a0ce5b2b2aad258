package registration_api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"ms-registration/internal/auth"
	"ms-registration/internal/discount"
	"ms-registration/internal/logger"
	"ms-registration/internal/models"
	"ms-registration/internal/registration"
	"ms-registration/internal/utils"

	"github.com/go-chi/chi/v5"
)

type RegistrationService interface {
	Register(ctx context.Context, eventID int64, userID, discountCode string) (*models.Registration, error)
	Cancel(ctx context.Context, registrationID int64, userID string) (*models.Registration, error)
	UpdateStatus(ctx context.Context, registrationID int64, actor registration.Actor, target models.RegistrationStatus) (*models.Registration, error)
	ListForUser(ctx context.Context, userID string) ([]models.MyRegistration, error)
	IsRegistered(ctx context.Context, eventID int64, userID string) (bool, error)
	VerifyTicket(ctx context.Context, ticketID string, actor registration.Actor) (*models.TicketDetail, error)
	TicketQR(ctx context.Context, ticketID string, actor registration.Actor) ([]byte, error)
}

// Announcer fans an announcement out to an event's registrants.
type Announcer interface {
	QueueEventAnnouncement(ctx context.Context, eventID int64, subject, body string, statuses []models.RegistrationStatus) (int, error)
}

type Handler struct {
	Service   RegistrationService
	Announcer Announcer
	StaffRole string
	Logger    *logger.Logger
}

func NewHandler(service RegistrationService, announcer Announcer, staffRole string, log *logger.Logger) *Handler {
	return &Handler{
		Service:   service,
		Announcer: announcer,
		StaffRole: staffRole,
		Logger:    log,
	}
}

// Routes mounts the authenticated registration endpoints under /api/events.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/my-registrations", h.ListMyRegistrations)
	r.Put("/registrations/{registrationId}", h.UpdateStatus)
	r.Delete("/registrations/{registrationId}", h.Cancel)
	r.Get("/registrations/verify/{ticketId}", h.VerifyTicket)
	r.Get("/registrations/verify/{ticketId}/qr", h.TicketQR)
	r.Post("/{eventId}/register", h.Register)
	r.Get("/{eventId}/is-registered", h.IsRegistered)
	r.With(auth.RequireRole(h.StaffRole)).Post("/{eventId}/announcements", h.Announce)
}

func (h *Handler) actor(r *http.Request) registration.Actor {
	p, _ := auth.PrincipalFrom(r.Context())
	return registration.Actor{UserID: p.UserID, IsStaff: h.StaffRole != "" && p.HasRole(h.StaffRole)}
}

func pathID(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}
	return id, nil
}

// StatusFor maps service errors onto HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, registration.ErrEventNotFound), errors.Is(err, registration.ErrRegistrationNotFound):
		return http.StatusNotFound
	case errors.Is(err, registration.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, registration.ErrRegistrationConflict):
		return http.StatusConflict
	case errors.Is(err, discount.ErrInvalidDiscount),
		errors.Is(err, registration.ErrEventCancelled),
		errors.Is(err, registration.ErrRegistrationNotOpen),
		errors.Is(err, registration.ErrRegistrationClosed),
		errors.Is(err, registration.ErrEventFull),
		errors.Is(err, registration.ErrAlreadyRegistered),
		errors.Is(err, registration.ErrInvalidStatus),
		errors.Is(err, registration.ErrInvalidTransition),
		errors.Is(err, registration.ErrPaymentRequired):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		h.Logger.Error("API", fmt.Sprintf("%s: %v", op, err))
		utils.WriteError(w, status, op+" failed", errors.New("internal error"))
		return
	}
	h.Logger.Warn("API", fmt.Sprintf("%s: %v", op, err))
	utils.WriteError(w, status, op+" failed", err)
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	eventID, err := pathID(r, "eventId")
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Register failed", err)
		return
	}

	var req models.RegistrationRequest
	// the body is optional
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.Logger.Error("API", fmt.Sprintf("Register: failed to decode request body: %v", err))
		utils.WriteError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	userID := auth.UserID(r.Context())
	h.Logger.Info("API", fmt.Sprintf("Register: eventId=%d userId=%s", eventID, userID))

	reg, err := h.Service.Register(r.Context(), eventID, userID, req.DiscountCode)
	if err != nil {
		h.fail(w, "Register", err)
		return
	}
	utils.WriteSuccess(w, http.StatusCreated, "Registration recorded", reg)
}

func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "registrationId")
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, "UpdateStatus failed", err)
		return
	}
	var req models.RegistrationStatusUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	reg, err := h.Service.UpdateStatus(r.Context(), id, h.actor(r), req.Status)
	if err != nil {
		h.fail(w, "UpdateStatus", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Registration updated", reg)
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "registrationId")
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Cancel failed", err)
		return
	}
	if _, err := h.Service.Cancel(r.Context(), id, auth.UserID(r.Context())); err != nil {
		h.fail(w, "Cancel", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListMyRegistrations(w http.ResponseWriter, r *http.Request) {
	regs, err := h.Service.ListForUser(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		h.fail(w, "ListMyRegistrations", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, regs)
}

func (h *Handler) IsRegistered(w http.ResponseWriter, r *http.Request) {
	eventID, err := pathID(r, "eventId")
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, "IsRegistered failed", err)
		return
	}
	ok, err := h.Service.IsRegistered(r.Context(), eventID, auth.UserID(r.Context()))
	if err != nil {
		h.fail(w, "IsRegistered", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]bool{"is_registered": ok})
}

func (h *Handler) VerifyTicket(w http.ResponseWriter, r *http.Request) {
	detail, err := h.Service.VerifyTicket(r.Context(), chi.URLParam(r, "ticketId"), h.actor(r))
	if err != nil {
		h.fail(w, "VerifyTicket", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, detail)
}

func (h *Handler) TicketQR(w http.ResponseWriter, r *http.Request) {
	png, err := h.Service.TicketQR(r.Context(), chi.URLParam(r, "ticketId"), h.actor(r))
	if err != nil {
		h.fail(w, "TicketQR", err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(png); err != nil {
		h.Logger.Warn("API", fmt.Sprintf("Failed to write QR for ticket %s: %v", chi.URLParam(r, "ticketId"), err))
	}
}

func (h *Handler) Announce(w http.ResponseWriter, r *http.Request) {
	eventID, err := pathID(r, "eventId")
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Announce failed", err)
		return
	}
	var req models.AnnouncementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Subject == "" || req.Body == "" {
		utils.WriteError(w, http.StatusBadRequest, "Announce failed", errors.New("subject and body are required"))
		return
	}

	queued, err := h.Announcer.QueueEventAnnouncement(r.Context(), eventID, req.Subject, req.Body, req.Statuses)
	if err != nil {
		h.fail(w, "Announce", err)
		return
	}
	h.Logger.Info("API", fmt.Sprintf("Announce: event %d queued %d messages", eventID, queued))
	utils.WriteSuccess(w, http.StatusAccepted, "Announcement queued", models.AnnouncementResponse{EventID: eventID, Queued: queued})
}

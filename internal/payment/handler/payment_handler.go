package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"ms-registration/internal/auth"
	"ms-registration/internal/logger"
	"ms-registration/internal/models"
	"ms-registration/internal/payment"
	"ms-registration/internal/payment/services"
	"ms-registration/internal/registration/registration_api"
	"ms-registration/internal/utils"

	"github.com/go-chi/chi/v5"
)

type PaymentService interface {
	CreatePayment(ctx context.Context, userID string, req models.CreatePaymentRequest) (*models.CreatePaymentResponse, error)
	HandleCallback(ctx context.Context, authority, status string) (string, error)
	GetByRefID(ctx context.Context, refID string) (*models.PaymentDetail, error)
	CheckCoupon(ctx context.Context, userID string, req models.CouponCheckRequest) (*models.CouponCheckResponse, error)
}

type PaymentHandler struct {
	service PaymentService
	logger  *logger.Logger
}

func NewPaymentHandler(service PaymentService, logger *logger.Logger) *PaymentHandler {
	return &PaymentHandler{
		service: service,
		logger:  logger,
	}
}

// PublicRoutes are reached by the payer's browser coming back from the gateway.
func (h *PaymentHandler) PublicRoutes(r chi.Router) {
	r.Get("/callback", h.Callback)
	r.Get("/by-ref/{refId}", h.GetByRefID)
}

func (h *PaymentHandler) Routes(r chi.Router) {
	r.Post("/create", h.CreatePayment)
	r.Post("/coupon/check", h.CheckCoupon)
}

func statusFor(err error) int {
	var gwErr *services.GatewayError
	switch {
	case errors.As(err, &gwErr):
		return http.StatusBadGateway
	case errors.Is(err, models.ErrAmountMismatch):
		return http.StatusInternalServerError
	case errors.Is(err, payment.ErrPaymentExists), errors.Is(err, payment.ErrMissingAuthority):
		return http.StatusBadRequest
	case errors.Is(err, payment.ErrPaymentNotFound), errors.Is(err, payment.ErrEventNotFound):
		return http.StatusNotFound
	}
	return registration_api.StatusFor(err)
}

func (h *PaymentHandler) fail(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	switch status {
	case http.StatusInternalServerError:
		h.logger.Error("API", fmt.Sprintf("%s: %v", op, err))
		utils.WriteError(w, status, op+" failed", errors.New("internal error"))
		return
	case http.StatusBadGateway:
		h.logger.Error("API", fmt.Sprintf("%s: %v", op, err))
	default:
		h.logger.Warn("API", fmt.Sprintf("%s: %v", op, err))
	}
	utils.WriteError(w, status, op+" failed", err)
}

// CreatePayment starts the purchase flow for an event
func (h *PaymentHandler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	var req models.CreatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid request payload", err)
		return
	}
	if req.EventID <= 0 {
		utils.WriteError(w, http.StatusBadRequest, "Invalid request payload", errors.New("event_id is required"))
		return
	}

	resp, err := h.service.CreatePayment(r.Context(), auth.UserID(r.Context()), req)
	if err != nil {
		h.fail(w, "CreatePayment", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, resp)
}

// Callback answers the gateway redirect with a redirect to the frontend result page
func (h *PaymentHandler) Callback(w http.ResponseWriter, r *http.Request) {
	authority := r.URL.Query().Get("Authority")
	status := r.URL.Query().Get("Status")
	h.logger.Info("API", fmt.Sprintf("Callback: authority=%s status=%s", authority, status))

	target, err := h.service.HandleCallback(r.Context(), authority, status)
	if err != nil {
		h.fail(w, "Callback", err)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (h *PaymentHandler) GetByRefID(w http.ResponseWriter, r *http.Request) {
	detail, err := h.service.GetByRefID(r.Context(), chi.URLParam(r, "refId"))
	if err != nil {
		h.fail(w, "GetByRefID", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, detail)
}

func (h *PaymentHandler) CheckCoupon(w http.ResponseWriter, r *http.Request) {
	var req models.CouponCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid request payload", err)
		return
	}
	resp, err := h.service.CheckCoupon(r.Context(), auth.UserID(r.Context()), req)
	if err != nil {
		h.fail(w, "CheckCoupon", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, resp)
}

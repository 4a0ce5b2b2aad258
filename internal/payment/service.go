package payment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"ms-registration/internal/discount"
	"ms-registration/internal/logger"
	"ms-registration/internal/metrics"
	"ms-registration/internal/models"
	"ms-registration/internal/payment/services"
	"ms-registration/internal/payment/storage"
	"ms-registration/internal/registration"
)

var (
	ErrPaymentExists    = errors.New("you have already registered in this event")
	ErrPaymentNotFound  = errors.New("payment not found")
	ErrMissingAuthority = errors.New("missing Authority")
	ErrEventNotFound    = errors.New("event not found")
)

// Gateway is the external payment provider.
type Gateway interface {
	Request(ctx context.Context, amount int64, description string, metadata map[string]string) (string, error)
	Verify(ctx context.Context, amount int64, authority string) (*models.GatewayData, error)
	StartPayURL(authority string) string
}

// Registrations is the registration half of a purchase.
type Registrations interface {
	Prepare(ctx context.Context, eventID int64, userID, discountCode string) (*registration.Prepared, error)
	ConfirmForPayment(ctx context.Context, payment models.Payment) (*models.Registration, error)
}

type DiscountEngine interface {
	Apply(ctx context.Context, code string, event *models.Event, userID string) (*discount.Result, error)
}

type KafkaPublisher interface {
	PublishPaymentPaid(ctx context.Context, payment models.Payment) error
	PublishPaymentFailed(ctx context.Context, payment models.Payment) error
}

type Service struct {
	Store         storage.Store
	Gateway       Gateway
	Registrations Registrations
	Discount      DiscountEngine
	Kafka         KafkaPublisher
	Logger        *logger.Logger

	frontendCallbackURL string
	now                 func() time.Time
}

func NewService(store storage.Store, gateway Gateway, registrations Registrations, engine DiscountEngine, kafka KafkaPublisher, frontendCallbackURL string, log *logger.Logger) *Service {
	return &Service{
		Store:               store,
		Gateway:             gateway,
		Registrations:       registrations,
		Discount:            engine,
		Kafka:               kafka,
		Logger:              log,
		frontendCallbackURL: frontendCallbackURL,
		now:                 time.Now,
	}
}

// ---------------- CREATE ----------------

// CreatePayment prices the caller's registration and opens a gateway
// transaction for it. A zero final price confirms the registration and
// returns an empty start-pay URL without contacting the gateway.
func (s *Service) CreatePayment(ctx context.Context, userID string, req models.CreatePaymentRequest) (*models.CreatePaymentResponse, error) {
	s.Logger.Info("PAYMENT", fmt.Sprintf("CreatePayment: user=%s event=%d code=%q", userID, req.EventID, req.DiscountCode))

	// Step 1: no double purchase
	paid, err := s.Store.HasPaidPayment(ctx, userID, req.EventID)
	if err != nil {
		return nil, fmt.Errorf("check paid payment: %w", err)
	}
	if paid {
		return nil, ErrPaymentExists
	}

	// Step 2: backing registration, priced
	prepared, err := s.Registrations.Prepare(ctx, req.EventID, userID, req.DiscountCode)
	if err != nil {
		return nil, err
	}
	event := prepared.Event
	resp := &models.CreatePaymentResponse{
		BaseAmount:     event.Price,
		DiscountAmount: prepared.DiscountAmount,
		Amount:         prepared.FinalPrice,
	}
	if prepared.FinalPrice == 0 {
		s.Logger.Info("PAYMENT", fmt.Sprintf("No payment needed for registration %d", prepared.Registration.ID))
		return resp, nil
	}

	// Step 3: snapshot the amounts
	regID := prepared.Registration.ID
	payment := &models.Payment{
		UserID:         userID,
		EventID:        event.ID,
		RegistrationID: &regID,
		BaseAmount:     event.Price,
		DiscountAmount: prepared.DiscountAmount,
		Amount:         prepared.FinalPrice,
		Status:         models.PaymentInitiated,
	}
	if prepared.DiscountCode != nil {
		id := prepared.DiscountCode.ID
		payment.DiscountCodeID = &id
	}
	if err := s.Store.SavePayment(ctx, payment); err != nil {
		if errors.Is(err, models.ErrAmountMismatch) {
			s.Logger.Error("PAYMENT", fmt.Sprintf("Amount invariant violated for event %d user %s: %v", event.ID, userID, err))
		}
		return nil, err
	}
	s.Logger.LogPayment("INITIATED", payment.ID, fmt.Sprintf("amount=%d base=%d discount=%d", payment.Amount, payment.BaseAmount, payment.DiscountAmount))

	// Step 4: open the gateway transaction; no lock is held here
	description := req.Description
	if description == "" {
		description = fmt.Sprintf("Registration for %s", event.Title)
	}
	authority, err := s.Gateway.Request(ctx, payment.Amount, description, s.metadata(req, userID, payment, prepared.DiscountCode))
	if err != nil {
		if delErr := s.Store.DeletePayment(context.Background(), payment.ID); delErr != nil {
			s.Logger.Error("PAYMENT", fmt.Sprintf("Failed to roll back payment %d: %v", payment.ID, delErr))
		}
		s.Logger.LogPayment("ROLLBACK", payment.ID, fmt.Sprintf("gateway request failed: %v", err))
		metrics.RecordPaymentProcessed("request_failed")
		var gwErr *services.GatewayError
		if !errors.As(err, &gwErr) {
			err = &services.GatewayError{Op: "request", Err: err}
		}
		return nil, err
	}

	// Step 5: remember the authority
	payment.Authority = &authority
	payment.Status = models.PaymentPending
	if err := s.Store.UpdatePayment(ctx, payment, "authority", "status"); err != nil {
		return nil, err
	}
	metrics.RecordPaymentProcessed(string(models.PaymentPending))
	s.Logger.LogPayment("PENDING", payment.ID, fmt.Sprintf("authority=%s", authority))

	startPay := s.Gateway.StartPayURL(authority)
	resp.StartPayURL = &startPay
	resp.Authority = &authority
	return resp, nil
}

func (s *Service) metadata(req models.CreatePaymentRequest, userID string, payment *models.Payment, code *models.DiscountCode) map[string]string {
	md := map[string]string{
		"event_id":   strconv.FormatInt(payment.EventID, 10),
		"user_id":    userID,
		"payment_id": strconv.FormatInt(payment.ID, 10),
	}
	if req.Mobile != "" {
		md["mobile"] = req.Mobile
	}
	if req.Email != "" {
		md["email"] = req.Email
	}
	if code != nil {
		md["discount_code"] = code.Code
	}
	return md
}

// ---------------- CALLBACK ----------------

// HandleCallback settles the payment behind authority and returns the
// frontend URL to redirect the payer to. Replays for a settled payment do not
// call the gateway again.
func (s *Service) HandleCallback(ctx context.Context, authority, status string) (string, error) {
	if authority == "" {
		return "", ErrMissingAuthority
	}
	payment, err := s.Store.GetPaymentByAuthority(ctx, authority)
	if errors.Is(err, sql.ErrNoRows) {
		s.Logger.Warn("PAYMENT", fmt.Sprintf("Callback for unknown authority %s", authority))
		return "", ErrPaymentNotFound
	}
	if err != nil {
		return "", fmt.Errorf("load payment: %w", err)
	}

	if payment.Status.IsTerminal() {
		s.Logger.Info("PAYMENT", fmt.Sprintf("Callback replay for payment %d in status %s", payment.ID, payment.Status))
		if payment.Status == models.PaymentPaid {
			s.confirmRegistration(ctx, payment)
		}
		return s.redirectFor(payment), nil
	}

	// Step 2: payer cancelled or the gateway reported failure
	if status != "OK" {
		return s.settle(ctx, payment, models.PaymentCanceled, fmt.Sprintf("callback status %q", status))
	}

	// Step 3: verify with the stored amount
	data, err := s.Gateway.Verify(ctx, payment.Amount, authority)
	if err != nil {
		return s.settle(ctx, payment, models.PaymentFailed, err.Error())
	}
	if !services.IsVerified(data.Code) {
		return s.settle(ctx, payment, models.PaymentFailed, fmt.Sprintf("verify code %d", data.Code))
	}

	// Step 4: paid
	now := s.now()
	payment.Status = models.PaymentPaid
	payment.RefID = string(data.RefID)
	payment.CardPan = data.CardPan
	payment.CardHash = data.CardHash
	payment.VerifiedAt = &now
	won, err := s.Store.TransitionPayment(ctx, payment, openStatuses, "status", "ref_id", "card_pan", "card_hash", "verified_at")
	if err != nil {
		return "", err
	}
	if !won {
		return s.reloadRedirect(ctx, authority)
	}
	s.Logger.LogPayment("PAID", payment.ID, fmt.Sprintf("ref_id=%s code=%d", payment.RefID, data.Code))
	metrics.RecordPaymentProcessed(string(models.PaymentPaid))
	if s.Kafka != nil {
		if err := s.Kafka.PublishPaymentPaid(ctx, *payment); err != nil {
			s.Logger.Error("KAFKA", fmt.Sprintf("Kafka publish error (payment paid %d): %v", payment.ID, err))
		}
	}

	s.confirmRegistration(ctx, payment)
	return s.redirectFor(payment), nil
}

var openStatuses = []models.PaymentStatus{models.PaymentInitiated, models.PaymentPending}

// settle moves an open payment to canceled or failed.
func (s *Service) settle(ctx context.Context, payment *models.Payment, status models.PaymentStatus, reason string) (string, error) {
	payment.Status = status
	won, err := s.Store.TransitionPayment(ctx, payment, openStatuses, "status")
	if err != nil {
		return "", err
	}
	if !won {
		return s.reloadRedirect(ctx, *payment.Authority)
	}
	s.Logger.LogPayment(string(status), payment.ID, reason)
	metrics.RecordPaymentProcessed(string(status))
	if s.Kafka != nil {
		if err := s.Kafka.PublishPaymentFailed(ctx, *payment); err != nil {
			s.Logger.Error("KAFKA", fmt.Sprintf("Kafka publish error (payment %s %d): %v", status, payment.ID, err))
		}
	}
	return s.redirectFor(payment), nil
}

// reloadRedirect handles a callback that lost the race to settle the payment.
func (s *Service) reloadRedirect(ctx context.Context, authority string) (string, error) {
	current, err := s.Store.GetPaymentByAuthority(ctx, authority)
	if err != nil {
		return "", fmt.Errorf("reload payment: %w", err)
	}
	s.Logger.Info("PAYMENT", fmt.Sprintf("Payment %d settled concurrently as %s", current.ID, current.Status))
	return s.redirectFor(current), nil
}

func (s *Service) confirmRegistration(ctx context.Context, payment *models.Payment) {
	if _, err := s.Registrations.ConfirmForPayment(ctx, *payment); err != nil {
		s.Logger.Error("PAYMENT", fmt.Sprintf("Payment %d paid but registration not confirmed: %v", payment.ID, err))
	}
}

func (s *Service) redirectFor(payment *models.Payment) string {
	q := url.Values{}
	q.Set("event_id", strconv.FormatInt(payment.EventID, 10))
	if payment.Status == models.PaymentPaid {
		q.Set("status", "success")
		q.Set("ref_id", payment.RefID)
	} else {
		q.Set("status", "failed")
	}
	return s.frontendCallbackURL + "?" + q.Encode()
}

// ---------------- READS ----------------

// GetByRefID is the receipt lookup for a settled payment.
func (s *Service) GetByRefID(ctx context.Context, refID string) (*models.PaymentDetail, error) {
	payment, err := s.Store.GetPaymentByRefID(ctx, refID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load payment by ref: %w", err)
	}
	detail := &models.PaymentDetail{
		RefID:          payment.RefID,
		BaseAmount:     payment.BaseAmount,
		DiscountAmount: payment.DiscountAmount,
		Amount:         payment.Amount,
		Status:         payment.Status,
		VerifiedAt:     payment.VerifiedAt,
	}
	if payment.Authority != nil {
		detail.Authority = *payment.Authority
	}
	if payment.Event != nil {
		detail.Event = models.EventBrief{
			ID:        payment.Event.ID,
			Title:     payment.Event.Title,
			Slug:      payment.Event.Slug,
			StartDate: payment.Event.StartTime,
			EndDate:   payment.Event.EndTime,
			Price:     payment.Event.Price,
		}
	}
	return detail, nil
}

// CheckCoupon previews a discount code without touching any registration.
func (s *Service) CheckCoupon(ctx context.Context, userID string, req models.CouponCheckRequest) (*models.CouponCheckResponse, error) {
	event, err := s.Store.GetEventByID(ctx, req.EventID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load event: %w", err)
	}
	result, err := s.Discount.Apply(ctx, req.Code, event, userID)
	if err != nil {
		return nil, err
	}
	return &models.CouponCheckResponse{
		DiscountAmount: result.DiscountAmount,
		FinalPrice:     result.FinalPrice,
	}, nil
}

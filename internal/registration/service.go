package registration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ms-registration/internal/database"
	"ms-registration/internal/discount"
	"ms-registration/internal/logger"
	"ms-registration/internal/metrics"
	"ms-registration/internal/models"
	"ms-registration/internal/tickets/qr"
	"ms-registration/internal/utils"
)

type DBLayer interface {
	GetEventByID(ctx context.Context, id int64, includeDeleted bool) (*models.Event, error)
	CountAttendees(ctx context.Context, eventID int64) (int, error)
	HasRegistrationWithStatus(ctx context.Context, eventID int64, userID string, statuses ...models.RegistrationStatus) (bool, error)
	FindActiveRegistration(ctx context.Context, eventID int64, userID string) (*models.Registration, error)
	FindPendingRegistration(ctx context.Context, eventID int64, userID string) (*models.Registration, error)
	GetRegistrationByID(ctx context.Context, id int64, includeDeleted bool) (*models.Registration, error)
	GetRegistrationByTicketID(ctx context.Context, ticketID string) (*models.Registration, error)
	ListRegistrationsByUser(ctx context.Context, userID string, includeDeleted bool) ([]models.Registration, error)
	CreateRegistration(ctx context.Context, reg *models.Registration) error
	UpdateRegistration(ctx context.Context, reg *models.Registration, columns ...string) error
	MarkConfirmationSent(ctx context.Context, registrationID int64, at time.Time) (bool, error)
	MarkCancellationSent(ctx context.Context, registrationID int64, at time.Time) (bool, error)
}

type EventLock interface {
	LockEvent(ctx context.Context, eventID int64) (string, error)
	UnlockEvent(ctx context.Context, eventID int64, token string) error
}

type DiscountEngine interface {
	Apply(ctx context.Context, code string, event *models.Event, userID string) (*discount.Result, error)
}

type Notifier interface {
	QueueRegistrationConfirmation(ctx context.Context, reg models.Registration) error
	QueueRegistrationCancellation(ctx context.Context, reg models.Registration) error
}

type KafkaPublisher interface {
	PublishRegistrationConfirmed(ctx context.Context, reg models.Registration) error
	PublishRegistrationCancelled(ctx context.Context, reg models.Registration) error
}

type TicketRenderer interface {
	PNG(p qr.Payload) ([]byte, error)
}

type Service struct {
	DB       DBLayer
	Lock     EventLock
	Discount DiscountEngine
	Notifier Notifier
	Kafka    KafkaPublisher
	Tickets  TicketRenderer
	Logger   *logger.Logger
	now      func() time.Time
}

func NewService(db DBLayer, lock EventLock, engine DiscountEngine, notifier Notifier, kafka KafkaPublisher, tickets TicketRenderer, log *logger.Logger) *Service {
	return &Service{
		DB:       db,
		Lock:     lock,
		Discount: engine,
		Notifier: notifier,
		Kafka:    kafka,
		Tickets:  tickets,
		Logger:   log,
		now:      time.Now,
	}
}

// Prepared is the priced registration backing a register or create-payment call.
type Prepared struct {
	Event          *models.Event
	Registration   *models.Registration
	DiscountCode   *models.DiscountCode
	DiscountAmount int64
	FinalPrice     int64
}

// ---------------- REGISTER ----------------

// Register records the caller's intent to attend eventID. Free and fully
// discounted registrations come back confirmed; everything else stays pending
// until a payment settles.
func (s *Service) Register(ctx context.Context, eventID int64, userID, discountCode string) (*models.Registration, error) {
	p, err := s.Prepare(ctx, eventID, userID, discountCode)
	if err != nil {
		return nil, err
	}
	return p.Registration, nil
}

// Prepare runs the shared find-or-create and pricing path under the event
// lock. A discount rejection still leaves the pending registration stored.
func (s *Service) Prepare(ctx context.Context, eventID int64, userID, discountCode string) (*Prepared, error) {
	event, err := s.loadEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if event.Status == models.EventStatusCancelled {
		return nil, ErrEventCancelled
	}

	token, err := s.Lock.LockEvent(ctx, eventID)
	if err != nil {
		s.Logger.Warn("LOCK", fmt.Sprintf("Event %d lock not acquired for user %s: %v", eventID, userID, err))
		metrics.RecordRegistration("conflict")
		return nil, fmt.Errorf("%w: %v", ErrRegistrationConflict, err)
	}

	p, previous, err := s.prepareLocked(ctx, event, userID, discountCode)

	if unlockErr := s.Lock.UnlockEvent(context.Background(), eventID, token); unlockErr != nil {
		s.Logger.Warn("LOCK", fmt.Sprintf("Failed to release event %d lock: %v", eventID, unlockErr))
	}

	if err != nil {
		metrics.RecordRegistration(outcomeOf(err))
		return nil, err
	}

	metrics.RecordRegistration(string(p.Registration.Status))
	s.afterTransition(ctx, p.Registration, previous)
	return p, nil
}

func (s *Service) prepareLocked(ctx context.Context, event *models.Event, userID, discountCode string) (*Prepared, models.RegistrationStatus, error) {
	// Step 1: registration window
	now := s.now()
	if event.RegistrationNotYetOpen(now) {
		return nil, "", ErrRegistrationNotOpen
	}
	if event.RegistrationEnded(now) {
		return nil, "", ErrRegistrationClosed
	}

	// Step 2: capacity
	attendees, err := s.DB.CountAttendees(ctx, event.ID)
	if err != nil {
		return nil, "", fmt.Errorf("count attendees: %w", err)
	}
	if !event.HasAvailableSlots(attendees) {
		return nil, "", ErrEventFull
	}

	// Step 3: duplicate confirmed registration
	exists, err := s.DB.HasRegistrationWithStatus(ctx, event.ID, userID, models.RegistrationConfirmed, models.RegistrationAttended)
	if err != nil {
		return nil, "", fmt.Errorf("check existing registration: %w", err)
	}
	if exists {
		return nil, "", ErrAlreadyRegistered
	}

	// Step 4: find or create; a cancelled row is never resurrected
	reg, err := s.DB.FindActiveRegistration(ctx, event.ID, userID)
	if err != nil {
		return nil, "", fmt.Errorf("find registration: %w", err)
	}
	var changed []string
	if reg == nil {
		reg = &models.Registration{
			EventID:  event.ID,
			UserID:   userID,
			Status:   models.RegistrationPending,
			TicketID: utils.GenerateTicketID(),
		}
	}
	previous := reg.Status
	if reg.FinalPrice == nil {
		price := event.Price
		reg.FinalPrice = &price
		changed = append(changed, "final_price")
	}

	// Step 5: discount
	p := &Prepared{Event: event, Registration: reg, FinalPrice: event.Price}
	if discountCode != "" {
		result, err := s.Discount.Apply(ctx, discountCode, event, userID)
		if err != nil {
			if saveErr := s.save(ctx, reg, changed); saveErr != nil {
				return nil, "", saveErr
			}
			return nil, "", err
		}
		p.DiscountCode = result.Code
		p.DiscountAmount = result.DiscountAmount
		p.FinalPrice = result.FinalPrice
	}
	changed = append(changed, applyPricing(reg, p)...)

	// Step 6: nothing to pay
	if p.FinalPrice == 0 && reg.Status != models.RegistrationConfirmed {
		reg.Status = models.RegistrationConfirmed
		changed = append(changed, "status")
	}

	// Step 7: persist only what changed
	if err := s.save(ctx, reg, changed); err != nil {
		return nil, "", err
	}
	s.Logger.LogRegistration("PREPARE", reg.ID, fmt.Sprintf("event=%d user=%s status=%s final=%d", event.ID, userID, reg.Status, p.FinalPrice))
	return p, previous, nil
}

// applyPricing copies the priced discount onto reg and names the columns it changed.
func applyPricing(reg *models.Registration, p *Prepared) []string {
	var changed []string
	var codeID *int64
	if p.DiscountCode != nil {
		id := p.DiscountCode.ID
		codeID = &id
	}
	if !sameID(reg.DiscountCodeID, codeID) {
		reg.DiscountCodeID = codeID
		changed = append(changed, "discount_code_id")
	}
	if reg.DiscountAmount != p.DiscountAmount {
		reg.DiscountAmount = p.DiscountAmount
		changed = append(changed, "discount_amount")
	}
	if reg.FinalPrice == nil || *reg.FinalPrice != p.FinalPrice {
		final := p.FinalPrice
		reg.FinalPrice = &final
		changed = append(changed, "final_price")
	}
	return changed
}

func sameID(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// save inserts a new registration or updates the changed columns of an existing one.
func (s *Service) save(ctx context.Context, reg *models.Registration, columns []string) error {
	if reg.ID == 0 {
		if err := s.DB.CreateRegistration(ctx, reg); err != nil {
			return s.mapWriteError("create", reg, err)
		}
		s.Logger.LogRegistration("CREATE", reg.ID, fmt.Sprintf("event=%d user=%s ticket=%s", reg.EventID, reg.UserID, reg.TicketID))
		return nil
	}
	if err := s.DB.UpdateRegistration(ctx, reg, dedupe(columns)...); err != nil {
		return s.mapWriteError("update", reg, err)
	}
	return nil
}

func (s *Service) mapWriteError(op string, reg *models.Registration, err error) error {
	if errors.Is(err, database.ErrConflict) {
		s.Logger.Info("REGISTRATION", fmt.Sprintf("Concurrent %s for event=%d user=%s lost the race", op, reg.EventID, reg.UserID))
		return ErrRegistrationConflict
	}
	return fmt.Errorf("%s registration: %w", op, err)
}

func dedupe(columns []string) []string {
	seen := make(map[string]bool, len(columns))
	out := columns[:0:0]
	for _, c := range columns {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, discount.ErrInvalidDiscount):
		return "invalid_discount"
	case errors.Is(err, ErrEventFull):
		return "full"
	case errors.Is(err, ErrRegistrationConflict):
		return "conflict"
	case errors.Is(err, ErrRegistrationClosed), errors.Is(err, ErrRegistrationNotOpen):
		return "window"
	case errors.Is(err, ErrAlreadyRegistered):
		return "duplicate"
	}
	return "error"
}

// ---------------- STATUS CHANGES ----------------

// Cancel moves the caller's own registration to cancelled. Payments are left alone.
func (s *Service) Cancel(ctx context.Context, registrationID int64, userID string) (*models.Registration, error) {
	reg, err := s.loadRegistration(ctx, registrationID)
	if err != nil {
		return nil, err
	}
	if reg.UserID != userID {
		s.Logger.LogSecurity("CANCEL_FORBIDDEN", fmt.Sprintf("user %s tried to cancel registration %d", userID, registrationID))
		return nil, ErrForbidden
	}
	if !reg.Status.IsActive() {
		return reg, nil
	}
	if !CanTransition(reg.Status, models.RegistrationCancelled) {
		return nil, fmt.Errorf("%w: %s → %s", ErrInvalidTransition, reg.Status, models.RegistrationCancelled)
	}
	return s.transition(ctx, reg, models.RegistrationCancelled)
}

// UpdateStatus applies a requested status. Registrants follow the ordinary
// lifecycle and can never confirm a paid registration themselves; staff may
// set any status.
func (s *Service) UpdateStatus(ctx context.Context, registrationID int64, actor Actor, target models.RegistrationStatus) (*models.Registration, error) {
	if !target.Valid() {
		return nil, ErrInvalidStatus
	}
	reg, err := s.loadRegistration(ctx, registrationID)
	if err != nil {
		return nil, err
	}
	if !actor.IsStaff && !actor.owns(reg) {
		s.Logger.LogSecurity("STATUS_FORBIDDEN", fmt.Sprintf("user %s tried to update registration %d", actor.UserID, registrationID))
		return nil, ErrForbidden
	}
	if reg.Status == target {
		return reg, nil
	}

	if !actor.IsStaff {
		if !CanTransition(reg.Status, target) {
			return nil, fmt.Errorf("%w: %s → %s", ErrInvalidTransition, reg.Status, target)
		}
		if target == models.RegistrationConfirmed {
			price := int64(0)
			if reg.FinalPrice != nil {
				price = *reg.FinalPrice
			} else {
				event, err := s.loadEvent(ctx, reg.EventID)
				if err != nil {
					return nil, err
				}
				price = event.Price
			}
			if price > 0 {
				return nil, ErrPaymentRequired
			}
		}
	} else {
		s.Logger.Info("REGISTRATION", fmt.Sprintf("Staff %s forcing registration %d %s → %s", actor.UserID, reg.ID, reg.Status, target))
	}

	return s.transition(ctx, reg, target)
}

// ConfirmForPayment confirms the registration a paid payment settles. It is
// safe to call more than once for the same payment.
func (s *Service) ConfirmForPayment(ctx context.Context, payment models.Payment) (*models.Registration, error) {
	var reg *models.Registration
	var err error
	if payment.RegistrationID != nil {
		reg, err = s.DB.GetRegistrationByID(ctx, *payment.RegistrationID, false)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("load registration %d: %w", *payment.RegistrationID, err)
		}
	}
	if reg == nil {
		reg, err = s.DB.FindPendingRegistration(ctx, payment.EventID, payment.UserID)
		if err != nil {
			return nil, fmt.Errorf("find pending registration: %w", err)
		}
	}
	if reg == nil {
		s.Logger.Warn("REGISTRATION", fmt.Sprintf("Paid payment %d has no registration to confirm (event=%d user=%s)", payment.ID, payment.EventID, payment.UserID))
		return nil, ErrRegistrationNotFound
	}

	switch reg.Status {
	case models.RegistrationConfirmed, models.RegistrationAttended:
		s.afterTransition(ctx, reg, reg.Status)
		return reg, nil
	case models.RegistrationCancelled:
		s.Logger.Warn("REGISTRATION", fmt.Sprintf("Payment %d settled for cancelled registration %d, left cancelled", payment.ID, reg.ID))
		return reg, nil
	}

	columns := []string{"status"}
	if reg.FinalPrice == nil {
		amount := payment.Amount
		reg.FinalPrice = &amount
		columns = append(columns, "final_price")
	}
	previous := reg.Status
	reg.Status = models.RegistrationConfirmed
	if err := s.save(ctx, reg, columns); err != nil {
		reg.Status = previous
		return nil, err
	}
	s.Logger.LogRegistration("CONFIRM", reg.ID, fmt.Sprintf("confirmed by payment %d", payment.ID))
	metrics.RecordTransition(string(previous), string(reg.Status))
	s.afterTransition(ctx, reg, previous)
	return reg, nil
}

func (s *Service) transition(ctx context.Context, reg *models.Registration, target models.RegistrationStatus) (*models.Registration, error) {
	previous := reg.Status
	reg.Status = target
	if err := s.save(ctx, reg, []string{"status"}); err != nil {
		reg.Status = previous
		return nil, err
	}
	s.Logger.LogRegistration("STATUS", reg.ID, fmt.Sprintf("%s → %s", previous, target))
	metrics.RecordTransition(string(previous), string(target))
	s.afterTransition(ctx, reg, previous)
	return reg, nil
}

// afterTransition queues the confirmation or cancellation notice at most once
// per registration and publishes the domain event when the status changed.
// Failures are logged; the status write has already happened.
func (s *Service) afterTransition(ctx context.Context, reg *models.Registration, previous models.RegistrationStatus) {
	changed := reg.Status != previous

	switch reg.Status {
	case models.RegistrationConfirmed:
		first, err := s.DB.MarkConfirmationSent(ctx, reg.ID, s.now())
		if err != nil {
			s.Logger.Error("REGISTRATION", fmt.Sprintf("Failed to mark confirmation for registration %d: %v", reg.ID, err))
		} else if first {
			if err := s.Notifier.QueueRegistrationConfirmation(ctx, *reg); err != nil {
				s.Logger.Error("NOTIFY", fmt.Sprintf("Confirmation for registration %d marked but not queued: %v", reg.ID, err))
			}
		}
		if changed && s.Kafka != nil {
			if err := s.Kafka.PublishRegistrationConfirmed(ctx, *reg); err != nil {
				s.Logger.Error("KAFKA", fmt.Sprintf("Kafka publish error (registration confirmed %d): %v", reg.ID, err))
			}
		}
	case models.RegistrationCancelled:
		first, err := s.DB.MarkCancellationSent(ctx, reg.ID, s.now())
		if err != nil {
			s.Logger.Error("REGISTRATION", fmt.Sprintf("Failed to mark cancellation for registration %d: %v", reg.ID, err))
		} else if first {
			if err := s.Notifier.QueueRegistrationCancellation(ctx, *reg); err != nil {
				s.Logger.Error("NOTIFY", fmt.Sprintf("Cancellation for registration %d marked but not queued: %v", reg.ID, err))
			}
		}
		if changed && s.Kafka != nil {
			if err := s.Kafka.PublishRegistrationCancelled(ctx, *reg); err != nil {
				s.Logger.Error("KAFKA", fmt.Sprintf("Kafka publish error (registration cancelled %d): %v", reg.ID, err))
			}
		}
	}
}

// ---------------- READS ----------------

func (s *Service) ListForUser(ctx context.Context, userID string) ([]models.MyRegistration, error) {
	regs, err := s.DB.ListRegistrationsByUser(ctx, userID, false)
	if err != nil {
		return nil, fmt.Errorf("list registrations: %w", err)
	}
	out := make([]models.MyRegistration, 0, len(regs))
	for _, reg := range regs {
		item := models.MyRegistration{
			ID:        reg.ID,
			TicketID:  reg.TicketID,
			Status:    reg.Status,
			CreatedAt: reg.CreatedAt,
		}
		if reg.Event != nil {
			item.Event = models.EventBrief{
				ID:        reg.Event.ID,
				Title:     reg.Event.Title,
				Slug:      reg.Event.Slug,
				StartDate: reg.Event.StartTime,
				EndDate:   reg.Event.EndTime,
				Price:     reg.Event.Price,
			}
		}
		out = append(out, item)
	}
	return out, nil
}

// IsRegistered reports whether userID holds a confirmed or attended registration.
func (s *Service) IsRegistered(ctx context.Context, eventID int64, userID string) (bool, error) {
	return s.DB.HasRegistrationWithStatus(ctx, eventID, userID, models.RegistrationConfirmed, models.RegistrationAttended)
}

func (s *Service) VerifyTicket(ctx context.Context, ticketID string, actor Actor) (*models.TicketDetail, error) {
	reg, err := s.ticket(ctx, ticketID, actor)
	if err != nil {
		return nil, err
	}
	detail := &models.TicketDetail{
		TicketID:     reg.TicketID,
		Status:       reg.Status,
		RegisteredAt: reg.RegisteredAt,
		EventID:      reg.EventID,
	}
	if reg.Event != nil {
		detail.EventTitle = reg.Event.Title
		detail.SuccessMarkdown = reg.Event.SuccessMarkdown
	}
	return detail, nil
}

// TicketQR renders the ticket as a PNG QR code carrying a sealed token.
func (s *Service) TicketQR(ctx context.Context, ticketID string, actor Actor) ([]byte, error) {
	reg, err := s.ticket(ctx, ticketID, actor)
	if err != nil {
		return nil, err
	}
	return s.Tickets.PNG(qr.Payload{
		TicketID: reg.TicketID,
		EventID:  reg.EventID,
		UserID:   reg.UserID,
		IssuedAt: s.now().UTC(),
	})
}

func (s *Service) ticket(ctx context.Context, ticketID string, actor Actor) (*models.Registration, error) {
	reg, err := s.DB.GetRegistrationByTicketID(ctx, ticketID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRegistrationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load ticket: %w", err)
	}
	if !actor.IsStaff && !actor.owns(reg) {
		return nil, ErrForbidden
	}
	return reg, nil
}

func (s *Service) loadEvent(ctx context.Context, eventID int64) (*models.Event, error) {
	event, err := s.DB.GetEventByID(ctx, eventID, false)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load event %d: %w", eventID, err)
	}
	return event, nil
}

func (s *Service) loadRegistration(ctx context.Context, id int64) (*models.Registration, error) {
	reg, err := s.DB.GetRegistrationByID(ctx, id, false)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRegistrationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load registration %d: %w", id, err)
	}
	return reg, nil
}

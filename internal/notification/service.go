package notification

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"
	"unicode/utf8"

	"ms-registration/internal/logger"
	"ms-registration/internal/metrics"
	"ms-registration/internal/models"
	notificationdb "ms-registration/internal/notification/db"
	"ms-registration/internal/registration"

	"github.com/cenkalti/backoff/v4"
)

const pushBodyLimit = 200

// DefaultAnnouncementStatuses is used when an announcement names no statuses.
var DefaultAnnouncementStatuses = []models.RegistrationStatus{
	models.RegistrationConfirmed,
	models.RegistrationAttended,
	models.RegistrationPending,
}

type Store interface {
	GetEventByID(ctx context.Context, id int64) (*models.Event, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	GetRegistrationByID(ctx context.Context, id int64) (*models.Registration, error)
	ListRecipients(ctx context.Context, eventID int64, statuses []models.RegistrationStatus) ([]notificationdb.Recipient, error)
	ListActiveDevices(ctx context.Context, userID string) ([]models.PushDevice, error)
}

type Ledger interface {
	Claim(ctx context.Context, eventID int64, userID string, kind models.NotificationKind, scope string) (*models.NotificationLog, bool, error)
	MarkSent(ctx context.Context, entry *models.NotificationLog) error
	MarkFailed(ctx context.Context, entry *models.NotificationLog, cause error) error
}

type Service struct {
	Store    Store
	Ledger   Ledger
	Queue    Queue
	Mailer   Mailer
	Pusher   Pusher
	Renderer *Renderer
	Logger   *logger.Logger
	now      func() time.Time
}

// NewService wires the producer side (Queue*) and the consumer side
// (Process). pusher may be nil to disable push delivery.
func NewService(store Store, ledger Ledger, queue Queue, mailer Mailer, pusher Pusher, renderer *Renderer, log *logger.Logger) *Service {
	return &Service{
		Store:    store,
		Ledger:   ledger,
		Queue:    queue,
		Mailer:   mailer,
		Pusher:   pusher,
		Renderer: renderer,
		Logger:   log,
		now:      time.Now,
	}
}

func registrationScope(id int64) string {
	return "registration:" + strconv.FormatInt(id, 10)
}

func announcementScope(subject, body string) string {
	return subject + "\n" + body
}

// ---------------- PRODUCER ----------------

func (s *Service) QueueRegistrationConfirmation(ctx context.Context, reg models.Registration) error {
	return s.queueRegistration(ctx, models.KindRegistrationConfirmation, reg)
}

func (s *Service) QueueRegistrationCancellation(ctx context.Context, reg models.Registration) error {
	return s.queueRegistration(ctx, models.KindRegistrationCancellation, reg)
}

func (s *Service) queueRegistration(ctx context.Context, kind models.NotificationKind, reg models.Registration) error {
	task := models.NotificationTask{
		Kind:           kind,
		EventID:        reg.EventID,
		UserID:         reg.UserID,
		RegistrationID: reg.ID,
		Context:        registrationScope(reg.ID),
		EnqueuedAt:     s.now(),
	}
	if err := s.Queue.Enqueue(ctx, task); err != nil {
		metrics.RecordNotification(string(kind), "enqueue_failed")
		return fmt.Errorf("enqueue %s for registration %d: %w", kind, reg.ID, err)
	}
	metrics.RecordNotification(string(kind), "queued")
	s.Logger.LogNotification("QUEUED", string(kind), fmt.Sprintf("registration %d user %s", reg.ID, reg.UserID))
	return nil
}

// ResendConfirmation queues the confirmation again. The dispatch log turns it
// into a no-op when the message already went out.
func (s *Service) ResendConfirmation(ctx context.Context, registrationID int64) error {
	reg, err := s.Store.GetRegistrationByID(ctx, registrationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %d", registration.ErrRegistrationNotFound, registrationID)
		}
		return err
	}
	if reg.Status != models.RegistrationConfirmed && reg.Status != models.RegistrationAttended {
		return fmt.Errorf("%w: registration %d is %s", registration.ErrInvalidStatus, reg.ID, reg.Status)
	}
	return s.QueueRegistrationConfirmation(ctx, *reg)
}

// QueueEventAnnouncement enqueues one task per matching registration and
// returns how many were queued.
func (s *Service) QueueEventAnnouncement(ctx context.Context, eventID int64, subject, body string, statuses []models.RegistrationStatus) (int, error) {
	if len(statuses) == 0 {
		statuses = DefaultAnnouncementStatuses
	}
	for _, st := range statuses {
		if !st.Valid() {
			return 0, fmt.Errorf("%w: %q", registration.ErrInvalidStatus, st)
		}
	}

	event, err := s.Store.GetEventByID(ctx, eventID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("%w: %d", registration.ErrEventNotFound, eventID)
		}
		return 0, err
	}

	recipients, err := s.Store.ListRecipients(ctx, eventID, statuses)
	if err != nil {
		return 0, fmt.Errorf("list recipients for event %d: %w", eventID, err)
	}

	scope := announcementScope(subject, body)
	queued := 0
	for _, rc := range recipients {
		task := models.NotificationTask{
			Kind:           models.KindEventAnnouncement,
			EventID:        eventID,
			UserID:         rc.UserID,
			RegistrationID: rc.RegistrationID,
			Subject:        subject,
			Body:           body,
			Context:        scope,
			EnqueuedAt:     s.now(),
		}
		if err := s.Queue.Enqueue(ctx, task); err != nil {
			metrics.RecordNotification(string(task.Kind), "enqueue_failed")
			return queued, fmt.Errorf("enqueue announcement for user %s: %w", rc.UserID, err)
		}
		metrics.RecordNotification(string(task.Kind), "queued")
		queued++
	}

	s.Logger.LogNotification("QUEUED", string(models.KindEventAnnouncement),
		fmt.Sprintf("%d messages for event %q (%d)", queued, event.Title, eventID))
	return queued, nil
}

// ---------------- CONSUMER ----------------

// Process delivers one task. Missing rows are permanent failures; send and
// storage errors are returned for retry.
func (s *Service) Process(ctx context.Context, task models.NotificationTask) error {
	kind := string(task.Kind)

	// Step 1: load what the message is about
	event, err := s.Store.GetEventByID(ctx, task.EventID)
	if err != nil {
		return permanentIfMissing(err, registration.ErrEventNotFound, task.EventID)
	}
	user, err := s.Store.GetUserByID(ctx, task.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return backoff.Permanent(fmt.Errorf("user %s not found", task.UserID))
		}
		return err
	}
	if user.Email == "" {
		s.Logger.LogNotification("SKIPPED", kind, fmt.Sprintf("user %s has no email", user.ID))
		metrics.RecordNotification(kind, "skipped")
		return nil
	}
	var reg *models.Registration
	if task.RegistrationID != 0 {
		reg, err = s.Store.GetRegistrationByID(ctx, task.RegistrationID)
		if err != nil {
			return permanentIfMissing(err, registration.ErrRegistrationNotFound, task.RegistrationID)
		}
	}

	msg, err := s.Renderer.Render(task, event, user, reg)
	if err != nil {
		return backoff.Permanent(err)
	}

	// Step 2: claim the dispatch slot
	entry, already, err := s.Ledger.Claim(ctx, task.EventID, task.UserID, task.Kind, task.Context)
	if err != nil {
		return err
	}
	if already {
		s.Logger.LogNotification("SKIPPED", kind, fmt.Sprintf("user %s event %d already %s", task.UserID, task.EventID, entry.Status))
		metrics.RecordNotification(kind, "skipped")
		return nil
	}

	// Step 3: send and record the outcome
	if err := s.Mailer.Send(ctx, user.Email, msg); err != nil {
		if markErr := s.Ledger.MarkFailed(context.WithoutCancel(ctx), entry, err); markErr != nil {
			s.Logger.Error("NOTIFY", fmt.Sprintf("dispatch %d left pending: %v", entry.ID, markErr))
		}
		metrics.RecordNotification(kind, "failed")
		return err
	}
	if err := s.Ledger.MarkSent(context.WithoutCancel(ctx), entry); err != nil {
		s.Logger.Error("NOTIFY", fmt.Sprintf("dispatch %d sent but not recorded: %v", entry.ID, err))
	}
	metrics.RecordNotification(kind, "sent")
	s.Logger.LogNotification("SENT", kind, fmt.Sprintf("to %s for event %d", user.Email, event.ID))

	s.push(ctx, task.UserID, msg)
	return nil
}

// push is best effort: the email already went out, so a failed push is
// logged and not retried.
func (s *Service) push(ctx context.Context, userID string, msg *Message) {
	if s.Pusher == nil {
		return
	}
	devices, err := s.Store.ListActiveDevices(ctx, userID)
	if err != nil {
		s.Logger.Warn("NOTIFY", fmt.Sprintf("list devices for %s: %v", userID, err))
		return
	}
	body := truncate(msg.Text, pushBodyLimit)
	for _, d := range devices {
		if err := s.Pusher.Push(ctx, d, msg.Subject, body); err != nil {
			s.Logger.Warn("NOTIFY", fmt.Sprintf("push to device %d: %v", d.ID, err))
			metrics.RecordNotification("push", "failed")
			continue
		}
		metrics.RecordNotification("push", "sent")
	}
}

func permanentIfMissing(err, notFound error, id int64) error {
	if errors.Is(err, sql.ErrNoRows) {
		return backoff.Permanent(fmt.Errorf("%w: %d", notFound, id))
	}
	return err
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	r := []rune(s)
	return string(r[:limit]) + "…"
}

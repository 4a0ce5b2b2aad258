package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"ms-registration/internal/database"
	"ms-registration/internal/models"

	"github.com/uptrace/bun"
)

type DB struct {
	Bun *bun.DB
}

func notDeleted(q *bun.SelectQuery, alias string, includeDeleted bool) *bun.SelectQuery {
	if includeDeleted {
		return q
	}
	return q.Where("?.is_deleted = ?", bun.Ident(alias), false)
}

// ---------------- EVENTS ----------------

// GetEventByID → fetch one event; soft-deleted events only with includeDeleted
func (d *DB) GetEventByID(ctx context.Context, id int64, includeDeleted bool) (*models.Event, error) {
	var event models.Event
	q := d.Bun.NewSelect().
		Model(&event).
		Where("event.id = ?", id)
	err := notDeleted(q, "event", includeDeleted).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// CountAttendees → confirmed plus attended registrations for the event
func (d *DB) CountAttendees(ctx context.Context, eventID int64) (int, error) {
	return d.Bun.NewSelect().
		Model((*models.Registration)(nil)).
		Where("event_id = ?", eventID).
		Where("status IN (?)", bun.In([]models.RegistrationStatus{models.RegistrationConfirmed, models.RegistrationAttended})).
		Where("is_deleted = ?", false).
		Count(ctx)
}

// ---------------- REGISTRATIONS ----------------

// HasRegistrationWithStatus → any live registration for (event, user) in one of statuses
func (d *DB) HasRegistrationWithStatus(ctx context.Context, eventID int64, userID string, statuses ...models.RegistrationStatus) (bool, error) {
	return d.Bun.NewSelect().
		Model((*models.Registration)(nil)).
		Where("event_id = ?", eventID).
		Where("user_id = ?", userID).
		Where("status IN (?)", bun.In(statuses)).
		Where("is_deleted = ?", false).
		Exists(ctx)
}

// FindActiveRegistration → latest non-cancelled registration, nil when none
func (d *DB) FindActiveRegistration(ctx context.Context, eventID int64, userID string) (*models.Registration, error) {
	return d.findLatest(ctx, eventID, userID, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("registration.status <> ?", models.RegistrationCancelled)
	})
}

// FindPendingRegistration → latest pending registration, nil when none
func (d *DB) FindPendingRegistration(ctx context.Context, eventID int64, userID string) (*models.Registration, error) {
	return d.findLatest(ctx, eventID, userID, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("registration.status = ?", models.RegistrationPending)
	})
}

func (d *DB) findLatest(ctx context.Context, eventID int64, userID string, filter func(*bun.SelectQuery) *bun.SelectQuery) (*models.Registration, error) {
	var reg models.Registration
	q := d.Bun.NewSelect().
		Model(&reg).
		Where("registration.event_id = ?", eventID).
		Where("registration.user_id = ?", userID).
		Where("registration.is_deleted = ?", false)
	err := filter(q).
		OrderExpr("registration.registered_at DESC, registration.id DESC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &reg, nil
}

// GetRegistrationByID → fetch one registration
func (d *DB) GetRegistrationByID(ctx context.Context, id int64, includeDeleted bool) (*models.Registration, error) {
	var reg models.Registration
	q := d.Bun.NewSelect().
		Model(&reg).
		Where("registration.id = ?", id)
	err := notDeleted(q, "registration", includeDeleted).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &reg, nil
}

// GetRegistrationByTicketID → registration with its event
func (d *DB) GetRegistrationByTicketID(ctx context.Context, ticketID string) (*models.Registration, error) {
	var reg models.Registration
	err := d.Bun.NewSelect().
		Model(&reg).
		Relation("Event").
		Where("registration.ticket_id = ?", ticketID).
		Where("registration.is_deleted = ?", false).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &reg, nil
}

// ListRegistrationsByUser → newest first, with events
func (d *DB) ListRegistrationsByUser(ctx context.Context, userID string, includeDeleted bool) ([]models.Registration, error) {
	var regs []models.Registration
	q := d.Bun.NewSelect().
		Model(&regs).
		Relation("Event").
		Where("registration.user_id = ?", userID)
	err := notDeleted(q, "registration", includeDeleted).
		OrderExpr("registration.created_at DESC, registration.id DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return regs, nil
}

// CreateRegistration → insert; a second live row for (event, user) is database.ErrConflict
func (d *DB) CreateRegistration(ctx context.Context, reg *models.Registration) error {
	now := time.Now()
	if reg.RegisteredAt.IsZero() {
		reg.RegisteredAt = now
	}
	reg.CreatedAt = now
	reg.UpdatedAt = now
	_, err := d.Bun.NewInsert().Model(reg).Returning("id").Exec(ctx)
	return database.MapConflict(err)
}

// UpdateRegistration → write only the named columns plus updated_at
func (d *DB) UpdateRegistration(ctx context.Context, reg *models.Registration, columns ...string) error {
	if len(columns) == 0 {
		return nil
	}
	reg.UpdatedAt = time.Now()
	cols := append(append([]string{}, columns...), "updated_at")
	_, err := d.Bun.NewUpdate().
		Model(reg).
		Column(cols...).
		WherePK().
		Exec(ctx)
	return database.MapConflict(err)
}

// MarkConfirmationSent → set confirmation_email_sent_at once; false when already set
func (d *DB) MarkConfirmationSent(ctx context.Context, registrationID int64, at time.Time) (bool, error) {
	return d.markOnce(ctx, registrationID, "confirmation_email_sent_at", at)
}

// MarkCancellationSent → set cancellation_email_sent_at once; false when already set
func (d *DB) MarkCancellationSent(ctx context.Context, registrationID int64, at time.Time) (bool, error) {
	return d.markOnce(ctx, registrationID, "cancellation_email_sent_at", at)
}

func (d *DB) markOnce(ctx context.Context, registrationID int64, column string, at time.Time) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Table("registrations").
		Set("? = ?", bun.Ident(column), at).
		Where("id = ?", registrationID).
		Where("? IS NULL", bun.Ident(column)).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

package db

import (
	"context"

	"ms-registration/internal/models"

	"github.com/uptrace/bun"
)

type DB struct {
	Bun *bun.DB
}

// Recipient is one registration that should receive an announcement.
type Recipient struct {
	RegistrationID int64  `bun:"registration_id"`
	UserID         string `bun:"user_id"`
	Email          string `bun:"email"`
}

func (d *DB) GetEventByID(ctx context.Context, id int64) (*models.Event, error) {
	var event models.Event
	err := d.Bun.NewSelect().
		Model(&event).
		Where("id = ?", id).
		Where("is_deleted = ?", false).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (d *DB) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	err := d.Bun.NewSelect().
		Model(&user).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetRegistrationByID includes soft-deleted rows: a message queued before the
// delete still describes a real registration.
func (d *DB) GetRegistrationByID(ctx context.Context, id int64) (*models.Registration, error) {
	var reg models.Registration
	err := d.Bun.NewSelect().
		Model(&reg).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &reg, nil
}

// ListRecipients → live registrations of the event in statuses whose user has an email
func (d *DB) ListRecipients(ctx context.Context, eventID int64, statuses []models.RegistrationStatus) ([]Recipient, error) {
	var out []Recipient
	err := d.Bun.NewSelect().
		TableExpr("registrations AS r").
		Join("JOIN users AS u ON u.id = r.user_id").
		ColumnExpr("r.id AS registration_id").
		ColumnExpr("r.user_id").
		ColumnExpr("u.email").
		Where("r.event_id = ?", eventID).
		Where("r.is_deleted = ?", false).
		Where("r.status IN (?)", bun.In(statuses)).
		Where("u.email IS NOT NULL").
		Where("u.email <> ''").
		OrderExpr("r.id ASC").
		Scan(ctx, &out)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (d *DB) ListActiveDevices(ctx context.Context, userID string) ([]models.PushDevice, error) {
	var devices []models.PushDevice
	err := d.Bun.NewSelect().
		Model(&devices).
		Where("user_id = ?", userID).
		Where("is_active = ?", true).
		OrderExpr("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return devices, nil
}

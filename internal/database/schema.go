package database

import (
	"context"
	"fmt"

	"ms-registration/internal/models"

	"github.com/uptrace/bun"
)

// ActiveRegistrationIndex keeps at most one non-cancelled registration per
// (event, user).
const ActiveRegistrationIndex = "registrations_active_event_user_uidx"

// CreateSchema builds every table and index from the bun models. It is used
// against sqlite in tests and as a bootstrap for empty databases; production
// postgres goes through the SQL migrations.
func CreateSchema(ctx context.Context, db *bun.DB) error {
	tables := []interface{}{
		(*models.User)(nil),
		(*models.PushDevice)(nil),
		(*models.Event)(nil),
		(*models.DiscountCode)(nil),
		(*models.DiscountCodeEvent)(nil),
		(*models.Registration)(nil),
		(*models.Payment)(nil),
		(*models.NotificationLog)(nil),
	}
	for _, model := range tables {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table for %T: %w", model, err)
		}
	}

	if _, err := db.NewCreateIndex().
		Model((*models.Registration)(nil)).
		Index(ActiveRegistrationIndex).
		Unique().
		IfNotExists().
		Column("event_id", "user_id").
		Where("status <> 'cancelled' AND is_deleted = false").
		Exec(ctx); err != nil {
		return fmt.Errorf("create active registration index: %w", err)
	}

	if _, err := db.NewCreateIndex().
		Model((*models.NotificationLog)(nil)).
		Index("notification_logs_dispatch_key_uidx").
		Unique().
		IfNotExists().
		Column("event_id", "user_id", "kind", "context_hash").
		Exec(ctx); err != nil {
		return fmt.Errorf("create notification log index: %w", err)
	}

	if _, err := db.NewCreateIndex().
		Model((*models.Payment)(nil)).
		Index("payments_user_event_idx").
		IfNotExists().
		Column("user_id", "event_id").
		Exec(ctx); err != nil {
		return fmt.Errorf("create payment index: %w", err)
	}
	return nil
}

package db

import (
	"context"

	"ms-registration/internal/models"

	"github.com/uptrace/bun"
)

type DB struct {
	Bun *bun.DB
}

// ---------------- DISCOUNT CODES ----------------

// GetDiscountCodeByCode → fetch a code with its applicable event ids
func (d *DB) GetDiscountCodeByCode(ctx context.Context, code string) (*models.DiscountCode, error) {
	var dc models.DiscountCode
	err := d.Bun.NewSelect().
		Model(&dc).
		Where("code = ?", code).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	err = d.Bun.NewSelect().
		Model((*models.DiscountCodeEvent)(nil)).
		Column("event_id").
		Where("discount_code_id = ?", dc.ID).
		Order("event_id ASC").
		Scan(ctx, &dc.ApplicableEvents)
	if err != nil {
		return nil, err
	}
	return &dc, nil
}

// CreateDiscountCode → insert a code and its event restrictions
func (d *DB) CreateDiscountCode(ctx context.Context, dc *models.DiscountCode) error {
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(dc).Returning("id").Exec(ctx); err != nil {
			return err
		}
		if len(dc.ApplicableEvents) == 0 {
			return nil
		}
		links := make([]models.DiscountCodeEvent, 0, len(dc.ApplicableEvents))
		for _, eventID := range dc.ApplicableEvents {
			links = append(links, models.DiscountCodeEvent{DiscountCodeID: dc.ID, EventID: eventID})
		}
		_, err := tx.NewInsert().Model(&links).Exec(ctx)
		return err
	})
}

// ---------------- USAGE ----------------

// CountDiscountUsage → payments in paid or pending status referencing the code.
// An empty userID counts across all users.
func (d *DB) CountDiscountUsage(ctx context.Context, discountCodeID int64, userID string) (int, error) {
	q := d.Bun.NewSelect().
		Model((*models.Payment)(nil)).
		Where("discount_code_id = ?", discountCodeID).
		Where("status IN (?)", bun.In([]models.PaymentStatus{models.PaymentPaid, models.PaymentPending}))
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	return q.Count(ctx)
}

package main

import (
	"context"
	"fmt"
	"time"

	"ms-registration/internal/models"

	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
)

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Insert sample users, events and discount codes for local development",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger()
			_, db, err := openDB(cmd.Context(), log)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := seedData(cmd.Context(), db); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "✅ Done.")
			return nil
		},
	}
}

// seedData is idempotent: rows that already exist are left alone.
func seedData(ctx context.Context, db *bun.DB) error {
	now := time.Now()

	// Users
	users := []models.User{
		{ID: "user001", Email: "alice@example.com", FullName: "Alice Wonderland", IsEmailVerified: true, CreatedAt: now},
		{ID: "user002", Email: "bob@example.com", FullName: "Bob Builder", IsEmailVerified: true, CreatedAt: now},
	}
	if _, err := db.NewInsert().Model(&users).On("CONFLICT (id) DO NOTHING").Exec(ctx); err != nil {
		return fmt.Errorf("seed users: %w", err)
	}

	// Events: one free, one paid with a small capacity
	capacity := 50
	events := []models.Event{
		{
			Title:     "Go Meetup",
			Slug:      "go-meetup",
			StartTime: now.AddDate(0, 1, 0),
			EndTime:   now.AddDate(0, 1, 0).Add(3 * time.Hour),
			Status:    models.EventStatusPublished,
			CreatedAt: now,
			UpdatedAt: now,
		},
		{
			Title:     "Distributed Systems Workshop",
			Slug:      "distributed-systems-workshop",
			StartTime: now.AddDate(0, 2, 0),
			EndTime:   now.AddDate(0, 2, 1),
			Status:    models.EventStatusPublished,
			Capacity:  &capacity,
			Price:     500000,
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
	if _, err := db.NewInsert().Model(&events).On("CONFLICT (slug) DO NOTHING").Exec(ctx); err != nil {
		return fmt.Errorf("seed events: %w", err)
	}

	// Discount codes
	maxDiscount := int64(200000)
	codes := []models.DiscountCode{
		{Code: "WELCOME20", Type: models.DiscountPercent, Value: 20, MaxDiscount: &maxDiscount, IsActive: true, CreatedAt: now},
		{Code: "FULLRIDE", Type: models.DiscountPercent, Value: 100, IsActive: true, CreatedAt: now},
	}
	if _, err := db.NewInsert().Model(&codes).On("CONFLICT (code) DO NOTHING").Exec(ctx); err != nil {
		return fmt.Errorf("seed discount codes: %w", err)
	}
	return nil
}

package analytics

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"time"

	"ms-registration/internal/models"

	"github.com/uptrace/bun"
)

var ErrEventNotFound = errors.New("event not found")

// Service handles analytics operations
type Service struct {
	db *bun.DB
}

// NewService creates a new analytics service
func NewService(db *bun.DB) *Service {
	return &Service{db: db}
}

// EventAnalytics represents aggregated registration and revenue data for an event
type EventAnalytics struct {
	EventID              int64                             `json:"event_id"`
	Capacity             *int                              `json:"capacity"`
	Registrations        map[models.RegistrationStatus]int `json:"registrations"`
	PaidPayments         int                               `json:"paid_payments"`
	TotalRevenue         int64                             `json:"total_revenue"`
	TotalBeforeDiscounts int64                             `json:"total_before_discounts"`
	Daily                []DailyMetrics                    `json:"daily"`
	DiscountUsage        []DiscountUsage                   `json:"discount_usage"`
}

// DailyMetrics contains metrics for a single day
type DailyMetrics struct {
	Date          string `json:"date"`
	Registrations int    `json:"registrations"`
	Revenue       int64  `json:"revenue"`
}

// DiscountUsage counts confirmed registrations per discount code
type DiscountUsage struct {
	DiscountCode  string `json:"discount_code"`
	UsageCount    int    `json:"usage_count"`
	TotalDiscount int64  `json:"total_discount_amount"`
}

// GetEventAnalytics returns registration analytics for a specific event
func (s *Service) GetEventAnalytics(ctx context.Context, eventID int64) (*EventAnalytics, error) {
	var event models.Event
	err := s.db.NewSelect().
		Model(&event).
		Column("id", "capacity").
		Where("id = ?", eventID).
		Where("is_deleted = ?", false).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, err
	}

	out := &EventAnalytics{
		EventID:       eventID,
		Capacity:      event.Capacity,
		Registrations: map[models.RegistrationStatus]int{},
		Daily:         []DailyMetrics{},
		DiscountUsage: []DiscountUsage{},
	}
	days := map[string]*DailyMetrics{}
	day := func(t time.Time) *DailyMetrics {
		key := t.UTC().Format("2006-01-02")
		if days[key] == nil {
			days[key] = &DailyMetrics{Date: key}
		}
		return days[key]
	}

	// Registrations by status and by day
	var regs []models.Registration
	err = s.db.NewSelect().
		Model(&regs).
		Column("status", "registered_at").
		Where("event_id = ?", eventID).
		Where("is_deleted = ?", false).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	for _, r := range regs {
		out.Registrations[r.Status]++
		day(r.RegisteredAt).Registrations++
	}

	// Paid payments
	var payments []models.Payment
	err = s.db.NewSelect().
		Model(&payments).
		Column("amount", "base_amount", "verified_at", "created_at").
		Where("event_id = ?", eventID).
		Where("status = ?", models.PaymentPaid).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range payments {
		out.PaidPayments++
		out.TotalRevenue += p.Amount
		out.TotalBeforeDiscounts += p.BaseAmount
		at := p.CreatedAt
		if p.VerifiedAt != nil {
			at = *p.VerifiedAt
		}
		day(at).Revenue += p.Amount
	}

	for _, d := range days {
		out.Daily = append(out.Daily, *d)
	}
	sort.Slice(out.Daily, func(i, j int) bool { return out.Daily[i].Date < out.Daily[j].Date })

	// Discount usage
	err = s.db.NewSelect().
		TableExpr("registrations AS r").
		Join("JOIN discount_codes AS dc ON dc.id = r.discount_code_id").
		ColumnExpr("dc.code AS discount_code").
		ColumnExpr("COUNT(*) AS usage_count").
		ColumnExpr("COALESCE(SUM(r.discount_amount), 0) AS total_discount").
		Where("r.event_id = ?", eventID).
		Where("r.is_deleted = ?", false).
		Where("r.status IN (?)", bun.In([]models.RegistrationStatus{models.RegistrationConfirmed, models.RegistrationAttended})).
		GroupExpr("dc.code").
		OrderExpr("dc.code ASC").
		Scan(ctx, &out.DiscountUsage)
	if err != nil {
		return nil, err
	}
	return out, nil
}

package analytics_test

import (
	"context"
	"testing"
	"time"

	"ms-registration/internal/analytics"
	"ms-registration/internal/database/dbtest"
	"ms-registration/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

func insert(t *testing.T, db *bun.DB, model interface{}) {
	t.Helper()
	_, err := db.NewInsert().Model(model).Exec(context.Background())
	require.NoError(t, err)
}

func TestGetEventAnalytics(t *testing.T) {
	db := dbtest.New(t)
	ctx := context.Background()
	capacity := 10
	event := dbtest.SeedEvent(t, db, 1000, &capacity)
	other := dbtest.SeedEvent(t, db, 1000, nil)

	day1 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	day2 := day1.Add(24 * time.Hour)

	code := &models.DiscountCode{Code: "WELCOME20", Type: models.DiscountPercent, Value: 20, IsActive: true, CreatedAt: day1}
	_, err := db.NewInsert().Model(code).Returning("id").Exec(ctx)
	require.NoError(t, err)

	for _, id := range []string{"u1", "u2", "u3", "u4"} {
		dbtest.SeedUser(t, db, id)
	}

	regs := []models.Registration{
		{EventID: event.ID, UserID: "u1", Status: models.RegistrationConfirmed, TicketID: "t1", RegisteredAt: day1, DiscountCodeID: &code.ID, DiscountAmount: 200},
		{EventID: event.ID, UserID: "u2", Status: models.RegistrationAttended, TicketID: "t2", RegisteredAt: day1},
		{EventID: event.ID, UserID: "u3", Status: models.RegistrationPending, TicketID: "t3", RegisteredAt: day2, DiscountCodeID: &code.ID, DiscountAmount: 200},
		{EventID: event.ID, UserID: "u4", Status: models.RegistrationCancelled, TicketID: "t4", RegisteredAt: day2, IsDeleted: true},
		{EventID: other.ID, UserID: "u1", Status: models.RegistrationConfirmed, TicketID: "t5", RegisteredAt: day2},
	}
	for i := range regs {
		regs[i].CreatedAt, regs[i].UpdatedAt = day1, day1
		insert(t, db, &regs[i])
	}

	verified := day2.Add(time.Hour)
	payments := []models.Payment{
		{UserID: "u1", EventID: event.ID, BaseAmount: 1000, DiscountAmount: 200, Amount: 800, Status: models.PaymentPaid, CreatedAt: day1, VerifiedAt: &verified},
		{UserID: "u2", EventID: event.ID, BaseAmount: 1000, Amount: 1000, Status: models.PaymentPaid, CreatedAt: day1},
		{UserID: "u3", EventID: event.ID, BaseAmount: 1000, Amount: 1000, Status: models.PaymentFailed, CreatedAt: day2},
	}
	for i := range payments {
		payments[i].UpdatedAt = day1
		insert(t, db, &payments[i])
	}

	svc := analytics.NewService(db)
	got, err := svc.GetEventAnalytics(ctx, event.ID)
	require.NoError(t, err)

	assert.Equal(t, event.ID, got.EventID)
	assert.Equal(t, &capacity, got.Capacity)
	assert.Equal(t, map[models.RegistrationStatus]int{
		models.RegistrationConfirmed: 1,
		models.RegistrationAttended:  1,
		models.RegistrationPending:   1,
	}, got.Registrations)
	assert.Equal(t, 2, got.PaidPayments)
	assert.Equal(t, int64(1800), got.TotalRevenue)
	assert.Equal(t, int64(2000), got.TotalBeforeDiscounts)

	assert.Equal(t, []analytics.DailyMetrics{
		{Date: "2026-03-01", Registrations: 2, Revenue: 1000},
		{Date: "2026-03-02", Registrations: 1, Revenue: 800},
	}, got.Daily)

	// the pending registration does not count as a redemption
	assert.Equal(t, []analytics.DiscountUsage{
		{DiscountCode: "WELCOME20", UsageCount: 1, TotalDiscount: 200},
	}, got.DiscountUsage)
}

func TestGetEventAnalyticsEmptyAndMissing(t *testing.T) {
	db := dbtest.New(t)
	event := dbtest.SeedEvent(t, db, 0, nil)
	svc := analytics.NewService(db)

	got, err := svc.GetEventAnalytics(context.Background(), event.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Registrations)
	assert.Empty(t, got.Daily)
	assert.Empty(t, got.DiscountUsage)
	assert.Zero(t, got.TotalRevenue)

	_, err = svc.GetEventAnalytics(context.Background(), event.ID+100)
	assert.ErrorIs(t, err, analytics.ErrEventNotFound)
}

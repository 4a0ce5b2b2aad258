package discount

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"testing"
	"time"

	"ms-registration/internal/logger"
	"ms-registration/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) GetDiscountCodeByCode(ctx context.Context, code string) (*models.DiscountCode, error) {
	args := m.Called(ctx, code)
	dc, _ := args.Get(0).(*models.DiscountCode)
	return dc, args.Error(1)
}

func (m *MockStore) CountDiscountUsage(ctx context.Context, discountCodeID int64, userID string) (int, error) {
	args := m.Called(ctx, discountCodeID, userID)
	return args.Int(0), args.Error(1)
}

func newEngine(store Store, now time.Time) *Engine {
	e := NewEngine(store, logger.NewWithWriter("test", io.Discard))
	e.now = func() time.Time { return now }
	return e
}

func int64Ptr(v int64) *int64 { return &v }
func intPtr(v int) *int       { return &v }

func paidEvent(price int64) *models.Event {
	return &models.Event{ID: 7, Price: price}
}

func requireReason(t *testing.T, err error, reason string) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidDiscount), "expected invalid discount, got %v", err)
	var invalidErr *InvalidDiscountError
	require.True(t, errors.As(err, &invalidErr))
	assert.Equal(t, reason, invalidErr.Reason)
}

func TestCalculatePercentAndFixed(t *testing.T) {
	now := time.Now()
	store := new(MockStore)
	engine := newEngine(store, now)

	percent := &models.DiscountCode{ID: 1, Code: "HALF", Type: models.DiscountPercent, Value: 50, IsActive: true}
	final, off, err := engine.Calculate(context.Background(), percent, paidEvent(100000), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(50000), final)
	assert.Equal(t, int64(50000), off)

	fixed := &models.DiscountCode{ID: 2, Code: "FLAT", Type: models.DiscountFixed, Value: 30000, IsActive: true}
	final, off, err = engine.Calculate(context.Background(), fixed, paidEvent(100000), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(70000), final)
	assert.Equal(t, int64(30000), off)

	store.AssertNotCalled(t, "CountDiscountUsage", mock.Anything, mock.Anything, mock.Anything)
}

func TestCalculatePercentFloorsAndCaps(t *testing.T) {
	engine := newEngine(new(MockStore), time.Now())

	dc := &models.DiscountCode{Code: "THIRD", Type: models.DiscountPercent, Value: 33, IsActive: true}
	final, off, err := engine.Calculate(context.Background(), dc, paidEvent(100001), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(33000), off)
	assert.Equal(t, int64(67001), final)

	dc.MaxDiscount = int64Ptr(20000)
	final, off, err = engine.Calculate(context.Background(), dc, paidEvent(100001), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(20000), off)
	assert.Equal(t, int64(80001), final)
}

func TestCalculateFreeEventIgnoresCode(t *testing.T) {
	engine := newEngine(new(MockStore), time.Now())

	inactive := &models.DiscountCode{Code: "OFF", Type: models.DiscountPercent, Value: 10, IsActive: false}
	final, off, err := engine.Calculate(context.Background(), inactive, paidEvent(0), "u1")
	require.NoError(t, err)
	assert.Zero(t, final)
	assert.Zero(t, off)
}

func TestCalculateFullDiscountIsAllowed(t *testing.T) {
	engine := newEngine(new(MockStore), time.Now())

	dc := &models.DiscountCode{Code: "FREE", Type: models.DiscountFixed, Value: 500000, IsActive: true}
	final, off, err := engine.Calculate(context.Background(), dc, paidEvent(100000), "u1")
	require.NoError(t, err)
	assert.Zero(t, final)
	assert.Equal(t, int64(100000), off)
}

func TestCalculateRejections(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name   string
		code   models.DiscountCode
		price  int64
		reason string
	}{
		{
			name:   "inactive",
			code:   models.DiscountCode{Type: models.DiscountPercent, Value: 10},
			price:  100000,
			reason: "Invalid or inactive discount code.",
		},
		{
			name:   "not started",
			code:   models.DiscountCode{Type: models.DiscountPercent, Value: 10, IsActive: true, StartsAt: &future},
			price:  100000,
			reason: "Discount code is not active yet.",
		},
		{
			name:   "expired",
			code:   models.DiscountCode{Type: models.DiscountPercent, Value: 10, IsActive: true, EndsAt: &past},
			price:  100000,
			reason: "Discount code has expired.",
		},
		{
			name:   "other event",
			code:   models.DiscountCode{Type: models.DiscountPercent, Value: 10, IsActive: true, ApplicableEvents: []int64{99}},
			price:  100000,
			reason: "Discount code is not applicable to this event.",
		},
		{
			name:   "below minimum",
			code:   models.DiscountCode{Type: models.DiscountPercent, Value: 10, IsActive: true, MinAmount: int64Ptr(50000)},
			price:  40000,
			reason: "Order amount is below the minimum for this code.",
		},
		{
			name:   "sub minimum payable",
			code:   models.DiscountCode{Type: models.DiscountFixed, Value: 95000, IsActive: true},
			price:  100000,
			reason: "Final payable amount would be below 10000 with this discount.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := newEngine(new(MockStore), now)
			code := tt.code
			_, _, err := engine.Calculate(context.Background(), &code, paidEvent(tt.price), "u1")
			requireReason(t, err, tt.reason)
		})
	}
}

func TestCalculateFirstFailureWins(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	engine := newEngine(new(MockStore), time.Now())

	// inactive, expired and for another event at once: the active flag is checked first
	dc := &models.DiscountCode{Type: models.DiscountPercent, Value: 10, EndsAt: &past, ApplicableEvents: []int64{1}}
	_, _, err := engine.Calculate(context.Background(), dc, paidEvent(100000), "u1")
	requireReason(t, err, "Invalid or inactive discount code.")
}

func TestCalculateUsageLimits(t *testing.T) {
	ctx := context.Background()

	t.Run("total limit reached rejects any user", func(t *testing.T) {
		store := new(MockStore)
		store.On("CountDiscountUsage", ctx, int64(5), "").Return(3, nil)
		engine := newEngine(store, time.Now())

		dc := &models.DiscountCode{ID: 5, Type: models.DiscountPercent, Value: 10, IsActive: true, UsageLimitTotal: intPtr(3)}
		_, _, err := engine.Calculate(ctx, dc, paidEvent(100000), "someone-new")
		requireReason(t, err, "Discount code usage limit reached.")
		store.AssertExpectations(t)
	})

	t.Run("per user limit reached", func(t *testing.T) {
		store := new(MockStore)
		store.On("CountDiscountUsage", ctx, int64(5), "").Return(1, nil)
		store.On("CountDiscountUsage", ctx, int64(5), "u1").Return(1, nil)
		engine := newEngine(store, time.Now())

		dc := &models.DiscountCode{ID: 5, Type: models.DiscountPercent, Value: 10, IsActive: true,
			UsageLimitTotal: intPtr(10), UsageLimitPerUser: intPtr(1)}
		_, _, err := engine.Calculate(ctx, dc, paidEvent(100000), "u1")
		requireReason(t, err, "You have already used this discount code the maximum allowed times.")
		store.AssertExpectations(t)
	})

	t.Run("store failure is not a validation error", func(t *testing.T) {
		store := new(MockStore)
		store.On("CountDiscountUsage", ctx, int64(5), "").Return(0, errors.New("db down"))
		engine := newEngine(store, time.Now())

		dc := &models.DiscountCode{ID: 5, Type: models.DiscountPercent, Value: 10, IsActive: true, UsageLimitTotal: intPtr(3)}
		_, _, err := engine.Calculate(ctx, dc, paidEvent(100000), "u1")
		require.Error(t, err)
		assert.False(t, errors.Is(err, ErrInvalidDiscount))
	})
}

func TestLookupUnknownCode(t *testing.T) {
	ctx := context.Background()
	store := new(MockStore)
	store.On("GetDiscountCodeByCode", ctx, "NOPE").Return(nil, sql.ErrNoRows)
	engine := newEngine(store, time.Now())

	_, err := engine.Apply(ctx, "NOPE", paidEvent(100000), "u1")
	requireReason(t, err, "Invalid or inactive discount code.")
}

func TestApply(t *testing.T) {
	ctx := context.Background()
	store := new(MockStore)
	dc := &models.DiscountCode{ID: 3, Code: "HALF", Type: models.DiscountPercent, Value: 50, IsActive: true}
	store.On("GetDiscountCodeByCode", ctx, "HALF").Return(dc, nil)
	engine := newEngine(store, time.Now())

	result, err := engine.Apply(ctx, "HALF", paidEvent(100000), "u1")
	require.NoError(t, err)
	assert.Equal(t, dc, result.Code)
	assert.Equal(t, int64(50000), result.FinalPrice)
	assert.Equal(t, int64(50000), result.DiscountAmount)
}

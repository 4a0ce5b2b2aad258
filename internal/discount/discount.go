package discount

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ms-registration/internal/logger"
	"ms-registration/internal/models"
)

// MinPayableAmount is the smallest positive amount the gateway accepts.
const MinPayableAmount int64 = 10000

var ErrInvalidDiscount = errors.New("invalid discount")

// InvalidDiscountError carries the human readable reason a code was rejected.
// It matches ErrInvalidDiscount with errors.Is.
type InvalidDiscountError struct {
	Reason string
}

func (e *InvalidDiscountError) Error() string {
	return e.Reason
}

func (e *InvalidDiscountError) Is(target error) bool {
	return target == ErrInvalidDiscount
}

func invalid(format string, args ...interface{}) error {
	return &InvalidDiscountError{Reason: fmt.Sprintf(format, args...)}
}

// Store is the read side the engine needs. Usage counts cover payments in
// paid or pending status; an empty userID counts every user.
type Store interface {
	GetDiscountCodeByCode(ctx context.Context, code string) (*models.DiscountCode, error)
	CountDiscountUsage(ctx context.Context, discountCodeID int64, userID string) (int, error)
}

type Engine struct {
	store  Store
	logger *logger.Logger
	now    func() time.Time
}

func NewEngine(store Store, log *logger.Logger) *Engine {
	return &Engine{
		store:  store,
		logger: log,
		now:    time.Now,
	}
}

// Result is a priced discount ready to be attached to a registration or payment.
type Result struct {
	Code           *models.DiscountCode
	FinalPrice     int64
	DiscountAmount int64
}

// Lookup resolves a code string. Unknown codes are invalid discounts.
func (e *Engine) Lookup(ctx context.Context, code string) (*models.DiscountCode, error) {
	if code == "" {
		return nil, invalid("Discount code is empty.")
	}
	dc, err := e.store.GetDiscountCodeByCode(ctx, code)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && dc == nil) {
		e.logger.Warn("DISCOUNT", fmt.Sprintf("Unknown discount code %q", code))
		return nil, invalid("Invalid or inactive discount code.")
	}
	if err != nil {
		return nil, fmt.Errorf("lookup discount code: %w", err)
	}
	return dc, nil
}

// Apply looks the code up and prices it against event for userID.
func (e *Engine) Apply(ctx context.Context, code string, event *models.Event, userID string) (*Result, error) {
	dc, err := e.Lookup(ctx, code)
	if err != nil {
		return nil, err
	}
	finalPrice, discountAmount, err := e.Calculate(ctx, dc, event, userID)
	if err != nil {
		return nil, err
	}
	return &Result{Code: dc, FinalPrice: finalPrice, DiscountAmount: discountAmount}, nil
}

// Calculate validates dc against event and userID and returns the final price
// and the discount amount. Checks run in a fixed order and the first failure
// is returned.
func (e *Engine) Calculate(ctx context.Context, dc *models.DiscountCode, event *models.Event, userID string) (int64, int64, error) {
	// Step 1: free events ignore codes entirely
	if event.IsFree() {
		return 0, 0, nil
	}

	// Step 2: active flag
	if !dc.IsActive {
		return 0, 0, invalid("Invalid or inactive discount code.")
	}

	// Step 3: active window
	now := e.now()
	if dc.StartsAt != nil && now.Before(*dc.StartsAt) {
		return 0, 0, invalid("Discount code is not active yet.")
	}
	if dc.EndsAt != nil && now.After(*dc.EndsAt) {
		return 0, 0, invalid("Discount code has expired.")
	}

	// Step 4: event restriction
	if len(dc.ApplicableEvents) > 0 && !containsEvent(dc.ApplicableEvents, event.ID) {
		return 0, 0, invalid("Discount code is not applicable to this event.")
	}

	// Step 5: minimum amount
	if dc.MinAmount != nil && event.Price < *dc.MinAmount {
		return 0, 0, invalid("Order amount is below the minimum for this code.")
	}

	// Step 6 and 7: usage limits over paid and pending payments
	if dc.UsageLimitTotal != nil {
		used, err := e.store.CountDiscountUsage(ctx, dc.ID, "")
		if err != nil {
			return 0, 0, fmt.Errorf("count discount usage: %w", err)
		}
		if used >= *dc.UsageLimitTotal {
			return 0, 0, invalid("Discount code usage limit reached.")
		}
	}
	if dc.UsageLimitPerUser != nil {
		used, err := e.store.CountDiscountUsage(ctx, dc.ID, userID)
		if err != nil {
			return 0, 0, fmt.Errorf("count discount usage for user: %w", err)
		}
		if used >= *dc.UsageLimitPerUser {
			return 0, 0, invalid("You have already used this discount code the maximum allowed times.")
		}
	}

	discountAmount := amountOff(dc, event.Price)
	finalPrice := event.Price - discountAmount
	if finalPrice < 0 {
		finalPrice = 0
	}
	if finalPrice > 0 && finalPrice < MinPayableAmount {
		return 0, 0, invalid("Final payable amount would be below %d with this discount.", MinPayableAmount)
	}

	e.logger.Debug("DISCOUNT", fmt.Sprintf("Code %s on event %d: price=%d discount=%d final=%d",
		dc.Code, event.ID, event.Price, discountAmount, finalPrice))
	return finalPrice, discountAmount, nil
}

func amountOff(dc *models.DiscountCode, price int64) int64 {
	if dc.Type == models.DiscountFixed {
		if dc.Value < price {
			return dc.Value
		}
		return price
	}

	off := price * dc.Value / 100
	if dc.MaxDiscount != nil && *dc.MaxDiscount > 0 && off > *dc.MaxDiscount {
		off = *dc.MaxDiscount
	}
	return off
}

func containsEvent(ids []int64, id int64) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}

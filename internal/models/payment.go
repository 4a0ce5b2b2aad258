package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
)

type PaymentStatus string

const (
	PaymentInitiated PaymentStatus = "initiated"
	PaymentPending   PaymentStatus = "pending"
	PaymentPaid      PaymentStatus = "paid"
	PaymentFailed    PaymentStatus = "failed"
	PaymentCanceled  PaymentStatus = "canceled"
)

// IsTerminal reports whether the gateway leg of the payment is over.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentPaid || s == PaymentFailed || s == PaymentCanceled
}

// ErrAmountMismatch is an integrity violation, never a user error.
var ErrAmountMismatch = errors.New("amount + discount_amount must equal base_amount")

type Payment struct {
	bun.BaseModel `bun:"table:payments"`

	ID             int64         `bun:"id,pk,autoincrement" json:"id"`
	UserID         string        `bun:"user_id,notnull" json:"user_id"`
	EventID        int64         `bun:"event_id,notnull" json:"event_id"`
	RegistrationID *int64        `bun:"registration_id" json:"registration_id,omitempty"`
	BaseAmount     int64         `bun:"base_amount,notnull" json:"base_amount"`
	DiscountCodeID *int64        `bun:"discount_code_id" json:"discount_code_id,omitempty"`
	DiscountAmount int64         `bun:"discount_amount,notnull,default:0" json:"discount_amount"`
	Amount         int64         `bun:"amount,notnull" json:"amount"`
	Authority      *string       `bun:"authority,unique" json:"authority,omitempty"`
	Status         PaymentStatus `bun:"status,notnull,default:'initiated'" json:"status"`
	RefID          string        `bun:"ref_id,nullzero" json:"ref_id,omitempty"`
	CardPan        string        `bun:"card_pan,nullzero" json:"card_pan,omitempty"`
	CardHash       string        `bun:"card_hash,nullzero" json:"-"`
	VerifiedAt     *time.Time    `bun:"verified_at" json:"verified_at,omitempty"`
	CreatedAt      time.Time     `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt      time.Time     `bun:"updated_at,notnull,default:current_timestamp" json:"updated_at"`

	Event *Event `bun:"rel:belongs-to,join:event_id=id" json:"-"`
}

// Validate checks the amount snapshot invariant.
func (p *Payment) Validate() error {
	if p.BaseAmount < 0 || p.Amount < 0 || p.DiscountAmount < 0 {
		return fmt.Errorf("%w: negative amount in payment %d", ErrAmountMismatch, p.ID)
	}
	if p.Amount+p.DiscountAmount != p.BaseAmount {
		return fmt.Errorf("%w: %d + %d != %d", ErrAmountMismatch, p.Amount, p.DiscountAmount, p.BaseAmount)
	}
	return nil
}

var _ bun.BeforeAppendModelHook = (*Payment)(nil)

// BeforeAppendModel enforces the amount invariant on every insert and update.
func (p *Payment) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	if p == nil {
		return nil
	}
	switch query.(type) {
	case *bun.InsertQuery:
		if p.CreatedAt.IsZero() {
			p.CreatedAt = time.Now()
		}
		p.UpdatedAt = time.Now()
		return p.Validate()
	case *bun.UpdateQuery:
		p.UpdatedAt = time.Now()
		return p.Validate()
	}
	return nil
}

type CreatePaymentRequest struct {
	EventID      int64  `json:"event_id"`
	DiscountCode string `json:"discount_code,omitempty"`
	Description  string `json:"description,omitempty"`
	Mobile       string `json:"mobile,omitempty"`
	Email        string `json:"email,omitempty"`
}

type CreatePaymentResponse struct {
	StartPayURL    *string `json:"start_pay_url"`
	Authority      *string `json:"authority"`
	BaseAmount     int64   `json:"base_amount"`
	DiscountAmount int64   `json:"discount_amount"`
	Amount         int64   `json:"amount"`
}

type PaymentDetail struct {
	RefID          string        `json:"ref_id"`
	Authority      string        `json:"authority"`
	BaseAmount     int64         `json:"base_amount"`
	DiscountAmount int64         `json:"discount_amount"`
	Amount         int64         `json:"amount"`
	Status         PaymentStatus `json:"status"`
	VerifiedAt     *time.Time    `json:"verified_at"`
	Event          EventBrief    `json:"event"`
}

type CouponCheckRequest struct {
	EventID int64  `json:"event_id"`
	Code    string `json:"code"`
}

type CouponCheckResponse struct {
	DiscountAmount int64 `json:"discount_amount"`
	FinalPrice     int64 `json:"final_price"`
}

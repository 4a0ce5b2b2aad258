package models

import (
	"time"

	"github.com/uptrace/bun"
)

type DiscountType string

const (
	DiscountPercent DiscountType = "percent"
	DiscountFixed   DiscountType = "fixed"
)

type DiscountCode struct {
	bun.BaseModel `bun:"table:discount_codes"`

	ID                int64        `bun:"id,pk,autoincrement" json:"id"`
	Code              string       `bun:"code,unique,notnull" json:"code"`
	Type              DiscountType `bun:"type,notnull,default:'percent'" json:"type"`
	Value             int64        `bun:"value,notnull" json:"value"`
	MaxDiscount       *int64       `bun:"max_discount" json:"max_discount,omitempty"`
	IsActive          bool         `bun:"is_active,notnull,default:true" json:"is_active"`
	StartsAt          *time.Time   `bun:"starts_at" json:"starts_at,omitempty"`
	EndsAt            *time.Time   `bun:"ends_at" json:"ends_at,omitempty"`
	UsageLimitTotal   *int         `bun:"usage_limit_total" json:"usage_limit_total,omitempty"`
	UsageLimitPerUser *int         `bun:"usage_limit_per_user" json:"usage_limit_per_user,omitempty"`
	MinAmount         *int64       `bun:"min_amount" json:"min_amount,omitempty"`
	CreatedAt         time.Time    `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`

	// ApplicableEvents is loaded from discount_code_events; empty means every event.
	ApplicableEvents []int64 `bun:"-" json:"applicable_events"`
}

type DiscountCodeEvent struct {
	bun.BaseModel `bun:"table:discount_code_events"`

	DiscountCodeID int64 `bun:"discount_code_id,pk"`
	EventID        int64 `bun:"event_id,pk"`
}

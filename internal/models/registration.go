package models

import (
	"time"

	"github.com/uptrace/bun"
)

type RegistrationStatus string

const (
	RegistrationPending   RegistrationStatus = "pending"
	RegistrationConfirmed RegistrationStatus = "confirmed"
	RegistrationCancelled RegistrationStatus = "cancelled"
	RegistrationAttended  RegistrationStatus = "attended"
)

func (s RegistrationStatus) Valid() bool {
	switch s {
	case RegistrationPending, RegistrationConfirmed, RegistrationCancelled, RegistrationAttended:
		return true
	}
	return false
}

// IsActive reports whether the status holds the (event, user) slot.
func (s RegistrationStatus) IsActive() bool {
	return s != RegistrationCancelled
}

type Registration struct {
	bun.BaseModel `bun:"table:registrations"`

	ID                      int64              `bun:"id,pk,autoincrement" json:"id"`
	EventID                 int64              `bun:"event_id,notnull" json:"event_id"`
	UserID                  string             `bun:"user_id,notnull" json:"user_id"`
	Status                  RegistrationStatus `bun:"status,notnull,default:'pending'" json:"status"`
	TicketID                string             `bun:"ticket_id,unique,notnull" json:"ticket_id"`
	RegisteredAt            time.Time          `bun:"registered_at,notnull,default:current_timestamp" json:"registered_at"`
	ConfirmationEmailSentAt *time.Time         `bun:"confirmation_email_sent_at" json:"-"`
	CancellationEmailSentAt *time.Time         `bun:"cancellation_email_sent_at" json:"-"`
	DiscountCodeID          *int64             `bun:"discount_code_id" json:"discount_code_id,omitempty"`
	DiscountAmount          int64              `bun:"discount_amount,notnull,default:0" json:"discount_amount"`
	FinalPrice              *int64             `bun:"final_price" json:"final_price"`
	CreatedAt               time.Time          `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt               time.Time          `bun:"updated_at,notnull,default:current_timestamp" json:"updated_at"`
	IsDeleted               bool               `bun:"is_deleted,notnull,default:false" json:"-"`
	DeletedAt               *time.Time         `bun:"deleted_at" json:"-"`

	Event *Event `bun:"rel:belongs-to,join:event_id=id" json:"event,omitempty"`
}

// Price returns the final price, or fallback when it has not been computed yet.
func (r *Registration) Price(fallback int64) int64 {
	if r.FinalPrice == nil {
		return fallback
	}
	return *r.FinalPrice
}

type RegistrationRequest struct {
	DiscountCode string `json:"discount_code"`
}

type RegistrationStatusUpdate struct {
	Status RegistrationStatus `json:"status"`
}

type EventBrief struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Slug      string    `json:"slug"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
	Price     int64     `json:"price"`
}

type MyRegistration struct {
	ID        int64              `json:"id"`
	TicketID  string             `json:"ticket_id"`
	Status    RegistrationStatus `json:"status"`
	CreatedAt time.Time          `json:"created_at"`
	Event     EventBrief         `json:"event"`
}

type TicketDetail struct {
	TicketID        string             `json:"ticket_id"`
	Status          RegistrationStatus `json:"status"`
	RegisteredAt    time.Time          `json:"registered_at"`
	EventID         int64              `json:"event_id"`
	EventTitle      string             `json:"event_title"`
	SuccessMarkdown string             `json:"success_markdown,omitempty"`
}

package models

import (
	"time"

	"github.com/uptrace/bun"
)

type EventStatus string

const (
	EventStatusDraft     EventStatus = "draft"
	EventStatusPublished EventStatus = "published"
	EventStatusCancelled EventStatus = "cancelled"
	EventStatusCompleted EventStatus = "completed"
)

type Event struct {
	bun.BaseModel `bun:"table:events"`

	ID                    int64       `bun:"id,pk,autoincrement" json:"id"`
	Title                 string      `bun:"title,notnull" json:"title"`
	Slug                  string      `bun:"slug,unique,notnull" json:"slug"`
	StartTime             time.Time   `bun:"start_time,notnull" json:"start_time"`
	EndTime               time.Time   `bun:"end_time,notnull" json:"end_time"`
	Status                EventStatus `bun:"status,notnull,default:'draft'" json:"status"`
	Capacity              *int        `bun:"capacity" json:"capacity"`
	Price                 int64       `bun:"price,notnull,default:0" json:"price"`
	RegistrationStartDate *time.Time  `bun:"registration_start_date" json:"registration_start_date,omitempty"`
	RegistrationEndDate   *time.Time  `bun:"registration_end_date" json:"registration_end_date,omitempty"`
	OnlineLink            string      `bun:"online_link,nullzero" json:"-"`
	SuccessMarkdown       string      `bun:"registration_success_markdown,nullzero" json:"success_markdown,omitempty"`
	CreatedAt             time.Time   `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt             time.Time   `bun:"updated_at,notnull,default:current_timestamp" json:"updated_at"`
	IsDeleted             bool        `bun:"is_deleted,notnull,default:false" json:"-"`
	DeletedAt             *time.Time  `bun:"deleted_at" json:"-"`
}

// IsFree reports whether registering for the event never involves a payment.
func (e *Event) IsFree() bool {
	return e.Price <= 0
}

// RegistrationNotYetOpen reports whether now precedes the optional window start.
func (e *Event) RegistrationNotYetOpen(now time.Time) bool {
	return e.RegistrationStartDate != nil && now.Before(*e.RegistrationStartDate)
}

// RegistrationEnded reports whether now is past the optional window end.
func (e *Event) RegistrationEnded(now time.Time) bool {
	return e.RegistrationEndDate != nil && now.After(*e.RegistrationEndDate)
}

// HasAvailableSlots reports whether another attendee fits, given the number of
// confirmed and attended registrations. A nil capacity means unlimited.
func (e *Event) HasAvailableSlots(attendees int) bool {
	if e.Capacity == nil {
		return true
	}
	return attendees < *e.Capacity
}
